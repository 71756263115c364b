//go:build !unix

package monitor

import "os"

// diskUsage falls back to the logical size
func diskUsage(info os.FileInfo) int64 {
	return info.Size()
}
