//go:build unix

package monitor

import (
	"os"
	"syscall"
)

// diskUsage returns allocated blocks so sparse value logs count correctly
func diskUsage(info os.FileInfo) int64 {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.Size()
	}
	// Blocks are 512 bytes on Unix systems
	return stat.Blocks * 512
}
