package ingest

import (
	"fmt"
	"time"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/config"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/source"
)

// Sample validation limits
const (
	MaxSamplesPerRequest = config.MaxSamplesPerRequest
	MaxSampleDuration    = 7 * 24 * time.Hour // Longest plausible single sample
	MaxMetadataEntries   = 32
	MaxMetadataKeyLength = 256
	MaxMetadataValLength = 1024
	MaxRequestBytes      = 8 << 20
)

var (
	// ErrTooManySamples is returned when an ingest request carries too many samples
	ErrTooManySamples = fmt.Errorf("too many samples in request (max %d)", MaxSamplesPerRequest)

	// ErrSampleTooLong is returned when a sample spans more than MaxSampleDuration
	ErrSampleTooLong = fmt.Errorf("sample too long (max %s)", MaxSampleDuration)

	// ErrTooMuchMetadata is returned when a sample has too many metadata entries
	ErrTooMuchMetadata = fmt.Errorf("too many metadata entries (max %d)", MaxMetadataEntries)

	// ErrMetadataTooLong is returned when a metadata key or value is too long
	ErrMetadataTooLong = fmt.Errorf("metadata entry too long (max %d key, %d value chars)", MaxMetadataKeyLength, MaxMetadataValLength)
)

// ValidateSample checks a sample against the source contract and ingest limits
func ValidateSample(s source.RawSample) error {
	if err := s.Validate(); err != nil {
		return err
	}

	if d := s.End.Sub(s.Start); d > MaxSampleDuration {
		return fmt.Errorf("%w: %s sample spans %s", ErrSampleTooLong, s.Type, d)
	}

	if len(s.Metadata) > MaxMetadataEntries {
		return fmt.Errorf("%w: %s sample has %d", ErrTooMuchMetadata, s.Type, len(s.Metadata))
	}
	for k, v := range s.Metadata {
		if len(k) > MaxMetadataKeyLength || len(v) > MaxMetadataValLength {
			return fmt.Errorf("%w: key %q", ErrMetadataTooLong, k)
		}
	}

	return nil
}
