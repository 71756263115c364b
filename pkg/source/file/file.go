// Package file loads raw samples from a YAML document.
//
// Format:
//
//	samples:
//	  - type: sleep
//	    start: 2026-10-12T23:00:00Z
//	    end: 2026-10-13T07:00:00Z
//	  - type: workout
//	    activity: PreparationAndRecovery
//	    start: 2026-10-13T12:00:00Z
//	    end: 2026-10-13T12:30:00Z
//	    metadata:
//	      Meal Type: Lunch
package file

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/source"
)

type document struct {
	Samples []sampleDoc `yaml:"samples"`
}

type sampleDoc struct {
	ID       string            `yaml:"id"`
	Type     string            `yaml:"type"`
	Start    string            `yaml:"start"`
	End      string            `yaml:"end"`
	Category string            `yaml:"category"`
	Activity string            `yaml:"activity"`
	Metadata map[string]string `yaml:"metadata"`
}

// Load reads samples from a YAML file
func Load(path string) ([]source.RawSample, error) {
	samples, _, err := LoadVersioned(path)
	return samples, err
}

// LoadVersioned reads samples from a YAML file and also returns a version
// that changes whenever the file content does.
func LoadVersioned(path string) ([]source.RawSample, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open sample file: %w", err)
	}

	samples, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	return samples, Version(data), nil
}

// Version identifies a sample document by its content
func Version(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Parse decodes and validates samples from a YAML stream
func Parse(r io.Reader) ([]source.RawSample, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode sample file: %w", err)
	}

	samples := make([]source.RawSample, 0, len(doc.Samples))
	for i, d := range doc.Samples {
		sample, err := d.toSample()
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func (d sampleDoc) toSample() (source.RawSample, error) {
	sample := source.RawSample{
		Type:         source.SampleType(d.Type),
		Category:     d.Category,
		ActivityType: d.Activity,
		Metadata:     d.Metadata,
	}

	if d.ID != "" {
		id, err := uuid.Parse(d.ID)
		if err != nil {
			return sample, fmt.Errorf("invalid id %q: %w", d.ID, err)
		}
		sample.ID = id
	}

	var err error
	if sample.Start, err = time.Parse(time.RFC3339, d.Start); err != nil {
		return sample, fmt.Errorf("invalid start: %w", err)
	}
	if sample.End, err = time.Parse(time.RFC3339, d.End); err != nil {
		return sample, fmt.Errorf("invalid end: %w", err)
	}

	return sample, sample.Validate()
}
