package file

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/source"
)

const sampleYAML = `
samples:
  - type: sleep
    start: 2026-10-12T23:00:00Z
    end: 2026-10-13T07:00:00Z
  - id: 7f1c1b8e-8d4e-4a43-9a39-0c6f2b1a5e11
    type: workout
    activity: PreparationAndRecovery
    start: 2026-10-13T12:00:00Z
    end: 2026-10-13T12:30:00Z
    metadata:
      Meal Type: Lunch
`

func TestParse(t *testing.T) {
	samples, err := Parse(strings.NewReader(sampleYAML))
	require.NoError(t, err)
	require.Len(t, samples, 2)

	require.Equal(t, source.SampleTypeSleep, samples[0].Type)
	require.Equal(t, 8*time.Hour, samples[0].End.Sub(samples[0].Start))

	meal := samples[1]
	require.Equal(t, "7f1c1b8e-8d4e-4a43-9a39-0c6f2b1a5e11", meal.ID.String())
	require.Equal(t, source.ActivityPreparationAndRecovery, meal.ActivityType)
	require.Equal(t, "Lunch", meal.Metadata[source.MetadataMealType])
}

func TestParse_Empty(t *testing.T) {
	samples, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, samples)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad start": "samples:\n  - type: sleep\n    start: yesterday\n    end: 2026-10-13T07:00:00Z\n",
		"reversed":  "samples:\n  - type: sleep\n    start: 2026-10-13T07:00:00Z\n    end: 2026-10-12T07:00:00Z\n",
		"bad type":  "samples:\n  - type: steps\n    start: 2026-10-12T07:00:00Z\n    end: 2026-10-13T07:00:00Z\n",
		"bad id":    "samples:\n  - id: nope\n    type: sleep\n    start: 2026-10-12T07:00:00Z\n    end: 2026-10-13T07:00:00Z\n",
		"not yaml":  "samples: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	samples, err := Load(path)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadVersioned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	_, v1, err := LoadVersioned(path)
	require.NoError(t, err)
	_, again, err := LoadVersioned(path)
	require.NoError(t, err)
	require.Equal(t, v1, again)

	edited := strings.Replace(sampleYAML, "12:30:00Z", "12:45:00Z", 1)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))
	_, v2, err := LoadVersioned(path)
	require.NoError(t, err)
	require.NotEqual(t, v1, v2)
}
