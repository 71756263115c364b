package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/circadian"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/source"
)

var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type fakeSource struct {
	samples []source.RawSample
	err     error
}

func (f fakeSource) Timeline(_ context.Context, start, end time.Time, truncate bool) (circadian.Timeline, error) {
	if f.err != nil {
		return circadian.Timeline{}, f.err
	}
	return circadian.Reconstruct([][]circadian.Endpoint{circadian.ToEndpoints(f.samples)}, start, end, truncate)
}

func lunchDay() fakeSource {
	return fakeSource{samples: []source.RawSample{
		{Type: source.SampleTypeSleep, Start: day, End: day.Add(7 * time.Hour)},
		{
			Type:         source.SampleTypeWorkout,
			Start:        day.Add(12 * time.Hour),
			End:          day.Add(12*time.Hour + 30*time.Minute),
			ActivityType: source.ActivityPreparationAndRecovery,
			Metadata:     map[string]string{source.MetadataMealType: "Lunch"},
		},
	}}
}

func opts() ExportOptions {
	return ExportOptions{Start: day, End: day.Add(24 * time.Hour), Truncate: true}
}

func TestExportToCSV(t *testing.T) {
	var buf bytes.Buffer
	result, err := NewExporter(lunchDay()).ExportToCSV(context.Background(), &buf, opts())
	require.NoError(t, err)
	require.Equal(t, 4, result.IntervalsExported)
	require.Equal(t, FormatCSV, result.Format)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)
	require.Equal(t, CSVHeader, records[0])
	require.Equal(t, []string{"2024-03-01T00:00:00Z", "2024-03-01T07:00:00Z", "sleep", "", "", "25200"}, records[1])
	require.Equal(t, "fast", records[2][2])
	require.Equal(t, []string{"meal", "Lunch"}, records[3][2:4])
}

func TestExportToJSON(t *testing.T) {
	var buf bytes.Buffer
	result, err := NewExporter(lunchDay()).ExportToJSON(context.Background(), &buf, opts())
	require.NoError(t, err)
	require.Equal(t, 4, result.IntervalsExported)

	var doc struct {
		Metadata struct {
			IntervalCount int  `json:"interval_count"`
			Truncated     bool `json:"truncated"`
		} `json:"metadata"`
		Intervals []Row `json:"intervals"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.Equal(t, 4, doc.Metadata.IntervalCount)
	require.True(t, doc.Metadata.Truncated)
	require.Equal(t, circadian.Meal, doc.Intervals[2].Kind)
	require.Equal(t, 1800.0, doc.Intervals[2].Seconds)
}

func TestExport_Location(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	o := opts()
	o.Location = loc

	var buf bytes.Buffer
	_, err := NewExporter(lunchDay()).ExportToCSV(context.Background(), &buf, o)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "2024-03-01T02:00:00+02:00")
}

func TestExport_EmptyWindow(t *testing.T) {
	var buf bytes.Buffer
	result, err := NewExporter(fakeSource{}).ExportToCSV(context.Background(), &buf, opts())
	require.NoError(t, err)
	require.Zero(t, result.IntervalsExported)
	require.Equal(t, strings.Join(CSVHeader, ",")+"\n", buf.String())
}

func TestExport_SourceError(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewExporter(fakeSource{err: source.ErrSourceUnavailable}).ExportToJSON(context.Background(), &buf, opts())
	require.ErrorIs(t, err, source.ErrSourceUnavailable)
}

func TestHandleExport(t *testing.T) {
	h := NewHandler(lunchDay(), time.UTC)
	h.exporter.now = func() time.Time { return day.Add(24 * time.Hour) }

	req := httptest.NewRequest(http.MethodGet, "/v1/timeline/export?format=csv", nil)
	w := httptest.NewRecorder()
	h.HandleExport(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	require.Equal(t, "attachment; filename=timeline-20240302-000000.csv", w.Header().Get("Content-Disposition"))
	require.Contains(t, w.Body.String(), "meal,Lunch")
}

func TestHandleExport_BadRequests(t *testing.T) {
	h := NewHandler(lunchDay(), time.UTC)

	for _, q := range []string{
		"format=xml",
		"start=not-a-time",
		"start=2024-03-02T00:00:00Z&end=2024-03-01T00:00:00Z",
		"start=2020-01-01T00:00:00Z&end=2024-03-01T00:00:00Z",
		"truncate=perhaps",
	} {
		w := httptest.NewRecorder()
		h.HandleExport(w, httptest.NewRequest(http.MethodGet, "/v1/timeline/export?"+q, nil))
		require.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestHandleExport_Failure(t *testing.T) {
	h := NewHandler(fakeSource{err: errors.New("boom")}, time.UTC)

	w := httptest.NewRecorder()
	h.HandleExport(w, httptest.NewRequest(http.MethodGet, "/v1/timeline/export", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Empty(t, w.Header().Get("Content-Disposition"))
}
