// Package export writes reconstructed timelines as JSON or CSV downloads.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/circadian"
)

// Formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// TimelineSource reconstructs timelines
type TimelineSource interface {
	Timeline(ctx context.Context, start, end time.Time, truncate bool) (circadian.Timeline, error)
}

// Exporter handles exporting timelines to various formats
type Exporter struct {
	source TimelineSource
	now    func() time.Time
}

// NewExporter creates a new exporter
func NewExporter(src TimelineSource) *Exporter {
	return &Exporter{source: src, now: time.Now}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	Start    time.Time
	End      time.Time
	Truncate bool

	// Location renders timestamps (nil = as reconstructed)
	Location *time.Location
}

// ExportResult contains stats about the export
type ExportResult struct {
	IntervalsExported int       `json:"intervals_exported"`
	TimeRange         string    `json:"time_range"`
	Format            string    `json:"format"`
	ExportedAt        time.Time `json:"exported_at"`
}

// Row is one exported interval
type Row struct {
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	Kind         circadian.Tag `json:"kind"`
	MealType     string        `json:"meal_type,omitempty"`
	ActivityType string        `json:"activity_type,omitempty"`
	Seconds      float64       `json:"seconds"`
}

// rows reconstructs the window and flattens it. An empty window exports
// no rows rather than failing.
func (e *Exporter) rows(ctx context.Context, opts ExportOptions) ([]Row, error) {
	tl, err := e.source.Timeline(ctx, opts.Start, opts.End, opts.Truncate)
	if err != nil && !errors.Is(err, circadian.ErrEmptyInput) {
		return nil, fmt.Errorf("failed to reconstruct timeline: %w", err)
	}

	intervals := tl.Intervals()
	out := make([]Row, 0, len(intervals))
	for _, iv := range intervals {
		start, end := iv.Start, iv.End
		if opts.Location != nil {
			start, end = start.In(opts.Location), end.In(opts.Location)
		}
		out = append(out, Row{
			Start:        start,
			End:          end,
			Kind:         iv.Kind.Tag,
			MealType:     iv.Kind.MealType,
			ActivityType: iv.Kind.ActivityType,
			Seconds:      iv.Duration().Seconds(),
		})
	}
	return out, nil
}

func (e *Exporter) result(n int, format string, opts ExportOptions, at time.Time) *ExportResult {
	return &ExportResult{
		IntervalsExported: n,
		TimeRange:         fmt.Sprintf("%s to %s", opts.Start.Format(time.RFC3339), opts.End.Format(time.RFC3339)),
		Format:            format,
		ExportedAt:        at,
	}
}

// ExportToJSON exports the timeline as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	rows, err := e.rows(ctx, opts)
	if err != nil {
		return nil, err
	}

	exportData := struct {
		Metadata struct {
			ExportedAt    time.Time `json:"exported_at"`
			StartTime     time.Time `json:"start_time"`
			EndTime       time.Time `json:"end_time"`
			IntervalCount int       `json:"interval_count"`
			Truncated     bool      `json:"truncated"`
			Version       string    `json:"version"`
		} `json:"metadata"`
		Intervals []Row `json:"intervals"`
	}{
		Intervals: rows,
	}

	exportData.Metadata.ExportedAt = e.now()
	exportData.Metadata.StartTime = opts.Start
	exportData.Metadata.EndTime = opts.End
	exportData.Metadata.IntervalCount = len(rows)
	exportData.Metadata.Truncated = opts.Truncate
	exportData.Metadata.Version = "1.0"

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(exportData); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return e.result(len(rows), FormatJSON, opts, exportData.Metadata.ExportedAt), nil
}

// CSVHeader is the first row of every CSV export
var CSVHeader = []string{"start", "end", "kind", "meal_type", "activity_type", "seconds"}

// ExportToCSV exports the timeline as CSV to the given writer
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	rows, err := e.rows(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range rows {
		record := []string{
			r.Start.Format(time.RFC3339),
			r.End.Format(time.RFC3339),
			string(r.Kind),
			r.MealType,
			r.ActivityType,
			strconv.FormatFloat(r.Seconds, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return e.result(len(rows), FormatCSV, opts, e.now()), nil
}
