package export

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/config"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/httpx"
)

// Handler handles timeline export requests
type Handler struct {
	exporter *Exporter
	loc      *time.Location
}

// NewHandler creates a new export handler rendering times in loc
func NewHandler(src TimelineSource, loc *time.Location) *Handler {
	return &Handler{exporter: NewExporter(src), loc: loc}
}

// HandleExport handles GET /v1/timeline/export
// Query params:
//   - format: "json" or "csv" (default: json)
//   - start: RFC3339 timestamp (default: 24h before end)
//   - end: RFC3339 timestamp (default: now)
//   - truncate: clamp intervals at the window edges (default: true)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid format, must be 'json' or 'csv'")
		return
	}

	end, err := parseTimeParam(query.Get("end"), h.exporter.now())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid end: %w", err))
		return
	}
	start, err := parseTimeParam(query.Get("start"), end.Add(-config.QueryDefaultWindow))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid start: %w", err))
		return
	}

	if !start.Before(end) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start must be before end")
		return
	}
	if end.Sub(start) > config.QueryMaxWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("time range too large, maximum is %v", config.QueryMaxWindow))
		return
	}

	truncate := true
	if v := query.Get("truncate"); v != "" {
		if truncate, err = strconv.ParseBool(v); err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid truncate: %w", err))
			return
		}
	}

	opts := ExportOptions{
		Start:    start.In(h.loc),
		End:      end.In(h.loc),
		Truncate: truncate,
		Location: h.loc,
	}

	timestamp := h.exporter.now().Format("20060102-150405")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=timeline-%s.%s", timestamp, format))

	var result *ExportResult
	if format == FormatJSON {
		w.Header().Set("Content-Type", "application/json")
		result, err = h.exporter.ExportToJSON(r.Context(), w, opts)
	} else {
		w.Header().Set("Content-Type", "text/csv")
		result, err = h.exporter.ExportToCSV(r.Context(), w, opts)
	}

	if err != nil {
		log.Printf("Timeline export failed: %v", err)
		w.Header().Del("Content-Disposition")
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("export failed: %w", err))
		return
	}

	log.Printf("Exported %d intervals (%s) from %s", result.IntervalsExported, format, result.TimeRange)
}

// parseTimeParam parses an RFC3339 parameter or returns the default
func parseTimeParam(param string, defaultTime time.Time) (time.Time, error) {
	if param == "" {
		return defaultTime, nil
	}
	return time.Parse(time.RFC3339, param)
}
