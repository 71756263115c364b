package query

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/aggregate"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/circadian"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/config"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/httpx"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/source"
)

// Handler serves timeline and statistics queries
type Handler struct {
	service *Service
	now     func() time.Time
}

// NewHandler creates a new query handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, now: service.now}
}

// TimelineResponse is the payload of /v1/timeline
type TimelineResponse struct {
	Status    string               `json:"status"`
	Start     time.Time            `json:"start"`
	End       time.Time            `json:"end"`
	Truncate  bool                 `json:"truncate"`
	Intervals []circadian.Interval `json:"intervals"`
	Covered   time.Duration        `json:"covered"`
}

// DailyResponse is the payload of per-day statistics
type DailyResponse struct {
	Status string          `json:"status"`
	Start  time.Time       `json:"start"`
	End    time.Time       `json:"end"`
	Days   aggregate.Daily `json:"days"`
	Total  time.Duration   `json:"total"`
}

// SplitResponse is the payload of /v1/stats/split
type SplitResponse struct {
	Status     string                    `json:"status"`
	Split      aggregate.Split           `json:"split"`
	Start      time.Time                 `json:"start"`
	End        time.Time                 `json:"end"`
	Categories []aggregate.CategoryTotal `json:"categories"`
}

// VariabilityResponse is the payload of /v1/stats/fasting/variability
type VariabilityResponse struct {
	Status string    `json:"status"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	aggregate.Variability
}

// HandleTimeline handles GET /v1/timeline?start=&end=&truncate=
func (h *Handler) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.parseWindow(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	truncate := true
	if v := r.URL.Query().Get("truncate"); v != "" {
		truncate, err = strconv.ParseBool(v)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid truncate: %w", err))
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	tl, err := h.service.Timeline(ctx, start, end, truncate)
	if err != nil && !errors.Is(err, circadian.ErrEmptyInput) {
		httpx.RespondError(w, statusFor(err), fmt.Errorf("timeline: %w", err))
		return
	}

	intervals := tl.Intervals()
	if intervals == nil {
		intervals = []circadian.Interval{}
	}
	httpx.RespondJSON(w, http.StatusOK, TimelineResponse{
		Status:    "success",
		Start:     start,
		End:       end,
		Truncate:  truncate,
		Intervals: intervals,
		Covered:   tl.Covered(),
	})
}

// HandleEating handles GET /v1/stats/eating
func (h *Handler) HandleEating(w http.ResponseWriter, r *http.Request) {
	h.handleDaily(w, r, "eating times", h.service.EatingTimes)
}

// HandleMaxFasting handles GET /v1/stats/fasting/max
func (h *Handler) HandleMaxFasting(w http.ResponseWriter, r *http.Request) {
	h.handleDaily(w, r, "max fasting times", h.service.MaxFastingTimes)
}

func (h *Handler) handleDaily(w http.ResponseWriter, r *http.Request, what string, fn func(ctx context.Context, start, end time.Time) (aggregate.Daily, error)) {
	start, end, err := h.parseWindow(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	days, err := fn(ctx, start, end)
	if err != nil {
		httpx.RespondError(w, statusFor(err), fmt.Errorf("%s: %w", what, err))
		return
	}
	if days == nil {
		days = aggregate.Daily{}
	}

	httpx.RespondJSON(w, http.StatusOK, DailyResponse{
		Status: "success",
		Start:  start,
		End:    end,
		Days:   days,
		Total:  days.Total(),
	})
}

// HandleSplit handles GET /v1/stats/split?split=fast-eat|sleep-awake|eat-exercise
func (h *Handler) HandleSplit(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.parseWindow(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	name := r.URL.Query().Get("split")
	if name == "" {
		name = string(aggregate.SplitFastEat)
	}
	split, err := aggregate.ParseSplit(name)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	categories, err := h.service.CategoryDurations(ctx, start, end, split)
	if err != nil {
		httpx.RespondError(w, statusFor(err), fmt.Errorf("category durations: %w", err))
		return
	}

	httpx.RespondJSON(w, http.StatusOK, SplitResponse{
		Status:     "success",
		Split:      split,
		Start:      start,
		End:        end,
		Categories: categories,
	})
}

// HandleVariability handles GET /v1/stats/fasting/variability?unit=day|week
func (h *Handler) HandleVariability(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.parseWindow(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	name := r.URL.Query().Get("unit")
	if name == "" {
		name = string(aggregate.UnitDay)
	}
	unit, err := aggregate.ParseUnit(name)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	v, err := h.service.FastingVariability(ctx, start, end, unit)
	if err != nil {
		httpx.RespondError(w, statusFor(err), fmt.Errorf("fasting variability: %w", err))
		return
	}

	httpx.RespondJSON(w, http.StatusOK, VariabilityResponse{
		Status:      "success",
		Start:       start,
		End:         end,
		Variability: v,
	})
}

// HandleLatest handles GET /v1/samples/latest?type=sleep|workout
func (h *Handler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	t := source.SampleType(r.URL.Query().Get("type"))
	if t != source.SampleTypeSleep && t != source.SampleTypeWorkout {
		httpx.RespondErrorString(w, http.StatusBadRequest, "type must be sleep or workout")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	sample, err := h.service.LatestEvent(ctx, t)
	if err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, sample)
}

// HandlePurge handles DELETE /v1/cache?prefix=
func (h *Handler) HandlePurge(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	removed, err := h.service.PurgeCache(r.Context(), prefix)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("purge cache: %w", err))
		return
	}

	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"prefix":  prefix,
		"removed": removed,
	})
}

// HandleCacheStats handles GET /v1/cache/stats
func (h *Handler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"caches": h.service.CacheStats(),
	})
}

// parseWindow reads start and end (RFC3339). Missing values default to
// the last config.QueryDefaultWindow ending now.
func (h *Handler) parseWindow(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	loc := h.service.Location()

	end := h.now().In(loc)
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
		}
		end = t.In(loc)
	}

	start := end.Add(-config.QueryDefaultWindow)
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
		}
		start = t.In(loc)
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start must be before end")
	}
	if end.Sub(start) > config.QueryMaxWindow {
		return time.Time{}, time.Time{}, fmt.Errorf("window exceeds %s", config.QueryMaxWindow)
	}
	return start, end, nil
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidWindow):
		return http.StatusBadRequest
	case errors.Is(err, source.ErrEmptyResult):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, source.ErrSourceUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
