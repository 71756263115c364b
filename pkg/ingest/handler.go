// Package ingest accepts new raw samples and pushes the resulting cache
// invalidations to websocket clients.
package ingest

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/config"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/httpx"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/invalidation"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/source"
)

// Sink stores accepted samples
type Sink interface {
	Add(samples ...source.RawSample) []source.RawSample
}

// Notifier invalidates whatever new samples affect
type Notifier interface {
	NotifySamples(ctx context.Context, samples []source.RawSample) (invalidation.Event, error)
}

// Handler handles sample ingestion
type Handler struct {
	sink     Sink
	notifier Notifier
}

// NewHandler creates a new ingest handler
func NewHandler(sink Sink, notifier Notifier) *Handler {
	return &Handler{sink: sink, notifier: notifier}
}

// IngestRequest represents the request payload
type IngestRequest struct {
	Samples []source.RawSample `json:"samples"`
}

// IngestResponse represents the response payload
type IngestResponse struct {
	Status       string             `json:"status"`
	Count        int                `json:"count"`
	Invalidation invalidation.Event `json:"invalidation"`
	Message      string             `json:"message,omitempty"`
}

// HandleIngest handles POST /v1/samples
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req IngestRequest
	if err := httpx.DecodeJSON(w, r, MaxRequestBytes, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if len(req.Samples) == 0 {
		httpx.RespondErrorString(w, http.StatusBadRequest, "no samples in request")
		return
	}
	if len(req.Samples) > MaxSamplesPerRequest {
		httpx.RespondError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("%w: got %d", ErrTooManySamples, len(req.Samples)))
		return
	}

	for i, s := range req.Samples {
		if err := ValidateSample(s); err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("sample %d: %w", i, err))
			return
		}
	}

	stored := h.sink.Add(req.Samples...)

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	response := IngestResponse{Status: "success", Count: len(stored)}
	ev, err := h.notifier.NotifySamples(ctx, stored)
	response.Invalidation = ev
	if err != nil {
		// Samples are stored; stale entries expire on their own
		log.Printf("Invalidation after ingest of %d samples failed: %v", len(stored), err)
		response.Message = "samples stored, cache invalidation incomplete"
	}

	httpx.RespondJSON(w, http.StatusOK, response)
}
