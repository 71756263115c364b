// Package client talks to a running circadian server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/aggregate"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/config"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/httpx"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/ingest"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/query"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/source"
)

// Config holds configuration for the client
type Config struct {
	// Endpoint is the server base URL (default http://localhost:8080)
	Endpoint string
	APIKey   string
	Timeout  time.Duration

	// BatchSize bounds the samples sent per request
	BatchSize int
}

// Client is an HTTP client for the circadian API
type Client struct {
	base      *url.URL
	apiKey    string
	batchSize int
	http      *http.Client
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// New creates a new client
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:" + config.DefaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = config.QueryTimeout + 5*time.Second
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > config.MaxSamplesPerRequest {
		cfg.BatchSize = config.MaxSamplesPerRequest
	}

	base, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", cfg.Endpoint)
	}

	return &Client{
		base:      base,
		apiKey:    cfg.APIKey,
		batchSize: cfg.BatchSize,
		http:      &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// PushSamples sends samples in batches and returns the total accepted
func (c *Client) PushSamples(ctx context.Context, samples []source.RawSample) (int, error) {
	accepted := 0
	for i := 0; i < len(samples); i += c.batchSize {
		end := i + c.batchSize
		if end > len(samples) {
			end = len(samples)
		}

		var resp ingest.IngestResponse
		req := ingest.IngestRequest{Samples: samples[i:end]}
		if err := c.do(ctx, http.MethodPost, "/v1/samples", nil, req, &resp); err != nil {
			return accepted, fmt.Errorf("batch %d: %w", i/c.batchSize, err)
		}
		accepted += resp.Count
	}
	return accepted, nil
}

// Timeline fetches the canonical timeline of [start, end)
func (c *Client) Timeline(ctx context.Context, start, end time.Time, truncate bool) (*query.TimelineResponse, error) {
	params := window(start, end)
	params.Set("truncate", fmt.Sprint(truncate))

	var resp query.TimelineResponse
	if err := c.do(ctx, http.MethodGet, "/v1/timeline", params, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EatingTimes fetches eating time per day
func (c *Client) EatingTimes(ctx context.Context, start, end time.Time) (*query.DailyResponse, error) {
	var resp query.DailyResponse
	if err := c.do(ctx, http.MethodGet, "/v1/stats/eating", window(start, end), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MaxFastingTimes fetches the longest fast per day
func (c *Client) MaxFastingTimes(ctx context.Context, start, end time.Time) (*query.DailyResponse, error) {
	var resp query.DailyResponse
	if err := c.do(ctx, http.MethodGet, "/v1/stats/fasting/max", window(start, end), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CategoryDurations fetches a two-way category split
func (c *Client) CategoryDurations(ctx context.Context, start, end time.Time, split aggregate.Split) (*query.SplitResponse, error) {
	params := window(start, end)
	params.Set("split", string(split))

	var resp query.SplitResponse
	if err := c.do(ctx, http.MethodGet, "/v1/stats/split", params, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FastingVariability fetches the spread of fasting time per unit
func (c *Client) FastingVariability(ctx context.Context, start, end time.Time, unit aggregate.Unit) (*query.VariabilityResponse, error) {
	params := window(start, end)
	params.Set("unit", string(unit))

	var resp query.VariabilityResponse
	if err := c.do(ctx, http.MethodGet, "/v1/stats/fasting/variability", params, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PurgeCache removes cached entries with the given store-key prefix
func (c *Client) PurgeCache(ctx context.Context, prefix string) (int, error) {
	params := url.Values{}
	if prefix != "" {
		params.Set("prefix", prefix)
	}

	var resp struct {
		Removed int `json:"removed"`
	}
	if err := c.do(ctx, http.MethodDelete, "/v1/cache", params, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

func window(start, end time.Time) url.Values {
	params := url.Values{}
	if !start.IsZero() {
		params.Set("start", start.Format(time.RFC3339))
	}
	if !end.IsZero() {
		params.Set("end", end.Format(time.RFC3339))
	}
	return params
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out interface{}) error {
	u := *c.base
	u.Path += path
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp httpx.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return &StatusError{StatusCode: resp.StatusCode, Message: errResp.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
