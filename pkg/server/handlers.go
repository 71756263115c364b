package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/cache"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/httpx"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/server/monitor"
)

// Version is reported by the health check
const Version = "1.0.0"

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string                `json:"status"`
	Version string                `json:"version"`
	Uptime  string                `json:"uptime"`
	Sweep   monitor.SweepStatus   `json:"sweep"`
	Storage monitor.StorageStatus `json:"storage"`
	Caches  []cache.Stats         `json:"caches"`
	Clients int                   `json:"ws_clients"`
}

// handleHealth returns service health status.
func handleHealth(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK

		if !c.SweepMonitor.IsHealthy() {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:  overallStatus,
			Version: Version,
			Uptime:  time.Since(startTime).String(),
			Sweep:   c.SweepMonitor.Status(),
			Storage: c.StorageMonitor.Status(),
			Caches:  c.Service.CacheStats(),
			Clients: c.Hub.Clients(),
		}

		httpx.RespondJSON(w, statusCode, response)
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, c *Components, port string) {
	router.Use(corsMiddleware(port))
	router.Use(httpx.Metrics)

	api := router.PathPrefix("/v1").Subrouter()

	// Timeline and statistics
	api.HandleFunc("/timeline", c.QueryHandler.HandleTimeline).Methods("GET")
	api.HandleFunc("/timeline/export", c.ExportHandler.HandleExport).Methods("GET")
	api.HandleFunc("/stats/eating", c.QueryHandler.HandleEating).Methods("GET")
	api.HandleFunc("/stats/fasting/max", c.QueryHandler.HandleMaxFasting).Methods("GET")
	api.HandleFunc("/stats/fasting/variability", c.QueryHandler.HandleVariability).Methods("GET")
	api.HandleFunc("/stats/split", c.QueryHandler.HandleSplit).Methods("GET")

	// Samples
	api.HandleFunc("/samples", c.IngestHandler.HandleIngest).Methods("POST")
	api.HandleFunc("/samples/latest", c.QueryHandler.HandleLatest).Methods("GET")

	// Cache maintenance
	api.HandleFunc("/cache", c.QueryHandler.HandlePurge).Methods("DELETE")
	api.HandleFunc("/cache/stats", c.QueryHandler.HandleCacheStats).Methods("GET")

	api.HandleFunc("/health", handleHealth(c)).Methods("GET")

	// Invalidation events
	api.HandleFunc("/ws", c.Hub.HandleWebSocket).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
