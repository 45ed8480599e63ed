package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/rfiscope/pkg/httpx"
	"github.com/nicktill/rfiscope/pkg/server/monitor"
	"github.com/nicktill/rfiscope/pkg/tiering"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes int64 `json:"used_bytes"`
	MaxBytes  int64 `json:"max_bytes"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Uptime   string                 `json:"uptime"`
	Backfill monitor.BackfillStatus `json:"backfill"`
}

// BackfillRequest is the body of POST /v1/backfill.
type BackfillRequest struct {
	Sessions  []string `json:"sessions,omitempty"`
	Reset     bool     `json:"reset"`
	StaleOnly bool     `json:"stale_only"`
	Workers   int      `json:"workers,omitempty"`
}

// handleHealth returns service health status.
func handleHealth(backfillMonitor *monitor.BackfillMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if !backfillMonitor.IsHealthy() {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		httpx.RespondJSON(w, code, HealthResponse{
			Status:   status,
			Version:  Version,
			Uptime:   time.Since(startTime).Round(time.Second).String(),
			Backfill: backfillMonitor.Status(),
		})
	}
}

// handleStorageUsage returns current storage usage.
func handleStorageUsage(storageMonitor *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		used, err := storageMonitor.GetUsage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, StorageUsage{
			UsedBytes: used,
			MaxBytes:  storageMonitor.GetLimit(),
		})
	}
}

// handleBackfill runs a backfill and responds with its per-session result.
func handleBackfill(runner *BackfillRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BackfillRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
				httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
				return
			}
		}
		if req.Workers < 0 {
			httpx.RespondFieldError(w, http.StatusBadRequest, "workers", "workers must not be negative")
			return
		}

		result, err := runner.Run(r.Context(), tiering.Options{
			Sessions:  req.Sessions,
			Reset:     req.Reset,
			StaleOnly: req.StaleOnly,
			Workers:   req.Workers,
		})
		switch {
		case err == nil:
			httpx.RespondJSON(w, http.StatusOK, result)
		case errors.Is(err, ErrBackfillRunning):
			httpx.RespondError(w, http.StatusConflict, err)
		case errors.Is(err, tiering.ErrUnknownSession), errors.Is(err, tiering.ErrDuplicateSession):
			httpx.RespondFieldError(w, http.StatusBadRequest, "sessions", err.Error())
		default:
			httpx.RespondError(w, http.StatusInternalServerError, err)
		}
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(
	router *mux.Router,
	handlers Handlers,
	storageMonitor *monitor.StorageMonitor,
	backfillMonitor *monitor.BackfillMonitor,
	runner *BackfillRunner,
	port string,
) {
	router.Use(corsMiddleware(port))

	// Prometheus scrape endpoint
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/v1").Subrouter()
	api.Use(compressMiddleware)

	// Samples and sessions
	api.HandleFunc("/ingest", handlers.Ingest.HandleIngest).Methods("POST")
	api.HandleFunc("/sessions", handlers.Ingest.HandleSessions).Methods("GET")
	api.HandleFunc("/stats", handlers.Ingest.HandleStats).Methods("GET")
	api.HandleFunc("/ws", handlers.Ingest.HandleWebSocket(handlers.Hub)).Methods("GET")

	// Plots and explorations
	api.HandleFunc("/plot", handlers.Plot.HandlePlot).Methods("GET")
	api.HandleFunc("/explore", handlers.Explore.HandleCreate).Methods("POST")
	api.HandleFunc("/explore/{id}", handlers.Explore.HandleDelete).Methods("DELETE")
	api.HandleFunc("/explore/{id}/viewport", handlers.Explore.HandleViewport).Methods("POST")
	api.HandleFunc("/explore/{id}/ws", handlers.Explore.HandleWebSocket).Methods("GET")

	// Tiers
	api.HandleFunc("/backfill", handleBackfill(runner)).Methods("POST")

	// Operations
	api.HandleFunc("/storage", handleStorageUsage(storageMonitor)).Methods("GET")
	api.HandleFunc("/health", handleHealth(backfillMonitor)).Methods("GET")

	// Export/import
	api.HandleFunc("/export", handlers.Export.HandleExport).Methods("GET")
	api.HandleFunc("/import", handlers.Export.HandleImport).Methods("POST")
}

// compressMiddleware gzips API responses. Websocket handshakes pass through
// untouched since the upgrader must hijack the raw connection.
func compressMiddleware(next http.Handler) http.Handler {
	gz := gzhttp.GzipHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
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
