// Package server exposes the service's HTTP surface: health, Prometheus
// metrics, pipeline stats, and read-only feed queries.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caskwatch/caskwatch/service/db"
	"github.com/caskwatch/caskwatch/service/ingest"
	"github.com/caskwatch/caskwatch/service/metrics"
)

// Store is the subset of the database store the HTTP handlers need.
type Store interface {
	ListActivities(ctx context.Context, limit, offset int32) ([]*db.ActivityRecord, error)
	GetAssetByID(ctx context.Context, assetID string) (*db.Asset, error)
	HighestCommittedSignature(ctx context.Context) (*string, error)
}

// StatsSource reports the ingest pipeline's current state.
type StatsSource interface {
	Status() ingest.Status
}

// Server represents the HTTP server for the activity feed service.
type Server struct {
	addr    string
	store   Store
	stats   StatsSource
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// stats may be nil when the server runs without an in-process pipeline;
// metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, store Store, stats StatsSource, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		store:   store,
		stats:   stats,
		metrics: m,
		logger:  logger,
	}
}

// Start starts the HTTP server. It blocks until Shutdown is called.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	withMetrics := func(name string, h http.Handler) http.Handler {
		return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}

	mux.Handle("GET /api/v1/activities", withMetrics("/api/v1/activities", handleListActivities(s.store, s.logger)))
	mux.Handle("GET /api/v1/assets/{asset_id}", withMetrics("/api/v1/assets", handleGetAsset(s.store, s.logger)))
	mux.Handle("GET /api/v1/checkpoint", withMetrics("/api/v1/checkpoint", handleGetCheckpoint(s.store, s.logger)))

	if s.stats != nil {
		mux.Handle("GET /api/v1/stats", withMetrics("/api/v1/stats", handleGetStats(s.stats)))
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS
// preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
