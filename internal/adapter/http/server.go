package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
	"github.com/couchcryptid/flood-risk-service/internal/risk"
)

// RiskService answers the flood-risk use cases.
type RiskService interface {
	MapRisk(ctx context.Context, req domain.RiskRequest) (domain.RiskResult, error)
	PointRisk(ctx context.Context, req risk.PointRequest) (risk.PointResult, error)
	ListNeighborhoods(ctx context.Context) ([]risk.NeighborhoodInfo, error)
}

// Refresher recomputes the cached geodata.
type Refresher interface {
	Refresh(ctx context.Context) (*pipeline.Result, error)
}

// Server exposes the risk API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	risk       RiskService
	refresher  Refresher
	logger     *slog.Logger
}

const baseWriteTimeout = 30 * time.Second

// WriteTimeout returns a write timeout that outlasts a request blocked on the
// first geodata load.
func WriteTimeout(geodataLoad time.Duration) time.Duration {
	return baseWriteTimeout + max(geodataLoad, 0)
}

// NewServer creates an HTTP server with the risk routes and /healthz, /readyz,
// and /metrics.
func NewServer(addr string, writeTimeout time.Duration, svc RiskService, refresher Refresher, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: writeTimeout,
			IdleTimeout:  60 * time.Second,
		},
		risk:      svc,
		refresher: refresher,
		logger:    logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /prever_risco_mapa", s.handleMapRisk)
	mux.HandleFunc("POST /prever_risco", s.handlePointRisk)
	mux.HandleFunc("GET /bairros", s.handleNeighborhoods)
	mux.HandleFunc("POST /admin/geocache/refresh", s.handleRefresh)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// WriteTimeout reports the configured response write deadline.
func (s *Server) WriteTimeout() time.Duration {
	return s.httpServer.WriteTimeout
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
