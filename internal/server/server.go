// Package server exposes position operations, risk cycle triggers and the
// investable pool list over HTTP.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"dlmm-risk-manager/internal/controller"
	"dlmm-risk-manager/internal/domain"
	"dlmm-risk-manager/internal/observability"
	"dlmm-risk-manager/internal/scheduler"
	"dlmm-risk-manager/internal/storage"
)

// PositionService executes operator position requests.
type PositionService interface {
	CreatePosition(ctx context.Context, pool string, amount uint64) (*domain.Position, error)
	AddLiquidity(ctx context.Context, pool string, amount uint64) (string, error)
	SellPosition(ctx context.Context, pool string) ([]string, error)
	ClaimFees(ctx context.Context, pool, positionID string) (string, error)
	Positions(ctx context.Context, status domain.PositionStatus) ([]*domain.Position, error)
}

// CycleTrigger runs a risk cycle on demand.
type CycleTrigger interface {
	Trigger(ctx context.Context) (*controller.CycleReport, error)
}

// PoolSnapshotter returns the current investable pool list.
type PoolSnapshotter interface {
	Snapshot(ctx context.Context) (*domain.InvestableSnapshot, error)
}

// StatsSource reports scheduler progress.
type StatsSource interface {
	Stats() scheduler.Stats
}

// Server is the HTTP API.
type Server struct {
	positions PositionService
	cycles    CycleTrigger
	pools     PoolSnapshotter
	verdicts  storage.VerdictStore
	stats     StatsSource
	logger    *log.Logger
	started   time.Time

	handler    http.Handler
	httpServer *http.Server
}

// Options contains configuration for creating a Server.
type Options struct {
	Addr      string // Default: :3000
	Positions PositionService
	Cycles    CycleTrigger
	Pools     PoolSnapshotter      // optional; /investablePools is 503 without it
	Verdicts  storage.VerdictStore // optional
	Stats     StatsSource          // optional
	Metrics   http.Handler         // Default: observability.Handler()
	Logger    *log.Logger
}

// New creates a Server with every route registered.
func New(opts Options) *Server {
	addr := opts.Addr
	if addr == "" {
		addr = ":3000"
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.Handler()
	}

	s := &Server{
		positions: opts.Positions,
		cycles:    opts.Cycles,
		pools:     opts.Pools,
		verdicts:  opts.Verdicts,
		stats:     opts.Stats,
		logger:    logger,
		started:   time.Now(),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /createPosition", s.handleCreatePosition)
	mux.HandleFunc("POST /addLiquidity", s.handleAddLiquidity)
	mux.HandleFunc("POST /sellPosition", s.handleSellPosition)
	mux.HandleFunc("POST /claimFees", s.handleClaimFees)
	mux.HandleFunc("POST /update", s.handleUpdate)

	mux.HandleFunc("GET /positions", s.handlePositions)
	mux.HandleFunc("GET /positions/{id}/verdicts", s.handleVerdicts)
	mux.HandleFunc("GET /investablePools", s.handleInvestablePools)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics)
	mux.HandleFunc("GET /status", s.handleStatus)

	s.handler = requestLogger(logger)(mux)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Printf("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// requestLogger logs each request and counts it by route pattern.
func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			observability.RecordHTTPRequest(route, rw.status)
			logger.Printf("%s %s - %d [%dms]", r.Method, r.URL.RequestURI(), rw.status, time.Since(start).Milliseconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}
