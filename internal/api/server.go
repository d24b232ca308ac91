// Package api exposes the resolution engine over HTTP.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/charity-cli/internal/batch"
	"github.com/sells-group/charity-cli/internal/metrics"
	"github.com/sells-group/charity-cli/internal/ownership"
	"github.com/sells-group/charity-cli/internal/resolve"
	"github.com/sells-group/charity-cli/internal/store"
)

// Config holds server-level settings.
type Config struct {
	AllowedOrigins []string
	MaxUploadBytes int64
	Concurrency    int
	DefaultDepth   int
}

// Deps are the engine components the handlers call.
type Deps struct {
	Store     store.Store
	Resolver  *resolve.Resolver
	Batches   *batch.Orchestrator
	Ownership *ownership.Builder
	Metrics   *metrics.Metrics
}

// Server routes HTTP requests to the engine. Batch runs started over HTTP
// continue in the background after the response is written.
type Server struct {
	deps    Deps
	cfg     Config
	started time.Time

	// base is the parent of background runs; cancel stops them.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]bool
}

// New builds a Server.
func New(deps Deps, cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = batch.DefaultConcurrency
	}
	if cfg.DefaultDepth <= 0 {
		cfg.DefaultDepth = ownership.DefaultMaxDepth
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		deps:    deps,
		cfg:     cfg,
		started: time.Now(),
		base:    base,
		cancel:  cancel,
		running: make(map[string]bool),
	}
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/batches", s.batchRoutes)
		r.Route("/records", s.recordRoutes)
	})
	return r
}

// Shutdown cancels background runs and waits for them to finish
// finalizing, or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		zap.L().Warn("api: background runs still active at shutdown")
	}
}

// Wait blocks until every background run has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// startRun claims batchID for a background run. It reports false when a run
// for the batch is already active in this process.
func (s *Server) startRun(batchID string, run func(ctx context.Context)) bool {
	s.mu.Lock()
	if s.running[batchID] {
		s.mu.Unlock()
		return false
	}
	s.running[batchID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, batchID)
			s.mu.Unlock()
		}()
		run(s.base)
	}()
	return true
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
		body["database"] = err.Error()
	}
	writeJSON(w, status, body)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
