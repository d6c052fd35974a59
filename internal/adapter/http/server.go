package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/couchcryptid/weather-etl/internal/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// RunService triggers runs and reports their recorded status.
// It is implemented by *pipeline.Coordinator.
type RunService interface {
	ReadinessChecker
	Run(ctx context.Context, runDate time.Time) (domain.RunStatus, error)
	Status(ctx context.Context, key domain.PartitionKey) (domain.RunStatus, bool, error)
	InProgress(key domain.PartitionKey) bool
}

// Server exposes health, readiness, metrics, and run endpoints.
type Server struct {
	httpServer *http.Server
	runs       RunService
	logger     *slog.Logger

	// Triggered runs outlive their request; they are cancelled on Shutdown.
	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and
// /runs routes.
func NewServer(addr string, runs RunService, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	runCtx, cancelRun := context.WithCancel(context.Background())

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		runs:      runs,
		logger:    logger,
		runCtx:    runCtx,
		cancelRun: cancelRun,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(runs))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /runs", s.handleTrigger)
	mux.HandleFunc("GET /runs/{date}", s.handleStatus)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections, then cancels triggered runs and
// waits for them within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.cancelRun()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// Wait blocks until every triggered run has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// handleTrigger starts a run for ?date=YYYY-MM-DD in the background and
// answers 202 without waiting for it.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	runDate, err := domain.ParseRunDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key := domain.NewPartitionKey(runDate)
	if s.runs.InProgress(key) {
		writeError(w, http.StatusConflict, domain.ErrRunInProgress)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.runs.Run(s.runCtx, runDate); err != nil {
			s.logger.Error("triggered run failed", "partition_key", key, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":        "accepted",
		"partition_key": string(key),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	key, err := domain.ParsePartitionKey(r.PathValue("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	status, found, err := s.runs.Status(r.Context(), key)
	if err != nil {
		s.logger.Error("status lookup failed", "partition_key", key, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("status lookup failed"))
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, errors.New("no run recorded for "+string(key)))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
