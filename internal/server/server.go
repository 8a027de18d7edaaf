// Package server exposes validation as an HTTP job API.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"odatacheck/internal/config"
	"odatacheck/internal/engine"
	"odatacheck/internal/metrics"
	"odatacheck/internal/output"
	"odatacheck/internal/rules"
	"odatacheck/internal/store"
)

// JobStore persists jobs and their results. *store.JobStore and
// *store.MemoryStore implement it.
type JobStore interface {
	CreateJob(ctx context.Context, job store.Job) error
	StartJob(ctx context.Context, id string) error
	FinishJob(ctx context.Context, id, runID string, exitCode int, errMsg string) error
	GetJob(ctx context.Context, id string) (*store.Job, error)
	SaveResult(ctx context.Context, jobID string, r rules.Result) error
	ListResults(ctx context.Context, jobID string) ([]rules.Result, error)
}

// RunFunc executes one validation job and returns the engine run ID and
// exit code. Results are recorded through rec under jobID.
type RunFunc func(ctx context.Context, cfg *config.Config, rec output.ResultRecorder, jobID string) (runID string, exitCode int)

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. 127.0.0.1:8080.
	Addr string
	// Base supplies defaults for every job: runtime limits and auth. Job
	// requests override targeting and rule selection.
	Base *config.Config
	// Store holds jobs; an in-memory store is used when nil.
	Store    JobStore
	Registry *rules.Registry
	Logger   zerolog.Logger
	// Run replaces the engine, for tests.
	Run RunFunc
}

type Server struct {
	router   *mux.Router
	http     *http.Server
	store    JobStore
	registry *rules.Registry
	base     *config.Config
	logger   zerolog.Logger
	run      RunFunc

	// jobs run under ctx, not the submitting request.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		store:    opts.Store,
		registry: opts.Registry,
		base:     opts.Base,
		logger:   opts.Logger,
		run:      opts.Run,
	}
	if s.store == nil {
		s.store = store.NewMemoryStore()
	}
	if s.registry == nil {
		s.registry = rules.Default()
	}
	if s.base == nil {
		s.base = config.New()
	}
	if s.run == nil {
		s.run = s.runEngine
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.routes()
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/jobs", s.handleCreateJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/results", s.handleListResults).Methods(http.MethodGet)
	api.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "endpoint_not_found", "the requested endpoint does not exist")
	})
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
// and waits for running jobs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("serving job API")

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, cancels running jobs and waits for
// them to record their outcome.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down job API")
	err := s.http.Shutdown(ctx)
	s.cancel()

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

// Wait blocks until every submitted job has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) runEngine(ctx context.Context, cfg *config.Config, rec output.ResultRecorder, jobID string) (string, int) {
	e := engine.NewEngine(s.logger.With().Str("job_id", jobID).Logger())
	e.Registry = s.registry
	e.Stdout = io.Discard
	e.Recorder = rec
	e.JobID = jobID
	code := e.Run(ctx, cfg)
	return e.RunID, code
}

// startJob records the job and runs it in the background.
func (s *Server) startJob(ctx context.Context, cfg *config.Config) (*store.Job, error) {
	job := store.Job{
		ID:        uuid.NewString(),
		Status:    store.StatusQueued,
		Services:  cfg.Targeting.Services,
		Selector:  cfg.Rules.Selector,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		metrics.JobStarted()
		defer metrics.JobFinished()

		logger := s.logger.With().Str("job_id", job.ID).Logger()
		if err := s.store.StartJob(s.ctx, job.ID); err != nil {
			logger.Warn().Err(err).Msg("failed to mark job running")
		}

		runID, code := s.run(s.ctx, cfg, s.store, job.ID)

		errMsg := ""
		if code >= 3 {
			errMsg = "validation did not run; see server logs"
		}
		// Record the outcome even when the server is shutting down.
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 10*time.Second)
		defer cancel()
		if err := s.store.FinishJob(finishCtx, job.ID, runID, code, errMsg); err != nil {
			logger.Error().Err(err).Msg("failed to record job outcome")
			return
		}
		logger.Info().Str("run_id", runID).Int("exit_code", code).Msg("job finished")
	}()
	return &job, nil
}
