// Package server exposes the runner over HTTP: trigger events, run status,
// ledger verification and narinfo lookups.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"narci/internal/core"
	xlog "narci/internal/log"
	"narci/internal/narinfo"
	"narci/internal/security"
)

// WorkflowSource yields the workflow to run for new events.
type WorkflowSource interface {
	Get() *core.Workflow
}

// NarInfoSource looks up narinfos, usually a *binarycache.Client.
type NarInfoSource interface {
	NarInfo(ctx context.Context, hashOrPath string) (*narinfo.NarInfo, error)
}

// LogReader reads stored job logs, usually a *storage.LogStorage.
type LogReader interface {
	ReadLog(path string) (string, error)
}

// ChainVerifier is the part of the ledger the server needs.
type ChainVerifier interface {
	VerifyChain(trusted ...security.PublicKey) error
	NextIndex() int
}

// Config wires the server's collaborators. Everything but Workflows and
// Runner is optional.
type Config struct {
	Workflows  WorkflowSource
	Runner     *core.Runner
	Logs       LogReader
	Ledger     ChainVerifier
	LedgerKeys []security.PublicKey
	NarInfo    NarInfoSource
	Checks     map[string]func(context.Context) error // reported by /healthz
	EventRate  int                                    // POST /events per minute per client, 0 disables the limit
	RunHistory int                                    // finished runs kept for GET /runs
}

// Server owns the run store and the background runs it started.
type Server struct {
	cfg    Config
	runs   *runStore
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a server; call Shutdown to cancel and drain its runs.
func New(cfg Config) *Server {
	if cfg.RunHistory == 0 {
		cfg.RunHistory = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		runs:   newRunStore(cfg.RunHistory),
		logger: xlog.WithComponent("server"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.cfg.EventRate > 0 {
			r.Use(eventRateLimit(s.cfg.EventRate, time.Minute))
		}
		r.Post("/events", s.handleEvent)
	})

	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Get("/runs/{id}/jobs/{job}/log", s.handleJobLog)
	r.Get("/ledger/verify", s.handleVerifyLedger)
	r.Get("/narinfo/{hash}", s.handleNarInfo)
	return r
}

// Shutdown cancels in-flight runs and waits for them to record their result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for runs: %w", ctx.Err())
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.cancel()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("http shutdown")
	}
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func eventRateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many events, try again later")
		}),
	)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
