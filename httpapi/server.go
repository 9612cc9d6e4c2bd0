// Package httpapi exposes the engine as a JSON REST API.
//
// Routes:
//
//	POST /v1/execute              run code once
//	POST /v1/tests                run code against test cases in the body
//	GET  /v1/suites               list registered suites
//	POST /v1/suites/{id}/run      run code against a registered suite
//	GET  /v1/sandbox              sandbox lifecycle state
//	POST /v1/sandbox/restart      replace the sandbox with a fresh one
//	GET  /healthz                 liveness
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/isdmx/codelab/config"
	"github.com/isdmx/codelab/engine"
	"github.com/isdmx/codelab/harness"
	"github.com/isdmx/codelab/protocol"
	"github.com/isdmx/codelab/sandbox"
)

// Engine is the part of engine.Engine the API serves.
type Engine interface {
	Execute(ctx context.Context, code string) protocol.ExecutionResult
	RunTests(ctx context.Context, code string, cases []harness.TestCase) engine.Report
	RunSuite(ctx context.Context, code, suiteID string) (engine.Report, error)
	Suites() []string
	State() sandbox.State
	Restart(ctx context.Context) error
}

// Server is the REST transport.
type Server struct {
	config *config.Config
	logger *zap.Logger
	engine Engine
	router *chi.Mux
	srv    *http.Server
}

// New creates a Server and its routes.
func New(cfg *config.Config, logger *zap.Logger, eng Engine) *Server {
	s := &Server{
		config: cfg,
		logger: logger.Named("http"),
		engine: eng,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(RequestLogger(s.logger))

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/execute", s.handleExecute)
		r.Post("/tests", s.handleRunTests)
		r.Get("/suites", s.handleListSuites)
		r.Post("/suites/{id}/run", s.handleRunSuite)
		r.Get("/sandbox", s.handleSandboxState)
		r.Post("/sandbox/restart", s.handleSandboxRestart)
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured port and serves in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Server.HTTPPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// No WriteTimeout: a suite run may take the sandbox timeout once per test.
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("starting REST API", zap.String("addr", addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST API stopped", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
