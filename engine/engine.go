// Package engine is the session facade used by the transports. It combines
// the dispatcher, the test harness and the suite registry.
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/isdmx/codelab/harness"
	"github.com/isdmx/codelab/protocol"
	"github.com/isdmx/codelab/sandbox"
	"github.com/isdmx/codelab/suite"
)

// Session is the sandbox-owning side of the engine.
type Session interface {
	harness.Executor
	State() sandbox.State
	Reinitialize(ctx context.Context) error
}

// Report is the outcome of a test run.
type Report struct {
	Results []harness.TestResult `json:"results"`
	Summary harness.Summary      `json:"summary"`
	Score   float64              `json:"score"`
}

// Engine runs code and test suites for one session.
type Engine struct {
	logger  *zap.Logger
	session Session
	harness *harness.Harness
	suites  *suite.Registry
}

// New creates an Engine.
func New(logger *zap.Logger, session Session, suites *suite.Registry) *Engine {
	return &Engine{
		logger:  logger.Named("engine"),
		session: session,
		harness: harness.New(logger, session),
		suites:  suites,
	}
}

// Execute runs code once.
func (e *Engine) Execute(ctx context.Context, code string) protocol.ExecutionResult {
	return e.session.Execute(ctx, code)
}

// RunTests runs code against cases and scores the outcome.
func (e *Engine) RunTests(ctx context.Context, code string, cases []harness.TestCase) Report {
	results := e.harness.RunTests(ctx, code, cases)
	summary := harness.Summarize(results)
	return Report{
		Results: results,
		Summary: summary,
		Score:   harness.PartialScore(summary.Passed, summary.Total),
	}
}

// RunSuite runs code against a registered suite.
func (e *Engine) RunSuite(ctx context.Context, code, suiteID string) (Report, error) {
	s, err := e.suites.Get(suiteID)
	if err != nil {
		return Report{}, err
	}
	e.logger.Info("running suite", zap.String("suite", s.ID), zap.Int("tests", len(s.Tests)))
	return e.RunTests(ctx, code, s.Tests), nil
}

// Suites returns the registered suite ids.
func (e *Engine) Suites() []string {
	return e.suites.IDs()
}

// State reports the sandbox lifecycle state.
func (e *Engine) State() sandbox.State {
	return e.session.State()
}

// Restart replaces the sandbox with a fresh one.
func (e *Engine) Restart(ctx context.Context) error {
	e.logger.Info("restarting sandbox")
	return e.session.Reinitialize(ctx)
}
