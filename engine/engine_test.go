package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codelab/harness"
	"github.com/isdmx/codelab/protocol"
	"github.com/isdmx/codelab/sandbox"
	"github.com/isdmx/codelab/suite"
)

// echoSession prints the last line of every program and counts restarts.
type echoSession struct {
	restarts   int
	restartErr error
}

func (s *echoSession) Execute(_ context.Context, code string) protocol.ExecutionResult {
	return protocol.ExecutionResult{Stdout: code[strings.LastIndex(code, "\n")+1:] + "\n"}
}

func (s *echoSession) State() sandbox.State {
	return sandbox.State{Phase: sandbox.PhaseReady}
}

func (s *echoSession) Reinitialize(context.Context) error {
	s.restarts++
	return s.restartErr
}

func newEngine(t *testing.T, session Session) *Engine {
	t.Helper()
	registry, err := suite.NewRegistry(&suite.Suite{
		ID: "echo",
		Tests: []harness.TestCase{
			{ID: "a", Input: "a", ExpectedOutput: "a"},
			{ID: "b", Input: "b", ExpectedOutput: "c"},
			{ID: "c", Input: "c", ExpectedOutput: "c", Hidden: true},
			{ID: "d", Input: "d", ExpectedOutput: "d"},
		},
	})
	require.NoError(t, err)
	return New(zaptest.NewLogger(t), session, registry)
}

func TestEngineExecute(t *testing.T) {
	e := newEngine(t, &echoSession{})
	assert.Equal(t, "hi\n", e.Execute(context.Background(), "hi").Stdout)
}

func TestEngineRunSuite(t *testing.T) {
	e := newEngine(t, &echoSession{})

	report, err := e.RunSuite(context.Background(), "code", "echo")
	require.NoError(t, err)
	require.Len(t, report.Results, 4)
	assert.Equal(t, harness.Summary{Passed: 3, Failed: 1, Total: 4}, report.Summary)
	assert.InDelta(t, 0.75, report.Score, 1e-9)

	_, err = e.RunSuite(context.Background(), "code", "missing")
	require.ErrorIs(t, err, suite.ErrNotFound)
	assert.Equal(t, []string{"echo"}, e.Suites())
}

func TestEngineRunTestsEmpty(t *testing.T) {
	e := newEngine(t, &echoSession{})

	report := e.RunTests(context.Background(), "code", nil)
	assert.Empty(t, report.Results)
	assert.True(t, report.Summary.AllPassed)
	assert.Zero(t, report.Score)
}

func TestEngineStateAndRestart(t *testing.T) {
	session := &echoSession{}
	e := newEngine(t, session)

	assert.Equal(t, sandbox.PhaseReady, e.State().Phase)
	require.NoError(t, e.Restart(context.Background()))
	assert.Equal(t, 1, session.restarts)

	session.restartErr = errors.New("factory failed")
	require.Error(t, e.Restart(context.Background()))
}
