package harness

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codelab/protocol"
)

// scriptedExecutor answers by the last line of the program and tracks concurrency.
type scriptedExecutor struct {
	answers map[string]protocol.ExecutionResult

	mu       sync.Mutex
	programs []string
	inFlight int
	maxSeen  int
}

func (s *scriptedExecutor) Execute(_ context.Context, code string) protocol.ExecutionResult {
	s.mu.Lock()
	s.programs = append(s.programs, code)
	s.inFlight++
	s.maxSeen = max(s.maxSeen, s.inFlight)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	lines := strings.Split(code, "\n")
	if res, ok := s.answers[lines[len(lines)-1]]; ok {
		return res
	}
	return protocol.ExecutionResult{Error: protocol.ErrorTimeout}
}

const addCode = "def add(a, b):\n    return a + b"

func TestRunTestsAddScenario(t *testing.T) {
	exec := &scriptedExecutor{answers: map[string]protocol.ExecutionResult{
		"print(add(1,2))": {Stdout: "3\n"},
		"print(add(2,2))": {Stdout: "4\n"},
	}}
	h := New(zaptest.NewLogger(t), exec)

	cases := []TestCase{
		{ID: "t1", Input: "print(add(1,2))", ExpectedOutput: "3"},
		{ID: "t2", Input: "print(add(2,2))", ExpectedOutput: "5"},
	}
	results := h.RunTests(context.Background(), addCode, cases)

	require.Len(t, results, 2)
	assert.Equal(t, cases[0], results[0].TestCase)
	assert.True(t, results[0].Passed)
	assert.Equal(t, "3", results[0].ActualOutput)
	assert.Equal(t, cases[1], results[1].TestCase)
	assert.False(t, results[1].Passed)
	assert.Equal(t, "4", results[1].ActualOutput)

	assert.Equal(t, Summary{Passed: 1, Failed: 1, Total: 2, AllPassed: false}, Summarize(results))
	assert.Equal(t, []string{addCode + "\nprint(add(1,2))", addCode + "\nprint(add(2,2))"}, exec.programs)
}

func TestRunTestsKeepsGoingAfterFailures(t *testing.T) {
	exec := &scriptedExecutor{answers: map[string]protocol.ExecutionResult{
		"boom()": {Stderr: "NameError", Error: "NameError: name 'boom' is not defined"},
		"ok()":   {Stdout: "ok"},
	}}
	h := New(zaptest.NewLogger(t), exec)

	cases := []TestCase{
		{ID: "a", Input: "boom()", ExpectedOutput: ""},
		{ID: "b", Input: "hang()", ExpectedOutput: "x"},
		{ID: "c", Input: "ok()", ExpectedOutput: "ok", Hidden: true},
	}
	results := h.RunTests(context.Background(), "", cases)

	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, cases[i], r.TestCase)
	}
	assert.False(t, results[0].Passed)
	assert.Equal(t, "NameError: name 'boom' is not defined", results[0].Error)
	assert.False(t, results[1].Passed)
	assert.Equal(t, protocol.ErrorTimeout, results[1].Error)
	assert.True(t, results[2].Passed, "hidden tests are scored like any other")
	assert.Equal(t, 1, exec.maxSeen, "tests must run one at a time")
}

func TestRunTestsEmpty(t *testing.T) {
	h := New(zaptest.NewLogger(t), &scriptedExecutor{})

	results := h.RunTests(context.Background(), "print(1)", nil)
	assert.Empty(t, results)
	assert.Equal(t, Summary{AllPassed: true}, Summarize(results))
}

func TestRunTestsIsRepeatable(t *testing.T) {
	exec := &scriptedExecutor{answers: map[string]protocol.ExecutionResult{
		"print(add(1,2))": {Stdout: "3\n"},
		"print(add(2,2))": {Stdout: "4\n"},
	}}
	h := New(zaptest.NewLogger(t), exec)
	cases := []TestCase{
		{ID: "t1", Input: "print(add(1,2))", ExpectedOutput: "3"},
		{ID: "t2", Input: "print(add(2,2))", ExpectedOutput: "5"},
	}

	verdicts := func(results []TestResult) []bool {
		out := make([]bool, len(results))
		for i, r := range results {
			out[i] = r.Passed
		}
		return out
	}
	assert.Equal(t,
		verdicts(h.RunTests(context.Background(), addCode, cases)),
		verdicts(h.RunTests(context.Background(), addCode, cases)))
}
