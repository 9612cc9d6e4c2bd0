package harness

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codelab/protocol"
)

// TestCase is one input snippet and the output it must produce.
type TestCase struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name,omitempty" yaml:"name,omitempty"`
	Input          string `json:"input" yaml:"input"`
	ExpectedOutput string `json:"expectedOutput" yaml:"expected"`
	Hidden         bool   `json:"hidden,omitempty" yaml:"hidden,omitempty"`
}

// TestResult is the verdict for one TestCase.
type TestResult struct {
	TestCase        TestCase `json:"testCase"`
	Passed          bool     `json:"passed"`
	ActualOutput    string   `json:"actualOutput"`
	Error           string   `json:"error,omitempty"`
	ExecutionTimeMs int64    `json:"executionTimeMs"`
}

// Executor runs a program and reports every failure inside the result.
type Executor interface {
	Execute(ctx context.Context, code string) protocol.ExecutionResult
}

// Harness drives an Executor through a list of test cases.
type Harness struct {
	logger   *zap.Logger
	executor Executor
}

// New creates a Harness.
func New(logger *zap.Logger, executor Executor) *Harness {
	return &Harness{
		logger:   logger.Named("harness"),
		executor: executor,
	}
}

// Compose builds the program run for a test case.
func Compose(code, input string) string {
	return code + "\n" + input
}

// RunTests executes every case in order, strictly one at a time. When ctx
// ends, the remaining cases still get a failed result.
func (h *Harness) RunTests(ctx context.Context, code string, cases []TestCase) []TestResult {
	results := make([]TestResult, 0, len(cases))

	for _, tc := range cases {
		start := time.Now()
		res := h.executor.Execute(ctx, Compose(code, tc.Input))
		elapsed := time.Since(start).Milliseconds()

		passed, actual := Evaluate(tc, res)
		results = append(results, TestResult{
			TestCase:        tc,
			Passed:          passed,
			ActualOutput:    actual,
			Error:           res.Error,
			ExecutionTimeMs: elapsed,
		})

		h.logger.Debug("test case evaluated",
			zap.String("id", tc.ID),
			zap.Bool("passed", passed),
			zap.Int64("elapsed_ms", elapsed),
			zap.String("error", res.Error))
	}

	summary := Summarize(results)
	h.logger.Info("test run finished",
		zap.Int("passed", summary.Passed),
		zap.Int("failed", summary.Failed),
		zap.Int("total", summary.Total))

	return results
}
