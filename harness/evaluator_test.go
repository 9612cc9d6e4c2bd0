package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/isdmx/codelab/protocol"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		result   protocol.ExecutionResult
		passed   bool
		actual   string
	}{
		{"exact", "3", protocol.ExecutionResult{Stdout: "3"}, true, "3"},
		{"surrounding whitespace", "3", protocol.ExecutionResult{Stdout: " 3 \n"}, true, "3"},
		{"expected padded", "  hello\n", protocol.ExecutionResult{Stdout: "hello"}, true, "hello"},
		{"internal whitespace differs", "3  4", protocol.ExecutionResult{Stdout: "3 4"}, false, "3 4"},
		{"multi line", "a\nb", protocol.ExecutionResult{Stdout: "a\nb\n"}, true, "a\nb"},
		{"different", "5", protocol.ExecutionResult{Stdout: "4\n"}, false, "4"},
		{"error overrides match", "3", protocol.ExecutionResult{Stdout: "3\n", Error: "ValueError: bad"}, false, "3"},
		{"empty expected", "", protocol.ExecutionResult{Stdout: "\n"}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passed, actual := Evaluate(TestCase{ExpectedOutput: tt.expected}, tt.result)
			assert.Equal(t, tt.passed, passed)
			assert.Equal(t, tt.actual, actual)
		})
	}
}

func TestSummarize(t *testing.T) {
	results := []TestResult{{Passed: true}, {Passed: true}, {Passed: false}}
	assert.Equal(t, Summary{Passed: 2, Failed: 1, Total: 3, AllPassed: false}, Summarize(results))
	assert.Equal(t, Summary{Passed: 1, Total: 1, AllPassed: true}, Summarize(results[:1]))
}

func TestPartialScore(t *testing.T) {
	assert.InDelta(t, 0.5, PartialScore(1, 2), 1e-9)
	assert.InDelta(t, 1.0, PartialScore(3, 3), 1e-9)
	assert.Zero(t, PartialScore(0, 0))
	assert.Zero(t, PartialScore(2, 0))
}
