package harness

import (
	"strings"

	"github.com/isdmx/codelab/protocol"
)

// Summary aggregates a list of test results.
type Summary struct {
	Passed    int  `json:"passed"`
	Failed    int  `json:"failed"`
	Total     int  `json:"total"`
	AllPassed bool `json:"allPassed"`
}

// Evaluate decides whether res satisfies tc and returns the trimmed stdout.
// Only leading and trailing whitespace is ignored; an execution error always fails.
func Evaluate(tc TestCase, res protocol.ExecutionResult) (passed bool, actual string) {
	actual = strings.TrimSpace(res.Stdout)
	if res.Error != "" {
		return false, actual
	}
	return actual == strings.TrimSpace(tc.ExpectedOutput), actual
}

// Summarize counts passes and failures. An empty list is vacuously all passed.
func Summarize(results []TestResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	s.AllPassed = s.Failed == 0
	return s
}

// PartialScore is the fraction of correct parts, or 0 when there are none.
func PartialScore(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(correct) / float64(total)
}
