package phases

import (
	"encoding/json"
	"strings"
)

// TestResult is one entry of the JSON array /test and /test_e2e print.
type TestResult struct {
	Name    string `json:"test_name"`
	Passed  *bool  `json:"passed,omitempty"`
	Status  string `json:"status,omitempty"`
	Command string `json:"execution_command,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK reports whether the test passed, from either the passed flag or the
// status string.
func (t TestResult) OK() bool {
	if t.Passed != nil {
		return *t.Passed
	}
	switch strings.ToLower(t.Status) {
	case "passed", "pass", "ok", "success":
		return true
	}
	return false
}

// ParseTestResults extracts the results array from agent output. ok is
// false when no array could be decoded.
func ParseTestResults(output string) (results []TestResult, ok bool) {
	for _, candidate := range jsonArrayCandidates(output) {
		var rs []TestResult
		if err := json.Unmarshal([]byte(candidate), &rs); err == nil {
			return rs, true
		}
	}
	return nil, false
}

func jsonArrayCandidates(output string) []string {
	var out []string
	if i := strings.Index(output, "```json"); i >= 0 {
		rest := output[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			out = append(out, strings.TrimSpace(rest[:j]))
		}
	}
	if i, j := strings.Index(output, "["), strings.LastIndex(output, "]"); i >= 0 && j > i {
		out = append(out, output[i:j+1])
	}
	return out
}

// testTally summarizes a results array.
type testTally struct {
	parsed bool
	passed int
	failed []TestResult
}

func tally(output string) testTally {
	rs, ok := ParseTestResults(output)
	t := testTally{parsed: ok}
	for _, r := range rs {
		if r.OK() {
			t.passed++
		} else {
			t.failed = append(t.failed, r)
		}
	}
	return t
}

// failureSummary is passed to the resolver command.
func (t testTally) failureSummary(fallback string) string {
	if len(t.failed) == 0 {
		return fallback
	}
	b, err := json.Marshal(t.failed)
	if err != nil {
		return fallback
	}
	return string(b)
}
