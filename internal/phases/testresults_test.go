package phases

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTestResults(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		wantOK     bool
		wantPassed int
		wantFailed int
	}{
		{
			name:       "bare array",
			output:     `[{"test_name":"a","passed":true},{"test_name":"b","passed":false}]`,
			wantOK:     true,
			wantPassed: 1,
			wantFailed: 1,
		},
		{
			name:       "fenced with prose",
			output:     "Ran the suite.\n```json\n[{\"test_name\":\"a\",\"status\":\"PASSED\"}]\n```\nDone.",
			wantOK:     true,
			wantPassed: 1,
		},
		{
			name:       "status failure",
			output:     `[{"test_name":"a","status":"failed"}]`,
			wantOK:     true,
			wantFailed: 1,
		},
		{
			name:   "prose only",
			output: "all good",
		},
		{
			name:   "bracketed prose",
			output: "see [docs] for details",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tally(tt.output)
			assert.Equal(t, tt.wantOK, got.parsed)
			assert.Equal(t, tt.wantPassed, got.passed)
			assert.Len(t, got.failed, tt.wantFailed)
		})
	}
}

func TestFailureSummary(t *testing.T) {
	tl := tally(`[{"test_name":"login","passed":false,"error":"401"}]`)
	assert.Contains(t, tl.failureSummary("fallback"), `"test_name":"login"`)
	assert.Equal(t, "fallback", testTally{}.failureSummary("fallback"))
}

func TestCommentRender(t *testing.T) {
	c := newComment(Test)
	c.check("Tests (2 passed, 0 failed)", true)
	c.warn("Port configuration `.ports.env` not found, using defaults")

	res := newResult()
	res.Success = true
	res.Message = "All tests passed"
	res.set(DataResolveAttempts, 0)

	body := c.render("wf-1", res, nil)
	require.Contains(t, body, "## 🧪 Test phase: ✅ Passed")
	assert.Contains(t, body, "- ✅ Tests (2 passed, 0 failed)")
	assert.Contains(t, body, "⚠️ Port configuration")
	assert.Contains(t, body, "Auto-resolution not needed")
	assert.Contains(t, body, "workflow `wf-1`")

	res.fail("Tests failed", "boom")
	body = c.render("wf-1", res, nil)
	assert.Contains(t, body, "❌ Failed")
	assert.Contains(t, body, "boom")

	ship := newComment(Ship).render("wf-1", newResult(), nil)
	assert.NotContains(t, ship, "Auto-resolution")
}
