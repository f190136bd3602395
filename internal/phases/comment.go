package phases

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/secrets"
)

var phaseIcons = map[Kind]string{
	Build:    "🔨",
	Test:     "🧪",
	Review:   "🔍",
	Document: "📝",
	Ship:     "🚀",
}

// commentBuilder assembles the markdown issue comment for one phase run.
type commentBuilder struct {
	kind  Kind
	lines []string
}

func newComment(k Kind) *commentBuilder {
	return &commentBuilder{kind: k}
}

func (c *commentBuilder) add(format string, args ...any) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func (c *commentBuilder) check(name string, passed bool) {
	mark := "✅"
	if !passed {
		mark = "❌"
	}
	c.add("- %s %s", mark, name)
}

func (c *commentBuilder) warn(msg string) {
	c.add("⚠️ %s", msg)
}

func (c *commentBuilder) render(workflowID string, res *Result, runErr error) string {
	title := strings.ToUpper(string(c.kind[:1])) + string(c.kind[1:])
	outcome := "✅ Passed"
	if runErr != nil || !res.Success {
		outcome = "❌ Failed"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s %s phase: %s\n\n", phaseIcons[c.kind], title, outcome)
	if res.Message != "" {
		fmt.Fprintf(&b, "%s\n\n", res.Message)
	}
	for _, l := range c.lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}

	if c.kind != Document && c.kind != Ship {
		if n := res.Int(DataResolveAttempts) + res.Int(DataE2EResolveAttempts); n > 0 {
			fmt.Fprintf(&b, "\n🔧 Auto-resolution used %d time(s)\n", n)
		} else {
			b.WriteString("\nAuto-resolution not needed\n")
		}
	}
	if res.Bool(DataCommitted) {
		fmt.Fprintf(&b, "📦 Changes committed and pushed (%d push attempt(s))\n", res.Int(DataPushAttempts))
	}
	if errText := res.Error; errText != "" {
		fmt.Fprintf(&b, "\n**Error:**\n```\n%s\n```\n", truncate(errText, 2000))
	}
	fmt.Fprintf(&b, "\n<sub>workflow `%s`</sub>\n", workflowID)
	return b.String()
}

// postComment publishes the run summary. A failure is low severity.
func (e *Engine) postComment(ctx context.Context, r *run, runErr error) {
	if e.platform == nil || r.state.IssueNumber == nil {
		e.logger.Debug(ctx, "skipping issue comment", zap.Bool("has_platform", e.platform != nil))
		return
	}
	body := secrets.Redact(r.comment.render(r.state.ID, r.result, runErr))
	if err := e.platform.PostComment(ctx, *r.state.IssueNumber, body); err != nil {
		r.tolerate(SeverityLow, "post issue comment", err,
			"posting issue comment failed", zap.Int("issue", *r.state.IssueNumber))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
