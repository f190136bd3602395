// Package review decides whether review output contains blockers.
package review

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Verdict is a classification outcome.
type Verdict struct {
	HasBlockers bool
	Blockers    []string
	// Decided is false when the classifier could not interpret the output.
	Decided bool
}

// Classifier inspects agent review output.
type Classifier interface {
	Classify(output string) Verdict
}

// Severity values in structured review output.
const (
	SeverityBlocker   = "blocker"
	SeverityCritical  = "critical"
	SeverityTechDebt  = "tech_debt"
	SeveritySkippable = "skippable"
)

// Blocking reports whether an issue of severity sev stops the review.
func Blocking(sev string) bool {
	return strings.EqualFold(sev, SeverityBlocker) || strings.EqualFold(sev, SeverityCritical)
}

// Issue is one entry of a structured review report.
type Issue struct {
	Number      int    `json:"review_issue_number"`
	Screenshot  string `json:"screenshot_path"`
	Description string `json:"issue_description"`
	Resolution  string `json:"issue_resolution"`
	Severity    string `json:"issue_severity"`
}

// Report is the structured review contract.
type Report struct {
	Success     bool     `json:"success"`
	Summary     string   `json:"review_summary"`
	Issues      []Issue  `json:"review_issues"`
	Screenshots []string `json:"screenshots"`
}

// ParseReport extracts a Report from output, which may wrap the JSON in
// prose or a fenced code block.
func ParseReport(output string) (*Report, bool) {
	for _, candidate := range jsonCandidates(output) {
		var r Report
		if err := json.Unmarshal([]byte(candidate), &r); err != nil {
			continue
		}
		if r.Issues == nil && r.Summary == "" {
			continue
		}
		return &r, true
	}
	return nil, false
}

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

func jsonCandidates(output string) []string {
	var out []string
	for _, m := range fencePattern.FindAllStringSubmatch(output, -1) {
		out = append(out, m[1])
	}
	if start, end := strings.Index(output, "{"), strings.LastIndex(output, "}"); start >= 0 && end > start {
		out = append(out, output[start:end+1])
	}
	return out
}

// StructuredClassifier reads review_issues[].issue_severity. Blocker and
// critical issues block.
type StructuredClassifier struct{}

func (StructuredClassifier) Classify(output string) Verdict {
	report, ok := ParseReport(output)
	if !ok {
		return Verdict{}
	}
	v := Verdict{Decided: true}
	for _, issue := range report.Issues {
		if Blocking(issue.Severity) {
			v.HasBlockers = true
			v.Blockers = append(v.Blockers, issue.Description)
		}
	}
	return v
}

var (
	markerPattern   = regexp.MustCompile(`(?i)severity:\s*(critical|blocker)`)
	blockerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bblockers?\b`),
		regexp.MustCompile(`(?i)\bcritical issues?\b`),
		regexp.MustCompile(`(?i)\bmust fix\b`),
		markerPattern,
	}
	negatedPrefix   = regexp.MustCompile(`(?i)\bnon[- ]?$`)
	negationPattern = regexp.MustCompile(`(?i)\b(no|zero|without|none|0)\b[^.\n]{0,20}$`)
	emptyPattern    = regexp.MustCompile(`(?i)^\s*[:=-]?\s*(none|0|n/a)\b`)
)

// KeywordClassifier flags lines that mention blocker phrases, ignoring
// negated mentions such as "no blockers found", "Blockers: none" or
// "non-blocker".
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(output string) Verdict {
	return scanLines(output, blockerPatterns)
}

// MarkerClassifier flags only explicit "severity: critical" and
// "severity: blocker" markers.
type MarkerClassifier struct{}

func (MarkerClassifier) Classify(output string) Verdict {
	return scanLines(output, []*regexp.Regexp{markerPattern})
}

func scanLines(output string, patterns []*regexp.Regexp) Verdict {
	v := Verdict{Decided: true}
	for _, line := range strings.Split(output, "\n") {
		if lineMatches(line, patterns) {
			v.HasBlockers = true
			v.Blockers = append(v.Blockers, strings.TrimSpace(line))
		}
	}
	return v
}

func lineMatches(line string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		for _, loc := range p.FindAllStringIndex(line, -1) {
			before, after := line[:loc[0]], line[loc[1]:]
			if negatedPrefix.MatchString(before) || negationPattern.MatchString(before) || emptyPattern.MatchString(after) {
				continue
			}
			return true
		}
	}
	return false
}

// Chain returns the first decided verdict.
type Chain []Classifier

func (c Chain) Classify(output string) Verdict {
	for _, cl := range c {
		if v := cl.Classify(output); v.Decided {
			return v
		}
	}
	return Verdict{}
}

// Any blocks when any decided member finds blockers. Blocker lists are
// merged without duplicates.
type Any []Classifier

func (a Any) Classify(output string) Verdict {
	var out Verdict
	seen := map[string]bool{}
	for _, cl := range a {
		v := cl.Classify(output)
		if !v.Decided {
			continue
		}
		out.Decided = true
		out.HasBlockers = out.HasBlockers || v.HasBlockers
		for _, b := range v.Blockers {
			if !seen[b] {
				seen[b] = true
				out.Blockers = append(out.Blockers, b)
			}
		}
	}
	return out
}

// Default is structured parsing with a keyword fallback. Explicit severity
// markers block even when a structured report says otherwise.
func Default() Classifier {
	return Any{Chain{StructuredClassifier{}, KeywordClassifier{}}, MarkerClassifier{}}
}
