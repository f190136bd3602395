// Package secrets scans content for credentials with the Gitleaks rule set.
//
// Phases run Guard over the staged diff before every commit, and redact
// agent output before it is posted to an issue.
package secrets

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

var (
	// ErrSecretsDetected is wrapped by DetectedError.
	ErrSecretsDetected = errors.New("secrets detected")

	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

// Finding is a detected secret. Match holds the raw value and is never
// serialized or logged.
type Finding struct {
	RuleID   string `json:"ruleId"`
	RuleDesc string `json:"description"`
	Line     int    `json:"line"`
	StartCol int    `json:"startCol"`
	EndCol   int    `json:"endCol"`
	Match    string `json:"-"`
}

// DetectedError lists the rules that matched without their values.
type DetectedError struct {
	Findings []Finding
}

func (e *DetectedError) Error() string {
	rules := make([]string, 0, len(e.Findings))
	seen := make(map[string]struct{})
	for _, f := range e.Findings {
		if _, ok := seen[f.RuleID]; ok {
			continue
		}
		seen[f.RuleID] = struct{}{}
		rules = append(rules, f.RuleID)
	}
	sort.Strings(rules)
	return fmt.Sprintf("%d secret(s) detected (rules: %s)", len(e.Findings), strings.Join(rules, ", "))
}

func (e *DetectedError) Unwrap() error { return ErrSecretsDetected }

// Detect scans content with the default Gitleaks configuration.
// allowlist may be nil.
func Detect(content string, allowlist *Allowlist) ([]Finding, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}
	if allowlist != nil && !allowlist.Empty() {
		if err := applyAllowlist(&detector.Config, allowlist); err != nil {
			return nil, err
		}
	}

	found := detector.DetectString(content)
	out := make([]Finding, 0, len(found))
	for _, f := range found {
		out = append(out, Finding{
			RuleID:   f.RuleID,
			RuleDesc: f.Description,
			Line:     f.StartLine,
			StartCol: f.StartColumn,
			EndCol:   f.EndColumn,
			Match:    f.Secret,
		})
	}
	return out, nil
}

// Guard returns a *DetectedError when content contains secrets. The
// allowlist is read from dir/.gitleaks.toml when present.
func Guard(content, dir string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	allowlist, err := LoadAllowlist(dir)
	if err != nil {
		return fmt.Errorf("loading allowlist: %w", err)
	}
	findings, err := Detect(content, allowlist)
	if err != nil {
		return err
	}
	if len(findings) > 0 {
		return &DetectedError{Findings: findings}
	}
	return nil
}

// Redact replaces every detected secret in content with a
// [REDACTED:<rule>] marker. On detector failure the content is withheld.
func Redact(content string) string {
	if content == "" {
		return content
	}
	findings, err := Detect(content, nil)
	if err != nil {
		return "[REDACTED:detector-unavailable]"
	}
	if len(findings) == 0 {
		return content
	}
	for _, f := range findings {
		if f.Match == "" {
			continue
		}
		content = strings.ReplaceAll(content, f.Match, "[REDACTED:"+f.RuleID+"]")
	}
	return content
}

func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) error {
	global := &gitleaksConfig.Allowlist{Description: "shipyard worktree allowlist"}
	for _, pattern := range allowlist.Paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(re))
	}
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allowlist.StopWords...)
	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}
