// Package ignore provides gitignore-style matching for worktree scans.
//
// Supported syntax is the common subset: comments, blank lines, trailing
// "/" for directories, leading "/" to anchor at the root, and shell globs.
// Negations are skipped.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPatterns are always applied.
var DefaultPatterns = []string{".git/", "node_modules/"}

type rule struct {
	pattern string
	dirOnly bool
	// anchored rules match the whole relative path instead of any segment.
	anchored bool
}

// Matcher reports whether paths relative to a root are ignored.
type Matcher struct {
	rules []rule
}

// New builds a Matcher from gitignore-style lines.
func New(lines []string) *Matcher {
	m := &Matcher{}
	for _, line := range deduplicate(lines) {
		if r, ok := parseLine(line); ok {
			m.rules = append(m.rules, r)
		}
	}
	return m
}

// Load reads root/.gitignore on top of DefaultPatterns. A missing or
// unreadable file yields the defaults only.
func Load(root string) *Matcher {
	lines := append([]string(nil), DefaultPatterns...)
	if fileLines, err := parseFile(filepath.Join(root, ".gitignore")); err == nil {
		lines = append(lines, fileLines...)
	}
	return New(lines)
}

// Match reports whether rel, a slash- or OS-separated path relative to the
// root, is ignored.
func (m *Matcher) Match(rel string, isDir bool) bool {
	if m == nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	base := rel
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		base = rel[i+1:]
	}
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		target := base
		if r.anchored {
			target = rel
		}
		if ok, _ := filepath.Match(r.pattern, target); ok {
			return true
		}
	}
	return false
}

// parseFile reads a single gitignore-style file.
func parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// parseLine converts one gitignore line to a rule. Comments, blank lines
// and negations yield ok=false.
func parseLine(line string) (rule, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return rule{}, false
	}

	var r rule
	line = strings.TrimPrefix(line, "**/")
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = strings.TrimLeft(line, "/")
	}
	// a slash in the middle also anchors the pattern
	if strings.Contains(line, "/") {
		r.anchored = true
	}
	if line == "" {
		return rule{}, false
	}
	r.pattern = line
	return r, true
}

// deduplicate removes duplicate lines while preserving order.
func deduplicate(lines []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(lines))

	for _, p := range lines {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}

	return result
}
