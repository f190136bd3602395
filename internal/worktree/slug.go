package worktree

import (
	"regexp"
	"strings"
)

// Matches git@host:owner/repo(.git), https://host/owner/repo(.git) and
// ssh://git@host/owner/repo(.git).
var slugPattern = regexp.MustCompile(`[:/]([^/:]+)/([^/]+?)(?:\.git)?/?$`)

func parseSlug(url string) (owner, name string, ok bool) {
	url = strings.TrimSpace(url)
	if !strings.Contains(url, "@") && !strings.Contains(url, "://") {
		// local path remotes carry no owner
		return "", "", false
	}
	m := slugPattern.FindStringSubmatch(url)
	if len(m) != 3 {
		return "", "", false
	}
	return m[1], m[2], true
}
