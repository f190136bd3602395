package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// AllowlistFile is the per-repository allowlist, in the Gitleaks format.
const AllowlistFile = ".gitleaks.toml"

// Allowlist excludes matches from detection.
type Allowlist struct {
	Paths     []string
	Regexes   []string
	StopWords []string
}

// Empty reports whether the allowlist has no entries.
func (a *Allowlist) Empty() bool {
	return len(a.Paths) == 0 && len(a.Regexes) == 0 && len(a.StopWords) == 0
}

// LoadAllowlist reads dir/.gitleaks.toml. A missing file or empty dir
// yields an empty allowlist.
func LoadAllowlist(dir string) (*Allowlist, error) {
	if dir == "" {
		return &Allowlist{}, nil
	}
	path := filepath.Join(dir, AllowlistFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return &Allowlist{}, nil
	}

	var doc struct {
		Allowlist struct {
			Paths     []string `toml:"paths"`
			Regexes   []string `toml:"regexes"`
			StopWords []string `toml:"stopwords"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, p := range append(append([]string(nil), doc.Allowlist.Paths...), doc.Allowlist.Regexes...) {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, p, path, err)
		}
	}

	return &Allowlist{
		Paths:     doc.Allowlist.Paths,
		Regexes:   doc.Allowlist.Regexes,
		StopWords: doc.Allowlist.StopWords,
	}, nil
}
