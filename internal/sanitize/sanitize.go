// Package sanitize validates identifiers and paths that come from stored
// workflow state or API input before they reach the filesystem.
package sanitize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxIDLength bounds workflow ids; they become directory and branch names.
const MaxIDLength = 64

// ErrInvalidID indicates a workflow id that cannot be used as a path segment.
var ErrInvalidID = errors.New("invalid workflow id")

// idPattern allows letters, digits, dot, dash and underscore, starting
// with a letter or digit.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// WorkflowID checks that id is safe to join below a trees directory.
func WorkflowID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidID, MaxIDLength)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("%w: contains '..'", ErrInvalidID)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q must be letters, digits, '.', '-' or '_'", ErrInvalidID, id)
	}
	return nil
}
