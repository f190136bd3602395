package phases

import (
	"fmt"

	"github.com/fyrsmithlabs/shipyard/internal/state"
)

// Kind names a phase executor.
type Kind string

const (
	Build    Kind = "build"
	Test     Kind = "test"
	Review   Kind = "review"
	Document Kind = "document"
	Ship     Kind = "ship"
)

var kinds = []Kind{Build, Test, Review, Document, Ship}

// Kinds returns the executors in pipeline order.
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

// Entry is the phase a workflow is expected to be in before k runs.
func (k Kind) Entry() state.Phase {
	switch k {
	case Build:
		return state.PhasePlanned
	case Test:
		return state.PhaseBuilt
	case Review:
		return state.PhaseTested
	case Document:
		return state.PhaseReviewed
	case Ship:
		return state.PhaseDocumented
	}
	return ""
}

// Exit is the phase k writes when it finishes, success or failure.
func (k Kind) Exit() state.Phase {
	next, _ := k.Entry().Next()
	return next
}

// ParseKind validates s as an executor name.
func ParseKind(s string) (Kind, error) {
	for _, k := range kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown phase executor %q", s)
}

// KindFrom returns the executor whose entry phase is p.
func KindFrom(p state.Phase) (Kind, bool) {
	for _, k := range kinds {
		if k.Entry() == p {
			return k, true
		}
	}
	return "", false
}

// KindExiting returns the executor whose exit phase is p.
func KindExiting(p state.Phase) (Kind, bool) {
	for _, k := range kinds {
		if k.Exit() == p {
			return k, true
		}
	}
	return "", false
}
