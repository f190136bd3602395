// Package state persists WorkflowState rows, the single source of truth for
// a workflow's phase and status.
package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/shipyard/internal/sanitize"
)

var (
	// ErrNotFound is returned when no live row exists for an id.
	ErrNotFound = errors.New("workflow state not found")
	// ErrAlreadyExists is returned by Create when a live row exists.
	ErrAlreadyExists = errors.New("workflow state already exists")
	// ErrInvalid is returned by Create for an unusable id, phase or status.
	ErrInvalid = errors.New("invalid workflow state")
)

// Store persists workflow state. Archived rows are invisible to Get and
// Update; rows are never hard-deleted.
type Store interface {
	Get(ctx context.Context, id string) (*WorkflowState, error)
	Create(ctx context.Context, st *WorkflowState) (*WorkflowState, error)
	Update(ctx context.Context, id string, u Update) (*WorkflowState, error)
	Archive(ctx context.Context, id string) error
	List(ctx context.Context, f Filter) ([]*WorkflowState, error)
	Close() error
}

// normalizeNew fills defaults on a state about to be created.
func normalizeNew(st *WorkflowState, newID func() string) error {
	if st.ID == "" {
		st.ID = newID()
	}
	if err := sanitize.WorkflowID(st.ID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if st.Phase == "" {
		st.Phase = PhasePlanned
	}
	if st.Status == "" {
		st.Status = StatusActive
	}
	if err := (Update{Phase: &st.Phase, Status: &st.Status}).Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}
