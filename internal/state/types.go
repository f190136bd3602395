package state

import (
	"fmt"
	"time"
)

// Phase is a pipeline stage a workflow has reached.
type Phase string

const (
	PhasePlanned    Phase = "planned"
	PhaseBuilt      Phase = "built"
	PhaseTested     Phase = "tested"
	PhaseReviewed   Phase = "reviewed"
	PhaseDocumented Phase = "documented"
	PhaseShipped    Phase = "shipped"
)

// phaseOrder is the fixed happy-path sequence.
var phaseOrder = []Phase{
	PhasePlanned,
	PhaseBuilt,
	PhaseTested,
	PhaseReviewed,
	PhaseDocumented,
	PhaseShipped,
}

// Phases returns the ordered phase sequence.
func Phases() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// Index returns the position of p in the sequence, or -1.
func (p Phase) Index() int {
	for i, q := range phaseOrder {
		if q == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// Next returns the phase after p. ok is false for shipped and unknown phases.
func (p Phase) Next() (next Phase, ok bool) {
	i := p.Index()
	if i < 0 || i == len(phaseOrder)-1 {
		return "", false
	}
	return phaseOrder[i+1], true
}

// Before reports whether p comes strictly before q.
func (p Phase) Before(q Phase) bool {
	return p.Valid() && q.Valid() && p.Index() < q.Index()
}

// ParsePhase validates s as a phase name.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// Status is the health of a workflow, independent of its phase.
type Status string

const (
	StatusActive    Status = "active"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusFailed, StatusCompleted:
		return true
	}
	return false
}

// WorkflowState is the persisted record of one automated change.
type WorkflowState struct {
	ID     string `json:"id"`
	Phase  Phase  `json:"phase"`
	Status Status `json:"status"`

	IssueNumber *int    `json:"issueNumber,omitempty"`
	PRNumber    *int    `json:"prNumber,omitempty"`
	BranchName  *string `json:"branchName,omitempty"`

	// WorktreePath is kept for audit after the worktree is removed;
	// WorktreeExists tracks whether it is still on disk.
	WorktreePath   *string `json:"worktreePath,omitempty"`
	WorktreeExists bool    `json:"worktreeExists"`

	BackendPort  *int `json:"backendPort,omitempty"`
	FrontendPort *int `json:"frontendPort,omitempty"`

	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Archived    bool       `json:"archived"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Branch returns the branch name or "".
func (s *WorkflowState) Branch() string {
	if s.BranchName == nil {
		return ""
	}
	return *s.BranchName
}

// Worktree returns the worktree path or "".
func (s *WorkflowState) Worktree() string {
	if s.WorktreePath == nil {
		return ""
	}
	return *s.WorktreePath
}

// Update is a partial write; nil fields are left unchanged.
type Update struct {
	Phase          *Phase
	Status         *Status
	IssueNumber    *int
	PRNumber       *int
	BranchName     *string
	WorktreePath   *string
	WorktreeExists *bool
	BackendPort    *int
	FrontendPort   *int
	CompletedAt    *time.Time
}

// IsEmpty reports whether u changes nothing.
func (u Update) IsEmpty() bool {
	return len(u.assignments()) == 0
}

// Validate rejects unknown enum values.
func (u Update) Validate() error {
	if u.Phase != nil && !u.Phase.Valid() {
		return fmt.Errorf("unknown phase %q", *u.Phase)
	}
	if u.Status != nil && !u.Status.Valid() {
		return fmt.Errorf("unknown status %q", *u.Status)
	}
	return nil
}

type assignment struct {
	column string
	value  any
}

// assignments lists the columns u sets, in a stable order.
func (u Update) assignments() []assignment {
	var out []assignment
	if u.Phase != nil {
		out = append(out, assignment{"phase", string(*u.Phase)})
	}
	if u.Status != nil {
		out = append(out, assignment{"status", string(*u.Status)})
	}
	if u.IssueNumber != nil {
		out = append(out, assignment{"issue_number", *u.IssueNumber})
	}
	if u.PRNumber != nil {
		out = append(out, assignment{"pr_number", *u.PRNumber})
	}
	if u.BranchName != nil {
		out = append(out, assignment{"branch_name", *u.BranchName})
	}
	if u.WorktreePath != nil {
		out = append(out, assignment{"worktree_path", *u.WorktreePath})
	}
	if u.WorktreeExists != nil {
		out = append(out, assignment{"worktree_exists", *u.WorktreeExists})
	}
	if u.BackendPort != nil {
		out = append(out, assignment{"backend_port", *u.BackendPort})
	}
	if u.FrontendPort != nil {
		out = append(out, assignment{"frontend_port", *u.FrontendPort})
	}
	if u.CompletedAt != nil {
		out = append(out, assignment{"completed_at", u.CompletedAt.UTC()})
	}
	return out
}

// Filter narrows List results.
type Filter struct {
	Status          Status
	Phase           Phase
	IncludeArchived bool
	Limit           int
}

// Ptr returns a pointer to v, for building Update values.
func Ptr[T any](v T) *T {
	return &v
}
