package phases

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Fatal precondition errors. Executors return them wrapped in a
// *PhaseError.
var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrPrecondition     = errors.New("precondition failed")
	ErrWorkspaceInvalid = errors.New("workspace invalid")
	ErrPhaseOrder       = errors.New("phase order violation")
)

// Severity classifies how an error affects the workflow.
type Severity string

const (
	// SeverityCritical fails the phase and is returned to the caller.
	SeverityCritical Severity = "critical"
	// SeverityHigh is recorded in the result but the phase continues.
	SeverityHigh Severity = "high"
	// SeverityLow is logged only.
	SeverityLow Severity = "low"
)

// PhaseError is a structured phase failure.
type PhaseError struct {
	Phase     Kind
	Operation string
	Severity  Severity
	Err       error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s phase: %s failed: %v", e.Phase, e.Operation, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

func critical(k Kind, op string, err error) *PhaseError {
	return &PhaseError{Phase: k, Operation: op, Severity: SeverityCritical, Err: err}
}

// tolerate records a failure that does not fail the phase. Both
// severities are logged; high severity is also listed under DataWarnings
// and in the issue comment.
func (r *run) tolerate(sev Severity, op string, err error, msg string, fields ...zap.Field) *PhaseError {
	pe := &PhaseError{Phase: r.kind, Operation: op, Severity: sev, Err: err}
	fields = append(fields, zap.String("severity", string(sev)), zap.String("operation", op), zap.Error(err))
	r.log().Warn(r.ctx, msg, fields...)
	if sev == SeverityHigh {
		r.result.set(DataWarnings, append(r.result.Strings(DataWarnings), pe.Error()))
		r.comment.warn(strings.ToUpper(msg[:1]) + msg[1:])
	}
	return pe
}
