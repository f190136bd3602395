package http

import (
	"github.com/fyrsmithlabs/shipyard/internal/phases"
	"github.com/fyrsmithlabs/shipyard/internal/state"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
}

// CreateWorkflowRequest is the request body for POST /api/v1/workflows.
type CreateWorkflowRequest struct {
	ID           string `json:"id,omitempty"`
	IssueNumber  *int   `json:"issueNumber,omitempty"`
	PRNumber     *int   `json:"prNumber,omitempty"`
	BranchName   string `json:"branchName,omitempty"`
	WorktreePath string `json:"worktreePath,omitempty"`
	Phase        string `json:"phase,omitempty"`
}

// UpdateWorkflowRequest is the request body for PATCH /api/v1/workflows/:id.
// Only provided fields change.
type UpdateWorkflowRequest struct {
	IssueNumber  *int    `json:"issueNumber,omitempty"`
	PRNumber     *int    `json:"prNumber,omitempty"`
	BranchName   *string `json:"branchName,omitempty"`
	WorktreePath *string `json:"worktreePath,omitempty"`
	BackendPort  *int    `json:"backendPort,omitempty"`
	FrontendPort *int    `json:"frontendPort,omitempty"`
}

// WorkflowListResponse is the response body for GET /api/v1/workflows.
type WorkflowListResponse struct {
	Workflows []*state.WorkflowState `json:"workflows"`
	Count     int                    `json:"count"`
}

// StartPipelineRequest is the request body for POST /api/v1/workflows/:id/pipeline.
type StartPipelineRequest struct {
	From        string `json:"from,omitempty"`
	Through     string `json:"through,omitempty"`
	PlanFile    string `json:"planFile,omitempty"`
	SpecFile    string `json:"specFile,omitempty"`
	E2E         bool   `json:"e2e,omitempty"`
	AutoApprove bool   `json:"autoApprove,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

func (r StartPipelineRequest) options() phases.Options {
	return phases.Options{
		Force:       r.Force,
		PlanFile:    r.PlanFile,
		E2E:         r.E2E,
		SpecFile:    r.SpecFile,
		AutoApprove: r.AutoApprove,
	}
}

// StartPipelineResponse is returned when a pipeline was accepted.
type StartPipelineResponse struct {
	WorkflowID         string `json:"workflowId"`
	TemporalWorkflowID string `json:"temporalWorkflowId"`
	RunID              string `json:"runId"`
}
