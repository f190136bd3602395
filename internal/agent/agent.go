// Package agent invokes the external reasoning agent with slash commands.
package agent

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/shipyard/internal/session"
)

// SlashCommand is a named agent routine.
type SlashCommand string

const (
	Implement            SlashCommand = "/implement"
	Patch                SlashCommand = "/patch"
	Test                 SlashCommand = "/test"
	ResolveFailedTest    SlashCommand = "/resolve_failed_test"
	TestE2E              SlashCommand = "/test_e2e"
	ResolveFailedE2ETest SlashCommand = "/resolve_failed_e2e_test"
	Review               SlashCommand = "/review"
	Document             SlashCommand = "/document"
)

// Request is one agent invocation.
type Request struct {
	WorkflowID            string
	AgentName             string
	SlashCommand          SlashCommand
	Args                  []string
	WorkingDir            string
	SkipPermissionPrompts bool
}

// Prompt renders the slash command line sent to the agent.
func (r Request) Prompt() string {
	parts := append([]string{string(r.SlashCommand)}, r.Args...)
	return strings.TrimSpace(strings.Join(parts, " "))
}

// Error is the failure reported by an unsuccessful invocation.
type Error struct {
	Message string `json:"message"`
}

// Response is the outcome of an invocation. A failed agent run is a
// Response with Success false, not a Go error.
type Response struct {
	Success   bool          `json:"success"`
	Output    string        `json:"output"`
	Error     *Error        `json:"error,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
	Usage     session.Usage `json:"usage"`
}

// ErrorMessage returns the failure message or "".
func (r *Response) ErrorMessage() string {
	if r == nil || r.Error == nil {
		return ""
	}
	return r.Error.Message
}

// Failed builds an unsuccessful Response.
func Failed(msg string) *Response {
	return &Response{Error: &Error{Message: msg}}
}

// Invoker runs agent requests. Implementations return an error only when
// the invocation could not be attempted at all, such as a cancelled
// context.
type Invoker interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (*Response, error)

func (f InvokerFunc) Execute(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
