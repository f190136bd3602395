// Package agenttest provides a scripted Invoker for tests.
package agenttest

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/shipyard/internal/agent"
)

// Step is one scripted reply. Effect, when set, runs before the reply is
// returned, typically to write files into req.WorkingDir.
type Step struct {
	Response *agent.Response
	Err      error
	Effect   func(req agent.Request)
}

// Ok is a successful step with output.
func Ok(output string) Step {
	return Step{Response: &agent.Response{Success: true, Output: output}}
}

// Fail is an unsuccessful step.
func Fail(msg string) Step {
	return Step{Response: agent.Failed(msg)}
}

// Then attaches an effect to the step.
func (s Step) Then(effect func(req agent.Request)) Step {
	s.Effect = effect
	return s
}

// Script replies per slash command in order. When a command's queue is
// exhausted its last step repeats; unscripted commands succeed with empty
// output.
type Script struct {
	mu    sync.Mutex
	steps map[agent.SlashCommand][]Step
	calls []agent.Request
}

var _ agent.Invoker = (*Script)(nil)

// NewScript returns an empty script.
func NewScript() *Script {
	return &Script{steps: make(map[agent.SlashCommand][]Step)}
}

// On appends steps for cmd.
func (s *Script) On(cmd agent.SlashCommand, steps ...Step) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[cmd] = append(s.steps[cmd], steps...)
	return s
}

func (s *Script) Execute(ctx context.Context, req agent.Request) (*agent.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls = append(s.calls, req)
	step := Ok("")
	if queue := s.steps[req.SlashCommand]; len(queue) > 0 {
		step = queue[0]
		if len(queue) > 1 {
			s.steps[req.SlashCommand] = queue[1:]
		}
	}
	s.mu.Unlock()

	if step.Effect != nil {
		step.Effect(req)
	}
	if step.Err != nil {
		return nil, step.Err
	}
	resp := *step.Response
	return &resp, nil
}

// Calls returns the received requests in order.
func (s *Script) Calls() []agent.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]agent.Request(nil), s.calls...)
}

// Count returns how many times cmd was invoked.
func (s *Script) Count(cmd agent.SlashCommand) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.SlashCommand == cmd {
			n++
		}
	}
	return n
}
