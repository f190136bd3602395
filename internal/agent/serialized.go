package agent

import (
	"context"
	"sync"
)

// Serialized allows at most one in-flight invocation per workflow id.
// Requests for different workflows run in parallel.
type Serialized struct {
	next  Invoker
	mu    sync.Mutex
	locks map[string]*workflowLock
}

type workflowLock struct {
	ch   chan struct{}
	refs int
}

var _ Invoker = (*Serialized)(nil)

// NewSerialized wraps next.
func NewSerialized(next Invoker) *Serialized {
	return &Serialized{next: next, locks: make(map[string]*workflowLock)}
}

// Execute waits for the workflow's previous invocation, or for ctx.
func (s *Serialized) Execute(ctx context.Context, req Request) (*Response, error) {
	lock := s.acquire(req.WorkflowID)
	defer s.release(req.WorkflowID, lock)

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-lock.ch }()

	return s.next.Execute(ctx, req)
}

func (s *Serialized) acquire(id string) *workflowLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &workflowLock{ch: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	return l
}

func (s *Serialized) release(id string, l *workflowLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
}
