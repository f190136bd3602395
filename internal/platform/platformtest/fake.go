// Package platformtest provides an in-memory Platform for tests.
package platformtest

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/shipyard/internal/platform"
)

// Comment is a recorded PostComment call.
type Comment struct {
	Issue int
	Body  string
}

// Merge is a recorded MergePullRequest call.
type Merge struct {
	PR     int
	Method string
}

// Fake records calls. MergeErrors are returned by successive merge
// attempts before merges start succeeding.
type Fake struct {
	mu          sync.Mutex
	comments    []Comment
	merges      []Merge
	MergeErrors []error
	CommentErr  error
}

var _ platform.Platform = (*Fake)(nil)

func (f *Fake) PostComment(_ context.Context, issue int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CommentErr != nil {
		return f.CommentErr
	}
	f.comments = append(f.comments, Comment{Issue: issue, Body: body})
	return nil
}

func (f *Fake) MergePullRequest(_ context.Context, pr int, method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merges = append(f.merges, Merge{PR: pr, Method: method})
	if len(f.MergeErrors) > 0 {
		err := f.MergeErrors[0]
		f.MergeErrors = f.MergeErrors[1:]
		return err
	}
	return nil
}

func (f *Fake) ApprovePullRequest(context.Context, int) error {
	return platform.ErrNotImplemented
}

// Comments returns a copy of the posted comments.
func (f *Fake) Comments() []Comment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Comment(nil), f.comments...)
}

// Merges returns a copy of the merge attempts.
func (f *Fake) Merges() []Merge {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Merge(nil), f.merges...)
}

// LastComment returns the most recent comment body, or "".
func (f *Fake) LastComment() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.comments) == 0 {
		return ""
	}
	return f.comments[len(f.comments)-1].Body
}
