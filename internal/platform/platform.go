// Package platform talks to the issue and pull request host.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Merge methods accepted by MergePullRequest.
const (
	MergeSquash = "squash"
	MergeMerge  = "merge"
	MergeRebase = "rebase"
)

// ErrNotImplemented marks operations the platform client does not offer.
var ErrNotImplemented = errors.New("not implemented")

// ErrAlreadyMerged marks a merge refused because the pull request is
// already merged or closed.
var ErrAlreadyMerged = errors.New("pull request already merged")

// Platform posts issue comments and merges pull requests.
type Platform interface {
	PostComment(ctx context.Context, issue int, body string) error
	MergePullRequest(ctx context.Context, pr int, method string) error
	// ApprovePullRequest is a known capability gap and returns ErrNotImplemented.
	ApprovePullRequest(ctx context.Context, pr int) error
}

// APIError is a failed platform call.
type APIError struct {
	Op         string
	StatusCode int
	// RateLimited is set for 429s and secondary rate limits.
	RateLimited bool
	Err         error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the call may succeed if repeated: rate limits,
// 5xx responses and transport failures.
func (e *APIError) Retryable() bool {
	if e.RateLimited {
		return true
	}
	switch e.StatusCode {
	case 0:
		return !errors.Is(e.Err, context.Canceled) && !errors.Is(e.Err, context.DeadlineExceeded)
	case http.StatusTooManyRequests:
		return true
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusConflict,
		http.StatusUnprocessableEntity:
		return false
	}
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable is a predicate for retry.WithRetryable. Errors that are not
// an *APIError are treated as transient.
func IsRetryable(err error) bool {
	if IsAlreadyMerged(err) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// IsAlreadyMerged reports whether a merge failed only because the pull
// request is already merged or closed. Errors not wrapping ErrAlreadyMerged
// are matched on their text.
func IsAlreadyMerged(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAlreadyMerged) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already merged") || strings.Contains(msg, "already closed")
}

// ValidMergeMethod reports whether m is squash, merge or rebase.
func ValidMergeMethod(m string) bool {
	switch m {
	case MergeSquash, MergeMerge, MergeRebase:
		return true
	}
	return false
}
