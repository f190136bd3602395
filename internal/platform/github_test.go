package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGitHub(t *testing.T, handler http.Handler) *GitHub {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base
	return NewGitHubWithClient(client, "acme", "rocket", 0, nil)
}

func TestPostComment(t *testing.T) {
	var got struct {
		Body string `json:"body"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/rocket/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	})

	g := newTestGitHub(t, mux)
	require.NoError(t, g.PostComment(context.Background(), 42, "## Test phase\n\npassed"))
	assert.Equal(t, "## Test phase\n\npassed", got.Body)
}

func TestMergePullRequest(t *testing.T) {
	t.Run("merged", func(t *testing.T) {
		var method string
		mux := http.NewServeMux()
		mux.HandleFunc("PUT /repos/acme/rocket/pulls/7/merge", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				MergeMethod string `json:"merge_method"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			method = body.MergeMethod
			_, _ = w.Write([]byte(`{"sha":"abc","merged":true,"message":"Pull Request successfully merged"}`))
		})
		g := newTestGitHub(t, mux)
		require.NoError(t, g.MergePullRequest(context.Background(), 7, MergeSquash))
		assert.Equal(t, "squash", method)
	})

	t.Run("already merged", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("PUT /repos/acme/rocket/pulls/7/merge", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = w.Write([]byte(`{"message":"Pull Request already merged"}`))
		})
		g := newTestGitHub(t, mux)
		err := g.MergePullRequest(context.Background(), 7, MergeSquash)
		require.Error(t, err)
		assert.True(t, IsAlreadyMerged(err))
		assert.False(t, IsRetryable(err))
	})

	t.Run("refusal checks merged state", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("PUT /repos/acme/rocket/pulls/7/merge", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = w.Write([]byte(`{"message":"Base branch was modified. Review and try the merge again."}`))
		})
		mux.HandleFunc("GET /repos/acme/rocket/pulls/7", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"number":7,"state":"closed","merged":true}`))
		})
		g := newTestGitHub(t, mux)
		err := g.MergePullRequest(context.Background(), 7, MergeSquash)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAlreadyMerged)
		assert.True(t, IsAlreadyMerged(err))
		assert.False(t, IsRetryable(err))
	})

	t.Run("conflict on open pull request", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("PUT /repos/acme/rocket/pulls/7/merge", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"Head branch was modified."}`))
		})
		mux.HandleFunc("GET /repos/acme/rocket/pulls/7", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"number":7,"state":"open","merged":false}`))
		})
		g := newTestGitHub(t, mux)
		err := g.MergePullRequest(context.Background(), 7, MergeSquash)
		require.Error(t, err)
		assert.False(t, IsAlreadyMerged(err))

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	})

	t.Run("server error is retryable", func(t *testing.T) {
		var calls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("PUT /repos/acme/rocket/pulls/7/merge", func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"message":"bad gateway"}`))
		})
		g := newTestGitHub(t, mux)
		err := g.MergePullRequest(context.Background(), 7, MergeMerge)
		require.Error(t, err)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
		assert.True(t, IsRetryable(err))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("unsupported method", func(t *testing.T) {
		g := newTestGitHub(t, http.NotFoundHandler())
		assert.Error(t, g.MergePullRequest(context.Background(), 7, "octopus"))
	})
}

func TestApprovePullRequest(t *testing.T) {
	g := newTestGitHub(t, http.NotFoundHandler())
	assert.ErrorIs(t, g.ApprovePullRequest(context.Background(), 7), ErrNotImplemented)
}

func TestAPIError_Retryable(t *testing.T) {
	tests := []struct {
		err  *APIError
		want bool
	}{
		{&APIError{StatusCode: 0, Err: errors.New("connection reset")}, true},
		{&APIError{StatusCode: 0, Err: context.Canceled}, false},
		{&APIError{StatusCode: http.StatusTooManyRequests}, true},
		{&APIError{StatusCode: http.StatusForbidden, RateLimited: true}, true},
		{&APIError{StatusCode: http.StatusForbidden}, false},
		{&APIError{StatusCode: http.StatusNotFound}, false},
		{&APIError{StatusCode: http.StatusUnprocessableEntity}, false},
		{&APIError{StatusCode: http.StatusServiceUnavailable}, true},
		{&APIError{StatusCode: http.StatusGatewayTimeout}, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%v", tt.err.StatusCode, tt.err.RateLimited), func(t *testing.T) {
			if tt.err.Err == nil {
				tt.err.Err = errors.New("boom")
			}
			assert.Equal(t, tt.want, tt.err.Retryable())
		})
	}
}

func TestIsAlreadyMerged(t *testing.T) {
	assert.True(t, IsAlreadyMerged(errors.New("405 Pull Request is already merged")))
	assert.True(t, IsAlreadyMerged(errors.New("PR Already Closed")))
	assert.False(t, IsAlreadyMerged(errors.New("merge conflict")))
	assert.False(t, IsAlreadyMerged(nil))
	assert.True(t, IsAlreadyMerged(&APIError{Op: "merge pull request", StatusCode: http.StatusConflict, Err: fmt.Errorf("%w: conflict", ErrAlreadyMerged)}))
}
