package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/shipyard/internal/config"
)

// GitHub implements Platform on the GitHub REST API.
type GitHub struct {
	client  *github.Client
	owner   string
	repo    string
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ Platform = (*GitHub)(nil)

// NewGitHubClient creates an authenticated client. A non-empty baseURL
// targets a GitHub Enterprise server.
func NewGitHubClient(ctx context.Context, token config.Secret, baseURL string) (*github.Client, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if baseURL != "" {
		return client.WithEnterpriseURLs(baseURL, baseURL)
	}
	return client, nil
}

// NewGitHub builds a Platform from config.
func NewGitHub(ctx context.Context, cfg config.GitHubConfig, logger *zap.Logger) (*GitHub, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("github owner and repo are required")
	}
	client, err := NewGitHubClient(ctx, cfg.Token, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return NewGitHubWithClient(client, cfg.Owner, cfg.Repo, cfg.RequestsPerSecond, logger), nil
}

// NewGitHubWithClient wraps an existing client. rps <= 0 disables pacing.
func NewGitHubWithClient(client *github.Client, owner, repo string, rps float64, logger *zap.Logger) *GitHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &GitHub{
		client:  client,
		owner:   owner,
		repo:    repo,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With(zap.String("repo", owner+"/"+repo)),
	}
}

// PostComment adds a comment to an issue.
func (g *GitHub) PostComment(ctx context.Context, issue int, body string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, resp, err := g.client.Issues.CreateComment(ctx, g.owner, g.repo, issue, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return wrapError("post comment", resp, err)
	}
	g.logger.Debug("issue comment posted", zap.Int("issue", issue))
	return nil
}

// MergePullRequest merges pr with method. A response reporting the pull
// request as not merged is an error. When GitHub refuses the merge with 405
// or 409 the pull request is fetched, and a merged or closed pull request
// yields an error wrapping ErrAlreadyMerged.
func (g *GitHub) MergePullRequest(ctx context.Context, pr int, method string) error {
	if !ValidMergeMethod(method) {
		return fmt.Errorf("unsupported merge method %q", method)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	result, resp, err := g.client.PullRequests.Merge(ctx, g.owner, g.repo, pr, "", &github.PullRequestOptions{
		MergeMethod: method,
	})
	if err != nil {
		status := getStatusCode(resp)
		if (status == http.StatusMethodNotAllowed || status == http.StatusConflict) && g.alreadyMerged(ctx, pr) {
			return &APIError{Op: "merge pull request", StatusCode: status, Err: fmt.Errorf("%w: %v", ErrAlreadyMerged, err)}
		}
		return wrapError("merge pull request", resp, err)
	}
	if !result.GetMerged() {
		return &APIError{Op: "merge pull request", StatusCode: getStatusCode(resp), Err: errors.New(result.GetMessage())}
	}
	g.logger.Info("pull request merged",
		zap.Int("pr", pr),
		zap.String("method", method),
		zap.String("sha", result.GetSHA()),
	)
	return nil
}

// alreadyMerged reports whether pr is merged or closed. Lookup failures
// report false.
func (g *GitHub) alreadyMerged(ctx context.Context, pr int) bool {
	if err := g.limiter.Wait(ctx); err != nil {
		return false
	}
	got, resp, err := g.client.PullRequests.Get(ctx, g.owner, g.repo, pr)
	if err != nil {
		g.logger.Debug("pull request lookup failed", zap.Int("pr", pr), zap.Int("status", getStatusCode(resp)), zap.Error(err))
		return false
	}
	if got.GetMerged() || got.GetState() == "closed" {
		g.logger.Info("pull request already merged or closed",
			zap.Int("pr", pr),
			zap.Bool("merged", got.GetMerged()),
			zap.String("state", got.GetState()),
		)
		return true
	}
	return false
}

// ApprovePullRequest returns ErrNotImplemented.
func (g *GitHub) ApprovePullRequest(ctx context.Context, pr int) error {
	return fmt.Errorf("approve pull request #%d: %w", pr, ErrNotImplemented)
}

func wrapError(op string, resp *github.Response, err error) error {
	apiErr := &APIError{Op: op, StatusCode: getStatusCode(resp), Err: err}

	var rle *github.RateLimitError
	var arle *github.AbuseRateLimitError
	switch {
	case errors.As(err, &rle), errors.As(err, &arle):
		apiErr.RateLimited = true
	case resp != nil && resp.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0 && resp.Rate.Remaining == 0:
		apiErr.RateLimited = true
	}
	return apiErr
}

func getStatusCode(resp *github.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	return 0
}
