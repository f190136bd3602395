package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/config"
	"github.com/fyrsmithlabs/shipyard/internal/logging"
	"github.com/fyrsmithlabs/shipyard/internal/session"
)

// Sessions is the part of session.Registry the CLI invoker records into.
type Sessions interface {
	GetOrCreate(ctx context.Context, workingDir string) (*session.Agent, error)
	UpdateSession(ctx context.Context, id, sessionID string) error
	SetStatus(ctx context.Context, id, status string) error
	UpdateCosts(ctx context.Context, id string, u session.Usage) error
	SaveChat(ctx context.Context, agentID, sessionID, userMsg, assistantMsg string) error
}

// ClaudeCLI runs the claude command line in print mode with JSON output.
type ClaudeCLI struct {
	command  string
	model    string
	skip     bool
	resume   bool
	timeout  time.Duration
	sessions Sessions
	metrics  *Metrics
	logger   *logging.Logger
}

var _ Invoker = (*ClaudeCLI)(nil)

// NewClaudeCLI returns an invoker. sessions and metrics may be nil.
func NewClaudeCLI(cfg config.AgentConfig, sessions Sessions, metrics *Metrics, logger *logging.Logger) *ClaudeCLI {
	if logger == nil {
		logger = logging.NewNop()
	}
	command := cfg.Command
	if command == "" {
		command = "claude"
	}
	return &ClaudeCLI{
		command:  command,
		model:    cfg.Model,
		skip:     cfg.SkipPermissions,
		resume:   cfg.ResumeSessions,
		timeout:  cfg.Timeout.Duration(),
		sessions: sessions,
		metrics:  metrics,
		logger:   logger.Named("agent"),
	}
}

// resultEnvelope is the final JSON object printed by --output-format json.
type resultEnvelope struct {
	Type         string  `json:"type"`
	Subtype      string  `json:"subtype"`
	IsError      bool    `json:"is_error"`
	Result       string  `json:"result"`
	SessionID    string  `json:"session_id"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Usage        struct {
		InputTokens              int64 `json:"input_tokens"`
		OutputTokens             int64 `json:"output_tokens"`
		CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

// Execute runs req in req.WorkingDir. Non-zero exits, timeouts and
// is_error results come back as an unsuccessful Response.
func (c *ClaudeCLI) Execute(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = logging.WithWorkflowID(ctx, req.WorkflowID)
	prompt := req.Prompt()
	start := time.Now()

	var row *session.Agent
	if c.sessions != nil && req.WorkingDir != "" {
		var err error
		if row, err = c.sessions.GetOrCreate(ctx, req.WorkingDir); err != nil {
			c.logger.Warn(ctx, "session lookup failed", zap.Error(err))
			row = nil
		}
	}
	if row != nil {
		c.setStatus(ctx, row.ID, session.StatusRunning)
		defer c.setStatus(context.WithoutCancel(ctx), row.ID, session.StatusIdle)
	}

	args := []string{"-p", prompt, "--output-format", "json"}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	if c.skip || req.SkipPermissionPrompts {
		args = append(args, "--dangerously-skip-permissions")
	}
	if c.resume && row != nil && row.SessionID != "" {
		args = append(args, "--resume", row.SessionID)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.logger.Info(ctx, "invoking agent",
		zap.String("command", string(req.SlashCommand)),
		zap.String("agent", req.AgentName),
		zap.String("dir", req.WorkingDir),
	)

	cmd := exec.CommandContext(runCtx, c.command, args...)
	cmd.Dir = req.WorkingDir
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	resp := parseResponse(stdout.Bytes())
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		resp.Success = false
		resp.Error = &Error{Message: fmt.Sprintf("agent timed out after %s", c.timeout)}
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case runErr != nil:
		resp.Success = false
		if resp.Error == nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = runErr.Error()
			}
			resp.Error = &Error{Message: msg}
		}
	}

	elapsed := time.Since(start)
	c.metrics.observe(req.SlashCommand, resp, elapsed.Seconds())
	c.logger.Info(ctx, "agent finished",
		zap.String("command", string(req.SlashCommand)),
		zap.Bool("success", resp.Success),
		zap.Duration("duration", elapsed),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
		zap.Float64("cost_usd", resp.Usage.CostUSD),
	)

	if row != nil {
		c.record(context.WithoutCancel(ctx), row, prompt, resp)
	}
	return resp, nil
}

func parseResponse(out []byte) *Response {
	trimmed := bytes.TrimSpace(out)
	var env resultEnvelope
	if len(trimmed) == 0 || json.Unmarshal(trimmed, &env) != nil || env.Type != "result" {
		return &Response{Success: len(trimmed) > 0, Output: string(trimmed)}
	}
	resp := &Response{
		Success:   !env.IsError,
		Output:    env.Result,
		SessionID: env.SessionID,
		Usage: session.Usage{
			InputTokens:  nonNegative(env.Usage.InputTokens + env.Usage.CacheCreationInputTokens + env.Usage.CacheReadInputTokens),
			OutputTokens: nonNegative(env.Usage.OutputTokens),
			CostUSD:      max(env.TotalCostUSD, 0),
		},
	}
	if env.IsError {
		msg := env.Result
		if msg == "" {
			msg = env.Subtype
		}
		resp.Error = &Error{Message: msg}
	}
	return resp
}

func nonNegative(n int64) int64 {
	return max(n, 0)
}

// record writes session id, usage and the transcript pair. Failures are
// logged only.
func (c *ClaudeCLI) record(ctx context.Context, row *session.Agent, prompt string, resp *Response) {
	sessionID := resp.SessionID
	if sessionID != "" && sessionID != row.SessionID {
		if err := c.sessions.UpdateSession(ctx, row.ID, sessionID); err != nil {
			c.logger.Warn(ctx, "recording session id failed", zap.Error(err))
		}
	}
	if sessionID == "" {
		sessionID = row.SessionID
	}
	if err := c.sessions.UpdateCosts(ctx, row.ID, resp.Usage); err != nil {
		c.logger.Warn(ctx, "recording agent usage failed", zap.Error(err))
	}
	if sessionID == "" {
		return
	}
	reply := resp.Output
	if !resp.Success && reply == "" {
		reply = resp.ErrorMessage()
	}
	if err := c.sessions.SaveChat(ctx, row.ID, sessionID, prompt, reply); err != nil {
		c.logger.Warn(ctx, "saving chat failed", zap.Error(err))
	}
}

func (c *ClaudeCLI) setStatus(ctx context.Context, id, status string) {
	if err := c.sessions.SetStatus(ctx, id, status); err != nil {
		c.logger.Warn(ctx, "updating agent status failed", zap.String("status", status), zap.Error(err))
	}
}
