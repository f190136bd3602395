// Package session tracks one long-lived agent session per working directory
// and accumulates its token and cost usage.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const timeLayout = time.RFC3339Nano

// ErrNotFound is returned for unknown or archived agent ids.
var ErrNotFound = errors.New("orchestrator agent not found")

// Status values for an orchestrator agent.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
)

// Agent is the registry row for one working directory.
type Agent struct {
	ID           string    `json:"id"`
	WorkingDir   string    `json:"workingDir"`
	SessionID    string    `json:"sessionId,omitempty"`
	InputTokens  int64     `json:"inputTokens"`
	OutputTokens int64     `json:"outputTokens"`
	TotalCost    float64   `json:"totalCost"`
	Status       string    `json:"status"`
	Archived     bool      `json:"archived"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ChatMessage is one append-only turn of a session transcript.
type ChatMessage struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Usage is a delta applied by UpdateCosts.
type Usage struct {
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// Registry is backed by the orchestrator tables of the shared SQLite
// database (see state.SQLiteStore.DB).
type Registry struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewRegistry wraps db. The tables are created by the state migrations.
func NewRegistry(db *sql.DB, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{db: db, logger: logger, now: time.Now}
}

// GetOrCreate returns the newest non-archived agent for workingDir,
// creating an idle one if none exists.
func (r *Registry) GetOrCreate(ctx context.Context, workingDir string) (*Agent, error) {
	if workingDir == "" {
		return nil, errors.New("working directory is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	agent, err := scanAgent(tx.QueryRowContext(ctx, `
		SELECT `+agentColumns+` FROM orchestrator_agents
		WHERE working_dir = ? AND archived = 0
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, workingDir))
	if err == nil {
		return agent, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("looking up agent for %s: %w", workingDir, err)
	}

	now := r.now().UTC().Format(timeLayout)
	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orchestrator_agents (id, working_dir, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`, id, workingDir, StatusIdle, now, now); err != nil {
		return nil, fmt.Errorf("creating agent for %s: %w", workingDir, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing agent: %w", err)
	}

	r.logger.Info("orchestrator agent created", zap.String("agent_id", id), zap.String("working_dir", workingDir))
	return r.Get(ctx, id)
}

// Get returns a non-archived agent by id.
func (r *Registry) Get(ctx context.Context, id string) (*Agent, error) {
	agent, err := scanAgent(r.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM orchestrator_agents WHERE id = ? AND archived = 0`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading agent %s: %w", id, err)
	}
	return agent, nil
}

// UpdateSession binds a resumable session handle to the agent.
func (r *Registry) UpdateSession(ctx context.Context, id, sessionID string) error {
	return r.exec(ctx, id,
		`UPDATE orchestrator_agents SET session_id = ?, updated_at = ? WHERE id = ? AND archived = 0`,
		sessionID, r.now().UTC().Format(timeLayout), id)
}

// SetStatus records whether the agent is mid-invocation.
func (r *Registry) SetStatus(ctx context.Context, id, status string) error {
	return r.exec(ctx, id,
		`UPDATE orchestrator_agents SET status = ?, updated_at = ? WHERE id = ? AND archived = 0`,
		status, r.now().UTC().Format(timeLayout), id)
}

// UpdateCosts adds u to the agent's counters in a single statement, so
// concurrent callers never lose increments. Negative deltas are rejected.
func (r *Registry) UpdateCosts(ctx context.Context, id string, u Usage) error {
	if u.InputTokens < 0 || u.OutputTokens < 0 || u.CostUSD < 0 {
		return fmt.Errorf("usage deltas must be non-negative: %+v", u)
	}
	return r.exec(ctx, id, `
		UPDATE orchestrator_agents
		SET input_tokens = input_tokens + ?,
		    output_tokens = output_tokens + ?,
		    total_cost = total_cost + ?,
		    updated_at = ?
		WHERE id = ? AND archived = 0`,
		u.InputTokens, u.OutputTokens, u.CostUSD, r.now().UTC().Format(timeLayout), id)
}

// Archive soft-deletes the agent; the next GetOrCreate for its directory
// starts a fresh row.
func (r *Registry) Archive(ctx context.Context, id string) error {
	return r.exec(ctx, id,
		`UPDATE orchestrator_agents SET archived = 1, updated_at = ? WHERE id = ? AND archived = 0`,
		r.now().UTC().Format(timeLayout), id)
}

// List returns all non-archived agents, newest first.
func (r *Registry) List(ctx context.Context) ([]*Agent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM orchestrator_agents WHERE archived = 0 ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var out []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveChat appends a (user, assistant) pair atomically.
func (r *Registry) SaveChat(ctx context.Context, agentID, sessionID, userMsg, assistantMsg string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM chat_messages WHERE session_id = ?`, sessionID).Scan(&seq); err != nil {
		return fmt.Errorf("reading chat sequence: %w", err)
	}

	now := r.now().UTC().Format(timeLayout)
	for i, m := range []struct{ role, content string }{
		{"user", userMsg},
		{"assistant", assistantMsg},
	} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_messages (id, agent_id, session_id, seq, role, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), agentID, sessionID, seq+int64(i)+1, m.role, m.content, now); err != nil {
			return fmt.Errorf("saving %s message: %w", m.role, err)
		}
	}
	return tx.Commit()
}

// ListChat returns the transcript for sessionID in order.
func (r *Registry) ListChat(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, agent_id, session_id, role, content, created_at
		FROM chat_messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing chat: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var (
			m       ChatMessage
			created string
		)
		if err := rows.Scan(&m.ID, &m.AgentID, &m.SessionID, &m.Role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scanning chat message: %w", err)
		}
		if m.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parsing chat timestamp: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Registry) exec(ctx context.Context, id, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating agent %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const agentColumns = `id, working_dir, session_id, input_tokens, output_tokens, total_cost,
	status, archived, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*Agent, error) {
	var (
		a                    Agent
		sessionID            sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&a.ID, &a.WorkingDir, &sessionID, &a.InputTokens, &a.OutputTokens,
		&a.TotalCost, &a.Status, &a.Archived, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.SessionID = sessionID.String

	var err error
	if a.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &a, nil
}
