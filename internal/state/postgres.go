package state

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/postgres_001_init.sql
var postgresMigrationV1 string

// uniqueViolation is the Postgres SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// PostgresStore implements Store on Postgres, for deployments where several
// workers share workflow state.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres connects, pings, and migrates.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresMigrationV1); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying migration v1: %w", err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*WorkflowState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM workflow_states WHERE id = $1 AND NOT archived`, id)
	st, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading workflow %s: %w", id, err)
	}
	return st, nil
}

func (s *PostgresStore) Create(ctx context.Context, st *WorkflowState) (*WorkflowState, error) {
	if err := normalizeNew(st, uuid.NewString); err != nil {
		return nil, err
	}
	now := s.now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_states (
			id, phase, status, issue_number, pr_number, branch_name, worktree_path,
			worktree_exists, backend_port, frontend_port, completed_at, archived,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, $12, $12)`,
		st.ID, string(st.Phase), string(st.Status),
		st.IssueNumber, st.PRNumber, st.BranchName, st.WorktreePath,
		st.WorktreeExists, st.BackendPort, st.FrontendPort, st.CompletedAt, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, st.ID)
		}
		return nil, fmt.Errorf("creating workflow %s: %w", st.ID, err)
	}
	return s.Get(ctx, st.ID)
}

func (s *PostgresStore) Update(ctx context.Context, id string, u Update) (*WorkflowState, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	sets := []string{"updated_at = $1"}
	args := []any{s.now().UTC()}
	for _, a := range u.assignments() {
		args = append(args, a.value)
		sets = append(sets, fmt.Sprintf("%s = $%d", a.column, len(args)))
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE workflow_states SET %s WHERE id = $%d AND NOT archived RETURNING `+selectColumns,
		strings.Join(sets, ", "), len(args))
	st, err := scanPostgres(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("updating workflow %s: %w", id, err)
	}
	return st, nil
}

func (s *PostgresStore) Archive(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflow_states SET archived = TRUE, updated_at = $1 WHERE id = $2 AND NOT archived`,
		s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("archiving workflow %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*WorkflowState, error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeArchived {
		where = append(where, "NOT archived")
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Phase != "" {
		args = append(args, string(f.Phase))
		where = append(where, fmt.Sprintf("phase = $%d", len(args)))
	}

	query := `SELECT ` + selectColumns + ` FROM workflow_states`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY row_id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	var out []*WorkflowState
	for rows.Next() {
		st, err := scanPostgres(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workflow: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanPostgres(row pgx.Row) (*WorkflowState, error) {
	var (
		st            WorkflowState
		phase, status string
	)
	err := row.Scan(&st.ID, &phase, &status, &st.IssueNumber, &st.PRNumber, &st.BranchName,
		&st.WorktreePath, &st.WorktreeExists, &st.BackendPort, &st.FrontendPort, &st.CompletedAt,
		&st.Archived, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.Phase = Phase(phase)
	st.Status = Status(status)
	return &st, nil
}
