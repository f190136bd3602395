package state

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite_001_init.sql
var sqliteMigrationV1 string

const timeLayout = time.RFC3339Nano

const selectColumns = `id, phase, status, issue_number, pr_number, branch_name, worktree_path,
	worktree_exists, backend_port, frontend_port, completed_at, archived, created_at, updated_at`

// SQLiteStore implements Store on an embedded SQLite database. The same
// database also holds the orchestrator session registry tables.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between concurrent phase runs.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteMigrationV1); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying migration v1: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// DB exposes the handle for the session registry.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the live row for id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*WorkflowState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM workflow_states WHERE id = ? AND archived = 0`, id)
	st, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading workflow %s: %w", id, err)
	}
	return st, nil
}

// Create inserts a new live row. An empty ID is replaced with a UUID.
func (s *SQLiteStore) Create(ctx context.Context, st *WorkflowState) (*WorkflowState, error) {
	if err := normalizeNew(st, uuid.NewString); err != nil {
		return nil, err
	}
	now := s.now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_states (
			id, phase, status, issue_number, pr_number, branch_name, worktree_path,
			worktree_exists, backend_port, frontend_port, completed_at, archived,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		st.ID, string(st.Phase), string(st.Status),
		nullInt(st.IssueNumber), nullInt(st.PRNumber),
		nullString(st.BranchName), nullString(st.WorktreePath),
		st.WorktreeExists,
		nullInt(st.BackendPort), nullInt(st.FrontendPort),
		nullTime(st.CompletedAt),
		now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, st.ID)
		}
		return nil, fmt.Errorf("creating workflow %s: %w", st.ID, err)
	}
	return s.Get(ctx, st.ID)
}

// Update applies the non-nil fields of u to the live row for id.
func (s *SQLiteStore) Update(ctx context.Context, id string, u Update) (*WorkflowState, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	sets := []string{"updated_at = ?"}
	args := []any{s.now().UTC().Format(timeLayout)}
	for _, a := range u.assignments() {
		sets = append(sets, a.column+" = ?")
		if t, ok := a.value.(time.Time); ok {
			args = append(args, t.Format(timeLayout))
			continue
		}
		args = append(args, a.value)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_states SET `+strings.Join(sets, ", ")+` WHERE id = ? AND archived = 0`, args...)
	if err != nil {
		return nil, fmt.Errorf("updating workflow %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Get(ctx, id)
}

// Archive soft-deletes the live row for id.
func (s *SQLiteStore) Archive(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_states SET archived = 1, updated_at = ? WHERE id = ? AND archived = 0`,
		s.now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("archiving workflow %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List returns rows matching f, newest first.
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]*WorkflowState, error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeArchived {
		where = append(where, "archived = 0")
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Phase != "" {
		where = append(where, "phase = ?")
		args = append(args, string(f.Phase))
	}

	query := `SELECT ` + selectColumns + ` FROM workflow_states`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY row_id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	var out []*WorkflowState
	for rows.Next() {
		st, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workflow: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (*WorkflowState, error) {
	var (
		st                            WorkflowState
		phase, status                 string
		issue, pr, backend, frontend  sql.NullInt64
		branch, worktree, completedAt sql.NullString
		createdAt, updatedAt          string
	)
	if err := row.Scan(&st.ID, &phase, &status, &issue, &pr, &branch, &worktree,
		&st.WorktreeExists, &backend, &frontend, &completedAt, &st.Archived,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	st.Phase = Phase(phase)
	st.Status = Status(status)
	st.IssueNumber = intPtr(issue)
	st.PRNumber = intPtr(pr)
	st.BackendPort = intPtr(backend)
	st.FrontendPort = intPtr(frontend)
	st.BranchName = stringPtr(branch)
	st.WorktreePath = stringPtr(worktree)

	var err error
	if completedAt.Valid {
		t, perr := time.Parse(timeLayout, completedAt.String)
		if perr != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", perr)
		}
		st.CompletedAt = &t
	}
	if st.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if st.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &st, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.UTC().Format(timeLayout), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
