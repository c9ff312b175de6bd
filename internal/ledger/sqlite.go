package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the ledger database at path
// and ensures the required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS run_ledger (
  workspace    TEXT NOT NULL,
  repo         TEXT NOT NULL,
  fingerprint  TEXT NOT NULL,
  action       TEXT NOT NULL,
  status       TEXT NOT NULL,
  reason       TEXT,
  run_id       TEXT NOT NULL,
  attempts     INTEGER NOT NULL DEFAULT 1,
  completed_at TEXT NOT NULL,
  PRIMARY KEY (workspace, repo)
);`,
		`CREATE TABLE IF NOT EXISTS run_log (
  workspace    TEXT NOT NULL,
  repo         TEXT NOT NULL,
  fingerprint  TEXT NOT NULL,
  action       TEXT NOT NULL,
  status       TEXT NOT NULL,
  reason       TEXT,
  run_id       TEXT NOT NULL,
  attempts     INTEGER NOT NULL,
  completed_at TEXT NOT NULL,
  archived_at  TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS run_log_workspace_run_idx ON run_log(workspace, run_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap ledger: %w", err)
		}
	}
	return nil
}

// SQLiteStore is the durable Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore wraps an open ledger database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Get(ctx context.Context, workspace, repo string) (*Entry, error) {
	if workspace == "" || repo == "" {
		return nil, fmt.Errorf("workspace and repo are required")
	}

	row := s.db.QueryRowContext(ctx, `
SELECT workspace, repo, fingerprint, action, status, reason, run_id, attempts, completed_at
FROM run_ledger
WHERE workspace = ? AND repo = ?;
`, workspace, repo)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger entry: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	if e.Workspace == "" || e.Repo == "" {
		return fmt.Errorf("workspace and repo are required")
	}

	completedAt := e.CompletedAt.UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO run_ledger(workspace, repo, fingerprint, action, status, reason, run_id, attempts, completed_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(workspace, repo) DO UPDATE SET
  fingerprint  = excluded.fingerprint,
  action       = excluded.action,
  status       = excluded.status,
  reason       = excluded.reason,
  run_id       = excluded.run_id,
  attempts     = excluded.attempts,
  completed_at = excluded.completed_at;
`, e.Workspace, e.Repo, e.Fingerprint, e.Action, e.Status, e.Reason, e.RunID, e.Attempts, completedAt)
	if err != nil {
		return fmt.Errorf("upsert ledger entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, workspace string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT workspace, repo, fingerprint, action, status, reason, run_id, attempts, completed_at
FROM run_ledger
WHERE workspace = ?
ORDER BY repo ASC;
`, workspace)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Archive copies the workspace's current entries into run_log and
// truncates them, all in one transaction.
func (s *SQLiteStore) Archive(ctx context.Context, workspace string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	archivedAt := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
INSERT INTO run_log(workspace, repo, fingerprint, action, status, reason, run_id, attempts, completed_at, archived_at)
SELECT workspace, repo, fingerprint, action, status, reason, run_id, attempts, completed_at, ?
FROM run_ledger
WHERE workspace = ?;
`, archivedAt, workspace); err != nil {
		return fmt.Errorf("archive ledger entries: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_ledger WHERE workspace = ?;`, workspace); err != nil {
		return fmt.Errorf("truncate ledger entries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context, workspace string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM run_ledger WHERE workspace = ?;`, workspace); err != nil {
		return fmt.Errorf("clear ledger entries: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e           Entry
		statusS     string
		reason      sql.NullString
		completedAt string
	)
	if err := row.Scan(&e.Workspace, &e.Repo, &e.Fingerprint, &e.Action, &statusS, &reason, &e.RunID, &e.Attempts, &completedAt); err != nil {
		return nil, err
	}
	e.Status = Status(statusS)
	if reason.Valid {
		e.Reason = reason.String
	}
	if t, err := time.Parse(time.RFC3339Nano, completedAt); err == nil {
		e.CompletedAt = t
	}
	return &e, nil
}
