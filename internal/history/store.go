// Package history manages the SQLite database that records completed
// reconciliation batches for the control surface's history endpoint.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods. Recording is best-effort: the
// engine logs a failed write and moves on.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/calmirror/calmirror/internal/sync"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_runs (
    id          TEXT    PRIMARY KEY,
    trigger_by  TEXT    NOT NULL,
    force_sync  INTEGER NOT NULL DEFAULT 0,
    started_at  TEXT    NOT NULL,
    duration_ms INTEGER NOT NULL,
    evaluated   INTEGER NOT NULL DEFAULT 0,
    created     INTEGER NOT NULL DEFAULT 0,
    updated     INTEGER NOT NULL DEFAULT 0,
    deleted     INTEGER NOT NULL DEFAULT 0,
    unchanged   INTEGER NOT NULL DEFAULT 0,
    errors      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sync_run_mailboxes (
    run_id    TEXT    NOT NULL REFERENCES sync_runs(id) ON DELETE CASCADE,
    label     TEXT    NOT NULL,
    evaluated INTEGER NOT NULL DEFAULT 0,
    created   INTEGER NOT NULL DEFAULT 0,
    updated   INTEGER NOT NULL DEFAULT 0,
    deleted   INTEGER NOT NULL DEFAULT 0,
    unchanged INTEGER NOT NULL DEFAULT 0,
    errors    INTEGER NOT NULL DEFAULT 0,
    status    TEXT    NOT NULL,
    PRIMARY KEY (run_id, label)
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON sync_runs (started_at);
`

// Run is one recorded batch, with its per-mapping breakdown.
type Run struct {
	ID        string             `json:"id"`
	Trigger   string             `json:"trigger"`
	Force     bool               `json:"force"`
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration"`
	Stats     sync.Stats         `json:"stats"`
	Mailboxes []MailboxRunResult `json:"mailboxes"`
}

// MailboxRunResult is one mapping's counters within a recorded run.
type MailboxRunResult struct {
	Label     string `json:"label"`
	Evaluated int    `json:"evaluated"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Deleted   int    `json:"deleted"`
	Unchanged int    `json:"unchanged"`
	Errors    int    `json:"errors"`
	Status    string `json:"status"`
}

// Store is the SQLite-backed run-history repository.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path, applies the schema,
// and configures WAL mode.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun writes one completed batch and its per-mapping rows in a single
// transaction. Implements [sync.RunRecorder].
func (s *Store) RecordRun(ctx context.Context, run sync.RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting history transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertRun = `
		INSERT INTO sync_runs
		    (id, trigger_by, force_sync, started_at, duration_ms,
		     evaluated, created, updated, deleted, unchanged, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, insertRun,
		run.ID,
		run.Trigger,
		boolToInt(run.Force),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.Duration.Milliseconds(),
		run.Stats.Evaluated,
		run.Stats.Created,
		run.Stats.Updated,
		run.Stats.Deleted,
		run.Stats.Unchanged,
		run.Stats.Errors,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	const insertMailbox = `
		INSERT INTO sync_run_mailboxes
		    (run_id, label, evaluated, created, updated, deleted, unchanged, errors, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, res := range run.Results {
		_, err := tx.ExecContext(ctx, insertMailbox,
			run.ID, res.Label,
			res.Evaluated, res.Created, res.Updated, res.Deleted, res.Unchanged, res.Errors,
			res.Status,
		)
		if err != nil {
			return fmt.Errorf("inserting run %s mapping %q: %w", run.ID, res.Label, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run %s: %w", run.ID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first, each with its
// per-mapping breakdown.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	const q = `
		SELECT id, trigger_by, force_sync, started_at, duration_ms,
		       evaluated, created, updated, deleted, unchanged, errors
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		var run Run
		var force int
		var startedAt string
		var durationMS int64
		err := rows.Scan(
			&run.ID, &run.Trigger, &force, &startedAt, &durationMS,
			&run.Stats.Evaluated, &run.Stats.Created, &run.Stats.Updated,
			&run.Stats.Deleted, &run.Stats.Unchanged, &run.Stats.Errors,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		run.Force = force != 0
		run.Duration = time.Duration(durationMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			run.StartedAt = t
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, run := range runs {
		mailboxes, err := s.runMailboxes(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		run.Mailboxes = mailboxes
	}
	return runs, nil
}

func (s *Store) runMailboxes(ctx context.Context, runID string) ([]MailboxRunResult, error) {
	const q = `
		SELECT label, evaluated, created, updated, deleted, unchanged, errors, status
		FROM sync_run_mailboxes WHERE run_id = ? ORDER BY label`
	rows, err := s.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("querying mailboxes for run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var results []MailboxRunResult
	for rows.Next() {
		var r MailboxRunResult
		err := rows.Scan(&r.Label, &r.Evaluated, &r.Created, &r.Updated,
			&r.Deleted, &r.Unchanged, &r.Errors, &r.Status)
		if err != nil {
			return nil, fmt.Errorf("scanning mailbox row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
