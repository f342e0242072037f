// Package sqlite implements store.History on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/explorer-reindexer/internal/reindex"
	"github.com/JakeFAU/explorer-reindexer/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  base_url TEXT NOT NULL,
  targets TEXT NOT NULL,
  start_date TEXT NOT NULL,
  step_days INTEGER NOT NULL,
  status TEXT NOT NULL,
  passes INTEGER NOT NULL DEFAULT 0,
  requests INTEGER NOT NULL DEFAULT 0,
  succeeded INTEGER NOT NULL DEFAULT 0,
  failed INTEGER NOT NULL DEFAULT 0,
  cursor TEXT NOT NULL DEFAULT '',
  started_at TEXT NOT NULL,
  finished_at TEXT
);

CREATE TABLE IF NOT EXISTS attempts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  app TEXT NOT NULL,
  resource TEXT NOT NULL,
  window_from TEXT NOT NULL,
  window_to TEXT NOT NULL,
  status_code INTEGER NOT NULL,
  outcome TEXT NOT NULL,
  elapsed_ms INTEGER NOT NULL,
  batches INTEGER NOT NULL DEFAULT 0,
  messages INTEGER NOT NULL DEFAULT 0,
  requested_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_run_id ON attempts(run_id);

CREATE TABLE IF NOT EXISTS checkpoints (
  key TEXT PRIMARY KEY,
  start_date TEXT NOT NULL DEFAULT '',
  next_cursor TEXT NOT NULL,
  run_id TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
`

// timeLayout is a fixed-width UTC timestamp so ORDER BY on text sorts by time.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DefaultListLimit bounds ListRuns when the caller passes a non-positive limit.
const DefaultListLimit = 20

// Store is a store.History backed by SQLite.
type Store struct {
	db *sql.DB

	mu   sync.Mutex
	runs map[string]runScope
}

// runScope is what PassDone needs to move a run's checkpoint.
type runScope struct {
	key   string
	start string
}

var _ store.History = (*Store)(nil)

// Open creates the database file (and its directory) if needed and applies
// the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{`PRAGMA journal_mode=WAL;`, `PRAGMA busy_timeout=5000;`, schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initialise sqlite %s: %w", path, err)
		}
	}
	if err := migrateCheckpointStart(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite %s: %w", path, err)
	}
	return &Store{db: db, runs: make(map[string]runScope)}, nil
}

// migrateCheckpointStart adds checkpoints.start_date to databases created
// before it existed. Rows migrated this way have an unknown coverage start
// and are never used to resume.
func migrateCheckpointStart(ctx context.Context, db *sql.DB) error {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('checkpoints') WHERE name='start_date'`,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspect checkpoints: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx, `ALTER TABLE checkpoints ADD COLUMN start_date TEXT NOT NULL DEFAULT ''`); err != nil {
		return fmt.Errorf("add checkpoints.start_date: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// RunStarted inserts the run row and remembers its checkpoint key and start.
func (s *Store) RunStarted(ctx context.Context, info reindex.RunInfo) error {
	targets, err := json.Marshal(info.Targets)
	if err != nil {
		return fmt.Errorf("encode targets: %w", err)
	}
	s.mu.Lock()
	s.runs[info.ID] = runScope{
		key:   reindex.CheckpointKey(info.BaseURL, info.Targets),
		start: info.Start.Format(reindex.DateLayout),
	}
	s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(id, base_url, targets, start_date, step_days, status, cursor, started_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status,
		   started_at=excluded.started_at`,
		info.ID,
		info.BaseURL,
		string(targets),
		info.Start.Format(reindex.DateLayout),
		info.StepDays,
		string(reindex.StopRunning),
		info.Start.Format(reindex.DateLayout),
		formatTime(info.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", info.ID, err)
	}
	return nil
}

// AttemptDone appends the attempt and bumps the run counters.
func (s *Store) AttemptDone(ctx context.Context, attempt reindex.Attempt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attempt tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO attempts(run_id, app, resource, window_from, window_to, status_code, outcome, elapsed_ms, batches, messages, requested_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.RunID,
		attempt.Target.App,
		attempt.Target.Resource,
		attempt.Window.FromStamp(),
		attempt.Window.ToStamp(),
		attempt.StatusCode,
		string(attempt.Outcome),
		attempt.Elapsed.Milliseconds(),
		attempt.Batches,
		attempt.Messages,
		formatTime(attempt.RequestedAt),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}

	succeeded, failed := 0, 0
	switch attempt.Outcome {
	case reindex.OutcomeSuccess:
		succeeded = 1
	case reindex.OutcomeFailed:
		failed = 1
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET requests=requests+1, succeeded=succeeded+?, failed=failed+? WHERE id=?`,
		succeeded, failed, attempt.RunID,
	)
	if err != nil {
		return fmt.Errorf("update run counters: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attempt: %w", err)
	}
	return nil
}

// PassDone moves the run cursor and the resume checkpoint to the next window.
// The checkpoint keeps its earlier start when the run continues the range it
// records; otherwise the range restarts at the run's own start.
func (s *Store) PassDone(ctx context.Context, pass reindex.Pass) error {
	s.mu.Lock()
	scope, ok := s.runs[pass.RunID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("pass for unknown run %s", pass.RunID)
	}
	next := pass.NextCursor.Format(reindex.DateLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pass tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET passes=?, cursor=? WHERE id=?`,
		pass.Number, next, pass.RunID,
	); err != nil {
		return fmt.Errorf("update run cursor: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints(key, start_date, next_cursor, run_id, updated_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   start_date=CASE
		     WHEN checkpoints.start_date <> ''
		      AND checkpoints.start_date <= excluded.start_date
		      AND checkpoints.next_cursor >= excluded.start_date
		     THEN checkpoints.start_date
		     ELSE excluded.start_date
		   END,
		   next_cursor=excluded.next_cursor,
		   run_id=excluded.run_id,
		   updated_at=excluded.updated_at`,
		scope.key, scope.start, next, pass.RunID, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pass: %w", err)
	}
	return nil
}

// RunFinished stores the stop reason and final counters.
func (s *Store) RunFinished(ctx context.Context, result reindex.Result) error {
	s.mu.Lock()
	delete(s.runs, result.RunID)
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status=?, passes=?, requests=?, succeeded=?, failed=?, cursor=?, finished_at=? WHERE id=?`,
		string(result.Reason),
		result.Passes,
		result.Requests,
		result.Succeeded,
		result.Failed,
		result.Cursor.Format(reindex.DateLayout),
		formatTime(result.FinishedAt),
		result.RunID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", result.RunID, err)
	}
	return nil
}

// LoadCheckpoint implements store.History. A checkpoint without a recorded
// start is returned with a zero Start.
func (s *Store) LoadCheckpoint(ctx context.Context, key string, loc *time.Location) (reindex.Checkpoint, bool, error) {
	var start, next string
	err := s.db.QueryRowContext(ctx,
		`SELECT start_date, next_cursor FROM checkpoints WHERE key=?`, key,
	).Scan(&start, &next)
	if errors.Is(err, sql.ErrNoRows) {
		return reindex.Checkpoint{}, false, nil
	}
	if err != nil {
		return reindex.Checkpoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	var cp reindex.Checkpoint
	if cp.Next, err = time.ParseInLocation(reindex.DateLayout, next, loc); err != nil {
		return reindex.Checkpoint{}, false, fmt.Errorf("parse checkpoint cursor %q: %w", next, err)
	}
	if start != "" {
		if cp.Start, err = time.ParseInLocation(reindex.DateLayout, start, loc); err != nil {
			return reindex.Checkpoint{}, false, fmt.Errorf("parse checkpoint start %q: %w", start, err)
		}
	}
	return cp, true, nil
}

const selectRun = `SELECT id, base_url, targets, start_date, step_days, status, passes, requests, succeeded, failed, cursor, started_at, finished_at FROM runs`

// GetRun implements store.History.
func (s *Store) GetRun(ctx context.Context, id string) (store.RunRecord, error) {
	rec, err := scanRun(s.db.QueryRowContext(ctx, selectRun+` WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.RunRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

// ListRuns implements store.History.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, selectRun+` ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (store.RunRecord, error) {
	var (
		rec        store.RunRecord
		targets    string
		start      string
		status     string
		cursor     string
		startedAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(
		&rec.ID, &rec.BaseURL, &targets, &start, &rec.StepDays, &status,
		&rec.Passes, &rec.Requests, &rec.Succeeded, &rec.Failed,
		&cursor, &startedAt, &finishedAt,
	); err != nil {
		return store.RunRecord{}, err
	}
	if err := json.Unmarshal([]byte(targets), &rec.Targets); err != nil {
		return store.RunRecord{}, fmt.Errorf("decode targets: %w", err)
	}
	rec.Status = reindex.StopReason(status)
	var err error
	if rec.Start, err = time.Parse(reindex.DateLayout, start); err != nil {
		return store.RunRecord{}, fmt.Errorf("decode start date of run %s: %w", rec.ID, err)
	}
	if cursor != "" {
		if rec.Cursor, err = time.Parse(reindex.DateLayout, cursor); err != nil {
			return store.RunRecord{}, fmt.Errorf("decode cursor of run %s: %w", rec.ID, err)
		}
	}
	if rec.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return store.RunRecord{}, fmt.Errorf("decode started_at of run %s: %w", rec.ID, err)
	}
	if finishedAt.Valid {
		var finished time.Time
		if finished, err = time.Parse(timeLayout, finishedAt.String); err != nil {
			return store.RunRecord{}, fmt.Errorf("decode finished_at of run %s: %w", rec.ID, err)
		}
		rec.FinishedAt = &finished
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
