// Package history provides an optional write-only audit trail of sync
// actions backed by SQLite. It is a log sink: the reconciler never reads it,
// so every pass still starts from an unconditional full scan.
package history

import (
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"github.com/openmirror/mirror/internal/db"
	syncpkg "github.com/openmirror/mirror/internal/sync"
)

const schema = `
CREATE TABLE IF NOT EXISTS action_history (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id  TEXT NOT NULL,
    pass    INTEGER NOT NULL,
    ts      TEXT NOT NULL, -- RFC3339
    kind    TEXT NOT NULL,
    path    TEXT NOT NULL,
    bytes   INTEGER NOT NULL DEFAULT 0,
    error   TEXT
);

CREATE INDEX IF NOT EXISTS idx_action_history_run ON action_history(run_id, pass);

CREATE TABLE IF NOT EXISTS pass_history (
    run_id  TEXT NOT NULL,
    pass    INTEGER NOT NULL,
    ts      TEXT NOT NULL, -- RFC3339
    stats   TEXT NOT NULL, -- JSON RunStats
    PRIMARY KEY (run_id, pass)
);
`

// Store is an open action-history database.
type Store struct {
	db *sqlx.DB
}

// Open creates or opens the history database at path.
// Use ":memory:" for an in-memory store.
func Open(path string) (*Store, error) {
	database, err := db.NewSqliteDB(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}

	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ActionCount returns the number of recorded actions for a run.
func (s *Store) ActionCount(runID string) (int, error) {
	var count int
	err := s.db.Get(&count, "SELECT COUNT(*) FROM action_history WHERE run_id = ?", runID)
	return count, err
}

// PassCount returns the number of recorded pass summaries for a run.
func (s *Store) PassCount(runID string) (int, error) {
	var count int
	err := s.db.Get(&count, "SELECT COUNT(*) FROM pass_history WHERE run_id = ?", runID)
	return count, err
}

// Sink adapts a Store to the reconciler's ActionSink. Insert failures are
// logged and swallowed: losing an audit row must never fail a sync pass.
type Sink struct {
	store *Store
	runID string
	pass  int
}

// NewSink returns a sink attributing all records to runID.
func (s *Store) NewSink(runID string) *Sink {
	return &Sink{store: s, runID: runID}
}

// BeginPass sets the pass number stamped on subsequent records. Call it
// before each pass; records are written sequentially within a pass.
func (k *Sink) BeginPass(n int) {
	k.pass = n
}

func (k *Sink) Record(action *syncpkg.SyncAction) {
	var errText *string
	if action.Err != nil {
		text := action.Err.Error()
		errText = &text
	}

	_, err := k.store.db.Exec(
		"INSERT INTO action_history (run_id, pass, ts, kind, path, bytes, error) VALUES (?, ?, ?, ?, ?, ?, ?)",
		k.runID, k.pass, action.Time.Format(time.RFC3339Nano), string(action.Kind), action.RelPath, action.Bytes, errText,
	)
	if err != nil {
		slog.Warn("history insert failed", "path", action.RelPath, "error", err)
	}
}

func (k *Sink) RecordSummary(stats *syncpkg.RunStats) {
	detail, err := json.Marshal(stats)
	if err != nil {
		slog.Warn("history stats encode failed", "error", err)
		return
	}

	_, err = k.store.db.Exec(
		"INSERT OR REPLACE INTO pass_history (run_id, pass, ts, stats) VALUES (?, ?, ?, ?)",
		k.runID, k.pass, time.Now().Format(time.RFC3339Nano), string(detail),
	)
	if err != nil {
		slog.Warn("history summary insert failed", "pass", k.pass, "error", err)
	}
}
