// Package journal keeps a durable record of every handled signal in SQLite
// and archives closed months to parquet files for offline analysis.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"tradewire/internal/domain"
)

// List limits. A request above maxListLimit is clamped rather than refused.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Step is one plan step as journaled.
type Step struct {
	Action string `json:"action"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Entry is one journaled execution in list form.
type Entry struct {
	ID          string    `json:"id"`
	ReceivedAt  time.Time `json:"received_at"`
	Exchange    string    `json:"exchange"`
	Symbol      string    `json:"symbol"`
	Instrument  string    `json:"instrument,omitempty"`
	Direction   string    `json:"direction"`
	Status      string    `json:"status"`
	Plan        string    `json:"plan"`
	Steps       []Step    `json:"steps"`
	CacheStatus string    `json:"cache_status,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
}

// Store persists executions in a single SQLite table keyed by execution id.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// NewStore opens (or creates) the journal database at dbPath. log may be
// nil.
func NewStore(dbPath string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, log: log.With("component", "journal")}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS executions (
		id           TEXT PRIMARY KEY,
		received_at  INTEGER NOT NULL,
		exchange     TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		instrument   TEXT NOT NULL,
		direction    TEXT NOT NULL,
		status       TEXT NOT NULL,
		plan         TEXT NOT NULL,
		steps        TEXT NOT NULL,
		cache_status TEXT NOT NULL,
		error        TEXT NOT NULL,
		duration_ms  INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_executions_received
		ON executions (received_at)`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one finished execution. Re-recording an id replaces the
// earlier row.
func (s *Store) Record(ctx context.Context, exec domain.Execution) error {
	steps := make([]Step, len(exec.Steps))
	for i, st := range exec.Steps {
		step := Step{
			Action: st.Action.String(),
			Status: string(st.Status),
			Detail: st.Detail,
		}
		if st.Err != nil {
			step.Error = st.Err.Error()
		}
		steps[i] = step
	}
	raw, err := json.Marshal(steps)
	if err != nil {
		return err
	}

	received := exec.Signal.ReceivedAt
	if received.IsZero() {
		received = exec.StartedAt
	}

	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO executions
		(id, received_at, exchange, symbol, instrument, direction, status,
		 plan, steps, cache_status, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID,
		received.UnixMilli(),
		string(exec.Signal.Exchange),
		exec.Signal.Symbol,
		exec.Instrument,
		string(exec.Signal.Direction),
		string(exec.Status()),
		exec.Plan.String(),
		string(raw),
		exec.CacheStatus,
		exec.Error,
		exec.Duration.Milliseconds(),
	)
	return err
}

// ListRecent returns the newest executions, newest first. A non-positive
// limit falls back to the default.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, received_at, exchange,
		symbol, instrument, direction, status, plan, steps, cache_status,
		error, duration_ms
		FROM executions ORDER BY received_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteBefore removes executions received before the cutoff and returns
// how many rows went away. The archiver calls this after a month has been
// exported.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM executions WHERE received_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var received int64
	var steps string
	if err := rows.Scan(&e.ID, &received, &e.Exchange, &e.Symbol,
		&e.Instrument, &e.Direction, &e.Status, &e.Plan, &steps,
		&e.CacheStatus, &e.Error, &e.DurationMS); err != nil {
		return Entry{}, err
	}
	e.ReceivedAt = time.UnixMilli(received).UTC()
	if err := json.Unmarshal([]byte(steps), &e.Steps); err != nil {
		e.Steps = nil
	}
	return e, nil
}
