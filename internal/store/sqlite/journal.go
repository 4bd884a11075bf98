// Package sqlite persists consensus signals to a local journal. One
// session row is opened per process run; signals reference it. Trades
// are never journaled.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mdstreamv1/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// ErrJournalClosed is returned by Record after Close.
var ErrJournalClosed = errors.New("sqlite: journal closed")

// Config configures the signal journal.
type Config struct {
	Path     string // path to the database file, e.g. "data/signals.db"
	Provider string
	Symbols  []string
}

// Journal is a single-writer SQLite store with transaction batching.
// Implements model.SignalRecorder.
type Journal struct {
	db        *sql.DB
	sessionID int64
	done      chan struct{}

	mu       sync.Mutex
	batch    []model.Signal
	recorded int64
	closed   bool
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// SessionID returns this run's session row id.
func (j *Journal) SessionID() int64 { return j.sessionID }

// New opens the journal in WAL mode, creates the schema and starts a
// session for this run.
func New(cfg Config) (*Journal, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer connection pool
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	res, err := db.Exec(
		`INSERT INTO sessions (provider, symbols, started_at) VALUES (?, ?, ?)`,
		cfg.Provider, strings.Join(cfg.Symbols, ","), time.Now().Unix(),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite session: %w", err)
	}
	sessionID, err := res.LastInsertId()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite session id: %w", err)
	}

	j := &Journal{
		db:        db,
		sessionID: sessionID,
		done:      make(chan struct{}),
		batch:     make([]model.Signal, 0, defaultBatchSize),
	}
	go j.flushLoop()

	log.Printf("[sqlite] journal open at %s (session %d)", cfg.Path, sessionID)
	return j, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			provider   TEXT    NOT NULL,
			symbols    TEXT    NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at   INTEGER
		);

		CREATE TABLE IF NOT EXISTS signals (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL REFERENCES sessions(id),
			kind       TEXT    NOT NULL,
			strength   REAL    NOT NULL,
			ts         INTEGER NOT NULL,
			reason     TEXT,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_signals_session_ts ON signals (session_id, ts);
	`)
	return err
}

// Record queues a signal for the next batched commit. The batch is
// committed once it reaches defaultBatchSize or on the flush timer,
// whichever comes first.
func (j *Journal) Record(ctx context.Context, sig model.Signal) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrJournalClosed
	}
	j.batch = append(j.batch, sig)
	if len(j.batch) >= defaultBatchSize {
		return j.flushLocked()
	}
	return nil
}

// Flush commits any queued signals immediately.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flushLocked()
}

// Recorded returns the number of signals committed so far.
func (j *Journal) Recorded() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.recorded
}

// RecentSignals returns up to limit journaled signals for this session,
// newest first.
func (j *Journal) RecentSignals(limit int) ([]model.Signal, error) {
	rows, err := j.db.Query(
		`SELECT kind, strength, ts, reason FROM signals WHERE session_id = ? ORDER BY ts DESC, id DESC LIMIT ?`,
		j.sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		var sig model.Signal
		var kind string
		var reason sql.NullString
		if err := rows.Scan(&kind, &sig.Strength, &sig.TS, &reason); err != nil {
			return nil, err
		}
		sig.Kind = model.SignalKind(kind)
		sig.Reason = reason.String
		out = append(out, sig)
	}
	return out, rows.Err()
}

// Close flushes the remaining batch, marks the session ended and closes
// the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.done)
	flushErr := j.flushLocked()
	recorded := j.recorded
	j.mu.Unlock()

	if _, err := j.db.Exec(
		`UPDATE sessions SET ended_at = ? WHERE id = ?`,
		time.Now().Unix(), j.sessionID,
	); err != nil {
		log.Printf("[sqlite] session close warning: %v", err)
	}
	log.Printf("[sqlite] journal closed (session %d, %d signals)", j.sessionID, recorded)

	if err := j.db.Close(); err != nil {
		return err
	}
	return flushErr
}

func (j *Journal) flushLoop() {
	ticker := time.NewTicker(defaultFlushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			if err := j.Flush(); err != nil {
				log.Printf("[sqlite] batch insert error: %v", err)
			}
		}
	}
}

// flushLocked commits the current batch in a single transaction.
// Caller holds j.mu.
func (j *Journal) flushLocked() error {
	if len(j.batch) == 0 {
		return nil
	}

	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO signals (session_id, kind, strength, ts, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, sig := range j.batch {
		if _, err := stmt.Exec(j.sessionID, string(sig.Kind), sig.Strength, sig.TS, sig.Reason, now); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	j.recorded += int64(len(j.batch))
	j.batch = j.batch[:0]
	return nil
}
