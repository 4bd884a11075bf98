package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mdstreamv1/internal/model"
)

// Session is one journal session row plus its signal count.
type Session struct {
	ID        int64
	Provider  string
	Symbols   string
	StartedAt time.Time
	EndedAt   time.Time // zero while the session is still open
	Signals   int64
}

// Reader provides read-only access to a signal journal for session
// review. Unlike the Journal it never creates a session row, so it can
// inspect a journal written by a previous run or one still being
// written.
type Reader struct {
	db *sql.DB
}

// NewReader opens an existing journal for reading.
func NewReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite] reader open at %s", path)
	return &Reader{db: db}, nil
}

// Sessions returns up to limit sessions, newest first, each with its
// signal count.
func (r *Reader) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unlimited
	}
	rows, err := r.db.Query(`
		SELECT s.id, s.provider, s.symbols, s.started_at, s.ended_at, COUNT(g.id)
		FROM sessions s
		LEFT JOIN signals g ON g.session_id = s.id
		GROUP BY s.id
		ORDER BY s.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&s.ID, &s.Provider, &s.Symbols, &started, &ended, &s.Signals); err != nil {
			return nil, fmt.Errorf("sqlite scan session: %w", err)
		}
		s.StartedAt = time.Unix(started, 0).UTC()
		if ended.Valid {
			s.EndedAt = time.Unix(ended.Int64, 0).UTC()
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LatestSession returns the most recent session, or nil when the
// journal has none.
func (r *Reader) LatestSession() (*Session, error) {
	var s Session
	var started int64
	var ended sql.NullInt64
	err := r.db.QueryRow(`
		SELECT s.id, s.provider, s.symbols, s.started_at, s.ended_at, COUNT(g.id)
		FROM sessions s
		LEFT JOIN signals g ON g.session_id = s.id
		GROUP BY s.id
		ORDER BY s.id DESC
		LIMIT 1
	`).Scan(&s.ID, &s.Provider, &s.Symbols, &started, &ended, &s.Signals)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // empty journal
		}
		return nil, fmt.Errorf("sqlite latest session: %w", err)
	}
	s.StartedAt = time.Unix(started, 0).UTC()
	if ended.Valid {
		s.EndedAt = time.Unix(ended.Int64, 0).UTC()
	}
	return &s, nil
}

// SignalsForSession returns a session's journaled signals in time order.
func (r *Reader) SignalsForSession(sessionID int64, limit int) ([]model.Signal, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(`
		SELECT kind, strength, ts, reason
		FROM signals
		WHERE session_id = ?
		ORDER BY ts ASC, id ASC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		var sig model.Signal
		var kind string
		var reason sql.NullString
		if err := rows.Scan(&kind, &sig.Strength, &sig.TS, &reason); err != nil {
			return nil, fmt.Errorf("sqlite scan signal: %w", err)
		}
		sig.Kind = model.SignalKind(kind)
		sig.Reason = reason.String
		out = append(out, sig)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
