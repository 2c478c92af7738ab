// Package store persists the collector's leader-report history in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Event kinds recorded by the collector.
const (
	EventMasterSet    = "master_set"
	EventMasterChange = "master_change"
	EventReset        = "reset"
)

// Reading is one LeaderReport as received by the collector.
type Reading struct {
	ID      int64     `json:"id"`
	Session string    `json:"session"`
	SwarmID int       `json:"swarm_id"`
	Reading int       `json:"reading"`
	LED     int       `json:"led"`
	At      time.Time `json:"at"`
}

// Event is a change in the collector's view of the swarm.
type Event struct {
	ID      int64     `json:"id"`
	Session string    `json:"session"`
	Kind    string    `json:"kind"`
	SwarmID *int      `json:"swarm_id,omitempty"`
	PrevID  *int      `json:"prev_swarm_id,omitempty"`
	Reading *int      `json:"reading,omitempty"`
	At      time.Time `json:"at"`
}

// Session is one epoch of collection, started at launch or by a reset.
type Session struct {
	ID      string    `json:"id"`
	Reason  string    `json:"reason"`
	Started time.Time `json:"started"`
}

type Store struct {
	*sql.DB
	path string
}

// NewStore opens the database at path and applies all pending migrations.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared across queries.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}

	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// StartSession records the start of a collection epoch.
func (s *Store) StartSession(ctx context.Context, sess Session) error {
	_, err := s.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_unix_nanos, reason) VALUES (?, ?, ?)`,
		sess.ID, sess.Started.UnixNano(), sess.Reason)
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

// Sessions returns every recorded session, oldest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT session_id, started_unix_nanos, reason FROM sessions ORDER BY started_unix_nanos, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var ns int64
		if err := rows.Scan(&sess.ID, &ns, &sess.Reason); err != nil {
			return nil, err
		}
		sess.Started = time.Unix(0, ns).UTC()
		out = append(out, sess)
	}
	return out, rows.Err()
}

// RecordReading appends a leader reading and returns its row id.
func (s *Store) RecordReading(ctx context.Context, r Reading) (int64, error) {
	res, err := s.ExecContext(ctx,
		`INSERT INTO readings (session_id, swarm_id, reading, led, received_unix_nanos) VALUES (?, ?, ?, ?, ?)`,
		r.Session, r.SwarmID, r.Reading, r.LED, r.At.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to record reading: %w", err)
	}
	return res.LastInsertId()
}

// RecordEvent appends a collector event and returns its row id.
func (s *Store) RecordEvent(ctx context.Context, e Event) (int64, error) {
	res, err := s.ExecContext(ctx,
		`INSERT INTO events (session_id, kind, swarm_id, prev_swarm_id, reading, occurred_unix_nanos) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Session, e.Kind, nullInt(e.SwarmID), nullInt(e.PrevID), nullInt(e.Reading), e.At.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to record event: %w", err)
	}
	return res.LastInsertId()
}

// Readings returns up to limit of the most recent readings, oldest first.
// A limit of zero or less returns everything.
func (s *Store) Readings(ctx context.Context, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.QueryContext(ctx, `
		SELECT reading_id, session_id, swarm_id, reading, led, received_unix_nanos FROM (
			SELECT * FROM readings ORDER BY reading_id DESC LIMIT ?
		) ORDER BY reading_id ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var r Reading
		var ns int64
		if err := rows.Scan(&r.ID, &r.Session, &r.SwarmID, &r.Reading, &r.LED, &ns); err != nil {
			return nil, err
		}
		r.At = time.Unix(0, ns).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events returns up to limit of the most recent events, oldest first.
func (s *Store) Events(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.QueryContext(ctx, `
		SELECT event_id, session_id, kind, swarm_id, prev_swarm_id, reading, occurred_unix_nanos FROM (
			SELECT * FROM events ORDER BY event_id DESC LIMIT ?
		) ORDER BY event_id ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var swarmID, prevID, reading sql.NullInt64
		var ns int64
		if err := rows.Scan(&e.ID, &e.Session, &e.Kind, &swarmID, &prevID, &reading, &ns); err != nil {
			return nil, err
		}
		e.SwarmID = intPtr(swarmID)
		e.PrevID = intPtr(prevID)
		e.Reading = intPtr(reading)
		e.At = time.Unix(0, ns).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Truncate deletes every reading and event. Sessions are kept so the reset
// history stays visible.
func (s *Store) Truncate(ctx context.Context) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"readings", "events"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
