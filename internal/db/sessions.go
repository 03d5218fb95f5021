package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when no session has the requested ID.
var ErrSessionNotFound = errors.New("session not found")

// Session statuses.
const (
	StatusActive   = "active"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Session is one acquisition run of a stream. Params holds the resolved
// analysis parameters so a recording can be replayed deterministically.
type Session struct {
	ID           string          `json:"session_id"`
	Stream       string          `json:"stream_id"`
	Source       string          `json:"source"`
	RecordingDir string          `json:"recording_dir,omitempty"`
	FS           float64         `json:"fs"`
	Params       json.RawMessage `json:"params"`
	Status       string          `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Chunks       int64           `json:"chunks"`
	LastFailure  string          `json:"last_failure,omitempty"`
}

// CreateSession inserts s, filling in a new ID, start time and active status
// where they are unset.
func (db *DB) CreateSession(s *Session) error {
	if s.Stream == "" {
		return fmt.Errorf("session stream id is empty")
	}
	if s.FS <= 0 {
		return fmt.Errorf("session fs must be positive, got %v", s.FS)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	if s.Status == "" {
		s.Status = StatusActive
	}
	if len(s.Params) == 0 {
		s.Params = json.RawMessage("{}")
	}
	if !json.Valid(s.Params) {
		return fmt.Errorf("session params are not valid JSON")
	}
	_, err := db.Exec(`
		INSERT INTO sessions (
			session_id, stream_id, source, recording_dir, fs, params_json,
			status, started_unix_nanos, chunks, last_failure
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Stream, s.Source, s.RecordingDir, s.FS, string(s.Params),
		s.Status, s.StartedAt.UnixNano(), s.Chunks, s.LastFailure,
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	return nil
}

// FinishSession closes an active session. A non-empty lastFailure marks it
// failed rather than finished.
func (db *DB) FinishSession(id string, chunks int64, lastFailure string, at time.Time) error {
	status := StatusFinished
	if lastFailure != "" {
		status = StatusFailed
	}
	res, err := db.Exec(`
		UPDATE sessions
		SET status = ?, finished_unix_nanos = ?, chunks = ?, last_failure = ?
		WHERE session_id = ?`,
		status, at.UnixNano(), chunks, lastFailure, id,
	)
	if err != nil {
		return fmt.Errorf("finish session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

const sessionColumns = `session_id, stream_id, source, recording_dir, fs, params_json,
	status, started_unix_nanos, finished_unix_nanos, chunks, last_failure`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		s        Session
		params   string
		started  int64
		finished sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.Stream, &s.Source, &s.RecordingDir, &s.FS, &params,
		&s.Status, &started, &finished, &s.Chunks, &s.LastFailure); err != nil {
		return nil, err
	}
	s.Params = json.RawMessage(params)
	s.StartedAt = time.Unix(0, started)
	if finished.Valid {
		t := time.Unix(0, finished.Int64)
		s.FinishedAt = &t
	}
	return &s, nil
}

// Session returns the session with the given ID.
func (db *DB) Session(id string) (*Session, error) {
	s, err := scanSession(db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query session %s: %w", id, err)
	}
	return s, nil
}

// Sessions returns up to limit sessions, newest first. A limit <= 0 returns
// all of them.
func (db *DB) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT `+sessionColumns+` FROM sessions
		ORDER BY started_unix_nanos DESC, session_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// MetricsRecord is one stored snapshot of flat metrics.
type MetricsRecord struct {
	Version    uint64          `json:"version"`
	RecordedAt time.Time       `json:"recorded_at"`
	Metrics    json.RawMessage `json:"metrics"`
}

// RecordMetrics stores the flat metrics of snapshot version for a session.
// Re-recording a version replaces it.
func (db *DB) RecordMetrics(sessionID string, version uint64, metrics json.RawMessage, at time.Time) error {
	if !json.Valid(metrics) {
		return fmt.Errorf("metrics for session %s are not valid JSON", sessionID)
	}
	_, err := db.Exec(`
		INSERT INTO session_metrics (session_id, version, recorded_unix_nanos, metrics_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id, version) DO UPDATE SET
			recorded_unix_nanos = excluded.recorded_unix_nanos,
			metrics_json = excluded.metrics_json`,
		sessionID, int64(version), at.UnixNano(), string(metrics),
	)
	if err != nil {
		return fmt.Errorf("record metrics for session %s: %w", sessionID, err)
	}
	return nil
}

// Metrics returns the stored snapshots of a session in version order.
func (db *DB) Metrics(sessionID string) ([]MetricsRecord, error) {
	rows, err := db.Query(`
		SELECT version, recorded_unix_nanos, metrics_json FROM session_metrics
		WHERE session_id = ? ORDER BY version`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query metrics for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []MetricsRecord
	for rows.Next() {
		var (
			r        MetricsRecord
			version  int64
			recorded int64
			body     string
		)
		if err := rows.Scan(&version, &recorded, &body); err != nil {
			return nil, err
		}
		r.Version = uint64(version)
		r.RecordedAt = time.Unix(0, recorded)
		r.Metrics = json.RawMessage(body)
		out = append(out, r)
	}
	return out, rows.Err()
}
