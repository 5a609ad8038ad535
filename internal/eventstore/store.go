// Package eventstore keeps a queryable local index of motion events
// alongside the MP4 clip and JSON sidecar the muxer writes, so an
// out-of-process tool can find a clip without scanning the filesystem.
package eventstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Outcome mirrors the two terminal motion.StateKind values that produce
// an Event: a run either completes or is rejected as too short/too weak.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRejected  Outcome = "rejected"
)

// Record is one row of the events table.
type Record struct {
	ID               string
	Camera           string
	When             time.Time
	StartStreamFrame uint64
	EndStreamFrame   uint64
	TotalScore       float64
	ClipPath         string
	Digest           string
	Outcome          Outcome
}

// Store wraps a WAL-mode sqlite database holding the events table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// runs its migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open %s: %w", path, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventstore: enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			camera TEXT NOT NULL,
			when_at DATETIME NOT NULL,
			start_frame INTEGER NOT NULL,
			end_frame INTEGER NOT NULL,
			total_score REAL NOT NULL,
			clip_path TEXT,
			digest TEXT,
			outcome TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_camera_time ON events(camera, when_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_time ON events(when_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("eventstore: migration failed: %w", err)
		}
	}
	return nil
}

// Insert records one completed or rejected event. The event ID is
// caller-supplied; inserting an existing ID updates its clip_path, digest
// and outcome instead of adding a row. internal/camera generates a fresh
// uuid for every record it inserts.
func (s *Store) Insert(r Record) error {
	query := `INSERT INTO events
		(id, camera, when_at, start_frame, end_frame, total_score, clip_path, digest, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			clip_path = excluded.clip_path,
			digest = excluded.digest,
			outcome = excluded.outcome`

	_, err := s.db.Exec(query, r.ID, r.Camera, r.When, r.StartStreamFrame, r.EndStreamFrame,
		r.TotalScore, r.ClipPath, r.Digest, string(r.Outcome))
	if err != nil {
		return fmt.Errorf("eventstore: insert event %s: %w", r.ID, err)
	}
	return nil
}

// ListByCamera returns events for camera ordered newest first, at most
// limit rows (no limit when limit <= 0).
func (s *Store) ListByCamera(camera string, since *time.Time, limit int) ([]Record, error) {
	query := `SELECT id, camera, when_at, start_frame, end_frame, total_score, clip_path, digest, outcome
		FROM events WHERE camera = ?`
	args := []interface{}{camera}

	if since != nil {
		query += " AND when_at >= ?"
		args = append(args, *since)
	}
	query += " ORDER BY when_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventstore: list events for %s: %w", camera, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var clipPath, digest sql.NullString
		var outcome string
		if err := rows.Scan(&r.ID, &r.Camera, &r.When, &r.StartStreamFrame, &r.EndStreamFrame,
			&r.TotalScore, &clipPath, &digest, &outcome); err != nil {
			return nil, fmt.Errorf("eventstore: scan event: %w", err)
		}
		r.ClipPath = clipPath.String
		r.Digest = digest.String
		r.Outcome = Outcome(outcome)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes events recorded before cutoff, returning the
// number of rows removed.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec("DELETE FROM events WHERE when_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("eventstore: prune events before %s: %w", cutoff, err)
	}
	return result.RowsAffected()
}
