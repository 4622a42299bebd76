// Package store keeps the commit journal of a project in SQLite.
//
// Every timeline commit opens a commit row; each track backend then
// records the snapshot it received. The journal lets a later run list what
// was committed and inspect the content of any past commit.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ivlev/nletimeline/internal/timeline"
)

// ErrUnknownCommit is returned when a commit id is not in the journal.
var ErrUnknownCommit = errors.New("unknown commit")

// Commit status values.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Commit is one row of the journal.
type Commit struct {
	ID       string
	Project  string
	Timeline string
	Status   string
	Error    string
	Tracks   int
	Started  time.Time
	Finished time.Time
}

// Store manages the journal database in WAL mode so concurrent track
// backends can record their snapshots.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the journal at path and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS commits (
		id          TEXT PRIMARY KEY,
		project     TEXT NOT NULL,
		timeline    TEXT NOT NULL,
		status      TEXT NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		started_at  TEXT NOT NULL,
		finished_at TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_commits_project ON commits(project, started_at);

	CREATE TABLE IF NOT EXISTS snapshots (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		commit_id  TEXT NOT NULL REFERENCES commits(id),
		track      TEXT NOT NULL,
		track_type TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_commit ON snapshots(commit_id, track);
	`
	_, err := s.db.Exec(schema)
	return err
}

// timeFormat has a fixed width so stored times sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func now() string { return time.Now().UTC().Format(timeFormat) }

// BeginCommit opens a running commit for the timeline of project and
// returns its id.
func (s *Store) BeginCommit(ctx context.Context, project, timelineName string) (string, error) {
	id := uuid.NewString()
	err := retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO commits (id, project, timeline, status, started_at) VALUES (?, ?, ?, ?, ?)`,
			id, project, timelineName, StatusRunning, now(),
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("begin commit: %w", err)
	}
	return id, nil
}

// RecordSnapshot stores the snapshot a track received during commitID.
func (s *Store) RecordSnapshot(ctx context.Context, commitID string, snap timeline.TrackSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO snapshots (commit_id, track, track_type, body, created_at) VALUES (?, ?, ?, ?, ?)`,
			commitID, snap.Track, snap.Type, string(body), now(),
		)
		return err
	})
}

// FinishCommit closes commitID. A non-nil cause marks it failed.
func (s *Store) FinishCommit(ctx context.Context, commitID string, cause error) error {
	status, msg := StatusDone, ""
	if cause != nil {
		status, msg = StatusFailed, cause.Error()
	}
	var affected int64
	err := retryOnContention(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE commits SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
			status, msg, now(), commitID,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("finish commit: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownCommit, commitID)
	}
	return nil
}

// Commits lists the newest commits of project, at most limit of them.
// A zero limit lists all of them.
func (s *Store) Commits(ctx context.Context, project string, limit int) ([]Commit, error) {
	query := `
		SELECT c.id, c.project, c.timeline, c.status, c.error, c.started_at, c.finished_at,
		       (SELECT COUNT(*) FROM snapshots sn WHERE sn.commit_id = c.id)
		FROM commits c WHERE c.project = ?
		ORDER BY c.started_at DESC, c.rowid DESC`
	args := []any{project}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Commit
	for rows.Next() {
		var c Commit
		var started, finished string
		if err := rows.Scan(&c.ID, &c.Project, &c.Timeline, &c.Status, &c.Error, &started, &finished, &c.Tracks); err != nil {
			return nil, err
		}
		c.Started, _ = time.Parse(timeFormat, started)
		if finished != "" {
			c.Finished, _ = time.Parse(timeFormat, finished)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Snapshots returns the track snapshots recorded for commitID, ordered by
// track name.
func (s *Store) Snapshots(ctx context.Context, commitID string) ([]timeline.TrackSnapshot, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commits WHERE id = ?`, commitID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommit, commitID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM snapshots WHERE commit_id = ? ORDER BY track, id`, commitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []timeline.TrackSnapshot
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var snap timeline.TrackSnapshot
		if err := json.Unmarshal([]byte(body), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot of %s: %w", commitID, err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
