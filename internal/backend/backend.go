// Package backend provides the track backends that receive committed
// track content.
package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/nletimeline/internal/store"
	"github.com/ivlev/nletimeline/internal/timeline"
)

// ErrNoCommit is returned by Journal when a track commits outside of a
// journal commit.
var ErrNoCommit = errors.New("no journal commit is open")

// Memory keeps the last snapshot of every track it serves.
type Memory struct {
	// Delay simulates a slow backend.
	Delay time.Duration
	// Err is returned by every commit when set.
	Err error

	mu      sync.Mutex
	last    map[string]timeline.TrackSnapshot
	commits int
}

var _ timeline.Backend = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{last: make(map[string]timeline.TrackSnapshot)}
}

func (m *Memory) Commit(ctx context.Context, snap timeline.TrackSnapshot) error {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[snap.Track] = snap
	m.commits++
	return nil
}

// Last returns the last snapshot committed for track.
func (m *Memory) Last(track string) (timeline.TrackSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.last[track]
	return snap, ok
}

// Commits returns the number of track commits received.
func (m *Memory) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Journal records every track snapshot in the commit journal. Begin opens
// the journal commit the following track commits belong to and Finish
// closes it.
type Journal struct {
	store   *store.Store
	project string
	log     *zap.Logger

	mu      sync.Mutex
	current string
}

var _ timeline.Backend = (*Journal)(nil)

func NewJournal(s *store.Store, project string, log *zap.Logger) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{store: s, project: project, log: log.Named("journal")}
}

// Begin opens a journal commit for the named timeline and returns its id.
func (j *Journal) Begin(ctx context.Context, timelineName string) (string, error) {
	id, err := j.store.BeginCommit(ctx, j.project, timelineName)
	if err != nil {
		return "", err
	}
	j.mu.Lock()
	j.current = id
	j.mu.Unlock()
	j.log.Debug("journal commit opened", zap.String("commit", id))
	return id, nil
}

// Finish closes the open journal commit with the outcome of the timeline
// commit.
func (j *Journal) Finish(ctx context.Context, cause error) error {
	j.mu.Lock()
	id := j.current
	j.current = ""
	j.mu.Unlock()
	if id == "" {
		return ErrNoCommit
	}
	if err := j.store.FinishCommit(ctx, id, cause); err != nil {
		return err
	}
	j.log.Debug("journal commit closed", zap.String("commit", id), zap.Bool("failed", cause != nil))
	return nil
}

func (j *Journal) Commit(ctx context.Context, snap timeline.TrackSnapshot) error {
	j.mu.Lock()
	id := j.current
	j.mu.Unlock()
	if id == "" {
		return fmt.Errorf("%w: track %s", ErrNoCommit, snap.Track)
	}
	if err := j.store.RecordSnapshot(ctx, id, snap); err != nil {
		return fmt.Errorf("journal track %s: %w", snap.Track, err)
	}
	return nil
}

// Files writes the snapshot of every track to <Dir>/<track>.yaml.
type Files struct {
	Dir string
}

var _ timeline.Backend = Files{}

func (f Files) Commit(ctx context.Context, snap timeline.TrackSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := yaml.Marshal(snap)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(f.Dir, snap.Track+".yaml"), data, 0o644)
}

// Multi fans a commit out to several backends and joins their errors.
type Multi []timeline.Backend

func (m Multi) Commit(ctx context.Context, snap timeline.TrackSnapshot) error {
	var errs []error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.Commit(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
