package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/nletimeline/internal/store"
	"github.com/ivlev/nletimeline/internal/timeline"
	"github.com/ivlev/nletimeline/internal/tree"
)

const sec = time.Second

// newTimeline builds a timeline with one video and one audio track, both
// served by b, and one clip of 10s at 5s.
func newTimeline(t *testing.T, b timeline.Backend) *timeline.Timeline {
	t.Helper()
	ctx := timeline.NewContext(zaptest.NewLogger(t))
	tl := timeline.NewTimeline(ctx, tree.New(ctx.Logger()), timeline.Options{CommitParallelism: 2})
	for _, k := range []timeline.TrackType{timeline.TrackVideo, timeline.TrackAudio} {
		if err := tl.AddTrack(timeline.NewTrack(ctx, k, b)); err != nil {
			t.Fatalf("AddTrack: %v", err)
		}
	}
	asset := &timeline.ClipAsset{
		URI:         "file:///media/take1.mov",
		Variant:     timeline.VariantURI,
		Formats:     timeline.TrackVideo | timeline.TrackAudio,
		MaxDuration: 60 * sec,
	}
	if _, err := tl.AppendLayer().AddAsset(asset, 5*sec, 0, 10*sec, 0); err != nil {
		t.Fatalf("AddAsset: %v", err)
	}
	return tl
}

func TestMemoryBackend(t *testing.T) {
	m := NewMemory()
	tl := newTimeline(t, m)

	if err := tl.CommitSync(context.Background()); err != nil {
		t.Fatalf("CommitSync: %v", err)
	}
	if m.Commits() != 2 {
		t.Fatalf("expected 2 track commits, got %d", m.Commits())
	}
	for _, tr := range tl.Tracks() {
		snap, ok := m.Last(tr.Name())
		if !ok {
			t.Fatalf("no snapshot for %s", tr.Name())
		}
		if len(snap.Elements) != 1 || snap.Elements[0].Start != 5*sec {
			t.Errorf("unexpected snapshot of %s: %+v", tr.Name(), snap)
		}
	}
}

func TestMemoryBackendError(t *testing.T) {
	m := NewMemory()
	m.Err = errors.New("device unplugged")
	tl := newTimeline(t, m)

	if err := tl.CommitSync(context.Background()); !errors.Is(err, m.Err) {
		t.Fatalf("expected the backend error, got %v", err)
	}
}

func TestMemoryBackendHonorsContext(t *testing.T) {
	m := NewMemory()
	m.Delay = time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Commit(ctx, timeline.TrackSnapshot{Track: "videotrack0"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a deadline error, got %v", err)
	}
	if m.Commits() != 0 {
		t.Errorf("cancelled commit was recorded")
	}
}

func TestJournalBackend(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer s.Close()

	j := NewJournal(s, "demo", zaptest.NewLogger(t))
	tl := newTimeline(t, j)

	if err := tl.CommitSync(ctx); !errors.Is(err, ErrNoCommit) {
		t.Fatalf("commit outside a journal commit: expected ErrNoCommit, got %v", err)
	}

	id, err := j.Begin(ctx, tl.Name())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	commitErr := tl.CommitSync(ctx)
	if err := j.Finish(ctx, commitErr); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if commitErr != nil {
		t.Fatalf("CommitSync: %v", commitErr)
	}

	snaps, err := s.Snapshots(ctx, id)
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	commits, err := s.Commits(ctx, "demo", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 1 || commits[0].Status != store.StatusDone {
		t.Errorf("unexpected journal: %+v", commits)
	}

	if err := j.Finish(ctx, nil); !errors.Is(err, ErrNoCommit) {
		t.Errorf("second Finish: expected ErrNoCommit, got %v", err)
	}
}

func TestFilesAndMulti(t *testing.T) {
	dir := t.TempDir()
	m := NewMemory()
	tl := newTimeline(t, Multi{m, Files{Dir: dir}, nil})

	if err := tl.CommitSync(context.Background()); err != nil {
		t.Fatalf("CommitSync: %v", err)
	}
	if m.Commits() != 2 {
		t.Errorf("memory backend got %d commits, want 2", m.Commits())
	}

	video := tl.Tracks()[0]
	data, err := os.ReadFile(filepath.Join(dir, video.Name()+".yaml"))
	if err != nil {
		t.Fatalf("read snapshot file: %v", err)
	}
	var snap timeline.TrackSnapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode snapshot file: %v", err)
	}
	if snap.Track != video.Name() || len(snap.Elements) != 1 {
		t.Errorf("unexpected snapshot file content: %+v", snap)
	}
}
