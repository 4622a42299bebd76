package engine

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/nletimeline/internal/backend"
	"github.com/ivlev/nletimeline/internal/config"
	"github.com/ivlev/nletimeline/internal/director"
	"github.com/ivlev/nletimeline/internal/source"
	"github.com/ivlev/nletimeline/internal/store"
	"github.com/ivlev/nletimeline/internal/timeline"
)

func journalConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	cfg.Journal.Project = "test"
	cfg.Commit.Parallelism = 2
	return cfg
}

func newProject(t *testing.T, cfg config.Config, opts ...Option) *Project {
	t.Helper()
	p, err := NewProject(cfg, zaptest.NewLogger(t), opts...)
	if err != nil {
		t.Fatalf("NewProject: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func script(t *testing.T, src string) *director.Script {
	t.Helper()
	var s director.Script
	if err := yaml.Unmarshal([]byte(src), &s); err != nil {
		t.Fatalf("parse script: %v", err)
	}
	return &s
}

func TestNewProjectTracks(t *testing.T) {
	p := newProject(t, config.Default())
	if got := len(p.Timeline().Tracks()); got != 2 {
		t.Errorf("expected the 2 configured tracks, got %d", got)
	}
	if p.Store() != nil {
		t.Error("journal should be disabled without a path")
	}

	p = newProject(t, config.Default(), WithTracks([]string{"video"}))
	if got := len(p.Timeline().Tracks()); got != 1 {
		t.Errorf("expected 1 track, got %d", got)
	}

	cfg := config.Default()
	cfg.Timeline.Tracks = nil
	if _, err := NewProject(cfg, nil); err == nil {
		t.Error("an invalid configuration must be refused")
	}
}

func TestRunScriptJournalsCommits(t *testing.T) {
	p := newProject(t, journalConfig(t))
	ctx := context.Background()

	_, err := p.RunScript(ctx, script(t, `
layers: 1
steps:
  - op: add
    name: a
    layer: 0
    start: 0
    duration: 5
    asset: {variant: test, formats: video+audio}
  - op: commit
  - op: set
    name: a
    property: duration
    value: 8
  - op: commit
`))
	if err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	if got := p.Timeline().Duration(); got != 8*time.Second {
		t.Errorf("timeline duration: got %v, want 8s", got)
	}

	commits, err := p.Store().Commits(ctx, "test", 0)
	if err != nil {
		t.Fatalf("Commits: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("expected 2 journal commits, got %d", len(commits))
	}
	for _, c := range commits {
		if c.Status != store.StatusDone || c.Tracks != 2 {
			t.Errorf("commit %s: status %s with %d tracks", c.ID, c.Status, c.Tracks)
		}
		if c.Timeline != p.Timeline().Name() {
			t.Errorf("commit %s recorded for timeline %q", c.ID, c.Timeline)
		}
	}
	if got := p.Memory().Commits(); got != 4 {
		t.Errorf("memory backend: got %d track commits, want 4", got)
	}

	snaps, err := p.Store().Snapshots(ctx, commits[0].ID)
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	for _, snap := range snaps {
		if len(snap.Elements) != 1 || snap.Elements[0].Duration != 8*time.Second {
			t.Errorf("track %s: unexpected latest snapshot %+v", snap.Track, snap.Elements)
		}
	}
}

func TestFrozenCommitIsJournaledOnThaw(t *testing.T) {
	p := newProject(t, journalConfig(t))
	ctx := context.Background()

	_, err := p.RunScript(ctx, script(t, `
layers: 1
steps:
  - op: freeze_commit
  - op: add
    name: a
    layer: 0
    start: 0
    duration: 5
    asset: {variant: test}
  - op: commit
  - op: commit
  - op: thaw_commit
`))
	if err != nil {
		t.Fatalf("RunScript: %v", err)
	}

	commits, err := p.Store().Commits(ctx, "test", 0)
	if err != nil {
		t.Fatalf("Commits: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("expected the delayed commits to run once, got %d journal commits", len(commits))
	}
	if commits[0].Status != store.StatusDone || commits[0].Tracks != 2 {
		t.Errorf("commit: status %s with %d tracks", commits[0].Status, commits[0].Tracks)
	}
}

func TestCommitFailureIsJournaled(t *testing.T) {
	broken := backend.NewMemory()
	broken.Err = errors.New("disk full")
	p := newProject(t, journalConfig(t), WithBackend(broken))
	ctx := context.Background()

	if err := p.Commit(ctx); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected the backend error, got %v", err)
	}
	commits, err := p.Store().Commits(ctx, "test", 0)
	if err != nil {
		t.Fatalf("Commits: %v", err)
	}
	if len(commits) != 1 || commits[0].Status != store.StatusFailed {
		t.Fatalf("expected one failed commit, got %+v", commits)
	}
	if !strings.Contains(commits[0].Error, "disk full") {
		t.Errorf("recorded error: %q", commits[0].Error)
	}
}

func TestCommitTimeout(t *testing.T) {
	slow := backend.NewMemory()
	slow.Delay = time.Second
	cfg := config.Default()
	cfg.Commit.Timeout = config.Duration(20 * time.Millisecond)
	// The track commits outlive the test, so nothing may log to it.
	p, err := NewProject(cfg, nil, WithBackend(slow))
	if err != nil {
		t.Fatalf("NewProject: %v", err)
	}
	defer p.Close()

	if err := p.Commit(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected a deadline error, got %v", err)
	}
}

func writePages(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 80, 60))
		for j := range img.Pix {
			img.Pix[j] = uint8(i * 60)
		}
		f, err := os.Create(filepath.Join(dir, string(rune('a'+i))+".png"))
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
	return dir
}

func TestSlideshow(t *testing.T) {
	cfg := config.Default()
	cfg.Slideshow.Variation = 0
	cfg.Slideshow.Effect = "zoompan"
	p := newProject(t, cfg, WithRand(rand.New(rand.NewSource(1))))

	src, err := source.Open(writePages(t, 3))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	layer, err := p.Slideshow(context.Background(), src)
	if err != nil {
		t.Fatalf("Slideshow: %v", err)
	}

	var pages []*timeline.Clip
	for _, c := range layer.Clips() {
		if !c.IsTransition() {
			pages = append(pages, c)
		}
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 page clips, got %d", len(pages))
	}
	for i, c := range pages {
		if c.Asset().URI != source.PageURI(src.Path(), i) {
			t.Errorf("clip %d holds %s", i, c.Asset().URI)
		}
		if len(c.TopEffects()) != 1 {
			t.Errorf("clip %d: expected the zoompan effect, got %d effects", i, len(c.TopEffects()))
		}
	}
	if got := len(p.Timeline().AutoTransitions()); got != 2 {
		t.Errorf("expected a cross-fade between each pair of pages, got %d", got)
	}
	// Three pages of 3s of visible time each.
	if got := p.Timeline().Duration(); got != 9*time.Second {
		t.Errorf("timeline duration: got %v, want 9s", got)
	}
}

func TestThumbnailsAndRender(t *testing.T) {
	p := newProject(t, config.Default())
	src, err := source.Open(writePages(t, 2))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	thumbs, err := p.Thumbnails(context.Background(), src, 40, 40)
	if err != nil {
		t.Fatalf("Thumbnails: %v", err)
	}
	if len(thumbs) != 2 {
		t.Fatalf("expected 2 thumbnails, got %d", len(thumbs))
	}
	thumb, ok := thumbs[source.PageURI(src.Path(), 1)]
	if !ok {
		t.Fatal("thumbnail of page 2 is missing")
	}
	if b := thumb.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Errorf("thumbnail size: got %v, want 40x30", b)
	}

	if _, err := p.Slideshow(context.Background(), src); err != nil {
		t.Fatalf("Slideshow: %v", err)
	}
	var buf bytes.Buffer
	if err := p.Render(&buf, thumbs); err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	cfg := p.Config()
	if want := image.Rect(0, 0, cfg.Render.Width, 2*cfg.Render.RowHeight); img.Bounds() != want {
		t.Errorf("snapshot bounds: got %v, want %v", img.Bounds(), want)
	}
}
