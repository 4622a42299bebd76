package director

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/nletimeline/internal/timeline"
	"github.com/ivlev/nletimeline/internal/tree"
)

const sec = time.Second

const editScript = `
version: "1"
layers: 1
steps:
  - op: add
    name: intro
    layer: 0
    start: 0
    duration: 10
    asset: {uri: "file:///media/a.mov", variant: uri, formats: video, max_duration: 60}
  - op: add
    name: body
    layer: 0
    start: 20
    duration: 10
    asset: {variant: test}
  - op: edit
    name: body
    mode: normal
    position: 0
    expect: geometry
  - op: set
    name: body
    property: duration
    value: 5
  - op: split
    name: intro
    position: 4
    as: intro_tail
  - op: effect
    name: intro
    effect: blur
    sigma: 3
    as: intro_blur
  - op: bind
    name: intro_blur
    property: sigma
    keyframes:
      - {time: 0, value: 0}
      - {time: 2, value: 3}
  - op: commit
  - op: set
    name: intro
    property: inpoint
    value: 70
    expect: not_enough_content
  - op: remove
    name: body
`

func newTimeline(t *testing.T) *timeline.Timeline {
	t.Helper()
	ctx := timeline.NewContext(zaptest.NewLogger(t))
	tl := timeline.NewTimeline(ctx, tree.New(ctx.Logger()), timeline.Options{})
	if err := tl.AddTrack(timeline.NewTrack(ctx, timeline.TrackVideo, nil)); err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	return tl
}

func parse(t *testing.T, src string) *Script {
	t.Helper()
	var s Script
	if err := yaml.Unmarshal([]byte(src), &s); err != nil {
		t.Fatalf("parse script: %v", err)
	}
	return &s
}

func TestRunScript(t *testing.T) {
	tl := newTimeline(t)
	commits := 0
	commit := func(ctx context.Context) error {
		commits++
		return tl.CommitSync(ctx)
	}
	r := NewRunner(tl, nil, commit, zaptest.NewLogger(t))

	results, err := r.Run(context.Background(), parse(t, editScript))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("expected 10 step results, got %d", len(results))
	}
	if !errors.Is(results[2].Err, timeline.ErrGeometry) {
		t.Errorf("step 3 should have been refused, got %v", results[2].Err)
	}
	if results[4].Created != "intro_tail" {
		t.Errorf("split created %q", results[4].Created)
	}
	if commits != 1 {
		t.Errorf("expected 1 commit, got %d", commits)
	}

	intro, ok := tl.Element("intro")
	if !ok {
		t.Fatal("intro is missing")
	}
	if intro.Start() != 0 || intro.Duration() != 4*sec {
		t.Errorf("intro: got (%v, %v), want (0s, 4s)", intro.Start(), intro.Duration())
	}
	tail, ok := tl.Element("intro_tail")
	if !ok {
		t.Fatal("intro_tail is missing")
	}
	if tail.Start() != 4*sec || tail.Duration() != 6*sec || tail.Inpoint() != 4*sec {
		t.Errorf("intro_tail: got (%v, %v, in %v)", tail.Start(), tail.Duration(), tail.Inpoint())
	}
	if _, ok := tl.Element("body"); ok {
		t.Error("body should have been removed")
	}

	el, ok := tl.Element("intro_blur")
	if !ok {
		t.Fatal("intro_blur is missing")
	}
	fx := el.(*timeline.TrackElement)
	if !strings.HasPrefix(fx.Description(), "gblur=sigma=3") {
		t.Errorf("effect description: %q", fx.Description())
	}
	b, ok := fx.Binding("sigma")
	if !ok {
		t.Fatal("sigma binding is missing")
	}
	if v, _ := b.ValueAt(time.Second); v != 1.5 {
		t.Errorf("sigma at 1s: got %v, want 1.5", v)
	}
}

func TestRunStopsOnUnexpectedError(t *testing.T) {
	tl := newTimeline(t)
	s := parse(t, `
layers: 1
steps:
  - op: add
    name: a
    layer: 0
    start: 0
    duration: 10
    asset: {variant: test}
  - op: add
    name: b
    layer: 0
    start: 0
    duration: 10
    asset: {variant: test}
  - op: remove
    name: a
`)
	results, err := NewRunner(tl, nil, nil, zaptest.NewLogger(t)).Run(context.Background(), s)
	if err == nil {
		t.Fatal("expected the second add to fail")
	}
	if !strings.Contains(err.Error(), "step 2") {
		t.Errorf("error should name the step: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
	if _, ok := tl.Element("a"); !ok {
		t.Error("steps after the failure must not run")
	}
}

func TestExpectationNotMet(t *testing.T) {
	tl := newTimeline(t)
	s := parse(t, `
layers: 1
steps:
  - op: add
    name: a
    layer: 0
    start: 0
    duration: 10
    asset: {variant: test}
    expect: geometry
`)
	if _, err := NewRunner(tl, nil, nil, nil).Run(context.Background(), s); err == nil {
		t.Fatal("a step expected to fail that succeeds must stop the run")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		step Step
		want string
	}{
		{"unknown op", Step{Op: "explode"}, "unknown op"},
		{"add without asset", Step{Op: OpAdd}, "asset is required"},
		{"edit without name", Step{Op: OpEdit}, "name is required"},
		{"bad edit mode", Step{Op: OpEdit, Name: "a", Mode: "shuffle"}, "unknown edit mode"},
		{"bad property", Step{Op: OpSet, Name: "a", Property: "color"}, "unknown property"},
		{"bad expectation", Step{Op: OpCommit, Expect: "boom"}, "unknown expected error"},
		{"auto transition without flag", Step{Op: OpAutoTransition}, "enabled is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Script{Steps: []Step{tt.step}}
			err := s.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected an error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestScriptWriteRead(t *testing.T) {
	layer := int64(0)
	start := Seconds(1.5)
	s := &Script{
		Version: "1",
		Tracks:  []string{"video", "audio"},
		Layers:  2,
		Steps: []Step{
			{Op: OpAdd, Name: "a", Layer: &layer, Start: &start, Duration: 3, Asset: &AssetSpec{Variant: "title"}},
			{Op: OpCommit},
		},
	}

	path := filepath.Join(t.TempDir(), "edit.yaml")
	if err := WriteScript(s, path); err != nil {
		t.Fatalf("WriteScript: %v", err)
	}
	got, err := ReadScript(path)
	if err != nil {
		t.Fatalf("ReadScript: %v", err)
	}
	if len(got.Steps) != 2 || got.Layers != 2 || len(got.Tracks) != 2 {
		t.Fatalf("unexpected script: %+v", got)
	}
	if got.Steps[0].Start.Duration() != 1500*time.Millisecond {
		t.Errorf("start: got %v", got.Steps[0].Start.Duration())
	}
}
