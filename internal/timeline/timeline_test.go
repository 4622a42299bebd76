package timeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ivlev/nletimeline/internal/timeline"
	"github.com/ivlev/nletimeline/internal/tree"
	"go.uber.org/zap/zaptest"
)

const sec = time.Second

func newTimeline(t *testing.T, opts timeline.Options, kinds ...timeline.TrackType) (*timeline.Context, *timeline.Timeline, []*timeline.Track) {
	t.Helper()
	ctx := timeline.NewContext(zaptest.NewLogger(t))
	tl := timeline.NewTimeline(ctx, tree.New(ctx.Logger()), opts)
	if len(kinds) == 0 {
		kinds = []timeline.TrackType{timeline.TrackVideo}
	}
	var tracks []*timeline.Track
	for _, k := range kinds {
		tr := timeline.NewTrack(ctx, k, nil)
		if err := tl.AddTrack(tr); err != nil {
			t.Fatalf("AddTrack(%s) failed: %v", k, err)
		}
		tracks = append(tracks, tr)
	}
	return ctx, tl, tracks
}

func uriAsset(maxDuration time.Duration) *timeline.ClipAsset {
	return &timeline.ClipAsset{
		URI:         "file:///media/interview.mp4",
		Variant:     timeline.VariantURI,
		Formats:     timeline.TrackVideo,
		MaxDuration: maxDuration,
	}
}

func addClip(t *testing.T, l *timeline.Layer, asset *timeline.ClipAsset, start, inpoint, duration time.Duration) *timeline.Clip {
	t.Helper()
	c, err := l.AddAsset(asset, start, inpoint, duration, 0)
	if err != nil {
		t.Fatalf("AddAsset(%s at %v) failed: %v", asset.ID(), start, err)
	}
	return c
}

func testAsset() *timeline.ClipAsset {
	return &timeline.ClipAsset{Variant: timeline.VariantTest, Formats: timeline.TrackVideo}
}

func TestInpointShrinksToDurationLimit(t *testing.T) {
	_, tl, _ := newTimeline(t, timeline.Options{})
	c := addClip(t, tl.AppendLayer(), uriAsset(100*sec), 0, 0, 90*sec)

	if got := c.DurationLimit(); got != 100*sec {
		t.Fatalf("duration-limit: got %v, want %v", got, 100*sec)
	}
	if err := c.SetInpoint(30 * sec); err != nil {
		t.Fatalf("SetInpoint failed: %v", err)
	}
	if got := c.DurationLimit(); got != 70*sec {
		t.Errorf("duration-limit: got %v, want %v", got, 70*sec)
	}
	if got := c.Duration(); got != 70*sec {
		t.Errorf("clip was not shrunk to its limit: duration %v", got)
	}
	if got := tl.Duration(); got != 70*sec {
		t.Errorf("timeline duration: got %v, want %v", got, 70*sec)
	}

	if err := c.SetInpoint(150 * sec); !errors.Is(err, timeline.ErrNotEnoughContent) {
		t.Errorf("in-point past the content: expected ErrNotEnoughContent, got %v", err)
	}
}

func TestMaxDurationClampsDuration(t *testing.T) {
	_, tl, _ := newTimeline(t, timeline.Options{})
	c := addClip(t, tl.AppendLayer(), uriAsset(0), 0, 10*sec, 90*sec)
	core := c.Children()[0]

	if err := core.SetMaxDuration(80 * sec); err != nil {
		t.Fatalf("SetMaxDuration failed: %v", err)
	}
	if got := c.DurationLimit(); got != 70*sec {
		t.Errorf("duration-limit: got %v, want %v", got, 70*sec)
	}
	if got := c.Duration(); got != 70*sec {
		t.Errorf("clip was not clamped to its limit: duration %v", got)
	}
	if c.Start() != 0 || c.Inpoint() != 10*sec {
		t.Errorf("clamp moved the clip: start=%v inpoint=%v", c.Start(), c.Inpoint())
	}
}

func TestDeactivationNeverLowersLimit(t *testing.T) {
	_, tl, _ := newTimeline(t, timeline.Options{})
	c := addClip(t, tl.AppendLayer(), uriAsset(100*sec), 0, 0, 50*sec)
	core := c.Children()[0]

	if err := core.SetActive(false); err != nil {
		t.Fatalf("SetActive(false) failed: %v", err)
	}
	if limit := c.DurationLimit(); timeline.IsLess(limit, 100*sec) {
		t.Errorf("deactivating lowered the limit to %v", limit)
	}
	if err := core.SetActive(true); err != nil {
		t.Fatalf("SetActive(true) failed: %v", err)
	}
	if got := c.DurationLimit(); got != 100*sec {
		t.Errorf("duration-limit after reactivation: got %v, want %v", got, 100*sec)
	}
	if got := c.Duration(); got != 50*sec {
		t.Errorf("duration changed: got %v", got)
	}
}

func TestTopEffectOrder(t *testing.T) {
	ctx, tl, _ := newTimeline(t, timeline.Options{})
	c := addClip(t, tl.AppendLayer(), testAsset(), 0, 0, 10*sec)

	var effects []*timeline.TrackElement
	for _, name := range []string{"blur", "sepia", "vignette"} {
		te, err := c.AddAsset(&timeline.EffectAsset{Description: name, TrackType: timeline.TrackVideo})
		if err != nil {
			t.Fatalf("adding effect %s failed: %v", name, err)
		}
		effects = append(effects, te)
	}
	if got := c.Height(); got != uint32(len(c.Children())) {
		t.Fatalf("height: got %d, want %d", got, len(c.Children()))
	}
	for i, e := range effects {
		if got := c.TopEffectIndex(e); got != i {
			t.Errorf("index of %s: got %d, want %d", e.Description(), got, i)
		}
	}

	height := c.Height()
	limit := c.DurationLimit()
	var limitUpdates int
	ctx.Bus().Subscribe(c.Handle(), tl.Handle(), func(ev timeline.Event) {
		if ev.Kind == timeline.EventNotify && ev.Property == timeline.PropDurationLimit {
			limitUpdates++
		}
	})
	if err := c.SetTopEffectIndex(effects[2], 0); err != nil {
		t.Fatalf("SetTopEffectIndex failed: %v", err)
	}
	if limitUpdates > 1 {
		t.Errorf("reordering updated the duration-limit %d times", limitUpdates)
	}
	if got := c.DurationLimit(); got != limit {
		t.Errorf("reordering changed the duration-limit from %v to %v", limit, got)
	}
	want := []*timeline.TrackElement{effects[2], effects[0], effects[1]}
	got := c.TopEffects()
	if len(got) != len(want) {
		t.Fatalf("got %d effects, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("effect %d: got %s, want %s", i, got[i].Description(), want[i].Description())
		}
	}
	if c.Height() != height {
		t.Errorf("reordering changed the height from %d to %d", height, c.Height())
	}

	if err := c.SetTopEffectIndex(effects[0], 5); !errors.Is(err, timeline.ErrNotFound) {
		t.Errorf("out of range index: expected ErrNotFound, got %v", err)
	}
}

func TestSplitKeepsContentInPlace(t *testing.T) {
	_, tl, _ := newTimeline(t, timeline.Options{})
	layer := tl.AppendLayer()
	c := addClip(t, layer, uriAsset(200*sec), 0, 20*sec, 100*sec)

	nc, err := c.Split(60 * sec)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if c.Start() != 0 || c.Duration() != 60*sec || c.Inpoint() != 20*sec {
		t.Errorf("first half: start=%v duration=%v inpoint=%v", c.Start(), c.Duration(), c.Inpoint())
	}
	if nc.Start() != 60*sec || nc.Duration() != 40*sec || nc.Inpoint() != 80*sec {
		t.Errorf("second half: start=%v duration=%v inpoint=%v", nc.Start(), nc.Duration(), nc.Inpoint())
	}
	children := nc.Children()
	if len(children) != 1 {
		t.Fatalf("second half has %d children, want 1", len(children))
	}
	if _, ok := children[0].Track(); !ok {
		t.Errorf("child of the second half is not in a track")
	}
	if got := len(layer.Clips()); got != 2 {
		t.Errorf("layer holds %d clips, want 2", got)
	}

	if _, err := c.Split(60 * sec); !errors.Is(err, timeline.ErrInvalidTime) {
		t.Errorf("split at the end: expected ErrInvalidTime, got %v", err)
	}
}

func TestAutoTransitionFollowsOverlap(t *testing.T) {
	_, tl, _ := newTimeline(t, timeline.Options{AutoTransition: true})
	layer := tl.AppendLayer()
	addClip(t, layer, testAsset(), 0, 0, 50*sec)
	b := addClip(t, layer, testAsset(), 40*sec, 0, 50*sec)

	ats := tl.AutoTransitions()
	if len(ats) != 1 {
		t.Fatalf("expected one auto-transition, got %d", len(ats))
	}
	at := ats[0]
	if at.Clip().Start() != 40*sec || at.Clip().Duration() != 10*sec {
		t.Errorf("transition: start=%v duration=%v, want 40s/10s", at.Clip().Start(), at.Clip().Duration())
	}

	if err := b.SetStart(45 * sec); err != nil {
		t.Fatalf("SetStart failed: %v", err)
	}
	if at.IsDestroyed() {
		t.Fatalf("transition destroyed by a move keeping the overlap")
	}
	if at.Clip().Start() != 45*sec || at.Clip().Duration() != 5*sec {
		t.Errorf("transition: start=%v duration=%v, want 45s/5s", at.Clip().Start(), at.Clip().Duration())
	}

	if err := b.Edit(1, timeline.EditNormal, timeline.EdgeNone, 45*sec); err != nil {
		t.Fatalf("moving to layer 1 failed: %v", err)
	}
	if !at.IsDestroyed() {
		t.Errorf("transition survived its sources leaving each other's layer")
	}
	if got := len(tl.AutoTransitions()); got != 0 {
		t.Errorf("expected no auto-transition, got %d", got)
	}
}

func TestLayerAutoTransitionOffDestroysTransitions(t *testing.T) {
	_, tl, _ := newTimeline(t, timeline.Options{AutoTransition: true})
	layer := tl.AppendLayer()
	addClip(t, layer, testAsset(), 0, 0, 50*sec)
	addClip(t, layer, testAsset(), 40*sec, 0, 50*sec)
	if got := len(tl.AutoTransitions()); got != 1 {
		t.Fatalf("expected one auto-transition, got %d", got)
	}

	layer.SetAutoTransition(false)
	if got := len(tl.AutoTransitions()); got != 0 {
		t.Errorf("expected no auto-transition, got %d", got)
	}
	if got := len(layer.Clips()); got != 2 {
		t.Errorf("layer holds %d clips, want the 2 sources", got)
	}
}

func TestGroupRoundTrip(t *testing.T) {
	_, tl, _ := newTimeline(t, timeline.Options{})
	layer := tl.AppendLayer()
	a := addClip(t, layer, testAsset(), 0, 0, 10*sec)
	b := addClip(t, layer, testAsset(), 20*sec, 0, 10*sec)

	el, err := timeline.GroupElements([]timeline.Element{a, b})
	if err != nil {
		t.Fatalf("GroupElements failed: %v", err)
	}
	g, ok := el.(*timeline.Group)
	if !ok {
		t.Fatalf("expected a group, got %T", el)
	}
	if got := len(tl.Groups()); got != 1 {
		t.Fatalf("timeline holds %d groups, want 1", got)
	}
	if p, ok := a.Parent(); !ok || p != timeline.Element(g) {
		t.Errorf("clip is not a child of the group")
	}
	if err := g.SetInpoint(sec); !errors.Is(err, timeline.ErrUnsupported) {
		t.Errorf("group in-point: expected ErrUnsupported, got %v", err)
	}

	children := g.Ungroup()
	if len(children) != 2 {
		t.Errorf("ungroup returned %d children, want 2", len(children))
	}
	if got := len(tl.Groups()); got != 0 {
		t.Errorf("timeline holds %d groups after ungroup", got)
	}
	if _, ok := a.Parent(); ok {
		t.Errorf("clip still has a parent after ungroup")
	}
}

func TestGroupClipsMergesTracks(t *testing.T) {
	_, tl, _ := newTimeline(t, timeline.Options{}, timeline.TrackVideo, timeline.TrackAudio)
	layer := tl.AppendLayer()
	asset := &timeline.ClipAsset{
		URI:         "file:///media/interview.mp4",
		Variant:     timeline.VariantURI,
		Formats:     timeline.TrackVideo | timeline.TrackAudio,
		MaxDuration: 100 * sec,
	}
	v, err := layer.AddAsset(asset, 0, 0, 10*sec, timeline.TrackVideo)
	if err != nil {
		t.Fatalf("adding video clip failed: %v", err)
	}
	a, err := layer.AddAsset(asset, 0, 0, 10*sec, timeline.TrackAudio)
	if err != nil {
		t.Fatalf("adding audio clip failed: %v", err)
	}

	el, err := timeline.GroupElements([]timeline.Element{v, a})
	if err != nil {
		t.Fatalf("GroupElements failed: %v", err)
	}
	if el != timeline.Element(v) {
		t.Fatalf("expected the clips to merge into %s, got %s", v.Name(), el.Name())
	}
	if got := len(v.Children()); got != 2 {
		t.Errorf("merged clip has %d children, want 2", got)
	}
	if got := len(layer.Clips()); got != 1 {
		t.Errorf("layer holds %d clips after merge, want 1", got)
	}

	clips := v.Ungroup()
	if len(clips) != 2 {
		t.Fatalf("ungroup returned %d clips, want 2", len(clips))
	}
	for _, c := range clips {
		if got := len(c.Children()); got != 1 {
			t.Errorf("%s has %d children, want 1", c.Name(), got)
		}
	}
	if got := len(layer.Clips()); got != 2 {
		t.Errorf("layer holds %d clips after ungroup, want 2", got)
	}
}

func TestTrackElementBelongsToOneTrack(t *testing.T) {
	ctx, tl, tracks := newTimeline(t, timeline.Options{})
	c := addClip(t, tl.AppendLayer(), testAsset(), 0, 0, 10*sec)
	other := timeline.NewTrack(ctx, timeline.TrackVideo, nil)
	if err := tl.AddTrack(other); err != nil {
		t.Fatalf("AddTrack failed: %v", err)
	}

	var core *timeline.TrackElement
	for _, child := range c.Children() {
		if tr, ok := child.Track(); ok && tr == tracks[0] {
			core = child
		}
	}
	if core == nil {
		t.Fatalf("no child of %s in %s", c.Name(), tracks[0].Name())
	}
	if err := other.AddElement(core); !errors.Is(err, timeline.ErrOwnership) {
		t.Errorf("expected ErrOwnership, got %v", err)
	}
	if other.Contains(core) {
		t.Errorf("element placed in a second track")
	}
}

func TestTrackPlacementRules(t *testing.T) {
	ctx, tl, tracks := newTimeline(t, timeline.Options{})
	main := tracks[0]
	c := addClip(t, tl.AppendLayer(), testAsset(), 0, 0, 10*sec)
	core := c.Children()[0]
	fx, err := c.AddAsset(&timeline.EffectAsset{Description: "blur", TrackType: timeline.TrackVideo})
	if err != nil {
		t.Fatalf("adding effect failed: %v", err)
	}
	// The clip was placed before this track existed, so it holds no child of c.
	side := timeline.NewTrack(ctx, timeline.TrackVideo, nil)
	if err := tl.AddTrack(side); err != nil {
		t.Fatalf("AddTrack failed: %v", err)
	}

	var coreCopy *timeline.TrackElement
	steps := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{"effect in a track without core sibling", func() error {
			_, err := c.AddChildToTrack(fx, side)
			return err
		}, timeline.ErrPlacement},
		{"core leaving a track that keeps an effect", func() error {
			return main.RemoveElement(core)
		}, timeline.ErrPlacement},
		{"core copy in a free track", func() error {
			var err error
			coreCopy, err = c.AddChildToTrack(core, side)
			return err
		}, nil},
		{"core copy leaving its track", func() error {
			return side.RemoveElement(coreCopy)
		}, nil},
		{"second core in an occupied track", func() error {
			return main.AddElement(coreCopy)
		}, timeline.ErrPlacement},
	}
	for _, st := range steps {
		err := st.run()
		switch {
		case st.wantErr == nil && err != nil:
			t.Fatalf("%s: unexpected error %v", st.name, err)
		case st.wantErr != nil && !errors.Is(err, st.wantErr):
			t.Errorf("%s: expected %v, got %v", st.name, st.wantErr, err)
		}
	}

	if !main.Contains(core) || !main.Contains(fx) {
		t.Errorf("refused edits changed the content of %s", main.Name())
	}
	if got := len(side.Elements()); got != 0 {
		t.Errorf("%s holds %d elements, want 0", side.Name(), got)
	}
	if got := len(c.TopEffects()); got != 1 {
		t.Errorf("clip has %d effects, want 1", got)
	}
}

func TestLayerPriorityInGap(t *testing.T) {
	ctx, tl, _ := newTimeline(t, timeline.Options{})
	tl.AppendLayer()
	far := timeline.NewLayer(ctx)
	far.SetPriority(2)
	if err := tl.AddLayer(far); err != nil {
		t.Fatalf("AddLayer failed: %v", err)
	}

	tests := []struct {
		prio uint32
		want bool
	}{
		{0, false},
		{1, true},
		{2, false},
		{3, false},
	}
	for _, tt := range tests {
		if got := tl.LayerPriorityInGap(tt.prio); got != tt.want {
			t.Errorf("LayerPriorityInGap(%d) = %v, want %v", tt.prio, got, tt.want)
		}
	}
}

type recordingBackend struct {
	mu    sync.Mutex
	snaps []timeline.TrackSnapshot
	err   error
}

func (b *recordingBackend) Commit(ctx context.Context, snap timeline.TrackSnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snaps = append(b.snaps, snap)
	return b.err
}

func (b *recordingBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.snaps)
}

func TestCommitSync(t *testing.T) {
	_, tl, tracks := newTimeline(t, timeline.Options{})
	backend := &recordingBackend{}
	tracks[0].SetBackend(backend)
	c := addClip(t, tl.AppendLayer(), testAsset(), 5*sec, 0, 10*sec)
	core := c.Children()[0]
	packed := core.Priority()
	if err := core.SetPriority(packed + 3); err != nil {
		t.Fatalf("SetPriority failed: %v", err)
	}

	if err := tl.CommitSync(context.Background()); err != nil {
		t.Fatalf("CommitSync failed: %v", err)
	}
	if got := core.Priority(); got != packed {
		t.Errorf("commit did not resync the layer: child priority %d, want %d", got, packed)
	}
	if backend.count() != 1 {
		t.Fatalf("backend got %d commits, want 1", backend.count())
	}
	snap := backend.snaps[0]
	if len(snap.Elements) != 1 {
		t.Fatalf("snapshot holds %d elements, want 1", len(snap.Elements))
	}
	if el := snap.Elements[0]; el.Clip != c.Name() || el.Start != 5*sec || el.Duration != 10*sec {
		t.Errorf("unexpected snapshot element: %+v", el)
	}

	backend.err = errors.New("sink closed")
	if err := tl.CommitSync(context.Background()); !errors.Is(err, backend.err) {
		t.Errorf("expected the backend error, got %v", err)
	}
}

func TestFrozenCommitRunsOnThaw(t *testing.T) {
	ctx, tl, tracks := newTimeline(t, timeline.Options{})
	backend := &recordingBackend{}
	tracks[0].SetBackend(backend)
	addClip(t, tl.AppendLayer(), testAsset(), 0, 0, 10*sec)

	committed := make(chan struct{}, 4)
	ctx.Bus().Subscribe(tl.Handle(), tracks[0].Handle(), func(ev timeline.Event) {
		if ev.Kind == timeline.EventCommitted {
			committed <- struct{}{}
		}
	})

	tl.FreezeCommit()
	if err := tl.Commit(context.Background()); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if backend.count() != 0 {
		t.Fatalf("frozen commit reached the backend")
	}

	if err := tl.ThawCommit(context.Background()); err != nil {
		t.Fatalf("ThawCommit failed: %v", err)
	}
	select {
	case <-committed:
	case <-time.After(5 * time.Second):
		t.Fatal("delayed commit never completed")
	}
	if backend.count() != 1 {
		t.Errorf("backend got %d commits, want 1", backend.count())
	}

	if err := tl.ThawCommit(context.Background()); !errors.Is(err, timeline.ErrUnsupported) {
		t.Errorf("thaw without freeze: expected ErrUnsupported, got %v", err)
	}
}
