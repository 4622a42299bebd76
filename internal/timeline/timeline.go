package timeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SelectTracksFunc chooses the tracks a track element of clip goes to.
// Returning several tracks places copies of the element in each.
type SelectTracksFunc func(c *Clip, te *TrackElement) []*Track

// Options configures a timeline.
type Options struct {
	// AutoTransition is the auto-transition setting of appended layers.
	AutoTransition bool
	// SnappingDistance is passed to every edit of the tree.
	SnappingDistance time.Duration
	// TransitionAsset creates auto-transition clips. Defaults to a
	// crossfade.
	TransitionAsset *ClipAsset
	// CommitParallelism bounds the concurrent track backend commits.
	CommitParallelism int
	SelectTracks      SelectTracksFunc
}

// Timeline owns layers and tracks and coordinates the edits between them.
// It is not safe for concurrent mutation; only commits run concurrently.
type Timeline struct {
	ctx    *Context
	handle Handle
	name   string
	tree   Tree

	autoTransition  bool
	snapping        time.Duration
	transitionAsset *ClipAsset
	selectTracks    SelectTracksFunc
	parallelism     int

	layers          []*Layer
	tracks          []*Track
	autoTransitions []*AutoTransition
	groups          []*Group
	names           map[string]Element
	duration        time.Duration

	trackElementsMoving guard
	newTrack            *Track
	autoTransitionTrack *Track
	selectionErr        error

	// dynMu serializes track list changes against commits.
	dynMu sync.Mutex

	committedMu       sync.Mutex
	committedCond     *sync.Cond
	expectedCommitted int
	commitErr         error
	commitFrozen      int
	commitDelayed     bool
}

// NewTimeline creates an empty timeline checked by tree.
func NewTimeline(ctx *Context, tree Tree, opts Options) *Timeline {
	tl := &Timeline{
		ctx:             ctx,
		tree:            tree,
		autoTransition:  opts.AutoTransition,
		snapping:        opts.SnappingDistance,
		transitionAsset: opts.TransitionAsset,
		selectTracks:    opts.SelectTracks,
		parallelism:     opts.CommitParallelism,
		names:           make(map[string]Element),
	}
	if tl.transitionAsset == nil {
		tl.transitionAsset = CrossfadeAsset()
	}
	if tl.parallelism <= 0 {
		tl.parallelism = 1
	}
	tl.committedCond = sync.NewCond(&tl.committedMu)
	tl.handle = ctx.register(KindTimeline, tl)
	tl.name = ctx.nextName("timeline")
	return tl
}

func (tl *Timeline) Handle() Handle { return tl.handle }

func (tl *Timeline) Name() string { return tl.name }

func (tl *Timeline) Context() *Context { return tl.ctx }

func (tl *Timeline) logger() *zap.Logger {
	return tl.ctx.log.With(zap.String("timeline", tl.name))
}

func (tl *Timeline) SnappingDistance() time.Duration { return tl.snapping }

func (tl *Timeline) SetSnappingDistance(d time.Duration) { tl.snapping = d }

// SetSelectTracksFunc replaces the track selection of new track elements.
// nil restores the default: every track of the element's type.
func (tl *Timeline) SetSelectTracksFunc(fn SelectTracksFunc) { tl.selectTracks = fn }

func (tl *Timeline) AutoTransition() bool { return tl.autoTransition }

// SetAutoTransition toggles auto-transitions on every layer and on the
// layers added later.
func (tl *Timeline) SetAutoTransition(on bool) {
	tl.autoTransition = on
	for _, l := range tl.Layers() {
		l.SetAutoTransition(on)
	}
}

// Duration is the end of the last source of the timeline.
func (tl *Timeline) Duration() time.Duration { return tl.duration }

// UpdateDuration recomputes the timeline duration from the tree.
func (tl *Timeline) UpdateDuration() {
	d := tl.tree.Duration()
	if d == tl.duration {
		return
	}
	tl.duration = d
	tl.ctx.bus.Publish(Event{Kind: EventNotify, Source: tl.handle, Property: PropTimelineDuration})
}

// Element returns the element registered under name.
func (tl *Timeline) Element(name string) (Element, bool) {
	el, ok := tl.names[name]
	return el, ok
}

// IsEmpty reports whether the timeline holds no track element.
func (tl *Timeline) IsEmpty() bool {
	for _, t := range tl.Tracks() {
		if len(t.elements) > 0 {
			return false
		}
	}
	return true
}

func (tl *Timeline) registerName(el Element) error {
	if other, taken := tl.names[el.Name()]; taken && other != el {
		return fmt.Errorf("%w: %q", ErrNameCollision, el.Name())
	}
	tl.names[el.Name()] = el
	return nil
}

func (tl *Timeline) unregisterName(el Element) {
	if tl.names[el.Name()] == el {
		delete(tl.names, el.Name())
	}
}

// addElement registers el in the name map and the tree.
func (tl *Timeline) addElement(el Element) error {
	if err := tl.registerName(el); err != nil {
		tl.logger().Error("element name already in the timeline", zap.String("element", el.Name()))
		return err
	}
	tl.tree.TrackElement(el)
	if c, ok := el.(*Clip); ok {
		tl.ctx.bus.Subscribe(c.handle, tl.handle, func(ev Event) {
			switch ev.Kind {
			case EventChildAdded:
				if te, ok := tl.trackElement(ev.Subject); ok {
					tl.onChildAdded(c, te)
				}
			case EventChildRemoved:
				if te, ok := tl.trackElement(ev.Subject); ok {
					tl.onChildRemoved(c, te)
				}
			}
		})
	}
	return nil
}

func (tl *Timeline) removeElement(el Element) {
	if c, ok := el.(*Clip); ok {
		tl.ctx.bus.Unsubscribe(c.handle, tl.handle)
	}
	tl.tree.StopTracking(el)
	tl.unregisterName(el)
}

func (tl *Timeline) trackElement(h Handle) (*TrackElement, bool) {
	el, ok := tl.ctx.element(h)
	if !ok {
		return nil, false
	}
	te, ok := el.(*TrackElement)
	return te, ok
}

// Layers returns the layers ordered by priority.
func (tl *Timeline) Layers() []*Layer {
	out := make([]*Layer, len(tl.layers))
	copy(out, tl.layers)
	return out
}

// Layer returns the layer of priority p.
func (tl *Timeline) Layer(p uint32) (*Layer, bool) {
	for _, l := range tl.layers {
		if l.priority == p {
			return l, true
		}
	}
	return nil, false
}

// LayerPriorityInGap reports whether p is below the last layer priority
// without a layer of its own.
func (tl *Timeline) LayerPriorityInGap(p uint32) bool {
	for _, l := range tl.layers {
		if l.priority == p {
			return false
		}
		if l.priority > p {
			return true
		}
	}
	return false
}

func (tl *Timeline) sortLayers() {
	sort.SliceStable(tl.layers, func(i, j int) bool { return tl.layers[i].priority < tl.layers[j].priority })
}

// AddLayer adds l to the timeline. Its clips join the timeline and get
// their track elements.
func (tl *Timeline) AddLayer(l *Layer) error {
	if cur, ok := l.Timeline(); ok {
		return fmt.Errorf("%w: layer %s is already in timeline %s", ErrOwnership, l.name, cur.name)
	}
	if other, ok := tl.Layer(l.priority); ok {
		return fmt.Errorf("%w: priority %d is used by layer %s", ErrPlacement, l.priority, other.name)
	}
	tl.layers = append(tl.layers, l)
	tl.sortLayers()
	l.timeline = tl.handle
	if tl.autoTransition {
		l.autoTransition = true
	}

	tl.ctx.bus.Subscribe(l.handle, tl.handle, func(ev Event) { tl.onLayerEvent(l, ev) })
	for _, c := range l.Clips() {
		if err := c.setTimeline(tl); err != nil {
			tl.logger().Warn("clip could not join the timeline", zap.String("clip", c.name), zap.Error(err))
			continue
		}
		tl.addClipToTracks(c, nil)
	}
	tl.ctx.bus.Publish(Event{Kind: EventLayerAdded, Source: tl.handle, Subject: l.handle})
	tl.UpdateDuration()
	return nil
}

// AppendLayer creates a layer below the last one.
func (tl *Timeline) AppendLayer() *Layer {
	l := NewLayer(tl.ctx)
	if n := len(tl.layers); n > 0 {
		l.priority = tl.layers[n-1].priority + 1
		l.computeBand()
	}
	if err := tl.AddLayer(l); err != nil {
		tl.logger().Error("could not append layer", zap.Error(err))
	}
	return l
}

// RemoveLayer takes l and its clips out of the timeline. The clips stay
// in the layer.
func (tl *Timeline) RemoveLayer(l *Layer) error {
	idx := -1
	for i, x := range tl.layers {
		if x == l {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: layer %s is not in timeline %s", ErrNotFound, l.name, tl.name)
	}

	for _, at := range tl.AutoTransitions() {
		if cl, ok := at.clip.Layer(); ok && cl == l {
			at.destroy()
		}
	}
	for _, c := range l.Clips() {
		tl.onClipRemoved(c)
		if err := c.setTimeline(nil); err != nil {
			tl.logger().Warn("clip could not leave the timeline", zap.String("clip", c.name), zap.Error(err))
		}
	}
	tl.ctx.bus.Unsubscribe(l.handle, tl.handle)
	tl.layers = append(tl.layers[:idx], tl.layers[idx+1:]...)
	l.timeline = Handle{}
	tl.ctx.bus.Publish(Event{Kind: EventLayerRemoved, Source: tl.handle, Subject: l.handle})
	tl.UpdateDuration()
	return nil
}

// MoveLayer moves l to index p of the layer list. Every layer then takes
// its index as priority.
func (tl *Timeline) MoveLayer(l *Layer, p uint32) error {
	idx := -1
	for i, x := range tl.layers {
		if x == l {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: layer %s is not in timeline %s", ErrNotFound, l.name, tl.name)
	}
	layers := append(tl.layers[:idx:idx], tl.layers[idx+1:]...)
	pos := min(int(p), len(layers))
	layers = append(layers[:pos], append([]*Layer{l}, layers[pos:]...)...)
	tl.layers = layers

	tl.FreezeAutoTransitions(true)
	for i, x := range tl.layers {
		x.SetPriority(uint32(i))
	}
	tl.FreezeAutoTransitions(false)
	return nil
}

func (tl *Timeline) onLayerEvent(l *Layer, ev Event) {
	switch ev.Kind {
	case EventClipAdded:
		if c, ok := tl.clip(ev.Subject); ok && !c.IsMovingFromLayer() {
			tl.addClipToTracks(c, nil)
		}
	case EventClipRemoved:
		if c, ok := tl.clip(ev.Subject); ok && !c.IsMovingFromLayer() {
			tl.onClipRemoved(c)
		}
	case EventNotify:
		if ev.Property == PropAutoTransition {
			tl.onLayerAutoTransition(l)
		}
	}
}

func (tl *Timeline) clip(h Handle) (*Clip, bool) {
	el, ok := tl.ctx.element(h)
	if !ok {
		return nil, false
	}
	c, ok := el.(*Clip)
	return c, ok
}

func (tl *Timeline) onClipRemoved(c *Clip) {
	for _, t := range tl.Tracks() {
		c.EmptyFromTrack(t)
	}
	tl.UpdateDuration()
}

func (tl *Timeline) onLayerAutoTransition(l *Layer) {
	if l.autoTransition {
		tl.CreateTransitions()
		return
	}
	for _, at := range tl.AutoTransitions() {
		if at.clip.layerPriority() == l.priority {
			at.destroy()
		}
	}
}

// Groups returns the groups registered in the timeline.
func (tl *Timeline) Groups() []*Group {
	out := make([]*Group, len(tl.groups))
	copy(out, tl.groups)
	return out
}

func (tl *Timeline) addGroup(g *Group) error {
	if err := g.setTimeline(tl); err != nil {
		return err
	}
	tl.groups = append(tl.groups, g)
	tl.ctx.bus.Publish(Event{Kind: EventGroupAdded, Source: tl.handle, Subject: g.handle})
	return nil
}

func (tl *Timeline) removeGroup(g *Group) {
	for i, x := range tl.groups {
		if x == g {
			tl.groups = append(tl.groups[:i], tl.groups[i+1:]...)
			break
		}
	}
	if err := g.setTimeline(nil); err != nil {
		tl.logger().Warn("group could not leave the timeline", zap.Error(err))
	}
	tl.ctx.bus.Publish(Event{Kind: EventGroupRemoved, Source: tl.handle, Subject: g.handle})
}
