package tree

import (
	"errors"
	"fmt"
	"time"

	"github.com/ivlev/nletimeline/internal/timeline"
	"go.uber.org/zap"
)

// Move moves the toplevel of el (EdgeNone), el itself (EdgeStart) or trims
// the end of el (EdgeEnd).
func (t *Tree) Move(el timeline.Element, layerOffset int64, offset time.Duration, edge timeline.Edge, snapDistance time.Duration) error {
	el = replaceTrackElementWithClip(el)
	var mode editMode
	switch edge {
	case timeline.EdgeEnd:
		mode = editTrimEnd
	case timeline.EdgeStart:
		mode = editMove
	case timeline.EdgeNone:
		el = el.Toplevel()
		mode = editMove
	default:
		return fmt.Errorf("%w: edge %s", timeline.ErrUnsupported, edge)
	}
	t.log.Debug("move", zap.String("element", el.Name()), zap.Stringer("mode", mode),
		zap.Duration("offset", offset), zap.Int64("layer_offset", layerOffset))

	table := newEdits()
	if err := table.add(el, mode); err != nil {
		return err
	}
	return t.run(el, mode, table, offset, layerOffset, snapDistance)
}

// Trim trims the start or the end of el. EdgeNone trims the start.
func (t *Tree) Trim(el timeline.Element, layerOffset int64, offset time.Duration, edge timeline.Edge, snapDistance time.Duration) error {
	el = replaceTrackElementWithClip(el)
	if edge == timeline.EdgeNone {
		t.log.Warn("no edge given for trimming, trimming the start", zap.String("element", el.Name()))
		edge = timeline.EdgeStart
	}
	var mode editMode
	switch edge {
	case timeline.EdgeEnd:
		mode = editTrimEnd
	case timeline.EdgeStart:
		mode = editTrimStart
	default:
		return fmt.Errorf("%w: edge %s", timeline.ErrUnsupported, edge)
	}
	t.log.Debug("trim", zap.String("element", el.Name()), zap.Stringer("mode", mode),
		zap.Duration("offset", offset), zap.Int64("layer_offset", layerOffset))

	table := newEdits()
	if err := table.add(el, mode); err != nil {
		return err
	}
	return t.run(el, mode, table, offset, layerOffset, snapDistance)
}

// Ripple edits el like Move and shifts every other toplevel starting at or
// after the edited edge by the same offsets.
func (t *Tree) Ripple(el timeline.Element, layerOffset int64, offset time.Duration, edge timeline.Edge, snapDistance time.Duration) error {
	el = replaceTrackElementWithClip(el)
	rippleToplevel := el.Toplevel()

	var mode editMode
	switch edge {
	case timeline.EdgeEnd:
		mode = editTrimEnd
	case timeline.EdgeStart:
		mode = editMove
	case timeline.EdgeNone:
		el = rippleToplevel
		mode = editMove
	default:
		return fmt.Errorf("%w: edge %s", timeline.ErrUnsupported, edge)
	}
	rippleTime := edgeValue(el, edge)
	t.log.Debug("ripple", zap.String("element", el.Name()), zap.Stringer("mode", mode),
		zap.Duration("from", rippleTime), zap.Duration("offset", offset), zap.Int64("layer_offset", layerOffset))

	table := newEdits()
	if err := table.add(el, mode); err != nil {
		return err
	}
	for _, top := range t.Toplevels() {
		if top == rippleToplevel || top.Start() < rippleTime {
			continue
		}
		if err := table.add(top, editMove); err != nil {
			return err
		}
	}
	return t.run(el, mode, table, offset, layerOffset, snapDistance)
}

// Roll trims an edge of el and the opposite edge of the sources touching
// it, so that the cut point moves without leaving a gap.
func (t *Tree) Roll(el timeline.Element, offset time.Duration, edge timeline.Edge, snapDistance time.Duration) error {
	el = replaceTrackElementWithClip(el)

	var mode, opposite editMode
	var neighbourEdge timeline.Edge
	switch edge {
	case timeline.EdgeEnd:
		mode, opposite, neighbourEdge = editTrimEnd, editTrimStart, timeline.EdgeStart
	case timeline.EdgeStart:
		mode, opposite, neighbourEdge = editTrimStart, editTrimEnd, timeline.EdgeEnd
	default:
		return fmt.Errorf("%w: rolling needs the start or end edge", timeline.ErrUnsupported)
	}

	table := newEdits()
	if err := table.add(el, mode); err != nil {
		return err
	}

	at := edgeValue(el, edge)
	var edgeSources []*timeline.TrackElement
	for _, src := range sourcesUnder(el) {
		if edgeValue(src, edge) == at {
			edgeSources = append(edgeSources, src)
		}
	}
	t.log.Debug("roll", zap.String("element", el.Name()), zap.Stringer("edge", edge),
		zap.Duration("at", at), zap.Duration("offset", offset), zap.Int("edge_sources", len(edgeSources)))

	for _, n := range t.neighbours(el, edgeSources, neighbourEdge, at) {
		if err := table.add(n, opposite); err != nil {
			return err
		}
	}
	return t.run(el, mode, table, offset, 0, snapDistance)
}

// neighbours returns, for every source sharing a track with one of
// edgeSources and not controlled by el, its most toplevel ancestor whose
// edge sits at position.
func (t *Tree) neighbours(el timeline.Element, edgeSources []*timeline.TrackElement, edge timeline.Edge, at time.Duration) []timeline.Element {
	var out []timeline.Element
	seen := make(map[timeline.Element]bool)
	for _, src := range t.sources() {
		if isDescendant(src, el) {
			continue
		}
		track, ok := src.Track()
		if !ok || !sharesTrack(track, edgeSources) {
			continue
		}

		var edgeElement timeline.Element
		var cur timeline.Element = src
		for edgeValue(cur, edge) == at {
			edgeElement = cur
			p, ok := cur.Parent()
			if !ok {
				break
			}
			cur = p
		}
		if edgeElement != nil && !seen[edgeElement] {
			seen[edgeElement] = true
			out = append(out, edgeElement)
		}
	}
	return out
}

func sharesTrack(track *timeline.Track, sources []*timeline.TrackElement) bool {
	for _, src := range sources {
		if t, ok := src.Track(); ok && t == track {
			return true
		}
	}
	return false
}

// run snaps, computes and checks the edits of table and performs them.
func (t *Tree) run(el timeline.Element, mode editMode, table *edits, offset time.Duration, layerOffset int64, snapDistance time.Duration) error {
	tl, ok := el.Timeline()
	if !ok {
		return fmt.Errorf("%w: %s is not in a timeline", timeline.ErrNotFound, el.Name())
	}

	m := make(moving)
	addEditedToMoving(table, m)

	s := newSnap(snapDistance)
	offset = t.snapOffset(el, mode, offset, m, s)

	table.giveSameOffset(offset, layerOffset)
	if err := table.setValues(); err != nil {
		t.log.Info("edit refused", zap.String("element", el.Name()), zap.Error(err))
		return err
	}
	m.setPositionsFromEdits(table)
	if err := t.canMoveElements(m); err != nil {
		t.log.Info("edit refused", zap.String("element", el.Name()), zap.Error(err))
		return err
	}

	if s != nil && s.snappedTo != nil {
		tl.Context().Bus().Publish(timeline.Event{
			Kind: timeline.EventSnapped, Source: tl.Handle(), Subject: s.snappedTo.Handle(),
		})
	}
	return t.perform(tl, table)
}

// perform applies every edit of table with auto-transitions frozen, then
// creates the transitions the new overlaps need.
func (t *Tree) perform(tl *timeline.Timeline, table *edits) error {
	tl.FreezeAutoTransitions(true)
	var errs []error
	for _, el := range table.elements() {
		ed, _ := table.lookup(el)
		if err := t.performEdit(tl, el, ed); err != nil {
			t.log.Error("edit failed after its checks passed", zap.String("element", el.Name()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	tl.FreezeAutoTransitions(false)

	tl.CreateTransitions()
	tl.UpdateDuration()
	return errors.Join(errs...)
}

func (t *Tree) performEdit(tl *timeline.Timeline, el timeline.Element, ed *edit) error {
	c, isClip := el.(*timeline.Clip)
	if _, isTrackElement := el.(*timeline.TrackElement); !isClip && !isTrackElement {
		return fmt.Errorf("%w: cannot perform an edit on %s", timeline.ErrUnsupported, el.Name())
	}
	if !isClip && ed.layerPriority != timeline.NoLayerPriority {
		return fmt.Errorf("%w: only clips change layer, not %s", timeline.ErrUnsupported, el.Name())
	}

	defer el.BeginEdit()()
	if timeline.IsValid(ed.start) {
		if err := el.SetStart(ed.start); err != nil {
			return fmt.Errorf("setting start of %s: %w", el.Name(), err)
		}
	}
	if timeline.IsValid(ed.inpoint) {
		if err := el.SetInpoint(ed.inpoint); err != nil {
			return fmt.Errorf("setting in-point of %s: %w", el.Name(), err)
		}
	}
	if timeline.IsValid(ed.duration) {
		if err := el.SetDuration(ed.duration); err != nil {
			return fmt.Errorf("setting duration of %s: %w", el.Name(), err)
		}
	}
	if ed.layerPriority == timeline.NoLayerPriority {
		return nil
	}

	layer, ok := tl.Layer(ed.layerPriority)
	if !ok {
		if tl.LayerPriorityInGap(ed.layerPriority) {
			return fmt.Errorf("%w: layer %d is within a gap of the timeline layers", timeline.ErrGeometry, ed.layerPriority)
		}
		for {
			layer = tl.AppendLayer()
			if layer.Priority() >= ed.layerPriority {
				break
			}
		}
	}
	if err := c.MoveToLayer(layer); err != nil {
		return fmt.Errorf("moving %s to layer %d: %w", c.Name(), ed.layerPriority, err)
	}
	return nil
}

// CanMove reports whether el fits at layerPriority, start and duration. It
// checks el itself, not its toplevel, and never snaps.
func (t *Tree) CanMove(el timeline.Element, layerPriority uint32, start, duration time.Duration) error {
	cur := el.LayerPriority()
	if cur == timeline.NoLayerPriority && layerPriority != cur {
		return fmt.Errorf("%w: %s has no layer to move from", timeline.ErrGeometry, el.Name())
	}

	moves, trims := newEdits(), newEdits()
	if err := moves.add(el, editMove); err != nil {
		return err
	}
	if err := trims.add(el, editTrimEnd); err != nil {
		return err
	}
	m := make(moving)
	addEditedToMoving(moves, m)

	var layerOffset int64
	if cur != timeline.NoLayerPriority {
		layerOffset = int64(cur) - int64(layerPriority)
	}
	moves.giveSameOffset(el.Start()-start, layerOffset)
	trims.giveSameOffset(el.Duration()-duration, 0)
	if err := moves.setValues(); err != nil {
		return err
	}
	if err := trims.setValues(); err != nil {
		return err
	}

	for te, pos := range m {
		var move, trim *edit
		if p, ok := te.Parent(); ok {
			move, _ = moves.lookup(p)
			trim, _ = trims.lookup(p)
		}
		if move == nil {
			move, _ = moves.lookup(te)
		}
		if trim == nil {
			trim, _ = trims.lookup(te)
		}
		if move == nil || !timeline.IsValid(move.start) {
			return fmt.Errorf("%w: %s is moving but neither it nor its clip is edited", timeline.ErrGeometry, te.Name())
		}

		pos.start = move.start
		pos.layerPriority = te.LayerPriority()
		if move.layerPriority != timeline.NoLayerPriority {
			pos.layerPriority = move.layerPriority
		}
		pos.end = pos.start + te.Duration()
		if trim != nil && timeline.IsValid(trim.duration) {
			pos.end = pos.start + trim.duration
		}
	}
	return t.canMoveElements(m)
}

// CreateTransitions creates the missing auto-transitions between the
// overlapping sources of every layer with auto-transition on.
func (t *Tree) CreateTransitions(find timeline.FindTransitionFunc) {
	for _, src := range t.sources() {
		t.createTransitionsFor(src, find)
	}
}

// CreateTransitionsForElement creates the missing auto-transitions at the
// edges of te.
func (t *Tree) CreateTransitionsForElement(te *timeline.TrackElement, find timeline.FindTransitionFunc) {
	if !t.tracked[te] {
		t.log.Debug("element is not tracked", zap.String("element", te.Name()))
		return
	}
	t.createTransitionsFor(te, find)
}

func (t *Tree) createTransitionsFor(te *timeline.TrackElement, find timeline.FindTransitionFunc) {
	if !te.IsSource() {
		return
	}
	tl, ok := te.Timeline()
	if !ok {
		return
	}
	layer, ok := tl.Layer(te.LayerPriority())
	if !ok || !layer.AutoTransition() {
		return
	}

	o, err := t.checkOverlaps(te, nil)
	if err != nil {
		t.log.Debug("illegal overlap while looking for transitions", zap.String("element", te.Name()), zap.Error(err))
	}
	if o.onStart != nil {
		t.createTransitionIfNeeded(tl, layer, o.onStart, te, find)
	}
	if o.onEnd != nil {
		t.createTransitionIfNeeded(tl, layer, te, o.onEnd, find)
	}
}

func (t *Tree) createTransitionIfNeeded(tl *timeline.Timeline, layer *timeline.Layer, prev, next *timeline.TrackElement, find timeline.FindTransitionFunc) {
	d := prev.End() - next.Start()
	if _, ok := find(prev, next, d); ok {
		return
	}
	t.log.Debug("creating transition",
		zap.String("previous", prev.Name()), zap.String("next", next.Name()),
		zap.Duration("start", next.Start()), zap.Duration("duration", d))
	if _, err := tl.CreateTransition(prev, next, layer, next.Start(), d); err != nil {
		t.log.Warn("could not create transition",
			zap.String("previous", prev.Name()), zap.String("next", next.Name()), zap.Error(err))
	}
}
