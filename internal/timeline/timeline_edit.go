package timeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Edit moves or trims el to position following mode. The offsets given to
// the tree are current minus new values.
func (tl *Timeline) Edit(el Element, newLayerPriority int64, mode EditMode, edge Edge, position time.Duration) error {
	if cur, ok := el.Timeline(); !ok || cur != tl {
		return fmt.Errorf("%w: %s is not in timeline %s", ErrNotFound, el.Name(), tl.name)
	}
	if !IsValid(position) {
		return fmt.Errorf("%w: edit position %d", ErrInvalidTime, position)
	}

	edgeValue := el.Start()
	if edge == EdgeEnd {
		edgeValue = el.End()
	}
	offset := edgeValue - position
	layerOffset := int64(el.LayerPriority()) - newLayerPriority

	tl.logger().Debug("edit",
		zap.String("element", el.Name()), zap.Stringer("mode", mode), zap.Stringer("edge", edge),
		zap.Duration("position", position), zap.Int64("layer", newLayerPriority))

	if handled, err := tl.editAutoTransition(el, newLayerPriority, mode, edge, position); handled {
		return err
	}

	switch mode {
	case EditRipple:
		return tl.tree.Ripple(el, layerOffset, offset, edge, tl.snapping)
	case EditTrim:
		return tl.tree.Trim(el, layerOffset, offset, edge, tl.snapping)
	case EditNormal:
		return tl.tree.Move(el, layerOffset, offset, edge, tl.snapping)
	case EditRoll:
		if layerOffset != 0 {
			return fmt.Errorf("%w: cannot roll %s to another layer", ErrUnsupported, el.Name())
		}
		return tl.tree.Roll(el, offset, edge, tl.snapping)
	case EditSlide:
		return fmt.Errorf("%w: slide edits", ErrUnsupported)
	}
	return fmt.Errorf("%w: edit mode %d", ErrUnsupported, mode)
}

// editAutoTransition turns trims of an auto-transition into trims of the
// source it overlaps at that edge.
func (tl *Timeline) editAutoTransition(el Element, newLayerPriority int64, mode EditMode, edge Edge, position time.Duration) (bool, error) {
	var c *Clip
	switch x := el.(type) {
	case *Clip:
		c = x
	case *TrackElement:
		if x.kind != KindTransition {
			return false, nil
		}
		c, _ = x.clip()
	}
	if c == nil || !c.IsTransition() {
		return false, nil
	}
	l, ok := c.Layer()
	if !ok || !l.autoTransition {
		return false, nil
	}
	at, ok := tl.autoTransitionOfClip(c)
	if !ok {
		return false, nil
	}

	switch {
	case at.positioning.held():
		return true, fmt.Errorf("%w: %s is being positioned", ErrUnsupported, c.name)
	case newLayerPriority != int64(l.priority):
		return true, fmt.Errorf("%w: auto-transition %s cannot change layer", ErrUnsupported, c.name)
	case mode != EditTrim:
		return true, fmt.Errorf("%w: auto-transition %s only supports trimming", ErrUnsupported, c.name)
	}
	replace := at.next
	if edge == EdgeEnd {
		replace = at.previous
	}
	return true, replace.Edit(-1, mode, edge, position)
}

// AutoTransitions returns the live auto-transitions.
func (tl *Timeline) AutoTransitions() []*AutoTransition {
	out := make([]*AutoTransition, len(tl.autoTransitions))
	copy(out, tl.autoTransitions)
	return out
}

func (tl *Timeline) autoTransitionOfClip(c *Clip) (*AutoTransition, bool) {
	for _, at := range tl.autoTransitions {
		if at.clip == c {
			return at, true
		}
	}
	return nil, false
}

// FindAutoTransition returns the auto-transition between prev and next.
func (tl *Timeline) FindAutoTransition(prev, next *TrackElement) (*AutoTransition, bool) {
	for _, at := range tl.autoTransitions {
		if at.covers(prev, next) {
			return at, true
		}
	}
	return nil, false
}

// findAutoTransition is the lookup handed to the tree. A found transition
// whose duration drifted from the overlap is brought back in place.
func (tl *Timeline) findAutoTransition(prev, next *TrackElement, d time.Duration) (*AutoTransition, bool) {
	at, ok := tl.FindAutoTransition(prev, next)
	if ok && at.clip.duration != d && !at.frozen {
		at.Update()
	}
	if ok && at.destroyed {
		return nil, false
	}
	return at, ok
}

// AutoTransitionAtEdge returns the auto-transition that covers the edge
// of source.
func (tl *Timeline) AutoTransitionAtEdge(source *TrackElement, edge Edge) (*AutoTransition, bool) {
	for _, at := range tl.autoTransitions {
		switch {
		case edge == EdgeEnd && at.previous == source:
			return at, true
		case edge == EdgeStart && at.next == source:
			return at, true
		}
	}
	return nil, false
}

// FreezeAutoTransitions stops the auto-transitions from following their
// sources. Unfreezing updates every transition.
func (tl *Timeline) FreezeAutoTransitions(freeze bool) {
	for _, at := range tl.AutoTransitions() {
		at.frozen = freeze
		if !freeze {
			at.Update()
		}
	}
}

// CreateTransitions creates the missing auto-transitions of every layer
// with auto-transition on.
func (tl *Timeline) CreateTransitions() {
	tl.tree.CreateTransitions(tl.findAutoTransition)
}

// CreateTransition creates an auto-transition covering [start,
// start+duration) between prev and next in layer. The transition element
// goes to the track of next.
func (tl *Timeline) CreateTransition(prev, next *TrackElement, layer *Layer, start, duration time.Duration) (*AutoTransition, error) {
	track, ok := next.Track()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not in a track", ErrPlacement, next.name)
	}
	tl.autoTransitionTrack = track
	c, err := layer.AddAsset(tl.transitionAsset, start, 0, duration, next.trackType)
	tl.autoTransitionTrack = nil
	if err != nil {
		tl.logger().Error("could not create auto-transition",
			zap.String("previous", prev.name), zap.String("next", next.name), zap.Error(err))
		return nil, err
	}

	kind := KindTransition
	transition, ok := c.FindTrackElement(track, &kind)
	if !ok {
		if rmErr := layer.RemoveClip(c); rmErr != nil {
			tl.logger().Error("could not drop empty transition clip", zap.Error(rmErr))
		}
		return nil, fmt.Errorf("%w: transition asset %s created nothing for %s",
			ErrPlacement, tl.transitionAsset.ID(), track.name)
	}

	at := newAutoTransition(tl, prev, next, transition, c)
	tl.autoTransitions = append(tl.autoTransitions, at)
	tl.logger().Debug("auto-transition created",
		zap.String("transition", c.name), zap.String("previous", prev.name), zap.String("next", next.name),
		zap.Duration("start", start), zap.Duration("duration", duration))
	return at, nil
}

// forgetAutoTransition drops at from the timeline without touching its
// clip.
func (tl *Timeline) forgetAutoTransition(at *AutoTransition) {
	for i, x := range tl.autoTransitions {
		if x == at {
			tl.autoTransitions = append(tl.autoTransitions[:i], tl.autoTransitions[i+1:]...)
			at.destroyed = true
			at.release()
			return
		}
	}
}

// PasteElement pastes a deep copy made by Clip.Copy at position, in the
// layer it was copied from. Only -1 is accepted as layer priority.
func (tl *Timeline) PasteElement(el Element, position time.Duration, layerPriority int64) (Element, error) {
	if layerPriority != -1 {
		return nil, fmt.Errorf("%w: pasting to an explicit layer", ErrUnsupported)
	}
	c, ok := el.(*Clip)
	if !ok {
		return nil, fmt.Errorf("%w: pasting %s", ErrUnsupported, el.Name())
	}
	if c.copied == nil || c.copied.timeline != tl.handle {
		return nil, fmt.Errorf("%w: %s was not copied from timeline %s", ErrPlacement, c.name, tl.name)
	}
	return c.paste(position)
}
