package timeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// copyClip creates an unplaced, childless clip with the attributes of c.
func (c *Clip) copyClip() *Clip {
	nc := NewClip(c.ctx, c.asset)
	nc.copyTimes(&c.element)
	nc.supportedFormats = c.supportedFormats
	return nc
}

// Copy returns an unplaced clip with the same asset and attributes. A deep
// copy also captures the children, layer and timeline of c so that it can
// be pasted with Timeline.PasteElement.
func (c *Clip) Copy(deep bool) *Clip {
	nc := c.copyClip()
	if !deep {
		return nc
	}
	cc := &clipCopy{layer: c.layer, timeline: c.timeline}
	for _, child := range c.children {
		cp := child.copy()
		child.copyBindings(cp, NoTime)
		cc.children = append(cc.children, cp)
	}
	nc.copied = cc
	return nc
}

func (c *Clip) paste(position time.Duration) (*Clip, error) {
	if c.copied == nil {
		return nil, fmt.Errorf("%w: %s is not a deep copy", ErrUnsupported, c.name)
	}
	nc := c.copyClip()
	if err := nc.SetStart(position); err != nil {
		return nil, err
	}
	for _, orig := range c.copied.children {
		if _, err := nc.copyTrackElementInto(orig, NoTime); err != nil {
			c.logger().Error("could not paste child", zap.String("child", orig.name), zap.Error(err))
		}
	}

	layer, ok := c.ctx.layer(c.copied.layer)
	if !ok {
		return nc, nil
	}
	if layer.timeline != c.copied.timeline {
		return nil, fmt.Errorf("%w: layer %s changed timeline since the copy", ErrPlacement, layer.name)
	}
	if err := layer.AddClip(nc); err != nil {
		return nil, fmt.Errorf("pasting %s at %s: %w", c.name, FormatTime(position), err)
	}
	return nc, nil
}

// MoveToLayer moves the clip to l. Inside a timeline the move goes through
// the tree so that the whole toplevel moves with it.
func (c *Clip) MoveToLayer(l *Layer) error {
	cur, hasLayer := c.Layer()
	if hasLayer && cur == l {
		return nil
	}
	if !hasLayer {
		return l.AddClip(c)
	}

	clipTL, _ := c.Timeline()
	layerTL, _ := l.Timeline()
	if clipTL != layerTL {
		return fmt.Errorf("%w: layer %s is in another timeline than %s", ErrPlacement, l.name, c.name)
	}
	if layerTL != nil && !c.BeingEdited() {
		return layerTL.tree.Move(c, int64(cur.priority)-int64(l.priority), 0, EdgeNone, 0)
	}

	defer c.moving.hold()()
	if err := cur.RemoveClip(c); err != nil {
		return err
	}
	if err := l.AddClip(c); err != nil {
		if backErr := cur.AddClip(c); backErr != nil {
			c.logger().Error("could not restore clip to its layer", zap.Error(backErr))
		}
		return err
	}
	c.notify(PropLayer)
	return nil
}

// Split cuts the clip at position. The clip keeps [start, position) and
// the returned clip, placed in the same layer, covers the rest with its
// in-point moved so that the content plays as before.
func (c *Clip) Split(position time.Duration) (*Clip, error) {
	layer, ok := c.Layer()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not in a layer", ErrPlacement, c.name)
	}
	if position <= c.start || position >= c.End() {
		return nil, fmt.Errorf("%w: split position %s is outside of %s", ErrInvalidTime, FormatTime(position), c.name)
	}

	layerPrio := c.LayerPriority()
	oldDuration := position - c.start
	newDuration := c.End() - position
	newInpoint, noCore, err := c.CoreInternalTimeFromTimelineTime(position)
	if noCore {
		newInpoint = 0
	} else if !IsValid(newInpoint) {
		return nil, err
	}

	tl, hasTL := c.Timeline()
	if hasTL {
		if err := tl.tree.CanMove(c, layerPrio, c.start, oldDuration); err != nil {
			return nil, fmt.Errorf("splitting %s at %s: %w", c.name, FormatTime(position), err)
		}
		if err := tl.tree.CanMove(c, layerPrio, position, newDuration); err != nil {
			return nil, fmt.Errorf("splitting %s at %s: %w", c.name, FormatTime(position), err)
		}
	}

	nc := c.copyClip()
	releasePrevent := nc.preventDurationLimitUpdate.hold()
	defer func() {
		releasePrevent()
		nc.updateDurationLimit()
	}()
	if err := nc.SetStart(position); err != nil {
		return nil, err
	}
	if err := nc.SetInpoint(newInpoint); err != nil {
		return nil, err
	}
	if err := nc.SetDuration(newDuration); err != nil {
		return nil, err
	}

	type placement struct {
		el    *TrackElement
		track *Track
	}
	var placements []placement
	var rehomed []*AutoTransition
	for _, orig := range c.Children() {
		cp, err := nc.copyTrackElementInto(orig, newInpoint)
		if err != nil {
			c.logger().Error("could not copy child for split", zap.String("child", orig.name), zap.Error(err))
			continue
		}
		if t, ok := orig.Track(); ok {
			placements = append(placements, placement{cp, t})
		}
		if !hasTL {
			continue
		}
		if trans, ok := tl.AutoTransitionAtEdge(orig, EdgeEnd); ok {
			trans.frozen = true
			trans.setSource(cp, EdgeStart)
			rehomed = append(rehomed, trans)
		}
	}

	func() {
		defer c.BeginEdit()()
		if err := c.SetDuration(oldDuration); err != nil {
			c.logger().Error("could not shorten split clip", zap.Error(err))
		}
	}()

	func() {
		defer nc.moving.hold()()
		if err := layer.AddClip(nc); err != nil {
			c.logger().Error("could not add split clip to layer", zap.Error(err))
		}
	}()

	for _, p := range placements {
		func() {
			defer nc.allowAnyTrack.hold()()
			if err := p.track.AddElement(p.el); err != nil {
				c.logger().Error("could not place split child",
					zap.String("child", p.el.name), zap.String("track", p.track.name), zap.Error(err))
			}
		}()
	}
	for _, trans := range rehomed {
		trans.frozen = false
		trans.Update()
	}
	return nc, nil
}

// Ungroup splits the clip into one clip per track type. The clip keeps
// the children of the first track type; the other clips are added to the
// same layer.
func (c *Clip) Ungroup() []*Clip {
	if len(c.children) == 0 {
		return []*Clip{c}
	}
	layer, hasLayer := c.Layer()
	byType := make(map[TrackType]*Clip)
	var out []*Clip
	for _, child := range c.Children() {
		target, ok := byType[child.trackType]
		if !ok {
			if len(out) == 0 {
				target = c
			} else {
				target = c.copyClip()
				if hasLayer {
					func() {
						defer target.moving.hold()()
						if err := layer.AddClip(target); err != nil {
							c.logger().Error("could not add ungrouped clip", zap.Error(err))
						}
					}()
				}
			}
			byType[child.trackType] = target
			out = append(out, target)
			target.SetSupportedFormats(child.trackType)
		}
		if target != c {
			c.transferChild(target, child)
		}
	}
	for _, nc := range out {
		nc.updateDurationLimit()
	}
	return out
}

func (c *Clip) sharesTrackWith(other *Clip) bool {
	for _, a := range c.children {
		if a.track.IsZero() {
			continue
		}
		for _, b := range other.children {
			if a.track == b.track {
				return true
			}
		}
	}
	return false
}

// groupClips merges clips that only differ by their tracks into the first
// one. It fails when the clips disagree on position, content or placement.
func groupClips(clips []*Clip) (*Clip, error) {
	if len(clips) == 0 {
		return nil, fmt.Errorf("%w: nothing to group", ErrNotFound)
	}
	first := clips[0]
	for i, c := range clips {
		switch {
		case c.start != first.start, c.duration != first.duration, c.inpoint != first.inpoint:
			return nil, fmt.Errorf("%w: %s and %s do not share their times", ErrPlacement, c.name, first.name)
		case c.timeline != first.timeline, c.layer != first.layer:
			return nil, fmt.Errorf("%w: %s and %s are not placed together", ErrPlacement, c.name, first.name)
		case c.assetID() != first.assetID():
			return nil, fmt.Errorf("%w: %s and %s come from different assets", ErrPlacement, c.name, first.name)
		}
		for _, other := range clips[i+1:] {
			if c.sharesTrackWith(other) {
				return nil, fmt.Errorf("%w: %s and %s share a track", ErrPlacement, c.name, other.name)
			}
		}
	}

	formats := first.supportedFormats
	for _, c := range clips[1:] {
		for _, child := range c.Children() {
			c.transferChild(first, child)
			formats |= child.trackType
		}
		c.updateDurationLimit()
		if l, ok := c.Layer(); ok {
			if err := l.RemoveClip(c); err != nil {
				c.logger().Error("could not drop grouped clip from its layer", zap.Error(err))
			}
		}
		c.ctx.release(c.handle)
	}
	first.updateDurationLimit()
	first.SetSupportedFormats(formats)
	return first, nil
}
