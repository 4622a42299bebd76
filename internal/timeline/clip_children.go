package timeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// AddChild adds te to the clip. Core children (created from the clip's
// asset) go below the effects; other effects go above the core children
// at the next effect index.
func (c *Clip) AddChild(te *TrackElement) error {
	if _, has := te.Parent(); has {
		return fmt.Errorf("%w: %s already has a parent", ErrOwnership, te.name)
	}
	if err := c.admitChild(te); err != nil {
		c.logger().Info("child refused", zap.String("child", te.name), zap.Error(err))
		return err
	}

	c.children = append(c.children, te)
	c.sortChildren()
	c.computeHeight()
	te.setParent(c)
	te.forceStart(c.start)
	te.forceDuration(c.duration)

	c.ctx.bus.Subscribe(te.handle, c.handle, func(ev Event) { c.onChildEvent(te, ev) })
	if te.IsCore() {
		c.updateMaxDuration()
	}
	c.updateDurationLimit()

	if tl, ok := c.Timeline(); ok {
		if err := te.setTimeline(tl); err != nil {
			c.logger().Warn("child could not join the clip timeline",
				zap.String("child", te.name), zap.Error(err))
		}
	}
	c.ctx.bus.Publish(Event{Kind: EventChildAdded, Source: c.handle, Subject: te.handle})
	return nil
}

// admitChild validates te and gives it its priority and in-point.
func (c *Clip) admitChild(te *TrackElement) error {
	tl, hasTL := c.Timeline()
	if elTL, ok := te.Timeline(); ok && (!hasTL || elTL != tl) {
		return fmt.Errorf("%w: %s belongs to another timeline", ErrPlacement, te.name)
	}
	if te.creatorAsset != "" && te.creatorAsset != c.assetID() {
		return fmt.Errorf("%w: %s was created by another asset", ErrPlacement, te.name)
	}
	track, inTrack := te.Track()
	if inTrack {
		trackTL, _ := track.Timeline()
		if !hasTL || trackTL != tl {
			return fmt.Errorf("%w: track %s of %s is not in the clip timeline", ErrPlacement, track.name, te.name)
		}
	}

	lo, _ := c.priorityRange(c.priority)
	switch {
	case te.IsCore():
		return c.admitCore(te, track, inTrack, lo)
	case c.canAddEffects() && isTopEffect(te):
		return c.admitEffect(te, track, inTrack, lo)
	case isTopEffect(te):
		return fmt.Errorf("%w: %s does not take effects", ErrUnsupported, c.name)
	}
	return fmt.Errorf("%w: %s is neither a core child nor an effect", ErrPlacement, te.name)
}

func (c *Clip) admitCore(te *TrackElement, track *Track, inTrack bool, lo uint32) error {
	inpoint := time.Duration(0)
	if te.hasInternalSource {
		inpoint = c.inpoint
	}
	prio := lo
	for _, child := range c.children {
		if child.IsCore() {
			prio = max(prio, child.priority)
		} else if isTopEffect(child) {
			prio = max(prio, child.priority+1)
		}
	}

	if inTrack && !c.allowAnyTrack.held() {
		if core, ok := c.findCoreInTrack(track.handle); ok {
			return fmt.Errorf("%w: track %s already holds the core child %s", ErrPlacement, track.name, core.name)
		}
		entries := append(c.limitEntries(nil), &limitEntry{
			child: te, track: track.handle, priority: prio,
			maxDuration: te.maxDuration, inpoint: inpoint, active: te.active,
		})
		if err := c.checkDurationLimit(entries); err != nil {
			return err
		}
	}
	if IsLess(te.maxDuration, inpoint) {
		return fmt.Errorf("%w: max-duration %s of %s is below the clip in-point %s",
			ErrNotEnoughContent, FormatTime(te.maxDuration), te.name, FormatTime(inpoint))
	}
	if err := te.SetInpoint(inpoint); err != nil {
		return err
	}
	return te.SetPriority(prio)
}

func (c *Clip) admitEffect(te *TrackElement, track *Track, inTrack bool, lo uint32) error {
	prio := lo
	if c.useEffectPriority {
		prio = c.effectPriority
	} else {
		for _, child := range c.children {
			if isTopEffect(child) {
				prio = max(prio, child.priority+1)
			}
		}
	}
	for _, child := range c.children {
		if child.IsCore() {
			prio = min(prio, child.priority)
		}
	}

	if inTrack && !c.allowAnyTrack.held() {
		core, ok := c.findCoreInTrack(track.handle)
		if !ok {
			return fmt.Errorf("%w: track %s holds no core child of %s", ErrPlacement, track.name, c.name)
		}
		entries := c.limitEntries(func(e *limitEntry) {
			if e.priority >= prio {
				e.priority++
			}
		})
		entries = append(entries, &limitEntry{
			child: te, track: track.handle, priority: prio,
			maxDuration: te.maxDuration, inpoint: te.inpoint, active: te.active && core.active,
		})
		if err := c.checkDurationLimit(entries); err != nil {
			return err
		}
	}

	c.updateActiveForTrack(te)
	c.nbEffects++

	func() {
		defer c.preventResort.hold()()
		defer c.settingPriority.hold()()
		defer c.preventDurationLimitUpdate.hold()()
		for _, child := range c.Children() {
			if child.priority >= prio {
				if err := child.SetPriority(child.priority + 1); err != nil {
					c.logger().Error("could not shift sibling priority",
						zap.String("child", child.name), zap.Error(err))
				}
			}
		}
		if err := te.SetPriority(prio); err != nil {
			c.logger().Error("could not set effect priority", zap.String("child", te.name), zap.Error(err))
		}
	}()
	return nil
}

// RemoveChild takes te out of the clip. The timeline drops it from its
// track; removing a core child also empties the clip from that track.
func (c *Clip) RemoveChild(te *TrackElement) error {
	idx := c.childIndex(te)
	if idx < 0 {
		return fmt.Errorf("%w: %s is not a child of %s", ErrNotFound, te.name, c.name)
	}

	if !c.allowAnyRemove.held() && !te.IsCore() && !te.track.IsZero() {
		entries := make([]*limitEntry, 0, len(c.children))
		for _, e := range c.limitEntries(nil) {
			if e.child != te {
				entries = append(entries, e)
			}
		}
		if err := c.checkDurationLimit(entries); err != nil {
			return fmt.Errorf("%w: removing %s: %w", ErrRejected, te.name, err)
		}
	}

	if isTopEffect(te) {
		func() {
			defer c.preventResort.hold()()
			defer c.settingPriority.hold()()
			defer c.preventDurationLimitUpdate.hold()()
			for _, sibling := range c.Children() {
				if sibling.priority > te.priority {
					if err := sibling.SetPriority(sibling.priority - 1); err != nil {
						c.logger().Error("could not shift sibling priority",
							zap.String("child", sibling.name), zap.Error(err))
					}
				}
			}
		}()
		c.nbEffects--
	}

	c.children = append(c.children[:idx], c.children[idx+1:]...)
	c.computeHeight()
	c.ctx.bus.Unsubscribe(te.handle, c.handle)
	if te.IsCore() {
		c.updateMaxDuration()
	}
	c.updateDurationLimit()

	te.setParent(nil)
	c.ctx.bus.Publish(Event{Kind: EventChildRemoved, Source: c.handle, Subject: te.handle})
	if _, inTrack := te.Track(); !inTrack {
		_ = te.setTimeline(nil)
	}
	return nil
}

func (c *Clip) childIndex(te *TrackElement) int {
	for i, child := range c.children {
		if child == te {
			return i
		}
	}
	return -1
}

// transferChild moves te to another clip without changing its track.
func (c *Clip) transferChild(to *Clip, te *TrackElement) {
	if tl, ok := to.Timeline(); ok {
		defer tl.trackElementsMoving.hold()()
	}
	defer c.preventDurationLimitUpdate.hold()()
	defer to.preventDurationLimitUpdate.hold()()

	releaseRemove := c.allowAnyRemove.hold()
	err := c.RemoveChild(te)
	releaseRemove()
	if err != nil {
		c.logger().Error("could not release child for transfer", zap.String("child", te.name), zap.Error(err))
		return
	}

	defer to.allowAnyTrack.hold()()
	if err := to.AddChild(te); err != nil {
		c.logger().Error("could not transfer child",
			zap.String("child", te.name), zap.String("to", to.name), zap.Error(err))
	}
}

// TopEffects returns the effects added on top of the core children, in
// index order.
func (c *Clip) TopEffects() []*TrackElement {
	var out []*TrackElement
	for _, child := range c.children {
		if isTopEffect(child) {
			out = append(out, child)
		}
	}
	return out
}

// TopEffectIndex returns the index of effect, or -1 when it is not a top
// effect of the clip. Lower indexes are applied after higher ones.
func (c *Clip) TopEffectIndex(effect *TrackElement) int {
	for i, e := range c.TopEffects() {
		if e == effect {
			return i
		}
	}
	return -1
}

// AddTopEffect adds effect at index, or after the existing effects for a
// negative index.
func (c *Clip) AddTopEffect(effect *TrackElement, index int) error {
	if index >= 0 {
		if effects := c.TopEffects(); index < len(effects) {
			c.useEffectPriority = true
			c.effectPriority = effects[index].priority
		}
	}
	tl, hasTL := c.Timeline()
	if hasTL {
		tl.takeSelectionError()
	}
	err := c.AddChild(effect)
	c.useEffectPriority = false
	if err != nil {
		return err
	}
	if hasTL {
		if selErr := tl.takeSelectionError(); selErr != nil {
			if rmErr := c.RemoveChild(effect); rmErr != nil {
				c.logger().Error("could not remove effect after failed track selection", zap.Error(rmErr))
			}
			return selErr
		}
	}
	return nil
}

// RemoveTopEffect removes a top effect of the clip.
func (c *Clip) RemoveTopEffect(effect *TrackElement) error {
	if c.TopEffectIndex(effect) < 0 {
		return fmt.Errorf("%w: %s is not a top effect of %s", ErrNotFound, effect.name, c.name)
	}
	return c.RemoveChild(effect)
}

// SetTopEffectIndex moves effect to newIndex, shifting the effects in
// between by one.
func (c *Clip) SetTopEffectIndex(effect *TrackElement, newIndex int) error {
	if c.TopEffectIndex(effect) < 0 {
		return fmt.Errorf("%w: %s is not a top effect of %s", ErrNotFound, effect.name, c.name)
	}
	effects := c.TopEffects()
	if newIndex < 0 || newIndex >= len(effects) {
		return fmt.Errorf("%w: %s has %d effects, no index %d", ErrNotFound, c.name, len(effects), newIndex)
	}
	replace := effects[newIndex]
	if replace == effect {
		return nil
	}

	current, target := effect.priority, replace.priority
	var inc int64 = 1
	if current < target {
		inc = -1
	}
	between := func(p uint32) bool {
		if inc > 0 {
			return p >= target && p < current
		}
		return p <= target && p > current
	}

	err := c.checkDurationLimit(c.limitEntries(func(e *limitEntry) {
		switch {
		case e.child == effect:
			e.priority = target
		case between(e.priority):
			e.priority = uint32(int64(e.priority) + inc)
		}
	}))
	if err != nil {
		return fmt.Errorf("%w: moving %s to index %d: %w", ErrRejected, effect.name, newIndex, err)
	}

	func() {
		defer c.preventResort.hold()()
		defer c.settingPriority.hold()()
		defer c.preventDurationLimitUpdate.hold()()
		for _, child := range c.Children() {
			if child == effect || !between(child.priority) {
				continue
			}
			if err := child.SetPriority(uint32(int64(child.priority) + inc)); err != nil {
				c.logger().Error("could not shift effect priority", zap.String("child", child.name), zap.Error(err))
			}
		}
		if err := effect.SetPriority(target); err != nil {
			c.logger().Error("could not set effect priority", zap.String("child", effect.name), zap.Error(err))
		}
	}()
	c.sortChildren()
	c.updateDurationLimit()
	return nil
}

// FindTrackElements returns the children in track OR of trackType (when
// both are given, either match selects a child), further restricted to
// kind when kind is non-nil. With no track and TrackUnknown every child
// matches.
func (c *Clip) FindTrackElements(track *Track, trackType TrackType, kind *ElementKind) []*TrackElement {
	var out []*TrackElement
	for _, child := range c.children {
		if kind != nil && child.kind != *kind {
			continue
		}
		if (track == nil && trackType == TrackUnknown) ||
			(track != nil && child.track == track.handle) ||
			(trackType != TrackUnknown && child.trackType == trackType) {
			out = append(out, child)
		}
	}
	return out
}

// FindTrackElement returns the highest priority child in track (any track
// when nil) of the given kind (any kind when nil).
func (c *Clip) FindTrackElement(track *Track, kind *ElementKind) (*TrackElement, bool) {
	for _, child := range c.children {
		if kind != nil && child.kind != *kind {
			continue
		}
		if track != nil && child.track != track.handle {
			continue
		}
		return child, true
	}
	return nil, false
}

// AddChildToTrack places child in track. A child already in another track
// is copied and the copy is placed instead; the element placed is
// returned.
func (c *Clip) AddChildToTrack(child *TrackElement, track *Track) (*TrackElement, error) {
	if c.childIndex(child) < 0 {
		return nil, fmt.Errorf("%w: %s is not a child of %s", ErrNotFound, child.name, c.name)
	}
	tl, ok := c.Timeline()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not in a timeline", ErrPlacement, c.name)
	}
	if trackTL, _ := track.Timeline(); trackTL != tl {
		return nil, fmt.Errorf("%w: track %s is not in the timeline of %s", ErrPlacement, track.name, c.name)
	}
	cur, inTrack := child.Track()
	if inTrack && cur == track {
		return nil, fmt.Errorf("%w: %s is already in track %s", ErrPlacement, child.name, track.name)
	}

	el := child
	if inTrack {
		if isTopEffect(child) {
			c.useEffectPriority = true
			c.effectPriority = child.priority + 1
		}
		cp, err := c.copyTrackElementInto(child, NoTime)
		c.useEffectPriority = false
		if err != nil {
			return nil, fmt.Errorf("copying %s for track %s: %w", child.name, track.name, err)
		}
		el = cp
	}

	if err := track.AddElement(el); err != nil {
		if el != child {
			if rmErr := c.RemoveChild(el); rmErr != nil {
				c.logger().Error("could not drop unplaced copy", zap.Error(rmErr))
			}
		}
		return nil, err
	}
	c.updateActiveForTrack(el)
	return el, nil
}

// copyTrackElementInto adds a copy of orig to the clip. A valid position
// splits the control bindings of orig there.
func (c *Clip) copyTrackElementInto(orig *TrackElement, position time.Duration) (*TrackElement, error) {
	cp := orig.copy()
	orig.copyBindings(cp, position)

	if tl, ok := c.Timeline(); ok {
		defer tl.trackElementsMoving.hold()()
	}
	if err := c.AddChild(cp); err != nil {
		c.ctx.release(cp.handle)
		return nil, err
	}
	return cp, nil
}

// EmptyFromTrack removes every child of the clip from track.
func (c *Clip) EmptyFromTrack(track *Track) {
	if track == nil {
		return
	}
	func() {
		defer c.allowAnyTrack.hold()()
		defer c.preventDurationLimitUpdate.hold()()
		for _, child := range c.Children() {
			if child.track != track.handle {
				continue
			}
			if err := track.RemoveElement(child); err != nil {
				c.logger().Error("could not remove child from track",
					zap.String("child", child.name), zap.String("track", track.name), zap.Error(err))
			}
		}
	}()
	c.updateDurationLimit()
}

// CreateTrackElements creates the core children of the clip for t. Nothing
// is created when t is not supported or a core child of t exists.
func (c *Clip) CreateTrackElements(t TrackType) []*TrackElement {
	if c.supportedFormats&t == 0 {
		return nil
	}
	if c.asset == nil {
		c.logger().Debug("bare clip creates no track elements")
		return nil
	}
	for _, child := range c.children {
		if child.IsCore() && child.trackType&t != 0 {
			return nil
		}
	}
	created := c.asset.CreateTrackElements(c.ctx, t)
	for _, te := range created {
		te.SetCreatorAsset(c.asset.ID())
	}
	return created
}

// AddAsset extracts a track element from asset and adds it to the clip.
// Effects are added after the existing top effects and must be placed in
// every selected track.
func (c *Clip) AddAsset(asset Asset) (*TrackElement, error) {
	el, err := asset.Extract(c.ctx)
	if err != nil {
		return nil, err
	}
	te, ok := el.(*TrackElement)
	if !ok {
		return nil, fmt.Errorf("%w: asset %s does not extract a track element", ErrUnsupported, asset.ID())
	}
	if isTopEffect(te) {
		err = c.AddTopEffect(te, -1)
	} else {
		err = c.AddChild(te)
	}
	if err != nil {
		c.ctx.release(te.handle)
		return nil, err
	}
	return te, nil
}

// CoreInternalTimeFromTimelineTime converts a timeline time into the
// internal time of the active core children with internal content.
// noCore is true when the clip has no such child in a track.
func (c *Clip) CoreInternalTimeFromTimelineTime(t time.Duration) (converted time.Duration, noCore bool, err error) {
	converted = NoTime
	noCore = true
	for _, child := range c.children {
		if !isCoreInternalSource(child) || child.track.IsZero() || !child.active {
			continue
		}
		noCore = false
		internal := t - c.start + child.inpoint
		if internal < 0 {
			err = fmt.Errorf("%w: %s maps before the content of %s", ErrInvalidTime, FormatTime(t), child.name)
			internal = NoTime
		}
		switch {
		case !IsValid(converted):
			converted = internal
		case internal != converted:
			c.logger().Warn("core children disagree on internal time",
				zap.String("child", child.name), zap.Duration("time", internal), zap.Duration("other", converted))
			if child.trackType == TrackVideo {
				converted = internal
			}
		}
	}
	return converted, noCore, err
}
