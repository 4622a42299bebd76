package timeline

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Clip groups the track elements created from one asset and keeps them in
// step: core children share the clip's start and duration, and core
// children with internal content share its in-point.
type Clip struct {
	element

	asset            *ClipAsset
	children         []*TrackElement
	layer            Handle
	supportedFormats TrackType
	durationLimit    time.Duration
	nbEffects        int
	height           uint32

	preventResort              guard
	preventDurationLimitUpdate guard
	settingInpoint             guard
	settingPriority            guard
	settingActive              guard
	settingMaxDuration         guard
	updatingMaxDuration        guard
	allowAnyTrack              guard
	allowAnyRemove             guard
	moving                     guard

	useEffectPriority bool
	effectPriority    uint32

	copied *clipCopy
}

// clipCopy is the state captured by a deep copy for a later paste.
type clipCopy struct {
	children []*TrackElement
	layer    Handle
	timeline Handle
}

// NewClip creates a clip for asset. A nil asset gives a bare clip that
// never creates core children.
func NewClip(ctx *Context, asset *ClipAsset) *Clip {
	c := &Clip{asset: asset, durationLimit: NoTime, height: 1}
	prefix := "clip"
	if asset != nil {
		prefix = asset.Variant.String() + "clip"
		c.supportedFormats = asset.Formats
	}
	c.init(ctx, KindClip, c, c, prefix)
	if asset != nil {
		if asset.MaxDuration > 0 {
			c.maxDuration = asset.MaxDuration
		}
		if asset.Duration > 0 {
			c.duration = asset.Duration
		}
	}
	return c
}

func (c *Clip) Asset() *ClipAsset { return c.asset }

func (c *Clip) assetID() string {
	if c.asset == nil {
		return ""
	}
	return c.asset.ID()
}

// IsTransition reports whether the clip holds transition elements.
func (c *Clip) IsTransition() bool {
	return c.asset != nil && c.asset.Variant == VariantTransition
}

// canAddEffects reports whether top effects may be added to the clip.
func (c *Clip) canAddEffects() bool { return !c.IsTransition() }

// Children returns the track elements of the clip, highest priority
// (numerically lowest) first.
func (c *Clip) Children() []*TrackElement {
	out := make([]*TrackElement, len(c.children))
	copy(out, c.children)
	return out
}

// Layer returns the layer holding the clip.
func (c *Clip) Layer() (*Layer, bool) {
	return c.ctx.layer(c.layer)
}

func (c *Clip) SupportedFormats() TrackType { return c.supportedFormats }

// SetSupportedFormats restricts the track types the clip creates core
// children for.
func (c *Clip) SetSupportedFormats(t TrackType) {
	if c.supportedFormats == t {
		return
	}
	c.supportedFormats = t
	c.notify(PropSupportedFormats)
}

// DurationLimit is the largest duration the clip can take given the
// internal content of its children, or NoTime when unbounded.
func (c *Clip) DurationLimit() time.Duration { return c.durationLimit }

// Height is the number of priorities spanned by the children.
func (c *Clip) Height() uint32 { return c.height }

// IsMovingFromLayer reports whether the clip is being moved between
// layers; track elements are neither created nor dropped meanwhile.
func (c *Clip) IsMovingFromLayer() bool { return c.moving.held() }

func (c *Clip) layerPriority() uint32 {
	if l, ok := c.Layer(); ok {
		return l.priority
	}
	return NoLayerPriority
}

func (c *Clip) setLayer(l *Layer) {
	cur, _ := c.Layer()
	if cur == l {
		return
	}
	if l == nil {
		c.layer = Handle{}
	} else {
		c.layer = l.handle
	}
	if !c.moving.held() {
		c.notify(PropLayer)
	}
}

func (c *Clip) sortChildren() {
	sort.SliceStable(c.children, func(i, j int) bool {
		return c.children[i].priority < c.children[j].priority
	})
}

func (c *Clip) computeHeight() {
	if len(c.children) == 0 {
		c.height = 1
		return
	}
	lo, hi := uint32(math.MaxUint32), uint32(0)
	for _, child := range c.children {
		lo = min(lo, child.priority)
		hi = max(hi, child.priority)
	}
	c.height = hi - lo + 1
}

func (c *Clip) priorityRange(base uint32) (lo, hi uint32) {
	if l, ok := c.Layer(); ok {
		return base + l.minNLEPriority, l.maxNLEPriority
	}
	return base + MinNLEPriority, math.MaxUint32
}

func (c *Clip) findCoreInTrack(t Handle) (*TrackElement, bool) {
	for _, child := range c.children {
		if child.IsCore() && child.track == t {
			return child, true
		}
	}
	return nil, false
}

func (c *Clip) trackHasNonCore(t Handle) bool {
	for _, child := range c.children {
		if !child.IsCore() && child.track == t {
			return true
		}
	}
	return false
}

func isCoreInternalSource(te *TrackElement) bool {
	return te.IsCore() && te.hasInternalSource
}

func isTopEffect(te *TrackElement) bool {
	return !te.IsCore() && te.kind == KindEffect
}

// limitEntry is a snapshot of the child attributes that bound the
// duration-limit. Checks adjust a copy to test a change before it is made.
type limitEntry struct {
	child       *TrackElement
	track       Handle
	priority    uint32
	maxDuration time.Duration
	inpoint     time.Duration
	active      bool
}

func (e *limitEntry) internalLimit() time.Duration {
	if e.active && IsValid(e.maxDuration) {
		return e.maxDuration - e.inpoint
	}
	return NoTime
}

func (c *Clip) limitEntries(adjust func(e *limitEntry)) []*limitEntry {
	out := make([]*limitEntry, 0, len(c.children))
	for _, child := range c.children {
		e := &limitEntry{
			child:       child,
			track:       child.track,
			priority:    child.priority,
			maxDuration: child.maxDuration,
			inpoint:     child.inpoint,
			active:      child.active,
		}
		if adjust != nil {
			adjust(e)
		}
		out = append(out, e)
	}
	return out
}

func (c *Clip) limitEntriesWith(te *TrackElement, adjust func(e *limitEntry)) []*limitEntry {
	return c.limitEntries(func(e *limitEntry) {
		if e.child == te {
			adjust(e)
		}
	})
}

func (c *Clip) computeDurationLimit(entries []*limitEntry) time.Duration {
	tracked := make([]*limitEntry, 0, len(entries))
	for _, e := range entries {
		if !e.track.IsZero() {
			tracked = append(tracked, e)
		}
	}
	sort.SliceStable(tracked, func(i, j int) bool {
		if tracked[i].track != tracked[j].track {
			return tracked[i].track.index < tracked[j].track.index
		}
		return tracked[i].priority > tracked[j].priority
	})

	limit := NoTime
	for i := 0; i < len(tracked); {
		j := i + 1
		for j < len(tracked) && tracked[j].track == tracked[i].track {
			j++
		}
		limit = minTime(limit, c.trackLimit(tracked[i:j]))
		i = j
	}
	return limit
}

// trackLimit computes the limit of one track, entries sorted lowest
// priority (the core child) first.
func (c *Clip) trackLimit(entries []*limitEntry) time.Duration {
	i := 0
	for i < len(entries) && !entries[i].child.IsCore() {
		c.logger().Warn("non-core child sits below the core child of its track",
			zap.String("child", entries[i].child.name))
		i++
	}
	if i == len(entries) {
		c.logger().Error("track holds no core child of the clip")
		return NoTime
	}
	limit := entries[i].internalLimit()
	for _, e := range entries[i+1:] {
		limit = minTime(limit, e.internalLimit())
	}
	return limit
}

// DurationLimitWithInpoints computes the duration-limit the clip would have
// if the given children took the given in-points.
func (c *Clip) DurationLimitWithInpoints(inpoints map[*TrackElement]time.Duration) time.Duration {
	return c.computeDurationLimit(c.limitEntries(func(e *limitEntry) {
		if t, ok := inpoints[e.child]; ok {
			e.inpoint = t
		}
	}))
}

// checkDurationLimit fails when the duration-limit produced by entries
// would force the clip to shrink into an illegal position.
func (c *Clip) checkDurationLimit(entries []*limitEntry) error {
	limit := c.computeDurationLimit(entries)
	if !IsLess(limit, c.duration) {
		return nil
	}
	tl, ok := c.Timeline()
	if !ok {
		return nil
	}
	if err := tl.tree.CanMove(c, c.LayerPriority(), c.start, limit); err != nil {
		return fmt.Errorf("%w: %s cannot shrink to its duration-limit %s: %w",
			ErrNotEnoughContent, c.name, FormatTime(limit), err)
	}
	return nil
}

func (c *Clip) updateDurationLimit() {
	if c.preventDurationLimitUpdate.held() {
		return
	}
	limit := c.computeDurationLimit(c.limitEntries(nil))
	if limit == c.durationLimit {
		return
	}
	c.durationLimit = limit

	if IsLess(limit, c.duration) && !c.BeingEdited() {
		var err error
		if tl, ok := c.Timeline(); ok {
			err = tl.tree.Trim(c, 0, c.duration-limit, EdgeEnd, 0)
		} else {
			err = c.SetDuration(limit)
		}
		if err != nil {
			c.logger().Error("could not shrink clip to its duration-limit",
				zap.Duration("limit", limit), zap.Error(err))
		}
	}
	c.notify(PropDurationLimit)
}

func (c *Clip) canSetPriorityOfChild(te *TrackElement, p uint32) error {
	if c.settingPriority.held() {
		return nil
	}
	err := c.checkDurationLimit(c.limitEntriesWith(te, func(e *limitEntry) { e.priority = p }))
	if err != nil {
		return fmt.Errorf("%w: priority %d of %s: %w", ErrRejected, p, te.name, err)
	}
	return nil
}

func (c *Clip) canSetInpointOfCoreChildren(t time.Duration) error {
	if c.BeingEdited() {
		return nil
	}
	for _, child := range c.children {
		if isCoreInternalSource(child) && IsLess(child.maxDuration, t) {
			return fmt.Errorf("%w: in-point %s exceeds max-duration %s of %s",
				ErrNotEnoughContent, FormatTime(t), FormatTime(child.maxDuration), child.name)
		}
	}
	return c.checkDurationLimit(c.limitEntries(func(e *limitEntry) {
		if isCoreInternalSource(e.child) {
			e.inpoint = t
		}
	}))
}

func (c *Clip) canSetInpointOfChild(te *TrackElement, t time.Duration) error {
	if c.settingInpoint.held() || te.BeingEdited() {
		return nil
	}
	if !te.IsCore() {
		err := c.checkDurationLimit(c.limitEntriesWith(te, func(e *limitEntry) { e.inpoint = t }))
		if err != nil {
			return fmt.Errorf("%w: in-point of %s: %w", ErrRejected, te.name, err)
		}
		return nil
	}
	return c.canSetInpointOfCoreChildren(t)
}

func (c *Clip) canSetMaxDurationOfChild(te *TrackElement, t time.Duration) error {
	if c.settingMaxDuration.held() {
		return nil
	}
	err := c.checkDurationLimit(c.limitEntriesWith(te, func(e *limitEntry) { e.maxDuration = t }))
	if err != nil {
		return fmt.Errorf("%w: max-duration of %s: %w", ErrRejected, te.name, err)
	}
	return nil
}

// canSetActiveOfChild keeps the activity of a track consistent: an
// inactive core child deactivates the effects above it, and an active
// effect re-activates its core.
func (c *Clip) canSetActiveOfChild(te *TrackElement, active bool) error {
	if c.settingActive.held() {
		return nil
	}
	var entries []*limitEntry
	if te.track.IsZero() || te.IsCore() == active {
		entries = c.limitEntriesWith(te, func(e *limitEntry) { e.active = active })
	} else {
		entries = c.limitEntries(func(e *limitEntry) {
			sibling := e.child
			if sibling == te ||
				(sibling.track == te.track && sibling.IsCore() != te.IsCore() && sibling.active != active) {
				e.active = active
			}
		})
	}
	if err := c.checkDurationLimit(entries); err != nil {
		return fmt.Errorf("%w: active of %s: %w", ErrRejected, te.name, err)
	}
	return nil
}

func (c *Clip) canSetTrackOfChild(te *TrackElement, cur, t *Track) error {
	if c.allowAnyTrack.held() || cur == t {
		return nil
	}
	if cur != nil && te.IsCore() && c.trackHasNonCore(cur.handle) {
		return fmt.Errorf("%w: core child %s has non-core siblings in %s", ErrPlacement, te.name, cur.name)
	}

	var core *TrackElement
	if t != nil {
		trackTL, ok := t.Timeline()
		if !ok {
			return fmt.Errorf("%w: track %s is not in a timeline", ErrPlacement, t.name)
		}
		if clipTL, _ := c.Timeline(); clipTL != trackTL {
			return fmt.Errorf("%w: track %s belongs to another timeline than %s", ErrPlacement, t.name, c.name)
		}
		var hasCore bool
		core, hasCore = c.findCoreInTrack(t.handle)
		if te.IsCore() && hasCore {
			return fmt.Errorf("%w: track %s already holds the core child %s", ErrPlacement, t.name, core.name)
		}
		if !te.IsCore() && !hasCore {
			return fmt.Errorf("%w: track %s holds no core child of %s", ErrPlacement, t.name, c.name)
		}
	}

	err := c.checkDurationLimit(c.limitEntriesWith(te, func(e *limitEntry) {
		e.track = Handle{}
		if t != nil {
			e.track = t.handle
		}
		if core != nil && !core.active {
			e.active = false
		}
	}))
	if err != nil {
		return fmt.Errorf("%w: track of %s: %w", ErrPlacement, te.name, err)
	}
	return nil
}

func (c *Clip) updateActiveForTrack(te *TrackElement) {
	if c.allowAnyTrack.held() || te.IsCore() || te.track.IsZero() {
		return
	}
	active := false
	if core, ok := c.findCoreInTrack(te.track); ok {
		active = core.active
	} else {
		c.logger().Error("non-core child is in a track without core sibling",
			zap.String("child", te.name))
	}
	if active || !te.active {
		return
	}
	defer c.settingActive.hold()()
	defer c.preventDurationLimitUpdate.hold()()
	if err := te.SetActive(false); err != nil {
		c.logger().Error("could not deactivate child", zap.String("child", te.name), zap.Error(err))
	}
}

func (c *Clip) childActiveChanged(te *TrackElement) {
	if c.settingActive.held() || te.track.IsZero() || te.IsCore() == te.active {
		return
	}
	defer c.settingActive.hold()()
	defer c.preventDurationLimitUpdate.hold()()
	for _, sibling := range c.Children() {
		if sibling.track == te.track && sibling.IsCore() != te.IsCore() && sibling.active != te.active {
			if err := sibling.SetActive(te.active); err != nil {
				c.logger().Error("could not mirror activity on sibling",
					zap.String("child", sibling.name), zap.Error(err))
			}
		}
	}
}

func (c *Clip) childPriorityChanged() {
	if c.preventResort.held() {
		return
	}
	c.sortChildren()
	c.computeHeight()
}

// childInpointChanged reports whether the duration-limit needs an update.
func (c *Clip) childInpointChanged(te *TrackElement) bool {
	if c.settingInpoint.held() {
		return false
	}
	if !isCoreInternalSource(te) {
		return true
	}
	if err := c.SetInpoint(te.inpoint); err != nil {
		c.logger().Error("could not follow in-point of core child",
			zap.String("child", te.name), zap.Error(err))
	}
	return false
}

func (c *Clip) updateMaxDuration() {
	if c.settingMaxDuration.held() {
		return
	}
	m := NoTime
	for _, child := range c.children {
		if child.IsCore() {
			m = minTime(m, child.maxDuration)
		}
	}
	defer c.updatingMaxDuration.hold()()
	if err := c.SetMaxDuration(m); err != nil {
		c.logger().Warn("could not follow max-duration of core children", zap.Error(err))
	}
}

func (c *Clip) childHasInternalSourceChanged(te *TrackElement) {
	if !isCoreInternalSource(te) {
		return
	}
	if err := te.SetInpoint(c.inpoint); err != nil {
		c.logger().Error("could not align in-point of child", zap.String("child", te.name), zap.Error(err))
	}
}

func (c *Clip) onChildEvent(te *TrackElement, ev Event) {
	if ev.Kind != EventNotify {
		return
	}
	update := false
	switch ev.Property {
	case PropTrack:
		update = true
		c.updateActiveForTrack(te)
	case PropActive:
		update = true
		c.childActiveChanged(te)
	case PropPriority:
		update = true
		c.childPriorityChanged()
	case PropInpoint:
		update = c.childInpointChanged(te)
	case PropMaxDuration:
		update = true
		if te.IsCore() {
			c.updateMaxDuration()
		}
	case PropHasInternalSource:
		c.childHasInternalSourceChanged(te)
	}
	if update {
		c.updateDurationLimit()
	}
}

func (c *Clip) applyStart(t time.Duration) (hookResult, error) {
	for _, child := range c.Children() {
		child.forceStart(t)
	}
	return hookApply, nil
}

func (c *Clip) applyDuration(d time.Duration) (hookResult, error) {
	for _, child := range c.Children() {
		child.forceDuration(d)
	}
	return hookApply, nil
}

func (c *Clip) applyInpoint(t time.Duration) error {
	if err := c.canSetInpointOfCoreChildren(t); err != nil {
		return err
	}
	if err := c.setChildrenInpoint(t, true); err != nil {
		_ = c.setChildrenInpoint(c.inpoint, false)
		return err
	}
	return nil
}

func (c *Clip) setChildrenInpoint(t time.Duration, breakOnFailure bool) error {
	releaseSetting := c.settingInpoint.hold()
	releasePrevent := c.preventDurationLimitUpdate.hold()
	for _, child := range c.Children() {
		if !isCoreInternalSource(child) {
			continue
		}
		if err := child.SetInpoint(t); err != nil {
			c.logger().Error("could not set in-point of child",
				zap.String("child", child.name), zap.Error(err))
			if breakOnFailure {
				releaseSetting()
				releasePrevent()
				return err
			}
		}
	}
	releaseSetting()
	releasePrevent()
	c.updateDurationLimit()
	return nil
}

func (c *Clip) applyMaxDuration(t time.Duration) error {
	if c.updatingMaxDuration.held() {
		return nil
	}
	err := c.checkDurationLimit(c.limitEntries(func(e *limitEntry) {
		if isCoreInternalSource(e.child) {
			e.maxDuration = t
		}
	}))
	if err != nil {
		return fmt.Errorf("%w: max-duration of %s: %w", ErrRejected, c.name, err)
	}
	defer c.updateDurationLimit()

	hasCore := false
	newMin := NoTime
	func() {
		defer c.preventDurationLimitUpdate.hold()()
		defer c.settingMaxDuration.hold()()
		for _, child := range c.Children() {
			if !child.IsCore() {
				continue
			}
			hasCore = true
			if !child.hasInternalSource {
				continue
			}
			if err := child.SetMaxDuration(t); err != nil {
				c.logger().Error("could not set max-duration of child",
					zap.String("child", child.name), zap.Error(err))
			}
			newMin = minTime(newMin, child.maxDuration)
		}
	}()

	if !hasCore || newMin == t {
		return nil
	}
	func() {
		defer c.updatingMaxDuration.hold()()
		if err := c.SetMaxDuration(newMin); err != nil {
			c.logger().Warn("could not restore max-duration", zap.Error(err))
		}
	}()
	return fmt.Errorf("%w: max-duration of %s stays at %s", ErrNotEnoughContent, c.name, FormatTime(newMin))
}

func (c *Clip) applyPriority(p uint32) (hookResult, error) {
	minChild := uint32(math.MaxUint32)
	for _, child := range c.children {
		minChild = min(minChild, child.priority)
	}
	lo, hi := c.priorityRange(p)

	defer c.preventResort.hold()()
	defer c.preventDurationLimitUpdate.hold()()
	defer c.settingPriority.hold()()
	for _, child := range c.Children() {
		prio := lo + (child.priority - minChild)
		if prio > hi {
			c.logger().Warn("child priority is outside of the layer band, clamping",
				zap.String("child", child.name), zap.Uint32("priority", prio), zap.Uint32("max", hi))
			prio = hi
		}
		if err := child.SetPriority(prio); err != nil {
			c.logger().Error("could not set priority of child", zap.String("child", child.name), zap.Error(err))
		}
	}
	return hookApply, nil
}

// setTimeline moves the clip and its children to tl.
func (c *Clip) setTimeline(tl *Timeline) error {
	if err := c.element.setTimeline(tl); err != nil {
		return err
	}
	for _, child := range c.children {
		if tl == nil {
			if _, inTrack := child.Track(); inTrack {
				continue
			}
		}
		if err := child.setTimeline(tl); err != nil {
			c.logger().Warn("child could not follow the clip timeline",
				zap.String("child", child.name), zap.Error(err))
		}
	}
	return nil
}
