package timeline

import (
	"fmt"

	"go.uber.org/zap"
)

// Tracks returns the tracks of the timeline in insertion order.
func (tl *Timeline) Tracks() []*Track {
	tl.dynMu.Lock()
	defer tl.dynMu.Unlock()
	return tl.tracksLocked()
}

func (tl *Timeline) tracksLocked() []*Track {
	out := make([]*Track, len(tl.tracks))
	copy(out, tl.tracks)
	return out
}

// AddTrack adds t to the timeline and creates the track elements of every
// clip for it.
func (tl *Timeline) AddTrack(t *Track) error {
	if cur, ok := t.Timeline(); ok {
		return fmt.Errorf("%w: track %s is already in timeline %s", ErrOwnership, t.name, cur.name)
	}

	tl.dynMu.Lock()
	tl.tracks = append(tl.tracks, t)
	t.timeline = tl.handle
	tl.dynMu.Unlock()

	tl.ctx.bus.Subscribe(t.handle, tl.handle, func(ev Event) {
		if ev.Kind != EventTrackElementAdded {
			return
		}
		if te, ok := tl.trackElement(ev.Subject); ok && te.IsSource() {
			tl.tree.CreateTransitionsForElement(te, tl.findAutoTransition)
		}
	})
	tl.ctx.bus.Publish(Event{Kind: EventTrackAdded, Source: tl.handle, Subject: t.handle})

	for _, l := range tl.Layers() {
		for _, c := range l.Clips() {
			tl.addClipToTracks(c, t)
		}
	}
	tl.UpdateDuration()
	return nil
}

// RemoveTrack empties every clip from t and drops it from the timeline.
func (tl *Timeline) RemoveTrack(t *Track) error {
	if cur, ok := t.Timeline(); !ok || cur != tl {
		return fmt.Errorf("%w: track %s is not in timeline %s", ErrNotFound, t.name, tl.name)
	}
	for _, l := range tl.Layers() {
		for _, c := range l.Clips() {
			c.EmptyFromTrack(t)
		}
	}
	tl.ctx.bus.Unsubscribe(t.handle, tl.handle)

	tl.dynMu.Lock()
	for i, x := range tl.tracks {
		if x == t {
			tl.tracks = append(tl.tracks[:i], tl.tracks[i+1:]...)
			break
		}
	}
	t.timeline = Handle{}
	tl.dynMu.Unlock()

	tl.ctx.bus.Publish(Event{Kind: EventTrackRemoved, Source: tl.handle, Subject: t.handle})
	tl.UpdateDuration()
	return nil
}

func (tl *Timeline) setSelectionError(err error) {
	if tl.selectionErr == nil {
		tl.selectionErr = err
	}
}

// takeSelectionError returns and clears the first track selection error
// recorded since the last call.
func (tl *Timeline) takeSelectionError() error {
	err := tl.selectionErr
	tl.selectionErr = nil
	return err
}

// addClipToTracks creates the core children of c for every track (or
// only for track when non-nil) and places the children without a track.
func (tl *Timeline) addClipToTracks(c *Clip, track *Track) {
	prev := tl.newTrack
	tl.newTrack = track
	defer func() { tl.newTrack = prev }()

	created := make(map[*TrackElement]bool)
	for _, t := range tl.Tracks() {
		if track != nil && t != track {
			continue
		}
		for _, te := range c.CreateTrackElements(t.kind) {
			created[te] = true
			if err := c.AddChild(te); err != nil {
				tl.logger().Warn("core child refused by its clip",
					zap.String("clip", c.name), zap.String("child", te.name), zap.Error(err))
				tl.setSelectionError(err)
				tl.ctx.release(te.handle)
			}
		}
	}
	tl.addChildrenToTracks(c, true, created)
	tl.addChildrenToTracks(c, false, created)

	for _, child := range c.Children() {
		if !created[child] {
			continue
		}
		if _, inTrack := child.Track(); inTrack {
			continue
		}
		tl.logger().Warn("no track selected for created child, dropping it",
			zap.String("clip", c.name), zap.String("child", child.name))
		if err := c.RemoveChild(child); err != nil {
			tl.logger().Error("could not drop unplaced child",
				zap.String("child", child.name), zap.Error(err))
			continue
		}
		tl.ctx.release(child.handle)
	}
}

// addChildrenToTracks places the core (or non-core) children of c that
// have no track yet. Children in skip already went through selection.
func (tl *Timeline) addChildrenToTracks(c *Clip, core bool, skip map[*TrackElement]bool) {
	for _, child := range c.Children() {
		if child.IsCore() != core || skip[child] {
			continue
		}
		if _, inTrack := child.Track(); inTrack {
			continue
		}
		if err := tl.addTrackElementToTracks(c, child); err != nil {
			return
		}
	}
}

func (tl *Timeline) onChildAdded(c *Clip, te *TrackElement) {
	if tl.trackElementsMoving.held() {
		return
	}
	if t, ok := te.Track(); ok {
		tl.logger().Debug("child is already in a track",
			zap.String("child", te.name), zap.String("track", t.name))
		return
	}
	if err := tl.addTrackElementToTracks(c, te); err != nil {
		tl.logger().Debug("child placement failed", zap.String("child", te.name), zap.Error(err))
	}
}

func (tl *Timeline) onChildRemoved(c *Clip, te *TrackElement) {
	if tl.trackElementsMoving.held() {
		return
	}
	track, ok := te.Track()
	if !ok {
		return
	}
	if te.IsCore() {
		c.EmptyFromTrack(track)
	}
	if err := track.RemoveElement(te); err != nil {
		tl.logger().Error("could not remove child from its track",
			zap.String("child", te.name), zap.String("track", track.name), zap.Error(err))
	}
}

func (tl *Timeline) addTrackElementToTracks(c *Clip, te *TrackElement) error {
	for _, t := range tl.selectTracksFor(c, te) {
		if _, err := c.AddChildToTrack(te, t); err != nil {
			tl.logger().Warn("could not place child in selected track",
				zap.String("child", te.name), zap.String("track", t.name), zap.Error(err))
			tl.setSelectionError(err)
			return err
		}
	}
	return nil
}

// selectTracksFor returns the tracks te goes to. Tracks of another
// timeline and duplicates are dropped with a warning.
func (tl *Timeline) selectTracksFor(c *Clip, te *TrackElement) []*Track {
	if tl.autoTransitionTrack != nil {
		return []*Track{tl.autoTransitionTrack}
	}

	var candidates []*Track
	if tl.selectTracks != nil {
		candidates = tl.selectTracks(c, te)
	} else {
		for _, t := range tl.Tracks() {
			if t.kind&te.trackType != 0 {
				candidates = append(candidates, t)
			}
		}
	}

	seen := make(map[*Track]bool)
	var out []*Track
	for _, t := range candidates {
		if t == nil {
			continue
		}
		if cur, ok := t.Timeline(); !ok || cur != tl {
			tl.logger().Warn("selected track is not in the timeline",
				zap.String("child", te.name), zap.String("track", t.name))
			continue
		}
		if seen[t] {
			tl.logger().Warn("track selected twice", zap.String("child", te.name), zap.String("track", t.name))
			continue
		}
		seen[t] = true
		if tl.newTrack != nil && t != tl.newTrack {
			continue
		}
		out = append(out, t)
	}
	return out
}
