package timeline

import (
	"time"

	"go.uber.org/zap"
)

// AutoTransition keeps a transition clip on the overlap of two sources of
// the same track and layer. It destroys itself once the sources stop
// overlapping in a way a transition can cover.
type AutoTransition struct {
	ctx        *Context
	handle     Handle
	timeline   *Timeline
	previous   *TrackElement
	next       *TrackElement
	transition *TrackElement
	clip       *Clip

	positioning guard
	frozen      bool
	destroyed   bool
}

func newAutoTransition(tl *Timeline, previous, next, transition *TrackElement, clip *Clip) *AutoTransition {
	at := &AutoTransition{
		ctx:        tl.ctx,
		timeline:   tl,
		previous:   previous,
		next:       next,
		transition: transition,
		clip:       clip,
	}
	at.handle = tl.ctx.register(KindAutoTransition, at)
	at.watchSource(previous)
	at.watchSource(next)
	tl.ctx.bus.Subscribe(clip.handle, at.handle, func(ev Event) {
		if ev.Kind == EventNotify && ev.Property == PropLayer {
			if _, ok := clip.Layer(); !ok {
				at.timeline.forgetAutoTransition(at)
			}
		}
	})
	return at
}

func (at *AutoTransition) Previous() *TrackElement { return at.previous }

func (at *AutoTransition) Next() *TrackElement { return at.next }

// Clip returns the transition clip.
func (at *AutoTransition) Clip() *Clip { return at.clip }

// Transition returns the transition track element.
func (at *AutoTransition) Transition() *TrackElement { return at.transition }

func (at *AutoTransition) IsDestroyed() bool { return at.destroyed }

func (at *AutoTransition) watchSource(te *TrackElement) {
	at.ctx.bus.Subscribe(te.handle, at.handle, func(ev Event) { at.onSourceEvent(te, ev) })
	if c, ok := te.clip(); ok {
		at.ctx.bus.Subscribe(c.handle, at.handle, func(ev Event) {
			if ev.Kind == EventNotify && ev.Property == PropLayer {
				at.neighbourChanged()
			}
		})
	}
}

func (at *AutoTransition) unwatchSource(te *TrackElement) {
	at.ctx.bus.Unsubscribe(te.handle, at.handle)
	if c, ok := te.clip(); ok {
		at.ctx.bus.Unsubscribe(c.handle, at.handle)
	}
}

func (at *AutoTransition) onSourceEvent(te *TrackElement, ev Event) {
	if ev.Kind != EventNotify {
		return
	}
	switch ev.Property {
	case PropTrack:
		if _, ok := te.Track(); !ok && !at.frozen {
			at.ctx.log.Debug("auto-transition source left its track",
				zap.String("source", te.name), zap.String("transition", at.clip.name))
			at.destroy()
		}
	case PropStart, PropDuration:
		at.neighbourChanged()
	}
}

func (at *AutoTransition) neighbourChanged() {
	if at.frozen || at.positioning.held() || at.destroyed {
		return
	}
	at.reposition()
}

// Update repositions the transition on the current overlap of its
// sources, or destroys it when they no longer allow one.
func (at *AutoTransition) Update() {
	if at.destroyed || at.positioning.held() {
		return
	}
	if _, ok := at.previous.Track(); !ok {
		at.destroy()
		return
	}
	if _, ok := at.next.Track(); !ok {
		at.destroy()
		return
	}
	at.reposition()
}

func (at *AutoTransition) reposition() {
	layerPrio := at.previous.LayerPriority()
	if layerPrio != at.next.LayerPriority() {
		at.ctx.log.Debug("auto-transition sources are in different layers",
			zap.String("transition", at.clip.name))
		at.destroy()
		return
	}
	d := at.previous.End() - at.next.Start()
	if d <= 0 || d >= at.previous.Duration() || d >= at.next.Duration() {
		at.ctx.log.Debug("auto-transition overlap is gone",
			zap.String("transition", at.clip.name), zap.Duration("overlap", d))
		at.destroy()
		return
	}

	defer at.positioning.hold()()
	defer at.clip.BeginEdit()()
	if err := at.clip.SetStart(at.next.Start()); err != nil {
		at.ctx.log.Error("could not move auto-transition", zap.Error(err))
	}
	if err := at.clip.SetDuration(d); err != nil {
		at.ctx.log.Error("could not resize auto-transition", zap.Error(err))
	}
	if at.clip.LayerPriority() == layerPrio {
		return
	}
	l, ok := at.timeline.Layer(layerPrio)
	if !ok {
		at.destroy()
		return
	}
	if err := at.clip.MoveToLayer(l); err != nil {
		at.ctx.log.Error("could not move auto-transition to its layer", zap.Error(err))
	}
}

// setSource replaces the source at edge of the transition: the end edge
// of the previous source or the start edge of the next one.
func (at *AutoTransition) setSource(te *TrackElement, edge Edge) {
	switch edge {
	case EdgeEnd:
		at.unwatchSource(at.next)
		at.next = te
	case EdgeStart:
		at.unwatchSource(at.previous)
		at.previous = te
	default:
		return
	}
	at.watchSource(te)
}

func (at *AutoTransition) covers(prev, next *TrackElement) bool {
	return (at.previous == prev && at.next == next) || (at.previous == next && at.next == prev)
}

// duration is the overlap of the two sources.
func (at *AutoTransition) duration() time.Duration {
	return at.previous.End() - at.next.Start()
}

// destroy removes the transition clip from its layer and forgets the
// binding.
func (at *AutoTransition) destroy() {
	if at.destroyed {
		return
	}
	at.destroyed = true
	at.timeline.forgetAutoTransition(at)
	if l, ok := at.clip.Layer(); ok {
		if err := l.RemoveClip(at.clip); err != nil {
			at.ctx.log.Error("could not remove auto-transition clip", zap.Error(err))
		}
	}
	for _, child := range at.clip.Children() {
		at.ctx.release(child.handle)
	}
	at.ctx.release(at.clip.handle)
}

// release drops the bus subscriptions of the binding.
func (at *AutoTransition) release() {
	at.unwatchSource(at.previous)
	at.unwatchSource(at.next)
	at.ctx.bus.Unsubscribe(at.clip.handle, at.handle)
	at.ctx.release(at.handle)
}
