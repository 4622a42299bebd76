package timeline

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// LayerHeight is the number of track priorities reserved for each layer.
const LayerHeight = 1000

// Layer is a priority ranked set of clips. Clips of a lower layer priority
// are composited above the clips of higher ones.
type Layer struct {
	ctx      *Context
	handle   Handle
	name     string
	priority uint32
	timeline Handle
	clips    []*Clip

	autoTransition bool
	minNLEPriority uint32
	maxNLEPriority uint32
}

// NewLayer creates a layer with priority 0 outside of any timeline.
func NewLayer(ctx *Context) *Layer {
	l := &Layer{ctx: ctx}
	l.handle = ctx.register(KindLayer, l)
	l.name = ctx.nextName("layer")
	l.computeBand()
	return l
}

func (l *Layer) Handle() Handle { return l.handle }

func (l *Layer) Name() string { return l.name }

func (l *Layer) Priority() uint32 { return l.priority }

// Timeline returns the timeline holding the layer.
func (l *Layer) Timeline() (*Timeline, bool) {
	return l.ctx.timeline(l.timeline)
}

func (l *Layer) AutoTransition() bool { return l.autoTransition }

// SetAutoTransition toggles automatic transitions between overlapping
// clips of the layer.
func (l *Layer) SetAutoTransition(on bool) {
	if l.autoTransition == on {
		return
	}
	l.autoTransition = on
	l.ctx.bus.Publish(Event{Kind: EventNotify, Source: l.handle, Property: PropAutoTransition})
}

// SetPriority changes the layer priority and moves its clips into the new
// priority band.
func (l *Layer) SetPriority(p uint32) {
	if l.priority == p {
		return
	}
	l.priority = p
	l.ResyncPriorities()
	l.ctx.bus.Publish(Event{Kind: EventNotify, Source: l.handle, Property: PropPriority})
}

func (l *Layer) computeBand() {
	l.minNLEPriority = l.priority*LayerHeight + MinNLEPriority
	l.maxNLEPriority = (l.priority+1)*LayerHeight + MinNLEPriority
}

// ResyncPriorities recomputes the priority band and re-applies the
// priority of every clip so their children land inside it.
func (l *Layer) ResyncPriorities() {
	l.computeBand()
	for _, c := range l.Clips() {
		if err := c.SetPriority(c.priority); err != nil {
			l.ctx.log.Error("could not resync clip priority",
				zap.String("layer", l.name), zap.String("clip", c.name), zap.Error(err))
		}
	}
}

// Clips returns the clips ordered by start then priority.
func (l *Layer) Clips() []*Clip {
	out := make([]*Clip, len(l.clips))
	copy(out, l.clips)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].start != out[j].start {
			return out[i].start < out[j].start
		}
		return out[i].priority < out[j].priority
	})
	return out
}

// ClipsInInterval returns the clips that intersect [start, end).
func (l *Layer) ClipsInInterval(start, end time.Duration) []*Clip {
	var out []*Clip
	for _, c := range l.Clips() {
		cs, ce := c.start, c.End()
		if (cs >= start && cs < end) || (ce > start && ce <= end) || (cs < start && ce > end) {
			out = append(out, c)
		}
	}
	return out
}

func (l *Layer) IsEmpty() bool { return len(l.clips) == 0 }

// Duration is the end of the last clip of the layer.
func (l *Layer) Duration() time.Duration {
	var d time.Duration
	for _, c := range l.clips {
		d = max(d, c.End())
	}
	return d
}

func (l *Layer) indexOf(c *Clip) int {
	for i, x := range l.clips {
		if x == c {
			return i
		}
	}
	return -1
}

// AddClip adds c to the layer. In a timeline the clip gets its track
// elements and must fit the timeline geometry, otherwise it is removed
// again and the error returned.
func (l *Layer) AddClip(c *Clip) error {
	if cur, ok := c.Layer(); ok {
		return fmt.Errorf("%w: %s is already in layer %s", ErrOwnership, c.name, cur.name)
	}

	l.clips = append(l.clips, c)
	c.setLayer(l)
	if l.minNLEPriority+c.priority > l.maxNLEPriority {
		l.ctx.log.Warn("clip priority is outside of the layer band, clamping",
			zap.String("layer", l.name), zap.String("clip", c.name), zap.Uint32("priority", c.priority))
		if err := c.SetPriority(LayerHeight - 1); err != nil {
			l.ctx.log.Error("could not clamp clip priority", zap.String("clip", c.name), zap.Error(err))
		}
	}
	l.ResyncPriorities()

	tl, hasTL := l.Timeline()
	if hasTL {
		tl.takeSelectionError()
		if err := c.setTimeline(tl); err != nil {
			l.detach(c)
			return err
		}
	}
	l.ctx.bus.Publish(Event{Kind: EventClipAdded, Source: l.handle, Subject: c.handle})
	if !hasTL {
		return nil
	}

	if !c.moving.held() {
		if err := tl.tree.CanMove(c, l.priority, c.start, c.duration); err != nil {
			l.ctx.log.Info("clip does not fit the timeline",
				zap.String("layer", l.name), zap.String("clip", c.name), zap.Error(err))
			if rmErr := l.RemoveClip(c); rmErr != nil {
				l.ctx.log.Error("could not drop refused clip", zap.Error(rmErr))
			}
			return fmt.Errorf("adding %s to %s: %w", c.name, l.name, err)
		}
	}
	if err := tl.takeSelectionError(); err != nil {
		if rmErr := l.RemoveClip(c); rmErr != nil {
			l.ctx.log.Error("could not drop clip after failed track selection", zap.Error(rmErr))
		}
		return fmt.Errorf("adding %s to %s: %w", c.name, l.name, err)
	}
	return nil
}

// detach drops c from the layer without notifying.
func (l *Layer) detach(c *Clip) {
	if i := l.indexOf(c); i >= 0 {
		l.clips = append(l.clips[:i], l.clips[i+1:]...)
	}
	c.setLayer(nil)
}

// RemoveClip takes c out of the layer. The clip survives; outside of a
// layer move it also leaves the timeline.
func (l *Layer) RemoveClip(c *Clip) error {
	idx := l.indexOf(c)
	if idx < 0 {
		return fmt.Errorf("%w: %s is not in layer %s", ErrNotFound, c.name, l.name)
	}
	l.clips = append(l.clips[:idx], l.clips[idx+1:]...)
	l.ctx.bus.Publish(Event{Kind: EventClipRemoved, Source: l.handle, Subject: c.handle})

	c.setLayer(nil)
	if !c.moving.held() {
		if err := c.setTimeline(nil); err != nil {
			l.ctx.log.Warn("clip could not leave the timeline", zap.String("clip", c.name), zap.Error(err))
		}
	}
	return nil
}

// AddAsset extracts a clip from asset, positions it and adds it to the
// layer. A NoTime start appends the clip at the end of the layer and a
// zero trackTypes keeps the asset formats.
func (l *Layer) AddAsset(asset Asset, start, inpoint, duration time.Duration, trackTypes TrackType) (*Clip, error) {
	el, err := asset.Extract(l.ctx)
	if err != nil {
		return nil, err
	}
	c, ok := el.(*Clip)
	if !ok {
		return nil, fmt.Errorf("%w: asset %s does not extract a clip", ErrUnsupported, asset.ID())
	}
	if !IsValid(start) {
		start = l.Duration()
	}
	if err := c.SetStart(start); err != nil {
		return nil, err
	}
	if inpoint > 0 {
		if err := c.SetInpoint(inpoint); err != nil {
			return nil, err
		}
	}
	if IsValid(duration) && duration > 0 {
		if err := c.SetDuration(duration); err != nil {
			return nil, err
		}
	}
	if trackTypes != 0 {
		c.SetSupportedFormats(trackTypes)
	}
	if err := l.AddClip(c); err != nil {
		l.ctx.release(c.handle)
		return nil, err
	}
	return c, nil
}
