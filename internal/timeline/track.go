package timeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TrackType is a bit mask of media kinds.
type TrackType uint32

const (
	TrackUnknown TrackType = 1 << iota
	TrackAudio
	TrackVideo
	TrackText
	TrackCustom
)

func (t TrackType) String() string {
	var parts []string
	for _, p := range []struct {
		bit  TrackType
		name string
	}{
		{TrackUnknown, "unknown"},
		{TrackAudio, "audio"},
		{TrackVideo, "video"},
		{TrackText, "text"},
		{TrackCustom, "custom"},
	} {
		if t&p.bit != 0 {
			parts = append(parts, p.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// ParseTrackType parses "video", "audio+video" and similar masks.
func ParseTrackType(s string) (TrackType, error) {
	var t TrackType
	for _, part := range strings.Split(s, "+") {
		switch strings.TrimSpace(strings.ToLower(part)) {
		case "audio":
			t |= TrackAudio
		case "video":
			t |= TrackVideo
		case "text":
			t |= TrackText
		case "custom":
			t |= TrackCustom
		case "unknown":
			t |= TrackUnknown
		default:
			return 0, fmt.Errorf("unknown track type %q", part)
		}
	}
	return t, nil
}

// Backend is the data-flow side of a track. Commit receives the committed
// state of the track and returns once it has been applied.
type Backend interface {
	Commit(ctx context.Context, snap TrackSnapshot) error
}

// TrackSnapshot is the committed content of one track.
type TrackSnapshot struct {
	Track    string            `json:"track" yaml:"track"`
	Type     string            `json:"type" yaml:"type"`
	Elements []ElementSnapshot `json:"elements" yaml:"elements"`
}

// ElementSnapshot describes one track element at commit time.
type ElementSnapshot struct {
	Name     string        `json:"name" yaml:"name"`
	Kind     string        `json:"kind" yaml:"kind"`
	Clip     string        `json:"clip,omitempty" yaml:"clip,omitempty"`
	Layer    uint32        `json:"layer" yaml:"layer"`
	Start    time.Duration `json:"start" yaml:"start"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Inpoint  time.Duration `json:"inpoint" yaml:"inpoint"`
	Priority uint32        `json:"priority" yaml:"priority"`
	Active   bool          `json:"active" yaml:"active"`
	Asset    string        `json:"asset,omitempty" yaml:"asset,omitempty"`
}

// Track holds the track elements placed in it, in (start, priority) order.
type Track struct {
	ctx      *Context
	handle   Handle
	kind     TrackType
	name     string
	timeline Handle
	elements []*TrackElement
	backend  Backend
}

// NewTrack creates a track of the given type. backend may be nil, in which
// case commits of the track complete immediately.
func NewTrack(ctx *Context, kind TrackType, backend Backend) *Track {
	t := &Track{ctx: ctx, kind: kind, backend: backend}
	t.handle = ctx.register(KindTrack, t)
	t.name = ctx.nextName(kind.String() + "track")
	return t
}

func (t *Track) Handle() Handle { return t.handle }

func (t *Track) Name() string { return t.name }

func (t *Track) Type() TrackType { return t.kind }

func (t *Track) Backend() Backend { return t.backend }

func (t *Track) SetBackend(b Backend) { t.backend = b }

// Timeline returns the timeline the track belongs to.
func (t *Track) Timeline() (*Timeline, bool) {
	return t.ctx.timeline(t.timeline)
}

// Elements returns the track elements sorted by start then priority.
func (t *Track) Elements() []*TrackElement {
	out := make([]*TrackElement, len(t.elements))
	copy(out, t.elements)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].start != out[j].start {
			return out[i].start < out[j].start
		}
		return out[i].priority < out[j].priority
	})
	return out
}

// Contains reports whether el is placed in the track.
func (t *Track) Contains(el *TrackElement) bool {
	for _, e := range t.elements {
		if e == el {
			return true
		}
	}
	return false
}

// AddElement places el in the track. The parent clip of el may veto it.
func (t *Track) AddElement(el *TrackElement) error {
	if cur, ok := el.Track(); ok {
		if cur == t {
			return nil
		}
		return fmt.Errorf("%w: %s already in track %s", ErrOwnership, el.name, cur.name)
	}
	if err := el.setTrack(t); err != nil {
		return err
	}
	t.elements = append(t.elements, el)

	if tl, ok := t.Timeline(); ok {
		if err := el.setTimeline(tl); err != nil {
			t.ctx.log.Warn("track element could not join the timeline",
				zap.String("element", el.name), zap.Error(err))
		}
	}
	t.ctx.bus.Publish(Event{Kind: EventTrackElementAdded, Source: t.handle, Subject: el.handle})
	return nil
}

// RemoveElement takes el out of the track. The parent clip may veto it.
func (t *Track) RemoveElement(el *TrackElement) error {
	idx := -1
	for i, e := range t.elements {
		if e == el {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s is not in track %s", ErrNotFound, el.name, t.name)
	}
	if err := el.setTrack(nil); err != nil {
		return err
	}
	t.elements = append(t.elements[:idx], t.elements[idx+1:]...)

	if _, hasParent := el.Parent(); !hasParent {
		_ = el.setTimeline(nil)
	}
	t.ctx.bus.Publish(Event{Kind: EventTrackElementRemoved, Source: t.handle, Subject: el.handle})
	return nil
}

// Snapshot captures the current content of the track.
func (t *Track) Snapshot() TrackSnapshot {
	snap := TrackSnapshot{Track: t.name, Type: t.kind.String()}
	for _, el := range t.Elements() {
		es := ElementSnapshot{
			Name:     el.name,
			Kind:     el.kind.String(),
			Layer:    el.LayerPriority(),
			Start:    el.start,
			Duration: el.duration,
			Inpoint:  el.inpoint,
			Priority: el.priority,
			Active:   el.active,
			Asset:    el.creatorAsset,
		}
		if c, ok := el.clip(); ok {
			es.Clip = c.name
		}
		snap.Elements = append(snap.Elements, es)
	}
	return snap
}

// commit hands snap to the backend. A track without backend commits
// immediately.
func (t *Track) commit(ctx context.Context, snap TrackSnapshot) error {
	if t.backend == nil {
		return nil
	}
	if err := t.backend.Commit(ctx, snap); err != nil {
		return fmt.Errorf("committing track %s: %w", t.name, err)
	}
	return nil
}
