package timeline

import (
	"fmt"
	"sort"
	"time"
)

// ElementKind is the role of a track element inside its clip.
type ElementKind int

const (
	KindSource ElementKind = iota
	KindEffect
	KindTransition
)

func (k ElementKind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindEffect:
		return "effect"
	case KindTransition:
		return "transition"
	}
	return "unknown"
}

// MinNLEPriority is the lowest priority a track element can take.
const MinNLEPriority = 2

// TrackElement is a leaf element placed into at most one track.
type TrackElement struct {
	element

	kind              ElementKind
	track             Handle
	trackType         TrackType
	active            bool
	hasInternalSource bool
	creatorAsset      string
	description       string
	bindings          map[string]*ControlBinding
}

func newTrackElement(ctx *Context, kind ElementKind, trackType TrackType, prefix string) *TrackElement {
	te := &TrackElement{kind: kind, trackType: trackType, active: true}
	te.init(ctx, KindTrackElement, te, te, prefix)
	te.priority = MinNLEPriority
	return te
}

// NewSource creates a source element. Sources with internal content have an
// in-point and may be bounded by a max-duration.
func NewSource(ctx *Context, trackType TrackType, hasInternalSource bool) *TrackElement {
	te := newTrackElement(ctx, KindSource, trackType, trackType.String()+"source")
	te.hasInternalSource = hasInternalSource
	return te
}

// NewEffect creates a non-core effect described by description.
func NewEffect(ctx *Context, trackType TrackType, description string) *TrackElement {
	te := newTrackElement(ctx, KindEffect, trackType, "effect")
	te.description = description
	return te
}

// NewTransition creates a transition element.
func NewTransition(ctx *Context, trackType TrackType, description string) *TrackElement {
	te := newTrackElement(ctx, KindTransition, trackType, "transition")
	te.description = description
	return te
}

func (te *TrackElement) Kind() ElementKind { return te.kind }

// IsSource reports whether the element provides content: only sources take
// part in overlap checks and auto-transitions.
func (te *TrackElement) IsSource() bool { return te.kind == KindSource }

func (te *TrackElement) TrackType() TrackType { return te.trackType }

// SetTrackType changes the track type of an element that is not in a track.
func (te *TrackElement) SetTrackType(t TrackType) error {
	if _, ok := te.Track(); ok {
		return fmt.Errorf("%w: %s is in a track", ErrPlacement, te.name)
	}
	te.trackType = t
	return nil
}

func (te *TrackElement) Description() string { return te.description }

// IsCore reports whether the element was created by its clip's asset.
func (te *TrackElement) IsCore() bool { return te.creatorAsset != "" }

func (te *TrackElement) CreatorAsset() string { return te.creatorAsset }

// SetCreatorAsset marks the element as created by the asset id; a
// non-empty id makes it a core element.
func (te *TrackElement) SetCreatorAsset(id string) { te.creatorAsset = id }

func (te *TrackElement) IsActive() bool { return te.active }

func (te *TrackElement) HasInternalSource() bool { return te.hasInternalSource }

// Track returns the track holding the element.
func (te *TrackElement) Track() (*Track, bool) {
	return te.ctx.track(te.track)
}

// Clip returns the clip holding the element.
func (te *TrackElement) Clip() (*Clip, bool) { return te.clip() }

func (te *TrackElement) clip() (*Clip, bool) {
	p, ok := te.Parent()
	if !ok {
		return nil, false
	}
	c, ok := p.(*Clip)
	return c, ok
}

// SetActive toggles the element in its track. The parent clip keeps core
// and non-core elements of a track consistent and may veto.
func (te *TrackElement) SetActive(active bool) error {
	if te.active == active {
		return nil
	}
	if c, ok := te.clip(); ok {
		if err := c.canSetActiveOfChild(te, active); err != nil {
			return err
		}
	}
	te.active = active
	te.notify(PropActive)
	return nil
}

// SetHasInternalSource registers whether the element has internal
// content. Clearing it resets the in-point and max-duration.
func (te *TrackElement) SetHasInternalSource(has bool) error {
	if te.hasInternalSource == has {
		return nil
	}
	te.hasInternalSource = has
	if !has {
		if err := te.SetInpoint(0); err != nil {
			te.logger().Warn("could not reset in-point")
		}
		if err := te.SetMaxDuration(NoTime); err != nil {
			te.logger().Warn("could not reset max-duration")
		}
	}
	te.notify(PropHasInternalSource)
	return nil
}

func (te *TrackElement) setTrack(t *Track) error {
	cur, _ := te.Track()
	if cur == t {
		return nil
	}
	if c, ok := te.clip(); ok {
		if err := c.canSetTrackOfChild(te, cur, t); err != nil {
			return err
		}
	}
	if t == nil {
		te.track = Handle{}
	} else {
		te.track = t.handle
		te.trackType = t.kind
	}
	te.notify(PropTrack)
	return nil
}

// SetBinding attaches a control binding, replacing any binding of the same
// property.
func (te *TrackElement) SetBinding(b *ControlBinding) {
	if te.bindings == nil {
		te.bindings = make(map[string]*ControlBinding)
	}
	te.bindings[b.Property] = b
}

// Binding returns the control binding of property.
func (te *TrackElement) Binding(property string) (*ControlBinding, bool) {
	b, ok := te.bindings[property]
	return b, ok
}

// Bindings returns the bound properties in name order.
func (te *TrackElement) Bindings() []*ControlBinding {
	names := make([]string, 0, len(te.bindings))
	for n := range te.bindings {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*ControlBinding, 0, len(names))
	for _, n := range names {
		out = append(out, te.bindings[n])
	}
	return out
}

// copyBindings gives dst the bindings of te. A valid position splits each
// binding: keyframes after position move to dst.
func (te *TrackElement) copyBindings(dst *TrackElement, position time.Duration) {
	for _, b := range te.Bindings() {
		if IsValid(position) {
			dst.SetBinding(b.split(position))
		} else {
			dst.SetBinding(b.clone())
		}
	}
}

// copy creates an unplaced element with the same attributes.
func (te *TrackElement) copy() *TrackElement {
	prefix := te.kind.String()
	if te.kind == KindSource {
		prefix = te.trackType.String() + "source"
	}
	cp := newTrackElement(te.ctx, te.kind, te.trackType, prefix)
	cp.copyTimes(&te.element)
	cp.active = te.active
	cp.hasInternalSource = te.hasInternalSource
	cp.creatorAsset = te.creatorAsset
	cp.description = te.description
	return cp
}

// applyStart moves the whole clip when the change does not come from it:
// children always share the start of their clip.
func (te *TrackElement) applyStart(t time.Duration) (hookResult, error) {
	c, ok := te.clip()
	if !ok {
		return hookApply, nil
	}
	return hookHandled, c.SetStart(t)
}

func (te *TrackElement) applyDuration(d time.Duration) (hookResult, error) {
	c, ok := te.clip()
	if !ok {
		return hookApply, nil
	}
	return hookHandled, c.SetDuration(d)
}

func (te *TrackElement) applyInpoint(t time.Duration) error {
	if t != 0 && !te.hasInternalSource {
		return fmt.Errorf("%w: %s has no internal content for an in-point", ErrUnsupported, te.name)
	}
	if c, ok := te.clip(); ok {
		if err := c.canSetInpointOfChild(te, t); err != nil {
			return err
		}
	}
	return nil
}

func (te *TrackElement) applyMaxDuration(t time.Duration) error {
	if IsValid(t) && !te.hasInternalSource {
		return fmt.Errorf("%w: %s has no internal content for a max-duration", ErrUnsupported, te.name)
	}
	if c, ok := te.clip(); ok {
		if err := c.canSetMaxDurationOfChild(te, t); err != nil {
			return err
		}
	}
	return nil
}

func (te *TrackElement) applyPriority(p uint32) (hookResult, error) {
	if p < MinNLEPriority {
		p = MinNLEPriority
	}
	if p == te.priority {
		return hookHandled, nil
	}
	if c, ok := te.clip(); ok {
		if err := c.canSetPriorityOfChild(te, p); err != nil {
			return hookHandled, err
		}
	}
	te.priority = p
	te.notify(PropPriority)
	return hookHandled, nil
}

func (te *TrackElement) layerPriority() uint32 {
	if c, ok := te.clip(); ok {
		return c.LayerPriority()
	}
	return NoLayerPriority
}
