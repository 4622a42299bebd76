package timeline

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Group binds clips and other groups so that edits move them together.
// Its extent covers its children and its layer priority is the lowest
// of theirs.
type Group struct {
	element

	children        []Element
	settingChildren guard
}

// NewGroup creates an empty group.
func NewGroup(ctx *Context) *Group {
	g := &Group{}
	g.init(ctx, KindGroup, g, g, "group")
	return g
}

// Children returns the direct children of the group.
func (g *Group) Children() []Element {
	out := make([]Element, len(g.children))
	copy(out, g.children)
	return out
}

// Add puts el in the group. el must be a clip or a group without parent,
// in the timeline of the group.
func (g *Group) Add(el Element) error {
	switch el.(type) {
	case *Clip, *Group:
	default:
		return fmt.Errorf("%w: a group only holds clips and groups, not %s", ErrPlacement, el.Name())
	}
	if el == Element(g) {
		return fmt.Errorf("%w: %s cannot hold itself", ErrPlacement, g.name)
	}
	if p, ok := el.Parent(); ok {
		return fmt.Errorf("%w: %s already belongs to %s", ErrOwnership, el.Name(), p.Name())
	}
	gTL, gHas := g.Timeline()
	elTL, elHas := el.Timeline()
	if gHas && (!elHas || elTL != gTL) {
		return fmt.Errorf("%w: %s is not in the timeline of %s", ErrPlacement, el.Name(), g.name)
	}

	g.children = append(g.children, el)
	el.base().setParent(g)
	g.ctx.bus.Subscribe(el.Handle(), g.handle, func(ev Event) {
		if ev.Kind != EventNotify || g.settingChildren.held() {
			return
		}
		if ev.Property == PropStart || ev.Property == PropDuration {
			g.updateExtent()
		}
	})
	g.updateExtent()
	g.ctx.bus.Publish(Event{Kind: EventChildAdded, Source: g.handle, Subject: el.Handle()})
	return nil
}

// Remove takes el out of the group. An emptied group leaves its timeline.
func (g *Group) Remove(el Element) error {
	idx := -1
	for i, c := range g.children {
		if c == el {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s is not in %s", ErrNotFound, el.Name(), g.name)
	}
	g.children = append(g.children[:idx], g.children[idx+1:]...)
	g.ctx.bus.Unsubscribe(el.Handle(), g.handle)
	el.base().setParent(nil)
	g.ctx.bus.Publish(Event{Kind: EventChildRemoved, Source: g.handle, Subject: el.Handle()})

	if len(g.children) == 0 {
		if tl, ok := g.Timeline(); ok {
			tl.removeGroup(g)
		}
		return nil
	}
	g.updateExtent()
	return nil
}

// Ungroup frees the children of the group and drops the group.
func (g *Group) Ungroup() []Element {
	children := g.Children()
	for _, el := range children {
		if err := g.Remove(el); err != nil {
			g.logger().Error("could not release group child", zap.String("child", el.Name()), zap.Error(err))
		}
	}
	if tl, ok := g.Timeline(); ok {
		tl.removeGroup(g)
	}
	g.ctx.release(g.handle)
	return children
}

func (g *Group) updateExtent() {
	if len(g.children) == 0 {
		return
	}
	start, end := time.Duration(math.MaxInt64), time.Duration(0)
	for _, el := range g.children {
		start = min(start, el.Start())
		end = max(end, el.End())
	}
	g.forceStart(start)
	g.forceDuration(end - start)
}

func (g *Group) applyStart(t time.Duration) (hookResult, error) {
	delta := t - g.start
	for _, el := range g.children {
		if el.Start()+delta < 0 {
			return hookHandled, fmt.Errorf("%w: moving %s would give %s a negative start", ErrInvalidTime, g.name, el.Name())
		}
	}
	defer g.settingChildren.hold()()
	for _, el := range g.children {
		if err := el.SetStart(el.Start() + delta); err != nil {
			return hookHandled, fmt.Errorf("moving %s: %w", el.Name(), err)
		}
	}
	return hookApply, nil
}

// applyDuration resizes the children that end with the group.
func (g *Group) applyDuration(d time.Duration) (hookResult, error) {
	delta := d - g.duration
	end := g.End()
	var trimmed []Element
	for _, el := range g.children {
		if el.End() != end {
			continue
		}
		if el.Duration()+delta < 0 {
			return hookHandled, fmt.Errorf("%w: resizing %s would give %s a negative duration", ErrInvalidTime, g.name, el.Name())
		}
		trimmed = append(trimmed, el)
	}
	defer g.settingChildren.hold()()
	for _, el := range trimmed {
		if err := el.SetDuration(el.Duration() + delta); err != nil {
			return hookHandled, fmt.Errorf("resizing %s: %w", el.Name(), err)
		}
	}
	return hookApply, nil
}

func (g *Group) applyInpoint(t time.Duration) error {
	return fmt.Errorf("%w: groups have no in-point", ErrUnsupported)
}

func (g *Group) applyMaxDuration(t time.Duration) error {
	if IsValid(t) {
		return fmt.Errorf("%w: groups have no max-duration", ErrUnsupported)
	}
	return nil
}

func (g *Group) applyPriority(p uint32) (hookResult, error) { return hookApply, nil }

func (g *Group) layerPriority() uint32 {
	prio := uint32(NoLayerPriority)
	for _, el := range g.children {
		prio = min(prio, el.LayerPriority())
	}
	return prio
}

// GroupElements groups els. Clips that only differ by their tracks are
// merged into one clip; anything else gets a new group, registered in the
// timeline of the elements.
func GroupElements(els []Element) (Element, error) {
	switch len(els) {
	case 0:
		return nil, fmt.Errorf("%w: nothing to group", ErrNotFound)
	case 1:
		return els[0], nil
	}

	clips := make([]*Clip, 0, len(els))
	for _, el := range els {
		if c, ok := el.(*Clip); ok {
			if _, hasParent := c.Parent(); !hasParent {
				clips = append(clips, c)
			}
		}
	}
	if len(clips) == len(els) {
		if c, err := groupClips(clips); err == nil {
			return c, nil
		}
	}

	tl, hasTL := els[0].Timeline()
	for _, el := range els[1:] {
		if other, ok := el.Timeline(); ok != hasTL || other != tl {
			return nil, fmt.Errorf("%w: %s is not in the timeline of %s", ErrPlacement, el.Name(), els[0].Name())
		}
	}

	g := NewGroup(els[0].base().ctx)
	for _, el := range els {
		if err := g.Add(el); err != nil {
			g.Ungroup()
			return nil, err
		}
	}
	if hasTL {
		if err := tl.addGroup(g); err != nil {
			g.Ungroup()
			return nil, err
		}
	}
	return g, nil
}
