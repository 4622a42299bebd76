package timeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// EditMode selects how an edit propagates to neighbouring elements.
type EditMode int

const (
	EditNormal EditMode = iota
	EditRipple
	EditRoll
	EditTrim
	EditSlide
)

func (m EditMode) String() string {
	switch m {
	case EditNormal:
		return "normal"
	case EditRipple:
		return "ripple"
	case EditRoll:
		return "roll"
	case EditTrim:
		return "trim"
	case EditSlide:
		return "slide"
	}
	return "unknown"
}

// ParseEditMode maps a script name to an EditMode.
func ParseEditMode(s string) (EditMode, error) {
	switch s {
	case "normal", "move", "":
		return EditNormal, nil
	case "ripple":
		return EditRipple, nil
	case "roll":
		return EditRoll, nil
	case "trim":
		return EditTrim, nil
	case "slide":
		return EditSlide, nil
	}
	return EditNormal, fmt.Errorf("unknown edit mode %q", s)
}

// Edge selects which end of an element an edit targets.
type Edge int

const (
	EdgeStart Edge = iota
	EdgeEnd
	EdgeNone
)

func (e Edge) String() string {
	switch e {
	case EdgeStart:
		return "start"
	case EdgeEnd:
		return "end"
	case EdgeNone:
		return "none"
	}
	return "unknown"
}

// ParseEdge maps a script name to an Edge.
func ParseEdge(s string) (Edge, error) {
	switch s {
	case "start":
		return EdgeStart, nil
	case "end":
		return EdgeEnd, nil
	case "none", "":
		return EdgeNone, nil
	}
	return EdgeNone, fmt.Errorf("unknown edge %q", s)
}

// Element is the contract shared by clips, track elements and groups.
type Element interface {
	Handle() Handle
	Name() string
	SetName(name string) error

	Start() time.Duration
	Duration() time.Duration
	End() time.Duration
	Inpoint() time.Duration
	MaxDuration() time.Duration
	Priority() uint32
	LayerPriority() uint32

	SetStart(t time.Duration) error
	SetDuration(d time.Duration) error
	SetInpoint(t time.Duration) error
	SetMaxDuration(t time.Duration) error
	SetPriority(p uint32) error

	Timeline() (*Timeline, bool)
	Parent() (Element, bool)
	Toplevel() Element

	// BeingEdited reports whether the element (through its toplevel) is
	// inside an edit scope.
	BeingEdited() bool
	// BeginEdit opens an edit scope: start and duration setters of the
	// toplevel and its descendants apply directly instead of going through
	// the timeline. The returned func closes the scope.
	BeginEdit() func()
	Edit(newLayerPriority int64, mode EditMode, edge Edge, position time.Duration) error

	base() *element
	setTimeline(tl *Timeline) error
}

type hookResult int

const (
	// hookApply asks the base setter to store the value and notify.
	hookApply hookResult = iota
	// hookHandled means the hook already stored the value (or chose to
	// store nothing).
	hookHandled
)

// elementHooks lets the concrete element type validate and react to a
// change before the base setter stores it. An error rejects the change.
type elementHooks interface {
	applyStart(t time.Duration) (hookResult, error)
	applyDuration(d time.Duration) (hookResult, error)
	applyInpoint(t time.Duration) error
	applyMaxDuration(t time.Duration) error
	applyPriority(p uint32) (hookResult, error)
	layerPriority() uint32
}

type element struct {
	ctx    *Context
	handle Handle
	self   Element
	hooks  elementHooks

	name        string
	start       time.Duration
	duration    time.Duration
	inpoint     time.Duration
	maxDuration time.Duration
	priority    uint32

	timeline Handle
	parent   Handle

	edited guard
}

func (e *element) init(ctx *Context, kind Kind, self Element, hooks elementHooks, prefix string) {
	e.ctx = ctx
	e.self = self
	e.hooks = hooks
	e.handle = ctx.register(kind, self)
	e.name = ctx.nextName(prefix)
	e.maxDuration = NoTime
}

func (e *element) base() *element { return e }

func (e *element) Handle() Handle { return e.handle }

func (e *element) Name() string { return e.name }

func (e *element) Start() time.Duration { return e.start }

func (e *element) Duration() time.Duration { return e.duration }

func (e *element) End() time.Duration { return e.start + e.duration }

func (e *element) Inpoint() time.Duration { return e.inpoint }

func (e *element) MaxDuration() time.Duration { return e.maxDuration }

func (e *element) Priority() uint32 { return e.priority }

func (e *element) LayerPriority() uint32 { return e.hooks.layerPriority() }

// BeingEdited reports whether the element's toplevel is in an edit scope.
func (e *element) BeingEdited() bool { return e.Toplevel().base().edited.held() }

// BeginEdit opens an edit scope on the element's toplevel.
func (e *element) BeginEdit() func() { return e.Toplevel().base().edited.hold() }

func (e *element) Timeline() (*Timeline, bool) {
	return e.ctx.timeline(e.timeline)
}

func (e *element) Parent() (Element, bool) {
	return e.ctx.element(e.parent)
}

func (e *element) Toplevel() Element {
	var top Element = e.self
	for {
		p, ok := top.Parent()
		if !ok {
			return top
		}
		top = p
	}
}

func (e *element) notify(prop Property) {
	e.ctx.bus.Publish(Event{Kind: EventNotify, Source: e.handle, Property: prop})
}

func (e *element) logger() *zap.Logger {
	return e.ctx.log.With(zap.String("element", e.name))
}

// SetName renames the element. A name already used in the element's
// timeline is rejected.
func (e *element) SetName(name string) error {
	if name == "" || name == e.name {
		return nil
	}
	tl, inTimeline := e.Timeline()
	if inTimeline {
		if _, taken := tl.Element(name); taken {
			return fmt.Errorf("%w: %q", ErrNameCollision, name)
		}
		tl.unregisterName(e.self)
	}
	e.name = name
	e.ctx.bumpName(name)
	if inTimeline {
		if err := tl.registerName(e.self); err != nil {
			return err
		}
	}
	e.notify(PropName)
	return nil
}

func (e *element) SetStart(t time.Duration) error {
	if !IsValid(t) {
		return fmt.Errorf("%w: start %d of %s", ErrInvalidTime, t, e.name)
	}
	if e.start == t {
		return nil
	}
	if _, ok := e.Timeline(); ok && !e.BeingEdited() {
		return e.Edit(-1, EditNormal, EdgeNone, t)
	}

	res, err := e.hooks.applyStart(t)
	if err != nil {
		return err
	}
	if res == hookApply {
		e.start = t
		e.notify(PropStart)
	}
	return nil
}

func (e *element) SetDuration(d time.Duration) error {
	if !IsValid(d) {
		return fmt.Errorf("%w: duration %d of %s", ErrInvalidTime, d, e.name)
	}
	if e.duration == d {
		return nil
	}
	if _, ok := e.Timeline(); ok && !e.BeingEdited() {
		return e.Edit(-1, EditTrim, EdgeEnd, e.start+d)
	}

	res, err := e.hooks.applyDuration(d)
	if err != nil {
		return err
	}
	if res == hookApply {
		e.duration = d
		e.notify(PropDuration)
	}
	return nil
}

func (e *element) SetInpoint(t time.Duration) error {
	if !IsValid(t) {
		return fmt.Errorf("%w: in-point %d of %s", ErrInvalidTime, t, e.name)
	}
	if e.inpoint == t {
		return nil
	}
	if IsLess(e.maxDuration, t) {
		return fmt.Errorf("%w: in-point %s of %s exceeds max-duration %s",
			ErrNotEnoughContent, FormatTime(t), e.name, FormatTime(e.maxDuration))
	}
	if err := e.hooks.applyInpoint(t); err != nil {
		return err
	}
	e.inpoint = t
	e.notify(PropInpoint)
	return nil
}

func (e *element) SetMaxDuration(t time.Duration) error {
	if t < 0 {
		t = NoTime
	}
	if e.maxDuration == t {
		return nil
	}
	if IsLess(t, e.inpoint) {
		return fmt.Errorf("%w: max-duration %s of %s is below in-point %s",
			ErrNotEnoughContent, FormatTime(t), e.name, FormatTime(e.inpoint))
	}
	if err := e.hooks.applyMaxDuration(t); err != nil {
		return err
	}
	e.maxDuration = t
	e.notify(PropMaxDuration)
	return nil
}

func (e *element) SetPriority(p uint32) error {
	res, err := e.hooks.applyPriority(p)
	if err != nil {
		return err
	}
	if res == hookApply {
		e.priority = p
		e.notify(PropPriority)
	}
	return nil
}

// Edit performs an edit through the element's timeline. A negative
// newLayerPriority keeps the current layer.
func (e *element) Edit(newLayerPriority int64, mode EditMode, edge Edge, position time.Duration) error {
	tl, ok := e.Timeline()
	if !ok {
		return fmt.Errorf("%w: %s is not in a timeline", ErrUnsupported, e.name)
	}
	if !IsValid(position) {
		return fmt.Errorf("%w: edit position %d", ErrInvalidTime, position)
	}
	if newLayerPriority < 0 {
		newLayerPriority = int64(e.self.LayerPriority())
	}
	return tl.Edit(e.self, newLayerPriority, mode, edge, position)
}

// setTimeline registers the element in tl (or unregisters it for nil).
func (e *element) setTimeline(tl *Timeline) error {
	cur, has := e.Timeline()
	if has && cur == tl {
		return nil
	}
	if has {
		cur.removeElement(e.self)
		e.timeline = Handle{}
	}
	if tl == nil {
		return nil
	}
	if err := tl.addElement(e.self); err != nil {
		return err
	}
	e.timeline = tl.handle
	return nil
}

func (e *element) setParent(parent Element) {
	if parent == nil {
		e.parent = Handle{}
		return
	}
	e.parent = parent.Handle()
}

// forceStart stores t without routing or hooks.
func (e *element) forceStart(t time.Duration) {
	if e.start != t {
		e.start = t
		e.notify(PropStart)
	}
}

// forceDuration stores d without routing or hooks.
func (e *element) forceDuration(d time.Duration) {
	if e.duration != d {
		e.duration = d
		e.notify(PropDuration)
	}
}

// copyTimes copies the time attributes of src.
func (e *element) copyTimes(src *element) {
	e.start = src.start
	e.duration = src.duration
	e.inpoint = src.inpoint
	e.maxDuration = src.maxDuration
	e.priority = src.priority
}
