package tree

import (
	"fmt"
	"time"

	"github.com/ivlev/nletimeline/internal/timeline"
)

type editMode int

const (
	editMove editMode = iota
	editTrimStart
	editTrimEnd
	editTrimInpointOnly
)

func (m editMode) String() string {
	switch m {
	case editMove:
		return "move"
	case editTrimStart:
		return "trim-start"
	case editTrimEnd:
		return "trim-end"
	case editTrimInpointOnly:
		return "trim-inpoint"
	}
	return "unknown"
}

// edit holds the offsets of one element edit and, once computed, the values
// it ends with. Unset values are NoTime or NoLayerPriority.
type edit struct {
	mode        editMode
	offset      time.Duration
	layerOffset int64

	start         time.Duration
	duration      time.Duration
	inpoint       time.Duration
	layerPriority uint32
}

func newEdit(mode editMode) *edit {
	return &edit{
		mode:          mode,
		start:         timeline.NoTime,
		duration:      timeline.NoTime,
		inpoint:       timeline.NoTime,
		layerPriority: timeline.NoLayerPriority,
	}
}

// edits is an insertion ordered edit table.
type edits struct {
	order []timeline.Element
	data  map[timeline.Element]*edit
}

func newEdits() *edits {
	return &edits{data: make(map[timeline.Element]*edit)}
}

func (e *edits) add(el timeline.Element, mode editMode) error {
	switch el.(type) {
	case *timeline.Clip, *timeline.Group, *timeline.TrackElement:
	default:
		return fmt.Errorf("%w: cannot edit %s", timeline.ErrUnsupported, el.Name())
	}
	return e.insert(el, newEdit(mode))
}

func (e *edits) insert(el timeline.Element, ed *edit) error {
	if _, dup := e.data[el]; dup {
		return fmt.Errorf("%w: %s is already set to be edited", timeline.ErrGeometry, el.Name())
	}
	e.data[el] = ed
	e.order = append(e.order, el)
	return nil
}

func (e *edits) remove(el timeline.Element) {
	delete(e.data, el)
	for i, x := range e.order {
		if x == el {
			e.order = append(e.order[:i], e.order[i+1:]...)
			return
		}
	}
}

func (e *edits) lookup(el timeline.Element) (*edit, bool) {
	ed, ok := e.data[el]
	return ed, ok
}

func (e *edits) elements() []timeline.Element {
	out := make([]timeline.Element, len(e.order))
	copy(out, e.order)
	return out
}

func (e *edits) giveSameOffset(offset time.Duration, layerOffset int64) {
	for _, ed := range e.data {
		ed.offset = offset
		ed.layerOffset = layerOffset
	}
}

// setValues computes the values of every edit. Group edits are replaced by
// edits of the clips they hold and clip trims may add in-point edits of
// their non-core children.
func (e *edits) setValues() error {
	for _, el := range e.elements() {
		ed, ok := e.lookup(el)
		if !ok {
			return fmt.Errorf("%w: no edit data for %s", timeline.ErrNotFound, el.Name())
		}
		var err error
		if g, isGroup := el.(*timeline.Group); isGroup {
			err = e.replaceGroup(g, ed)
		} else {
			err = setEditValues(el, ed, e)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func setEditValues(el timeline.Element, ed *edit, table *edits) error {
	switch ed.mode {
	case editMove:
		return setMoveValues(el, ed)
	case editTrimStart:
		return setTrimStartValues(el, ed, table)
	case editTrimEnd:
		return setTrimEndValues(el, ed)
	}
	return fmt.Errorf("%w: %s edits are computed by their clip", timeline.ErrUnsupported, ed.mode)
}

func setLayerPriority(el timeline.Element, ed *edit) error {
	if ed.layerOffset == 0 {
		return nil
	}
	prio := el.LayerPriority()
	if prio == timeline.NoLayerPriority {
		return fmt.Errorf("%w: %s has no layer to move from", timeline.ErrGeometry, el.Name())
	}
	if ed.layerOffset > int64(prio) {
		return fmt.Errorf("%w: %s would have a negative layer priority of -%d",
			timeline.ErrGeometry, el.Name(), ed.layerOffset-int64(prio))
	}
	newPrio := int64(prio) - ed.layerOffset
	if newPrio >= timeline.NoLayerPriority {
		return fmt.Errorf("%w: %s would overflow the layer priority", timeline.ErrGeometry, el.Name())
	}
	ed.layerPriority = uint32(newPrio)
	if tl, ok := el.Timeline(); ok && tl.LayerPriorityInGap(ed.layerPriority) {
		return fmt.Errorf("%w: layer %d of %s is within a gap of the timeline layers",
			timeline.ErrGeometry, ed.layerPriority, el.Name())
	}
	return nil
}

func setMoveValues(el timeline.Element, ed *edit) error {
	start := el.Start() - ed.offset
	if start < 0 {
		return fmt.Errorf("%w: %s would have a negative start of -%s",
			timeline.ErrGeometry, el.Name(), timeline.FormatTime(-start))
	}
	ed.start = start
	if _, isGroup := el.(*timeline.Group); isGroup {
		return nil
	}
	return setLayerPriority(el, ed)
}

func setTrimStartValues(el timeline.Element, ed *edit, table *edits) error {
	start := el.Start() - ed.offset
	if start < 0 {
		return fmt.Errorf("%w: %s would have a negative start of -%s",
			timeline.ErrGeometry, el.Name(), timeline.FormatTime(-start))
	}
	duration := el.Duration() + ed.offset
	if duration < 0 {
		return fmt.Errorf("%w: %s would have a negative duration of -%s",
			timeline.ErrGeometry, el.Name(), timeline.FormatTime(-duration))
	}
	ed.start = start
	ed.duration = duration

	switch x := el.(type) {
	case *timeline.Group:
		return nil
	case *timeline.Clip:
		if err := setTrimStartInpoints(x, ed, table); err != nil {
			return err
		}
	case *timeline.TrackElement:
		if x.HasInternalSource() && x.Inpoint()-ed.offset < 0 {
			return fmt.Errorf("%w: %s would have a negative in-point of -%s",
				timeline.ErrGeometry, el.Name(), timeline.FormatTime(ed.offset-x.Inpoint()))
		}
	}
	return setLayerPriority(el, ed)
}

// setTrimStartInpoints moves the in-points of the clip and of its active
// non-core children so that their content stays in place.
func setTrimStartInpoints(c *timeline.Clip, ed *edit, table *edits) error {
	inpoint, noCore, err := c.CoreInternalTimeFromTimelineTime(ed.start)
	switch {
	case noCore:
		inpoint = c.Inpoint()
	case !timeline.IsValid(inpoint):
		return fmt.Errorf("%w: trimming the start of %s to %s gives its core children an invalid in-point: %w",
			timeline.ErrGeometry, c.Name(), timeline.FormatTime(ed.start), err)
	default:
		ed.inpoint = inpoint
	}

	inpoints := make(map[*timeline.TrackElement]time.Duration)
	for _, child := range c.Children() {
		childInpoint := child.Inpoint()
		if child.HasInternalSource() {
			switch {
			case child.IsCore():
				childInpoint = inpoint
			case child.IsActive():
				if table == nil {
					break
				}
				childInpoint = child.Inpoint() + ed.start - c.Start()
				if childInpoint < 0 {
					return fmt.Errorf("%w: trimming the start of %s to %s gives %s a negative in-point",
						timeline.ErrGeometry, c.Name(), timeline.FormatTime(ed.start), child.Name())
				}
				childEdit := newEdit(editTrimInpointOnly)
				childEdit.inpoint = childInpoint
				if err := table.insert(child, childEdit); err != nil {
					return err
				}
			}
		}
		if timeline.IsLess(child.MaxDuration(), childInpoint) {
			return fmt.Errorf("%w: in-point %s of %s would exceed its max-duration %s",
				timeline.ErrNotEnoughContent, timeline.FormatTime(childInpoint), child.Name(),
				timeline.FormatTime(child.MaxDuration()))
		}
		inpoints[child] = childInpoint
	}

	if limit := c.DurationLimitWithInpoints(inpoints); timeline.IsLess(limit, ed.duration) {
		return fmt.Errorf("%w: duration %s of %s would exceed its duration-limit %s",
			timeline.ErrNotEnoughContent, timeline.FormatTime(ed.duration), c.Name(), timeline.FormatTime(limit))
	}
	return nil
}

func setTrimEndValues(el timeline.Element, ed *edit) error {
	duration := el.Duration() - ed.offset
	if duration < 0 {
		return fmt.Errorf("%w: %s would have a negative duration of -%s",
			timeline.ErrGeometry, el.Name(), timeline.FormatTime(-duration))
	}
	if c, ok := el.(*timeline.Clip); ok {
		if limit := c.DurationLimit(); timeline.IsLess(limit, duration) {
			return fmt.Errorf("%w: duration %s of %s would exceed its duration-limit %s",
				timeline.ErrNotEnoughContent, timeline.FormatTime(duration), c.Name(), timeline.FormatTime(limit))
		}
	}
	ed.duration = duration
	if _, isGroup := el.(*timeline.Group); isGroup {
		return nil
	}
	return setLayerPriority(el, ed)
}

// replaceGroup turns the edit of g into edits of the clips it holds: a
// move moves them all, a trim only reaches the clips at the trimmed edge,
// and a layer change moves the others without shifting them.
func (e *edits) replaceGroup(g *timeline.Group, ed *edit) error {
	ed.start = g.Start()
	ed.duration = g.Duration()
	if err := setEditValues(g, ed, nil); err != nil {
		return err
	}
	newStart := ed.start
	newEnd := ed.start + ed.duration

	clips := clipsUnder(g)
	if len(clips) == 0 {
		return fmt.Errorf("%w: group %s holds no clip to edit", timeline.ErrGeometry, g.Name())
	}
	e.remove(g)

	for _, c := range clips {
		mode := ed.mode
		var offset time.Duration
		switch {
		case ed.mode == editMove:
			offset = g.Start() - newStart
		case ed.mode == editTrimStart && (c.Start() <= newStart || c.Start() == g.Start()):
			offset = c.Start() - newStart
		case ed.mode == editTrimEnd && (c.End() >= newEnd || c.End() == g.End()):
			offset = c.End() - newEnd
		case ed.layerOffset != 0:
			mode = editMove
			offset = 0
		default:
			continue
		}

		clipEdit := newEdit(mode)
		clipEdit.offset = offset
		clipEdit.layerOffset = ed.layerOffset
		if err := e.insert(c, clipEdit); err != nil {
			return err
		}
		if err := setEditValues(c, clipEdit, e); err != nil {
			return err
		}
	}
	return nil
}
