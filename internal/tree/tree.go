// Package tree checks and performs the edits of a timeline: it knows every
// element placed in the timeline and refuses geometries where sources of a
// track and layer fully overlap or where three of them overlap.
package tree

import (
	"time"

	"github.com/ivlev/nletimeline/internal/timeline"
	"go.uber.org/zap"
)

// Tree tracks the elements of one timeline.
type Tree struct {
	log      *zap.Logger
	elements []timeline.Element
	tracked  map[timeline.Element]bool
}

var _ timeline.Tree = (*Tree)(nil)

// New creates an empty tree. A nil logger is replaced by zap.NewNop.
func New(log *zap.Logger) *Tree {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tree{
		log:     log.Named("tree"),
		tracked: make(map[timeline.Element]bool),
	}
}

// TrackElement starts tracking el.
func (t *Tree) TrackElement(el timeline.Element) {
	if t.tracked[el] {
		return
	}
	t.tracked[el] = true
	t.elements = append(t.elements, el)
}

// StopTracking forgets el.
func (t *Tree) StopTracking(el timeline.Element) {
	if !t.tracked[el] {
		return
	}
	delete(t.tracked, el)
	for i, x := range t.elements {
		if x == el {
			t.elements = append(t.elements[:i], t.elements[i+1:]...)
			return
		}
	}
}

// Len returns the number of tracked elements.
func (t *Tree) Len() int { return len(t.elements) }

// Toplevels returns the tracked elements without parent.
func (t *Tree) Toplevels() []timeline.Element {
	var out []timeline.Element
	for _, el := range t.elements {
		if _, ok := el.Parent(); !ok {
			out = append(out, el)
		}
	}
	return out
}

// leaves returns the tracked track elements and the tracked containers
// without children.
func (t *Tree) leaves() []timeline.Element {
	var out []timeline.Element
	for _, el := range t.elements {
		switch x := el.(type) {
		case *timeline.TrackElement:
			out = append(out, x)
		case *timeline.Clip:
			if len(x.Children()) == 0 {
				out = append(out, x)
			}
		case *timeline.Group:
			if len(x.Children()) == 0 {
				out = append(out, x)
			}
		}
	}
	return out
}

// sources returns the tracked source elements in tracking order.
func (t *Tree) sources() []*timeline.TrackElement {
	var out []*timeline.TrackElement
	for _, el := range t.elements {
		if te, ok := asSource(el); ok {
			out = append(out, te)
		}
	}
	return out
}

// Duration is the largest end of the tracked leaves.
func (t *Tree) Duration() time.Duration {
	var d time.Duration
	for _, el := range t.leaves() {
		d = max(d, el.End())
	}
	return d
}

func asSource(el timeline.Element) (*timeline.TrackElement, bool) {
	te, ok := el.(*timeline.TrackElement)
	if !ok || !te.IsSource() {
		return nil, false
	}
	return te, true
}

// trackElementsUnder returns the track elements at or below el.
func trackElementsUnder(el timeline.Element) []*timeline.TrackElement {
	switch x := el.(type) {
	case *timeline.TrackElement:
		return []*timeline.TrackElement{x}
	case *timeline.Clip:
		return x.Children()
	case *timeline.Group:
		var out []*timeline.TrackElement
		for _, child := range x.Children() {
			out = append(out, trackElementsUnder(child)...)
		}
		return out
	}
	return nil
}

func sourcesUnder(el timeline.Element) []*timeline.TrackElement {
	var out []*timeline.TrackElement
	for _, te := range trackElementsUnder(el) {
		if te.IsSource() {
			out = append(out, te)
		}
	}
	return out
}

// clipsUnder returns the clips at or below el, in child order.
func clipsUnder(el timeline.Element) []*timeline.Clip {
	switch x := el.(type) {
	case *timeline.Clip:
		return []*timeline.Clip{x}
	case *timeline.Group:
		var out []*timeline.Clip
		for _, child := range x.Children() {
			out = append(out, clipsUnder(child)...)
		}
		return out
	}
	return nil
}

func isDescendant(el, ancestor timeline.Element) bool {
	for {
		p, ok := el.Parent()
		if !ok {
			return false
		}
		if p == ancestor {
			return true
		}
		el = p
	}
}

// parentOrSelf returns the clip of a track element, or el itself.
func parentOrSelf(el timeline.Element) timeline.Element {
	if p, ok := el.Parent(); ok {
		return p
	}
	return el
}

// replaceTrackElementWithClip edits the clip of a track element instead of
// the element.
func replaceTrackElementWithClip(el timeline.Element) timeline.Element {
	if te, ok := el.(*timeline.TrackElement); ok {
		if c, ok := te.Clip(); ok {
			return c
		}
	}
	return el
}

func edgeValue(el timeline.Element, edge timeline.Edge) time.Duration {
	if edge == timeline.EdgeEnd {
		return el.End()
	}
	return el.Start()
}
