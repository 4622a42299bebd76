package timeline

import (
	"fmt"
	"sync"
)

// Kind identifies what an arena entry holds.
type Kind uint8

const (
	KindNone Kind = iota
	KindTimeline
	KindLayer
	KindTrack
	KindClip
	KindTrackElement
	KindGroup
	KindAutoTransition
)

var kindNames = map[Kind]string{
	KindNone:           "none",
	KindTimeline:       "timeline",
	KindLayer:          "layer",
	KindTrack:          "track",
	KindClip:           "clip",
	KindTrackElement:   "track-element",
	KindGroup:          "group",
	KindAutoTransition: "auto-transition",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Handle is a generational reference into the context arena. Back
// references (clip to layer, track element to track, element to timeline)
// are stored as handles so a dropped owner is detected on lookup.
type Handle struct {
	kind  Kind
	index uint32
	gen   uint32
}

// IsZero reports whether h refers to nothing.
func (h Handle) IsZero() bool { return h.gen == 0 }

// Kind returns the kind of entity h refers to.
func (h Handle) Kind() Kind { return h.kind }

func (h Handle) String() string {
	if h.IsZero() {
		return "handle(nil)"
	}
	return fmt.Sprintf("%s#%d.%d", h.kind, h.index, h.gen)
}

type slot struct {
	gen   uint32
	value any
}

// arena stores entities by index. A released slot bumps its generation so
// stale handles stop resolving. Generation 0 is never issued.
type arena struct {
	mu    sync.RWMutex
	slots []slot
	free  []uint32
}

func (a *arena) insert(kind Kind, v any) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.value = v
		return Handle{kind: kind, index: idx, gen: s.gen}
	}
	a.slots = append(a.slots, slot{gen: 1, value: v})
	return Handle{kind: kind, index: uint32(len(a.slots) - 1), gen: 1}
}

func (a *arena) get(h Handle) (any, bool) {
	if h.IsZero() {
		return nil, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	if int(h.index) >= len(a.slots) {
		return nil, false
	}
	s := a.slots[h.index]
	if s.gen != h.gen || s.value == nil {
		return nil, false
	}
	return s.value, true
}

func (a *arena) release(h Handle) bool {
	if h.IsZero() {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if int(h.index) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.index]
	if s.gen != h.gen || s.value == nil {
		return false
	}
	s.value = nil
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	a.free = append(a.free, h.index)
	return true
}

func (a *arena) len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots) - len(a.free)
}
