package timeline

import "sync"

// EventKind classifies bus events.
type EventKind int

const (
	// EventNotify reports that Property of Source changed.
	EventNotify EventKind = iota
	EventChildAdded
	EventChildRemoved
	EventClipAdded
	EventClipRemoved
	EventLayerAdded
	EventLayerRemoved
	EventTrackAdded
	EventTrackRemoved
	EventTrackElementAdded
	EventTrackElementRemoved
	EventGroupAdded
	EventGroupRemoved
	EventCommitted
	// EventSnapped is published on the timeline when an edit snapped to
	// the edge of Subject.
	EventSnapped
)

func (k EventKind) String() string {
	switch k {
	case EventNotify:
		return "notify"
	case EventChildAdded:
		return "child-added"
	case EventChildRemoved:
		return "child-removed"
	case EventClipAdded:
		return "clip-added"
	case EventClipRemoved:
		return "clip-removed"
	case EventLayerAdded:
		return "layer-added"
	case EventLayerRemoved:
		return "layer-removed"
	case EventTrackAdded:
		return "track-added"
	case EventTrackRemoved:
		return "track-removed"
	case EventTrackElementAdded:
		return "track-element-added"
	case EventTrackElementRemoved:
		return "track-element-removed"
	case EventGroupAdded:
		return "group-added"
	case EventGroupRemoved:
		return "group-removed"
	case EventCommitted:
		return "committed"
	case EventSnapped:
		return "snapped"
	}
	return "unknown"
}

// Property names carried by EventNotify.
type Property string

const (
	PropStart             Property = "start"
	PropDuration          Property = "duration"
	PropInpoint           Property = "in-point"
	PropMaxDuration       Property = "max-duration"
	PropPriority          Property = "priority"
	PropName              Property = "name"
	PropTrack             Property = "track"
	PropActive            Property = "active"
	PropHasInternalSource Property = "has-internal-source"
	PropDurationLimit     Property = "duration-limit"
	PropLayer             Property = "layer"
	PropSupportedFormats  Property = "supported-formats"
	PropAutoTransition    Property = "auto-transition"
	PropTimelineDuration  Property = "duration"
)

// Event is delivered synchronously to the subscribers of Source. Subject
// is the added or removed entity for structural events.
type Event struct {
	Kind     EventKind
	Source   Handle
	Property Property
	Subject  Handle
}

// Handler receives bus events.
type Handler func(Event)

type subscription struct {
	owner Handle
	fn    Handler
	dead  bool
}

// Bus routes events from a source handle to its subscribers, in
// subscription order. Handlers run outside the bus lock and may publish.
type Bus struct {
	mu   sync.Mutex
	subs map[Handle][]*subscription
}

func newBus() *Bus {
	return &Bus{subs: make(map[Handle][]*subscription)}
}

// Subscribe registers fn for events published by source. owner identifies
// the subscriber for Unsubscribe.
func (b *Bus) Subscribe(source, owner Handle, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[source] = append(b.subs[source], &subscription{owner: owner, fn: fn})
}

// Unsubscribe drops every handler that owner registered on source.
func (b *Bus) Unsubscribe(source, owner Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[source]
	kept := list[:0]
	for _, s := range list {
		if s.owner == owner {
			s.dead = true
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		delete(b.subs, source)
		return
	}
	b.subs[source] = kept
}

// Drop removes every subscription on source.
func (b *Bus) Drop(source Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[source] {
		s.dead = true
	}
	delete(b.subs, source)
}

// Publish delivers ev to the current subscribers of ev.Source.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	list := make([]*subscription, len(b.subs[ev.Source]))
	copy(list, b.subs[ev.Source])
	b.mu.Unlock()

	for _, s := range list {
		b.mu.Lock()
		dead := s.dead
		b.mu.Unlock()
		if dead {
			continue
		}
		s.fn(ev)
	}
}
