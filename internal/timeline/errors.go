package timeline

import "errors"

var (
	// ErrPlacement is returned when a track element cannot be placed in or
	// removed from a track, or a child cannot join a clip.
	ErrPlacement = errors.New("illegal placement")
	// ErrGeometry is returned by the tree when an edit would produce an
	// illegal overlap or a negative time.
	ErrGeometry = errors.New("illegal timeline geometry")
	// ErrOwnership is returned when an entity already belongs elsewhere.
	ErrOwnership = errors.New("owned by another container")
	// ErrNameCollision is returned when a name is already registered in
	// the timeline.
	ErrNameCollision = errors.New("name already used in timeline")
	ErrNotFound      = errors.New("not found")
	ErrUnsupported   = errors.New("unsupported operation")
	ErrInvalidTime   = errors.New("invalid time")
	// ErrNotEnoughContent is returned when a duration would exceed the
	// internal content available to a clip.
	ErrNotEnoughContent = errors.New("not enough internal content")
	// ErrRejected is returned when a parent vetoes a change of one of
	// its children.
	ErrRejected = errors.New("change rejected by parent")
)
