package timeline

import "time"

// FindTransitionFunc returns the auto-transition between prev and next,
// given the current overlap duration of the two sources.
type FindTransitionFunc func(prev, next *TrackElement, duration time.Duration) (*AutoTransition, bool)

// Tree checks and performs edits on the geometry of a timeline. Offsets
// are current minus new values: a positive offset moves an edge earlier
// and a positive layer offset moves to a lower layer priority.
type Tree interface {
	TrackElement(el Element)
	StopTracking(el Element)

	// CanMove reports whether el fits at the given layer, start and
	// duration. It returns an error wrapping ErrGeometry otherwise.
	CanMove(el Element, layerPriority uint32, start, duration time.Duration) error
	Move(el Element, layerOffset int64, offset time.Duration, edge Edge, snap time.Duration) error
	Trim(el Element, layerOffset int64, offset time.Duration, edge Edge, snap time.Duration) error
	Ripple(el Element, layerOffset int64, offset time.Duration, edge Edge, snap time.Duration) error
	Roll(el Element, offset time.Duration, edge Edge, snap time.Duration) error

	// Duration is the largest end of the tracked sources.
	Duration() time.Duration
	CreateTransitions(find FindTransitionFunc)
	CreateTransitionsForElement(te *TrackElement, find FindTransitionFunc)
}
