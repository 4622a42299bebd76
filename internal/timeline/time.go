package timeline

import (
	"fmt"
	"math"
	"time"
)

// NoTime marks an unset time value: an unbounded max-duration or an
// absent duration-limit.
const NoTime = time.Duration(-1)

// NoLayerPriority is the layer priority of an element that is not in a layer.
const NoLayerPriority = math.MaxUint32

// IsValid reports whether t is a usable time value.
func IsValid(t time.Duration) bool {
	return t >= 0
}

// IsLess reports whether both values are valid and a < b.
func IsLess(a, b time.Duration) bool {
	return IsValid(a) && IsValid(b) && a < b
}

// minTime returns the smaller of two times, treating NoTime as unbounded.
func minTime(a, b time.Duration) time.Duration {
	if !IsValid(a) {
		return b
	}
	if !IsValid(b) {
		return a
	}
	if a < b {
		return a
	}
	return b
}

// FormatTime renders a timeline time the way the CLI and logs show it.
func FormatTime(t time.Duration) string {
	if !IsValid(t) {
		return "none"
	}
	h := t / time.Hour
	m := (t % time.Hour) / time.Minute
	s := (t % time.Minute) / time.Second
	ms := (t % time.Second) / time.Millisecond
	return fmt.Sprintf("%d:%02d:%02d.%03d", h, m, s, ms)
}
