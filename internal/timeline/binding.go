package timeline

import (
	"fmt"
	"sort"
	"time"
)

// Interpolation selects how values between keyframes are computed.
type Interpolation int

const (
	InterpolateLinear Interpolation = iota
	InterpolateCubic
	InterpolateNone
)

// ParseInterpolation maps a script name to an Interpolation.
func ParseInterpolation(s string) (Interpolation, error) {
	switch s {
	case "linear", "":
		return InterpolateLinear, nil
	case "cubic":
		return InterpolateCubic, nil
	case "none":
		return InterpolateNone, nil
	}
	return InterpolateLinear, fmt.Errorf("unknown interpolation %q", s)
}

// Keyframe is a property value at an internal time of a track element.
type Keyframe struct {
	Time  time.Duration
	Value float64
}

// ControlBinding animates one property of a track element.
type ControlBinding struct {
	Property  string
	Mode      Interpolation
	Absolute  bool
	keyframes []Keyframe
}

// NewControlBinding builds a binding from keyframes in any order.
func NewControlBinding(property string, mode Interpolation, keyframes []Keyframe) *ControlBinding {
	b := &ControlBinding{Property: property, Mode: mode}
	for _, kf := range keyframes {
		b.Set(kf.Time, kf.Value)
	}
	return b
}

// Keyframes returns the keyframes in time order.
func (b *ControlBinding) Keyframes() []Keyframe {
	out := make([]Keyframe, len(b.keyframes))
	copy(out, b.keyframes)
	return out
}

// Set adds or replaces the keyframe at t.
func (b *ControlBinding) Set(t time.Duration, v float64) {
	i := sort.Search(len(b.keyframes), func(i int) bool { return b.keyframes[i].Time >= t })
	if i < len(b.keyframes) && b.keyframes[i].Time == t {
		b.keyframes[i].Value = v
		return
	}
	b.keyframes = append(b.keyframes, Keyframe{})
	copy(b.keyframes[i+1:], b.keyframes[i:])
	b.keyframes[i] = Keyframe{Time: t, Value: v}
}

// Unset removes the keyframe at t.
func (b *ControlBinding) Unset(t time.Duration) {
	for i, kf := range b.keyframes {
		if kf.Time == t {
			b.keyframes = append(b.keyframes[:i], b.keyframes[i+1:]...)
			return
		}
	}
}

// ValueAt interpolates the binding at t. Outside the keyframe range the
// nearest keyframe value is held.
func (b *ControlBinding) ValueAt(t time.Duration) (float64, bool) {
	n := len(b.keyframes)
	if n == 0 {
		return 0, false
	}
	if t <= b.keyframes[0].Time {
		return b.keyframes[0].Value, true
	}
	if t >= b.keyframes[n-1].Time {
		return b.keyframes[n-1].Value, true
	}
	for i := 0; i < n-1; i++ {
		prev, next := b.keyframes[i], b.keyframes[i+1]
		if t >= prev.Time && t < next.Time {
			return b.interpolate(prev, next, t), true
		}
	}
	return b.keyframes[n-1].Value, true
}

func (b *ControlBinding) interpolate(prev, next Keyframe, t time.Duration) float64 {
	if b.Mode == InterpolateNone {
		return prev.Value
	}
	delta := float64(next.Time - prev.Time)
	if delta == 0 {
		return next.Value
	}
	f := float64(t-prev.Time) / delta
	if b.Mode == InterpolateCubic {
		f = easeInOutCubic(f)
	}
	return lerp(prev.Value, next.Value, f)
}

// split moves every keyframe after position into a new binding, adding a
// keyframe at position to both halves.
func (b *ControlBinding) split(position time.Duration) *ControlBinding {
	nb := &ControlBinding{Property: b.Property, Mode: b.Mode, Absolute: b.Absolute}

	var last *Keyframe
	past := false
	kept := b.keyframes[:0:0]
	for i := range b.keyframes {
		kf := b.keyframes[i]
		switch {
		case kf.Time > position && !past:
			at := kf.Value
			if last != nil {
				at = b.interpolate(*last, kf, position)
			}
			past = true
			nb.keyframes = append(nb.keyframes, Keyframe{Time: position, Value: at}, kf)
			if last == nil || last.Time != position {
				kept = append(kept, Keyframe{Time: position, Value: at})
			}
		case past:
			nb.keyframes = append(nb.keyframes, kf)
		default:
			kept = append(kept, kf)
		}
		last = &b.keyframes[i]
	}
	b.keyframes = kept
	return nb
}

func (b *ControlBinding) clone() *ControlBinding {
	return &ControlBinding{Property: b.Property, Mode: b.Mode, Absolute: b.Absolute, keyframes: b.Keyframes()}
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	x := -2*t + 2
	return 1 - x*x*x/2
}
