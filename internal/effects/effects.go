// Package effects builds the effect assets added on top of clips. Every
// effect renders to an ffmpeg filter description.
package effects

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ivlev/nletimeline/internal/timeline"
)

// Params are the clip properties an effect filter is computed for.
type Params struct {
	Duration time.Duration
	Fade     time.Duration
	Outro    time.Duration
	FPS      int
	Width    int
	Height   int
	// Index is the position of the clip in its layer; it seeds random
	// choices so that filters are reproducible.
	Index     int
	ZoomMode  string
	ZoomSpeed float64
	Gain      float64
	Sigma     float64
}

func (p Params) withDefaults() Params {
	if p.FPS <= 0 {
		p.FPS = 30
	}
	if p.Width <= 0 || p.Height <= 0 {
		p.Width, p.Height = 1280, 720
	}
	return p
}

type Effect interface {
	TrackType() timeline.TrackType
	GenerateFilter(p Params) string
}

// Registry maps effect names to effects.
type Registry struct {
	mu      sync.RWMutex
	effects map[string]Effect
}

func NewRegistry() *Registry {
	return &Registry{effects: make(map[string]Effect)}
}

// Default returns a registry holding the built-in effects.
func Default() *Registry {
	r := NewRegistry()
	r.Register("zoompan", &ZoomPan{})
	r.Register("blur", &Blur{})
	r.Register("volume", &Volume{})
	r.Register("fadein", &Fade{In: true})
	r.Register("fadeout", &Fade{})
	r.Register("afadein", &Fade{In: true, Audio: true})
	r.Register("afadeout", &Fade{Audio: true})
	return r
}

func (r *Registry) Register(name string, e Effect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.effects[name] = e
}

func (r *Registry) Lookup(name string) (Effect, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.effects[name]
	return e, ok
}

// Names lists the registered effects in name order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.effects))
	for n := range r.effects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Asset builds the effect asset of name for a clip described by p.
func (r *Registry) Asset(name string, p Params) (*timeline.EffectAsset, error) {
	e, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: effect %q", timeline.ErrNotFound, name)
	}
	return &timeline.EffectAsset{
		Description: e.GenerateFilter(p.withDefaults()),
		TrackType:   e.TrackType(),
	}, nil
}

// Blur is a gaussian blur of the video.
type Blur struct{}

func (*Blur) TrackType() timeline.TrackType { return timeline.TrackVideo }

func (*Blur) GenerateFilter(p Params) string {
	sigma := p.Sigma
	if sigma <= 0 {
		sigma = 2
	}
	return fmt.Sprintf("gblur=sigma=%.2f", sigma)
}

// Volume scales the audio by Params.Gain.
type Volume struct{}

func (*Volume) TrackType() timeline.TrackType { return timeline.TrackAudio }

func (*Volume) GenerateFilter(p Params) string {
	gain := p.Gain
	if gain <= 0 {
		gain = 1
	}
	return fmt.Sprintf("volume=%.3f", gain)
}

// Fade fades the clip in from or out to black or silence over
// Params.Fade.
type Fade struct {
	In    bool
	Audio bool
}

func (f *Fade) TrackType() timeline.TrackType {
	if f.Audio {
		return timeline.TrackAudio
	}
	return timeline.TrackVideo
}

func (f *Fade) GenerateFilter(p Params) string {
	d := p.Fade
	if d <= 0 || d > p.Duration {
		d = p.Duration / 4
	}
	name := "fade"
	if f.Audio {
		name = "afade"
	}
	if f.In {
		return fmt.Sprintf("%s=t=in:st=0:d=%.3f", name, d.Seconds())
	}
	return fmt.Sprintf("%s=t=out:st=%.3f:d=%.3f", name, (p.Duration - d).Seconds(), d.Seconds())
}
