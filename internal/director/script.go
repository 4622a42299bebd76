// Package director reads edit scripts and plays them against a timeline.
package director

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/nletimeline/internal/timeline"
)

// Script is a sequence of edits applied to a project.
type Script struct {
	Version string   `yaml:"version"`
	Tracks  []string `yaml:"tracks,omitempty"`
	// Layers is the number of layers created before the first step.
	Layers int    `yaml:"layers,omitempty"`
	Steps  []Step `yaml:"steps"`
}

// Op names a script step.
type Op string

const (
	OpAdd            Op = "add"
	OpEdit           Op = "edit"
	OpSet            Op = "set"
	OpMoveLayer      Op = "move_layer"
	OpSplit          Op = "split"
	OpPaste          Op = "paste"
	OpGroup          Op = "group"
	OpUngroup        Op = "ungroup"
	OpEffect         Op = "effect"
	OpEffectIndex    Op = "effect_index"
	OpBind           Op = "bind"
	OpRemove         Op = "remove"
	OpAutoTransition Op = "auto_transition"
	OpSnapping       Op = "snapping"
	OpCommit         Op = "commit"
	OpFreezeCommit   Op = "freeze_commit"
	OpThawCommit     Op = "thaw_commit"
)

// Step is one edit. Which fields apply depends on Op.
type Step struct {
	Op   Op     `yaml:"op"`
	Name string `yaml:"name,omitempty"`
	// As names the element the step creates.
	As    string   `yaml:"as,omitempty"`
	Names []string `yaml:"names,omitempty"`

	Asset    *AssetSpec `yaml:"asset,omitempty"`
	Layer    *int64     `yaml:"layer,omitempty"`
	Start    *Seconds   `yaml:"start,omitempty"`
	Inpoint  Seconds    `yaml:"inpoint,omitempty"`
	Duration Seconds    `yaml:"duration,omitempty"`
	Formats  string     `yaml:"formats,omitempty"`

	Mode     string  `yaml:"mode,omitempty"`
	Edge     string  `yaml:"edge,omitempty"`
	Position Seconds `yaml:"position,omitempty"`

	// Property and Value drive "set" and "bind". Times are in seconds.
	Property      string        `yaml:"property,omitempty"`
	Value         float64       `yaml:"value,omitempty"`
	Keyframes     []KeyframeRow `yaml:"keyframes,omitempty"`
	Interpolation string        `yaml:"interpolation,omitempty"`

	Effect string  `yaml:"effect,omitempty"`
	Index  *int    `yaml:"index,omitempty"`
	Gain   float64 `yaml:"gain,omitempty"`
	Sigma  float64 `yaml:"sigma,omitempty"`
	Zoom   string  `yaml:"zoom,omitempty"`

	Enabled *bool `yaml:"enabled,omitempty"`
	// Expect names the error the step must fail with, such as "geometry".
	Expect string `yaml:"expect,omitempty"`
}

// AssetSpec describes the clip asset of an "add" step.
type AssetSpec struct {
	URI         string  `yaml:"uri,omitempty"`
	Variant     string  `yaml:"variant,omitempty"`
	Formats     string  `yaml:"formats,omitempty"`
	MaxDuration Seconds `yaml:"max_duration,omitempty"`
	Duration    Seconds `yaml:"duration,omitempty"`
	Description string  `yaml:"description,omitempty"`
}

// KeyframeRow is one keyframe of a "bind" step.
type KeyframeRow struct {
	Time  Seconds `yaml:"time"`
	Value float64 `yaml:"value"`
}

// Seconds is a script time in seconds.
type Seconds float64

func (s Seconds) Duration() time.Duration {
	return time.Duration(math.Round(float64(s) * float64(time.Second)))
}

// FromDuration converts a timeline time to script seconds.
func FromDuration(d time.Duration) Seconds { return Seconds(d.Seconds()) }

// ClipAsset builds the timeline asset described by a.
func (a *AssetSpec) ClipAsset() (*timeline.ClipAsset, error) {
	variant, err := timeline.ParseClipVariant(a.Variant)
	if err != nil {
		return nil, err
	}
	formats := timeline.TrackVideo
	if a.Formats != "" {
		if formats, err = timeline.ParseTrackType(a.Formats); err != nil {
			return nil, err
		}
	}
	return &timeline.ClipAsset{
		URI:         a.URI,
		Variant:     variant,
		Formats:     formats,
		MaxDuration: a.MaxDuration.Duration(),
		Duration:    a.Duration.Duration(),
		Description: a.Description,
	}, nil
}

var expectedErrors = map[string]error{
	"placement":          timeline.ErrPlacement,
	"geometry":           timeline.ErrGeometry,
	"ownership":          timeline.ErrOwnership,
	"name_collision":     timeline.ErrNameCollision,
	"not_found":          timeline.ErrNotFound,
	"unsupported":        timeline.ErrUnsupported,
	"invalid_time":       timeline.ErrInvalidTime,
	"not_enough_content": timeline.ErrNotEnoughContent,
	"rejected":           timeline.ErrRejected,
}

// Validate checks that every step names a known op with the fields it
// needs. It does not touch any timeline.
func (s *Script) Validate() error {
	var errs []error
	if s.Layers < 0 {
		errs = append(errs, errors.New("layers must not be negative"))
	}
	for _, tr := range s.Tracks {
		if _, err := timeline.ParseTrackType(tr); err != nil {
			errs = append(errs, fmt.Errorf("tracks: %w", err))
		}
	}
	for i, st := range s.Steps {
		if err := st.validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i+1, st.Op, err))
		}
	}
	return errors.Join(errs...)
}

func (st *Step) validate() error {
	needName := func() error {
		if st.Name == "" {
			return errors.New("name is required")
		}
		return nil
	}
	if st.Expect != "" {
		if _, ok := expectedErrors[st.Expect]; !ok {
			return fmt.Errorf("unknown expected error %q", st.Expect)
		}
	}

	switch st.Op {
	case OpAdd:
		if st.Asset == nil {
			return errors.New("asset is required")
		}
		if st.Layer == nil {
			return errors.New("layer is required")
		}
	case OpEdit:
		if _, err := timeline.ParseEditMode(st.Mode); err != nil {
			return err
		}
		if _, err := timeline.ParseEdge(st.Edge); err != nil {
			return err
		}
		return needName()
	case OpSet:
		switch st.Property {
		case "start", "duration", "inpoint", "max_duration", "priority":
		default:
			return fmt.Errorf("unknown property %q", st.Property)
		}
		return needName()
	case OpMoveLayer:
		if st.Layer == nil {
			return errors.New("layer is required")
		}
		return needName()
	case OpSplit, OpPaste, OpUngroup, OpRemove:
		return needName()
	case OpGroup:
		if len(st.Names) == 0 {
			return errors.New("names are required")
		}
	case OpEffect:
		if st.Effect == "" {
			return errors.New("effect is required")
		}
		return needName()
	case OpEffectIndex:
		if st.Index == nil {
			return errors.New("index is required")
		}
		return needName()
	case OpBind:
		if st.Property == "" || len(st.Keyframes) == 0 {
			return errors.New("property and keyframes are required")
		}
		if _, err := timeline.ParseInterpolation(st.Interpolation); err != nil {
			return err
		}
		return needName()
	case OpAutoTransition:
		if st.Enabled == nil {
			return errors.New("enabled is required")
		}
	case OpSnapping, OpCommit, OpFreezeCommit, OpThawCommit:
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return nil
}

// WriteScript writes a script to a YAML file.
func WriteScript(s *Script, path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadScript reads and validates a script from a YAML file.
func ReadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("script %s: %w", path, err)
	}
	return &s, nil
}
