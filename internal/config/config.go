// Package config holds the settings of a timeline project, read from and
// written to YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Timeline  TimelineConfig  `yaml:"timeline"`
	Commit    CommitConfig    `yaml:"commit"`
	Log       LogConfig       `yaml:"log"`
	Journal   JournalConfig   `yaml:"journal"`
	Render    RenderConfig    `yaml:"render"`
	Slideshow SlideshowConfig `yaml:"slideshow"`
}

type TimelineConfig struct {
	// Tracks lists the tracks created for a new project ("video", "audio").
	Tracks           []string `yaml:"tracks"`
	AutoTransition   bool     `yaml:"auto_transition"`
	SnappingDistance Duration `yaml:"snapping_distance"`
	// TransitionAsset is the description of the auto-transition clips.
	TransitionAsset string `yaml:"transition_asset"`
}

type CommitConfig struct {
	// Parallelism bounds the concurrent track commits. Zero picks the
	// number of physical cores.
	Parallelism int      `yaml:"parallelism"`
	Timeout     Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level   string   `yaml:"level"`
	Format  string   `yaml:"format"`
	Outputs []string `yaml:"outputs"`
}

type JournalConfig struct {
	// Path of the sqlite commit journal. Empty disables the journal.
	Path string `yaml:"path"`
	// Project names the commits recorded by this configuration.
	Project string `yaml:"project"`
}

type RenderConfig struct {
	Width     int `yaml:"width"`
	RowHeight int `yaml:"row_height"`
}

type SlideshowConfig struct {
	PageDuration Duration `yaml:"page_duration"`
	Fade         Duration `yaml:"fade"`
	// Variation is the largest relative change between the durations of
	// two consecutive pages.
	Variation float64 `yaml:"variation"`
	// Effect is the registered effect added on top of every page clip.
	Effect string `yaml:"effect"`
}

// Duration is a time.Duration written as "1.5s" in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Timeline: TimelineConfig{
			Tracks:          []string{"video", "audio"},
			AutoTransition:  true,
			TransitionAsset: "crossfade",
		},
		Commit:  CommitConfig{Timeout: Duration(30 * time.Second)},
		Log:     LogConfig{Level: "info", Format: "console", Outputs: []string{"stderr"}},
		Journal: JournalConfig{Project: "default"},
		Render:  RenderConfig{Width: 1280, RowHeight: 36},
		Slideshow: SlideshowConfig{
			PageDuration: Duration(3 * time.Second),
			Fade:         Duration(500 * time.Millisecond),
			Variation:    0.15,
		},
	}
}

// Load reads path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path, creating its directory.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c Config) Validate() error {
	var errs []error
	if len(c.Timeline.Tracks) == 0 {
		errs = append(errs, errors.New("timeline.tracks: at least one track is required"))
	}
	for _, tr := range c.Timeline.Tracks {
		switch strings.ToLower(tr) {
		case "video", "audio", "text", "custom":
		default:
			errs = append(errs, fmt.Errorf("timeline.tracks: unknown track type %q", tr))
		}
	}
	if c.Timeline.SnappingDistance < 0 {
		errs = append(errs, errors.New("timeline.snapping_distance must not be negative"))
	}
	if c.Commit.Parallelism < 0 {
		errs = append(errs, errors.New("commit.parallelism must not be negative"))
	}
	if c.Commit.Timeout < 0 {
		errs = append(errs, errors.New("commit.timeout must not be negative"))
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if c.Journal.Path != "" && c.Journal.Project == "" {
		errs = append(errs, errors.New("journal.project is required with journal.path"))
	}
	if c.Render.Width <= 0 || c.Render.RowHeight <= 0 {
		errs = append(errs, errors.New("render: width and row_height must be positive"))
	}
	if c.Slideshow.PageDuration <= 0 {
		errs = append(errs, errors.New("slideshow.page_duration must be positive"))
	}
	if c.Slideshow.Fade < 0 || 2*c.Slideshow.Fade >= c.Slideshow.PageDuration {
		errs = append(errs, errors.New("slideshow.fade must be shorter than half a page"))
	}
	if c.Slideshow.Variation < 0 || c.Slideshow.Variation >= 1 {
		errs = append(errs, errors.New("slideshow.variation must be in [0, 1)"))
	}
	return errors.Join(errs...)
}
