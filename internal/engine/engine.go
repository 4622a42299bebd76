// Package engine wires a timeline project together: its configuration,
// the timeline and its tree, the track backends and the commit journal.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/nletimeline/internal/backend"
	"github.com/ivlev/nletimeline/internal/config"
	"github.com/ivlev/nletimeline/internal/director"
	"github.com/ivlev/nletimeline/internal/effects"
	"github.com/ivlev/nletimeline/internal/renderer"
	"github.com/ivlev/nletimeline/internal/source"
	"github.com/ivlev/nletimeline/internal/store"
	"github.com/ivlev/nletimeline/internal/system"
	"github.com/ivlev/nletimeline/internal/timeline"
	"github.com/ivlev/nletimeline/internal/tree"
)

// Project is one timeline with everything it commits to.
type Project struct {
	ID uuid.UUID

	cfg     config.Config
	log     *zap.Logger
	ctx     *timeline.Context
	tl      *timeline.Timeline
	effects *effects.Registry
	memory  *backend.Memory
	journal *backend.Journal
	store   *store.Store

	tracks   []string
	backends []timeline.Backend
	rand     *rand.Rand
}

type Option func(*Project)

// WithTracks creates the named tracks instead of the configured ones.
func WithTracks(tracks []string) Option {
	return func(p *Project) {
		if len(tracks) > 0 {
			p.tracks = tracks
		}
	}
}

// WithBackend adds a backend receiving every track commit.
func WithBackend(b timeline.Backend) Option {
	return func(p *Project) { p.backends = append(p.backends, b) }
}

// WithRand sets the random source of the slideshow page durations.
func WithRand(r *rand.Rand) Option {
	return func(p *Project) { p.rand = r }
}

// WithEffects replaces the built-in effect registry.
func WithEffects(reg *effects.Registry) Option {
	return func(p *Project) { p.effects = reg }
}

func NewProject(cfg config.Config, log *zap.Logger, opts ...Option) (*Project, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Project{
		ID:      uuid.New(),
		cfg:     cfg,
		log:     log.Named("engine"),
		effects: effects.Default(),
		memory:  backend.NewMemory(),
		tracks:  cfg.Timeline.Tracks,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}

	kinds := make([]timeline.TrackType, 0, len(p.tracks))
	for _, name := range p.tracks {
		kind, err := timeline.ParseTrackType(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}

	backends := backend.Multi{p.memory}
	if cfg.Journal.Path != "" {
		st, err := store.New(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		p.store = st
		p.journal = backend.NewJournal(st, cfg.Journal.Project, log)
		backends = append(backends, p.journal)
	}
	backends = append(backends, p.backends...)

	parallelism := cfg.Commit.Parallelism
	if parallelism == 0 {
		parallelism = system.DefaultParallelism()
	}
	transition := timeline.CrossfadeAsset()
	if cfg.Timeline.TransitionAsset != "" {
		transition.Description = cfg.Timeline.TransitionAsset
	}

	p.ctx = timeline.NewContext(log)
	p.tl = timeline.NewTimeline(p.ctx, tree.New(log), timeline.Options{
		AutoTransition:    cfg.Timeline.AutoTransition,
		SnappingDistance:  cfg.Timeline.SnappingDistance.Std(),
		TransitionAsset:   transition,
		CommitParallelism: parallelism,
	})
	for _, kind := range kinds {
		if err := p.tl.AddTrack(timeline.NewTrack(p.ctx, kind, backends)); err != nil {
			p.Close()
			return nil, err
		}
	}

	p.log.Info("project created",
		zap.String("project", p.ID.String()),
		zap.String("timeline", p.tl.Name()),
		zap.Strings("tracks", p.tracks),
		zap.Int("commit_parallelism", parallelism),
		zap.Bool("journal", p.journal != nil))
	return p, nil
}

func (p *Project) Timeline() *timeline.Timeline { return p.tl }

func (p *Project) Config() config.Config { return p.cfg }

// Memory holds the last committed snapshot of every track.
func (p *Project) Memory() *backend.Memory { return p.memory }

// Store is the commit journal, nil when the journal is disabled.
func (p *Project) Store() *store.Store { return p.store }

func (p *Project) Close() error {
	if p.store == nil {
		return nil
	}
	return p.store.Close()
}

// Commit commits the timeline and waits for every backend. With the
// journal enabled the track snapshots are recorded under one journal
// commit. A commit of a frozen timeline is delayed until ThawCommit.
func (p *Project) Commit(ctx context.Context) error {
	if freezes, _ := p.tl.CommitState(); freezes > 0 {
		return p.tl.Commit(ctx)
	}
	return p.journaled(ctx, p.tl.CommitSync)
}

// ThawCommit releases a FreezeCommit and runs the delayed commit, if any,
// the way Commit does.
func (p *Project) ThawCommit(ctx context.Context) error {
	freezes, delayed := p.tl.CommitState()
	if freezes != 1 || !delayed {
		return p.tl.ThawCommit(ctx)
	}
	return p.journaled(ctx, func(ctx context.Context) error {
		if err := p.tl.ThawCommit(ctx); err != nil {
			return err
		}
		return p.tl.WaitCommitted(ctx)
	})
}

func (p *Project) journaled(ctx context.Context, commit func(context.Context) error) error {
	if timeout := p.cfg.Commit.Timeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()

	id := ""
	if p.journal != nil {
		var err error
		if id, err = p.journal.Begin(ctx, p.tl.Name()); err != nil {
			return fmt.Errorf("open journal commit: %w", err)
		}
	}
	err := commit(ctx)
	if p.journal != nil {
		if ferr := p.journal.Finish(context.WithoutCancel(ctx), err); ferr != nil {
			err = errors.Join(err, fmt.Errorf("close journal commit %s: %w", id, ferr))
		}
	}

	fields := []zap.Field{
		zap.String("timeline", p.tl.Name()),
		zap.String("commit", id),
		zap.Duration("timeline_duration", p.tl.Duration()),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		p.log.Error("commit failed", append(fields, zap.Error(err))...)
		return err
	}
	p.log.Info("timeline committed", fields...)
	return nil
}

// RunScript applies an edit script to the timeline. Its commit steps go
// through Commit and ThawCommit.
func (p *Project) RunScript(ctx context.Context, s *director.Script) ([]director.StepResult, error) {
	r := director.NewRunner(p.tl, p.effects, p.Commit, p.log).WithThaw(p.ThawCommit)
	results, err := r.Run(ctx, s)
	p.tl.UpdateDuration()
	return results, err
}

// Slideshow appends a layer holding one image clip per page of src. Pages
// overlap by the configured fade and the layer creates the cross-fades
// between them. The configured effect, if any, is added to every page.
func (p *Project) Slideshow(ctx context.Context, src source.Source) (*timeline.Layer, error) {
	sc := p.cfg.Slideshow
	n := src.PageCount()
	assets, err := source.PageAssets(src, sc.PageDuration.Std())
	if err != nil {
		return nil, err
	}
	fade := sc.Fade.Std()
	durations := pageDurations(n, sc.PageDuration.Std(), fade, sc.Variation, p.rand)

	layer := p.tl.AppendLayer()
	layer.SetAutoTransition(fade > 0)

	var start time.Duration
	for i, asset := range assets {
		if err := ctx.Err(); err != nil {
			return layer, err
		}
		c, err := layer.AddAsset(asset, start, 0, durations[i], timeline.TrackVideo)
		if err != nil {
			return layer, fmt.Errorf("page %d: %w", i+1, err)
		}
		if sc.Effect != "" {
			fx, err := p.effects.Asset(sc.Effect, effects.Params{Duration: durations[i], Fade: fade, Index: i})
			if err != nil {
				return layer, err
			}
			if _, err := c.AddAsset(fx); err != nil {
				return layer, fmt.Errorf("page %d: %w", i+1, err)
			}
		}
		start += durations[i] - fade
	}
	p.tl.UpdateDuration()

	p.log.Info("slideshow added",
		zap.String("source", src.Path()),
		zap.Int("pages", n),
		zap.Uint32("layer", layer.Priority()),
		zap.Duration("duration", p.tl.Duration()))
	return layer, nil
}

// pageDurations splits n pages of page seconds of visible time into clip
// durations. Consecutive clips overlap by fade, so the clips together last
// n*page + (n-1)*fade. Each duration differs from the previous one by at
// most variation.
func pageDurations(n int, page, fade time.Duration, variation float64, r *rand.Rand) []time.Duration {
	if n <= 0 {
		return nil
	}
	total := time.Duration(n)*page + time.Duration(n-1)*fade
	base := float64(total) / float64(n)
	shortest := float64(fade) * 2.2

	raw := make([]float64, n)
	raw[0] = base * (1 + (r.Float64()*2-1)*variation)
	for i := 1; i < n; i++ {
		raw[i] = raw[i-1] * (1 + (r.Float64()*2-1)*variation)
		raw[i] = max(raw[i], shortest)
	}

	sum := 0.0
	for _, d := range raw {
		sum += d
	}
	scale := float64(total) / sum

	out := make([]time.Duration, n)
	var used time.Duration
	for i := 0; i < n-1; i++ {
		out[i] = time.Duration(max(raw[i]*scale, shortest))
		used += out[i]
	}
	out[n-1] = max(total-used, time.Duration(shortest))
	return out
}

// Thumbnails renders a thumbnail of every page of src, keyed by the page
// asset URI. Pages render concurrently.
func (p *Project) Thumbnails(ctx context.Context, src source.Source, maxW, maxH int) (map[string]image.Image, error) {
	var mu sync.Mutex
	thumbs := make(map[string]image.Image, src.PageCount())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(system.DefaultParallelism())
	for i := 0; i < src.PageCount(); i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := source.Thumbnail(src, i, maxW, maxH)
			if err != nil {
				return fmt.Errorf("thumbnail of page %d: %w", i+1, err)
			}
			mu.Lock()
			thumbs[source.PageURI(src.Path(), i)] = img
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return thumbs, nil
}

// Render writes a PNG snapshot of the timeline.
func (p *Project) Render(w io.Writer, thumbs map[string]image.Image) error {
	return renderer.WritePNG(w, p.tl, renderer.Options{
		Width:      p.cfg.Render.Width,
		RowHeight:  p.cfg.Render.RowHeight,
		Thumbnails: thumbs,
	})
}
