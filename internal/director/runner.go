package director

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ivlev/nletimeline/internal/effects"
	"github.com/ivlev/nletimeline/internal/timeline"
)

// CommitFunc commits the timeline the runner edits.
type CommitFunc func(ctx context.Context) error

// StepResult is the outcome of one script step.
type StepResult struct {
	Index   int
	Op      Op
	Name    string
	Created string
	Err     error
}

// Runner applies script steps to a timeline.
type Runner struct {
	tl      *timeline.Timeline
	effects *effects.Registry
	commit  CommitFunc
	thaw    CommitFunc
	log     *zap.Logger
}

// NewRunner creates a runner editing tl. A nil registry uses the built-in
// effects and a nil commit uses tl.CommitSync.
func NewRunner(tl *timeline.Timeline, reg *effects.Registry, commit CommitFunc, log *zap.Logger) *Runner {
	if reg == nil {
		reg = effects.Default()
	}
	if commit == nil {
		commit = tl.CommitSync
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{tl: tl, effects: reg, commit: commit, thaw: tl.ThawCommit, log: log.Named("director")}
}

// WithThaw replaces the function run by "thaw_commit" steps.
func (r *Runner) WithThaw(thaw CommitFunc) *Runner {
	r.thaw = thaw
	return r
}

// Run creates the layers the script asks for and applies its steps in
// order. It stops at the first step whose outcome differs from its Expect
// field and returns the results of the steps run so far.
func (r *Runner) Run(ctx context.Context, s *Script) ([]StepResult, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	for len(r.tl.Layers()) < s.Layers {
		r.tl.AppendLayer()
	}

	results := make([]StepResult, 0, len(s.Steps))
	for i := range s.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		st := &s.Steps[i]
		created, err := r.apply(ctx, st)
		res := StepResult{Index: i + 1, Op: st.Op, Name: st.Name, Created: created, Err: err}
		results = append(results, res)

		if err := checkExpectation(st, err); err != nil {
			r.log.Error("step failed", zap.Int("step", i+1), zap.String("op", string(st.Op)), zap.Error(err))
			return results, fmt.Errorf("step %d (%s %s): %w", i+1, st.Op, st.Name, err)
		}
		r.log.Debug("step applied",
			zap.Int("step", i+1),
			zap.String("op", string(st.Op)),
			zap.String("name", st.Name),
			zap.NamedError("outcome", err))
	}
	return results, nil
}

func checkExpectation(st *Step, err error) error {
	if st.Expect == "" {
		return err
	}
	want := expectedErrors[st.Expect]
	if err == nil {
		return fmt.Errorf("expected a %s error, the step succeeded", st.Expect)
	}
	if !errors.Is(err, want) {
		return fmt.Errorf("expected a %s error: %w", st.Expect, err)
	}
	return nil
}

func (r *Runner) element(name string) (timeline.Element, error) {
	el, ok := r.tl.Element(name)
	if !ok {
		return nil, fmt.Errorf("%w: element %q", timeline.ErrNotFound, name)
	}
	return el, nil
}

func (r *Runner) clip(name string) (*timeline.Clip, error) {
	el, err := r.element(name)
	if err != nil {
		return nil, err
	}
	c, ok := el.(*timeline.Clip)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a clip", timeline.ErrUnsupported, name)
	}
	return c, nil
}

func (r *Runner) trackElement(name string) (*timeline.TrackElement, error) {
	el, err := r.element(name)
	if err != nil {
		return nil, err
	}
	te, ok := el.(*timeline.TrackElement)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a track element", timeline.ErrUnsupported, name)
	}
	return te, nil
}

func (r *Runner) layer(p int64) (*timeline.Layer, error) {
	if p < 0 {
		return nil, fmt.Errorf("%w: layer %d", timeline.ErrNotFound, p)
	}
	if l, ok := r.tl.Layer(uint32(p)); ok {
		return l, nil
	}
	if int(p) == len(r.tl.Layers()) {
		return r.tl.AppendLayer(), nil
	}
	return nil, fmt.Errorf("%w: layer %d", timeline.ErrNotFound, p)
}

func name(el timeline.Element, as string) (string, error) {
	if as == "" {
		return el.Name(), nil
	}
	if err := el.SetName(as); err != nil {
		return el.Name(), err
	}
	return as, nil
}

// apply runs one step and returns the name of the element it created.
func (r *Runner) apply(ctx context.Context, st *Step) (string, error) {
	switch st.Op {
	case OpAdd:
		return r.add(st)
	case OpEdit:
		el, err := r.element(st.Name)
		if err != nil {
			return "", err
		}
		mode, _ := timeline.ParseEditMode(st.Mode)
		edge, _ := timeline.ParseEdge(st.Edge)
		layer := int64(-1)
		if st.Layer != nil {
			layer = *st.Layer
		}
		return "", el.Edit(layer, mode, edge, st.Position.Duration())
	case OpSet:
		el, err := r.element(st.Name)
		if err != nil {
			return "", err
		}
		return "", setProperty(el, st.Property, st.Value)
	case OpMoveLayer:
		c, err := r.clip(st.Name)
		if err != nil {
			return "", err
		}
		l, err := r.layer(*st.Layer)
		if err != nil {
			return "", err
		}
		return "", c.MoveToLayer(l)
	case OpSplit:
		c, err := r.clip(st.Name)
		if err != nil {
			return "", err
		}
		nc, err := c.Split(st.Position.Duration())
		if err != nil {
			return "", err
		}
		return name(nc, st.As)
	case OpPaste:
		return r.paste(st)
	case OpGroup:
		els := make([]timeline.Element, 0, len(st.Names))
		for _, n := range st.Names {
			el, err := r.element(n)
			if err != nil {
				return "", err
			}
			els = append(els, el)
		}
		g, err := timeline.GroupElements(els)
		if err != nil {
			return "", err
		}
		return name(g, st.As)
	case OpUngroup:
		el, err := r.element(st.Name)
		if err != nil {
			return "", err
		}
		switch v := el.(type) {
		case *timeline.Clip:
			v.Ungroup()
		case *timeline.Group:
			v.Ungroup()
		default:
			return "", fmt.Errorf("%w: cannot ungroup %q", timeline.ErrUnsupported, st.Name)
		}
		return "", nil
	case OpEffect:
		return r.effect(st)
	case OpEffectIndex:
		te, err := r.trackElement(st.Name)
		if err != nil {
			return "", err
		}
		c, ok := te.Clip()
		if !ok {
			return "", fmt.Errorf("%w: %q has no clip", timeline.ErrNotFound, st.Name)
		}
		return "", c.SetTopEffectIndex(te, *st.Index)
	case OpBind:
		te, err := r.trackElement(st.Name)
		if err != nil {
			return "", err
		}
		mode, _ := timeline.ParseInterpolation(st.Interpolation)
		kfs := make([]timeline.Keyframe, 0, len(st.Keyframes))
		for _, kf := range st.Keyframes {
			kfs = append(kfs, timeline.Keyframe{Time: kf.Time.Duration(), Value: kf.Value})
		}
		te.SetBinding(timeline.NewControlBinding(st.Property, mode, kfs))
		return "", nil
	case OpRemove:
		return "", r.remove(st.Name)
	case OpAutoTransition:
		if st.Layer == nil {
			r.tl.SetAutoTransition(*st.Enabled)
			return "", nil
		}
		l, err := r.layer(*st.Layer)
		if err != nil {
			return "", err
		}
		l.SetAutoTransition(*st.Enabled)
		return "", nil
	case OpSnapping:
		r.tl.SetSnappingDistance(Seconds(st.Value).Duration())
		return "", nil
	case OpCommit:
		return "", r.commit(ctx)
	case OpFreezeCommit:
		r.tl.FreezeCommit()
		return "", nil
	case OpThawCommit:
		return "", r.thaw(ctx)
	}
	return "", fmt.Errorf("%w: op %q", timeline.ErrUnsupported, st.Op)
}

func (r *Runner) add(st *Step) (string, error) {
	asset, err := st.Asset.ClipAsset()
	if err != nil {
		return "", err
	}
	l, err := r.layer(*st.Layer)
	if err != nil {
		return "", err
	}
	start := timeline.NoTime
	if st.Start != nil {
		start = st.Start.Duration()
	}
	var formats timeline.TrackType
	if st.Formats != "" {
		if formats, err = timeline.ParseTrackType(st.Formats); err != nil {
			return "", err
		}
	}
	c, err := l.AddAsset(asset, start, st.Inpoint.Duration(), st.Duration.Duration(), formats)
	if err != nil {
		return "", err
	}
	as := st.As
	if as == "" {
		as = st.Name
	}
	return name(c, as)
}

func (r *Runner) paste(st *Step) (string, error) {
	c, err := r.clip(st.Name)
	if err != nil {
		return "", err
	}
	pasted, err := r.tl.PasteElement(c.Copy(true), st.Position.Duration(), -1)
	if err != nil {
		return "", err
	}
	return name(pasted, st.As)
}

func (r *Runner) effect(st *Step) (string, error) {
	c, err := r.clip(st.Name)
	if err != nil {
		return "", err
	}
	index := 0
	if l, ok := c.Layer(); ok {
		for i, x := range l.Clips() {
			if x == c {
				index = i
			}
		}
	}
	asset, err := r.effects.Asset(st.Effect, effects.Params{
		Duration: c.Duration(),
		Index:    index,
		ZoomMode: st.Zoom,
		Gain:     st.Gain,
		Sigma:    st.Sigma,
	})
	if err != nil {
		return "", err
	}
	te, err := c.AddAsset(asset)
	if err != nil {
		return "", err
	}
	if st.Index != nil {
		if err := c.SetTopEffectIndex(te, *st.Index); err != nil {
			return te.Name(), err
		}
	}
	return name(te, st.As)
}

func (r *Runner) remove(n string) error {
	el, err := r.element(n)
	if err != nil {
		return err
	}
	switch v := el.(type) {
	case *timeline.Clip:
		l, ok := v.Layer()
		if !ok {
			return fmt.Errorf("%w: clip %q is not in a layer", timeline.ErrNotFound, n)
		}
		return l.RemoveClip(v)
	case *timeline.TrackElement:
		c, ok := v.Clip()
		if !ok {
			return fmt.Errorf("%w: %q has no clip", timeline.ErrNotFound, n)
		}
		if v.Kind() == timeline.KindEffect {
			return c.RemoveTopEffect(v)
		}
		return c.RemoveChild(v)
	}
	return fmt.Errorf("%w: cannot remove %q", timeline.ErrUnsupported, n)
}

func setProperty(el timeline.Element, property string, v float64) error {
	t := Seconds(v).Duration()
	switch property {
	case "start":
		return el.SetStart(t)
	case "duration":
		return el.SetDuration(t)
	case "inpoint":
		return el.SetInpoint(t)
	case "max_duration":
		return el.SetMaxDuration(t)
	case "priority":
		if v < 0 {
			return fmt.Errorf("%w: negative priority", timeline.ErrInvalidTime)
		}
		return el.SetPriority(uint32(v))
	}
	return fmt.Errorf("%w: property %q", timeline.ErrUnsupported, property)
}
