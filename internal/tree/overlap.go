package tree

import (
	"fmt"
	"time"

	"github.com/ivlev/nletimeline/internal/timeline"
	"go.uber.org/zap"
)

// position is where a moving track element ends up.
type position struct {
	start         time.Duration
	end           time.Duration
	layerPriority uint32
}

type moving map[*timeline.TrackElement]*position

// addEditedToMoving marks every track element below the edited elements as
// moving.
func addEditedToMoving(table *edits, m moving) {
	for _, el := range table.order {
		for _, te := range trackElementsUnder(el) {
			if _, ok := m[te]; !ok {
				m[te] = &position{}
			}
		}
	}
}

// setPositionsFromEdits places every moving element with the edit of its
// clip, or its own edit when it has no parent.
func (m moving) setPositionsFromEdits(table *edits) {
	for te, pos := range m {
		ed, ok := table.lookup(parentOrSelf(te))

		pos.start = te.Start()
		if ok && timeline.IsValid(ed.start) {
			pos.start = ed.start
		}
		pos.end = pos.start + te.Duration()
		if ok && timeline.IsValid(ed.duration) {
			pos.end = pos.start + ed.duration
		}
		pos.layerPriority = te.LayerPriority()
		if ok && ed.layerPriority != timeline.NoLayerPriority {
			pos.layerPriority = ed.layerPriority
		}
	}
}

func (m moving) positionOf(te *timeline.TrackElement) position {
	if pos, ok := m[te]; ok {
		return *pos
	}
	return position{start: te.Start(), end: te.End(), layerPriority: te.LayerPriority()}
}

// overlaps collects the sources overlapping the start and the end of one
// source.
type overlaps struct {
	onStart    *timeline.TrackElement
	onEnd      *timeline.TrackElement
	startFinal time.Duration
	endFirst   time.Duration
}

// checkOverlaps compares cmp, at its (possibly moving) position, with every
// other tracked source. A full overlap or a third overlapping source is an
// error; the overlaps found until then are returned either way.
func (t *Tree) checkOverlaps(cmp *timeline.TrackElement, m moving) (overlaps, error) {
	o := overlaps{startFinal: timeline.NoTime, endFirst: timeline.NoTime}
	cmpPos := m.positionOf(cmp)
	cmpTrack, cmpInTrack := cmp.Track()
	if !cmpInTrack {
		return o, nil
	}

	for _, e := range t.sources() {
		if e == cmp {
			continue
		}
		track, inTrack := e.Track()
		if !inTrack || track != cmpTrack {
			continue
		}
		pos := m.positionOf(e)
		if pos.layerPriority != cmpPos.layerPriority {
			continue
		}
		if pos.start >= cmpPos.end || cmpPos.start >= pos.end {
			continue
		}

		if cmpPos.start <= pos.start && cmpPos.end >= pos.end {
			return o, fullOverlapError(cmp, e, track)
		}
		if pos.start <= cmpPos.start && pos.end >= cmpPos.end {
			return o, fullOverlapError(e, cmp, track)
		}

		if cmpPos.start < pos.end && cmpPos.start > pos.start {
			if o.onStart != nil {
				return o, tripleOverlapError(cmp, e, o.onStart, track)
			}
			if timeline.IsValid(o.endFirst) && pos.end > o.endFirst {
				return o, tripleOverlapError(cmp, e, o.onEnd, track)
			}
			o.startFinal = pos.end
			o.onStart = e
		}

		if cmpPos.end < pos.end && cmpPos.end > pos.start {
			if o.onEnd != nil {
				return o, tripleOverlapError(cmp, e, o.onEnd, track)
			}
			if timeline.IsValid(o.startFinal) && pos.start < o.startFinal {
				return o, tripleOverlapError(cmp, e, o.onStart, track)
			}
			o.endFirst = pos.start
			o.onEnd = e
		}
	}
	return o, nil
}

func fullOverlapError(super, sub *timeline.TrackElement, track *timeline.Track) error {
	return fmt.Errorf("%w: %s would fully overlap %s in track %s",
		timeline.ErrGeometry, describe(super), describe(sub), track.Name())
}

func tripleOverlapError(first, second, third *timeline.TrackElement, track *timeline.Track) error {
	return fmt.Errorf("%w: %s, %s and %s would overlap at one time in track %s",
		timeline.ErrGeometry, describe(first), describe(second), describe(third), track.Name())
}

func describe(te *timeline.TrackElement) string {
	if c, ok := te.Clip(); ok {
		return fmt.Sprintf("%q (clip %q)", te.Name(), c.Name())
	}
	return fmt.Sprintf("%q", te.Name())
}

// canMoveElements checks the moving sources against every other source.
func (t *Tree) canMoveElements(m moving) error {
	for _, te := range t.sources() {
		if _, ok := m[te]; !ok {
			continue
		}
		if _, err := t.checkOverlaps(te, m); err != nil {
			return err
		}
	}
	return nil
}

// snap is the closest edge found for the moving sources.
type snap struct {
	distance  time.Duration
	element   *timeline.TrackElement
	snappedTo *timeline.TrackElement
	position  time.Duration
	snapped   time.Duration
}

func newSnap(distance time.Duration) *snap {
	if distance <= 0 {
		return nil
	}
	return &snap{distance: distance, position: timeline.NoTime, snapped: timeline.NoTime}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (s *snap) tryEdge(el *timeline.TrackElement, pos time.Duration, to *timeline.TrackElement, edge timeline.Edge) {
	edgePos := edgeValue(to, edge)
	if d := absDuration(pos - edgePos); d <= s.distance {
		s.distance = d
		s.element = el
		s.snappedTo = to
		s.position = pos
		s.snapped = edgePos
	}
}

func (t *Tree) findSnap(el *timeline.TrackElement, pos time.Duration, m moving, s *snap) {
	for _, src := range t.sources() {
		if _, isMoving := m[src]; isMoving {
			continue
		}
		s.tryEdge(el, pos, src, timeline.EdgeEnd)
		s.tryEdge(el, pos, src, timeline.EdgeStart)
	}
}

// snapOffset adjusts offset so that an edge of the sources below el lands
// on the closest edge of a source that does not move.
func (t *Tree) snapOffset(el timeline.Element, mode editMode, offset time.Duration, m moving, s *snap) time.Duration {
	if s == nil {
		return offset
	}

	var candidates []*timeline.TrackElement
	switch mode {
	case editMove:
		candidates = sourcesUnder(el)
	case editTrimStart, editTrimEnd:
		edge := timeline.EdgeStart
		if mode == editTrimEnd {
			edge = timeline.EdgeEnd
		}
		for _, src := range sourcesUnder(el) {
			if edgeValue(src, edge) == edgeValue(el, edge) {
				candidates = append(candidates, src)
				break
			}
		}
	}

	for _, src := range candidates {
		start, end := src.Start(), src.End()
		switch mode {
		case editMove:
			t.findSnap(src, end-offset, m, s)
			t.findSnap(src, start-offset, m, s)
		case editTrimStart:
			t.findSnap(src, start-offset, m, s)
		case editTrimEnd:
			t.findSnap(src, end-offset, m, s)
		}
	}

	if s.snappedTo == nil {
		return offset
	}
	t.log.Debug("snapped",
		zap.String("element", s.element.Name()), zap.String("to", s.snappedTo.Name()),
		zap.Duration("from", s.position), zap.Duration("position", s.snapped))
	return offset + s.position - s.snapped
}
