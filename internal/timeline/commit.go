package timeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Commit hands the current content of every track to its backend. The
// backends run concurrently in the background; EventCommitted is published
// on the timeline once all of them returned. A frozen timeline records the
// commit and performs it on ThawCommit.
func (tl *Timeline) Commit(ctx context.Context) error {
	tl.committedMu.Lock()
	if tl.commitFrozen > 0 {
		tl.commitDelayed = true
		tl.committedMu.Unlock()
		tl.logger().Debug("commit delayed while frozen")
		return nil
	}
	tl.committedMu.Unlock()
	return tl.commit(ctx)
}

func (tl *Timeline) commit(ctx context.Context) error {
	tl.CreateTransitions()
	for _, l := range tl.Layers() {
		l.ResyncPriorities()
	}
	tl.UpdateDuration()

	tl.dynMu.Lock()
	tracks := tl.tracksLocked()
	snaps := make([]TrackSnapshot, len(tracks))
	for i, t := range tracks {
		snaps[i] = t.Snapshot()
	}
	tl.dynMu.Unlock()

	tl.committedMu.Lock()
	if tl.expectedCommitted > 0 {
		tl.committedMu.Unlock()
		return fmt.Errorf("%w: a commit of %s is still running", ErrUnsupported, tl.name)
	}
	tl.expectedCommitted = len(tracks)
	tl.commitErr = nil
	tl.committedMu.Unlock()

	if len(tracks) == 0 {
		tl.ctx.bus.Publish(Event{Kind: EventCommitted, Source: tl.handle})
		return nil
	}

	log := tl.logger()
	go func() {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(tl.parallelism)
		for i, t := range tracks {
			snap := snaps[i]
			g.Go(func() error {
				err := t.commit(gctx, snap)
				if err != nil {
					log.Error("track commit failed", zap.String("track", t.name), zap.Error(err))
				}
				tl.trackCommitted(err)
				return err
			})
		}
		_ = g.Wait()
	}()
	return nil
}

func (tl *Timeline) trackCommitted(err error) {
	tl.committedMu.Lock()
	if err != nil && tl.commitErr == nil {
		tl.commitErr = err
	}
	tl.expectedCommitted--
	done := tl.expectedCommitted == 0
	if done {
		tl.committedCond.Broadcast()
	}
	tl.committedMu.Unlock()

	if done {
		tl.ctx.bus.Publish(Event{Kind: EventCommitted, Source: tl.handle})
	}
}

// CommitSync commits and waits for every backend to return. It returns
// the first backend error.
func (tl *Timeline) CommitSync(ctx context.Context) error {
	if err := tl.Commit(ctx); err != nil {
		return err
	}
	return tl.WaitCommitted(ctx)
}

// WaitCommitted blocks until the running commit, if any, completed and
// returns its first backend error.
func (tl *Timeline) WaitCommitted(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		tl.committedMu.Lock()
		for tl.expectedCommitted > 0 {
			tl.committedCond.Wait()
		}
		err := tl.commitErr
		tl.committedMu.Unlock()
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CommitState returns the number of pending FreezeCommit calls and whether
// a commit waits for the last ThawCommit.
func (tl *Timeline) CommitState() (freezes int, delayed bool) {
	tl.committedMu.Lock()
	defer tl.committedMu.Unlock()
	return tl.commitFrozen, tl.commitDelayed
}

// FreezeCommit delays commits until the matching ThawCommit.
func (tl *Timeline) FreezeCommit() {
	tl.committedMu.Lock()
	defer tl.committedMu.Unlock()
	tl.commitFrozen++
}

// ThawCommit releases a FreezeCommit and performs the commit delayed
// meanwhile, if any.
func (tl *Timeline) ThawCommit(ctx context.Context) error {
	tl.committedMu.Lock()
	if tl.commitFrozen == 0 {
		tl.committedMu.Unlock()
		return fmt.Errorf("%w: commit of %s is not frozen", ErrUnsupported, tl.name)
	}
	tl.commitFrozen--
	run := tl.commitFrozen == 0 && tl.commitDelayed
	if run {
		tl.commitDelayed = false
	}
	tl.committedMu.Unlock()
	if !run {
		return nil
	}
	return tl.commit(ctx)
}
