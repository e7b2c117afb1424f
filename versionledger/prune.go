package versionledger

import (
	"context"

	"go.uber.org/zap"

	"github.com/heremaps/xyz-hub-sub001/metric"
)

func (l *ledger) Prune(ctx context.Context, spaceId string) (removed int, err error) {
	space, err := l.spaces.Get(ctx, spaceId)
	if err != nil {
		return 0, err
	}
	if space.VersionsToKeep <= 0 {
		return 0, nil
	}
	head, err := l.Head(ctx, spaceId)
	if err != nil {
		return 0, err
	}
	return l.pruneTo(ctx, spaceId, head-space.VersionsToKeep+1)
}

func (l *ledger) PruneBefore(ctx context.Context, spaceId string, version int64) (removed int, err error) {
	if _, err = l.spaces.Get(ctx, spaceId); err != nil {
		return 0, err
	}
	head, err := l.Head(ctx, spaceId)
	if err != nil {
		return 0, err
	}
	return l.pruneTo(ctx, spaceId, min(version, head))
}

// pruneTo moves the floor up to target unless a reader checkpoint or a pinned read needs older state
func (l *ledger) pruneTo(ctx context.Context, spaceId string, target int64) (removed int, err error) {
	st, err := l.state(ctx, spaceId)
	if err != nil {
		return 0, err
	}
	floor := target
	if readerMin, ok, err := l.checkpoints.MinVersion(ctx, spaceId); err != nil {
		return 0, err
	} else if ok && readerMin < floor {
		floor = readerMin
	}
	if floor <= st.floor.Load() {
		return 0, nil
	}
	// writers are locked out so a commit can't persist a stale floor
	if err = l.acquire(ctx, st); err != nil {
		return 0, err
	}
	defer l.release(st)

	// pins and the floor change together, a read pinned after this point is validated against the new floor
	l.mu.Lock()
	if pinned, ok := l.minPinnedLocked(spaceId); ok && pinned < floor {
		floor = pinned
	}
	if floor <= st.floor.Load() {
		l.mu.Unlock()
		return 0, nil
	}
	st.floor.Store(floor)
	l.mu.Unlock()

	if err = l.persist(ctx, spaceId, st.head.Load(), floor); err != nil {
		return 0, err
	}
	if removed, err = l.storage.Prune(ctx, spaceId, floor); err != nil {
		return 0, err
	}
	log.DebugCtx(ctx, "space pruned", metric.SpaceId(spaceId), metric.Version(floor), zap.Int("removed", removed))
	if removed > 0 && l.pruneHook != nil {
		l.pruneHook(ctx, spaceId)
	}
	return removed, nil
}

func (l *ledger) SetPruneHook(fn func(ctx context.Context, spaceId string)) {
	l.pruneHook = fn
}

func (l *ledger) SchedulePrune(spaceId string) {
	l.pruneMu.Lock()
	if _, ok := l.prunePending[spaceId]; ok {
		l.pruneMu.Unlock()
		return
	}
	l.prunePending[spaceId] = struct{}{}
	l.pruneMu.Unlock()
	if err := l.pruneQueue.TryAdd(spaceId); err != nil {
		l.pruneMu.Lock()
		delete(l.prunePending, spaceId)
		l.pruneMu.Unlock()
		log.Debug("prune queue is full", metric.SpaceId(spaceId), zap.Error(err))
	}
}

func (l *ledger) pruneLoop() {
	defer close(l.workerDone)
	for {
		spaceId, err := l.pruneQueue.WaitOne(l.ctx)
		if err != nil {
			log.Debug("close prune loop", zap.Error(err))
			return
		}
		l.pruneMu.Lock()
		delete(l.prunePending, spaceId)
		l.pruneMu.Unlock()
		if _, err = l.Prune(l.ctx, spaceId); err != nil {
			log.Warn("prune failed", metric.SpaceId(spaceId), zap.Error(err))
		}
	}
}

// pruneAll is the periodic sweep, it catches spaces whose scheduled prune was dropped
func (l *ledger) pruneAll(ctx context.Context) error {
	spaces, err := l.spaces.List(ctx)
	if err != nil {
		return err
	}
	for _, space := range spaces {
		if space.VersionsToKeep > 0 {
			l.SchedulePrune(space.Id)
		}
	}
	return nil
}
