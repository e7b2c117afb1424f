// Package versionledger allocates per space versions and answers version bounded visibility questions.
package versionledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	anystore "github.com/anyproto/any-store"
	"github.com/anyproto/any-store/anyenc"
	"github.com/anyproto/any-store/query"
	"github.com/cheggaaa/mb/v3"
	"go.uber.org/zap"

	"github.com/heremaps/xyz-hub-sub001/app"
	"github.com/heremaps/xyz-hub-sub001/app/logger"
	"github.com/heremaps/xyz-hub-sub001/featurestorage"
	"github.com/heremaps/xyz-hub-sub001/huberr"
	"github.com/heremaps/xyz-hub-sub001/metric"
	"github.com/heremaps/xyz-hub-sub001/readerstore"
	"github.com/heremaps/xyz-hub-sub001/spacestore"
	"github.com/heremaps/xyz-hub-sub001/storeprovider"
	"github.com/heremaps/xyz-hub-sub001/util/periodicsync"
)

const CName = "hub.versionledger"

var log = logger.NewNamed(CName)

var (
	ErrReadOnly = huberr.New(huberr.ErrMethodNotAllowed, "space is read-only")
	ErrReverted = errors.New("the previous failed write of the space is not reverted yet")

	ErrVersionPruned = huberr.New(huberr.ErrValidation, "requested version is older than the retained history")
)

const (
	collName = "versions"

	headKey  = "h"
	floorKey = "m"
)

const (
	defaultQueueSize   = 1024
	defaultRevertAfter = 10 * time.Second
)

type Config struct {
	PruneIntervalSeconds int `yaml:"pruneIntervalSeconds"`
	QueueSize            int `yaml:"queueSize"`
}

type configGetter interface {
	GetRetention() Config
}

// checkpoints is the part of the reader store retention depends on
type checkpoints interface {
	MinVersion(ctx context.Context, spaceId string) (version int64, ok bool, err error)
}

type VersionLedger interface {
	// Allocate takes the space serialization point and returns head+1.
	// The allocation must be committed or released.
	Allocate(ctx context.Context, spaceId string) (*Allocation, error)
	// Write allocates a version, persists the revisions built for it and commits.
	// A failed write leaves no revision and no allocated version behind.
	Write(ctx context.Context, spaceId string, build func(version int64) ([]featurestorage.Revision, error)) (int64, error)
	// Head returns the last committed version, 0 for a space without writes
	Head(ctx context.Context, spaceId string) (int64, error)
	// Floor returns the lowest version whose visible state is still complete
	Floor(ctx context.Context, spaceId string) (int64, error)
	// LatestAt returns the newest revision with version <= version per feature, tombstones included
	LatestAt(ctx context.Context, spaceId string, version int64, ids []string) ([]featurestorage.Revision, error)
	// VisibleAt returns the feature state at version, ok is false when absent or deleted
	VisibleAt(ctx context.Context, spaceId, featureId string, version int64) (rev featurestorage.Revision, ok bool, err error)
	// Pin protects the state visible at version from pruning until unpin is called.
	// It fails with ErrVersionPruned when that state is already gone.
	Pin(ctx context.Context, spaceId string, version int64) (unpin func(), err error)
	Prune(ctx context.Context, spaceId string) (removed int, err error)
	// PruneBefore drops history older than version, bounded like Prune by readers and pins
	PruneBefore(ctx context.Context, spaceId string, version int64) (removed int, err error)
	// SchedulePrune enqueues an asynchronous Prune, it never blocks
	SchedulePrune(spaceId string)
	// SetPruneHook registers fn to be called after revisions of a space were removed.
	// It must be set before the ledger runs.
	SetPruneHook(fn func(ctx context.Context, spaceId string))
	// Drop runs purge under the space serialization point and forgets the space versions
	Drop(ctx context.Context, spaceId string, purge func(ctx context.Context) error) error
	app.ComponentRunnable
}

func New() VersionLedger {
	return &ledger{}
}

type spaceState struct {
	// lock is the writers serialization point, readers never take it
	lock   chan struct{}
	loadMu sync.Mutex
	loaded atomic.Bool
	head   atomic.Int64
	floor  atomic.Int64

	// version left by a failed write, reverted before the next allocation
	pendingRevert int64
}

type ledger struct {
	conf        Config
	spaces      spacestore.SpaceStore
	storage     featurestorage.FeatureStorage
	checkpoints checkpoints
	provider    storeprovider.StoreProvider
	coll        anystore.Collection

	mu     sync.Mutex
	states map[string]*spaceState
	pins   map[string]map[int64]int

	pruneQueue   *mb.MB[string]
	pruneHook    func(ctx context.Context, spaceId string)
	pruneMu      sync.Mutex
	prunePending map[string]struct{}
	sweep        periodicsync.PeriodicSync
	ctx          context.Context
	cancel       context.CancelFunc
	workerDone   chan struct{}
}

func (l *ledger) Init(a *app.App) (err error) {
	l.conf = a.MustComponent("config").(configGetter).GetRetention()
	l.spaces = a.MustComponent(spacestore.CName).(spacestore.SpaceStore)
	l.storage = a.MustComponent(featurestorage.CName).(featurestorage.FeatureStorage)
	l.checkpoints = a.MustComponent(readerstore.CName).(checkpoints)
	l.provider = a.MustComponent(storeprovider.CName).(storeprovider.StoreProvider)
	l.states = make(map[string]*spaceState)
	l.pins = make(map[string]map[int64]int)
	l.prunePending = make(map[string]struct{})
	queueSize := l.conf.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	l.pruneQueue = mb.New[string](queueSize)
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.workerDone = make(chan struct{})
	if l.conf.PruneIntervalSeconds > 0 {
		l.sweep = periodicsync.NewPeriodicSync(l.conf.PruneIntervalSeconds, time.Minute, l.pruneAll, log)
	}
	return nil
}

func (l *ledger) Name() (name string) {
	return CName
}

func (l *ledger) Run(ctx context.Context) (err error) {
	if l.coll, err = l.provider.DB().Collection(ctx, collName); err != nil {
		return err
	}
	go l.pruneLoop()
	if l.sweep != nil {
		l.sweep.Run()
	}
	return nil
}

func (l *ledger) state(ctx context.Context, spaceId string) (*spaceState, error) {
	l.mu.Lock()
	st, ok := l.states[spaceId]
	if !ok {
		st = &spaceState{lock: make(chan struct{}, 1)}
		l.states[spaceId] = st
	}
	l.mu.Unlock()
	if st.loaded.Load() {
		return st, nil
	}
	st.loadMu.Lock()
	defer st.loadMu.Unlock()
	if st.loaded.Load() {
		return st, nil
	}
	doc, err := l.coll.FindId(ctx, spaceId)
	if err != nil && !errors.Is(err, anystore.ErrDocNotFound) {
		return nil, err
	}
	if err == nil {
		st.head.Store(int64(doc.Value().GetInt(headKey)))
		st.floor.Store(int64(doc.Value().GetInt(floorKey)))
	}
	st.loaded.Store(true)
	return st, nil
}

func (l *ledger) acquire(ctx context.Context, st *spaceState) error {
	select {
	case st.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *ledger) release(st *spaceState) {
	<-st.lock
}

func (l *ledger) Allocate(ctx context.Context, spaceId string) (*Allocation, error) {
	st, err := l.state(ctx, spaceId)
	if err != nil {
		return nil, err
	}
	if err = l.acquire(ctx, st); err != nil {
		return nil, err
	}
	space, err := l.spaces.Get(ctx, spaceId)
	if err != nil {
		l.release(st)
		return nil, err
	}
	if space.ReadOnly {
		l.release(st)
		return nil, ErrReadOnly
	}
	if st.pendingRevert != 0 {
		if err = l.revert(ctx, spaceId, st.pendingRevert); err != nil {
			l.release(st)
			return nil, fmt.Errorf("%w: %w", ErrReverted, err)
		}
		st.pendingRevert = 0
	}
	return &Allocation{l: l, st: st, SpaceId: spaceId, Version: st.head.Load() + 1}, nil
}

func (l *ledger) Write(ctx context.Context, spaceId string, build func(version int64) ([]featurestorage.Revision, error)) (int64, error) {
	alloc, err := l.Allocate(ctx, spaceId)
	if err != nil {
		return 0, err
	}
	revs, err := build(alloc.Version)
	if err != nil {
		alloc.Release()
		return 0, err
	}
	if err = l.storage.WriteRevisions(ctx, spaceId, revs); err != nil {
		alloc.fail(err)
		return 0, err
	}
	if err = alloc.Commit(ctx); err != nil {
		return 0, err
	}
	return alloc.Version, nil
}

// revert removes whatever a failed write managed to persist at version
func (l *ledger) revert(ctx context.Context, spaceId string, version int64) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRevertAfter)
	defer cancel()
	return l.storage.DeleteVersion(ctx, spaceId, version)
}

func (l *ledger) Head(ctx context.Context, spaceId string) (int64, error) {
	st, err := l.state(ctx, spaceId)
	if err != nil {
		return 0, err
	}
	return st.head.Load(), nil
}

func (l *ledger) Floor(ctx context.Context, spaceId string) (int64, error) {
	st, err := l.state(ctx, spaceId)
	if err != nil {
		return 0, err
	}
	return st.floor.Load(), nil
}

func (l *ledger) LatestAt(ctx context.Context, spaceId string, version int64, ids []string) ([]featurestorage.Revision, error) {
	head, err := l.Head(ctx, spaceId)
	if err != nil {
		return nil, err
	}
	if version > head {
		version = head
	}
	if version <= 0 {
		return nil, nil
	}
	return l.storage.Latest(ctx, spaceId, version, ids)
}

func (l *ledger) VisibleAt(ctx context.Context, spaceId, featureId string, version int64) (rev featurestorage.Revision, ok bool, err error) {
	revs, err := l.LatestAt(ctx, spaceId, version, []string{featureId})
	if err != nil || len(revs) == 0 {
		return rev, false, err
	}
	if revs[0].Deleted() {
		return rev, false, nil
	}
	return revs[0], true, nil
}

func (l *ledger) Pin(ctx context.Context, spaceId string, version int64) (unpin func(), err error) {
	st, err := l.state(ctx, spaceId)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	if version < st.floor.Load() {
		l.mu.Unlock()
		return nil, ErrVersionPruned
	}
	versions, ok := l.pins[spaceId]
	if !ok {
		versions = make(map[int64]int)
		l.pins[spaceId] = versions
	}
	versions[version]++
	l.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if versions[version]--; versions[version] <= 0 {
				delete(versions, version)
			}
		})
	}, nil
}

// minPinnedLocked must be called under l.mu
func (l *ledger) minPinnedLocked(spaceId string) (minVersion int64, ok bool) {
	for v := range l.pins[spaceId] {
		if !ok || v < minVersion {
			minVersion, ok = v, true
		}
	}
	return
}

func (l *ledger) Drop(ctx context.Context, spaceId string, purge func(ctx context.Context) error) error {
	st, err := l.state(ctx, spaceId)
	if err != nil {
		return err
	}
	if err = l.acquire(ctx, st); err != nil {
		return err
	}
	defer l.release(st)
	if err = purge(ctx); err != nil {
		return err
	}
	if err = l.coll.DeleteId(ctx, spaceId); err != nil && !errors.Is(err, anystore.ErrDocNotFound) {
		return err
	}
	st.head.Store(0)
	st.floor.Store(0)
	st.pendingRevert = 0
	log.InfoCtx(ctx, "space versions dropped", metric.SpaceId(spaceId))
	return nil
}

func (l *ledger) persist(ctx context.Context, spaceId string, head, floor int64) error {
	mod := query.ModifyFunc(func(a *anyenc.Arena, v *anyenc.Value) (*anyenc.Value, bool, error) {
		v.Set(headKey, a.NewNumberInt(int(head)))
		v.Set(floorKey, a.NewNumberInt(int(floor)))
		return v, true, nil
	})
	_, err := l.coll.UpsertId(ctx, spaceId, mod)
	return err
}

func (l *ledger) Close(ctx context.Context) (err error) {
	if l.sweep != nil {
		l.sweep.Close()
	}
	l.cancel()
	err = l.pruneQueue.Close()
	<-l.workerDone
	return
}

// Allocation is a reserved version of a space, the space stays locked for writers until Commit or Release
type Allocation struct {
	l       *ledger
	st      *spaceState
	SpaceId string
	Version int64
	done    bool
}

// Commit makes the version the new head
func (a *Allocation) Commit(ctx context.Context) error {
	if a.done {
		return nil
	}
	if err := a.l.persist(ctx, a.SpaceId, a.Version, a.st.floor.Load()); err != nil {
		a.fail(err)
		return err
	}
	a.st.head.Store(a.Version)
	a.done = true
	a.l.release(a.st)
	return nil
}

// Release gives the version back, nothing must have been persisted for it
func (a *Allocation) Release() {
	if a.done {
		return
	}
	a.done = true
	a.l.release(a.st)
}

func (a *Allocation) fail(cause error) {
	if a.done {
		return
	}
	if err := a.l.revert(context.Background(), a.SpaceId, a.Version); err != nil {
		a.st.pendingRevert = a.Version
		log.Warn("failed write is not reverted", metric.SpaceId(a.SpaceId), metric.Version(a.Version), zap.Error(err), zap.NamedError("cause", cause))
	}
	a.done = true
	a.l.release(a.st)
}
