// Package composition resolves reads against spaces that extend other spaces.
package composition

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/heremaps/xyz-hub-sub001/app"
	"github.com/heremaps/xyz-hub-sub001/app/logger"
	"github.com/heremaps/xyz-hub-sub001/featurestorage"
	"github.com/heremaps/xyz-hub-sub001/huberr"
	"github.com/heremaps/xyz-hub-sub001/metric"
	"github.com/heremaps/xyz-hub-sub001/spacestore"
	"github.com/heremaps/xyz-hub-sub001/versionledger"
)

const CName = "hub.composition"

var log = logger.NewNamed(CName)

var (
	ErrCycle         = huberr.New(huberr.ErrUnexpected, "extends chain contains a cycle")
	ErrSpaceInactive = huberr.New(huberr.ErrPreconditionRequired, "space is inactive, a space of its extends chain was deleted")
	ErrNoHistory     = huberr.New(huberr.ErrValidation, "version queries need history on every layer")
)

const (
	defaultMaxDepth = 8
	pinAttempts     = 3
)

type Config struct {
	MaxDepth int `yaml:"maxDepth"`
}

type configGetter interface {
	GetComposition() Config
}

// versions is the part of the ledger reads depend on
type versions interface {
	Head(ctx context.Context, spaceId string) (int64, error)
	LatestAt(ctx context.Context, spaceId string, version int64, ids []string) ([]featurestorage.Revision, error)
	Pin(ctx context.Context, spaceId string, version int64) (unpin func(), err error)
}

type Resolver interface {
	// Chain returns the extends chain ordered from the leaf to the root
	Chain(ctx context.Context, spaceId string) ([]spacestore.Space, error)
	// ValidateExtends checks that spaceId may extend parentId
	ValidateExtends(ctx context.Context, spaceId, parentId string) error
	// Snapshot captures the layer versions of a read, version <= 0 reads the heads.
	// The snapshot must be released.
	Snapshot(ctx context.Context, spaceId string, c Context, version int64) (*Snapshot, error)
	app.Component
}

func New() Resolver {
	return &resolver{}
}

type resolver struct {
	spaces   spacestore.SpaceStore
	versions versions
	maxDepth int
}

func (r *resolver) Init(a *app.App) (err error) {
	r.spaces = a.MustComponent(spacestore.CName).(spacestore.SpaceStore)
	r.versions = a.MustComponent(versionledger.CName).(versions)
	r.maxDepth = a.MustComponent("config").(configGetter).GetComposition().MaxDepth
	if r.maxDepth <= 0 {
		r.maxDepth = defaultMaxDepth
	}
	return nil
}

func (r *resolver) Name() (name string) {
	return CName
}

func (r *resolver) Chain(ctx context.Context, spaceId string) ([]spacestore.Space, error) {
	space, err := r.spaces.Get(ctx, spaceId)
	if err != nil {
		return nil, err
	}
	chain := []spacestore.Space{space}
	seen := map[string]struct{}{space.Id: {}}
	for {
		if !space.Active {
			return nil, fmt.Errorf("%w: %s", ErrSpaceInactive, space.Id)
		}
		parentId := space.ParentId()
		if parentId == "" {
			return chain, nil
		}
		if _, ok := seen[parentId]; ok {
			log.ErrorCtx(ctx, "extends cycle", metric.SpaceId(spaceId), metric.ExtendsId(parentId))
			return nil, fmt.Errorf("%w: %s reappears in the chain of %s", ErrCycle, parentId, spaceId)
		}
		if space, err = r.spaces.Get(ctx, parentId); err != nil {
			if errors.Is(err, spacestore.ErrSpaceNotFound) {
				return nil, fmt.Errorf("%w: %s is gone", ErrSpaceInactive, parentId)
			}
			return nil, err
		}
		seen[parentId] = struct{}{}
		chain = append(chain, space)
	}
}

func (r *resolver) ValidateExtends(ctx context.Context, spaceId, parentId string) error {
	if spaceId == parentId {
		return huberr.Newf(huberr.ErrValidation, "The space %s cannot extend itself.", spaceId)
	}
	chain, err := r.Chain(ctx, parentId)
	if err != nil {
		switch {
		case errors.Is(err, spacestore.ErrSpaceNotFound):
			return huberr.Newf(huberr.ErrValidation, "The space %s cannot extend the space %s because it does not exist.", spaceId, parentId)
		case errors.Is(err, ErrSpaceInactive):
			return huberr.Newf(huberr.ErrValidation, "The space %s cannot extend the space %s because it is inactive.", spaceId, parentId)
		case errors.Is(err, ErrCycle):
			return huberr.Newf(huberr.ErrValidation, "The space %s cannot extend the space %s: %v", spaceId, parentId, err)
		}
		return err
	}
	for _, s := range chain {
		if s.Id == spaceId {
			return huberr.Newf(huberr.ErrValidation, "The space %s cannot extend the space %s because it would create a cycle.", spaceId, parentId)
		}
	}
	if len(chain)+1 > r.maxDepth {
		return huberr.Newf(huberr.ErrValidation, "The space %s cannot extend the space %s, the chain would exceed %d layers.", spaceId, parentId, r.maxDepth)
	}
	return nil
}

func (r *resolver) Snapshot(ctx context.Context, spaceId string, c Context, version int64) (*Snapshot, error) {
	chain, err := r.Chain(ctx, spaceId)
	if err != nil {
		return nil, err
	}
	if len(chain) == 1 {
		c = Default
	}
	from, to := c.layers(len(chain))
	participating := chain[from:to]
	if version > 0 {
		if err = checkHistory(chain, participating); err != nil {
			return nil, err
		}
	}
	s := &Snapshot{
		leaf:     chain[0],
		chain:    chain,
		context:  c,
		explicit: version,
		versions: r.versions,
	}
	for _, space := range participating {
		layer, unpin, err := r.pinLayer(ctx, space, version)
		if err != nil {
			s.Release()
			return nil, err
		}
		s.layers = append(s.layers, layer)
		s.unpins = append(s.unpins, unpin)
	}
	return s, nil
}

func checkHistory(chain, participating []spacestore.Space) error {
	if len(chain) == 1 {
		return nil
	}
	for _, space := range participating {
		if !space.KeepsHistory() {
			return fmt.Errorf("%w: %s keeps no history", ErrNoHistory, space.Id)
		}
	}
	return nil
}

// pinLayer resolves the layer version and protects it from pruning.
// A head read retries when a concurrent prune moved the floor past the head it saw.
func (r *resolver) pinLayer(ctx context.Context, space spacestore.Space, version int64) (layer Layer, unpin func(), err error) {
	for attempt := 0; attempt < pinAttempts; attempt++ {
		var head int64
		if head, err = r.versions.Head(ctx, space.Id); err != nil {
			return layer, nil, err
		}
		at := head
		if version > 0 {
			at = min(version, head)
			if at < head && !space.KeepsHistory() {
				return layer, nil, fmt.Errorf("%w: %s keeps no history", ErrNoHistory, space.Id)
			}
		}
		unpin, err = r.versions.Pin(ctx, space.Id, at)
		if err == nil {
			return Layer{Space: space, Head: head, Version: at}, unpin, nil
		}
		if version > 0 || !errors.Is(err, versionledger.ErrVersionPruned) {
			return layer, nil, err
		}
	}
	return layer, nil, err
}

// Layer is a space of the chain with the version a snapshot reads it at
type Layer struct {
	Space   spacestore.Space
	Head    int64
	Version int64
}

// Snapshot is a read pinned to fixed layer versions, it never observes a later write
type Snapshot struct {
	leaf     spacestore.Space
	chain    []spacestore.Space
	context  Context
	explicit int64
	layers   []Layer
	versions versions

	releaseOnce sync.Once
	unpins      []func()
}

func (s *Snapshot) Leaf() spacestore.Space {
	return s.leaf
}

func (s *Snapshot) Chain() []spacestore.Space {
	return s.chain
}

// Context is the effective context, non-composite spaces always read Default
func (s *Snapshot) Context() Context {
	return s.context
}

func (s *Snapshot) Layers() []Layer {
	return s.layers
}

// Version identifies the snapshot content, e.g. "12", "12:7" or "@5:5:3" for an explicit version
func (s *Snapshot) Version() string {
	var b strings.Builder
	if s.explicit > 0 {
		b.WriteString("@")
		b.WriteString(strconv.FormatInt(s.explicit, 10))
		b.WriteString(":")
	}
	for i, l := range s.layers {
		if i > 0 {
			b.WriteString(":")
		}
		b.WriteString(strconv.FormatInt(l.Version, 10))
	}
	return b.String()
}

// MaxVersion is the highest version the snapshot reads in any layer
func (s *Snapshot) MaxVersion() int64 {
	var v int64
	for _, l := range s.layers {
		v = max(v, l.Version)
	}
	return v
}

func (s *Snapshot) Release() {
	s.releaseOnce.Do(func() {
		for _, unpin := range s.unpins {
			unpin()
		}
	})
}

type Query struct {
	// Ids restricts the result, empty means all features
	Ids []string
	// Handle is the offset of the first returned feature
	Handle int
	// Limit bounds the page size, 0 means no limit
	Limit int
}

type View struct {
	// Features are ordered by id, SpaceId is the layer that contributed the revision
	Features []featurestorage.Revision
	// ContentUpdatedAt is the newest timestamp of the revisions that decided the view
	ContentUpdatedAt int64
	// Total is the feature count before pagination
	Total int
	// NextHandle is the handle of the next page, -1 when this is the last one
	NextHandle int
}

// Resolve merges the layers: for every id the most leaf-ward revision wins, tombstones remove the id
func (s *Snapshot) Resolve(ctx context.Context, q Query) (View, error) {
	winners := make(map[string]featurestorage.Revision)
	for _, l := range s.layers {
		if l.Version <= 0 {
			continue
		}
		revs, err := s.versions.LatestAt(ctx, l.Space.Id, l.Version, q.Ids)
		if err != nil {
			return View{}, err
		}
		for _, rev := range revs {
			if _, ok := winners[rev.FeatureId]; ok {
				continue
			}
			rev.SpaceId = l.Space.Id
			winners[rev.FeatureId] = rev
		}
	}

	view := View{NextHandle: -1}
	features := make([]featurestorage.Revision, 0, len(winners))
	for _, rev := range winners {
		view.ContentUpdatedAt = max(view.ContentUpdatedAt, rev.Timestamp)
		if !rev.Deleted() {
			features = append(features, rev)
		}
	}
	sort.Slice(features, func(i, j int) bool {
		return features[i].FeatureId < features[j].FeatureId
	})
	view.Total = len(features)
	view.Features = paginate(features, q.Handle, q.Limit)
	if next := max(q.Handle, 0) + len(view.Features); q.Limit > 0 && next < len(features) {
		view.NextHandle = next
	}
	return view, nil
}

func paginate(features []featurestorage.Revision, handle, limit int) []featurestorage.Revision {
	if handle < 0 {
		handle = 0
	}
	if handle >= len(features) {
		return nil
	}
	features = features[handle:]
	if limit > 0 && limit < len(features) {
		features = features[:limit]
	}
	return features
}
