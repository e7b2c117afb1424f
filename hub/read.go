package hub

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/heremaps/xyz-hub-sub001/composition"
	"github.com/heremaps/xyz-hub-sub001/featurejson"
	"github.com/heremaps/xyz-hub-sub001/featurestorage"
	"github.com/heremaps/xyz-hub-sub001/metric"
	"github.com/heremaps/xyz-hub-sub001/responsecache"
)

type CacheStatus string

const (
	CacheHit    CacheStatus = "HIT"
	CacheMiss   CacheStatus = "MISS"
	CacheBypass CacheStatus = "BYPASS"
)

type ReadQuery struct {
	Context composition.Context
	// Version reads the state at a past version, 0 reads the heads
	Version   int64
	Ids       []string
	Handle    int
	Limit     int
	SkipCache bool
	// Fingerprint identifies the request parameters in the response cache
	Fingerprint uint64
}

type ReadResult struct {
	Body    []byte
	Cache   CacheStatus
	Version string
}

type Value[T any] struct {
	Value     T    `json:"value"`
	Estimated bool `json:"estimated"`
}

type Statistics struct {
	Type             string           `json:"type"`
	Count            Value[int]       `json:"count"`
	ByteSize         Value[int64]     `json:"byteSize"`
	BBox             Value[[]float64] `json:"bbox"`
	ContentUpdatedAt Value[int64]     `json:"contentUpdatedAt"`
	MaxVersion       Value[int64]     `json:"maxVersion"`
	MinVersion       Value[int64]     `json:"minVersion"`
}

func (h *hub) ReadFeatures(ctx context.Context, caller Caller, spaceId string, q ReadQuery) (ReadResult, error) {
	return h.read(ctx, caller, spaceId, q, func(view composition.View, features [][]byte) ([]byte, error) {
		var extra map[string]any
		if view.NextHandle >= 0 {
			extra = map[string]any{"handle": strconv.Itoa(view.NextHandle)}
		}
		return featurejson.EncodeCollection(features, extra)
	}, composition.Query{Ids: q.Ids, Handle: q.Handle, Limit: h.limit(q.Limit)})
}

func (h *hub) GetFeature(ctx context.Context, caller Caller, spaceId, featureId string, q ReadQuery) (ReadResult, error) {
	return h.read(ctx, caller, spaceId, q, func(view composition.View, features [][]byte) ([]byte, error) {
		if len(features) == 0 {
			return nil, ErrFeatureNotFound
		}
		return features[0], nil
	}, composition.Query{Ids: []string{featureId}})
}

// read pins a snapshot, serves it from the cache when allowed and encodes the resolved view otherwise
func (h *hub) read(ctx context.Context, caller Caller, spaceId string, q ReadQuery, encode func(view composition.View, features [][]byte) ([]byte, error), query composition.Query) (res ReadResult, err error) {
	space, err := h.readableSpace(ctx, caller, spaceId)
	if err != nil {
		return
	}
	snap, err := h.resolver.Snapshot(ctx, spaceId, q.Context, q.Version)
	if err != nil {
		return
	}
	defer snap.Release()
	res.Version = snap.Version()

	res.Cache = CacheBypass
	cacheable := !q.SkipCache && space.CacheTTL > 0
	key := responsecache.Key{
		SpaceId:     spaceId,
		Context:     snap.Context().String(),
		Fingerprint: q.Fingerprint,
		Version:     res.Version,
	}
	if cacheable {
		if body, ok := h.cache.Get(key); ok {
			log.DebugCtx(ctx, "cache hit", metric.SpaceId(spaceId), zap.String("version", res.Version))
			res.Body, res.Cache = body, CacheHit
			return
		}
		res.Cache = CacheMiss
	}

	view, err := snap.Resolve(ctx, query)
	if err != nil {
		return
	}
	features, err := decorate(view.Features)
	if err != nil {
		return
	}
	if res.Body, err = encode(view, features); err != nil {
		return
	}
	if cacheable {
		h.cache.Put(key, res.Body, time.Duration(space.CacheTTL)*time.Second)
	}
	return
}

func decorate(revs []featurestorage.Revision) ([][]byte, error) {
	out := make([][]byte, len(revs))
	for i, rev := range revs {
		payload, err := featurejson.Decorate(rev.Payload, featurejson.Meta{Space: rev.SpaceId, Version: rev.Version, UpdatedAt: rev.Timestamp})
		if err != nil {
			return nil, err
		}
		out[i] = payload
	}
	return out, nil
}

func (h *hub) Statistics(ctx context.Context, caller Caller, spaceId string, c composition.Context) (stats Statistics, err error) {
	if _, err = h.readableSpace(ctx, caller, spaceId); err != nil {
		return
	}
	snap, err := h.resolver.Snapshot(ctx, spaceId, c, 0)
	if err != nil {
		return
	}
	defer snap.Release()
	return h.statistics(ctx, snap)
}

func (h *hub) statistics(ctx context.Context, snap *composition.Snapshot) (stats Statistics, err error) {
	view, err := snap.Resolve(ctx, composition.Query{})
	if err != nil {
		return
	}
	stats.Type = "StatisticsResponse"
	bbox := featurejson.NewBBox()
	for _, rev := range view.Features {
		stats.ByteSize.Value += int64(rev.Size())
		g, gErr := featurejson.Geometry(rev.Payload)
		if gErr != nil {
			log.WarnCtx(ctx, "stored feature has an invalid geometry", metric.SpaceId(rev.SpaceId), zap.String("featureId", rev.FeatureId), zap.Error(gErr))
			continue
		}
		if g != nil {
			bbox.Add(g)
		}
	}
	stats.Count.Value = len(view.Features)
	if !bbox.Empty() {
		stats.BBox.Value = bbox.Bounds()
	}
	stats.ContentUpdatedAt.Value = view.ContentUpdatedAt
	if stats.ContentUpdatedAt.Value == 0 {
		for _, l := range snap.Layers() {
			stats.ContentUpdatedAt.Value = max(stats.ContentUpdatedAt.Value, l.Space.CreatedAt)
		}
	}
	leaf := snap.Leaf().Id
	if stats.MaxVersion.Value, err = h.ledger.Head(ctx, leaf); err != nil {
		return
	}
	stats.MinVersion.Value, err = h.ledger.Floor(ctx, leaf)
	return
}
