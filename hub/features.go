package hub

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/heremaps/xyz-hub-sub001/admission"
	"github.com/heremaps/xyz-hub-sub001/composition"
	"github.com/heremaps/xyz-hub-sub001/featurejson"
	"github.com/heremaps/xyz-hub-sub001/featurestorage"
	"github.com/heremaps/xyz-hub-sub001/huberr"
	"github.com/heremaps/xyz-hub-sub001/metric"
	"github.com/heremaps/xyz-hub-sub001/spacestore"
	"github.com/heremaps/xyz-hub-sub001/util/slice"
	"github.com/heremaps/xyz-hub-sub001/versionledger"
)

type WriteResult struct {
	Version int64
	// Body is the FeatureCollection of the written features
	Body []byte
	Ids  []string
}

func (h *hub) writeTarget(ctx context.Context, caller Caller, spaceId string) (spacestore.Space, error) {
	space, err := h.writableSpace(ctx, caller, spaceId)
	if err != nil {
		return space, err
	}
	if !space.Active {
		return space, composition.ErrSpaceInactive
	}
	if space.ReadOnly {
		return space, versionledger.ErrReadOnly
	}
	return space, nil
}

func (h *hub) WriteFeatures(ctx context.Context, caller Caller, spaceId string, body []byte) (res WriteResult, err error) {
	space, err := h.writeTarget(ctx, caller, spaceId)
	if err != nil {
		return
	}
	if err = h.admission.CheckRequestSize(int64(len(body))); err != nil {
		return
	}
	decoded, err := featurejson.DecodeFeatures(body)
	if err != nil {
		return
	}

	// the last occurrence of an id wins
	byId := make(map[string]*featurejson.Feature, len(decoded))
	var features []*featurejson.Feature
	for _, f := range decoded {
		id := f.EnsureId()
		if _, ok := byId[id]; !ok {
			features = append(features, f)
		}
		byId[id] = f
	}
	payloads := make([][]byte, len(features))
	var total int64
	for i, f := range features {
		features[i] = byId[f.Id]
		if payloads[i], err = features[i].Canonical(); err != nil {
			return
		}
		total += int64(len(payloads[i]))
		res.Ids = append(res.Ids, f.Id)
	}

	if len(features) == 0 {
		if res.Version, err = h.ledger.Head(ctx, spaceId); err != nil {
			return
		}
		res.Body, err = featurejson.EncodeCollection(nil, nil)
		return
	}

	var reservation *admission.Reservation
	defer func() { reservation.Release() }()
	ts := h.nowMillis()
	res.Version, err = h.ledger.Write(ctx, spaceId, func(version int64) ([]featurestorage.Revision, error) {
		// quota is checked under the space serialization point, the stored feature count can't change meanwhile
		reqs := []admission.Request{
			{Owner: space.Owner, SpaceId: spaceId, Kind: admission.KindWrite, Amount: int64(len(body))},
			{Owner: space.Owner, SpaceId: spaceId, Kind: admission.KindBytes, Amount: total},
		}
		if h.admission.Enabled(admission.KindFeatures) {
			current, added, gerr := h.featureGrowth(ctx, spaceId, res.Ids)
			if gerr != nil {
				return nil, gerr
			}
			reqs = append(reqs, admission.Request{Owner: space.Owner, SpaceId: spaceId, Kind: admission.KindFeatures, Amount: added, Current: current})
		}
		var rerr error
		if reservation, rerr = h.admission.CheckAndReserve(ctx, reqs...); rerr != nil {
			return nil, rerr
		}
		revs := make([]featurestorage.Revision, len(features))
		for i, f := range features {
			revs[i] = featurestorage.Revision{
				SpaceId:   spaceId,
				FeatureId: f.Id,
				Version:   version,
				Op:        featurestorage.OpUpsert,
				Payload:   payloads[i],
				Timestamp: ts,
			}
		}
		return revs, nil
	})
	if err != nil {
		if !errors.Is(err, huberr.ErrQuotaExceeded) {
			log.WarnCtx(ctx, "write failed", metric.SpaceId(spaceId), metric.FeatureCount(len(features)), zap.Error(err))
		}
		return
	}
	h.refreshUsage(ctx, space)
	reservation.Commit()
	h.afterWrite(ctx, space)

	out := make([][]byte, len(features))
	meta := featurejson.Meta{Space: spaceId, Version: res.Version, UpdatedAt: ts}
	for i, f := range features {
		if out[i], err = f.Encode(meta); err != nil {
			return
		}
	}
	res.Body, err = featurejson.EncodeCollection(out, nil)
	return
}

// featureGrowth returns the stored feature count and how many of ids are new to the space
func (h *hub) featureGrowth(ctx context.Context, spaceId string, ids []string) (current, added int64, err error) {
	head, err := h.ledger.Head(ctx, spaceId)
	if err != nil || head == 0 {
		return 0, int64(len(ids)), err
	}
	revs, err := h.ledger.LatestAt(ctx, spaceId, head, nil)
	if err != nil {
		return
	}
	present := make(map[string]struct{}, len(revs))
	for _, rev := range revs {
		if !rev.Deleted() {
			present[rev.FeatureId] = struct{}{}
		}
	}
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			added++
		}
	}
	return int64(len(present)), added, nil
}

// refreshUsage hands the stored bytes of the space to the owner quota
func (h *hub) refreshUsage(ctx context.Context, space spacestore.Space) {
	if !h.admission.Enabled(admission.KindBytes) {
		return
	}
	usage, err := h.storage.Usage(ctx, space.Id)
	if err != nil {
		log.WarnCtx(ctx, "can't read space usage", metric.SpaceId(space.Id), zap.Error(err))
		return
	}
	h.admission.UpdateUsage(space.Owner, space.Id, usage.Bytes)
}

// pruned runs after the ledger removed revisions of a space
func (h *hub) pruned(ctx context.Context, spaceId string) {
	space, err := h.spaces.Get(ctx, spaceId)
	if err != nil {
		return
	}
	h.refreshUsage(ctx, space)
	h.invalidate(ctx, spaceId)
}

func (h *hub) afterWrite(ctx context.Context, space spacestore.Space) {
	h.invalidate(ctx, space.Id)
	if space.VersionsToKeep > 0 {
		h.ledger.SchedulePrune(space.Id)
	}
}

func (h *hub) DeleteFeatures(ctx context.Context, caller Caller, spaceId string, ids []string) (deleted []string, err error) {
	space, err := h.writeTarget(ctx, caller, spaceId)
	if err != nil {
		return
	}
	ids = slice.Unique(ids)
	if len(ids) == 0 {
		return []string{}, nil
	}

	snap, err := h.resolver.Snapshot(ctx, spaceId, composition.Default, 0)
	if err != nil {
		return
	}
	view, err := snap.Resolve(ctx, composition.Query{Ids: ids})
	snap.Release()
	if err != nil {
		return
	}
	if len(view.Features) == 0 {
		if len(ids) == 1 {
			return nil, ErrFeatureNotFound
		}
		return []string{}, nil
	}
	for _, rev := range view.Features {
		deleted = append(deleted, rev.FeatureId)
	}

	reservation, err := h.admission.CheckAndReserve(ctx, admission.Request{Owner: space.Owner, SpaceId: spaceId, Kind: admission.KindWrite})
	if err != nil {
		return nil, err
	}
	defer reservation.Release()

	ts := h.nowMillis()
	if _, err = h.ledger.Write(ctx, spaceId, func(version int64) ([]featurestorage.Revision, error) {
		revs := make([]featurestorage.Revision, len(deleted))
		for i, id := range deleted {
			revs[i] = featurestorage.Revision{SpaceId: spaceId, FeatureId: id, Version: version, Op: featurestorage.OpDelete, Timestamp: ts}
		}
		return revs, nil
	}); err != nil {
		return nil, err
	}
	h.refreshUsage(ctx, space)
	reservation.Commit()
	h.afterWrite(ctx, space)
	return deleted, nil
}

// PruneRevisions drops history older than before, before <= 0 applies the space retention
func (h *hub) PruneRevisions(ctx context.Context, caller Caller, spaceId string, before int64) (removed int, err error) {
	if _, err = h.writableSpace(ctx, caller, spaceId); err != nil {
		return
	}
	if before <= 0 {
		removed, err = h.ledger.Prune(ctx, spaceId)
	} else {
		removed, err = h.ledger.PruneBefore(ctx, spaceId, before)
	}
	return
}
