package hub

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/heremaps/xyz-hub-sub001/featurejson"
	"github.com/heremaps/xyz-hub-sub001/featurestorage"
	"github.com/heremaps/xyz-hub-sub001/huberr"
)

// HistoryQuery selects the changes written in [Start, End].
// Zero Start begins after the retained floor, zero End stops at the head.
type HistoryQuery struct {
	Start  int64
	End    int64
	Handle int
	Limit  int
}

// Changeset holds the features a version inserted, updated and deleted as FeatureCollections
type Changeset struct {
	Inserted json.RawMessage `json:"inserted"`
	Updated  json.RawMessage `json:"updated"`
	Deleted  json.RawMessage `json:"deleted"`
}

type ChangesetCollection struct {
	Type          string              `json:"type"`
	StartVersion  int64               `json:"startVersion"`
	EndVersion    int64               `json:"endVersion"`
	Versions      map[int64]Changeset `json:"versions"`
	NextPageToken string              `json:"nextPageToken,omitempty"`
}

type HistoryStatistics struct {
	Type       string       `json:"type"`
	Count      Value[int]   `json:"count"`
	ByteSize   Value[int64] `json:"byteSize"`
	MaxVersion Value[int64] `json:"maxVersion"`
	MinVersion Value[int64] `json:"minVersion"`
}

type changeset struct {
	inserted, updated, deleted [][]byte
}

func (c *changeset) encode() (cs Changeset, err error) {
	if cs.Inserted, err = featurejson.EncodeCollection(c.inserted, nil); err != nil {
		return
	}
	if cs.Updated, err = featurejson.EncodeCollection(c.updated, nil); err != nil {
		return
	}
	cs.Deleted, err = featurejson.EncodeCollection(c.deleted, nil)
	return
}

// History returns the changes of a space version by version. Changes of a version are
// classified against the state of the previous version, so that state must still be retained.
// A page may split a version, the token continues with the next revision.
func (h *hub) History(ctx context.Context, caller Caller, spaceId string, q HistoryQuery) (cc ChangesetCollection, err error) {
	cc = ChangesetCollection{Type: "ChangesetCollection", Versions: map[int64]Changeset{}}
	if _, err = h.readableSpace(ctx, caller, spaceId); err != nil {
		return
	}
	if q.Start > 0 && q.End > 0 && q.Start > q.End {
		return cc, huberr.Newf(huberr.ErrValidation, "vStart %d is after vEnd %d", q.Start, q.End)
	}
	head, err := h.ledger.Head(ctx, spaceId)
	if err != nil {
		return
	}
	floor, err := h.ledger.Floor(ctx, spaceId)
	if err != nil {
		return
	}
	start, end := q.Start, q.End
	if start <= 0 {
		start = floor + 1
	}
	if end <= 0 || end > head {
		end = head
	}
	if start > end {
		return cc, nil
	}
	unpin, err := h.ledger.Pin(ctx, spaceId, start-1)
	if err != nil {
		return
	}
	defer unpin()

	revs, err := h.storage.Changes(ctx, spaceId, start, end)
	if err != nil {
		return
	}
	handle, limit := max(q.Handle, 0), h.limit(q.Limit)
	if handle >= len(revs) {
		return cc, nil
	}
	page := revs[handle:min(handle+limit, len(revs))]
	cc.StartVersion, cc.EndVersion = start, end
	if handle > 0 {
		cc.StartVersion = page[0].Version
	}
	if next := handle + len(page); next < len(revs) {
		cc.EndVersion = page[len(page)-1].Version
		cc.NextPageToken = strconv.Itoa(next)
	}

	sets := make(map[int64]*changeset, cc.EndVersion-cc.StartVersion+1)
	for v := cc.StartVersion; v <= cc.EndVersion; v++ {
		sets[v] = &changeset{}
	}
	for i := 0; i < len(page); {
		j := i
		for j < len(page) && page[j].Version == page[i].Version {
			j++
		}
		if err = h.classify(ctx, spaceId, page[i:j], sets[page[i].Version]); err != nil {
			return
		}
		i = j
	}
	for v, set := range sets {
		if cc.Versions[v], err = set.encode(); err != nil {
			return
		}
	}
	return cc, nil
}

// classify sorts the revisions of one version by the state the previous version had
func (h *hub) classify(ctx context.Context, spaceId string, revs []featurestorage.Revision, set *changeset) error {
	version := revs[0].Version
	ids := make([]string, len(revs))
	for i, rev := range revs {
		ids[i] = rev.FeatureId
	}
	previous, err := h.ledger.LatestAt(ctx, spaceId, version-1, ids)
	if err != nil {
		return err
	}
	existed := make(map[string]bool, len(previous))
	for _, rev := range previous {
		existed[rev.FeatureId] = !rev.Deleted()
	}
	for _, rev := range revs {
		meta := featurejson.Meta{Space: spaceId, Version: rev.Version, UpdatedAt: rev.Timestamp}
		if rev.Deleted() {
			encoded, err := (&featurejson.Feature{Id: rev.FeatureId}).Encode(meta)
			if err != nil {
				return err
			}
			set.deleted = append(set.deleted, encoded)
			continue
		}
		encoded, err := featurejson.Decorate(rev.Payload, meta)
		if err != nil {
			return err
		}
		if existed[rev.FeatureId] {
			set.updated = append(set.updated, encoded)
		} else {
			set.inserted = append(set.inserted, encoded)
		}
	}
	return nil
}

func (h *hub) HistoryStatistics(ctx context.Context, caller Caller, spaceId string) (stats HistoryStatistics, err error) {
	stats.Type = "HistoryStatisticsResponse"
	if _, err = h.readableSpace(ctx, caller, spaceId); err != nil {
		return
	}
	usage, err := h.storage.Usage(ctx, spaceId)
	if err != nil {
		return
	}
	if stats.MaxVersion.Value, err = h.ledger.Head(ctx, spaceId); err != nil {
		return
	}
	if stats.MinVersion.Value, err = h.ledger.Floor(ctx, spaceId); err != nil {
		return
	}
	stats.Count.Value = usage.Revisions
	stats.ByteSize.Value = usage.Bytes
	return
}
