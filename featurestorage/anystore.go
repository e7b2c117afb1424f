package featurestorage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	anystore "github.com/anyproto/any-store"
	"github.com/anyproto/any-store/anyenc"
	"github.com/anyproto/any-store/query"
	"go.uber.org/zap"

	"github.com/heremaps/xyz-hub-sub001/app"
	"github.com/heremaps/xyz-hub-sub001/storeprovider"
)

const maxVersion = math.MaxInt64

const (
	revisionsCollName = "revisions"

	idKey        = "id"
	spaceKey     = "s"
	featureKey   = "f"
	versionKey   = "v"
	opKey        = "o"
	payloadKey   = "p"
	timestampKey = "t"
)

var arenaPool = &anyenc.ArenaPool{}

// NewAnyStore returns a storage keeping revisions in the shared any-store database
func NewAnyStore() FeatureStorage {
	return &anyStorage{}
}

type anyStorage struct {
	provider storeprovider.StoreProvider
	db       anystore.DB
	coll     anystore.Collection
}

func (s *anyStorage) Init(a *app.App) (err error) {
	s.provider = a.MustComponent(storeprovider.CName).(storeprovider.StoreProvider)
	return nil
}

func (s *anyStorage) Name() (name string) {
	return CName
}

func (s *anyStorage) Run(ctx context.Context) (err error) {
	s.db = s.provider.DB()
	if s.coll, err = s.db.Collection(ctx, revisionsCollName); err != nil {
		return err
	}
	if err = s.coll.EnsureIndex(ctx, anystore.IndexInfo{
		Name:   "sfv",
		Fields: []string{spaceKey, featureKey, versionKey},
	}); err != nil {
		return err
	}
	return s.coll.EnsureIndex(ctx, anystore.IndexInfo{
		Name:   "sv",
		Fields: []string{spaceKey, versionKey},
	})
}

func revisionId(spaceId, featureId string, version int64) string {
	return spaceId + "/" + strconv.FormatInt(version, 10) + "/" + featureId
}

func (s *anyStorage) WriteRevisions(ctx context.Context, spaceId string, revs []Revision) (err error) {
	tx, err := s.db.WriteTx(ctx)
	if err != nil {
		return err
	}
	arena := arenaPool.Get()
	defer arenaPool.Put(arena)
	for _, rev := range revs {
		arena.Reset()
		v := arena.NewObject()
		v.Set(idKey, arena.NewString(revisionId(spaceId, rev.FeatureId, rev.Version)))
		v.Set(spaceKey, arena.NewString(spaceId))
		v.Set(featureKey, arena.NewString(rev.FeatureId))
		v.Set(versionKey, arena.NewNumberInt(int(rev.Version)))
		v.Set(opKey, arena.NewNumberInt(int(rev.Op)))
		v.Set(payloadKey, arena.NewBinary(rev.Payload))
		v.Set(timestampKey, arena.NewNumberInt(int(rev.Timestamp)))
		if err = s.coll.UpsertOne(tx.Context(), v); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write revision %s: %w", rev.FeatureId, err)
		}
	}
	return tx.Commit()
}

func spaceFilter(spaceId string) query.Key {
	return query.Key{Path: []string{spaceKey}, Filter: query.NewComp(query.CompOpEq, spaceId)}
}

func (s *anyStorage) Latest(ctx context.Context, spaceId string, version int64, ids []string) (res []Revision, err error) {
	notAfter := query.Key{Path: []string{versionKey}, Filter: query.NewComp(query.CompOpLte, int(version))}
	if len(ids) == 0 {
		var last string
		err = s.iterate(ctx, s.coll.Find(query.And{spaceFilter(spaceId), notAfter}).Sort(featureKey, "-"+versionKey), func(rev Revision) bool {
			if rev.FeatureId != last || len(res) == 0 {
				res = append(res, rev)
				last = rev.FeatureId
			}
			return true
		})
		return
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for i, id := range sorted {
		if i > 0 && sorted[i-1] == id {
			continue
		}
		qry := s.coll.Find(query.And{
			spaceFilter(spaceId),
			query.Key{Path: []string{featureKey}, Filter: query.NewComp(query.CompOpEq, id)},
			notAfter,
		}).Sort("-" + versionKey).Limit(1)
		if err = s.iterate(ctx, qry, func(rev Revision) bool {
			res = append(res, rev)
			return false
		}); err != nil {
			return nil, err
		}
	}
	return
}

func (s *anyStorage) Changes(ctx context.Context, spaceId string, from, to int64) (res []Revision, err error) {
	qry := s.coll.Find(query.And{
		spaceFilter(spaceId),
		query.Key{Path: []string{versionKey}, Filter: query.NewComp(query.CompOpGte, int(from))},
		query.Key{Path: []string{versionKey}, Filter: query.NewComp(query.CompOpLte, int(to))},
	}).Sort(versionKey, featureKey)
	err = s.iterate(ctx, qry, func(rev Revision) bool {
		res = append(res, rev)
		return true
	})
	return
}

func (s *anyStorage) Prune(ctx context.Context, spaceId string, floor int64) (removed int, err error) {
	var (
		stale []string
		last  string
		first = true
	)
	qry := s.coll.Find(query.And{
		spaceFilter(spaceId),
		query.Key{Path: []string{versionKey}, Filter: query.NewComp(query.CompOpLte, int(floor))},
	}).Sort(featureKey, "-"+versionKey)
	if err = s.iterate(ctx, qry, func(rev Revision) bool {
		if first || rev.FeatureId != last {
			first, last = false, rev.FeatureId
			return true
		}
		stale = append(stale, revisionId(spaceId, rev.FeatureId, rev.Version))
		return true
	}); err != nil {
		return 0, err
	}
	if err = s.deleteIds(ctx, stale); err != nil {
		return 0, err
	}
	if len(stale) > 0 {
		log.Debug("revisions pruned", zap.String("spaceId", spaceId), zap.Int64("floor", floor), zap.Int("removed", len(stale)))
	}
	return len(stale), nil
}

func (s *anyStorage) DeleteVersion(ctx context.Context, spaceId string, version int64) (err error) {
	var ids []string
	qry := s.coll.Find(query.And{
		spaceFilter(spaceId),
		query.Key{Path: []string{versionKey}, Filter: query.NewComp(query.CompOpEq, int(version))},
	})
	if err = s.iterate(ctx, qry, func(rev Revision) bool {
		ids = append(ids, revisionId(spaceId, rev.FeatureId, rev.Version))
		return true
	}); err != nil {
		return err
	}
	return s.deleteIds(ctx, ids)
}

func (s *anyStorage) DeleteSpace(ctx context.Context, spaceId string) (err error) {
	var ids []string
	if err = s.iterate(ctx, s.coll.Find(spaceFilter(spaceId)), func(rev Revision) bool {
		ids = append(ids, revisionId(spaceId, rev.FeatureId, rev.Version))
		return true
	}); err != nil {
		return err
	}
	return s.deleteIds(ctx, ids)
}

func (s *anyStorage) deleteIds(ctx context.Context, ids []string) (err error) {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.WriteTx(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err = s.coll.DeleteId(tx.Context(), id); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *anyStorage) Usage(ctx context.Context, spaceId string) (u Usage, err error) {
	err = s.iterate(ctx, s.coll.Find(spaceFilter(spaceId)), func(rev Revision) bool {
		u.Revisions++
		u.Bytes += int64(rev.Size())
		return true
	})
	return
}

func (s *anyStorage) iterate(ctx context.Context, qry anystore.Query, fn func(rev Revision) bool) error {
	iter, err := qry.Iter(ctx)
	if err != nil {
		return fmt.Errorf("find iter: %w", err)
	}
	defer iter.Close()
	for iter.Next() {
		doc, err := iter.Doc()
		if err != nil {
			return err
		}
		if !fn(revisionFromDoc(doc)) {
			return nil
		}
	}
	return nil
}

func revisionFromDoc(doc anystore.Doc) Revision {
	v := doc.Value()
	return Revision{
		SpaceId:   v.GetString(spaceKey),
		FeatureId: v.GetString(featureKey),
		Version:   int64(v.GetInt(versionKey)),
		Op:        Operation(v.GetInt(opKey)),
		Payload:   append([]byte(nil), v.GetBytes(payloadKey)...),
		Timestamp: int64(v.GetInt(timestampKey)),
	}
}

func (s *anyStorage) Close(ctx context.Context) (err error) {
	return nil
}
