// Package readerstore keeps named version checkpoints per space for incremental consumers.
// A checkpoint is an arbitrary integer, the store does not relate it to the space head.
package readerstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	anystore "github.com/anyproto/any-store"
	"github.com/anyproto/any-store/anyenc"
	"github.com/anyproto/any-store/query"
	"go.uber.org/zap"

	"github.com/heremaps/xyz-hub-sub001/app"
	"github.com/heremaps/xyz-hub-sub001/app/logger"
	"github.com/heremaps/xyz-hub-sub001/huberr"
	"github.com/heremaps/xyz-hub-sub001/metric"
	"github.com/heremaps/xyz-hub-sub001/spacestore"
	"github.com/heremaps/xyz-hub-sub001/storeprovider"
)

const CName = "hub.readerstore"

var log = logger.NewNamed(CName)

var (
	ErrReaderNotFound = huberr.New(huberr.ErrNotFound, "reader not found")
	ErrVersionBehind  = huberr.New(huberr.ErrValidation, "reader version can't move backward")
)

const (
	collName = "readers"

	spaceKey   = "s"
	readerKey  = "r"
	versionKey = "v"
	updatedKey = "u"
)

type Config struct {
	// Monotonic rejects Set calls moving a checkpoint backward
	Monotonic bool `yaml:"monotonic"`
}

type configGetter interface {
	GetReaders() Config
}

type Reader struct {
	Id        string `json:"id"`
	SpaceId   string `json:"spaceId"`
	Version   int64  `json:"version"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

type ReaderStore interface {
	// Create creates the checkpoint at version 1, an existing checkpoint is returned as is
	Create(ctx context.Context, spaceId, readerId string) (Reader, error)
	Get(ctx context.Context, spaceId, readerId string) (Reader, error)
	// Set overwrites the stored version, creating the checkpoint when absent
	Set(ctx context.Context, spaceId, readerId string, version int64) (Reader, error)
	Delete(ctx context.Context, spaceId, readerId string) error
	List(ctx context.Context, spaceId string) ([]Reader, error)
	DeleteSpace(ctx context.Context, spaceId string) error
	// MinVersion returns the lowest checkpoint of the space, ok is false when there are none
	MinVersion(ctx context.Context, spaceId string) (version int64, ok bool, err error)
	app.ComponentRunnable
}

func New() ReaderStore {
	return &readerStore{}
}

type readerStore struct {
	conf     Config
	spaces   spacestore.SpaceStore
	provider storeprovider.StoreProvider
	db       anystore.DB
	coll     anystore.Collection
	timeNow  func() time.Time
}

func (rs *readerStore) Init(a *app.App) (err error) {
	rs.conf = a.MustComponent("config").(configGetter).GetReaders()
	rs.spaces = a.MustComponent(spacestore.CName).(spacestore.SpaceStore)
	rs.provider = a.MustComponent(storeprovider.CName).(storeprovider.StoreProvider)
	rs.timeNow = time.Now
	return nil
}

func (rs *readerStore) Name() (name string) {
	return CName
}

func (rs *readerStore) Run(ctx context.Context) (err error) {
	rs.db = rs.provider.DB()
	if rs.coll, err = rs.db.Collection(ctx, collName); err != nil {
		return err
	}
	return rs.coll.EnsureIndex(ctx, anystore.IndexInfo{Name: "sv", Fields: []string{spaceKey, versionKey}})
}

func docId(spaceId, readerId string) string {
	return spaceId + "/" + readerId
}

func (rs *readerStore) Create(ctx context.Context, spaceId, readerId string) (Reader, error) {
	if _, err := rs.spaces.Get(ctx, spaceId); err != nil {
		return Reader{}, err
	}
	now := rs.timeNow().UnixMilli()
	mod := query.ModifyFunc(func(a *anyenc.Arena, v *anyenc.Value) (*anyenc.Value, bool, error) {
		if v.Get(versionKey) != nil {
			return v, false, nil
		}
		setReader(a, v, spaceId, readerId, 1, now)
		return v, true, nil
	})
	if _, err := rs.coll.UpsertId(ctx, docId(spaceId, readerId), mod); err != nil {
		return Reader{}, err
	}
	log.DebugCtx(ctx, "reader created", metric.SpaceId(spaceId), metric.ReaderId(readerId))
	return rs.Get(ctx, spaceId, readerId)
}

func (rs *readerStore) Get(ctx context.Context, spaceId, readerId string) (Reader, error) {
	doc, err := rs.coll.FindId(ctx, docId(spaceId, readerId))
	if err != nil {
		if errors.Is(err, anystore.ErrDocNotFound) {
			return Reader{}, ErrReaderNotFound
		}
		return Reader{}, err
	}
	return readerFromDoc(doc), nil
}

func (rs *readerStore) Set(ctx context.Context, spaceId, readerId string, version int64) (Reader, error) {
	if _, err := rs.spaces.Get(ctx, spaceId); err != nil {
		return Reader{}, err
	}
	var (
		now    = rs.timeNow().UnixMilli()
		behind bool
	)
	mod := query.ModifyFunc(func(a *anyenc.Arena, v *anyenc.Value) (*anyenc.Value, bool, error) {
		if rs.conf.Monotonic && v.Get(versionKey) != nil && int64(v.GetInt(versionKey)) > version {
			behind = true
			return nil, false, ErrVersionBehind
		}
		setReader(a, v, spaceId, readerId, version, now)
		return v, true, nil
	})
	if _, err := rs.coll.UpsertId(ctx, docId(spaceId, readerId), mod); err != nil {
		if behind {
			return Reader{}, ErrVersionBehind
		}
		return Reader{}, err
	}
	return Reader{Id: readerId, SpaceId: spaceId, Version: version, UpdatedAt: now}, nil
}

func (rs *readerStore) Delete(ctx context.Context, spaceId, readerId string) error {
	err := rs.coll.DeleteId(ctx, docId(spaceId, readerId))
	if errors.Is(err, anystore.ErrDocNotFound) {
		return ErrReaderNotFound
	}
	return err
}

func spaceFilter(spaceId string) query.Key {
	return query.Key{Path: []string{spaceKey}, Filter: query.NewComp(query.CompOpEq, spaceId)}
}

func (rs *readerStore) List(ctx context.Context, spaceId string) (readers []Reader, err error) {
	err = rs.iterate(ctx, rs.coll.Find(spaceFilter(spaceId)).Sort(readerKey), func(r Reader) bool {
		readers = append(readers, r)
		return true
	})
	return
}

func (rs *readerStore) DeleteSpace(ctx context.Context, spaceId string) error {
	readers, err := rs.List(ctx, spaceId)
	if err != nil || len(readers) == 0 {
		return err
	}
	tx, err := rs.db.WriteTx(ctx)
	if err != nil {
		return err
	}
	for _, r := range readers {
		if err = rs.coll.DeleteId(tx.Context(), docId(spaceId, r.Id)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	log.Debug("readers removed", zap.String("spaceId", spaceId), zap.Int("count", len(readers)))
	return tx.Commit()
}

func (rs *readerStore) MinVersion(ctx context.Context, spaceId string) (version int64, ok bool, err error) {
	err = rs.iterate(ctx, rs.coll.Find(spaceFilter(spaceId)).Sort(versionKey).Limit(1), func(r Reader) bool {
		version, ok = r.Version, true
		return false
	})
	return
}

func (rs *readerStore) iterate(ctx context.Context, qry anystore.Query, fn func(r Reader) bool) error {
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
		if !fn(readerFromDoc(doc)) {
			return nil
		}
	}
	return nil
}

func (rs *readerStore) Close(ctx context.Context) (err error) {
	return nil
}

func setReader(a *anyenc.Arena, v *anyenc.Value, spaceId, readerId string, version, updatedAt int64) {
	v.Set(spaceKey, a.NewString(spaceId))
	v.Set(readerKey, a.NewString(readerId))
	v.Set(versionKey, a.NewNumberInt(int(version)))
	v.Set(updatedKey, a.NewNumberInt(int(updatedAt)))
}

func readerFromDoc(doc anystore.Doc) Reader {
	v := doc.Value()
	return Reader{
		Id:        v.GetString(readerKey),
		SpaceId:   v.GetString(spaceKey),
		Version:   int64(v.GetInt(versionKey)),
		UpdatedAt: int64(v.GetInt(updatedKey)),
	}
}
