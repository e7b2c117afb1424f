package spacestore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	anystore "github.com/anyproto/any-store"
	"github.com/anyproto/any-store/anyenc"
	"github.com/anyproto/any-store/query"

	"github.com/heremaps/xyz-hub-sub001/app"
	"github.com/heremaps/xyz-hub-sub001/app/logger"
	"github.com/heremaps/xyz-hub-sub001/huberr"
	"github.com/heremaps/xyz-hub-sub001/storeprovider"
)

const CName = "hub.spacestore"

var log = logger.NewNamed(CName)

var (
	ErrSpaceNotFound = huberr.New(huberr.ErrNotFound, "space not found")
	ErrSpaceExists   = huberr.New(huberr.ErrConflict, "space already exists")
)

const (
	collName = "spaces"

	idKey             = "id"
	ownerKey          = "o"
	titleKey          = "t"
	descriptionKey    = "d"
	extendsKey        = "e"
	versionsToKeepKey = "k"
	cacheTTLKey       = "c"
	readOnlyKey       = "r"
	sharedKey         = "sh"
	inactiveKey       = "ia"
	createdAtKey      = "ca"
	updatedAtKey      = "ua"
)

type SpaceStore interface {
	Get(ctx context.Context, id string) (Space, error)
	Create(ctx context.Context, space Space) error
	Update(ctx context.Context, space Space) error
	Delete(ctx context.Context, id string) error
	// List returns all spaces ordered by id
	List(ctx context.Context) ([]Space, error)
	// Dependents returns spaces directly extending id
	Dependents(ctx context.Context, id string) ([]Space, error)
	app.ComponentRunnable
}

func New() SpaceStore {
	return &spaceStore{}
}

type spaceStore struct {
	provider storeprovider.StoreProvider
	coll     anystore.Collection

	// guards create against a concurrent create of the same id
	mu    sync.Mutex
	arena *anyenc.Arena
}

func (s *spaceStore) Init(a *app.App) (err error) {
	s.provider = a.MustComponent(storeprovider.CName).(storeprovider.StoreProvider)
	s.arena = &anyenc.Arena{}
	return nil
}

func (s *spaceStore) Name() (name string) {
	return CName
}

func (s *spaceStore) Run(ctx context.Context) (err error) {
	if s.coll, err = s.provider.DB().Collection(ctx, collName); err != nil {
		return err
	}
	if err = s.coll.EnsureIndex(ctx, anystore.IndexInfo{Name: extendsKey, Fields: []string{extendsKey}, Sparse: true}); err != nil {
		return err
	}
	return s.coll.EnsureIndex(ctx, anystore.IndexInfo{Name: ownerKey, Fields: []string{ownerKey}})
}

func (s *spaceStore) Get(ctx context.Context, id string) (Space, error) {
	doc, err := s.coll.FindId(ctx, id)
	if err != nil {
		if errors.Is(err, anystore.ErrDocNotFound) {
			return Space{}, ErrSpaceNotFound
		}
		return Space{}, err
	}
	return spaceFromDoc(doc), nil
}

func (s *spaceStore) Create(ctx context.Context, space Space) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.coll.FindId(ctx, space.Id)
	if err == nil {
		return ErrSpaceExists
	}
	if !errors.Is(err, anystore.ErrDocNotFound) {
		return err
	}
	defer s.arena.Reset()
	return s.coll.Insert(ctx, s.toValue(space))
}

func (s *spaceStore) Update(ctx context.Context, space Space) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.coll.FindId(ctx, space.Id); err != nil {
		if errors.Is(err, anystore.ErrDocNotFound) {
			return ErrSpaceNotFound
		}
		return err
	}
	defer s.arena.Reset()
	return s.coll.UpsertOne(ctx, s.toValue(space))
}

func (s *spaceStore) Delete(ctx context.Context, id string) error {
	err := s.coll.DeleteId(ctx, id)
	if errors.Is(err, anystore.ErrDocNotFound) {
		return ErrSpaceNotFound
	}
	return err
}

func (s *spaceStore) List(ctx context.Context) ([]Space, error) {
	return s.find(ctx, s.coll.Find(nil).Sort(idKey))
}

func (s *spaceStore) Dependents(ctx context.Context, id string) ([]Space, error) {
	return s.find(ctx, s.coll.Find(query.Key{Path: []string{extendsKey}, Filter: query.NewComp(query.CompOpEq, id)}).Sort(idKey))
}

func (s *spaceStore) find(ctx context.Context, qry anystore.Query) (spaces []Space, err error) {
	iter, err := qry.Iter(ctx)
	if err != nil {
		return nil, fmt.Errorf("find iter: %w", err)
	}
	defer iter.Close()
	for iter.Next() {
		doc, err := iter.Doc()
		if err != nil {
			return nil, err
		}
		spaces = append(spaces, spaceFromDoc(doc))
	}
	return spaces, nil
}

func (s *spaceStore) Close(ctx context.Context) (err error) {
	return nil
}

// toValue must be called under s.mu, the arena is reset by the caller
func (s *spaceStore) toValue(space Space) *anyenc.Value {
	a := s.arena
	v := a.NewObject()
	v.Set(idKey, a.NewString(space.Id))
	v.Set(ownerKey, a.NewString(space.Owner))
	v.Set(titleKey, a.NewString(space.Title))
	if space.Description != "" {
		v.Set(descriptionKey, a.NewString(space.Description))
	}
	if parent := space.ParentId(); parent != "" {
		v.Set(extendsKey, a.NewString(parent))
	}
	v.Set(versionsToKeepKey, a.NewNumberInt(int(space.VersionsToKeep)))
	v.Set(cacheTTLKey, a.NewNumberInt(int(space.CacheTTL)))
	if space.ReadOnly {
		v.Set(readOnlyKey, a.NewTrue())
	}
	if space.Shared {
		v.Set(sharedKey, a.NewTrue())
	}
	if !space.Active {
		v.Set(inactiveKey, a.NewTrue())
	}
	v.Set(createdAtKey, a.NewNumberInt(int(space.CreatedAt)))
	v.Set(updatedAtKey, a.NewNumberInt(int(space.UpdatedAt)))
	return v
}

func spaceFromDoc(doc anystore.Doc) Space {
	v := doc.Value()
	space := Space{
		Id:             v.GetString(idKey),
		Owner:          v.GetString(ownerKey),
		Title:          v.GetString(titleKey),
		Description:    v.GetString(descriptionKey),
		VersionsToKeep: int64(v.GetInt(versionsToKeepKey)),
		CacheTTL:       int64(v.GetInt(cacheTTLKey)),
		ReadOnly:       v.GetBool(readOnlyKey),
		Shared:         v.GetBool(sharedKey),
		Active:         !v.GetBool(inactiveKey),
		CreatedAt:      int64(v.GetInt(createdAtKey)),
		UpdatedAt:      int64(v.GetInt(updatedAtKey)),
	}
	if parent := v.GetString(extendsKey); parent != "" {
		space.Extends = &Extends{SpaceId: parent}
	}
	return space
}
