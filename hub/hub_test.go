package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	anystore "github.com/anyproto/any-store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/heremaps/xyz-hub-sub001/admission"
	"github.com/heremaps/xyz-hub-sub001/admission/mock_admission"
	"github.com/heremaps/xyz-hub-sub001/app"
	"github.com/heremaps/xyz-hub-sub001/composition"
	"github.com/heremaps/xyz-hub-sub001/featurejson"
	"github.com/heremaps/xyz-hub-sub001/featurestorage"
	"github.com/heremaps/xyz-hub-sub001/huberr"
	"github.com/heremaps/xyz-hub-sub001/readerstore"
	"github.com/heremaps/xyz-hub-sub001/responsecache"
	"github.com/heremaps/xyz-hub-sub001/spacestore"
	"github.com/heremaps/xyz-hub-sub001/storeprovider"
	"github.com/heremaps/xyz-hub-sub001/versionledger"
)

var ctx = context.Background()

var (
	u1    = Caller{Owner: "u1"}
	u2    = Caller{Owner: "u2"}
	admin = Caller{Owner: "root", Admin: true}
)

func TestHub_ListSpaces(t *testing.T) {
	fx := newFixture(t)
	defer fx.finish(t)
	for i := 0; i < 5; i++ {
		fx.createSpace(t, u1, fmt.Sprintf(`{"id":"own%d"}`, i))
	}
	fx.createSpace(t, u2, `{"id":"other0","shared":true}`)
	fx.createSpace(t, u2, `{"id":"other1","shared":true}`)
	fx.createSpace(t, u2, `{"id":"other2"}`)

	for _, tc := range []struct {
		handle, limit int
		me, all       int
	}{
		{0, 10, 5, 7},
		{1, 10, 4, 6},
		{0, 3, 3, 3},
		{3, 3, 2, 3},
		{6, 3, 0, 1},
	} {
		t.Run(fmt.Sprintf("handle=%d,limit=%d", tc.handle, tc.limit), func(t *testing.T) {
			me, err := fx.ListSpaces(ctx, u1, ListQuery{Owner: "me", Handle: tc.handle, Limit: tc.limit})
			require.NoError(t, err)
			assert.Len(t, me, tc.me)
			all, err := fx.ListSpaces(ctx, u1, ListQuery{Owner: "*", Handle: tc.handle, Limit: tc.limit})
			require.NoError(t, err)
			assert.Len(t, all, tc.all)
		})
	}
	t.Run("others", func(t *testing.T) {
		others, err := fx.ListSpaces(ctx, u1, ListQuery{Owner: "others"})
		require.NoError(t, err)
		assert.Equal(t, []string{"other0", "other1"}, spaceIds(others))

		others, err = fx.ListSpaces(ctx, admin, ListQuery{Owner: "u2"})
		require.NoError(t, err)
		assert.Len(t, others, 3)
	})
}

func TestHub_CreateSpace(t *testing.T) {
	fx := newFixtureWithQuota(t, admission.Config{MaxSpacesPerOwner: 2})
	defer fx.finish(t)

	space, err := fx.CreateSpace(ctx, u1, []byte(`{"title":"generated"}`))
	require.NoError(t, err)
	assert.Len(t, space.Id, 8)
	assert.Equal(t, "u1", space.Owner)
	assert.True(t, space.Active)

	t.Run("exists", func(t *testing.T) {
		_, err := fx.CreateSpace(ctx, u1, []byte(fmt.Sprintf(`{"id":%q}`, space.Id)))
		require.ErrorIs(t, err, spacestore.ErrSpaceExists)
	})
	t.Run("foreign owner", func(t *testing.T) {
		_, err := fx.CreateSpace(ctx, u1, []byte(`{"id":"x","owner":"u2"}`))
		require.ErrorIs(t, err, huberr.ErrForbidden)
	})
	t.Run("invalid", func(t *testing.T) {
		_, err := fx.CreateSpace(ctx, u1, []byte(`{"id":"bad id"}`))
		require.ErrorIs(t, err, huberr.ErrValidation)
		_, err = fx.CreateSpace(ctx, u1, []byte(`{"id":"child","extends":{"spaceId":"absent"}}`))
		require.ErrorIs(t, err, huberr.ErrValidation)
	})
	t.Run("quota denial carries the id", func(t *testing.T) {
		_, err := fx.CreateSpace(ctx, u1, []byte(`{"id":"second"}`))
		require.NoError(t, err)
		denied, err := fx.CreateSpace(ctx, u1, []byte(`{"title":"third"}`))
		require.ErrorIs(t, err, huberr.ErrQuotaExceeded)
		assert.Equal(t, 403, huberr.HTTPStatus(err))
		var qe *huberr.QuotaError
		require.ErrorAs(t, err, &qe)
		assert.NotEmpty(t, denied.Id)
		assert.Equal(t, denied.Id, qe.EntityId)
		_, err = fx.spaces.Get(ctx, denied.Id)
		require.ErrorIs(t, err, spacestore.ErrSpaceNotFound)
	})
	t.Run("delete frees quota", func(t *testing.T) {
		_, err := fx.DeleteSpace(ctx, u1, "second")
		require.NoError(t, err)
		_, err = fx.CreateSpace(ctx, u1, []byte(`{"id":"third"}`))
		require.NoError(t, err)
	})
}

func TestHub_PatchSpace(t *testing.T) {
	fx := newFixture(t)
	defer fx.finish(t)
	fx.createSpace(t, u1, `{"id":"s1","title":"old"}`)

	for _, patch := range []string{`{"id":"s2"}`, `{"createdAt":1}`, `{"updatedAt":1}`} {
		_, err := fx.PatchSpace(ctx, u1, "s1", []byte(patch))
		require.ErrorIs(t, err, huberr.ErrValidation, patch)
	}
	_, err := fx.PatchSpace(ctx, u1, "s1", []byte(`{"owner":"u2"}`))
	require.ErrorIs(t, err, huberr.ErrForbidden)
	_, err = fx.PatchSpace(ctx, u2, "s1", []byte(`{"title":"new"}`))
	require.ErrorIs(t, err, ErrNoAccess)

	space, err := fx.PatchSpace(ctx, u1, "s1", []byte(`{"id":"s1","title":"new","cacheTTL":30}`))
	require.NoError(t, err)
	assert.Equal(t, "new", space.Title)
	assert.Equal(t, int64(30), space.CacheTTL)

	space, err = fx.PatchSpace(ctx, admin, "s1", []byte(`{"owner":"u2"}`))
	require.NoError(t, err)
	assert.Equal(t, "u2", space.Owner)
	assert.Equal(t, "new", space.Title)
}

func TestHub_WriteRead(t *testing.T) {
	fx := newFixture(t)
	defer fx.finish(t)
	fx.createSpace(t, u1, `{"id":"s1"}`)

	res := fx.write(t, u1, "s1", "a", "b")
	assert.Equal(t, int64(1), res.Version)
	assert.Equal(t, []string{"a", "b"}, res.Ids)
	written := decodeCollection(t, res.Body)
	require.Len(t, written.Features, 2)
	assert.Equal(t, featurejson.Meta{Space: "s1", Version: 1, UpdatedAt: fx.now}, written.Features[0].meta(t))

	t.Run("last occurrence wins", func(t *testing.T) {
		res, err := fx.WriteFeatures(ctx, u1, "s1", []byte(`{"type":"FeatureCollection","features":[
			{"type":"Feature","id":"c","geometry":null,"properties":{"n":1}},
			{"type":"Feature","id":"c","geometry":null,"properties":{"n":2}}]}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, res.Ids)
		got := fx.readOne(t, u1, "s1", "c")
		assert.Equal(t, json.Number("2"), got.Properties["n"])
		assert.Equal(t, int64(2), got.meta(t).Version)
	})
	t.Run("id generated", func(t *testing.T) {
		res, err := fx.WriteFeatures(ctx, u1, "s1", []byte(`{"type":"Feature","geometry":null,"properties":{}}`))
		require.NoError(t, err)
		require.Len(t, res.Ids, 1)
		assert.NotEmpty(t, res.Ids[0])
	})
	t.Run("invalid body", func(t *testing.T) {
		_, err := fx.WriteFeatures(ctx, u1, "s1", []byte(`{"type":"Point"}`))
		require.ErrorIs(t, err, huberr.ErrValidation)
	})
	t.Run("no access", func(t *testing.T) {
		_, err := fx.WriteFeatures(ctx, u2, "s1", featureBody("x"))
		require.ErrorIs(t, err, ErrNoAccess)
		_, err = fx.ReadFeatures(ctx, u2, "s1", ReadQuery{})
		require.ErrorIs(t, err, ErrNoAccess)
	})
	t.Run("read-only", func(t *testing.T) {
		fx.createSpace(t, u1, `{"id":"ro","readOnly":true}`)
		_, err := fx.WriteFeatures(ctx, u1, "ro", featureBody("x"))
		require.ErrorIs(t, err, versionledger.ErrReadOnly)
		assert.Equal(t, 405, huberr.HTTPStatus(err))
	})
	t.Run("pagination", func(t *testing.T) {
		res, err := fx.ReadFeatures(ctx, u1, "s1", ReadQuery{Limit: 2})
		require.NoError(t, err)
		page := decodeCollection(t, res.Body)
		assert.Len(t, page.Features, 2)
		assert.Equal(t, "2", page.Handle)

		res, err = fx.ReadFeatures(ctx, u1, "s1", ReadQuery{Limit: 2, Handle: 2})
		require.NoError(t, err)
		page = decodeCollection(t, res.Body)
		assert.Len(t, page.Features, 2)
		assert.Empty(t, page.Handle)
	})
	t.Run("version", func(t *testing.T) {
		res, err := fx.ReadFeatures(ctx, u1, "s1", ReadQuery{Version: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, decodeCollection(t, res.Body).ids())
		assert.Equal(t, "@1:1", res.Version)
	})
	t.Run("get feature", func(t *testing.T) {
		_, err := fx.GetFeature(ctx, u1, "s1", "absent", ReadQuery{})
		require.ErrorIs(t, err, ErrFeatureNotFound)
		assert.Equal(t, 404, huberr.HTTPStatus(err))
		got := fx.readOne(t, u1, "s1", "a")
		assert.Equal(t, "a", got.Id)
	})
}

func TestHub_DeleteFeatures(t *testing.T) {
	fx := newFixture(t)
	defer fx.finish(t)
	fx.createSpace(t, u1, `{"id":"base"}`)
	fx.createSpace(t, u1, `{"id":"child","extends":{"spaceId":"base"}}`)
	fx.write(t, u1, "base", "a", "b")
	fx.write(t, u1, "child", "c")

	_, err := fx.DeleteFeatures(ctx, u1, "child", []string{"absent"})
	require.ErrorIs(t, err, ErrFeatureNotFound)

	deleted, err := fx.DeleteFeatures(ctx, u1, "child", []string{"a", "a", "absent", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, deleted)

	assert.Equal(t, []string{"b"}, fx.readIds(t, u1, "child", composition.Default))
	assert.Equal(t, []string{"a", "b"}, fx.readIds(t, u1, "base", composition.Default))
	assert.Equal(t, []string{}, fx.readIds(t, u1, "child", composition.Extension))
}

func TestHub_Contexts(t *testing.T) {
	fx := newFixture(t)
	defer fx.finish(t)
	fx.createSpace(t, u1, `{"id":"base"}`)
	fx.createSpace(t, u1, `{"id":"child","extends":{"spaceId":"base"}}`)
	fx.write(t, u1, "base", "a", "b")
	fx.write(t, u1, "child", "b", "c")

	assert.Equal(t, []string{"a", "b", "c"}, fx.readIds(t, u1, "child", composition.Default))
	assert.Equal(t, []string{"b", "c"}, fx.readIds(t, u1, "child", composition.Extension))
	assert.Equal(t, []string{"a", "b"}, fx.readIds(t, u1, "child", composition.Super))

	b := fx.readOne(t, u1, "child", "b")
	assert.Equal(t, "child", b.meta(t).Space)
	a := fx.readOne(t, u1, "child", "a")
	assert.Equal(t, "base", a.meta(t).Space)

	t.Run("parent deleted", func(t *testing.T) {
		_, err := fx.DeleteSpace(ctx, u1, "base")
		require.NoError(t, err)
		child, err := fx.GetSpace(ctx, u1, "child")
		require.NoError(t, err)
		assert.False(t, child.Active)

		_, err = fx.WriteFeatures(ctx, u1, "child", featureBody("x"))
		require.ErrorIs(t, err, composition.ErrSpaceInactive)
		_, err = fx.ReadFeatures(ctx, u1, "child", ReadQuery{})
		require.ErrorIs(t, err, composition.ErrSpaceInactive)
		assert.Equal(t, 428, huberr.HTTPStatus(err))
	})
}

func TestHub_DeleteRecreate(t *testing.T) {
	fx := newFixture(t)
	defer fx.finish(t)
	fx.createSpace(t, u1, `{"id":"s1","cacheTTL":60}`)
	fx.write(t, u1, "s1", "a", "b")
	_, err := fx.CreateReader(ctx, u1, "s1", "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, fx.readIds(t, u1, "s1", composition.Default))

	_, err = fx.DeleteSpace(ctx, u1, "s1")
	require.NoError(t, err)
	_, err = fx.GetSpace(ctx, u1, "s1")
	require.ErrorIs(t, err, spacestore.ErrSpaceNotFound)

	fx.createSpace(t, u1, `{"id":"s1","cacheTTL":60}`)
	assert.Equal(t, []string{}, fx.readIds(t, u1, "s1", composition.Default))
	readers, err := fx.ListReaders(ctx, u1, "s1")
	require.NoError(t, err)
	assert.Empty(t, readers)

	res := fx.write(t, u1, "s1", "c")
	assert.Equal(t, int64(1), res.Version)
	assert.Equal(t, []string{"c"}, fx.readIds(t, u1, "s1", composition.Default))
}

func TestHub_Cache(t *testing.T) {
	fx := newFixture(t)
	defer fx.finish(t)
	fx.createSpace(t, u1, `{"id":"base","cacheTTL":60}`)
	fx.createSpace(t, u1, `{"id":"child","cacheTTL":60,"extends":{"spaceId":"base"}}`)
	fx.write(t, u1, "base", "a")
	fx.write(t, u1, "child", "b")

	q := ReadQuery{Fingerprint: 42}
	first, err := fx.ReadFeatures(ctx, u1, "child", q)
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, first.Cache)
	calls := fx.storage.latest.Load()

	second, err := fx.ReadFeatures(ctx, u1, "child", q)
	require.NoError(t, err)
	assert.Equal(t, CacheHit, second.Cache)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, calls, fx.storage.latest.Load())

	bypass, err := fx.ReadFeatures(ctx, u1, "child", ReadQuery{Fingerprint: 42, SkipCache: true})
	require.NoError(t, err)
	assert.Equal(t, CacheBypass, bypass.Cache)
	assert.Equal(t, first.Body, bypass.Body)
	assert.Greater(t, fx.storage.latest.Load(), calls)

	t.Run("ancestor write invalidates", func(t *testing.T) {
		fx.write(t, u1, "base", "c")
		res, err := fx.ReadFeatures(ctx, u1, "child", q)
		require.NoError(t, err)
		assert.Equal(t, CacheMiss, res.Cache)
		assert.Equal(t, []string{"a", "b", "c"}, decodeCollection(t, res.Body).ids())
	})
	t.Run("ttl disabled", func(t *testing.T) {
		fx.createSpace(t, u1, `{"id":"nocache"}`)
		res, err := fx.ReadFeatures(ctx, u1, "nocache", q)
		require.NoError(t, err)
		assert.Equal(t, CacheBypass, res.Cache)
	})
}

func TestHub_Statistics(t *testing.T) {
	fx := newFixture(t)
	defer fx.finish(t)
	fx.createSpace(t, u1, `{"id":"s1"}`)

	stats, err := fx.Statistics(ctx, u1, "s1", composition.Default)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count.Value)
	assert.Nil(t, stats.BBox.Value)
	assert.Equal(t, fx.now, stats.ContentUpdatedAt.Value)

	_, err = fx.WriteFeatures(ctx, u1, "s1", []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","id":"a","geometry":{"type":"Point","coordinates":[10,20]},"properties":{}},
		{"type":"Feature","id":"b","geometry":{"type":"Point","coordinates":[-5,40]},"properties":{}}]}`))
	require.NoError(t, err)
	fx.write(t, u1, "s1", "c")

	stats, err = fx.Statistics(ctx, u1, "s1", composition.Default)
	require.NoError(t, err)
	assert.Equal(t, "StatisticsResponse", stats.Type)
	assert.Equal(t, 3, stats.Count.Value)
	assert.Greater(t, stats.ByteSize.Value, int64(0))
	require.Len(t, stats.BBox.Value, 4)
	assert.InDelta(t, -5, stats.BBox.Value[0], 1e-9)
	assert.InDelta(t, 0, stats.BBox.Value[1], 1e-9)
	assert.InDelta(t, 10, stats.BBox.Value[2], 1e-9)
	assert.InDelta(t, 40, stats.BBox.Value[3], 1e-9)
	assert.Equal(t, int64(2), stats.MaxVersion.Value)
	assert.False(t, stats.ContentUpdatedAt.Estimated)
}

func TestHub_Readers(t *testing.T) {
	fx := newFixture(t)
	defer fx.finish(t)
	fx.createSpace(t, u1, `{"id":"s1"}`)

	r, err := fx.CreateReader(ctx, u1, "s1", "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Version)

	r, err = fx.SetReader(ctx, u1, "s1", "r1", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), r.Version)

	r, err = fx.GetReader(ctx, u1, "s1", "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), r.Version)

	readers, err := fx.ListReaders(ctx, u1, "s1")
	require.NoError(t, err)
	assert.Len(t, readers, 1)

	_, err = fx.GetReader(ctx, u2, "s1", "r1")
	require.ErrorIs(t, err, ErrNoAccess)

	require.NoError(t, fx.DeleteReader(ctx, u1, "s1", "r1"))
	_, err = fx.GetReader(ctx, u1, "s1", "r1")
	require.ErrorIs(t, err, readerstore.ErrReaderNotFound)
}

func TestHub_PruneRevisions(t *testing.T) {
	fx := newFixture(t)
	defer fx.finish(t)
	fx.createSpace(t, u1, `{"id":"s1"}`)
	fx.write(t, u1, "s1", "a")
	fx.write(t, u1, "s1", "a")
	fx.write(t, u1, "s1", "a")

	removed, err := fx.PruneRevisions(ctx, u1, "s1", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = fx.ReadFeatures(ctx, u1, "s1", ReadQuery{Version: 1})
	require.ErrorIs(t, err, versionledger.ErrVersionPruned)
	assert.Equal(t, []string{"a"}, fx.readIds(t, u1, "s1", composition.Default))
}

func TestHub_HandleEvent(t *testing.T) {
	fx := newFixture(t)
	defer fx.finish(t)
	fx.createSpace(t, u1, `{"id":"s1","cacheTTL":60}`)
	fx.write(t, u1, "s1", "a")

	_, err := fx.HandleEvent(ctx, u1, []byte(`{"type":"HealthCheckEvent"}`))
	require.ErrorIs(t, err, ErrAdminOnly)

	res, err := fx.HandleEvent(ctx, admin, []byte(`{"type":"HealthCheckEvent"}`))
	require.NoError(t, err)
	assert.Equal(t, HealthStatus{Type: "HealthStatus", Status: "OK"}, res)

	_, err = fx.ReadFeatures(ctx, u1, "s1", ReadQuery{})
	require.NoError(t, err)
	res, err = fx.HandleEvent(ctx, admin, []byte(`{"type":"InvalidateCacheEvent","space":"s1"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, res.(EventResult).Removed)

	res, err = fx.HandleEvent(ctx, admin, []byte(`{"type":"SpaceStatsEvent","space":"s1"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, res.(Statistics).Count.Value)

	_, err = fx.HandleEvent(ctx, admin, []byte(`{"type":"PruneRevisionsEvent"}`))
	require.ErrorIs(t, err, huberr.ErrValidation)
	_, err = fx.HandleEvent(ctx, admin, []byte(`{"type":"SomethingEvent","space":"s1"}`))
	require.ErrorIs(t, err, huberr.ErrValidation)
}

func TestHub_DeleteSpacePurgeFails(t *testing.T) {
	fx := newFixture(t)
	defer fx.finish(t)
	fx.createSpace(t, u1, `{"id":"s1"}`)
	fx.write(t, u1, "s1", "old")

	fx.storage.failDelete.Store(true)
	_, err := fx.DeleteSpace(ctx, u1, "s1")
	require.ErrorIs(t, err, errConnector)

	_, err = fx.GetSpace(ctx, u1, "s1")
	require.NoError(t, err, "the space stays until its content is purged")
	assert.Equal(t, []string{"old"}, fx.readIds(t, u1, "s1", composition.Default))
	_, err = fx.CreateSpace(ctx, u2, []byte(`{"id":"s1"}`))
	require.ErrorIs(t, err, spacestore.ErrSpaceExists)

	_, err = fx.DeleteSpace(ctx, u1, "s1")
	require.NoError(t, err)
	fx.createSpace(t, u2, `{"id":"s1"}`)
	assert.Empty(t, fx.readIds(t, u2, "s1", composition.Default))
	head, err := fx.ledger.Head(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), head)
}

func TestHub_CreateSpaceStaleContent(t *testing.T) {
	fx := newFixture(t)
	defer fx.finish(t)
	require.NoError(t, fx.storage.WriteRevisions(ctx, "ghost", []featurestorage.Revision{
		{FeatureId: "x", Version: 1, Payload: []byte(`{"type":"Feature","id":"x","geometry":null,"properties":{}}`)},
	}))
	_, err := fx.CreateSpace(ctx, u1, []byte(`{"id":"ghost"}`))
	require.ErrorIs(t, err, huberr.ErrConflict)
	_, err = fx.GetSpace(ctx, u1, "ghost")
	require.ErrorIs(t, err, spacestore.ErrSpaceNotFound)
}

func TestHub_FeatureQuotaConcurrentWrites(t *testing.T) {
	fx := newFixtureWithQuota(t, admission.Config{MaxFeaturesPerSpace: 1})
	defer fx.finish(t)
	fx.createSpace(t, u1, `{"id":"s1"}`)
	fx.storage.latestDelay = 50 * time.Millisecond

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = fx.WriteFeatures(ctx, u1, "s1", featureBody(id))
		}()
	}
	wg.Wait()

	var admitted int
	for _, err := range errs {
		if err == nil {
			admitted++
		} else {
			assert.ErrorIs(t, err, huberr.ErrQuotaExceeded)
		}
	}
	assert.Equal(t, 1, admitted)
	assert.Len(t, fx.readIds(t, u1, "s1", composition.Default), 1)
	head, err := fx.ledger.Head(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), head)
}

func TestHub_ByteQuotaFollowsStorage(t *testing.T) {
	fx := newFixtureWithQuota(t, admission.Config{MaxBytesPerOwner: 400})
	defer fx.finish(t)
	fx.createSpace(t, u1, `{"id":"s1"}`)

	for i := 0; i < 10; i++ {
		res := fx.write(t, u1, "s1", "a")
		_, err := fx.PruneRevisions(ctx, u1, "s1", res.Version)
		require.NoError(t, err)
		usage, err := fx.storage.Usage(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, 1, usage.Revisions)
		assert.Equal(t, usage.Bytes, fx.admission.Record("u1").ByteUsage)
	}

	_, err := fx.DeleteFeatures(ctx, u1, "s1", []string{"a"})
	require.NoError(t, err)
	usage, err := fx.storage.Usage(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, usage.Bytes, fx.admission.Record("u1").ByteUsage)

	_, err = fx.DeleteSpace(ctx, u1, "s1")
	require.NoError(t, err)
	assert.Equal(t, admission.QuotaRecord{}, fx.admission.Record("u1"))
}

func TestHub_CacheVaryingConnector(t *testing.T) {
	fx := newFixture(t)
	defer fx.finish(t)
	fx.createSpace(t, u1, `{"id":"s1","cacheTTL":60}`)
	fx.write(t, u1, "s1", "a")
	fx.storage.varying.Store(true)

	bypassed := ReadQuery{Fingerprint: 7, SkipCache: true}
	b1, err := fx.ReadFeatures(ctx, u1, "s1", bypassed)
	require.NoError(t, err)
	b2, err := fx.ReadFeatures(ctx, u1, "s1", bypassed)
	require.NoError(t, err)
	assert.Equal(t, CacheBypass, b2.Cache)
	assert.NotEqual(t, b1.Body, b2.Body, "every bypassed read goes to the connector")

	cached := ReadQuery{Fingerprint: 7}
	c1, err := fx.ReadFeatures(ctx, u1, "s1", cached)
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, c1.Cache)
	c2, err := fx.ReadFeatures(ctx, u1, "s1", cached)
	require.NoError(t, err)
	assert.Equal(t, CacheHit, c2.Cache)
	assert.Equal(t, c1.Body, c2.Body)
	assert.NotEqual(t, b2.Body, c1.Body)
}

func TestHub_WriteEmptyCollection(t *testing.T) {
	fx := newFixture(t)
	defer fx.finish(t)
	fx.createSpace(t, u1, `{"id":"s1"}`)
	fx.write(t, u1, "s1", "a")

	res, err := fx.WriteFeatures(ctx, u1, "s1", []byte(`{"type":"FeatureCollection","features":[]}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Version)
	assert.Empty(t, res.Ids)
	assert.Empty(t, decodeCollection(t, res.Body).Features)
	head, err := fx.ledger.Head(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), head)
}

func TestHub_History(t *testing.T) {
	fx := newFixture(t)
	defer fx.finish(t)
	fx.createSpace(t, u1, `{"id":"s1"}`)

	cc, err := fx.History(ctx, u1, "s1", HistoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, "ChangesetCollection", cc.Type)
	assert.Equal(t, int64(0), cc.StartVersion)
	assert.Equal(t, int64(0), cc.EndVersion)
	assert.Empty(t, cc.Versions)

	fx.write(t, u1, "s1", "a", "b")
	fx.write(t, u1, "s1", "a", "c")
	_, err = fx.DeleteFeatures(ctx, u1, "s1", []string{"b"})
	require.NoError(t, err)

	cc, err = fx.History(ctx, u1, "s1", HistoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), cc.StartVersion)
	assert.Equal(t, int64(3), cc.EndVersion)
	assert.Empty(t, cc.NextPageToken)
	require.Len(t, cc.Versions, 3)
	assert.Equal(t, []string{"a", "b"}, decodeCollection(t, cc.Versions[1].Inserted).ids())
	assert.Empty(t, decodeCollection(t, cc.Versions[1].Updated).ids())
	assert.Equal(t, []string{"c"}, decodeCollection(t, cc.Versions[2].Inserted).ids())
	assert.Equal(t, []string{"a"}, decodeCollection(t, cc.Versions[2].Updated).ids())
	deleted := decodeCollection(t, cc.Versions[3].Deleted)
	assert.Equal(t, []string{"b"}, deleted.ids())
	assert.Equal(t, int64(3), deleted.Features[0].meta(t).Version)

	t.Run("pages", func(t *testing.T) {
		var (
			q      = HistoryQuery{Limit: 2}
			ranges [][2]int64
		)
		for {
			cc, err := fx.History(ctx, u1, "s1", q)
			require.NoError(t, err)
			ranges = append(ranges, [2]int64{cc.StartVersion, cc.EndVersion})
			if cc.NextPageToken == "" {
				break
			}
			q.Handle, err = strconv.Atoi(cc.NextPageToken)
			require.NoError(t, err)
		}
		assert.Equal(t, [][2]int64{{1, 1}, {2, 2}, {3, 3}}, ranges)
	})
	t.Run("range", func(t *testing.T) {
		cc, err := fx.History(ctx, u1, "s1", HistoryQuery{Start: 2, End: 2})
		require.NoError(t, err)
		assert.Len(t, cc.Versions, 1)
		_, err = fx.History(ctx, u1, "s1", HistoryQuery{Start: 3, End: 1})
		require.ErrorIs(t, err, huberr.ErrValidation)
		_, err = fx.History(ctx, u2, "s1", HistoryQuery{})
		require.ErrorIs(t, err, ErrNoAccess)
	})
	t.Run("statistics", func(t *testing.T) {
		stats, err := fx.HistoryStatistics(ctx, u1, "s1")
		require.NoError(t, err)
		assert.Equal(t, 5, stats.Count.Value)
		assert.Equal(t, int64(3), stats.MaxVersion.Value)
		assert.Equal(t, int64(0), stats.MinVersion.Value)
	})
	t.Run("pruned", func(t *testing.T) {
		_, err := fx.PruneRevisions(ctx, u1, "s1", 3)
		require.NoError(t, err)
		_, err = fx.History(ctx, u1, "s1", HistoryQuery{Start: 2})
		require.ErrorIs(t, err, versionledger.ErrVersionPruned)
		cc, err := fx.History(ctx, u1, "s1", HistoryQuery{})
		require.NoError(t, err)
		assert.Empty(t, cc.Versions)
	})
}

func TestHub_WriteDenied(t *testing.T) {
	ctrl := gomock.NewController(t)
	controller := mock_admission.NewMockController(ctrl)
	controller.EXPECT().Name().Return(admission.CName).AnyTimes()
	controller.EXPECT().Init(gomock.Any()).Return(nil)
	controller.EXPECT().Run(gomock.Any()).Return(nil)
	controller.EXPECT().Close(gomock.Any()).Return(nil)
	fx := newFixtureWithAdmission(t, admission.Config{}, controller)
	defer fx.finish(t)

	controller.EXPECT().CheckAndReserve(gomock.Any(), gomock.Any()).Return(&admission.Reservation{}, nil)
	fx.createSpace(t, u1, `{"id":"s1"}`)

	body := featureBody("a", "b")
	denial := &huberr.QuotaError{Kind: "features", Owner: "u1", EntityId: "s1", Limit: 1}
	controller.EXPECT().CheckRequestSize(int64(len(body))).Return(nil)
	controller.EXPECT().Enabled(admission.KindFeatures).Return(true)
	controller.EXPECT().CheckAndReserve(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, reqs ...admission.Request) (*admission.Reservation, error) {
			require.Len(t, reqs, 3)
			assert.Equal(t, admission.Request{Owner: "u1", SpaceId: "s1", Kind: admission.KindWrite, Amount: int64(len(body))}, reqs[0])
			assert.Equal(t, admission.KindBytes, reqs[1].Kind)
			assert.Equal(t, admission.Request{Owner: "u1", SpaceId: "s1", Kind: admission.KindFeatures, Amount: 2}, reqs[2])
			return nil, denial
		})

	_, err := fx.WriteFeatures(ctx, u1, "s1", body)
	require.ErrorIs(t, err, huberr.ErrQuotaExceeded)
	head, err := fx.ledger.Head(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), head)
}

type testConfig struct {
	quota admission.Config
}

func (c *testConfig) Init(a *app.App) error              { return nil }
func (c *testConfig) Name() string                       { return "config" }
func (c *testConfig) GetHub() Config                     { return Config{} }
func (c *testConfig) GetQuota() admission.Config         { return c.quota }
func (c *testConfig) GetCache() responsecache.Config     { return responsecache.Config{} }
func (c *testConfig) GetComposition() composition.Config { return composition.Config{} }
func (c *testConfig) GetRetention() versionledger.Config { return versionledger.Config{} }
func (c *testConfig) GetReaders() readerstore.Config     { return readerstore.Config{} }

var errConnector = errors.New("connector timeout")

// testStorage counts connector reads so tests can tell cache hits from storage round trips.
// It can also fail the next space purge, delay reads and vary payloads between reads.
type testStorage struct {
	featurestorage.FeatureStorage
	latest      atomic.Int32
	failDelete  atomic.Bool
	varying     atomic.Bool
	latestDelay time.Duration
}

func (s *testStorage) Latest(ctx context.Context, spaceId string, version int64, ids []string) ([]featurestorage.Revision, error) {
	n := s.latest.Add(1)
	revs, err := s.FeatureStorage.Latest(ctx, spaceId, version, ids)
	if s.latestDelay > 0 {
		time.Sleep(s.latestDelay)
	}
	if err != nil || !s.varying.Load() {
		return revs, err
	}
	for i := range revs {
		revs[i].Payload = bytes.Replace(revs[i].Payload, []byte(`"properties":{`), []byte(fmt.Sprintf(`"properties":{"seq":%d,`, n)), 1)
	}
	return revs, nil
}

func (s *testStorage) DeleteSpace(ctx context.Context, spaceId string) error {
	if s.failDelete.CompareAndSwap(true, false) {
		return errConnector
	}
	return s.FeatureStorage.DeleteSpace(ctx, spaceId)
}

type fixture struct {
	*hub
	a       *app.App
	db      anystore.DB
	storage *testStorage
	now     int64
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithQuota(t, admission.Config{})
}

func newFixtureWithQuota(t *testing.T, quota admission.Config) *fixture {
	return newFixtureWithAdmission(t, quota, admission.New())
}

func newFixtureWithAdmission(t *testing.T, quota admission.Config, controller admission.Controller) *fixture {
	db, err := anystore.Open(ctx, filepath.Join(t.TempDir(), "store.db"), nil)
	require.NoError(t, err)
	fx := &fixture{
		hub:     New().(*hub),
		a:       new(app.App),
		db:      db,
		storage: &testStorage{FeatureStorage: featurestorage.NewInMemory()},
		now:     1700000000000,
	}
	fx.hub.timeNow = func() time.Time { return time.UnixMilli(fx.now) }
	fx.a.Register(&testConfig{quota: quota}).
		Register(storeprovider.NewFromDB(db)).
		Register(spacestore.New()).
		Register(fx.storage).
		Register(readerstore.New()).
		Register(versionledger.New()).
		Register(composition.New()).
		Register(controller).
		Register(responsecache.New()).
		Register(fx.hub)
	require.NoError(t, fx.a.Start(ctx))
	return fx
}

func (fx *fixture) createSpace(t *testing.T, caller Caller, body string) {
	_, err := fx.CreateSpace(ctx, caller, []byte(body))
	require.NoError(t, err)
}

func featureBody(ids ...string) []byte {
	features := make([]string, len(ids))
	for i, id := range ids {
		features[i] = fmt.Sprintf(`{"type":"Feature","id":%q,"geometry":{"type":"Point","coordinates":[%d,%d]},"properties":{"name":%q}}`, id, i, i, id)
	}
	return []byte(`{"type":"FeatureCollection","features":[` + strings.Join(features, ",") + `]}`)
}

func (fx *fixture) write(t *testing.T, caller Caller, spaceId string, ids ...string) WriteResult {
	res, err := fx.WriteFeatures(ctx, caller, spaceId, featureBody(ids...))
	require.NoError(t, err)
	return res
}

func (fx *fixture) readIds(t *testing.T, caller Caller, spaceId string, c composition.Context) []string {
	res, err := fx.ReadFeatures(ctx, caller, spaceId, ReadQuery{Context: c, SkipCache: true})
	require.NoError(t, err)
	return decodeCollection(t, res.Body).ids()
}

func (fx *fixture) readOne(t *testing.T, caller Caller, spaceId, featureId string) testFeature {
	res, err := fx.GetFeature(ctx, caller, spaceId, featureId, ReadQuery{SkipCache: true})
	require.NoError(t, err)
	var f testFeature
	require.NoError(t, decodeJSON(res.Body, &f))
	return f
}

func (fx *fixture) finish(t *testing.T) {
	require.NoError(t, fx.a.Close(ctx))
	require.NoError(t, fx.db.Close())
}

type testFeature struct {
	Id         string         `json:"id"`
	Properties map[string]any `json:"properties"`
}

func (f testFeature) meta(t *testing.T) featurejson.Meta {
	data, err := json.Marshal(f.Properties[featurejson.Namespace])
	require.NoError(t, err)
	var meta featurejson.Meta
	require.NoError(t, json.Unmarshal(data, &meta))
	return meta
}

type testCollection struct {
	Type     string        `json:"type"`
	Features []testFeature `json:"features"`
	Handle   string        `json:"handle"`
}

func (c testCollection) ids() []string {
	ids := make([]string, 0, len(c.Features))
	for _, f := range c.Features {
		ids = append(ids, f.Id)
	}
	return ids
}

func decodeCollection(t *testing.T, body []byte) testCollection {
	var c testCollection
	require.NoError(t, decodeJSON(body, &c))
	require.Equal(t, "FeatureCollection", c.Type)
	return c
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	return dec.Decode(v)
}

func spaceIds(spaces []spacestore.Space) []string {
	ids := make([]string, len(spaces))
	for i, s := range spaces {
		ids[i] = s.Id
	}
	return ids
}
