package responsecache

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heremaps/xyz-hub-sub001/app"
)

var ctx = context.Background()

func key(spaceId, version string) Key {
	return Key{SpaceId: spaceId, Context: "DEFAULT", Fingerprint: 1, Version: version}
}

func TestResponseCache_GetPut(t *testing.T) {
	fx := newFixture(t, Config{})
	defer fx.finish(t)

	_, ok := fx.Get(key("s1", "1"))
	assert.False(t, ok)

	fx.Put(key("s1", "1"), []byte("payload"), time.Minute)
	payload, ok := fx.Get(key("s1", "1"))
	require.True(t, ok)
	assert.Equal(t, "payload", string(payload))

	t.Run("version is part of the key", func(t *testing.T) {
		_, ok := fx.Get(key("s1", "2"))
		assert.False(t, ok)
	})
	t.Run("zero ttl is not stored", func(t *testing.T) {
		fx.Put(key("s1", "3"), []byte("x"), 0)
		_, ok := fx.Get(key("s1", "3"))
		assert.False(t, ok)
	})
	t.Run("overwrite", func(t *testing.T) {
		fx.Put(key("s1", "1"), []byte("other"), time.Minute)
		payload, ok := fx.Get(key("s1", "1"))
		require.True(t, ok)
		assert.Equal(t, "other", string(payload))
		assert.Equal(t, 1, fx.Len())
	})
	t.Run("expiry", func(t *testing.T) {
		fx.advance(59 * time.Second)
		_, ok := fx.Get(key("s1", "1"))
		assert.True(t, ok)
		fx.advance(time.Second)
		_, ok = fx.Get(key("s1", "1"))
		assert.False(t, ok)
		assert.Equal(t, 0, fx.Len())
	})
}

func TestResponseCache_Invalidate(t *testing.T) {
	fx := newFixture(t, Config{})
	defer fx.finish(t)
	for i := 0; i < 3; i++ {
		fx.Put(key("s1", fmt.Sprint(i)), []byte("a"), time.Minute)
	}
	fx.Put(key("s2", "1"), []byte("b"), time.Minute)

	assert.Equal(t, 3, fx.Invalidate("s1"))
	assert.Equal(t, 0, fx.Invalidate("s1"))
	assert.Equal(t, 0, fx.Invalidate("unknown"))
	_, ok := fx.Get(key("s1", "0"))
	assert.False(t, ok)
	_, ok = fx.Get(key("s2", "1"))
	assert.True(t, ok)
}

func TestResponseCache_GC(t *testing.T) {
	fx := newFixture(t, Config{})
	defer fx.finish(t)
	fx.Put(key("s1", "1"), []byte("a"), time.Second)
	fx.Put(key("s1", "2"), []byte("a"), time.Minute)
	fx.Put(key("s2", "1"), []byte("a"), time.Second)

	fx.advance(2 * time.Second)
	fx.GC()
	assert.Equal(t, 1, fx.Len())
	fx.mu.Lock()
	_, ok := fx.bySpace["s2"]
	fx.mu.Unlock()
	assert.False(t, ok)
}

func TestResponseCache_MaxEntries(t *testing.T) {
	fx := newFixture(t, Config{MaxEntries: 2})
	defer fx.finish(t)
	fx.Put(key("s1", "1"), []byte("a"), time.Minute)
	fx.Put(key("s1", "2"), []byte("b"), time.Minute)
	fx.Put(key("s1", "3"), []byte("c"), time.Minute)

	assert.Equal(t, 2, fx.Len())
	_, ok := fx.Get(key("s1", "1"))
	assert.False(t, ok, "oldest entry is evicted")
	_, ok = fx.Get(key("s1", "3"))
	assert.True(t, ok)
}

func TestResponseCache_Concurrent(t *testing.T) {
	fx := newFixture(t, Config{MaxEntries: 50})
	defer fx.finish(t)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				k := key(fmt.Sprint("s", i%3), fmt.Sprint(j))
				fx.Put(k, []byte("x"), time.Minute)
				fx.Get(k)
				if j%10 == 0 {
					fx.Invalidate(k.SpaceId)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, fx.Len(), 50)
}

func TestResponseCache_Metrics(t *testing.T) {
	fx := newFixture(t, Config{})
	defer fx.finish(t)
	reg := prometheus.NewRegistry()
	fx.metrics = newMetrics(reg, fx.Len)

	fx.Put(key("s1", "1"), []byte("a"), time.Minute)
	fx.Get(key("s1", "1"))
	fx.Get(key("s1", "2"))
	fx.Get(key("s1", "2"))

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, f := range families {
		m := f.GetMetric()[0]
		if m.GetCounter() != nil {
			values[f.GetName()] = m.GetCounter().GetValue()
		} else {
			values[f.GetName()] = m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(1), values["hub_response_cache_hit"])
	assert.Equal(t, float64(2), values["hub_response_cache_miss"])
	assert.Equal(t, float64(1), values["hub_response_cache_size"])
}

func TestFingerprint(t *testing.T) {
	q := func(s string) url.Values {
		v, err := url.ParseQuery(s)
		require.NoError(t, err)
		return v
	}
	base := Fingerprint("GET", "/spaces/s1/features", q("id=a&id=b&limit=10"))
	assert.Equal(t, base, Fingerprint("GET", "/spaces/s1/features", q("limit=10&id=b&id=a")))
	assert.Equal(t, base, Fingerprint("GET", "/spaces/s1/features", q("id=a&skipCache=true&id=b&limit=10")))
	assert.NotEqual(t, base, Fingerprint("GET", "/spaces/s1/features", q("id=a&limit=10")))
	assert.NotEqual(t, base, Fingerprint("GET", "/spaces/s2/features", q("id=a&id=b&limit=10")))
	assert.NotEqual(t, base, Fingerprint("HEAD", "/spaces/s1/features", q("id=a&id=b&limit=10")))
}

type testConfig struct {
	conf Config
}

func (c *testConfig) Init(a *app.App) error { return nil }
func (c *testConfig) Name() string { return "config" }
func (c *testConfig) GetCache() Config { return c.conf }

type fixture struct {
	*responseCache
	a     *app.App
	clock sync.Mutex
	now   time.Time
}

func newFixture(t *testing.T, conf Config) *fixture {
	fx := &fixture{
		responseCache: New().(*responseCache),
		a:             new(app.App),
		now:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	fx.responseCache.timeNow = func() time.Time {
		fx.clock.Lock()
		defer fx.clock.Unlock()
		return fx.now
	}
	fx.a.Register(&testConfig{conf: conf}).Register(fx.responseCache)
	require.NoError(t, fx.a.Start(ctx))
	return fx
}

func (fx *fixture) advance(d time.Duration) {
	fx.clock.Lock()
	defer fx.clock.Unlock()
	fx.now = fx.now.Add(d)
}

func (fx *fixture) finish(t *testing.T) {
	require.NoError(t, fx.a.Close(ctx))
}
