package responsecache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/heremaps/xyz-hub-sub001/app"
	"github.com/heremaps/xyz-hub-sub001/app/logger"
	"github.com/heremaps/xyz-hub-sub001/metric"
	"github.com/heremaps/xyz-hub-sub001/util/periodicsync"
)

const CName = "hub.responsecache"

var log = logger.NewNamed(CName)

var (
	defaultGC         = 20 * time.Second
	defaultMaxEntries = 10000
)

type Config struct {
	GCPeriodSeconds int `yaml:"gcPeriodSeconds"`
	MaxEntries      int `yaml:"maxEntries"`
}

type configGetter interface {
	GetCache() Config
}

// Key identifies a read result. Version is the resolved snapshot version, so a write always changes the key.
type Key struct {
	SpaceId     string
	Context     string
	Fingerprint uint64
	Version     string
}

type ResponseCache interface {
	// Get returns the payload when the entry exists and its ttl has not passed
	Get(key Key) (payload []byte, ok bool)
	// Put stores the payload, ttl <= 0 is ignored
	Put(key Key, payload []byte, ttl time.Duration)
	// Invalidate drops every entry of the space
	Invalidate(spaceId string) (removed int)
	// GC drops expired entries, it's called every gc period
	GC()
	Len() int
	app.ComponentRunnable
}

func New() ResponseCache {
	return &responseCache{timeNow: time.Now}
}

type entry struct {
	key        Key
	payload    []byte
	insertedAt time.Time
	ttl        time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.insertedAt) >= e.ttl
}

type responseCache struct {
	mu         sync.Mutex
	data       map[Key]*list.Element
	bySpace    map[string]map[Key]struct{}
	order      *list.List
	maxEntries int
	timeNow    func() time.Time
	gc         periodicsync.PeriodicSync
	metrics    *metrics
}

func (c *responseCache) Init(a *app.App) (err error) {
	conf := a.MustComponent("config").(configGetter).GetCache()
	c.data = make(map[Key]*list.Element)
	c.bySpace = make(map[string]map[Key]struct{})
	c.order = list.New()
	c.maxEntries = conf.MaxEntries
	if c.maxEntries <= 0 {
		c.maxEntries = defaultMaxEntries
	}
	gcPeriod := time.Duration(conf.GCPeriodSeconds) * time.Second
	if gcPeriod <= 0 {
		gcPeriod = defaultGC
	}
	c.gc = periodicsync.NewPeriodicSyncDuration(gcPeriod, time.Second, func(ctx context.Context) error {
		c.GC()
		return nil
	}, log)
	if m, ok := a.Component(metric.CName).(metric.Metric); ok {
		c.metrics = newMetrics(m.Registry(), c.Len)
	}
	return nil
}

func (c *responseCache) Name() (name string) {
	return CName
}

func (c *responseCache) Run(ctx context.Context) (err error) {
	c.gc.Run()
	return nil
}

func (c *responseCache) Get(key Key) (payload []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.data[key]
	if !ok {
		c.metricsGet(false)
		return nil, false
	}
	e := el.Value.(*entry)
	if e.expired(c.timeNow()) {
		c.removeLocked(el)
		c.metricsGet(false)
		return nil, false
	}
	c.metricsGet(true)
	return e.payload, true
}

func (c *responseCache) Put(key Key, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.data[key]; ok {
		c.removeLocked(el)
	}
	e := &entry{key: key, payload: payload, insertedAt: c.timeNow(), ttl: ttl}
	c.data[key] = c.order.PushBack(e)
	keys, ok := c.bySpace[key.SpaceId]
	if !ok {
		keys = make(map[Key]struct{})
		c.bySpace[key.SpaceId] = keys
	}
	keys[key] = struct{}{}
	for c.order.Len() > c.maxEntries {
		c.removeLocked(c.order.Front())
		c.metricsEvicted(1)
	}
}

func (c *responseCache) Invalidate(spaceId string) (removed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.bySpace[spaceId] {
		if el, ok := c.data[key]; ok {
			c.removeLocked(el)
			removed++
		}
	}
	delete(c.bySpace, spaceId)
	if removed > 0 {
		log.Debug("cache invalidated", metric.SpaceId(spaceId), zap.Int("removed", removed))
	}
	return
}

func (c *responseCache) GC() {
	c.mu.Lock()
	now := c.timeNow()
	var removed int
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*entry).expired(now) {
			c.removeLocked(el)
			removed++
		}
		el = next
	}
	size := c.order.Len()
	c.mu.Unlock()
	if removed > 0 {
		log.Debug("GC: expired entries removed", zap.Int("removed", removed), zap.Int("size", size))
	}
	c.metricsEvicted(removed)
}

func (c *responseCache) removeLocked(el *list.Element) {
	e := c.order.Remove(el).(*entry)
	delete(c.data, e.key)
	if keys, ok := c.bySpace[e.key.SpaceId]; ok {
		delete(keys, e.key)
		if len(keys) == 0 {
			delete(c.bySpace, e.key.SpaceId)
		}
	}
}

func (c *responseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *responseCache) Close(ctx context.Context) (err error) {
	c.gc.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[Key]*list.Element)
	c.bySpace = make(map[string]map[Key]struct{})
	c.order.Init()
	return nil
}

func (c *responseCache) metricsGet(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.hit.Inc()
	} else {
		c.metrics.miss.Inc()
	}
}

func (c *responseCache) metricsEvicted(n int) {
	if c.metrics == nil || n == 0 {
		return
	}
	c.metrics.gc.Add(float64(n))
}
