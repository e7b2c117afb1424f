//go:generate mockgen -destination mock_admission/mock_admission.go github.com/heremaps/xyz-hub-sub001/admission Controller
package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/heremaps/xyz-hub-sub001/app"
	"github.com/heremaps/xyz-hub-sub001/app/logger"
	"github.com/heremaps/xyz-hub-sub001/featurestorage"
	"github.com/heremaps/xyz-hub-sub001/huberr"
	"github.com/heremaps/xyz-hub-sub001/metric"
	"github.com/heremaps/xyz-hub-sub001/spacestore"
	"github.com/heremaps/xyz-hub-sub001/util/periodicsync"
)

const CName = "hub.admission"

var log = logger.NewNamed(CName)

const (
	defaultLimiterTTL = time.Minute
	cleanupTimeout    = 5 * time.Second
)

type Kind int

const (
	// KindSpace limits the number of spaces per owner
	KindSpace Kind = iota
	// KindWrite limits write count and volume per space within the write window
	KindWrite
	// KindFeatures limits the number of features per space
	KindFeatures
	// KindBytes limits the stored bytes per owner
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindSpace:
		return "spaces"
	case KindWrite:
		return "writes"
	case KindFeatures:
		return "features"
	case KindBytes:
		return "bytes"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Zero values disable the corresponding check.
type Config struct {
	MaxSpacesPerOwner   int    `yaml:"maxSpacesPerOwner"`
	MaxFeaturesPerSpace int64  `yaml:"maxFeaturesPerSpace"`
	MaxBytesPerOwner    int64  `yaml:"maxBytesPerOwner"`
	MaxRequestBytes     int64  `yaml:"maxRequestBytes"`
	WriteWindow         Window `yaml:"writeWindow"`
	LimiterTTLSeconds   int    `yaml:"limiterTTLSeconds"`
}

type Window struct {
	Seconds   int   `yaml:"seconds"`
	MaxWrites int   `yaml:"maxWrites"`
	MaxBytes  int64 `yaml:"maxBytes"`
}

func (w Window) enabled() bool {
	return w.Seconds > 0 && (w.MaxWrites > 0 || w.MaxBytes > 0)
}

type configGetter interface {
	GetQuota() Config
}

// Request asks for Amount units of Kind.
// For KindSpace SpaceId is the id the new space would get, for KindFeatures Current is the feature count already stored.
type Request struct {
	Owner   string
	SpaceId string
	Kind    Kind
	Amount  int64
	Current int64
}

type QuotaRecord struct {
	SpaceCount int
	ByteUsage  int64
}

type Controller interface {
	// CheckAndReserve admits all requests or none of them
	CheckAndReserve(ctx context.Context, reqs ...Request) (*Reservation, error)
	// CheckRequestSize is the single request ceiling
	CheckRequestSize(size int64) error
	// Enabled reports whether a limit of the kind is configured
	Enabled(kind Kind) bool
	Record(owner string) QuotaRecord
	// UpdateUsage sets the stored bytes of a space, the owner counter moves by the difference
	UpdateUsage(owner, spaceId string, bytes int64)
	// ReleaseSpace returns the space and its stored bytes to the owner quota
	ReleaseSpace(owner, spaceId string)
	app.ComponentRunnable
}

func New() Controller {
	return &controller{now: time.Now}
}

type ownerUsage struct {
	spaces int
	// bytes is the sum of the stored bytes of the owner spaces, pendingBytes is reserved by running writes
	bytes        int64
	pendingBytes int64
}

type spaceLimiter struct {
	writes    *rate.Limiter
	bytes     *rate.Limiter
	lastUsage time.Time
}

type controller struct {
	conf    Config
	spaces  spacestore.SpaceStore
	storage featurestorage.FeatureStorage
	now     func() time.Time

	mu              sync.Mutex
	owners          map[string]*ownerUsage
	limiters        map[string]*spaceLimiter
	pendingFeatures map[string]int64
	spaceBytes      map[string]int64

	limiterTTL time.Duration
	cleanup    periodicsync.PeriodicSync
	denials    *prometheus.CounterVec
}

func (c *controller) Init(a *app.App) (err error) {
	c.conf = a.MustComponent("config").(configGetter).GetQuota()
	c.spaces = a.MustComponent(spacestore.CName).(spacestore.SpaceStore)
	c.storage = a.MustComponent(featurestorage.CName).(featurestorage.FeatureStorage)
	c.owners = make(map[string]*ownerUsage)
	c.limiters = make(map[string]*spaceLimiter)
	c.pendingFeatures = make(map[string]int64)
	c.spaceBytes = make(map[string]int64)
	c.limiterTTL = time.Duration(c.conf.LimiterTTLSeconds) * time.Second
	if c.limiterTTL <= 0 {
		c.limiterTTL = defaultLimiterTTL
	}
	if window := time.Duration(c.conf.WriteWindow.Seconds) * time.Second; c.limiterTTL < window {
		c.limiterTTL = window
	}
	c.cleanup = periodicsync.NewPeriodicSyncDuration(c.limiterTTL, cleanupTimeout, c.dropIdleLimiters, log)
	c.denials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hub",
		Subsystem: "admission",
		Name:      "denials_total",
		Help:      "quota denials by kind",
	}, []string{"kind"})
	if m, ok := a.Component(metric.CName).(metric.Metric); ok {
		return m.Registry().Register(c.denials)
	}
	return nil
}

func (c *controller) Name() (name string) {
	return CName
}

// Run rebuilds the owner counters from the stored spaces
func (c *controller) Run(ctx context.Context) (err error) {
	spaces, err := c.spaces.List(ctx)
	if err != nil {
		return err
	}
	owners := make(map[string]*ownerUsage)
	spaceBytes := make(map[string]int64, len(spaces))
	for _, space := range spaces {
		usage, err := c.storage.Usage(ctx, space.Id)
		if err != nil {
			return fmt.Errorf("usage of %s: %w", space.Id, err)
		}
		ou, ok := owners[space.Owner]
		if !ok {
			ou = &ownerUsage{}
			owners[space.Owner] = ou
		}
		ou.spaces++
		ou.bytes += usage.Bytes
		spaceBytes[space.Id] = usage.Bytes
	}
	c.mu.Lock()
	c.owners = owners
	c.spaceBytes = spaceBytes
	c.mu.Unlock()
	log.Info("quota counters rebuilt", zap.Int("owners", len(owners)), zap.Int("spaces", len(spaces)))
	c.cleanup.Run()
	return nil
}

func (c *controller) Close(ctx context.Context) (err error) {
	c.cleanup.Close()
	return nil
}

func (c *controller) CheckRequestSize(size int64) error {
	if c.conf.MaxRequestBytes > 0 && size > c.conf.MaxRequestBytes {
		return huberr.Newf(huberr.ErrValidation, "request size %d exceeds the limit of %d bytes", size, c.conf.MaxRequestBytes)
	}
	return nil
}

func (c *controller) Enabled(kind Kind) bool {
	switch kind {
	case KindSpace:
		return c.conf.MaxSpacesPerOwner > 0
	case KindWrite:
		return c.conf.WriteWindow.enabled()
	case KindFeatures:
		return c.conf.MaxFeaturesPerSpace > 0
	case KindBytes:
		return c.conf.MaxBytesPerOwner > 0
	}
	return false
}

func (c *controller) CheckAndReserve(ctx context.Context, reqs ...Request) (*Reservation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := &Reservation{c: c}
	for _, req := range reqs {
		if err := c.reserveLocked(res, req); err != nil {
			res.releaseLocked()
			c.denials.WithLabelValues(req.Kind.String()).Inc()
			log.InfoCtx(ctx, "quota denied", metric.Owner(req.Owner), metric.SpaceId(req.SpaceId), zap.Stringer("kind", req.Kind), zap.Error(err))
			return nil, err
		}
	}
	return res, nil
}

func (c *controller) reserveLocked(res *Reservation, req Request) error {
	deny := func(limit int64) error {
		return &huberr.QuotaError{Kind: req.Kind.String(), Owner: req.Owner, EntityId: req.SpaceId, Limit: limit}
	}
	switch req.Kind {
	case KindSpace:
		if limit := c.conf.MaxSpacesPerOwner; limit > 0 && c.owner(req.Owner).spaces >= limit {
			return deny(int64(limit))
		}
		c.owner(req.Owner).spaces++
	case KindBytes:
		ou := c.owner(req.Owner)
		if limit := c.conf.MaxBytesPerOwner; limit > 0 && ou.bytes+ou.pendingBytes+req.Amount > limit {
			return deny(limit)
		}
		ou.pendingBytes += req.Amount
	case KindFeatures:
		if req.Amount <= 0 {
			break
		}
		if limit := c.conf.MaxFeaturesPerSpace; limit > 0 && req.Current+c.pendingFeatures[req.SpaceId]+req.Amount > limit {
			return deny(limit)
		}
		c.pendingFeatures[req.SpaceId] += req.Amount
	case KindWrite:
		if !c.conf.WriteWindow.enabled() {
			break
		}
		lim := c.limiter(req.SpaceId)
		now := c.now()
		if lim.writes != nil {
			r := lim.writes.ReserveN(now, 1)
			if !r.OK() || r.DelayFrom(now) > 0 {
				r.CancelAt(now)
				return deny(int64(c.conf.WriteWindow.MaxWrites))
			}
			res.rate = append(res.rate, r)
		}
		if lim.bytes != nil && req.Amount > 0 {
			r := lim.bytes.ReserveN(now, int(req.Amount))
			if !r.OK() || r.DelayFrom(now) > 0 {
				r.CancelAt(now)
				return deny(c.conf.WriteWindow.MaxBytes)
			}
			res.rate = append(res.rate, r)
		}
	default:
		return fmt.Errorf("unknown quota kind %v", req.Kind)
	}
	res.reqs = append(res.reqs, req)
	return nil
}

func (c *controller) owner(owner string) *ownerUsage {
	ou, ok := c.owners[owner]
	if !ok {
		ou = &ownerUsage{}
		c.owners[owner] = ou
	}
	return ou
}

// limiter returns a token bucket that refills the whole window every WriteWindow.Seconds
func (c *controller) limiter(spaceId string) *spaceLimiter {
	lim, ok := c.limiters[spaceId]
	if !ok {
		w := c.conf.WriteWindow
		lim = &spaceLimiter{}
		if w.MaxWrites > 0 {
			lim.writes = rate.NewLimiter(rate.Limit(float64(w.MaxWrites)/float64(w.Seconds)), w.MaxWrites)
		}
		if w.MaxBytes > 0 {
			lim.bytes = rate.NewLimiter(rate.Limit(float64(w.MaxBytes)/float64(w.Seconds)), int(w.MaxBytes))
		}
		c.limiters[spaceId] = lim
	}
	lim.lastUsage = c.now()
	return lim
}

func (c *controller) dropIdleLimiters(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for spaceId, lim := range c.limiters {
		if now.Sub(lim.lastUsage) > c.limiterTTL {
			delete(c.limiters, spaceId)
		}
	}
	return nil
}

func (c *controller) Record(owner string) QuotaRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	ou, ok := c.owners[owner]
	if !ok {
		return QuotaRecord{}
	}
	return QuotaRecord{SpaceCount: ou.spaces, ByteUsage: ou.bytes}
}

func (c *controller) UpdateUsage(owner, spaceId string, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ou := c.owner(owner)
	ou.bytes = max(ou.bytes+bytes-c.spaceBytes[spaceId], 0)
	c.spaceBytes[spaceId] = bytes
}

func (c *controller) ReleaseSpace(owner, spaceId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ou, ok := c.owners[owner]; ok {
		ou.spaces = max(ou.spaces-1, 0)
		ou.bytes = max(ou.bytes-c.spaceBytes[spaceId], 0)
	}
	delete(c.spaceBytes, spaceId)
	delete(c.limiters, spaceId)
	delete(c.pendingFeatures, spaceId)
}

// Reservation holds admitted capacity until Commit or Release.
// The zero value is a no-op reservation.
type Reservation struct {
	c    *controller
	reqs []Request
	rate []*rate.Reservation
	done bool
}

// Commit keeps the reserved space counts. Pending feature and byte amounts are dropped,
// the storage holds them now and UpdateUsage accounts the stored bytes.
func (r *Reservation) Commit() {
	if r == nil || r.c == nil {
		return
	}
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	for _, req := range r.reqs {
		switch req.Kind {
		case KindFeatures:
			r.c.dropPendingLocked(req)
		case KindBytes:
			r.c.dropPendingBytesLocked(req)
		}
	}
}

// Release gives all reserved capacity back
func (r *Reservation) Release() {
	if r == nil || r.c == nil {
		return
	}
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	r.releaseLocked()
}

func (r *Reservation) releaseLocked() {
	if r.done {
		return
	}
	r.done = true
	now := r.c.now()
	for _, rr := range r.rate {
		rr.CancelAt(now)
	}
	for _, req := range r.reqs {
		switch req.Kind {
		case KindSpace:
			if ou, ok := r.c.owners[req.Owner]; ok && ou.spaces > 0 {
				ou.spaces--
			}
		case KindBytes:
			r.c.dropPendingBytesLocked(req)
		case KindFeatures:
			r.c.dropPendingLocked(req)
		}
	}
}

func (c *controller) dropPendingLocked(req Request) {
	if c.pendingFeatures[req.SpaceId] -= req.Amount; c.pendingFeatures[req.SpaceId] <= 0 {
		delete(c.pendingFeatures, req.SpaceId)
	}
}

func (c *controller) dropPendingBytesLocked(req Request) {
	if ou, ok := c.owners[req.Owner]; ok {
		ou.pendingBytes = max(ou.pendingBytes-req.Amount, 0)
	}
}
