// Package hub orchestrates space lifecycle, the write path and the read path over the hub components.
package hub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/heremaps/xyz-hub-sub001/admission"
	"github.com/heremaps/xyz-hub-sub001/app"
	"github.com/heremaps/xyz-hub-sub001/app/logger"
	"github.com/heremaps/xyz-hub-sub001/composition"
	"github.com/heremaps/xyz-hub-sub001/featurestorage"
	"github.com/heremaps/xyz-hub-sub001/huberr"
	"github.com/heremaps/xyz-hub-sub001/metric"
	"github.com/heremaps/xyz-hub-sub001/readerstore"
	"github.com/heremaps/xyz-hub-sub001/responsecache"
	"github.com/heremaps/xyz-hub-sub001/spacestore"
	"github.com/heremaps/xyz-hub-sub001/versionledger"
)

const CName = "hub.hub"

var log = logger.NewNamed(CName)

var (
	ErrFeatureNotFound = huberr.New(huberr.ErrNotFound, "feature not found")
	ErrNoAccess        = huberr.New(huberr.ErrForbidden, "insufficient rights to access the space")
	ErrAdminOnly       = huberr.New(huberr.ErrForbidden, "the operation requires admin rights")
)

const (
	defaultLimit    = 1000
	defaultMaxLimit = 100000
)

type Config struct {
	DefaultLimit int `yaml:"defaultLimit"`
	MaxLimit     int `yaml:"maxLimit"`
}

type configGetter interface {
	GetHub() Config
}

// Caller is the authenticated identity of a request
type Caller struct {
	Owner string
	Admin bool
}

func (c Caller) canRead(space spacestore.Space) bool {
	return c.Admin || space.Owner == c.Owner || space.Shared
}

func (c Caller) canWrite(space spacestore.Space) bool {
	return c.Admin || space.Owner == c.Owner
}

func New() Hub {
	return &hub{timeNow: time.Now}
}

type Hub interface {
	CreateSpace(ctx context.Context, caller Caller, body []byte) (spacestore.Space, error)
	GetSpace(ctx context.Context, caller Caller, spaceId string) (spacestore.Space, error)
	// PatchSpace applies the top level members of the patch document
	PatchSpace(ctx context.Context, caller Caller, spaceId string, patch []byte) (spacestore.Space, error)
	// DeleteSpace purges features, versions, readers and cached responses and deactivates dependents
	DeleteSpace(ctx context.Context, caller Caller, spaceId string) (spacestore.Space, error)
	ListSpaces(ctx context.Context, caller Caller, q ListQuery) ([]spacestore.Space, error)

	// WriteFeatures upserts a Feature or FeatureCollection consuming one version
	WriteFeatures(ctx context.Context, caller Caller, spaceId string, body []byte) (WriteResult, error)
	// DeleteFeatures writes tombstones, a single missing id is an error, missing ids of a batch are skipped
	DeleteFeatures(ctx context.Context, caller Caller, spaceId string, ids []string) (deleted []string, err error)
	ReadFeatures(ctx context.Context, caller Caller, spaceId string, q ReadQuery) (ReadResult, error)
	GetFeature(ctx context.Context, caller Caller, spaceId, featureId string, q ReadQuery) (ReadResult, error)
	Statistics(ctx context.Context, caller Caller, spaceId string, c composition.Context) (Statistics, error)
	PruneRevisions(ctx context.Context, caller Caller, spaceId string, before int64) (removed int, err error)
	// History returns the inserted, updated and deleted features per version of a version range
	History(ctx context.Context, caller Caller, spaceId string, q HistoryQuery) (ChangesetCollection, error)
	HistoryStatistics(ctx context.Context, caller Caller, spaceId string) (HistoryStatistics, error)

	CreateReader(ctx context.Context, caller Caller, spaceId, readerId string) (readerstore.Reader, error)
	GetReader(ctx context.Context, caller Caller, spaceId, readerId string) (readerstore.Reader, error)
	SetReader(ctx context.Context, caller Caller, spaceId, readerId string, version int64) (readerstore.Reader, error)
	DeleteReader(ctx context.Context, caller Caller, spaceId, readerId string) error
	ListReaders(ctx context.Context, caller Caller, spaceId string) ([]readerstore.Reader, error)

	// HandleEvent runs an admin event and returns its result document
	HandleEvent(ctx context.Context, caller Caller, body []byte) (any, error)
	app.Component
}

type hub struct {
	conf      Config
	spaces    spacestore.SpaceStore
	storage   featurestorage.FeatureStorage
	ledger    versionledger.VersionLedger
	resolver  composition.Resolver
	readers   readerstore.ReaderStore
	admission admission.Controller
	cache     responsecache.ResponseCache
	timeNow   func() time.Time
}

func (h *hub) Init(a *app.App) (err error) {
	h.conf = a.MustComponent("config").(configGetter).GetHub()
	if h.conf.DefaultLimit <= 0 {
		h.conf.DefaultLimit = defaultLimit
	}
	if h.conf.MaxLimit <= 0 {
		h.conf.MaxLimit = defaultMaxLimit
	}
	h.spaces = a.MustComponent(spacestore.CName).(spacestore.SpaceStore)
	h.storage = a.MustComponent(featurestorage.CName).(featurestorage.FeatureStorage)
	h.ledger = a.MustComponent(versionledger.CName).(versionledger.VersionLedger)
	h.resolver = a.MustComponent(composition.CName).(composition.Resolver)
	h.readers = a.MustComponent(readerstore.CName).(readerstore.ReaderStore)
	h.admission = a.MustComponent(admission.CName).(admission.Controller)
	h.cache = a.MustComponent(responsecache.CName).(responsecache.ResponseCache)
	h.ledger.SetPruneHook(h.pruned)
	return nil
}

func (h *hub) Name() (name string) {
	return CName
}

func (h *hub) nowMillis() int64 {
	return h.timeNow().UnixMilli()
}

// limit applies the default and the ceiling to a requested page size
func (h *hub) limit(limit int) int {
	if limit <= 0 {
		return h.conf.DefaultLimit
	}
	return min(limit, h.conf.MaxLimit)
}

func (h *hub) readableSpace(ctx context.Context, caller Caller, spaceId string) (spacestore.Space, error) {
	space, err := h.spaces.Get(ctx, spaceId)
	if err != nil {
		return space, err
	}
	if !caller.canRead(space) {
		return space, ErrNoAccess
	}
	return space, nil
}

func (h *hub) writableSpace(ctx context.Context, caller Caller, spaceId string) (spacestore.Space, error) {
	space, err := h.spaces.Get(ctx, spaceId)
	if err != nil {
		return space, err
	}
	if !caller.canWrite(space) {
		return space, ErrNoAccess
	}
	return space, nil
}

// descendants returns the ids of all spaces whose chain contains spaceId, spaceId included
func (h *hub) descendants(ctx context.Context, spaceId string) ([]string, error) {
	ids := []string{spaceId}
	seen := map[string]struct{}{spaceId: {}}
	for i := 0; i < len(ids); i++ {
		deps, err := h.spaces.Dependents(ctx, ids[i])
		if err != nil {
			return ids, err
		}
		for _, dep := range deps {
			if _, ok := seen[dep.Id]; !ok {
				seen[dep.Id] = struct{}{}
				ids = append(ids, dep.Id)
			}
		}
	}
	return ids, nil
}

// invalidate drops cached reads of the space and every space reading through it
func (h *hub) invalidate(ctx context.Context, spaceId string) {
	ids, err := h.descendants(ctx, spaceId)
	if err != nil {
		log.WarnCtx(ctx, "can't list dependents for cache invalidation", metric.SpaceId(spaceId), zap.Error(err))
	}
	for _, id := range ids {
		h.cache.Invalidate(id)
	}
}
