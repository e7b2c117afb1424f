//go:generate mockgen -destination mock_featurestorage/mock_featurestorage.go github.com/heremaps/xyz-hub-sub001/featurestorage FeatureStorage
package featurestorage

import (
	"context"

	"github.com/heremaps/xyz-hub-sub001/app"
	"github.com/heremaps/xyz-hub-sub001/app/logger"
)

const CName = "hub.featurestorage"

var log = logger.NewNamed(CName)

const (
	DriverMemory   = "memory"
	DriverAnyStore = "anystore"
)

type Config struct {
	Driver string `yaml:"driver"`
}

type Operation int

const (
	OpUpsert Operation = iota
	OpDelete
)

func (o Operation) String() string {
	if o == OpDelete {
		return "delete"
	}
	return "upsert"
}

// Revision is one immutable write of a feature at a version
type Revision struct {
	SpaceId   string
	FeatureId string
	Version   int64
	Op        Operation
	Payload   []byte
	Timestamp int64
}

func (r Revision) Deleted() bool {
	return r.Op == OpDelete
}

func (r Revision) Size() int {
	return len(r.Payload)
}

type Usage struct {
	Revisions int
	Bytes     int64
}

// FeatureStorage persists feature revisions, it knows nothing about composition or visibility
type FeatureStorage interface {
	// WriteRevisions persists revisions atomically, a failed call leaves nothing behind
	WriteRevisions(ctx context.Context, spaceId string, revs []Revision) error
	// Latest returns for every id the newest revision with version <= version, tombstones included.
	// Empty ids means all features of the space. The result is ordered by feature id.
	Latest(ctx context.Context, spaceId string, version int64, ids []string) ([]Revision, error)
	// Changes returns the revisions written in [from, to], ordered by version and then by feature id
	Changes(ctx context.Context, spaceId string, from, to int64) ([]Revision, error)
	// Prune removes revisions that are superseded by another revision with version <= floor
	Prune(ctx context.Context, spaceId string, floor int64) (removed int, err error)
	// DeleteVersion removes every revision written at version
	DeleteVersion(ctx context.Context, spaceId string, version int64) error
	DeleteSpace(ctx context.Context, spaceId string) error
	Usage(ctx context.Context, spaceId string) (Usage, error)
	app.ComponentRunnable
}
