package featurestorage

import (
	"context"
	"sort"
	"sync"

	"github.com/huandu/skiplist"

	"github.com/heremaps/xyz-hub-sub001/app"
)

// NewInMemory returns a non persistent storage, revisions of a space are kept in a skiplist
// ordered by feature id and then by version descending
func NewInMemory() FeatureStorage {
	return &memStorage{spaces: make(map[string]*skiplist.SkipList)}
}

type revKey struct {
	featureId string
	version   int64
}

type revOrder struct{}

// Compare implements skiplist interface
func (revOrder) Compare(lhs, rhs interface{}) int {
	l, r := lhs.(revKey), rhs.(revKey)
	switch {
	case l.featureId < r.featureId:
		return -1
	case l.featureId > r.featureId:
		return 1
	case l.version > r.version:
		return -1
	case l.version < r.version:
		return 1
	}
	return 0
}

// CalcScore implements skiplist interface
func (revOrder) CalcScore(key interface{}) float64 {
	return 0
}

type memStorage struct {
	mu     sync.RWMutex
	spaces map[string]*skiplist.SkipList
}

func (m *memStorage) Init(a *app.App) (err error) {
	return nil
}

func (m *memStorage) Name() (name string) {
	return CName
}

func (m *memStorage) Run(ctx context.Context) (err error) {
	return nil
}

func (m *memStorage) WriteRevisions(ctx context.Context, spaceId string, revs []Revision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.spaces[spaceId]
	if !ok {
		sl = skiplist.New(revOrder{})
		m.spaces[spaceId] = sl
	}
	for _, rev := range revs {
		rev.SpaceId = spaceId
		sl.Set(revKey{featureId: rev.FeatureId, version: rev.Version}, rev)
	}
	return nil
}

func (m *memStorage) Latest(ctx context.Context, spaceId string, version int64, ids []string) ([]Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sl, ok := m.spaces[spaceId]
	if !ok {
		return nil, nil
	}
	var res []Revision
	if len(ids) > 0 {
		sorted := append([]string(nil), ids...)
		sort.Strings(sorted)
		for i, id := range sorted {
			if i > 0 && sorted[i-1] == id {
				continue
			}
			el := sl.Find(revKey{featureId: id, version: version})
			if el != nil && el.Key().(revKey).featureId == id {
				res = append(res, el.Value.(Revision))
			}
		}
		return res, nil
	}
	var last string
	var taken bool
	for el := sl.Front(); el != nil; el = el.Next() {
		key := el.Key().(revKey)
		if key.featureId != last {
			last, taken = key.featureId, false
		}
		if taken || key.version > version {
			continue
		}
		res = append(res, el.Value.(Revision))
		taken = true
	}
	return res, nil
}

func (m *memStorage) Changes(ctx context.Context, spaceId string, from, to int64) ([]Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sl, ok := m.spaces[spaceId]
	if !ok {
		return nil, nil
	}
	var res []Revision
	for el := sl.Front(); el != nil; el = el.Next() {
		if v := el.Key().(revKey).version; v >= from && v <= to {
			res = append(res, el.Value.(Revision))
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Version < res[j].Version
	})
	return res, nil
}

func (m *memStorage) Prune(ctx context.Context, spaceId string, floor int64) (removed int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.spaces[spaceId]
	if !ok {
		return 0, nil
	}
	var (
		stale []revKey
		last  string
		kept  bool
	)
	for el := sl.Front(); el != nil; el = el.Next() {
		key := el.Key().(revKey)
		if key.featureId != last {
			last, kept = key.featureId, false
		}
		if key.version > floor {
			continue
		}
		if kept {
			stale = append(stale, key)
		} else {
			kept = true
		}
	}
	for _, key := range stale {
		sl.Remove(key)
	}
	return len(stale), nil
}

func (m *memStorage) DeleteVersion(ctx context.Context, spaceId string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.spaces[spaceId]
	if !ok {
		return nil
	}
	var stale []revKey
	for el := sl.Front(); el != nil; el = el.Next() {
		if key := el.Key().(revKey); key.version == version {
			stale = append(stale, key)
		}
	}
	for _, key := range stale {
		sl.Remove(key)
	}
	return nil
}

func (m *memStorage) DeleteSpace(ctx context.Context, spaceId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.spaces, spaceId)
	return nil
}

func (m *memStorage) Usage(ctx context.Context, spaceId string) (u Usage, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sl, ok := m.spaces[spaceId]
	if !ok {
		return
	}
	for el := sl.Front(); el != nil; el = el.Next() {
		u.Revisions++
		u.Bytes += int64(el.Value.(Revision).Size())
	}
	return
}

func (m *memStorage) Close(ctx context.Context) (err error) {
	return nil
}
