package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYaml = `
log:
  defaultLevel: debug
  levels:
    - name: hub.cache
      level: warn
metric:
  addr: ""
api:
  listenAddr: ":8080"
store:
  path: /tmp/hub/store.db
featureStorage:
  driver: memory
quota:
  maxSpacesPerOwner: 5
  maxRequestBytes: 1048576
  writeWindow:
    seconds: 2
    maxWrites: 10
cache:
  maxEntries: 100
composition:
  maxDepth: 4
readers:
  monotonic: true
retention:
  pruneIntervalSeconds: 30
`

func TestNewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.yml")
	require.NoError(t, os.WriteFile(path, []byte(testYaml), 0644))

	c, err := NewFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.GetLog().DefaultLevel)
	assert.Equal(t, "hub.cache", c.GetLog().Levels[0].Name)
	assert.Equal(t, ":8080", c.GetApi().ListenAddr)
	assert.Equal(t, "/tmp/hub/store.db", c.GetStore().Path)
	assert.Equal(t, "memory", c.GetFeatureStorage().Driver)
	assert.Equal(t, 5, c.GetQuota().MaxSpacesPerOwner)
	assert.Equal(t, int64(1048576), c.GetQuota().MaxRequestBytes)
	assert.Equal(t, 2, c.GetQuota().WriteWindow.Seconds)
	assert.Equal(t, 10, c.GetQuota().WriteWindow.MaxWrites)
	assert.Equal(t, 100, c.GetCache().MaxEntries)
	assert.Equal(t, 4, c.GetComposition().MaxDepth)
	assert.True(t, c.GetReaders().Monotonic)
	assert.Equal(t, 30, c.GetRetention().PruneIntervalSeconds)
	assert.Equal(t, CName, c.Name())
}

func TestNewFromFileMissing(t *testing.T) {
	_, err := NewFromFile(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
}
