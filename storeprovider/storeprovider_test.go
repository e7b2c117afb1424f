package storeprovider

import (
	"context"
	"path/filepath"
	"testing"

	anystore "github.com/anyproto/any-store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heremaps/xyz-hub-sub001/app"
)

var ctx = context.Background()

type testConfig struct {
	conf Config
}

func (c *testConfig) Init(a *app.App) error { return nil }
func (c *testConfig) Name() string { return "config" }
func (c *testConfig) GetStore() Config { return c.conf }

func TestProvider(t *testing.T) {
	t.Run("open and close", func(t *testing.T) {
		a := new(app.App)
		sp := New()
		a.Register(&testConfig{conf: Config{Path: filepath.Join(t.TempDir(), "nested", "store.db"), Synchronous: "off"}}).Register(sp)
		require.NoError(t, a.Start(ctx))
		coll, err := sp.DB().Collection(ctx, "probe")
		require.NoError(t, err)
		count, err := coll.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
		require.NoError(t, a.Close(ctx))
	})
	t.Run("missing path", func(t *testing.T) {
		a := new(app.App)
		a.Register(&testConfig{}).Register(New())
		require.Error(t, a.Start(ctx))
	})
	t.Run("external db", func(t *testing.T) {
		db, err := anystore.Open(ctx, filepath.Join(t.TempDir(), "store.db"), nil)
		require.NoError(t, err)
		defer db.Close()
		a := new(app.App)
		sp := NewFromDB(db)
		a.Register(sp)
		require.NoError(t, a.Start(ctx))
		require.NoError(t, a.Close(ctx))
		_, err = db.Collection(ctx, "still-open")
		require.NoError(t, err)
	})
}
