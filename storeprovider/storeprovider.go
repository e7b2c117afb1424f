// Package storeprovider owns the any-store database shared by the persistent hub components.
package storeprovider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	anystore "github.com/anyproto/any-store"
	"go.uber.org/zap"

	"github.com/heremaps/xyz-hub-sub001/app"
	"github.com/heremaps/xyz-hub-sub001/app/logger"
)

const CName = "hub.storeprovider"

var log = logger.NewNamed(CName)

type Config struct {
	Path string `yaml:"path"`
	// Synchronous is passed to sqlite as is, "off" trades durability for write speed
	Synchronous string `yaml:"synchronous"`
}

type configGetter interface {
	GetStore() Config
}

type StoreProvider interface {
	app.ComponentRunnable
	// DB is available after Run
	DB() anystore.DB
}

func New() StoreProvider {
	return &provider{}
}

// NewFromDB wraps an already opened database, Close does not close it
func NewFromDB(db anystore.DB) StoreProvider {
	return &provider{db: db, external: true}
}

type provider struct {
	conf     Config
	db       anystore.DB
	external bool
}

func (p *provider) Init(a *app.App) (err error) {
	if p.external {
		return nil
	}
	p.conf = a.MustComponent("config").(configGetter).GetStore()
	if p.conf.Path == "" {
		return fmt.Errorf("store path is not configured")
	}
	return nil
}

func (p *provider) Name() (name string) {
	return CName
}

func (p *provider) Run(ctx context.Context) (err error) {
	if p.external {
		return nil
	}
	if err = os.MkdirAll(filepath.Dir(p.conf.Path), 0755); err != nil {
		return err
	}
	var conf *anystore.Config
	if p.conf.Synchronous != "" {
		conf = &anystore.Config{
			SQLiteConnectionOptions: map[string]string{"synchronous": p.conf.Synchronous},
		}
	}
	if p.db, err = anystore.Open(ctx, p.conf.Path, conf); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	log.Info("store opened", zap.String("path", p.conf.Path))
	return nil
}

func (p *provider) DB() anystore.DB {
	return p.db
}

func (p *provider) Close(ctx context.Context) (err error) {
	if p.external || p.db == nil {
		return nil
	}
	return p.db.Close()
}
