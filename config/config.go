package config

import (
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/heremaps/xyz-hub-sub001/admission"
	"github.com/heremaps/xyz-hub-sub001/api"
	"github.com/heremaps/xyz-hub-sub001/app"
	"github.com/heremaps/xyz-hub-sub001/app/logger"
	"github.com/heremaps/xyz-hub-sub001/composition"
	"github.com/heremaps/xyz-hub-sub001/featurestorage"
	"github.com/heremaps/xyz-hub-sub001/hub"
	"github.com/heremaps/xyz-hub-sub001/metric"
	"github.com/heremaps/xyz-hub-sub001/readerstore"
	"github.com/heremaps/xyz-hub-sub001/responsecache"
	"github.com/heremaps/xyz-hub-sub001/storeprovider"
	"github.com/heremaps/xyz-hub-sub001/versionledger"
)

const CName = "config"

func NewFromFile(path string) (c *Config, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c = &Config{}
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return
}

type Config struct {
	Log            logger.Config         `yaml:"log"`
	Metric         metric.Config         `yaml:"metric"`
	Api            api.Config            `yaml:"api"`
	Store          storeprovider.Config  `yaml:"store"`
	FeatureStorage featurestorage.Config `yaml:"featureStorage"`
	Quota          admission.Config      `yaml:"quota"`
	Cache          responsecache.Config  `yaml:"cache"`
	Composition    composition.Config    `yaml:"composition"`
	Readers        readerstore.Config    `yaml:"readers"`
	Retention      versionledger.Config  `yaml:"retention"`
	Hub            hub.Config            `yaml:"hub"`
}

func (c *Config) Init(a *app.App) (err error) {
	logger.NewNamed(CName).Info("config loaded",
		zap.String("store", c.Store.Path),
		zap.String("featureDriver", c.FeatureStorage.Driver),
		zap.String("listen", c.Api.ListenAddr),
	)
	return
}

func (c *Config) Name() (name string) {
	return CName
}

func (c *Config) GetLog() logger.Config {
	return c.Log
}

func (c *Config) GetMetric() metric.Config {
	return c.Metric
}

func (c *Config) GetApi() api.Config {
	return c.Api
}

func (c *Config) GetStore() storeprovider.Config {
	return c.Store
}

func (c *Config) GetFeatureStorage() featurestorage.Config {
	return c.FeatureStorage
}

func (c *Config) GetQuota() admission.Config {
	return c.Quota
}

func (c *Config) GetCache() responsecache.Config {
	return c.Cache
}

func (c *Config) GetComposition() composition.Config {
	return c.Composition
}

func (c *Config) GetReaders() readerstore.Config {
	return c.Readers
}

func (c *Config) GetRetention() versionledger.Config {
	return c.Retention
}

func (c *Config) GetHub() hub.Config {
	return c.Hub
}
