package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/heremaps/xyz-hub-sub001/admission"
	"github.com/heremaps/xyz-hub-sub001/api"
	"github.com/heremaps/xyz-hub-sub001/app"
	"github.com/heremaps/xyz-hub-sub001/app/logger"
	"github.com/heremaps/xyz-hub-sub001/composition"
	"github.com/heremaps/xyz-hub-sub001/config"
	"github.com/heremaps/xyz-hub-sub001/featurestorage"
	"github.com/heremaps/xyz-hub-sub001/hub"
	"github.com/heremaps/xyz-hub-sub001/metric"
	"github.com/heremaps/xyz-hub-sub001/readerstore"
	"github.com/heremaps/xyz-hub-sub001/responsecache"
	"github.com/heremaps/xyz-hub-sub001/spacestore"
	"github.com/heremaps/xyz-hub-sub001/storeprovider"
	"github.com/heremaps/xyz-hub-sub001/versionledger"
)

var log = logger.NewNamed("main")

var (
	flagConfigFile = flag.String("c", "etc/hub.yml", "path to config file")
	flagVersion    = flag.Bool("v", false, "show version and exit")
	flagHelp       = flag.Bool("h", false, "show help and exit")
)

func main() {
	flag.Parse()

	if *flagVersion {
		fmt.Println(app.VersionDescription())
		return
	}
	if *flagHelp {
		flag.PrintDefaults()
		return
	}

	ctx := context.Background()
	a := new(app.App)

	conf, err := config.NewFromFile(*flagConfigFile)
	if err != nil {
		log.Fatal("can't open config file", zap.Error(err))
	}
	conf.Log.ApplyGlobal()

	a.Register(conf)
	Bootstrap(a, conf)
	if err = a.Start(ctx); err != nil {
		log.Fatal("can't start app", zap.Error(err))
	}
	log.Info("app started",
		zap.String("version", a.Version()),
		zap.Int64("startMs", a.StartStat().SpentMsTotal),
		zap.Strings("components", a.ComponentNames()))

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-exit
	log.Info("received exit signal, stop app", zap.String("signal", fmt.Sprint(sig)))

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err = a.Close(ctx); err != nil {
		log.Fatal("close error", zap.Error(err))
	}
}

func Bootstrap(a *app.App, conf *config.Config) {
	storage := featurestorage.NewInMemory()
	if conf.FeatureStorage.Driver == featurestorage.DriverAnyStore {
		storage = featurestorage.NewAnyStore()
	}
	a.Register(metric.New()).
		Register(storeprovider.New()).
		Register(spacestore.New()).
		Register(storage).
		Register(readerstore.New()).
		Register(versionledger.New()).
		Register(composition.New()).
		Register(admission.New()).
		Register(responsecache.New()).
		Register(hub.New()).
		Register(api.New())
}
