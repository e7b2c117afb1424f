package metric

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/heremaps/xyz-hub-sub001/app"
	"github.com/heremaps/xyz-hub-sub001/app/logger"
)

const CName = "hub.metric"

var log = logger.NewNamed(CName)

func New() Metric {
	return new(metric)
}

type Metric interface {
	Registry() *prometheus.Registry
	// WrapHTTPHandler observes request durations labeled by the route returned from routeOf
	WrapHTTPHandler(h http.Handler, routeOf func(r *http.Request) string) http.Handler
	RequestLog(ctx context.Context, fields ...zap.Field)
	app.ComponentRunnable
}

type Config struct {
	Addr string `yaml:"addr"`
}

type configSource interface {
	GetMetric() Config
}

type metric struct {
	registry *prometheus.Registry
	reqLog   logger.CtxLogger
	config   Config
	server   *http.Server
	a        *app.App
}

func (m *metric) Init(a *app.App) (err error) {
	m.a = a
	m.registry = prometheus.NewRegistry()
	m.config = a.MustComponent("config").(configSource).GetMetric()
	m.reqLog = logger.NewNamed("hub.requestLog")
	return nil
}

func (m *metric) Name() string {
	return CName
}

func (m *metric) Run(ctx context.Context) (err error) {
	if err = m.registry.Register(collectors.NewBuildInfoCollector()); err != nil {
		return err
	}
	if err = m.registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	if err = m.registry.Register(newVersionsCollector(m.a)); err != nil {
		return err
	}
	if m.config.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Addr: m.config.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if e := m.server.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
			errCh <- e
		}
	}()
	select {
	case err = <-errCh:
	case <-time.After(time.Second / 5):
	}
	return
}

func (m *metric) Registry() *prometheus.Registry {
	return m.registry
}

func (m *metric) WrapHTTPHandler(h http.Handler, routeOf func(r *http.Request) string) http.Handler {
	if m == nil {
		return h
	}
	summary := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: "hub",
		Subsystem: "http",
		Name:      "duration_seconds",
		Objectives: map[float64]float64{
			0.5:  0.5,
			0.85: 0.01,
			0.95: 0.0005,
			0.99: 0.0001,
		},
	}, []string{"route", "method"})
	if err := m.registry.Register(summary); err != nil {
		log.Warn("can't register prometheus http metric", zap.Error(err))
		return h
	}
	return &prometheusHTTP{Handler: h, SummaryVec: summary, routeOf: routeOf}
}

func (m *metric) Close(ctx context.Context) (err error) {
	if m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return
}
