// Package api serves the hub over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/heremaps/xyz-hub-sub001/app"
	"github.com/heremaps/xyz-hub-sub001/app/logger"
	"github.com/heremaps/xyz-hub-sub001/hub"
	"github.com/heremaps/xyz-hub-sub001/metric"
)

const CName = "hub.api"

var log = logger.NewNamed(CName)

const readHeaderTimeout = 10 * time.Second

type Config struct {
	ListenAddr string `yaml:"listenAddr"`
	// MaxBodyBytes bounds the decompressed request body, zero means unlimited
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`
}

type configGetter interface {
	GetApi() Config
}

type Api interface {
	Handler() http.Handler
	// Addr is the bound listener address, empty until Run
	Addr() string
	app.ComponentRunnable
}

func New() Api {
	return &api{}
}

type api struct {
	conf    Config
	hub     hub.Hub
	auth    Authenticator
	metric  metric.Metric
	handler http.Handler
	server  *http.Server
	addr    string
}

func (s *api) Init(a *app.App) (err error) {
	s.conf = a.MustComponent("config").(configGetter).GetApi()
	s.hub = a.MustComponent(hub.CName).(hub.Hub)
	if auth, ok := a.Component(AuthCName).(Authenticator); ok {
		s.auth = auth
	} else {
		s.auth = HeaderAuthenticator{}
	}
	if m, ok := a.Component(metric.CName).(metric.Metric); ok {
		s.metric = m
	}
	s.handler = s.router()
	return nil
}

func (s *api) Name() (name string) {
	return CName
}

func (s *api) Handler() http.Handler {
	return s.handler
}

func (s *api) Addr() string {
	return s.addr
}

func (s *api) Run(ctx context.Context) (err error) {
	if s.conf.ListenAddr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", s.conf.ListenAddr)
	if err != nil {
		return err
	}
	s.addr = lis.Addr().String()
	s.server = &http.Server{Handler: s.handler, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		if e := s.server.Serve(lis); e != nil && !errors.Is(e, http.ErrServerClosed) {
			log.Error("http server stopped", zap.Error(e))
		}
	}()
	log.Info("http server started", zap.String("addr", s.addr))
	return nil
}

func (s *api) Close(ctx context.Context) (err error) {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

func (s *api) router() http.Handler {
	r := chi.NewRouter()
	if s.metric != nil {
		// the route pattern is only known inside the router
		r.Use(func(next http.Handler) http.Handler {
			return s.metric.WrapHTTPHandler(next, routePattern)
		})
	}
	r.Use(s.requestLog)
	r.Get("/health", s.health)

	r.Route("/spaces", func(r chi.Router) {
		r.Post("/", s.serve(s.createSpace))
		r.Get("/", s.serve(s.listSpaces))
		r.Route("/{spaceId}", func(r chi.Router) {
			r.Get("/", s.serve(s.getSpace))
			r.Patch("/", s.serve(s.patchSpace))
			r.Delete("/", s.serve(s.deleteSpace))

			r.Get("/features", s.serve(s.readFeatures))
			r.Get("/iterate", s.serve(s.readFeatures))
			r.Post("/features", s.serve(s.writeFeatures))
			r.Put("/features", s.serve(s.writeFeatures))
			r.Delete("/features", s.serve(s.deleteFeatures))
			r.Get("/features/{featureId}", s.serve(s.getFeature))
			r.Delete("/features/{featureId}", s.serve(s.deleteFeature))

			r.Get("/statistics", s.serve(s.statistics))
			r.Delete("/revisions", s.serve(s.pruneRevisions))
			r.Get("/history", s.serve(s.history))
			r.Get("/history/statistics", s.serve(s.historyStatistics))

			r.Get("/readers", s.serve(s.listReaders))
			r.Put("/readers/{readerId}", s.serve(s.createReader))
			r.Get("/readers/{readerId}", s.serve(s.getReader))
			r.Delete("/readers/{readerId}", s.serve(s.deleteReader))
			r.Post("/readers/{readerId}/version", s.serve(s.setReader))
		})
	})
	r.Post("/admin/events", s.serve(s.handleEvent))
	return r
}

// requestLog attaches request fields to the context and logs the outcome
func (s *api) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := time.Now()
		ctx := logger.CtxWithFields(r.Context(), metric.Method(r.Method), metric.Path(r.URL.Path))
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))
		fields := []zap.Field{metric.Status(sw.status), metric.TotalDur(time.Since(st))}
		if s.metric != nil {
			s.metric.RequestLog(ctx, fields...)
		} else {
			log.DebugCtx(ctx, "request", fields...)
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
