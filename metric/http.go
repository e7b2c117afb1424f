package metric

import (
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type prometheusHTTP struct {
	http.Handler
	SummaryVec *prometheus.SummaryVec
	routeOf    func(r *http.Request) string
}

func (ph *prometheusHTTP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := time.Now()
	ph.Handler.ServeHTTP(w, r)
	route := r.URL.Path
	if ph.routeOf != nil {
		if rt := ph.routeOf(r); rt != "" {
			route = rt
		}
	}
	if !utf8.ValidString(route) {
		log.WarnCtx(r.Context(), "invalid route string", zap.String("route", route))
		return
	}
	ph.SummaryVec.WithLabelValues(route, r.Method).Observe(time.Since(st).Seconds())
}
