package responsecache

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	hit  prometheus.Counter
	miss prometheus.Counter
	gc   prometheus.Counter
	size prometheus.GaugeFunc
}

func newMetrics(reg *prometheus.Registry, size func() int) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		hit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hub",
			Subsystem: "response_cache",
			Name:      "hit",
			Help:      "cache hit count",
		}),
		miss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hub",
			Subsystem: "response_cache",
			Name:      "miss",
			Help:      "cache miss count",
		}),
		gc: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hub",
			Subsystem: "response_cache",
			Name:      "gc",
			Help:      "expired or evicted entries count",
		}),
		size: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "hub",
			Subsystem: "response_cache",
			Name:      "size",
			Help:      "cache size",
		}, func() float64 {
			return float64(size())
		}),
	}
	reg.MustRegister(m.hit, m.miss, m.gc, m.size)
	return m
}
