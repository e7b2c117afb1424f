package metric

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/heremaps/xyz-hub-sub001/app"
)

func newVersionsCollector(a *app.App) prometheus.Collector {
	return &versionCollector{prometheus.MustNewConstMetric(prometheus.NewDesc(
		"hub_versions",
		"Build information about the hub binary.",
		nil, prometheus.Labels{
			"app_name":    a.Name(),
			"app_version": a.Version(),
		},
	), prometheus.GaugeValue, 1)}
}

type versionCollector struct {
	ver prometheus.Metric
}

func (v *versionCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- v.ver.Desc()
}

func (v *versionCollector) Collect(metrics chan<- prometheus.Metric) {
	metrics <- v.ver
}
