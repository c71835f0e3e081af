package dashboard

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics публикует последние значения рядов и состояние перезагрузок в формате Prometheus
type Metrics struct {
	registry   *prometheus.Registry
	latest     *prometheus.GaugeVec
	snapshots  prometheus.Gauge
	reloads    *prometheus.CounterVec
	lastReload prometheus.Gauge
}

// NewMetrics создает метрики на собственном реестре
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		latest: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sysmet",
			Name:      "series_latest_value",
			Help:      "Latest value of each derived series.",
		}, []string{"chart", "series", "unit"}),
		snapshots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sysmet",
			Name:      "store_snapshots",
			Help:      "Number of snapshots in the last loaded database.",
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sysmet",
			Name:      "dashboard_reloads_total",
			Help:      "Database reloads by result.",
		}, []string{"result"}),
		lastReload: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sysmet",
			Name:      "dashboard_last_reload_timestamp_seconds",
			Help:      "Unix time of the last successful reload.",
		}),
	}

	m.registry.MustRegister(m.latest, m.snapshots, m.reloads, m.lastReload)
	return m
}

// Observe обновляет метрики по свежим графикам
func (m *Metrics) Observe(c Charts) {
	m.reloads.WithLabelValues("success").Inc()
	m.snapshots.Set(float64(c.Snapshots))
	m.lastReload.Set(float64(c.UpdatedAt.Unix()))

	m.latest.Reset()
	for _, chart := range c.Charts {
		for _, s := range chart.Series {
			if len(s.Points) == 0 {
				continue
			}
			m.latest.WithLabelValues(chart.Name, string(s.Key), chart.Unit).
				Set(s.Points[len(s.Points)-1].Value)
		}
	}
}

// ObserveError учитывает неудачную перезагрузку
func (m *Metrics) ObserveError() {
	m.reloads.WithLabelValues("error").Inc()
}

// Registry возвращает реестр (для тестов и дополнительных коллекторов)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler отдает метрики по HTTP
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
