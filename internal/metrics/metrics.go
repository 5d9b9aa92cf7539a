// Package metrics exposes status-check outcomes as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clashdash/internal/shared/types"
)

const namespace = "clashdash"

// Collector 汇总检查结果。注册在独立的 registry 上, 多个实例互不影响。
type Collector struct {
	registry *prometheus.Registry

	checks    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	serverUp  *prometheus.GaugeVec
	byStatus  *prometheus.GaugeVec
	lastCheck prometheus.Gauge
}

// NewCollector registers all collectors on registry, or on a fresh registry when nil.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Status checks performed, by resulting status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Latency of GET /version against control servers.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"status"}),
		serverUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_up",
			Help:      "1 when the last check of the server succeeded.",
		}, []string{"id", "name", "type"}),
		byStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "servers",
			Help:      "Configured servers by last known status.",
		}, []string{"status"}),
		lastCheck: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_check_timestamp_seconds",
			Help:      "Unix time of the most recent status check.",
		}),
	}

	registry.MustRegister(c.checks, c.duration, c.serverUp, c.byStatus, c.lastCheck)
	return c
}

// ObserveCheck records a single check outcome.
func (c *Collector) ObserveCheck(_ types.ServerConfig, res types.CheckResult, elapsed time.Duration) {
	status := string(res.Status)
	c.checks.WithLabelValues(status).Inc()
	c.duration.WithLabelValues(status).Observe(elapsed.Seconds())
	c.lastCheck.SetToCurrentTime()
}

// SetServers replaces the per-server gauges with the given list.
func (c *Collector) SetServers(list []types.ServerConfig) {
	c.serverUp.Reset()
	c.byStatus.Reset()

	counts := map[types.ServerStatus]int{
		types.StatusOK: 0, types.StatusUnauthorized: 0, types.StatusError: 0, types.StatusUnknown: 0,
	}
	for _, srv := range list {
		status := srv.Status
		if status == "" {
			status = types.StatusUnknown
		}
		counts[status]++

		up := 0.0
		if status == types.StatusOK {
			up = 1
		}
		c.serverUp.WithLabelValues(srv.ID, srv.DisplayName(), string(srv.ServerType)).Set(up)
	}
	for status, n := range counts {
		c.byStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
