// Package telemetry provides the gateway's metrics implementations and the
// observability HTTP endpoint.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"toolgate/internal/domain"
)

type PrometheusMetrics struct {
	invocationDuration *prometheus.HistogramVec
	discoverDuration   *prometheus.HistogramVec
	provisionSelected  prometheus.Counter
	provisionDropped   prometheus.Counter
	publishedTools     prometheus.Gauge
	backendAlive       *prometheus.GaugeVec
	framerDiscards     *prometheus.CounterVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		invocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_invocation_duration_seconds",
				Help:    "Duration of backend tool invocations in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"backend", "status"},
		),
		discoverDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_discover_duration_seconds",
				Help:    "Duration of tool discovery queries in seconds",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"status"},
		),
		provisionSelected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "toolgate_provision_selected_total",
				Help: "Total number of tools admitted by provisioning",
			},
		),
		provisionDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "toolgate_provision_dropped_total",
				Help: "Total number of candidate tools dropped by provisioning",
			},
		),
		publishedTools: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "toolgate_published_tools",
				Help: "Current size of the published tool set",
			},
		),
		backendAlive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolgate_backend_alive",
				Help: "Whether the backend connection is alive (1) or dead (0)",
			},
			[]string{"backend"},
		),
		framerDiscards: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_framer_discards_total",
				Help: "Total bytes-discard events in the stream framer by kind",
			},
			[]string{"kind"},
		),
	}
}

func (p *PrometheusMetrics) ObserveInvocation(backend string, duration time.Duration, err error) {
	p.invocationDuration.WithLabelValues(backend, statusLabel(err)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveDiscoverRequest(duration time.Duration, err error) {
	p.discoverDuration.WithLabelValues(statusLabel(err)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveProvision(selected, dropped int) {
	p.provisionSelected.Add(float64(selected))
	p.provisionDropped.Add(float64(dropped))
}

func (p *PrometheusMetrics) SetPublishedTools(count int) {
	p.publishedTools.Set(float64(count))
}

func (p *PrometheusMetrics) SetBackendAlive(backend string, alive bool) {
	value := 0.0
	if alive {
		value = 1.0
	}
	p.backendAlive.WithLabelValues(backend).Set(value)
}

func (p *PrometheusMetrics) IncFramerDiscard(kind string) {
	p.framerDiscards.WithLabelValues(kind).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
