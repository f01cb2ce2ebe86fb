package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zammy/zammy/pkg/plugin"
)

const namespace = "zammy"

// Metrics holds the Prometheus collectors for the plugin system. It
// implements plugin.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Install metrics
	InstallsTotal   *prometheus.CounterVec
	InstallDuration *prometheus.HistogramVec

	// Activation metrics
	ActivationsTotal   *prometheus.CounterVec
	ActivationDuration *prometheus.HistogramVec

	// Discovery metrics
	PluginsDiscoveredGauge prometheus.Gauge

	// Command metrics
	CommandsExecutedTotal *prometheus.CounterVec
}

var _ plugin.Metrics = (*Metrics)(nil)

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		InstallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_installs_total",
				Help:      "Total number of plugin installs by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		InstallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plugin_install_duration_seconds",
				Help:      "Duration of plugin installs in seconds",
				Buckets:   []float64{.05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"source"},
		),

		ActivationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_activations_total",
				Help:      "Total number of plugin activations by outcome",
			},
			[]string{"plugin", "outcome"},
		),
		ActivationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plugin_activation_duration_seconds",
				Help:      "Duration of plugin activations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"plugin"},
		),

		PluginsDiscoveredGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "plugins_discovered",
				Help:      "Number of plugins found by the last discovery scan",
			},
		),

		CommandsExecutedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_executed_total",
				Help:      "Total number of command invocations by owner and outcome",
			},
			[]string{"command", "owner", "outcome"},
		),
	}

	m.registry.MustRegister(
		m.InstallsTotal,
		m.InstallDuration,
		m.ActivationsTotal,
		m.ActivationDuration,
		m.PluginsDiscoveredGauge,
		m.CommandsExecutedTotal,
	)

	return m
}

// InstallCompleted implements plugin.Metrics
func (m *Metrics) InstallCompleted(source plugin.SourceType, outcome string, duration time.Duration) {
	m.InstallsTotal.WithLabelValues(string(source), outcome).Inc()
	m.InstallDuration.WithLabelValues(string(source)).Observe(duration.Seconds())
}

// ActivationCompleted implements plugin.Metrics
func (m *Metrics) ActivationCompleted(name, outcome string, duration time.Duration) {
	m.ActivationsTotal.WithLabelValues(name, outcome).Inc()
	m.ActivationDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// PluginsDiscovered implements plugin.Metrics
func (m *Metrics) PluginsDiscovered(count int) {
	m.PluginsDiscoveredGauge.Set(float64(count))
}

// CommandExecuted records one command invocation
func (m *Metrics) CommandExecuted(command, owner string, err error) {
	outcome := plugin.OutcomeSuccess
	if err != nil {
		outcome = plugin.OutcomeError
	}
	m.CommandsExecutedTotal.WithLabelValues(command, owner, outcome).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
