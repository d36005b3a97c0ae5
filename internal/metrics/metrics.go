// Package metrics exposes check-run counters for the node exporter textfile
// collector.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of one run. Each instance owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	AssetsTotal       *prometheus.CounterVec
	ProbesTotal       *prometheus.CounterVec
	ProbeDuration     *prometheus.HistogramVec
	Discrepancies     prometheus.Gauge
	RunDuration       prometheus.Gauge
	LastRunTimestamp  prometheus.Gauge
	LastRunSuccessful prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AssetsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetcheck_assets_total",
				Help: "Metadata files checked, by asset kind and result status",
			},
			[]string{"kind", "status"},
		),
		ProbesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetcheck_probes_total",
				Help: "Backend probes issued, by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		ProbeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assetcheck_probe_duration_seconds",
				Help:    "Duration of backend probes in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"backend"},
		),
		Discrepancies: factory.NewGauge(prometheus.GaugeOpts{
			Name: "assetcheck_discrepancies",
			Help: "Availability discrepancies found by the last run",
		}),
		RunDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "assetcheck_last_run_duration_seconds",
			Help: "Wall time of the last run in seconds",
		}),
		LastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "assetcheck_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
		LastRunSuccessful: factory.NewGauge(prometheus.GaugeOpts{
			Name: "assetcheck_last_run_success",
			Help: "1 if the last run found no problems, 0 otherwise",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveProbe(backend, outcome string, d time.Duration) {
	m.ProbesTotal.WithLabelValues(backend, outcome).Inc()
	m.ProbeDuration.WithLabelValues(backend).Observe(d.Seconds())
}

func (m *Metrics) ObserveAsset(kind, status string) {
	m.AssetsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveRun records the run-level gauges.
func (m *Metrics) ObserveRun(finished time.Time, took time.Duration, discrepancies int, ok bool) {
	m.Discrepancies.Set(float64(discrepancies))
	m.RunDuration.Set(took.Seconds())
	m.LastRunTimestamp.Set(float64(finished.Unix()))
	if ok {
		m.LastRunSuccessful.Set(1)
	} else {
		m.LastRunSuccessful.Set(0)
	}
}

// WriteTextfile atomically writes the registry in text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return errors.New("metrics file path is required")
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
