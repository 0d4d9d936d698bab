package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/swage/internal/events"
)

// Metrics aggregates pipeline lifecycle events into Prometheus series.
// A private registry keeps the serve-mode surface to exactly what swage
// exports.
type Metrics struct {
	registry     *prometheus.Registry
	runs         *prometheus.CounterVec
	stepRuns     *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	runActive    prometheus.Gauge
}

// NewMetrics creates the metric set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swage_runs_total",
				Help: "Total number of pipeline runs by terminal status",
			},
			[]string{"status"},
		),
		stepRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swage_step_runs_total",
				Help: "Total number of step executions by step and terminal status",
			},
			[]string{"step", "status"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "swage_step_duration_seconds",
				Help: "Duration of completed step executions",
				// Training steps run minutes, not milliseconds.
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"step"},
		),
		runActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "swage_run_active",
				Help: "Whether a pipeline run is currently executing",
			},
		),
	}
}

// Handler serves the /metrics endpoint for this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Watch feeds the metrics from the event hub until ctx is done.
func (m *Metrics) Watch(ctx context.Context, hub *events.Hub) {
	ch, cancel := hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(ev)
		}
	}
}

// Observe updates the metric set for one lifecycle event.
func (m *Metrics) Observe(ev events.Event) {
	switch ev.Type {
	case "pipeline.started":
		m.runActive.Set(1)
	case "pipeline.completed":
		m.runActive.Set(0)
		m.runs.WithLabelValues("succeeded").Inc()
	case "pipeline.failed":
		m.runActive.Set(0)
		m.runs.WithLabelValues("failed").Inc()
	case "step.completed":
		var payload struct {
			Step       string `json:"step"`
			DurationMS int64  `json:"duration_ms"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err != nil || payload.Step == "" {
			return
		}
		m.stepRuns.WithLabelValues(payload.Step, "succeeded").Inc()
		m.stepDuration.WithLabelValues(payload.Step).Observe(float64(payload.DurationMS) / 1000)
	case "step.failed":
		var payload struct {
			Step string `json:"step"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err != nil || payload.Step == "" {
			return
		}
		m.stepRuns.WithLabelValues(payload.Step, "failed").Inc()
	}
}
