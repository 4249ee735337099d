// Package metrics exposes engine counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dagflow"

// Step outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
	OutcomeInvalid   = "invalid"
)

type Metrics struct {
	registry *prom.Registry

	steps         *prom.CounterVec
	stepDuration  *prom.HistogramVec
	stepsInFlight prom.Gauge
	submitted     prom.Counter
}

// New creates the engine metrics on a dedicated registry that also carries
// the Go runtime and process collectors.
func New() *Metrics {
	registry := prom.NewRegistry()

	m := &Metrics{
		registry: registry,
		steps: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Step deliveries handled by workers, by job class and outcome.",
		}, []string{"class", "outcome"}),
		stepDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Time spent handling a step delivery.",
			Buckets:   prom.DefBuckets,
		}, []string{"class"}),
		stepsInFlight: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "steps_in_flight",
			Help:      "Step deliveries currently being handled.",
		}),
		submitted: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_submitted_total",
			Help:      "Workflows stored and dispatched.",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.steps,
		m.stepDuration,
		m.stepsInFlight,
		m.submitted,
	)

	return m
}

// StepStarted marks a delivery in flight and returns the function recording its outcome.
func (m *Metrics) StepStarted(class string) func(outcome string) {
	start := time.Now()

	m.stepsInFlight.Inc()

	return func(outcome string) {
		m.stepsInFlight.Dec()
		m.steps.WithLabelValues(class, outcome).Inc()
		m.stepDuration.WithLabelValues(class).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) WorkflowSubmitted() {
	m.submitted.Inc()
}

// Registry returns the registry the metrics are gathered from.
func (m *Metrics) Registry() *prom.Registry {
	return m.registry
}

// Handler serves the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
