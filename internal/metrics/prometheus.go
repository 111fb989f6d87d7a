// Package metrics records gateway, lifecycle and ledger activity as
// Prometheus metrics on a private registry.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "phasegate"

// Recorder implements gateway.Recorder, ledger.Recorder and the
// orchestrator's transition hooks.
type Recorder struct {
	registry *prometheus.Registry

	validationsTotal   *prometheus.CounterVec
	admissionsTotal    *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	ledgerWriteTotal   *prometheus.CounterVec
	ledgerWriteLatency prometheus.Histogram
}

// NewRecorder creates a recorder with its own registry so that several
// instances can coexist in one process.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		validationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_layer_results_total",
				Help:      "Validation layer outcomes by layer and result",
			},
			[]string{"layer", "result"},
		),
		admissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admissions_total",
				Help:      "Queue attempts by outcome (queued, forced, rejected, illegal)",
			},
			[]string{"outcome"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Persisted phase state transitions",
			},
			[]string{"from", "to"},
		),
		ledgerWriteTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_writes_total",
				Help:      "Ledger file writes by status",
			},
			[]string{"status"},
		),
		ledgerWriteLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ledger_write_duration_seconds",
				Help:      "Duration of atomic ledger writes",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveValidation records one layer verdict.
func (r *Recorder) ObserveValidation(layer string, passed bool) {
	result := "passed"
	if !passed {
		result = "failed"
	}
	r.validationsTotal.WithLabelValues(layer, result).Inc()
}

// ObserveAdmission records the outcome of a queue attempt.
func (r *Recorder) ObserveAdmission(outcome string) {
	r.admissionsTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ObserveTransition(from, to string) {
	r.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (r *Recorder) ObserveLedgerWrite(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.ledgerWriteTotal.WithLabelValues(status).Inc()
	r.ledgerWriteLatency.Observe(d.Seconds())
}

// WriteTextfile dumps the registry in text exposition format for the node
// exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
