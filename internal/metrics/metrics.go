// Package metrics holds the Prometheus collectors shared by Quill components.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Coordinator Metrics
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_submissions_total",
		Help: "The total number of committed phase submissions.",
	}, []string{"phase"})
	PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_phase_transitions_total",
		Help: "The total number of phase transitions, labelled by the phase or state entered.",
	}, []string{"to"})
	TxRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quill_tx_retries_total",
		Help: "The total number of session transactions retried after a WATCH conflict.",
	})

	// Presence Metrics
	HeartbeatFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quill_heartbeat_failures_total",
		Help: "The total number of heartbeat writes that failed.",
	})

	// Observer Metrics
	ReconcileDivergences = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quill_reconcile_divergences_total",
		Help: "The total number of reconciliation polls that found a snapshot the change feed missed.",
	})
	ObserversActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quill_observers_active",
		Help: "The current number of subscribed session observers.",
	})
)

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
