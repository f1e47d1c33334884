// Package metrics exposes Prometheus counters for the ccstream server.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Connection outcomes used as the "outcome" label.
const (
	OutcomeRelayed      = "relayed"
	OutcomeRefused      = "refused"
	OutcomeAuthRejected = "auth_rejected"
	OutcomeAuthFailed   = "auth_failed"
	OutcomeNoHeader     = "no_header"
	OutcomeRelayFailed  = "relay_failed"
)

var (
	registerOnce sync.Once

	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ccstream",
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Accepted connections by final outcome.",
		},
		[]string{"outcome"},
	)
	passwordFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ccstream",
			Subsystem: "server",
			Name:      "password_failures_total",
			Help:      "Wrong passwords received.",
		},
	)
	relayedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ccstream",
			Subsystem: "server",
			Name:      "relayed_bytes_total",
			Help:      "Header and payload bytes received after the handshake.",
		},
	)
)

// RegisterMetrics registers the collectors with the default registry once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(connections, passwordFailures, relayedBytes)
	})
}

// RecordConnection counts one finished connection under outcome.
func RecordConnection(outcome string) {
	RegisterMetrics()
	connections.WithLabelValues(outcome).Inc()
}

// RecordPasswordFailure counts one wrong password.
func RecordPasswordFailure() {
	RegisterMetrics()
	passwordFailures.Inc()
}

// RecordRelayedBytes adds n relayed stream bytes; non-positive n is ignored.
func RecordRelayedBytes(n int64) {
	if n <= 0 {
		return
	}

	RegisterMetrics()
	relayedBytes.Add(float64(n))
}
