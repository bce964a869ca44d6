// Package metrics exposes the SDK's prometheus collectors on a private
// registry so embedding applications keep their default registry clean.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the SDK collectors
type Metrics struct {
	registry *prometheus.Registry

	PollTicks      prometheus.Counter
	PollFailures   prometheus.Counter
	PollTerminal   prometheus.Counter
	StateChanges   prometheus.Counter
	Activations    *prometheus.CounterVec
	Creations      *prometheus.CounterVec
	OTPChallenges  prometheus.Counter
	OTPCompletions *prometheus.CounterVec
}

// New builds and registers all collectors
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.PollTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "embedded_wallet",
		Name:      "poll_ticks_total",
		Help:      "Embedded-state poll attempts.",
	})
	m.PollFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "embedded_wallet",
		Name:      "poll_failures_total",
		Help:      "Embedded-state poll attempts that failed.",
	})
	m.PollTerminal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "embedded_wallet",
		Name:      "poll_terminal_stops_total",
		Help:      "Times polling stopped after exhausting retries.",
	})
	m.StateChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "embedded_wallet",
		Name:      "embedded_state_changes_total",
		Help:      "Published embedded-state transitions.",
	})
	m.Activations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "embedded_wallet",
		Name:      "activations_total",
		Help:      "Wallet activation attempts by chain family and outcome.",
	}, []string{"chain_family", "outcome"})
	m.Creations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "embedded_wallet",
		Name:      "creations_total",
		Help:      "Wallet creation attempts by chain family and outcome.",
	}, []string{"chain_family", "outcome"})
	m.OTPChallenges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "embedded_wallet",
		Name:      "otp_challenges_total",
		Help:      "One-time-code challenges requested.",
	})
	m.OTPCompletions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "embedded_wallet",
		Name:      "otp_completions_total",
		Help:      "One-time-code completion attempts by outcome.",
	}, []string{"outcome"})

	m.registry.MustRegister(
		m.PollTicks, m.PollFailures, m.PollTerminal, m.StateChanges,
		m.Activations, m.Creations, m.OTPChallenges, m.OTPCompletions,
	)
	return m
}

// Registry returns the private registry for hosts that want to scrape it.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
