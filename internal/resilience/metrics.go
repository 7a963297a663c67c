package resilience

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourorg/payment-engine/internal/resilience/circuitbreaker"
)

// Metrics exposes the invoker's operational signals. Timeouts, retries, and
// breaker fast-fails are expected conditions; these series are how they stay
// independently observable for alerting.
type Metrics struct {
	attempts     *prometheus.CounterVec
	retries      *prometheus.CounterVec
	timeouts     *prometheus.CounterVec
	fastFails    *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
}

// NewMetrics registers the invoker metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_provider_attempts_total",
			Help: "Provider invocation attempts, including retries.",
		}, []string{"provider"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_provider_retries_total",
			Help: "Attempts beyond the first for a single invocation.",
		}, []string{"provider"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_provider_timeouts_total",
			Help: "Attempts aborted by the per-attempt timeout ceiling.",
		}, []string{"provider"}),
		fastFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_provider_circuit_fast_fails_total",
			Help: "Invocations rejected without a network attempt by an open circuit.",
		}, []string{"provider"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "payment_provider_circuit_state",
			Help: "Circuit state per provider: 0 closed, 1 open, 2 half-open.",
		}, []string{"provider"}),
	}
	reg.MustRegister(m.attempts, m.retries, m.timeouts, m.fastFails, m.breakerState)
	return m
}

func (m *Metrics) attempt(provider string, attemptNumber int) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(provider).Inc()
	if attemptNumber > 1 {
		m.retries.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) timeout(provider string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(provider).Inc()
}

func (m *Metrics) fastFail(provider string) {
	if m == nil {
		return
	}
	m.fastFails.WithLabelValues(provider).Inc()
}

func (m *Metrics) observeState(provider string, state circuitbreaker.State) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(provider).Set(float64(state))
}
