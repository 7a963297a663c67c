// Package circuitbreaker tracks per-provider health and stops calls to a
// provider that keeps failing, for a cool-down period.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the state of one provider's circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

const (
	defaultFailureThreshold = 5
	defaultCoolDown         = 60 * time.Second
)

// Config tunes the breaker. Zero values fall back to the defaults above.
type Config struct {
	// FailureThreshold is the number of consecutive qualifying failures that
	// opens the circuit.
	FailureThreshold int
	// CoolDown is how long an open circuit fails fast before allowing one
	// half-open trial call.
	CoolDown time.Duration
}

// providerState holds the circuit for a single provider name.
type providerState struct {
	state               State
	consecutiveFailures int
	openUntil           time.Time
	probeInFlight       bool
}

// Breaker is one shared, thread-safe instance covering all provider names.
// Construct it once and inject it; per-request instances would never trip.
type Breaker struct {
	mu               sync.Mutex
	providers        map[string]*providerState
	failureThreshold int
	coolDown         time.Duration
	now              func() time.Time
}

// New creates a Breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = defaultCoolDown
	}
	return &Breaker{
		providers:        make(map[string]*providerState),
		failureThreshold: cfg.FailureThreshold,
		coolDown:         cfg.CoolDown,
		now:              time.Now,
	}
}

// WithClock overrides the breaker's clock. Intended for tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

func (b *Breaker) state(provider string) *providerState {
	ps, ok := b.providers[provider]
	if !ok {
		ps = &providerState{state: StateClosed}
		b.providers[provider] = ps
	}
	return ps
}

// Allow reports whether a call to the provider may proceed. When an open
// circuit's cool-down has expired it admits exactly one half-open trial call;
// further calls fail fast until that trial is recorded.
func (b *Breaker) Allow(provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.state(provider)
	switch ps.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Before(ps.openUntil) {
			return false
		}
		ps.state = StateHalfOpen
		ps.probeInFlight = true
		return true
	case StateHalfOpen:
		if ps.probeInFlight {
			return false
		}
		ps.probeInFlight = true
		return true
	default:
		return true
	}
}

// RecordSuccess records that the provider answered structurally. A definitive
// decline counts as success here: the provider is healthy even when the card
// is not.
func (b *Breaker) RecordSuccess(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.state(provider)
	ps.consecutiveFailures = 0
	ps.probeInFlight = false
	ps.state = StateClosed
}

// RecordFailure records a qualifying failure (transport error, timeout, or a
// result marked temporary). Reaching the threshold opens the circuit; a
// failed half-open trial reopens it immediately.
func (b *Breaker) RecordFailure(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.state(provider)
	switch ps.state {
	case StateClosed:
		ps.consecutiveFailures++
		if ps.consecutiveFailures >= b.failureThreshold {
			ps.state = StateOpen
			ps.openUntil = b.now().Add(b.coolDown)
		}
	case StateHalfOpen:
		ps.state = StateOpen
		ps.openUntil = b.now().Add(b.coolDown)
		ps.consecutiveFailures = b.failureThreshold
		ps.probeInFlight = false
	case StateOpen:
		// Already open; nothing to extend.
	}
}

// CurrentState returns the provider's circuit state without transitioning it.
func (b *Breaker) CurrentState(provider string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	ps, ok := b.providers[provider]
	if !ok {
		return StateClosed
	}
	return ps.state
}

// Reset clears the circuit for a provider. Intended for tests and operational
// tooling.
func (b *Breaker) Reset(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.providers, provider)
}
