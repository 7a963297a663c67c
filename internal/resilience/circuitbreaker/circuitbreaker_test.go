package circuitbreaker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-engine/internal/resilience/circuitbreaker"
)

const testProvider = "test-provider"

func newBreakerWithClock(cfg circuitbreaker.Config) (*circuitbreaker.Breaker, *time.Time) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	cb := circuitbreaker.New(cfg).WithClock(func() time.Time { return now })
	return cb, &now
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	cb, _ := newBreakerWithClock(circuitbreaker.Config{FailureThreshold: 5, CoolDown: time.Minute})

	for i := 0; i < 4; i++ {
		require.True(t, cb.Allow(testProvider), "closed circuit must allow calls")
		cb.RecordFailure(testProvider)
	}
	assert.Equal(t, circuitbreaker.StateClosed, cb.CurrentState(testProvider), "still closed after 4 failures")

	cb.RecordFailure(testProvider) // 5th consecutive failure
	assert.Equal(t, circuitbreaker.StateOpen, cb.CurrentState(testProvider))
	assert.False(t, cb.Allow(testProvider), "open circuit fails fast")
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := newBreakerWithClock(circuitbreaker.Config{FailureThreshold: 3, CoolDown: time.Minute})

	cb.RecordFailure(testProvider)
	cb.RecordFailure(testProvider)
	cb.RecordSuccess(testProvider)
	cb.RecordFailure(testProvider)
	cb.RecordFailure(testProvider)

	assert.Equal(t, circuitbreaker.StateClosed, cb.CurrentState(testProvider),
		"failures must be consecutive to open the circuit")
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	cb, now := newBreakerWithClock(circuitbreaker.Config{FailureThreshold: 2, CoolDown: time.Minute})

	cb.RecordFailure(testProvider)
	cb.RecordFailure(testProvider)
	require.Equal(t, circuitbreaker.StateOpen, cb.CurrentState(testProvider))
	require.False(t, cb.Allow(testProvider))

	// Within cool-down: still failing fast.
	*now = now.Add(30 * time.Second)
	assert.False(t, cb.Allow(testProvider))

	// After cool-down: exactly one trial call is admitted.
	*now = now.Add(31 * time.Second)
	assert.True(t, cb.Allow(testProvider), "first call after cool-down is the trial")
	assert.Equal(t, circuitbreaker.StateHalfOpen, cb.CurrentState(testProvider))
	assert.False(t, cb.Allow(testProvider), "second call during the trial fails fast")

	t.Run("Trial success closes", func(t *testing.T) {
		cb.RecordSuccess(testProvider)
		assert.Equal(t, circuitbreaker.StateClosed, cb.CurrentState(testProvider))
		assert.True(t, cb.Allow(testProvider))
	})
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	cb, now := newBreakerWithClock(circuitbreaker.Config{FailureThreshold: 2, CoolDown: time.Minute})

	cb.RecordFailure(testProvider)
	cb.RecordFailure(testProvider)
	*now = now.Add(61 * time.Second)
	require.True(t, cb.Allow(testProvider))

	cb.RecordFailure(testProvider)
	assert.Equal(t, circuitbreaker.StateOpen, cb.CurrentState(testProvider))
	assert.False(t, cb.Allow(testProvider), "failed trial reopens the circuit for a full cool-down")

	*now = now.Add(61 * time.Second)
	assert.True(t, cb.Allow(testProvider), "next cool-down admits a new trial")
}

func TestBreaker_ProvidersAreIndependent(t *testing.T) {
	cb, _ := newBreakerWithClock(circuitbreaker.Config{FailureThreshold: 1, CoolDown: time.Minute})

	cb.RecordFailure("flaky")
	assert.False(t, cb.Allow("flaky"))
	assert.True(t, cb.Allow("steady"), "one provider's circuit must not affect another's")
}

func TestBreaker_Reset(t *testing.T) {
	cb, _ := newBreakerWithClock(circuitbreaker.Config{FailureThreshold: 1, CoolDown: time.Minute})
	cb.RecordFailure(testProvider)
	require.False(t, cb.Allow(testProvider))

	cb.Reset(testProvider)
	assert.True(t, cb.Allow(testProvider))
	assert.Equal(t, circuitbreaker.StateClosed, cb.CurrentState(testProvider))
}

func TestBreaker_Defaults(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Config{})
	for i := 0; i < 4; i++ {
		cb.RecordFailure(testProvider)
	}
	assert.Equal(t, circuitbreaker.StateClosed, cb.CurrentState(testProvider))
	cb.RecordFailure(testProvider)
	assert.Equal(t, circuitbreaker.StateOpen, cb.CurrentState(testProvider),
		"default threshold is 5 consecutive failures")
}
