// Package resilience shields the orchestrator from slow, flaky, or
// unavailable payment providers. The invoker composes three policies around a
// provider call, outermost first: per-attempt timeout, retry with exponential
// backoff, and a per-provider circuit breaker. It always answers with a
// PaymentResult, success or failure, never an error: provider trouble is an
// expected operational condition, not an exception.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/payment-engine/internal/provider"
	"github.com/yourorg/payment-engine/internal/resilience/circuitbreaker"
)

const (
	defaultAttemptTimeout = 30 * time.Second
	defaultMaxAttempts    = 3
	defaultBackoffBase    = time.Second
)

// AttemptsMetadataKey is the result metadata key under which the invoker
// records how many attempts the invocation took.
const AttemptsMetadataKey = "attempts"

// Config tunes the invoker. Zero values fall back to the defaults above.
type Config struct {
	// AttemptTimeout is the fixed ceiling per attempt. Exceeding it aborts
	// the attempt and counts as a transient failure.
	AttemptTimeout time.Duration
	// MaxAttempts bounds the total number of attempts, first call included.
	MaxAttempts int
	// BackoffBase scales the exponential backoff: the delay before attempt
	// n+1 is BackoffBase * 2^n.
	BackoffBase time.Duration
}

func (c Config) withDefaults() Config {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = defaultAttemptTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}
	return c
}

// Sleeper abstracts backoff delays so tests can observe them without waiting.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// DefaultSleeper sleeps on the wall clock, aborting early on cancellation.
type DefaultSleeper struct{}

func (DefaultSleeper) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Invoker wraps provider calls with the resilience policies.
type Invoker struct {
	breaker *circuitbreaker.Breaker
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
	sleeper Sleeper
}

// NewInvoker creates an invoker. The breaker must be the one shared instance
// for the process; metrics may be nil.
func NewInvoker(breaker *circuitbreaker.Breaker, cfg Config, logger *zap.Logger, metrics *Metrics) *Invoker {
	if breaker == nil {
		panic("circuit breaker cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &Invoker{
		breaker: breaker,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: metrics,
		sleeper: DefaultSleeper{},
	}
}

// WithSleeper overrides the backoff sleeper. Intended for tests.
func (iv *Invoker) WithSleeper(s Sleeper) *Invoker {
	iv.sleeper = s
	return iv
}

// ProcessPayment invokes the provider's charge operation under the policies.
func (iv *Invoker) ProcessPayment(ctx context.Context, p provider.Provider, req provider.PaymentRequest) provider.PaymentResult {
	return iv.invoke(ctx, p.Name(), "process", func(c context.Context) (provider.PaymentResult, error) {
		return p.ProcessPayment(c, req)
	})
}

// CapturePayment invokes the provider's capture operation under the policies.
func (iv *Invoker) CapturePayment(ctx context.Context, p provider.Provider, req provider.PaymentRequest) provider.PaymentResult {
	return iv.invoke(ctx, p.Name(), "capture", func(c context.Context) (provider.PaymentResult, error) {
		return p.CapturePayment(c, req)
	})
}

// RefundPayment invokes the provider's refund operation under the policies.
func (iv *Invoker) RefundPayment(ctx context.Context, p provider.Provider, req provider.RefundRequest) provider.PaymentResult {
	return iv.invoke(ctx, p.Name(), "refund", func(c context.Context) (provider.PaymentResult, error) {
		return p.RefundPayment(c, req)
	})
}

func (iv *Invoker) invoke(
	ctx context.Context,
	providerName, operation string,
	call func(ctx context.Context) (provider.PaymentResult, error),
) provider.PaymentResult {
	var last provider.PaymentResult
	for attempt := 1; attempt <= iv.cfg.MaxAttempts; attempt++ {
		// Every attempt passes through the breaker, so a circuit that opens
		// mid-invocation stops the remaining retries too.
		if !iv.breaker.Allow(providerName) {
			iv.metrics.fastFail(providerName)
			iv.metrics.observeState(providerName, iv.breaker.CurrentState(providerName))
			iv.logger.Warn("circuit open, failing fast without a network attempt",
				zap.String("provider", providerName),
				zap.String("operation", operation),
			)
			return finish(provider.PaymentResult{
				Success:       false,
				FailureReason: provider.FailureReasonUnavailable,
				Temporary:     true,
			}, attempt-1)
		}
		iv.metrics.attempt(providerName, attempt)

		res, err, timedOut := iv.attempt(ctx, call)

		switch {
		case err == nil && res.Success:
			iv.breaker.RecordSuccess(providerName)
			iv.metrics.observeState(providerName, iv.breaker.CurrentState(providerName))
			return finish(res, attempt)

		case err == nil && !res.Temporary:
			// Definitive decline: the provider answered structurally, so the
			// circuit stays healthy and the result is never retried.
			iv.breaker.RecordSuccess(providerName)
			iv.metrics.observeState(providerName, iv.breaker.CurrentState(providerName))
			return finish(res, attempt)

		case timedOut:
			iv.metrics.timeout(providerName)
			iv.breaker.RecordFailure(providerName)
			last = provider.PaymentResult{
				Success:       false,
				FailureReason: provider.FailureReasonTimeout,
				Temporary:     true,
			}
			iv.logger.Warn("provider attempt timed out",
				zap.String("provider", providerName),
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Duration("timeout", iv.cfg.AttemptTimeout),
			)

		case err != nil:
			iv.breaker.RecordFailure(providerName)
			reason := provider.FailureReasonTransport
			if errors.Is(err, errAdapterPanic) {
				reason = provider.FailureReasonInternal
			}
			last = provider.PaymentResult{
				Success:       false,
				FailureReason: reason,
				Temporary:     true,
			}
			iv.logger.Warn("provider attempt failed",
				zap.String("provider", providerName),
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)

		default:
			// Structurally delivered failure explicitly marked temporary.
			iv.breaker.RecordFailure(providerName)
			last = res
			iv.logger.Warn("provider reported a temporary failure",
				zap.String("provider", providerName),
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.String("reason", res.FailureReason),
			)
		}

		iv.metrics.observeState(providerName, iv.breaker.CurrentState(providerName))

		if ctx.Err() != nil {
			// The caller cancelled; do not burn further attempts.
			return finish(provider.PaymentResult{
				Success:       false,
				FailureReason: provider.FailureReasonCancelled,
				Temporary:     true,
			}, attempt)
		}

		if attempt < iv.cfg.MaxAttempts {
			delay := iv.cfg.BackoffBase * (1 << attempt)
			if err := iv.sleeper.Sleep(ctx, delay); err != nil {
				return finish(provider.PaymentResult{
					Success:       false,
					FailureReason: provider.FailureReasonCancelled,
					Temporary:     true,
				}, attempt)
			}
		}
	}
	return finish(last, iv.cfg.MaxAttempts)
}

// errAdapterPanic marks an error recovered from a panicking adapter.
var errAdapterPanic = errors.New("adapter panic")

// attempt runs one call under the per-attempt timeout. A panic inside the
// adapter is recovered and mapped to an error so it can never escape past the
// resilience boundary.
func (iv *Invoker) attempt(
	ctx context.Context,
	call func(ctx context.Context) (provider.PaymentResult, error),
) (res provider.PaymentResult, err error, timedOut bool) {
	attemptCtx, cancel := context.WithTimeout(ctx, iv.cfg.AttemptTimeout)
	defer cancel()

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", errAdapterPanic, r)
			}
		}()
		res, err = call(attemptCtx)
	}()

	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return res, err, true
	}
	return res, err, false
}

func finish(res provider.PaymentResult, attempts int) provider.PaymentResult {
	if res.Metadata == nil {
		res.Metadata = make(map[string]string, 1)
	}
	res.Metadata[AttemptsMetadataKey] = strconv.Itoa(attempts)
	return res
}
