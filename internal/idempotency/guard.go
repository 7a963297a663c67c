package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/yourorg/payment-engine/internal/apperror"
)

// Record maps a client idempotency key to the payment it produced, together
// with the canonical hash of the request that created it. Records expire
// after a TTL and become reclaimable.
type Record struct {
	Key         string
	PaymentID   string
	RequestHash string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the record's TTL has passed.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ErrRecordNotFound is returned by a Store when no record exists for a key.
var ErrRecordNotFound = errors.New("idempotency record not found")

// Store is the persistence the guard reads records from. The write side is
// intentionally absent: records are written by the unit of work in the same
// transaction as the new payment.
type Store interface {
	GetIdempotencyRecord(ctx context.Context, key string) (*Record, error)
}

// Outcome classifies the result of resolving a key.
type Outcome int

const (
	// OutcomeNew means no live record exists; the caller proceeds to create a payment.
	OutcomeNew Outcome = iota
	// OutcomeReplay means a live record with a matching hash exists; the caller
	// returns the prior payment and never re-invokes the provider.
	OutcomeReplay
)

// Resolution is the guard's answer for a (key, hash) pair.
type Resolution struct {
	Outcome   Outcome
	PaymentID string
}

// Guard resolves idempotency keys against persisted records.
type Guard struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewGuard creates a guard. ttl governs how long a record shields its key
// from reprocessing.
func NewGuard(store Store, ttl time.Duration) *Guard {
	if store == nil {
		panic("idempotency store cannot be nil")
	}
	if ttl <= 0 {
		panic("idempotency ttl must be positive")
	}
	return &Guard{store: store, ttl: ttl, now: time.Now}
}

// WithClock overrides the guard's clock. Intended for tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Resolve answers what to do for a key carrying a request with the given
// canonical hash:
//   - no live record: proceed with first-time processing;
//   - record with the same hash: replay the prior payment;
//   - record with a different hash: conflict, a caller error that must never
//     be silently resolved.
func (g *Guard) Resolve(ctx context.Context, key, hash string) (Resolution, error) {
	rec, err := g.store.GetIdempotencyRecord(ctx, key)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return Resolution{Outcome: OutcomeNew}, nil
		}
		return Resolution{}, apperror.Wrap(apperror.KindPersistence, err, "resolving idempotency key %q", key)
	}
	if rec.Expired(g.now()) {
		// Expired records are reclaimable: the key may be reused.
		return Resolution{Outcome: OutcomeNew}, nil
	}
	if rec.RequestHash != hash {
		return Resolution{}, apperror.New(apperror.KindConflict,
			"idempotency key %q was already used with a different payload", key)
	}
	return Resolution{Outcome: OutcomeReplay, PaymentID: rec.PaymentID}, nil
}

// NewRecord builds the record the unit of work writes alongside a new payment.
func (g *Guard) NewRecord(key, hash, paymentID string) Record {
	now := g.now()
	return Record{
		Key:         key,
		PaymentID:   paymentID,
		RequestHash: hash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ttl),
	}
}
