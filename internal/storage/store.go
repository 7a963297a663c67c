// Package storage defines the unit-of-work contract the orchestrator
// persists through. Every implementation must make one guarantee above all:
// the aggregate's field changes and the outbox rows for its buffered domain
// events commit in one atomic write. "State changed" and "a notification will
// eventually be delivered" are never separated by a crash.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/payment-engine/internal/domain/payment"
	"github.com/yourorg/payment-engine/internal/idempotency"
)

var (
	// ErrPaymentNotFound is returned when no payment exists for an id.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrDuplicateIdempotencyKey is returned when the unique constraint on
	// the idempotency key rejects an insert: another writer won the race.
	// Callers convert it into a re-read-and-replay path.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already exists")
	// ErrOutboxMessageNotFound is returned when marking an outbox row that
	// does not exist.
	ErrOutboxMessageNotFound = errors.New("outbox message not found")
)

// OutboxMessage is one undelivered domain event, written in the same
// transaction as the state change it describes and later mutated by the
// dispatcher. Only rows with a null ProcessedAt and a retry count below the
// configured ceiling are eligible for redelivery.
type OutboxMessage struct {
	ID          string
	PaymentID   string
	EventType   string
	Topic       string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
	RetryCount  int
	LastError   string
}

// NewOutboxMessage converts a drained domain event into an outbox row. The
// routing topic is derived from the event type.
func NewOutboxMessage(evt payment.Event) (OutboxMessage, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		ID:        uuid.NewString(),
		PaymentID: evt.PaymentID,
		EventType: string(evt.Type),
		Topic:     evt.Type.Topic(),
		Payload:   payload,
		CreatedAt: evt.OccurredAt,
	}, nil
}

// Store is the unit of work. Both save operations drain the aggregate's
// event buffer into outbox rows atomically with the field changes and clear
// the buffer only after the write succeeded.
type Store interface {
	// CreatePayment persists a new payment together with its idempotency
	// record in one transaction. A concurrent insert under the same key
	// fails with ErrDuplicateIdempotencyKey and leaves nothing behind.
	CreatePayment(ctx context.Context, p *payment.Payment, rec idempotency.Record) error

	// UpdatePayment persists the aggregate's current state and appends one
	// outbox row per buffered domain event, all in one transaction.
	UpdatePayment(ctx context.Context, p *payment.Payment) error

	GetPayment(ctx context.Context, id string) (*payment.Payment, error)
	GetIdempotencyRecord(ctx context.Context, key string) (*idempotency.Record, error)
	DeleteExpiredIdempotencyRecords(ctx context.Context, now time.Time) (int64, error)

	// PendingOutbox returns undelivered rows whose retry count is below
	// maxRetries, oldest first.
	PendingOutbox(ctx context.Context, limit, maxRetries int) ([]OutboxMessage, error)
	MarkOutboxProcessed(ctx context.Context, id string) error
	// MarkOutboxFailed increments the retry count and records the error.
	MarkOutboxFailed(ctx context.Context, id, lastError string) error
}
