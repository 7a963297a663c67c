package payment

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a domain event. The value doubles as the outbox
// routing topic for the event.
type EventType string

const (
	EventProcessingStarted EventType = "payment.processing"
	EventCompleted         EventType = "payment.completed"
	EventFailed            EventType = "payment.failed"
	EventRefunded          EventType = "payment.refunded"
)

// Topic returns the outbox routing topic for the event type.
func (t EventType) Topic() string {
	return string(t)
}

// Event is a fact describing something that happened to a payment.
// Events are buffered on the aggregate and converted into outbox rows by the
// store in the same transaction as the state change they describe.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	PaymentID  string            `json:"payment_id"`
	MerchantID string            `json:"merchant_id"`
	OrderID    string            `json:"order_id"`
	Amount     string            `json:"amount"`
	Currency   string            `json:"currency"`
	Status     Status            `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

func (p *Payment) newEvent(typ EventType, now time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		PaymentID:  p.ID,
		MerchantID: p.MerchantID,
		OrderID:    p.OrderID,
		Amount:     p.Amount.String(),
		Currency:   p.Currency,
		Status:     p.Status,
		OccurredAt: now,
	}
}
