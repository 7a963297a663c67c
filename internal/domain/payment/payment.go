// Package payment holds the payment aggregate, its lifecycle state machine,
// the fee split calculator, and the domain events raised on state changes.
package payment

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-engine/internal/apperror"
)

// Status is the lifecycle state of a payment.
type Status string

const (
	StatusCreated           Status = "CREATED"
	StatusProcessing        Status = "PROCESSING"
	StatusSucceeded         Status = "SUCCEEDED"
	StatusFailed            Status = "FAILED"
	StatusRefunded          Status = "REFUNDED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
	StatusCompleted         Status = "COMPLETED"
)

// Payment is the aggregate root. Amount and currency are immutable after
// creation. Status must only change through the transition methods below,
// which consult the state machine and raise one domain event per transition;
// direct assignment bypasses both and breaks the outbox contract.
type Payment struct {
	ID          string
	Amount      decimal.Decimal
	Currency    string
	Method      string
	Provider    string
	MerchantID  string
	OrderID     string
	ProjectCode string
	Status      Status
	Split       *SplitPayment
	Metadata    map[string]string

	// Settlement fields are filled by the exchange-rate collaborator, not here.
	SettlementCurrency string
	SettlementAmount   decimal.Decimal
	SettlementRate     decimal.Decimal

	ProviderTransactionID string
	FailureReason         string
	RefundedAmount        decimal.Decimal

	CreatedAt  time.Time
	UpdatedAt  time.Time
	RefundedAt *time.Time
	SettledAt  *time.Time

	// events buffers domain events raised since the last persist. The store
	// drains it inside the same transaction that writes the field changes.
	events []Event
}

// NewParams carries the validated inputs the factory needs.
type NewParams struct {
	Amount      decimal.Decimal
	Currency    string
	Method      string
	Provider    string
	MerchantID  string
	OrderID     string
	ProjectCode string
	Split       *SplitPayment
	Metadata    map[string]string
	Now         time.Time
}

// New builds a payment aggregate in the Created state.
func New(p NewParams) (*Payment, error) {
	if p.Amount.IsNegative() || p.Amount.IsZero() {
		return nil, apperror.New(apperror.KindValidation, "amount must be positive, got %s", p.Amount)
	}
	if strings.TrimSpace(p.Currency) == "" {
		return nil, apperror.New(apperror.KindValidation, "currency is required")
	}
	if strings.TrimSpace(p.MerchantID) == "" {
		return nil, apperror.New(apperror.KindValidation, "merchant id is required")
	}
	if strings.TrimSpace(p.OrderID) == "" {
		return nil, apperror.New(apperror.KindValidation, "order id is required")
	}
	if strings.TrimSpace(p.Provider) == "" {
		return nil, apperror.New(apperror.KindValidation, "provider is required")
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return &Payment{
		ID:             uuid.NewString(),
		Amount:         p.Amount,
		Currency:       strings.ToUpper(p.Currency),
		Method:         p.Method,
		Provider:       p.Provider,
		MerchantID:     p.MerchantID,
		OrderID:        p.OrderID,
		ProjectCode:    p.ProjectCode,
		Status:         StatusCreated,
		Split:          p.Split,
		Metadata:       p.Metadata,
		RefundedAmount: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// transition moves the payment to the next legal state and raises an event.
func (p *Payment) transition(trigger Trigger, typ EventType, now time.Time) (*Event, error) {
	next, err := Next(p.Status, trigger)
	if err != nil {
		return nil, err
	}
	p.Status = next
	p.UpdatedAt = now
	evt := p.newEvent(typ, now)
	p.events = append(p.events, evt)
	return &p.events[len(p.events)-1], nil
}

// MarkProcessing records that provider invocation is about to begin.
func (p *Payment) MarkProcessing(now time.Time) error {
	_, err := p.transition(TriggerProcess, EventProcessingStarted, now)
	return err
}

// MarkSucceeded records a successful provider outcome.
func (p *Payment) MarkSucceeded(transactionID string, details map[string]string, now time.Time) error {
	evt, err := p.transition(TriggerComplete, EventCompleted, now)
	if err != nil {
		return err
	}
	p.ProviderTransactionID = transactionID
	p.FailureReason = ""
	evt.Status = p.Status
	evt.Details = details
	return nil
}

// MarkCompleted records settlement close-out of a previously succeeded
// payment, capture confirmation included.
func (p *Payment) MarkCompleted(details map[string]string, now time.Time) error {
	evt, err := p.transition(TriggerComplete, EventCompleted, now)
	if err != nil {
		return err
	}
	evt.Status = p.Status
	evt.Details = details
	return nil
}

// MarkFailed records a failed provider outcome. The failure reason is data,
// not an error: a failed payment is still a well-formed outcome.
func (p *Payment) MarkFailed(reason string, now time.Time) error {
	evt, err := p.transition(TriggerFail, EventFailed, now)
	if err != nil {
		return err
	}
	p.FailureReason = reason
	evt.Reason = reason
	return nil
}

// MarkRefunded records a full refund of the remaining captured amount.
func (p *Payment) MarkRefunded(now time.Time) error {
	evt, err := p.transition(TriggerRefund, EventRefunded, now)
	if err != nil {
		return err
	}
	p.RefundedAmount = p.Amount
	p.RefundedAt = &now
	evt.Details = map[string]string{"refunded_amount": p.RefundedAmount.String()}
	return nil
}

// MarkPartiallyRefunded records a refund of part of the captured amount.
// The cumulative refunded amount can never exceed the payment amount.
func (p *Payment) MarkPartiallyRefunded(amount decimal.Decimal, now time.Time) error {
	if amount.IsNegative() || amount.IsZero() {
		return apperror.New(apperror.KindValidation, "refund amount must be positive, got %s", amount)
	}
	if p.RefundedAmount.Add(amount).GreaterThan(p.Amount) {
		return apperror.New(apperror.KindValidation,
			"refund amount %s exceeds remaining refundable %s", amount, p.Amount.Sub(p.RefundedAmount))
	}
	evt, err := p.transition(TriggerPartialRefund, EventRefunded, now)
	if err != nil {
		return err
	}
	p.RefundedAmount = p.RefundedAmount.Add(amount)
	p.RefundedAt = &now
	evt.Details = map[string]string{"refunded_amount": p.RefundedAmount.String()}
	return nil
}

// RemainingRefundable is the captured amount not yet refunded.
func (p *Payment) RemainingRefundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}

// RecordSettlement stores the settled currency conversion reported by the
// exchange-rate collaborator.
func (p *Payment) RecordSettlement(currency string, amount, rate decimal.Decimal, now time.Time) {
	p.SettlementCurrency = strings.ToUpper(currency)
	p.SettlementAmount = amount
	p.SettlementRate = rate
	p.SettledAt = &now
	p.UpdatedAt = now
}

// Events returns the buffered domain events without clearing them.
func (p *Payment) Events() []Event {
	return p.events
}

// ClearEvents empties the event buffer. The store calls this only after the
// events have been durably written as outbox rows.
func (p *Payment) ClearEvents() {
	p.events = nil
}
