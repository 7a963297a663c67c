// Package provider defines the capability abstraction implemented by each
// payment provider adapter, and the registry that selects an adapter by name.
// Adapters handle all provider-specific API calls and normalize raw provider
// responses into a common PaymentResult; the core never sees vendor wire
// formats. Concrete vendor adapters live outside this module and are modeled
// as independent implementations of one interface, not as a shared base type.
package provider

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-engine/internal/domain/payment"
)

// Well-known failure reasons the resilience layer attaches to synthetic
// results. Adapters should reuse them where the provider condition matches.
const (
	FailureReasonTimeout     = "provider_timeout"
	FailureReasonUnavailable = "provider_unavailable"
	FailureReasonTransport   = "transport_error"
	FailureReasonCancelled   = "request_cancelled"
	FailureReasonInternal    = "internal_error"
)

// PaymentRequest is what an adapter needs to charge a payment. It carries no
// card data; tokenization is resolved by the caller or provider SDK before a
// token reaches this core, inside Metadata.
type PaymentRequest struct {
	PaymentID  string
	MerchantID string
	OrderID    string
	Amount     decimal.Decimal
	Currency   string
	Method     string
	Split      *payment.SplitPayment
	Metadata   map[string]string
}

// RefundRequest asks an adapter to return funds for a prior transaction.
type RefundRequest struct {
	PaymentID     string
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Metadata      map[string]string
}

// PaymentResult is the contract between an adapter and the core. It is
// transient and never persisted. A result with Success=false and no error is
// a well-formed outcome: the system worked and the payment failed.
type PaymentResult struct {
	Success       bool
	TransactionID string
	FailureReason string
	// Temporary marks a failure as transient: the resilience layer may retry
	// it. Definitive declines must leave it false.
	Temporary bool
	Metadata  map[string]string
}

// Provider is the capability abstraction implemented by each adapter.
// Implementations must honor context cancellation on every call.
type Provider interface {
	Name() string
	ProcessPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error)
	CapturePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error)
	RefundPayment(ctx context.Context, req RefundRequest) (PaymentResult, error)
}
