// Package mock provides a scriptable Provider implementation for tests and
// local development.
package mock

import (
	"context"

	"github.com/google/uuid"

	"github.com/yourorg/payment-engine/internal/provider"
)

// Provider is a mock implementation of provider.Provider. Each operation can
// be scripted with a func field; when unset, the call succeeds with a fresh
// transaction id.
type Provider struct {
	ProviderName string

	ProcessFunc func(ctx context.Context, req provider.PaymentRequest) (provider.PaymentResult, error)
	CaptureFunc func(ctx context.Context, req provider.PaymentRequest) (provider.PaymentResult, error)
	RefundFunc  func(ctx context.Context, req provider.RefundRequest) (provider.PaymentResult, error)

	// Calls counts ProcessPayment invocations, for asserting at-most-once
	// provider invocation.
	Calls int
}

// New creates a mock provider with the given name.
func New(name string) *Provider {
	return &Provider{ProviderName: name}
}

func (m *Provider) Name() string {
	return m.ProviderName
}

func (m *Provider) ProcessPayment(ctx context.Context, req provider.PaymentRequest) (provider.PaymentResult, error) {
	m.Calls++
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, req)
	}
	return provider.PaymentResult{
		Success:       true,
		TransactionID: uuid.NewString(),
		Metadata:      map[string]string{"mock_processed": "true"},
	}, nil
}

func (m *Provider) CapturePayment(ctx context.Context, req provider.PaymentRequest) (provider.PaymentResult, error) {
	if m.CaptureFunc != nil {
		return m.CaptureFunc(ctx, req)
	}
	return provider.PaymentResult{Success: true, TransactionID: uuid.NewString()}, nil
}

func (m *Provider) RefundPayment(ctx context.Context, req provider.RefundRequest) (provider.PaymentResult, error) {
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, req)
	}
	return provider.PaymentResult{Success: true, TransactionID: req.TransactionID}, nil
}
