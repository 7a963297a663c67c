// Package orchestrator is the composition root of the payment engine. It
// threads a request through validation, the idempotency guard, the compliance
// gate, the payment aggregate, and the resilient provider invoker, persisting
// through the transactional outbox at every state change.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/yourorg/payment-engine/internal/apperror"
	"github.com/yourorg/payment-engine/internal/compliance"
	"github.com/yourorg/payment-engine/internal/domain/payment"
	"github.com/yourorg/payment-engine/internal/idempotency"
	"github.com/yourorg/payment-engine/internal/provider"
	"github.com/yourorg/payment-engine/internal/resilience"
	"github.com/yourorg/payment-engine/internal/storage"
)

// ProcessRequest is the inbound contract for charging a payment.
type ProcessRequest struct {
	RequestID      string
	Amount         decimal.Decimal
	Currency       string
	Method         string
	Provider       string
	MerchantID     string
	OrderID        string
	ProjectCode    string
	IdempotencyKey string
	FeePercent     *decimal.Decimal
	CountryCode    string
	Metadata       map[string]string
}

// RefundRequest asks for a refund against an existing payment. A nil Amount
// refunds the full remaining refundable amount.
type RefundRequest struct {
	PaymentID string
	Amount    *decimal.Decimal
	Metadata  map[string]string
}

// PaymentView is the caller-facing projection of a payment. A view with a
// failed status and a failure reason is a well-formed outcome, not an error.
type PaymentView struct {
	ID            string                `json:"id"`
	Status        string                `json:"status"`
	Amount        string                `json:"amount"`
	Currency      string                `json:"currency"`
	TransactionID string                `json:"transaction_id,omitempty"`
	Split         *payment.SplitPayment `json:"split_payment,omitempty"`
	FailureReason string                `json:"failure_reason,omitempty"`
}

// Orchestrator coordinates one payment operation end to end. It holds no
// per-request state and is safe for concurrent use.
type Orchestrator struct {
	store    storage.Store
	guard    *idempotency.Guard
	registry *provider.Registry
	invoker  *resilience.Invoker
	gate     *compliance.Gate
	logger   *zap.Logger
	now      func() time.Time
}

// New creates an orchestrator. It panics if any collaborator is nil.
func New(
	store storage.Store,
	guard *idempotency.Guard,
	registry *provider.Registry,
	invoker *resilience.Invoker,
	gate *compliance.Gate,
	logger *zap.Logger,
) *Orchestrator {
	if store == nil {
		panic("store cannot be nil")
	}
	if guard == nil {
		panic("idempotency guard cannot be nil")
	}
	if registry == nil {
		panic("provider registry cannot be nil")
	}
	if invoker == nil {
		panic("invoker cannot be nil")
	}
	if gate == nil {
		panic("compliance gate cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &Orchestrator{
		store:    store,
		guard:    guard,
		registry: registry,
		invoker:  invoker,
		gate:     gate,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the orchestrator's clock. Intended for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// ProcessPayment charges a payment. Validation, conflict, and compliance
// errors propagate because they are caller-correctable; provider-side trouble
// is captured as data on the returned view and never surfaces as an error.
func (o *Orchestrator) ProcessPayment(ctx context.Context, req ProcessRequest) (PaymentView, error) {
	tracer := otel.Tracer("orchestrator")
	ctx, span := tracer.Start(ctx, "Orchestrator.ProcessPayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider", req.Provider),
		attribute.String("payment.merchant_id", req.MerchantID),
	)

	if err := validate(req); err != nil {
		return PaymentView{}, err
	}

	// Resolving the provider up front keeps an unknown or gated-off name from
	// ever creating payment state.
	prov, err := o.registry.Resolve(req.Provider, gateParams(req))
	if err != nil {
		return PaymentView{}, err
	}

	hash := idempotency.Hash(idempotency.HashInput{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      req.Method,
		Provider:    req.Provider,
		MerchantID:  req.MerchantID,
		OrderID:     req.OrderID,
		ProjectCode: req.ProjectCode,
		FeePercent:  req.FeePercent,
		Metadata:    req.Metadata,
	})
	res, err := o.guard.Resolve(ctx, req.IdempotencyKey, hash)
	if err != nil {
		return PaymentView{}, err
	}
	if res.Outcome == idempotency.OutcomeReplay {
		return o.replay(ctx, res.PaymentID)
	}

	if req.CountryCode != "" {
		err := o.gate.Check(ctx, compliance.CheckParams{
			CountryCode: req.CountryCode,
			MerchantID:  req.MerchantID,
			Amount:      req.Amount.InexactFloat64(),
			Currency:    req.Currency,
		})
		if err != nil {
			return PaymentView{}, err
		}
	}

	var split *payment.SplitPayment
	if req.FeePercent != nil {
		sp, err := payment.Split(req.Amount, *req.FeePercent)
		if err != nil {
			return PaymentView{}, err
		}
		split = &sp
	}

	p, err := payment.New(payment.NewParams{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      req.Method,
		Provider:    req.Provider,
		MerchantID:  req.MerchantID,
		OrderID:     req.OrderID,
		ProjectCode: req.ProjectCode,
		Split:       split,
		Metadata:    req.Metadata,
		Now:         o.now(),
	})
	if err != nil {
		return PaymentView{}, err
	}
	span.SetAttributes(attribute.String("payment.id", p.ID))

	rec := o.guard.NewRecord(req.IdempotencyKey, hash, p.ID)
	for claim := 0; ; claim++ {
		err := o.store.CreatePayment(ctx, p, rec)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrDuplicateIdempotencyKey) {
			return PaymentView{}, apperror.Wrap(apperror.KindPersistence, err, "creating payment")
		}
		// Another request holds the key. Re-resolving replays its payment on
		// a matching hash or surfaces the conflict on a mismatch.
		res, rerr := o.guard.Resolve(ctx, req.IdempotencyKey, hash)
		if rerr != nil {
			return PaymentView{}, rerr
		}
		if res.Outcome == idempotency.OutcomeReplay {
			return o.replay(ctx, res.PaymentID)
		}
		// The holding record expired or was swept between the insert and the
		// re-read, so the key is claimable again. Retry the claim once.
		if claim == 1 {
			return PaymentView{}, apperror.Wrap(apperror.KindPersistence, err,
				"claiming idempotency key %q", req.IdempotencyKey)
		}
	}

	if err := p.MarkProcessing(o.now()); err != nil {
		return PaymentView{}, err
	}
	if err := o.store.UpdatePayment(ctx, p); err != nil {
		return PaymentView{}, apperror.Wrap(apperror.KindPersistence, err, "persisting processing state")
	}

	result := o.invoker.ProcessPayment(ctx, prov, provider.PaymentRequest{
		PaymentID:  p.ID,
		MerchantID: p.MerchantID,
		OrderID:    p.OrderID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		Method:     p.Method,
		Split:      p.Split,
		Metadata:   p.Metadata,
	})

	if result.Success {
		if err := p.MarkSucceeded(result.TransactionID, result.Metadata, o.now()); err != nil {
			return PaymentView{}, err
		}
	} else {
		if err := p.MarkFailed(result.FailureReason, o.now()); err != nil {
			return PaymentView{}, err
		}
	}

	if err := o.store.UpdatePayment(ctx, p); err != nil {
		return PaymentView{}, apperror.Wrap(apperror.KindPersistence, err, "persisting final state")
	}

	o.logger.Info("payment processed",
		zap.String("payment_id", p.ID),
		zap.String("provider", p.Provider),
		zap.String("status", string(p.Status)),
		zap.String("failure_reason", p.FailureReason),
		zap.String("attempts", result.Metadata[resilience.AttemptsMetadataKey]),
	)
	return view(p), nil
}

// GetPayment returns the current view of a payment.
func (o *Orchestrator) GetPayment(ctx context.Context, id string) (PaymentView, error) {
	p, err := o.store.GetPayment(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrPaymentNotFound) {
			return PaymentView{}, apperror.New(apperror.KindNotFound, "payment %s not found", id)
		}
		return PaymentView{}, apperror.Wrap(apperror.KindPersistence, err, "loading payment %s", id)
	}
	return view(p), nil
}

// RefundPayment returns funds for a succeeded payment, fully or partially.
// A provider-side refund failure is reported on the view, with no state
// change, so the caller can retry.
func (o *Orchestrator) RefundPayment(ctx context.Context, req RefundRequest) (PaymentView, error) {
	ctx, span := otel.Tracer("orchestrator").Start(ctx, "Orchestrator.RefundPayment")
	defer span.End()

	p, err := o.store.GetPayment(ctx, req.PaymentID)
	if err != nil {
		if errors.Is(err, storage.ErrPaymentNotFound) {
			return PaymentView{}, apperror.New(apperror.KindNotFound, "payment %s not found", req.PaymentID)
		}
		return PaymentView{}, apperror.Wrap(apperror.KindPersistence, err, "loading payment %s", req.PaymentID)
	}
	if p.Status != payment.StatusSucceeded && p.Status != payment.StatusPartiallyRefunded {
		return PaymentView{}, apperror.New(apperror.KindInvalidTransition,
			"payment %s in state %s cannot be refunded", p.ID, p.Status)
	}

	amount := p.RemainingRefundable()
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount.IsNegative() || amount.IsZero() {
		return PaymentView{}, apperror.New(apperror.KindValidation, "refund amount must be positive, got %s", amount)
	}
	if amount.GreaterThan(p.RemainingRefundable()) {
		return PaymentView{}, apperror.New(apperror.KindValidation,
			"refund amount %s exceeds remaining refundable %s", amount, p.RemainingRefundable())
	}

	prov, err := o.registry.Resolve(p.Provider, nil)
	if err != nil {
		return PaymentView{}, err
	}
	result := o.invoker.RefundPayment(ctx, prov, provider.RefundRequest{
		PaymentID:     p.ID,
		TransactionID: p.ProviderTransactionID,
		Amount:        amount,
		Currency:      p.Currency,
		Metadata:      req.Metadata,
	})
	if !result.Success {
		v := view(p)
		v.FailureReason = result.FailureReason
		o.logger.Warn("refund attempt failed",
			zap.String("payment_id", p.ID),
			zap.String("provider", p.Provider),
			zap.String("reason", result.FailureReason),
		)
		return v, nil
	}

	if amount.Equal(p.RemainingRefundable()) {
		err = p.MarkRefunded(o.now())
	} else {
		err = p.MarkPartiallyRefunded(amount, o.now())
	}
	if err != nil {
		return PaymentView{}, err
	}
	if err := o.store.UpdatePayment(ctx, p); err != nil {
		return PaymentView{}, apperror.Wrap(apperror.KindPersistence, err, "persisting refund")
	}

	o.logger.Info("payment refunded",
		zap.String("payment_id", p.ID),
		zap.String("status", string(p.Status)),
		zap.String("refunded_amount", p.RefundedAmount.String()),
	)
	return view(p), nil
}

// CapturePayment settles a previously succeeded payment with the provider and
// closes the payment out.
func (o *Orchestrator) CapturePayment(ctx context.Context, id string) (PaymentView, error) {
	ctx, span := otel.Tracer("orchestrator").Start(ctx, "Orchestrator.CapturePayment")
	defer span.End()

	p, err := o.store.GetPayment(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrPaymentNotFound) {
			return PaymentView{}, apperror.New(apperror.KindNotFound, "payment %s not found", id)
		}
		return PaymentView{}, apperror.Wrap(apperror.KindPersistence, err, "loading payment %s", id)
	}
	if p.Status != payment.StatusSucceeded {
		return PaymentView{}, apperror.New(apperror.KindInvalidTransition,
			"payment %s in state %s cannot be captured", p.ID, p.Status)
	}

	prov, err := o.registry.Resolve(p.Provider, nil)
	if err != nil {
		return PaymentView{}, err
	}
	result := o.invoker.CapturePayment(ctx, prov, provider.PaymentRequest{
		PaymentID:  p.ID,
		MerchantID: p.MerchantID,
		OrderID:    p.OrderID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		Method:     p.Method,
		Split:      p.Split,
		Metadata:   p.Metadata,
	})
	if !result.Success {
		v := view(p)
		v.FailureReason = result.FailureReason
		return v, nil
	}

	if err := p.MarkCompleted(result.Metadata, o.now()); err != nil {
		return PaymentView{}, err
	}
	if err := o.store.UpdatePayment(ctx, p); err != nil {
		return PaymentView{}, apperror.Wrap(apperror.KindPersistence, err, "persisting capture")
	}
	return view(p), nil
}

// replay returns the view of the payment a prior request with the same key
// produced. The provider is never re-invoked on this path.
func (o *Orchestrator) replay(ctx context.Context, paymentID string) (PaymentView, error) {
	p, err := o.store.GetPayment(ctx, paymentID)
	if err != nil {
		return PaymentView{}, apperror.Wrap(apperror.KindPersistence, err, "loading replayed payment %s", paymentID)
	}
	o.logger.Info("replaying prior payment for idempotency key",
		zap.String("payment_id", p.ID),
		zap.String("status", string(p.Status)),
	)
	return view(p), nil
}

func validate(req ProcessRequest) error {
	if req.Amount.IsNegative() || req.Amount.IsZero() {
		return apperror.New(apperror.KindValidation, "amount must be positive, got %s", req.Amount)
	}
	if strings.TrimSpace(req.Currency) == "" {
		return apperror.New(apperror.KindValidation, "currency is required")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return apperror.New(apperror.KindValidation, "idempotency key is required")
	}
	if strings.TrimSpace(req.Provider) == "" {
		return apperror.New(apperror.KindValidation, "provider is required")
	}
	if strings.TrimSpace(req.MerchantID) == "" {
		return apperror.New(apperror.KindValidation, "merchant id is required")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return apperror.New(apperror.KindValidation, "order id is required")
	}
	return nil
}

// gateParams is the environment provider rollout gates evaluate against.
func gateParams(req ProcessRequest) map[string]any {
	return map[string]any{
		"merchant_id": req.MerchantID,
		"amount":      req.Amount.InexactFloat64(),
		"currency":    strings.ToUpper(req.Currency),
		"method":      req.Method,
		"project":     req.ProjectCode,
	}
}

func view(p *payment.Payment) PaymentView {
	return PaymentView{
		ID:            p.ID,
		Status:        string(p.Status),
		Amount:        p.Amount.String(),
		Currency:      p.Currency,
		TransactionID: p.ProviderTransactionID,
		Split:         p.Split,
		FailureReason: p.FailureReason,
	}
}
