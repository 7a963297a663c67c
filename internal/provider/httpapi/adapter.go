// Package httpapi is the reference HTTP provider adapter. It speaks a plain
// JSON charge/refund API and normalizes responses into provider.PaymentResult.
// Vendor-specific adapters follow the same shape against their own wire
// formats.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yourorg/payment-engine/internal/provider"
)

// Statuses the gateway reports. Comparison is done on upper-cased values so
// gateways that answer "Authorized" and "AUTHORIZED" behave identically.
const (
	statusAuthorized = "AUTHORIZED"
	statusDeclined   = "DECLINED"
	statusRefunded   = "REFUNDED"
)

// Adapter implements provider.Provider against an HTTP payment gateway.
type Adapter struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates an adapter for the gateway at baseURL. A nil client gets a
// default with a conservative timeout; the resilience layer enforces the real
// per-attempt ceiling through the request context.
func New(name, baseURL, apiKey string, client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Adapter{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: client,
	}
}

func (a *Adapter) Name() string {
	return a.name
}

type chargeRequest struct {
	Reference  string            `json:"reference"`
	MerchantID string            `json:"merchant_id"`
	OrderID    string            `json:"order_id"`
	Amount     string            `json:"amount"`
	Currency   string            `json:"currency"`
	Method     string            `json:"method,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type refundRequest struct {
	Reference     string `json:"reference"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

type gatewayResponse struct {
	TransactionID string            `json:"transaction_id"`
	Status        string            `json:"status"`
	DeclineCode   string            `json:"decline_code"`
	Message       string            `json:"message"`
	Details       map[string]string `json:"details"`
}

// ProcessPayment charges the payment through the gateway.
func (a *Adapter) ProcessPayment(ctx context.Context, req provider.PaymentRequest) (provider.PaymentResult, error) {
	body := chargeRequest{
		Reference:  req.PaymentID,
		MerchantID: req.MerchantID,
		OrderID:    req.OrderID,
		Amount:     req.Amount.String(),
		Currency:   req.Currency,
		Method:     req.Method,
		Metadata:   req.Metadata,
	}
	return a.post(ctx, "/charges", body, statusAuthorized)
}

// CapturePayment captures a previously authorized charge.
func (a *Adapter) CapturePayment(ctx context.Context, req provider.PaymentRequest) (provider.PaymentResult, error) {
	body := chargeRequest{
		Reference:  req.PaymentID,
		MerchantID: req.MerchantID,
		OrderID:    req.OrderID,
		Amount:     req.Amount.String(),
		Currency:   req.Currency,
	}
	return a.post(ctx, "/captures", body, statusAuthorized)
}

// RefundPayment returns funds for a prior transaction.
func (a *Adapter) RefundPayment(ctx context.Context, req provider.RefundRequest) (provider.PaymentResult, error) {
	body := refundRequest{
		Reference:     req.PaymentID,
		TransactionID: req.TransactionID,
		Amount:        req.Amount.String(),
		Currency:      req.Currency,
	}
	return a.post(ctx, "/refunds", body, statusRefunded)
}

func (a *Adapter) post(ctx context.Context, path string, body any, wantStatus string) (provider.PaymentResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return provider.PaymentResult{}, fmt.Errorf("%s: encoding request: %w", a.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return provider.PaymentResult{}, fmt.Errorf("%s: building request: %w", a.name, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		// Transport errors, including context cancellation, surface as errors
		// so the resilience layer classifies them as transient.
		return provider.PaymentResult{}, fmt.Errorf("%s: %w", a.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return provider.PaymentResult{}, fmt.Errorf("%s: reading response: %w", a.name, err)
	}

	// 429 and 5xx mean the gateway itself is struggling; report a transient
	// failure so the call is retried.
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return provider.PaymentResult{
			Success:       false,
			FailureReason: fmt.Sprintf("gateway_http_%d", resp.StatusCode),
			Temporary:     true,
		}, nil
	}

	var gw gatewayResponse
	if err := json.Unmarshal(respBody, &gw); err != nil {
		return provider.PaymentResult{}, fmt.Errorf("%s: decoding response (HTTP %d): %w", a.name, resp.StatusCode, err)
	}

	result := provider.PaymentResult{
		TransactionID: gw.TransactionID,
		Metadata:      gw.Details,
	}

	switch strings.ToUpper(gw.Status) {
	case wantStatus:
		result.Success = true
	case statusDeclined:
		result.FailureReason = gw.DeclineCode
		if result.FailureReason == "" {
			result.FailureReason = "declined"
		}
	default:
		if resp.StatusCode >= 200 && resp.StatusCode < 300 && gw.Status == "" {
			return provider.PaymentResult{}, errors.New(a.name + ": gateway response missing status")
		}
		result.FailureReason = strings.ToLower(gw.Status)
		if gw.Message != "" && result.FailureReason == "" {
			result.FailureReason = gw.Message
		}
	}
	return result, nil
}
