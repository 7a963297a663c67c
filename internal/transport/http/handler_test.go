package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/payment-engine/internal/compliance"
	"github.com/yourorg/payment-engine/internal/idempotency"
	"github.com/yourorg/payment-engine/internal/monitor"
	"github.com/yourorg/payment-engine/internal/orchestrator"
	"github.com/yourorg/payment-engine/internal/provider"
	"github.com/yourorg/payment-engine/internal/provider/mock"
	"github.com/yourorg/payment-engine/internal/resilience"
	"github.com/yourorg/payment-engine/internal/resilience/circuitbreaker"
	"github.com/yourorg/payment-engine/internal/storage/memory"
)

type instantSleep struct{}

func (instantSleep) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestRouter(t *testing.T) (*gin.Engine, *mock.Provider) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	guard := idempotency.NewGuard(store, 24*time.Hour)
	registry, err := provider.NewRegistry(nil)
	require.NoError(t, err)
	prov := mock.New("stripe")
	registry.Register(prov)

	invoker := resilience.NewInvoker(
		circuitbreaker.New(circuitbreaker.Config{}),
		resilience.Config{AttemptTimeout: time.Second},
		zap.NewNop(), nil,
	).WithSleeper(instantSleep{})

	gate, err := compliance.NewGate([]compliance.Rule{
		{Name: "sanctions", Expression: "country != 'KP'"},
	}, zap.NewNop())
	require.NoError(t, err)

	cm, err := monitor.NewContractMonitor()
	require.NoError(t, err)

	orch := orchestrator.New(store, guard, registry, invoker, gate, zap.NewNop())
	handler := NewHandler(orch, cm, zap.NewNop())
	return handler.Router("payment-engine-test", nil), prov
}

func validBody() map[string]any {
	return map[string]any{
		"amount":          "100.00",
		"currency_code":   "USD",
		"payment_method":  "card",
		"provider_name":   "stripe",
		"merchant_id":     "merchant-1",
		"order_id":        "order-1",
		"idempotency_key": "key-1",
	}
}

func doPost(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestProcessPaymentEndpoint_Success(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doPost(t, router, "/payments", validBody())
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	var view orchestrator.PaymentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "SUCCEEDED", view.Status)
	assert.NotEmpty(t, view.TransactionID)
}

func TestProcessPaymentEndpoint_SchemaRejectsMalformedBody(t *testing.T) {
	router, prov := newTestRouter(t)

	t.Run("missing required field", func(t *testing.T) {
		body := validBody()
		delete(body, "idempotency_key")
		w := doPost(t, router, "/payments", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("numeric amount rejected", func(t *testing.T) {
		body := validBody()
		body["amount"] = 100.0
		w := doPost(t, router, "/payments", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		body := validBody()
		body["card_number"] = "4242424242424242"
		w := doPost(t, router, "/payments", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	assert.Zero(t, prov.Calls, "rejected requests must never reach the provider")
}

func TestProcessPaymentEndpoint_ConflictMapsTo409(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doPost(t, router, "/payments", validBody())
	require.Equal(t, http.StatusOK, w.Code)

	changed := validBody()
	changed["amount"] = "200.00"
	w = doPost(t, router, "/payments", changed)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestProcessPaymentEndpoint_ComplianceMapsTo403(t *testing.T) {
	router, _ := newTestRouter(t)

	body := validBody()
	body["country_code"] = "KP"
	w := doPost(t, router, "/payments", body)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetPaymentEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doPost(t, router, "/payments", validBody())
	require.Equal(t, http.StatusOK, w.Code)
	var created orchestrator.PaymentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	req := httptest.NewRequest(http.MethodGet, "/payments/"+created.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/payments/missing", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefundEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doPost(t, router, "/payments", validBody())
	require.Equal(t, http.StatusOK, w.Code)
	var created orchestrator.PaymentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doPost(t, router, "/payments/"+created.ID+"/refund", map[string]any{"amount": "40.00"})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	var refunded orchestrator.PaymentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &refunded))
	assert.Equal(t, "PARTIALLY_REFUNDED", refunded.Status)

	// Refunding a missing payment maps to 404.
	w = doPost(t, router, "/payments/missing/refund", map[string]any{})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCaptureEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doPost(t, router, "/payments", validBody())
	require.Equal(t, http.StatusOK, w.Code)
	var created orchestrator.PaymentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doPost(t, router, "/payments/"+created.ID+"/capture", map[string]any{})
	require.Equal(t, http.StatusOK, w.Code)
	var captured orchestrator.PaymentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &captured))
	assert.Equal(t, "COMPLETED", captured.Status)

	// A second capture is an illegal transition.
	w = doPost(t, router, "/payments/"+created.ID+"/capture", map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
