// Package http exposes the payment engine over HTTP with gin.
package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/yourorg/payment-engine/internal/apperror"
	"github.com/yourorg/payment-engine/internal/monitor"
	"github.com/yourorg/payment-engine/internal/orchestrator"
)

// Handler binds the orchestrator to HTTP routes.
type Handler struct {
	orch    *orchestrator.Orchestrator
	monitor *monitor.ContractMonitor
	logger  *zap.Logger
}

// NewHandler creates the HTTP handler. It panics if orch, contract monitor or
// logger is nil.
func NewHandler(orch *orchestrator.Orchestrator, cm *monitor.ContractMonitor, logger *zap.Logger) *Handler {
	if orch == nil {
		panic("orchestrator cannot be nil")
	}
	if cm == nil {
		panic("contract monitor cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &Handler{orch: orch, monitor: cm, logger: logger}
}

// Router builds the gin engine with all routes registered. registry may be
// nil to skip the metrics endpoint.
func (h *Handler) Router(serviceName string, registry *prometheus.Registry) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(serviceName))

	engine.POST("/payments", h.processPayment)
	engine.GET("/payments/:id", h.getPayment)
	engine.POST("/payments/:id/refund", h.refundPayment)
	engine.POST("/payments/:id/capture", h.capturePayment)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if registry != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
	return engine
}

type processPaymentBody struct {
	Amount         string            `json:"amount"`
	CurrencyCode   string            `json:"currency_code"`
	PaymentMethod  string            `json:"payment_method"`
	ProviderName   string            `json:"provider_name"`
	MerchantID     string            `json:"merchant_id"`
	OrderID        string            `json:"order_id"`
	ProjectCode    string            `json:"project_code"`
	IdempotencyKey string            `json:"idempotency_key"`
	FeePercent     string            `json:"fee_percent"`
	CountryCode    string            `json:"country_code"`
	Metadata       map[string]string `json:"metadata"`
}

type refundBody struct {
	Amount string `json:"amount"`
}

func (h *Handler) processPayment(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reading request body: " + err.Error()})
		return
	}

	valid, validationErrs, err := h.monitor.Validate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format: " + err.Error()})
		return
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": monitor.FormatErrors(validationErrs)})
		return
	}

	var req processPaymentBody
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format: " + err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount: " + err.Error()})
		return
	}
	var feePercent *decimal.Decimal
	if req.FeePercent != "" {
		fp, err := decimal.NewFromString(req.FeePercent)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fee_percent: " + err.Error()})
			return
		}
		feePercent = &fp
	}

	view, err := h.orch.ProcessPayment(c.Request.Context(), orchestrator.ProcessRequest{
		Amount:         amount,
		Currency:       req.CurrencyCode,
		Method:         req.PaymentMethod,
		Provider:       req.ProviderName,
		MerchantID:     req.MerchantID,
		OrderID:        req.OrderID,
		ProjectCode:    req.ProjectCode,
		IdempotencyKey: req.IdempotencyKey,
		FeePercent:     feePercent,
		CountryCode:    req.CountryCode,
		Metadata:       req.Metadata,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) getPayment(c *gin.Context) {
	view, err := h.orch.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) refundPayment(c *gin.Context) {
	var body refundBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format: " + err.Error()})
			return
		}
	}
	var amount *decimal.Decimal
	if body.Amount != "" {
		a, err := decimal.NewFromString(body.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount: " + err.Error()})
			return
		}
		amount = &a
	}

	view, err := h.orch.RefundPayment(c.Request.Context(), orchestrator.RefundRequest{
		PaymentID: c.Param("id"),
		Amount:    amount,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) capturePayment(c *gin.Context) {
	view, err := h.orch.CapturePayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// writeError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperror.KindOf(err) {
	case apperror.KindValidation:
		status = http.StatusBadRequest
	case apperror.KindConflict:
		status = http.StatusConflict
	case apperror.KindCompliance:
		status = http.StatusForbidden
	case apperror.KindNotFound:
		status = http.StatusNotFound
	case apperror.KindInvalidTransition:
		status = http.StatusUnprocessableEntity
	case apperror.KindPersistence:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		h.logger.Error("request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": apperror.KindOf(err).String()})
}
