// Command server runs the payment engine HTTP API, the idempotency sweeper,
// and, when a durable store is configured, the outbox dispatcher.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/yourorg/payment-engine/internal/compliance"
	"github.com/yourorg/payment-engine/internal/config"
	"github.com/yourorg/payment-engine/internal/idempotency"
	"github.com/yourorg/payment-engine/internal/logging"
	"github.com/yourorg/payment-engine/internal/monitor"
	"github.com/yourorg/payment-engine/internal/orchestrator"
	"github.com/yourorg/payment-engine/internal/provider"
	"github.com/yourorg/payment-engine/internal/provider/httpapi"
	"github.com/yourorg/payment-engine/internal/provider/mock"
	"github.com/yourorg/payment-engine/internal/resilience"
	"github.com/yourorg/payment-engine/internal/resilience/circuitbreaker"
	"github.com/yourorg/payment-engine/internal/storage"
	"github.com/yourorg/payment-engine/internal/storage/memory"
	"github.com/yourorg/payment-engine/internal/storage/postgres"
	transporthttp "github.com/yourorg/payment-engine/internal/transport/http"
)

const serviceName = "payment-engine"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := logging.New(logging.Config{ServiceName: serviceName})
	if err != nil {
		log.Fatalf("creating logger: %v", err)
	}
	defer logging.Sync(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := initTracing()
	if err != nil {
		logger.Fatal("initializing tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	var store storage.Store
	if cfg.PostgresDSN != "" {
		pg, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("connecting to postgres", zap.Error(err))
		}
		defer pg.Close()
		store = pg
		logger.Info("using postgres store")
	} else {
		store = memory.New()
		logger.Warn("PAYMENTS_POSTGRES_DSN not set, using the in-memory store")
	}

	guard := idempotency.NewGuard(store, cfg.IdempotencyTTL)

	registry, err := provider.NewRegistry(nil)
	if err != nil {
		logger.Fatal("building provider registry", zap.Error(err))
	}
	registry.Register(mock.New("mock"))
	if cfg.GatewayName != "" {
		registry.Register(httpapi.New(cfg.GatewayName, cfg.GatewayBaseURL, cfg.GatewayAPIKey, nil))
		logger.Info("registered http gateway adapter", zap.String("provider", cfg.GatewayName))
	}

	promRegistry := prometheus.NewRegistry()
	metrics := resilience.NewMetrics(promRegistry)
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		CoolDown:         cfg.BreakerCoolDown,
	})
	invoker := resilience.NewInvoker(breaker, resilience.Config{
		AttemptTimeout: cfg.ProviderAttemptTimeout,
		MaxAttempts:    cfg.ProviderMaxAttempts,
		BackoffBase:    cfg.ProviderBackoffBase,
	}, logger, metrics)

	var rules []compliance.Rule
	for i, expr := range cfg.ComplianceRules {
		rules = append(rules, compliance.Rule{Name: fmt.Sprintf("rule_%d", i), Expression: expr})
	}
	gate, err := compliance.NewGate(rules, logger)
	if err != nil {
		logger.Fatal("compiling compliance rules", zap.Error(err))
	}

	cm, err := monitor.NewContractMonitor()
	if err != nil {
		logger.Fatal("compiling request schema", zap.Error(err))
	}

	orch := orchestrator.New(store, guard, registry, invoker, gate, logger)
	handler := transporthttp.NewHandler(orch, cm, logger)
	router := handler.Router(serviceName, promRegistry)

	sweeper := idempotency.NewSweeper(store, logger, cfg.IdempotencySweepInterval)
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
}

// initTracing installs a tracer provider that writes spans to stdout. OTLP
// export can replace the exporter without touching instrumentation.
func initTracing() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
