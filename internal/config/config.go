// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the payment engine binaries need at startup.
type Config struct {
	HTTPAddr string

	// PostgresDSN selects the durable store. When empty the service runs on
	// the in-memory store, which is only suitable for local development.
	PostgresDSN string

	KafkaBrokers []string

	// GatewayName/GatewayBaseURL/GatewayAPIKey register an HTTP gateway
	// adapter at startup. All three empty means only the mock provider is
	// available.
	GatewayName    string
	GatewayBaseURL string
	GatewayAPIKey  string

	IdempotencyTTL           time.Duration
	IdempotencySweepInterval time.Duration

	OutboxBatchSize    int
	OutboxPollInterval time.Duration
	OutboxMaxRetries   int

	ProviderAttemptTimeout time.Duration
	ProviderMaxAttempts    int
	ProviderBackoffBase    time.Duration

	BreakerFailureThreshold int
	BreakerCoolDown         time.Duration

	// ComplianceRules are boolean expressions over country, merchant, amount
	// and currency, separated by semicolons. A payment passes only if every
	// rule evaluates to true.
	ComplianceRules []string

	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment, filling defaults.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:     getString("HTTP_ADDR", "0.0.0.0:8080"),
		PostgresDSN:  getString("PAYMENTS_POSTGRES_DSN", ""),
		KafkaBrokers: splitList(getString("KAFKA_BROKERS", "localhost:9092")),

		GatewayName:    getString("GATEWAY_NAME", ""),
		GatewayBaseURL: getString("GATEWAY_BASE_URL", ""),
		GatewayAPIKey:  getString("GATEWAY_API_KEY", ""),
	}

	var err error
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencySweepInterval, err = getDuration("IDEMPOTENCY_SWEEP_INTERVAL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.OutboxBatchSize, err = getInt("OUTBOX_BATCH_SIZE", 100); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = getDuration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.OutboxMaxRetries, err = getInt("OUTBOX_MAX_RETRIES", 5); err != nil {
		return Config{}, err
	}
	if cfg.ProviderAttemptTimeout, err = getDuration("PROVIDER_ATTEMPT_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ProviderMaxAttempts, err = getInt("PROVIDER_MAX_ATTEMPTS", 3); err != nil {
		return Config{}, err
	}
	if cfg.ProviderBackoffBase, err = getDuration("PROVIDER_BACKOFF_BASE", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.BreakerFailureThreshold, err = getInt("BREAKER_FAILURE_THRESHOLD", 5); err != nil {
		return Config{}, err
	}
	if cfg.BreakerCoolDown, err = getDuration("BREAKER_COOL_DOWN", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}

	if rules := getString("COMPLIANCE_RULES", ""); rules != "" {
		for _, rule := range strings.Split(rules, ";") {
			rule = strings.TrimSpace(rule)
			if rule != "" {
				cfg.ComplianceRules = append(cfg.ComplianceRules, rule)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the loaded values for internal consistency.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.GatewayName != "" && c.GatewayBaseURL == "" {
		return fmt.Errorf("GATEWAY_BASE_URL is required when GATEWAY_NAME is set")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive")
	}
	if c.OutboxBatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}
	if c.OutboxMaxRetries <= 0 {
		return fmt.Errorf("OUTBOX_MAX_RETRIES must be positive")
	}
	if c.ProviderMaxAttempts <= 0 {
		return fmt.Errorf("PROVIDER_MAX_ATTEMPTS must be positive")
	}
	if c.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive")
	}
	return nil
}

func getString(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
