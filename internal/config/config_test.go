package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.PostgresDSN, "postgres should be opt-in")
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 5, cfg.OutboxMaxRetries)
	assert.Equal(t, 30*time.Second, cfg.ProviderAttemptTimeout)
	assert.Equal(t, 3, cfg.ProviderMaxAttempts)
	assert.Equal(t, time.Second, cfg.ProviderBackoffBase)
	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.Equal(t, time.Minute, cfg.BreakerCoolDown)
	assert.Empty(t, cfg.ComplianceRules)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("IDEMPOTENCY_TTL", "1h")
	t.Setenv("PROVIDER_MAX_ATTEMPTS", "5")
	t.Setenv("COMPLIANCE_RULES", "country != 'KP'; amount < 10000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 5, cfg.ProviderMaxAttempts)
	assert.Equal(t, []string{"country != 'KP'", "amount < 10000"}, cfg.ComplianceRules)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("IDEMPOTENCY_TTL", "not-a-duration")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("bad int", func(t *testing.T) {
		t.Setenv("OUTBOX_BATCH_SIZE", "many")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("non-positive attempts", func(t *testing.T) {
		t.Setenv("PROVIDER_MAX_ATTEMPTS", "0")
		_, err := Load()
		assert.Error(t, err)
	})
}
