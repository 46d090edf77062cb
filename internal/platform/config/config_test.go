package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/bundlesync")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.Jobs.DryRun)
	assert.Equal(t, 30*24*time.Hour, cfg.Jobs.SyncLookback)
	assert.Equal(t, "pack-leyes-administrativo", cfg.Jobs.BundleProduct)
	assert.Equal(t, DriverPostgres, cfg.Ledger.Driver)
	assert.Equal(t, "enrollment_records", cfg.Ledger.Table)
	assert.Equal(t, "https://developers.teachable.com/v1", cfg.Teachable.BaseURL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 10*time.Second, cfg.Kafka.PublishTimeout)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_DRIVER", " SQLite ")
	t.Setenv("SQLITE_PATH", "/tmp/ledger.db")
	t.Setenv("DRY_RUN", "true")
	t.Setenv("CRON_SECRET", "s3cret")
	t.Setenv("SYNC_LOOKBACK", "48h")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,k1:9092,")
	t.Setenv("KAFKA_PUBLISH_TIMEOUT", "3s")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Ledger.Driver)
	assert.True(t, cfg.Jobs.DryRun)
	assert.Equal(t, "s3cret", cfg.Server.CronSecret)
	assert.Equal(t, 48*time.Hour, cfg.Jobs.SyncLookback)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3*time.Second, cfg.Kafka.PublishTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestFromEnvValidation(t *testing.T) {
	t.Run("postgres without url", func(t *testing.T) {
		t.Setenv("LEDGER_DRIVER", "postgres")
		t.Setenv("DATABASE_URL", "")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "DATABASE_URL is required")
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("LEDGER_DRIVER", "mongo")
		_, err := FromEnv()
		assert.ErrorContains(t, err, `unknown LEDGER_DRIVER "mongo"`)
	})

	t.Run("malformed duration", func(t *testing.T) {
		t.Setenv("LEDGER_DRIVER", "memory")
		t.Setenv("SYNC_LOOKBACK", "a while")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "parse env")
	})
}

func TestValidateClients(t *testing.T) {
	var cfg Config
	err := cfg.ValidateClients()
	assert.ErrorContains(t, err, "STRIPE_SECRET_KEY is required")
	assert.ErrorContains(t, err, "TEACHABLE_API_KEY is required")

	cfg.Stripe.SecretKey = "sk_test"
	cfg.Teachable.APIKey = "tk"
	assert.NoError(t, cfg.ValidateClients())
}
