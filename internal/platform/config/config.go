// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	pstrings "bundlesync/pkg/platform/strings"
)

// Ledger drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config is the full process configuration.
type Config struct {
	Server    ServerConfig
	Jobs      JobsConfig
	Ledger    LedgerConfig
	Stripe    StripeConfig
	Teachable TeachableConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Logging   LoggingConfig
	Tracing   TracingConfig
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string        `env:"ADDR"             envDefault:":8080"`
	CronSecret      string        `env:"CRON_SECRET"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// JobsConfig controls the reconciliation jobs.
type JobsConfig struct {
	DryRun            bool          `env:"DRY_RUN"             envDefault:"false"`
	SyncLookback      time.Duration `env:"SYNC_LOOKBACK"       envDefault:"720h"`
	RunLockTTL        time.Duration `env:"RUN_LOCK_TTL"        envDefault:"10m"`
	BundleCatalogPath string        `env:"BUNDLE_CATALOG_PATH"`
	BundleProduct     string        `env:"BUNDLE_PRODUCT"      envDefault:"pack-leyes-administrativo"`
}

// LedgerConfig selects and configures the record store.
type LedgerConfig struct {
	Driver      string `env:"LEDGER_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	Table       string `env:"LEDGER_TABLE"  envDefault:"enrollment_records"`
	SQLitePath  string `env:"SQLITE_PATH"   envDefault:"bundlesync.db"`
}

// StripeConfig configures the purchase source.
type StripeConfig struct {
	SecretKey string `env:"STRIPE_SECRET_KEY"`
	APIURL    string `env:"STRIPE_API_URL"`
}

// TeachableConfig configures the learning platform client.
type TeachableConfig struct {
	APIKey  string        `env:"TEACHABLE_API_KEY"`
	BaseURL string        `env:"TEACHABLE_BASE_URL" envDefault:"https://developers.teachable.com/v1"`
	Timeout time.Duration `env:"HTTP_TIMEOUT"       envDefault:"30s"`
}

// RedisConfig configures the optional run lock backend. An empty URL disables it.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE"      envDefault:"4"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"0"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT"   envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT"   envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT"  envDefault:"3s"`
}

// KafkaConfig configures enrollment event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers        []string      `env:"KAFKA_BROKERS"         envSeparator:","`
	Topic          string        `env:"KAFKA_TOPIC"           envDefault:"bundlesync.enrollments"`
	PublishTimeout time.Duration `env:"KAFKA_PUBLISH_TIMEOUT" envDefault:"10s"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"  envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// TracingConfig enables OTLP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME"           envDefault:"bundlesync"`
}

// FromEnv parses and normalizes configuration. It validates only what every
// command needs; see ValidateClients for the upstream credentials.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Ledger.Driver = strings.ToLower(strings.TrimSpace(c.Ledger.Driver))
	c.Kafka.Brokers = pstrings.DedupeAndTrim(c.Kafka.Brokers)
	c.Jobs.BundleProduct = strings.TrimSpace(c.Jobs.BundleProduct)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
}

// Validate checks the ledger selection and job settings.
func (c Config) Validate() error {
	var errs []error
	switch c.Ledger.Driver {
	case DriverPostgres:
		if c.Ledger.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres ledger"))
		}
	case DriverSQLite:
		if c.Ledger.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite ledger"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown LEDGER_DRIVER %q", c.Ledger.Driver))
	}
	if strings.TrimSpace(c.Ledger.Table) == "" {
		errs = append(errs, errors.New("LEDGER_TABLE must not be empty"))
	}
	if c.Jobs.SyncLookback <= 0 {
		errs = append(errs, errors.New("SYNC_LOOKBACK must be positive"))
	}
	if c.Redis.URL != "" && c.Jobs.RunLockTTL <= 0 {
		errs = append(errs, errors.New("RUN_LOCK_TTL must be positive when REDIS_URL is set"))
	}
	return errors.Join(errs...)
}

// ValidateClients checks the credentials needed to reach the payment processor and
// the learning platform.
func (c Config) ValidateClients() error {
	var errs []error
	if c.Stripe.SecretKey == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is required"))
	}
	if c.Teachable.APIKey == "" {
		errs = append(errs, errors.New("TEACHABLE_API_KEY is required"))
	}
	return errors.Join(errs...)
}
