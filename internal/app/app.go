// Package app builds the process dependency graph shared by the server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"bundlesync/internal/bundle"
	"bundlesync/internal/directory/teachable"
	"bundlesync/internal/events"
	"bundlesync/internal/ledger"
	"bundlesync/internal/ledger/postgres"
	"bundlesync/internal/ledger/sqlite"
	"bundlesync/internal/platform/config"
	"bundlesync/internal/platform/metrics"
	platformredis "bundlesync/internal/platform/redis"
	"bundlesync/internal/purchase/stripe"
	"bundlesync/internal/reconcile/handler"
	reconcilemetrics "bundlesync/internal/reconcile/metrics"
	"bundlesync/internal/reconcile/service"
	"bundlesync/internal/runlock"
	"bundlesync/pkg/platform/middleware/cronsecret"
	"bundlesync/pkg/platform/middleware/metadata"
	"bundlesync/pkg/platform/middleware/requesttime"
)

// App holds the constructed clients and the reconcile service.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Registry  *prometheus.Registry
	Ledger    ledger.Store
	Source    *stripe.Source
	Directory *teachable.Client
	Bundle    *bundle.Bundle
	Service   *service.Service

	publisher *events.KafkaPublisher
	redis     *platformredis.Client
}

// Option adjusts construction.
type Option func(*options)

type options struct {
	dryRun *bool
}

// WithDryRun overrides DRY_RUN from the environment.
func WithDryRun(dryRun bool) Option {
	return func(o *options) {
		o.dryRun = &dryRun
	}
}

// New connects every dependency described by cfg. On error, anything already opened
// is closed.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (_ *App, err error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if err := cfg.ValidateClients(); err != nil {
		return nil, err
	}

	b, err := bundle.Resolve(cfg.Jobs.BundleCatalogPath, cfg.Jobs.BundleProduct)
	if err != nil {
		return nil, fmt.Errorf("load bundle: %w", err)
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: metrics.NewRegistry(),
		Bundle:   b,
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Ledger, err = OpenLedger(ctx, cfg.Ledger)
	if err != nil {
		return nil, err
	}

	var sourceOpts []stripe.Option
	if cfg.Stripe.APIURL != "" {
		sourceOpts = append(sourceOpts, stripe.WithBackendURL(cfg.Stripe.APIURL))
	}
	a.Source, err = stripe.New(cfg.Stripe.SecretKey, b.PaymentLink, sourceOpts...)
	if err != nil {
		return nil, err
	}

	a.Directory = teachable.New(cfg.Teachable.BaseURL, cfg.Teachable.APIKey,
		teachable.WithTimeout(cfg.Teachable.Timeout),
	)

	jobMetrics := reconcilemetrics.New(a.Registry)
	access, err := bundle.NewAccess(a.Directory, b,
		bundle.WithLogger(logger),
		bundle.WithMetrics(jobMetrics),
	)
	if err != nil {
		return nil, err
	}

	dryRun := cfg.Jobs.DryRun
	if o.dryRun != nil {
		dryRun = *o.dryRun
	}
	svcOpts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(jobMetrics),
		service.WithDryRun(dryRun),
		service.WithLookback(cfg.Jobs.SyncLookback),
		service.WithProduct(b.Product),
	}

	a.redis, err = platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if a.redis != nil {
		svcOpts = append(svcOpts, service.WithLocker(runlock.NewRedis(a.redis.Client, cfg.Jobs.RunLockTTL)))
	} else {
		svcOpts = append(svcOpts, service.WithLocker(runlock.NewLocal()))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		a.publisher, err = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, events.WithLogger(logger), events.WithDeliveryTimeout(cfg.Kafka.PublishTimeout))
		if err != nil {
			return nil, err
		}
		svcOpts = append(svcOpts, service.WithPublisher(a.publisher), service.WithPublishTimeout(cfg.Kafka.PublishTimeout))
	}

	a.Service, err = service.New(a.Ledger, a.Source, a.Directory, access, svcOpts...)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "dependencies ready",
		"ledger_driver", cfg.Ledger.Driver,
		"bundle_product", b.Product,
		"bundle_resources", len(b.Resources),
		"dry_run", dryRun,
		"run_lock", a.redis != nil,
		"events", a.publisher != nil,
	)
	return a, nil
}

// OpenLedger opens the configured record store.
func OpenLedger(ctx context.Context, cfg config.LedgerConfig) (ledger.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.WithTable(cfg.Table))
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath, cfg.Table)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMemory:
		return ledger.NewInMemory(), nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// Migrate applies the ledger schema when the store has one.
func Migrate(ctx context.Context, store ledger.Store) error {
	m, ok := store.(migrator)
	if !ok {
		return nil
	}
	return m.Migrate(ctx)
}

// Router builds the HTTP surface: the gated job endpoints, health and metrics.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.Middleware)
	r.Use(chimw.Recoverer)

	var checks []handler.HealthOption
	if a.redis != nil {
		checks = append(checks, handler.WithCheck("redis", handler.PingFunc(a.redis.Health)))
	}
	handler.NewHealth(a.Ledger, a.Logger, checks...).Register(r)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(a.Registry))

	r.Group(func(r chi.Router) {
		r.Use(cronsecret.Require(a.Config.Server.CronSecret, a.Logger))
		handler.New(a.Service, a.Logger).Register(r)
	})
	return r
}

// Close releases every opened client.
func (a *App) Close() error {
	var errs []error
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.Ledger != nil {
		errs = append(errs, a.Ledger.Close())
	}
	return errors.Join(errs...)
}
