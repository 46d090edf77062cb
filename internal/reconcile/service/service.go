// Package service runs the enrollment sync and expiration sweep jobs.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"bundlesync/internal/bundle"
	"bundlesync/internal/directory"
	"bundlesync/internal/events"
	"bundlesync/internal/ledger"
	"bundlesync/internal/purchase"
	"bundlesync/internal/reconcile/metrics"
	"bundlesync/pkg/platform/sentinel"
)

// Job names used for locks, metrics and logs.
const (
	JobSync  = "sync"
	JobSweep = "sweep"
)

// DefaultLookback bounds the first sync when the ledger is empty.
const DefaultLookback = 30 * 24 * time.Hour

// DefaultPublishTimeout caps how long one event publish may hold up a run.
const DefaultPublishTimeout = 10 * time.Second

type Ledger interface {
	LatestCreatedAt(ctx context.Context) (time.Time, error)
	PurchaseReferences(ctx context.Context) (map[string]struct{}, error)
	Insert(ctx context.Context, record *ledger.Record) error
	ListDue(ctx context.Context, now time.Time) ([]ledger.Record, error)
	MarkExpired(ctx context.Context, id string, at time.Time) error
	FindByPurchaseReference(ctx context.Context, ref string) (*ledger.Record, error)
}

type Source interface {
	ListCompletedSessions(ctx context.Context, since time.Time) ([]purchase.Session, error)
}

type Directory interface {
	FindAccountByEmail(ctx context.Context, email string) (*directory.Account, error)
	CreateAccount(ctx context.Context, email, name string) (*directory.Account, error)
}

type Access interface {
	Grant(ctx context.Context, accountID string) []bundle.Outcome
	Revoke(ctx context.Context, accountID string) []bundle.Outcome
}

type Locker interface {
	Acquire(ctx context.Context, job string) (func(context.Context) error, error)
}

type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Service orchestrates the two reconciliation jobs.
type Service struct {
	ledger    Ledger
	source    Source
	directory Directory
	access    Access
	product   string
	locker    Locker
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	clock     func() time.Time
	lookback  time.Duration
	dryRun    bool

	publishTimeout time.Duration
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithDryRun makes runs report what they would do without calling the directory
// or writing to the ledger.
func WithDryRun(dryRun bool) Option {
	return func(s *Service) {
		s.dryRun = dryRun
	}
}

func WithLocker(locker Locker) Option {
	return func(s *Service) {
		s.locker = locker
	}
}

func WithPublisher(publisher Publisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithLookback sets how far back the first sync looks when the ledger is empty.
func WithLookback(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lookback = d
		}
	}
}

// WithPublishTimeout bounds each event publish. Non-positive values are ignored.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

// WithProduct labels published events with the bundle product key.
func WithProduct(product string) Option {
	return func(s *Service) {
		s.product = product
	}
}

// WithClock overrides the clock used for finishedAt timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New constructs a Service.
func New(ledger Ledger, source Source, dir Directory, access Access, opts ...Option) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if source == nil {
		return nil, fmt.Errorf("purchase source is required")
	}
	if dir == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if access == nil {
		return nil, fmt.Errorf("bundle access is required")
	}
	s := &Service{
		ledger:    ledger,
		source:    source,
		directory: dir,
		access:    access,
		publisher: events.Noop{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("bundlesync/reconcile"),
		clock:     time.Now,
		lookback:  DefaultLookback,

		publishTimeout: DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DryRun reports whether the service runs without side effects.
func (s *Service) DryRun() bool {
	return s.dryRun
}

// acquire takes the job lock when one is configured. The returned release never fails
// the run; release errors are logged.
func (s *Service) acquire(ctx context.Context, job string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, job)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncrementLockContention(job)
		}
		return nil, err
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "failed to release run lock", "job", job, "error", err)
		}
	}, nil
}

// publish sends event without letting a slow or unreachable broker stall the run.
// Failures are logged only.
func (s *Service) publish(ctx context.Context, event events.Event) {
	event.Product = s.product
	ctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish enrollment event",
			"event_type", event.Type,
			"purchase_reference", event.PurchaseReference,
			"error", err,
		)
	}
}

func runResult(globalErr bool) string {
	if globalErr {
		return "global_error"
	}
	return "ok"
}
