// Package bundle grants and revokes a fixed list of courses as one unit.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bundlesync/internal/directory"
)

// Operation names used in metrics, spans and logs.
const (
	OpGrant  = "grant"
	OpRevoke = "revoke"
)

// Status is the per-resource result of a bundle operation.
type Status string

const (
	StatusEnrolled   Status = "enrolled"
	StatusUnenrolled Status = "unenrolled"
	StatusError      Status = "error"
)

// Outcome records what happened to one resource.
type Outcome struct {
	Resource   string `json:"course"`
	ResourceID string `json:"courseId"`
	Status     Status `json:"status"`
	Unchanged  bool   `json:"unchanged,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Failed reports whether the resource operation failed.
func (o Outcome) Failed() bool {
	return o.Status == StatusError
}

// FailureCount returns how many outcomes failed.
func FailureCount(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}

// Enroller is the part of the platform directory that bundle access needs.
type Enroller interface {
	Enroll(ctx context.Context, accountID, resourceID string) error
	Unenroll(ctx context.Context, accountID, resourceID string) error
}

// Metrics records resource operation results.
type Metrics interface {
	IncrementResourceOperation(op, status string)
}

// Access applies bundle operations against the directory.
type Access struct {
	enroller Enroller
	bundle   *Bundle
	logger   *slog.Logger
	metrics  Metrics
	tracer   trace.Tracer
}

type Option func(*Access)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Access) {
		a.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(a *Access) {
		a.metrics = m
	}
}

// NewAccess constructs Access for one bundle.
func NewAccess(enroller Enroller, b *Bundle, opts ...Option) (*Access, error) {
	if enroller == nil {
		return nil, fmt.Errorf("enroller is required")
	}
	if b == nil || len(b.Resources) == 0 {
		return nil, fmt.Errorf("bundle with at least one resource is required")
	}
	a := &Access{
		enroller: enroller,
		bundle:   b,
		logger:   slog.Default(),
		tracer:   otel.Tracer("bundlesync/bundle"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Bundle returns the bundle this Access operates on.
func (a *Access) Bundle() *Bundle {
	return a.bundle
}

// Grant enrolls the account in every resource, in catalog order. A failing
// resource never stops the remaining ones.
func (a *Access) Grant(ctx context.Context, accountID string) []Outcome {
	return a.apply(ctx, OpGrant, accountID, StatusEnrolled, a.enroller.Enroll)
}

// Revoke unenrolls the account from every resource, in catalog order.
func (a *Access) Revoke(ctx context.Context, accountID string) []Outcome {
	return a.apply(ctx, OpRevoke, accountID, StatusUnenrolled, a.enroller.Unenroll)
}

func (a *Access) apply(
	ctx context.Context,
	op string,
	accountID string,
	success Status,
	call func(ctx context.Context, accountID, resourceID string) error,
) []Outcome {
	ctx, span := a.tracer.Start(ctx, "bundle."+op, trace.WithAttributes(
		attribute.String("bundle.product", a.bundle.Product),
		attribute.Int("bundle.resources", len(a.bundle.Resources)),
	))
	defer span.End()

	outcomes := make([]Outcome, 0, len(a.bundle.Resources))
	for _, r := range a.bundle.Resources {
		outcome := Outcome{Resource: r.Name, ResourceID: r.ID, Status: success}
		err := call(ctx, accountID, r.ID)
		switch {
		case err == nil:
		case errors.Is(err, directory.ErrAlreadyInState):
			outcome.Unchanged = true
		default:
			outcome.Status = StatusError
			outcome.Error = err.Error()
			a.logger.WarnContext(ctx, "bundle resource operation failed",
				"operation", op,
				"account_id", accountID,
				"resource_id", r.ID,
				"error", err,
			)
		}
		a.recordOutcome(op, outcome)
		outcomes = append(outcomes, outcome)
	}

	if failed := FailureCount(outcomes); failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d resources failed", failed, len(outcomes)))
	}
	return outcomes
}

func (a *Access) recordOutcome(op string, o Outcome) {
	if a.metrics == nil {
		return
	}
	status := string(o.Status)
	if o.Unchanged {
		status = "unchanged"
	}
	a.metrics.IncrementResourceOperation(op, status)
}
