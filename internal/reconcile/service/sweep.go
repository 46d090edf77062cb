package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bundlesync/internal/bundle"
	"bundlesync/internal/events"
	"bundlesync/internal/ledger"
	"bundlesync/internal/reconcile/models"
	"bundlesync/pkg/requestcontext"
)

// Sweep revokes the bundle for every active record whose access window has ended
// and marks those records expired. A record whose update fails stays active and is
// picked up again by the next sweep.
func (s *Service) Sweep(ctx context.Context) *models.SweepReport {
	now := requestcontext.Now(ctx)
	report := models.NewSweepReport(now, s.dryRun)

	ctx, span := s.tracer.Start(ctx, "reconcile.sweep")
	defer span.End()

	release, err := s.acquire(ctx, JobSweep)
	if err == nil {
		defer release()
		err = s.sweep(ctx, now, report)
	}
	if err != nil {
		report.AddGlobalError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.ErrorContext(ctx, "expiration sweep failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}

	report.FinishedAt = s.clock().UTC()
	s.observeSweep(report, err != nil)
	span.SetAttributes(
		attribute.Int("sweep.expired_found", report.ExpiredFound),
		attribute.Int("sweep.unenrollments", len(report.Unenrollments)),
		attribute.Int("sweep.errors", len(report.Errors)),
	)
	s.logger.InfoContext(ctx, "expiration sweep finished",
		"request_id", requestcontext.RequestID(ctx),
		"dry_run", report.DryRun,
		"expired_found", report.ExpiredFound,
		"unenrollments", len(report.Unenrollments),
		"errors", len(report.Errors),
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report
}

func (s *Service) sweep(ctx context.Context, now time.Time, report *models.SweepReport) error {
	due, err := s.ledger.ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("list expired enrollments: %w", err)
	}
	report.ExpiredFound = len(due)

	for i := range due {
		s.sweepRecord(ctx, now, &due[i], report)
	}
	return nil
}

func (s *Service) sweepRecord(ctx context.Context, now time.Time, record *ledger.Record, report *models.SweepReport) {
	enrolledAt, expiresAt := record.EnrolledAt, record.ExpiresAt

	if s.dryRun {
		report.Unenrollments = append(report.Unenrollments, models.Unenrollment{
			RecordID:   record.ID,
			Email:      record.CustomerEmail,
			AccountID:  record.AccountReference,
			EnrolledAt: &enrolledAt,
			ExpiresAt:  &expiresAt,
			Status:     models.ItemDryRun,
		})
		return
	}

	outcomes := s.access.Revoke(ctx, record.AccountReference)

	if err := s.ledger.MarkExpired(ctx, record.ID, now); err != nil {
		report.Errors = append(report.Errors, models.ErrorEntry{
			RecordID: record.ID,
			Email:    record.CustomerEmail,
			Error:    fmt.Sprintf("mark expired: %v", err),
		})
		s.logger.WarnContext(ctx, "failed to mark record expired",
			"request_id", requestcontext.RequestID(ctx),
			"record_id", record.ID,
			"error", err,
		)
		return
	}

	report.Unenrollments = append(report.Unenrollments, models.Unenrollment{
		RecordID:      record.ID,
		Email:         record.CustomerEmail,
		AccountID:     record.AccountReference,
		EnrolledAt:    &enrolledAt,
		ExpiresAt:     &expiresAt,
		BundleResults: outcomes,
		Status:        models.ItemUnenrolled,
	})

	event := events.New(events.TypeRevoked, now)
	event.RecordID = record.ID
	event.PurchaseReference = record.PurchaseReference
	event.Email = record.CustomerEmail
	event.AccountID = record.AccountReference
	event.ExpiresAt = &expiresAt
	event.FailedResources = bundle.FailureCount(outcomes)
	s.publish(ctx, event)
}

func (s *Service) observeSweep(report *models.SweepReport, globalErr bool) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveRun(JobSweep, runResult(globalErr), report.FinishedAt.Sub(report.StartedAt))
	var unenrolled, dryRun int
	for _, u := range report.Unenrollments {
		if u.Status == models.ItemDryRun {
			dryRun++
		} else {
			unenrolled++
		}
	}
	s.metrics.AddItems(JobSweep, string(models.ItemUnenrolled), unenrolled)
	s.metrics.AddItems(JobSweep, string(models.ItemDryRun), dryRun)
	s.metrics.AddItems(JobSweep, "error", len(report.Errors))
}
