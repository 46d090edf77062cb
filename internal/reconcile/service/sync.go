package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bundlesync/internal/bundle"
	"bundlesync/internal/directory"
	"bundlesync/internal/events"
	"bundlesync/internal/ledger"
	"bundlesync/internal/purchase"
	"bundlesync/internal/reconcile/models"
	"bundlesync/pkg/email"
	"bundlesync/pkg/platform/sentinel"
	"bundlesync/pkg/requestcontext"
)

const errNoEmail = "No email found in session"

// Sync grants the bundle for every completed purchase not yet in the ledger.
//
// Setup failures (cursor, session listing, reference snapshot, run lock) end the run
// with a single global error. Failures for one session are reported against that
// session and the run continues.
func (s *Service) Sync(ctx context.Context) *models.SyncReport {
	now := requestcontext.Now(ctx)
	report := models.NewSyncReport(now, s.dryRun)

	ctx, span := s.tracer.Start(ctx, "reconcile.sync")
	defer span.End()

	release, err := s.acquire(ctx, JobSync)
	if err == nil {
		defer release()
		err = s.sync(ctx, now, report)
	}
	if err != nil {
		report.AddGlobalError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.ErrorContext(ctx, "enrollment sync failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}

	report.FinishedAt = s.clock().UTC()
	s.observeSync(report, err != nil)
	span.SetAttributes(
		attribute.Int("sync.sessions_found", report.SessionsFound),
		attribute.Int("sync.new_enrollments", len(report.NewEnrollments)),
		attribute.Int("sync.errors", len(report.Errors)),
	)
	s.logger.InfoContext(ctx, "enrollment sync finished",
		"request_id", requestcontext.RequestID(ctx),
		"dry_run", report.DryRun,
		"sessions_found", report.SessionsFound,
		"new_enrollments", len(report.NewEnrollments),
		"skipped", len(report.Skipped),
		"errors", len(report.Errors),
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report
}

func (s *Service) sync(ctx context.Context, now time.Time, report *models.SyncReport) error {
	since, err := s.since(ctx, now)
	if err != nil {
		return err
	}
	report.Since = &since

	sessions, err := s.source.ListCompletedSessions(ctx, since)
	if err != nil {
		return fmt.Errorf("list completed sessions: %w", err)
	}
	report.SessionsFound = len(sessions)

	// One snapshot for the whole run; references handled during the run are added
	// so a session listed twice is only processed once.
	seen, err := s.ledger.PurchaseReferences(ctx)
	if err != nil {
		return fmt.Errorf("load processed sessions: %w", err)
	}

	for _, session := range sessions {
		if _, ok := seen[session.Reference]; ok {
			report.Skipped = append(report.Skipped, models.Skip{
				SessionID: session.Reference,
				Reason:    models.SkipAlreadyProcessed,
			})
			continue
		}
		seen[session.Reference] = struct{}{}
		s.syncSession(ctx, now, session, report)
	}
	return nil
}

// since is the sync cursor: the newest record's created_at, or now minus the
// lookback when the ledger is empty.
func (s *Service) since(ctx context.Context, now time.Time) (time.Time, error) {
	latest, err := s.ledger.LatestCreatedAt(ctx)
	switch {
	case err == nil:
		return latest, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return now.Add(-s.lookback), nil
	default:
		return time.Time{}, fmt.Errorf("read sync cursor: %w", err)
	}
}

func (s *Service) syncSession(ctx context.Context, now time.Time, session purchase.Session, report *models.SyncReport) {
	if !session.HasEmail() {
		report.Errors = append(report.Errors, models.ErrorEntry{
			SessionID: session.Reference,
			Error:     errNoEmail,
		})
		return
	}
	address := email.Normalize(session.Email)

	if s.dryRun {
		report.NewEnrollments = append(report.NewEnrollments, models.Enrollment{
			SessionID: session.Reference,
			Email:     address,
			Name:      session.Name,
			Status:    models.ItemDryRun,
		})
		return
	}

	fail := func(err error) {
		report.Errors = append(report.Errors, models.ErrorEntry{
			SessionID: session.Reference,
			Email:     address,
			Error:     err.Error(),
		})
		s.logger.WarnContext(ctx, "session enrollment failed",
			"request_id", requestcontext.RequestID(ctx),
			"session_id", session.Reference,
			"error", err,
		)
	}

	account, err := s.resolveAccount(ctx, address, session.Name)
	if err != nil {
		fail(err)
		return
	}

	outcomes := s.access.Grant(ctx, account.ID)

	record, err := ledger.NewRecord(session.Reference, address, session.Name, account.ID, now)
	if err != nil {
		fail(err)
		return
	}
	if err := s.ledger.Insert(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			report.Skipped = append(report.Skipped, models.Skip{
				SessionID: session.Reference,
				Reason:    models.SkipAlreadyProcessed,
			})
			args := []any{
				"request_id", requestcontext.RequestID(ctx),
				"session_id", session.Reference,
			}
			if existing, lookupErr := s.ledger.FindByPurchaseReference(ctx, session.Reference); lookupErr == nil {
				args = append(args, "record_id", existing.ID, "account_id", existing.AccountReference)
			}
			s.logger.WarnContext(ctx, "session recorded by a concurrent run", args...)
			return
		}
		fail(fmt.Errorf("record enrollment: %w", err))
		return
	}

	expiresAt := record.ExpiresAt
	report.NewEnrollments = append(report.NewEnrollments, models.Enrollment{
		SessionID:     session.Reference,
		Email:         address,
		Name:          session.Name,
		AccountID:     account.ID,
		ExpiresAt:     &expiresAt,
		BundleResults: outcomes,
		Status:        models.ItemEnrolled,
	})

	event := events.New(events.TypeGranted, now)
	event.RecordID = record.ID
	event.PurchaseReference = record.PurchaseReference
	event.Email = record.CustomerEmail
	event.AccountID = account.ID
	event.ExpiresAt = &expiresAt
	event.FailedResources = bundle.FailureCount(outcomes)
	s.publish(ctx, event)
}

// resolveAccount finds the account for address or creates one. Only a confirmed
// "no such account" leads to creation; lookup failures are returned.
func (s *Service) resolveAccount(ctx context.Context, address string, name *string) (*directory.Account, error) {
	account, err := s.directory.FindAccountByEmail(ctx, address)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("find account: %w", err)
	}

	account, err = s.directory.CreateAccount(ctx, address, email.DisplayName(name, address))
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	s.logger.InfoContext(ctx, "account created",
		"request_id", requestcontext.RequestID(ctx),
		"account_id", account.ID,
	)
	return account, nil
}

func (s *Service) observeSync(report *models.SyncReport, globalErr bool) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveRun(JobSync, runResult(globalErr), report.FinishedAt.Sub(report.StartedAt))
	var enrolled, dryRun int
	for _, e := range report.NewEnrollments {
		if e.Status == models.ItemDryRun {
			dryRun++
		} else {
			enrolled++
		}
	}
	s.metrics.AddItems(JobSync, string(models.ItemEnrolled), enrolled)
	s.metrics.AddItems(JobSync, string(models.ItemDryRun), dryRun)
	s.metrics.AddItems(JobSync, "skipped", len(report.Skipped))
	s.metrics.AddItems(JobSync, "error", len(report.Errors))
}
