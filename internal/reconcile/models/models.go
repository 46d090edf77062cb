// Package models holds the run reports returned by the reconciliation jobs.
package models

import (
	"time"

	"bundlesync/internal/bundle"
)

// ItemStatus is the per-item result in a run report.
type ItemStatus string

const (
	ItemEnrolled   ItemStatus = "enrolled"
	ItemUnenrolled ItemStatus = "unenrolled"
	ItemDryRun     ItemStatus = "dry_run"
)

// SkipAlreadyProcessed marks a session that already has a ledger record.
const SkipAlreadyProcessed = "already_processed"

// Enrollment is one session handled by a sync run.
type Enrollment struct {
	SessionID     string           `json:"sessionId"`
	Email         string           `json:"email"`
	Name          *string          `json:"name"`
	AccountID     string           `json:"accountId,omitempty"`
	ExpiresAt     *time.Time       `json:"expiresAt,omitempty"`
	BundleResults []bundle.Outcome `json:"bundleResults,omitempty"`
	Status        ItemStatus       `json:"status"`
}

// Unenrollment is one record handled by a sweep run.
type Unenrollment struct {
	RecordID      string           `json:"recordId"`
	Email         string           `json:"email"`
	AccountID     string           `json:"accountId"`
	EnrolledAt    *time.Time       `json:"enrolledAt,omitempty"`
	ExpiresAt     *time.Time       `json:"expiresAt,omitempty"`
	BundleResults []bundle.Outcome `json:"bundleResults,omitempty"`
	Status        ItemStatus       `json:"status"`
}

// Skip is a session that was not processed.
type Skip struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// ErrorEntry describes a failed item, or the whole run when Global is set.
type ErrorEntry struct {
	SessionID string `json:"sessionId,omitempty"`
	RecordID  string `json:"recordId,omitempty"`
	Email     string `json:"email,omitempty"`
	Global    bool   `json:"global,omitempty"`
	Error     string `json:"error"`
}

// SyncReport summarizes one enrollment sync run.
type SyncReport struct {
	StartedAt      time.Time    `json:"startedAt"`
	FinishedAt     time.Time    `json:"finishedAt"`
	DryRun         bool         `json:"dryRun"`
	Since          *time.Time   `json:"since,omitempty"`
	SessionsFound  int          `json:"sessionsFound"`
	NewEnrollments []Enrollment `json:"newEnrollments"`
	Skipped        []Skip       `json:"skipped"`
	Errors         []ErrorEntry `json:"errors"`
}

// NewSyncReport returns an empty report with non-nil lists.
func NewSyncReport(startedAt time.Time, dryRun bool) *SyncReport {
	return &SyncReport{
		StartedAt:      startedAt,
		DryRun:         dryRun,
		NewEnrollments: []Enrollment{},
		Skipped:        []Skip{},
		Errors:         []ErrorEntry{},
	}
}

// AddGlobalError records a failure that stopped the run.
func (r *SyncReport) AddGlobalError(err error) {
	r.Errors = append(r.Errors, ErrorEntry{Global: true, Error: err.Error()})
}

// SweepReport summarizes one expiration sweep run.
type SweepReport struct {
	StartedAt     time.Time      `json:"startedAt"`
	FinishedAt    time.Time      `json:"finishedAt"`
	DryRun        bool           `json:"dryRun"`
	ExpiredFound  int            `json:"expiredFound"`
	Unenrollments []Unenrollment `json:"unenrollments"`
	Errors        []ErrorEntry   `json:"errors"`
}

// NewSweepReport returns an empty report with non-nil lists.
func NewSweepReport(startedAt time.Time, dryRun bool) *SweepReport {
	return &SweepReport{
		StartedAt:     startedAt,
		DryRun:        dryRun,
		Unenrollments: []Unenrollment{},
		Errors:        []ErrorEntry{},
	}
}

// AddGlobalError records a failure that stopped the run.
func (r *SweepReport) AddGlobalError(err error) {
	r.Errors = append(r.Errors, ErrorEntry{Global: true, Error: err.Error()})
}
