// Package ledger holds the Enrollment Record, the durable state shared by the
// enrollment sync and expiration sweep jobs.
//
// A record is created once per purchase reference, starts active and is moved to
// expired by the sweep. Records are never deleted.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"bundlesync/pkg/email"
)

// Status is the lifecycle state of an enrollment record.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	return s == StatusActive || s == StatusExpired
}

// DefaultTable is the ledger table used when none is configured.
const DefaultTable = "enrollment_records"

// Record is one successful purchase and the access it granted.
type Record struct {
	ID                string
	PurchaseReference string
	CustomerEmail     string
	CustomerName      *string
	AccountReference  string
	EnrolledAt        time.Time
	ExpiresAt         time.Time
	UnenrolledAt      *time.Time
	Status            Status
	CreatedAt         time.Time
}

// ExpiryFor returns the end of the access window that starts at enrolledAt.
// The window is one calendar year.
func ExpiryFor(enrolledAt time.Time) time.Time {
	return enrolledAt.AddDate(1, 0, 0)
}

var (
	errMissingReference = errors.New("purchase reference is required")
	errMissingEmail     = errors.New("customer email is required")
	errMissingAccount   = errors.New("account reference is required")
)

// NewRecord builds an active record for a purchase, fixing expires_at from enrolledAt.
// The email is stored lower-cased.
func NewRecord(purchaseReference, customerEmail string, customerName *string, accountReference string, enrolledAt time.Time) (*Record, error) {
	purchaseReference = strings.TrimSpace(purchaseReference)
	customerEmail = email.Normalize(customerEmail)
	accountReference = strings.TrimSpace(accountReference)

	if purchaseReference == "" {
		return nil, errMissingReference
	}
	if customerEmail == "" {
		return nil, errMissingEmail
	}
	if accountReference == "" {
		return nil, errMissingAccount
	}

	return &Record{
		PurchaseReference: purchaseReference,
		CustomerEmail:     customerEmail,
		CustomerName:      customerName,
		AccountReference:  accountReference,
		EnrolledAt:        enrolledAt,
		ExpiresAt:         ExpiryFor(enrolledAt),
		Status:            StatusActive,
	}, nil
}

// IsDue reports whether the sweep should act on the record at now.
func (r *Record) IsDue(now time.Time) bool {
	return r.Status == StatusActive && !r.ExpiresAt.After(now)
}

// Store persists enrollment records. Implementations enforce purchase reference
// uniqueness and return sentinel.ErrAlreadyUsed on a duplicate insert.
type Store interface {
	LatestCreatedAt(ctx context.Context) (time.Time, error)
	PurchaseReferences(ctx context.Context) (map[string]struct{}, error)
	Insert(ctx context.Context, record *Record) error
	ListDue(ctx context.Context, now time.Time) ([]Record, error)
	MarkExpired(ctx context.Context, id string, at time.Time) error
	FindByPurchaseReference(ctx context.Context, ref string) (*Record, error)
	Ping(ctx context.Context) error
	Close() error
}

var _ Store = (*InMemory)(nil)
