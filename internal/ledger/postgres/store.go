// Package postgres provides the PostgreSQL-backed enrollment ledger.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/lib/pq"

	"bundlesync/internal/ledger"
	"bundlesync/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

// Store persists enrollment records in a single PostgreSQL table. Uniqueness of
// purchase_reference is enforced by a unique index, so concurrent syncs cannot
// both insert the same purchase.
type Store struct {
	db    *sql.DB
	table string
	clock func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTable overrides the ledger table name.
func WithTable(table string) Option {
	return func(s *Store) {
		if table = strings.TrimSpace(table); table != "" {
			s.table = table
		}
	}
}

// WithClock sets the clock used to stamp created_at.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New wraps an open database handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:    db,
		table: ledger.DefaultTable,
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Open connects with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db, opts...), nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) ident(suffix string) string {
	if suffix == "" {
		return pq.QuoteIdentifier(s.table)
	}
	return pq.QuoteIdentifier(s.table + "_" + suffix)
}

// Migrate creates the ledger table and its indexes. Safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	table := s.ident("")
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id                 UUID PRIMARY KEY,
				purchase_reference TEXT NOT NULL,
				customer_email     TEXT NOT NULL,
				customer_name      TEXT,
				account_reference  TEXT NOT NULL,
				enrolled_at        TIMESTAMPTZ NOT NULL,
				expires_at         TIMESTAMPTZ NOT NULL,
				unenrolled_at      TIMESTAMPTZ,
				status             TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'expired')),
				created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, table),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (purchase_reference)`, s.ident("purchase_reference_key"), table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (status, expires_at)`, s.ident("status_expires_at_idx"), table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (created_at DESC)`, s.ident("created_at_idx"), table),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate ledger: %w", err)
		}
	}
	return nil
}

// LatestCreatedAt returns created_at of the newest record, or sentinel.ErrNotFound
// when the ledger is empty.
func (s *Store) LatestCreatedAt(ctx context.Context) (time.Time, error) {
	query := fmt.Sprintf(`SELECT created_at FROM %s ORDER BY created_at DESC LIMIT 1`, s.ident(""))
	var createdAt time.Time
	if err := s.db.QueryRowContext(ctx, query).Scan(&createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, sentinel.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("query latest record: %w", err)
	}
	return createdAt.UTC(), nil
}

// PurchaseReferences returns every recorded purchase reference.
func (s *Store) PurchaseReferences(ctx context.Context) (map[string]struct{}, error) {
	query := fmt.Sprintf(`SELECT purchase_reference FROM %s`, s.ident(""))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query purchase references: %w", err)
	}
	defer rows.Close()

	refs := make(map[string]struct{})
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan purchase reference: %w", err)
		}
		refs[ref] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase references: %w", err)
	}
	return refs, nil
}

// Insert writes a new record. A unique violation on purchase_reference is
// reported as sentinel.ErrAlreadyUsed.
func (s *Store) Insert(ctx context.Context, record *ledger.Record) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}
	id := uuid.New()
	if record.ID != "" {
		parsed, err := uuid.Parse(record.ID)
		if err != nil {
			return fmt.Errorf("invalid record id: %w", err)
		}
		id = parsed
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, purchase_reference, customer_email, customer_name, account_reference,
			enrolled_at, expires_at, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.ident(""))
	_, err := s.db.ExecContext(ctx, query,
		id,
		record.PurchaseReference,
		record.CustomerEmail,
		record.CustomerName,
		record.AccountReference,
		record.EnrolledAt,
		record.ExpiresAt,
		string(record.Status),
		createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("purchase reference %s: %w", record.PurchaseReference, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert record: %w", err)
	}
	record.ID = id.String()
	record.CreatedAt = createdAt
	return nil
}

// ListDue returns active records whose window elapsed at or before now.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]ledger.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, purchase_reference, customer_email, customer_name, account_reference,
			   enrolled_at, expires_at, unenrolled_at, status, created_at
		FROM %s
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at, id
	`, s.ident(""))
	rows, err := s.db.QueryContext(ctx, query, string(ledger.StatusActive), now)
	if err != nil {
		return nil, fmt.Errorf("query due records: %w", err)
	}
	defer rows.Close()

	var records []ledger.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due records: %w", err)
	}
	return records, nil
}

// MarkExpired transitions an active record to expired, setting unenrolled_at.
func (s *Store) MarkExpired(ctx context.Context, id string, at time.Time) error {
	recordID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid record id %q: %w", id, sentinel.ErrNotFound)
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, unenrolled_at = $2
		WHERE id = $3 AND status = $4
	`, s.ident(""))
	res, err := s.db.ExecContext(ctx, query, string(ledger.StatusExpired), at, recordID, string(ledger.StatusActive))
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, s.ident("")), recordID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check record status: %w", err)
	}
	return fmt.Errorf("record %s is %s: %w", id, status, sentinel.ErrInvalidState)
}

// FindByPurchaseReference loads one record.
func (s *Store) FindByPurchaseReference(ctx context.Context, ref string) (*ledger.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, purchase_reference, customer_email, customer_name, account_reference,
			   enrolled_at, expires_at, unenrolled_at, status, created_at
		FROM %s
		WHERE purchase_reference = $1
	`, s.ident(""))
	r, err := scanRecord(s.db.QueryRowContext(ctx, query, ref))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (ledger.Record, error) {
	var (
		r            ledger.Record
		id           uuid.UUID
		name         sql.NullString
		unenrolledAt sql.NullTime
		status       string
	)
	err := row.Scan(
		&id,
		&r.PurchaseReference,
		&r.CustomerEmail,
		&name,
		&r.AccountReference,
		&r.EnrolledAt,
		&r.ExpiresAt,
		&unenrolledAt,
		&status,
		&r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Record{}, err
		}
		return ledger.Record{}, fmt.Errorf("scan record: %w", err)
	}
	r.ID = id.String()
	r.Status = ledger.Status(status)
	if name.Valid {
		n := name.String
		r.CustomerName = &n
	}
	if unenrolledAt.Valid {
		t := unenrolledAt.Time.UTC()
		r.UnenrolledAt = &t
	}
	r.EnrolledAt = r.EnrolledAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

// isUniqueViolation recognizes duplicate-key errors from either driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}

var _ ledger.Store = (*Store)(nil)
