// Package sqlite provides a SQLite-backed enrollment ledger for single-host
// deployments and local runs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"bundlesync/internal/ledger"
	"bundlesync/pkg/platform/sentinel"
)

// Store persists enrollment records in SQLite. Timestamps are stored as unix
// milliseconds so range filters compare numerically.
type Store struct {
	sqlDB *sql.DB
	table string
	clock func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (or creates) the database file and applies the schema.
func Open(path, table string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if strings.TrimSpace(table) == "" {
		table = ledger.DefaultTable
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := &Store{
		sqlDB: sqlDB,
		table: table,
		clock: func() time.Time { return time.Now().UTC() },
	}
	if err := s.Migrate(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// SetClock overrides the clock used to stamp created_at.
func (s *Store) SetClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *Store) ident(suffix string) string {
	if suffix == "" {
		return quoteIdent(s.table)
	}
	return quoteIdent(s.table + "_" + suffix)
}

// Migrate creates the ledger table and indexes if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	table := s.ident("")
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    purchase_reference TEXT NOT NULL,
    customer_email TEXT NOT NULL,
    customer_name TEXT,
    account_reference TEXT NOT NULL,
    enrolled_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL,
    unenrolled_at INTEGER,
    status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'expired')),
    created_at INTEGER NOT NULL
)`, table),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (purchase_reference)`, s.ident("purchase_reference_key"), table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (status, expires_at)`, s.ident("status_expires_at_idx"), table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (created_at)`, s.ident("created_at_idx"), table),
	}
	for _, stmt := range statements {
		if _, err := s.sqlDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate ledger: %w", err)
		}
	}
	return nil
}

func (s *Store) LatestCreatedAt(ctx context.Context) (time.Time, error) {
	var createdAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT created_at FROM %s ORDER BY created_at DESC LIMIT 1`, s.ident("")),
	).Scan(&createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, sentinel.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("query latest record: %w", err)
	}
	return fromMillis(createdAt), nil
}

func (s *Store) PurchaseReferences(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.sqlDB.QueryContext(ctx, fmt.Sprintf(`SELECT purchase_reference FROM %s`, s.ident("")))
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

func (s *Store) Insert(ctx context.Context, record *ledger.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("record is required")
	}
	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock()
	}

	var name sql.NullString
	if record.CustomerName != nil {
		name = sql.NullString{String: *record.CustomerName, Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
    id, purchase_reference, customer_email, customer_name, account_reference,
    enrolled_at, expires_at, status, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.ident("")),
		id,
		record.PurchaseReference,
		record.CustomerEmail,
		name,
		record.AccountReference,
		toMillis(record.EnrolledAt),
		toMillis(record.ExpiresAt),
		string(record.Status),
		toMillis(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("purchase reference %s: %w", record.PurchaseReference, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert record: %w", err)
	}
	record.ID = id
	record.CreatedAt = createdAt
	return nil
}

func (s *Store) ListDue(ctx context.Context, now time.Time) ([]ledger.Record, error) {
	rows, err := s.sqlDB.QueryContext(ctx, fmt.Sprintf(`
SELECT id, purchase_reference, customer_email, customer_name, account_reference,
       enrolled_at, expires_at, unenrolled_at, status, created_at
FROM %s
WHERE status = ? AND expires_at <= ?
ORDER BY expires_at, rowid`, s.ident("")),
		string(ledger.StatusActive), toMillis(now),
	)
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

func (s *Store) MarkExpired(ctx context.Context, id string, at time.Time) error {
	res, err := s.sqlDB.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = ?, unenrolled_at = ? WHERE id = ? AND status = ?`, s.ident("")),
		string(ledger.StatusExpired), toMillis(at), id, string(ledger.StatusActive),
	)
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
	err = s.sqlDB.QueryRowContext(ctx, fmt.Sprintf(`SELECT status FROM %s WHERE id = ?`, s.ident("")), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check record status: %w", err)
	}
	return fmt.Errorf("record %s is %s: %w", id, status, sentinel.ErrInvalidState)
}

func (s *Store) FindByPurchaseReference(ctx context.Context, ref string) (*ledger.Record, error) {
	row := s.sqlDB.QueryRowContext(ctx, fmt.Sprintf(`
SELECT id, purchase_reference, customer_email, customer_name, account_reference,
       enrolled_at, expires_at, unenrolled_at, status, created_at
FROM %s
WHERE purchase_reference = ?`, s.ident("")), ref)
	r, err := scanRecord(row)
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
		name         sql.NullString
		enrolledAt   int64
		expiresAt    int64
		unenrolledAt sql.NullInt64
		status       string
		createdAt    int64
	)
	err := row.Scan(
		&r.ID,
		&r.PurchaseReference,
		&r.CustomerEmail,
		&name,
		&r.AccountReference,
		&enrolledAt,
		&expiresAt,
		&unenrolledAt,
		&status,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Record{}, err
		}
		return ledger.Record{}, fmt.Errorf("scan record: %w", err)
	}
	r.Status = ledger.Status(status)
	r.EnrolledAt = fromMillis(enrolledAt)
	r.ExpiresAt = fromMillis(expiresAt)
	r.CreatedAt = fromMillis(createdAt)
	if name.Valid {
		n := name.String
		r.CustomerName = &n
	}
	if unenrolledAt.Valid {
		t := fromMillis(unenrolledAt.Int64)
		r.UnenrolledAt = &t
	}
	return r, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, ".purchase_reference")
}

var _ ledger.Store = (*Store)(nil)
