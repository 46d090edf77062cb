//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bundlesync/internal/ledger"
	"bundlesync/internal/ledger/postgres"
	"bundlesync/pkg/platform/sentinel"
	"bundlesync/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = postgres.New(s.postgres.DB, postgres.WithClock(func() time.Time { return s.now }))
	s.Require().NoError(s.store.Migrate(context.Background()))
	s.Require().NoError(s.store.Migrate(context.Background()), "migrate is repeatable")
}

func (s *PostgresStoreSuite) TearDownSuite() {
	s.postgres.Terminate(s.T())
}

func (s *PostgresStoreSuite) SetupTest() {
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), ledger.DefaultTable))
}

func (s *PostgresStoreSuite) newRecord(ref string, enrolledAt time.Time) *ledger.Record {
	name := "Ana"
	r, err := ledger.NewRecord(ref, "Ana@Example.com", &name, "acct-"+ref, enrolledAt)
	s.Require().NoError(err)
	return r
}

func (s *PostgresStoreSuite) TestInsertAndCursor() {
	ctx := context.Background()

	_, err := s.store.LatestCreatedAt(ctx)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	r := s.newRecord("sess_1", s.now)
	s.Require().NoError(s.store.Insert(ctx, r))
	s.NotEmpty(r.ID)

	found, err := s.store.FindByPurchaseReference(ctx, "sess_1")
	s.Require().NoError(err)
	s.Equal("ana@example.com", found.CustomerEmail)
	s.Require().NotNil(found.CustomerName)
	s.Equal("Ana", *found.CustomerName)
	s.Equal(ledger.StatusActive, found.Status)
	s.True(found.ExpiresAt.Equal(s.now.AddDate(1, 0, 0)))

	latest, err := s.store.LatestCreatedAt(ctx)
	s.Require().NoError(err)
	s.True(latest.Equal(s.now))

	refs, err := s.store.PurchaseReferences(ctx)
	s.Require().NoError(err)
	s.Contains(refs, "sess_1")
}

// TestConcurrentInsertSameReference verifies the unique index is the idempotency
// signal: concurrent inserts of one purchase produce exactly one row.
func (s *PostgresStoreSuite) TestConcurrentInsertSameReference() {
	ctx := context.Background()
	const goroutines = 20

	records := make([]*ledger.Record, goroutines)
	for i := range records {
		records[i] = s.newRecord("sess_race", s.now)
	}

	var wg sync.WaitGroup
	var successCount, conflictCount atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(r *ledger.Record) {
			defer wg.Done()
			err := s.store.Insert(ctx, r)
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrAlreadyUsed) {
				conflictCount.Add(1)
			}
		}(records[i])
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load())
	s.Equal(int32(goroutines-1), conflictCount.Load())
}

func (s *PostgresStoreSuite) TestListDueAndMarkExpired() {
	ctx := context.Background()
	due := s.newRecord("sess_due", s.now.AddDate(-1, 0, -1))
	fresh := s.newRecord("sess_fresh", s.now)
	s.Require().NoError(s.store.Insert(ctx, due))
	s.Require().NoError(s.store.Insert(ctx, fresh))

	records, err := s.store.ListDue(ctx, s.now)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(due.ID, records[0].ID)

	s.Require().NoError(s.store.MarkExpired(ctx, due.ID, s.now))
	s.Require().ErrorIs(s.store.MarkExpired(ctx, due.ID, s.now), sentinel.ErrInvalidState)
	s.Require().ErrorIs(s.store.MarkExpired(ctx, "7b0e5f9e-3c0d-4b55-9a65-6b2c1b4c9a01", s.now), sentinel.ErrNotFound)

	found, err := s.store.FindByPurchaseReference(ctx, "sess_due")
	s.Require().NoError(err)
	s.Equal(ledger.StatusExpired, found.Status)
	s.Require().NotNil(found.UnenrolledAt)
	s.True(found.UnenrolledAt.Equal(s.now))

	records, err = s.store.ListDue(ctx, s.now)
	s.Require().NoError(err)
	s.Empty(records)
}
