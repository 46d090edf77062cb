package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bundlesync/pkg/platform/sentinel"
)

// InMemory keeps records in process memory. It backs tests and local dry runs and
// enforces the same purchase reference uniqueness as the SQL stores.
type InMemory struct {
	mu      sync.RWMutex
	records map[string]*Record
	byRef   map[string]string
	seq     map[string]int
	next    int
	clock   func() time.Time
}

// NewInMemory constructs an empty in-memory ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		records: make(map[string]*Record),
		byRef:   make(map[string]string),
		seq:     make(map[string]int),
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used to stamp created_at.
func (s *InMemory) WithClock(clock func() time.Time) *InMemory {
	if clock != nil {
		s.clock = clock
	}
	return s
}

func (s *InMemory) LatestCreatedAt(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest time.Time
	for _, r := range s.records {
		if r.CreatedAt.After(latest) {
			latest = r.CreatedAt
		}
	}
	if latest.IsZero() {
		return time.Time{}, sentinel.ErrNotFound
	}
	return latest, nil
}

func (s *InMemory) PurchaseReferences(_ context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := make(map[string]struct{}, len(s.byRef))
	for ref := range s.byRef {
		refs[ref] = struct{}{}
	}
	return refs, nil
}

// Insert stores the record, assigning ID and CreatedAt. A second insert for the same
// purchase reference fails with sentinel.ErrAlreadyUsed.
func (s *InMemory) Insert(_ context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byRef[record.PurchaseReference]; taken {
		return fmt.Errorf("purchase reference %s: %w", record.PurchaseReference, sentinel.ErrAlreadyUsed)
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.clock()
	}
	stored := *record
	s.records[stored.ID] = &stored
	s.byRef[stored.PurchaseReference] = stored.ID
	s.next++
	s.seq[stored.ID] = s.next
	return nil
}

func (s *InMemory) ListDue(_ context.Context, now time.Time) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []Record
	for _, r := range s.records {
		if r.IsDue(now) {
			due = append(due, *r)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ExpiresAt.Equal(due[j].ExpiresAt) {
			return due[i].ExpiresAt.Before(due[j].ExpiresAt)
		}
		return s.seq[due[i].ID] < s.seq[due[j].ID]
	})
	return due, nil
}

// MarkExpired moves an active record to expired. Records that are missing or
// already expired are reported with sentinel errors and left untouched.
func (s *InMemory) MarkExpired(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if r.Status != StatusActive {
		return fmt.Errorf("record %s is %s: %w", id, r.Status, sentinel.ErrInvalidState)
	}
	r.Status = StatusExpired
	unenrolledAt := at
	r.UnenrolledAt = &unenrolledAt
	return nil
}

// FindByPurchaseReference returns a copy of the record for a reference.
func (s *InMemory) FindByPurchaseReference(_ context.Context, ref string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRef[ref]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	r := *s.records[id]
	return &r, nil
}

// All returns every record ordered by insertion.
func (s *InMemory) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		all = append(all, *r)
	}
	sort.Slice(all, func(i, j int) bool { return s.seq[all[i].ID] < s.seq[all[j].ID] })
	return all
}

func (s *InMemory) Ping(_ context.Context) error { return nil }

func (s *InMemory) Close() error { return nil }
