package duplicate

import (
	"context"
	"errors"
	"sort"
	"sync"

	"phonegate/internal/identity/models"
	id "phonegate/pkg/domain"
	"phonegate/pkg/platform/sentinel"
)

// CustomerChecker is the slice of the customer store CleanupOrphans needs to
// decide whether a ledger row still has a live customer.
type CustomerChecker interface {
	FindByID(ctx context.Context, customerID id.CustomerID) (*models.Customer, error)
}

// InMemoryStore keeps the duplicate ledger in memory for tests/dev.
type InMemoryStore struct {
	mu        sync.RWMutex
	records   []models.DuplicateRecord
	customers CustomerChecker
}

// NewInMemory constructs an empty in-memory ledger. The checker may be nil
// when orphan cleanup is not exercised.
func NewInMemory(customers CustomerChecker) *InMemoryStore {
	return &InMemoryStore{customers: customers}
}

func (s *InMemoryStore) Record(_ context.Context, record *models.DuplicateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *record)
	return nil
}

func (s *InMemoryStore) List(_ context.Context, filter ListFilter) ([]models.DuplicateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]models.DuplicateRecord, 0)
	for _, r := range s.records {
		if !filter.TenantID.IsNil() && r.TenantID != filter.TenantID {
			continue
		}
		if !filter.OperatorID.IsNil() && r.FirstOwnerOperatorID != filter.OperatorID && r.DuplicateOperatorID != filter.OperatorID {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})

	limit := normalizeLimit(filter.Limit)
	if filter.Offset >= len(matched) {
		return []models.DuplicateRecord{}, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *InMemoryStore) CountByCustomer(_ context.Context, customerID id.CustomerID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, r := range s.records {
		if r.CustomerID == customerID {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) CleanupOrphans(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	removed := 0
	for _, r := range s.records {
		if s.customerExists(ctx, r.CustomerID) {
			kept = append(kept, r)
		} else {
			removed++
		}
	}
	s.records = kept
	return removed, nil
}

func (s *InMemoryStore) customerExists(ctx context.Context, customerID id.CustomerID) bool {
	if s.customers == nil {
		return true
	}
	_, err := s.customers.FindByID(ctx, customerID)
	return !errors.Is(err, sentinel.ErrNotFound)
}
