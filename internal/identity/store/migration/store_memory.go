package migration

import (
	"context"
	"sort"
	"sync"
	"time"

	"phonegate/internal/identity/models"
	"phonegate/pkg/platform/sentinel"
	"phonegate/pkg/requestcontext"
)

// InMemoryStore keeps the migration ledger in memory for tests/dev.
type InMemoryStore struct {
	mu      sync.RWMutex
	applied map[string]time.Time
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{applied: make(map[string]time.Time)}
}

func (s *InMemoryStore) Claim(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.applied[name]; ok {
		return sentinel.ErrConflict
	}
	s.applied[name] = requestcontext.Now(ctx)
	return nil
}

func (s *InMemoryStore) Release(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.applied, name)
	return nil
}

func (s *InMemoryStore) IsApplied(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.applied[name]
	return ok, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]models.MigrationLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]models.MigrationLedgerEntry, 0, len(s.applied))
	for name, appliedAt := range s.applied {
		entries = append(entries, models.MigrationLedgerEntry{Name: name, AppliedAt: appliedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AppliedAt.Equal(entries[j].AppliedAt) {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].AppliedAt.Before(entries[j].AppliedAt)
	})
	return entries, nil
}
