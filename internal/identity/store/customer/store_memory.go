package customer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"phonegate/internal/identity/models"
	id "phonegate/pkg/domain"
	"phonegate/pkg/platform/sentinel"
)

// InMemoryStore mirrors the Postgres semantics for tests and development.
// The mutex-guarded fingerprint index plays the role of the storage
// uniqueness constraint.
type InMemoryStore struct {
	mu        sync.RWMutex
	customers map[id.CustomerID]*models.Customer
	byPrint   map[string]id.CustomerID // tenant+fingerprint -> customer
}

// NewInMemory constructs an empty in-memory customer store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		customers: make(map[id.CustomerID]*models.Customer),
		byPrint:   make(map[string]id.CustomerID),
	}
}

func printKey(tenantID id.TenantID, fingerprint string) string {
	return tenantID.String() + "\x00" + fingerprint
}

func (s *InMemoryStore) TryRegister(_ context.Context, customer *models.Customer) (models.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := printKey(customer.TenantID, customer.Fingerprint)
	if _, taken := s.byPrint[key]; !taken {
		clone := *customer
		s.customers[customer.ID] = &clone
		s.byPrint[key] = customer.ID
		return models.Outcome{Registered: true, CustomerID: customer.ID}, nil
	}

	// Conflict path: re-read by fingerprint, then legacy signature,
	// earliest-created row wins.
	if existing := s.earliestLocked(func(c *models.Customer) bool {
		return c.TenantID == customer.TenantID && c.Fingerprint == customer.Fingerprint
	}); existing != nil {
		return models.Outcome{Existing: existing}, nil
	}
	if customer.LegacySignature != "" {
		if existing := s.earliestLocked(func(c *models.Customer) bool {
			return c.TenantID == customer.TenantID && c.LegacySignature == customer.LegacySignature
		}); existing != nil {
			return models.Outcome{Existing: existing}, nil
		}
	}
	return models.Outcome{}, fmt.Errorf("uniqueness conflict with no visible owner: %w", sentinel.ErrConflict)
}

// earliestLocked returns a copy of the earliest-created matching customer.
// Caller must hold at least a read lock.
func (s *InMemoryStore) earliestLocked(match func(*models.Customer) bool) *models.Customer {
	var earliest *models.Customer
	for _, c := range s.customers {
		if !match(c) {
			continue
		}
		if earliest == nil || c.CreatedAt.Before(earliest.CreatedAt) {
			earliest = c
		}
	}
	if earliest == nil {
		return nil
	}
	clone := *earliest
	return &clone
}

func (s *InMemoryStore) FindByID(_ context.Context, customerID id.CustomerID) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[customerID]
	if !ok {
		return nil, fmt.Errorf("customer not found: %w", sentinel.ErrNotFound)
	}
	clone := *c
	return &clone, nil
}

func (s *InMemoryStore) FindByFingerprint(_ context.Context, tenantID id.TenantID, fingerprint string) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing := s.earliestLocked(func(c *models.Customer) bool {
		return c.TenantID == tenantID && c.Fingerprint == fingerprint
	})
	if existing == nil {
		return nil, fmt.Errorf("customer not found: %w", sentinel.ErrNotFound)
	}
	return existing, nil
}

func (s *InMemoryStore) List(_ context.Context, filter ListFilter) ([]models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]models.Customer, 0)
	for _, c := range s.customers {
		if !filter.TenantID.IsNil() && c.TenantID != filter.TenantID {
			continue
		}
		if !filter.OperatorID.IsNil() && c.OwnerOperatorID != filter.OperatorID {
			continue
		}
		matched = append(matched, *c)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit := normalizeLimit(filter.Limit)
	if filter.Offset >= len(matched) {
		return []models.Customer{}, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *InMemoryStore) ListByScheme(_ context.Context, scheme models.FingerprintScheme) ([]models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]models.Customer, 0)
	for _, c := range s.customers {
		if c.Scheme == scheme {
			matched = append(matched, *c)
		}
	}
	sortByCreation(matched)
	return matched, nil
}

func (s *InMemoryStore) ListMissingSignature(_ context.Context) ([]models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]models.Customer, 0)
	for _, c := range s.customers {
		if c.LegacySignature == "" {
			matched = append(matched, *c)
		}
	}
	sortByCreation(matched)
	return matched, nil
}

func (s *InMemoryStore) UpdateFingerprint(_ context.Context, customerID id.CustomerID, fingerprint string, scheme models.FingerprintScheme, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[customerID]
	if !ok {
		return fmt.Errorf("customer not found: %w", sentinel.ErrNotFound)
	}
	newKey := printKey(c.TenantID, fingerprint)
	if ownerID, taken := s.byPrint[newKey]; taken && ownerID != customerID {
		return fmt.Errorf("fingerprint already registered in tenant: %w", sentinel.ErrConflict)
	}
	delete(s.byPrint, printKey(c.TenantID, c.Fingerprint))
	c.Fingerprint = fingerprint
	c.Scheme = scheme
	c.LegacySignature = signature
	s.byPrint[newKey] = customerID
	return nil
}

func (s *InMemoryStore) UpdateSignature(_ context.Context, customerID id.CustomerID, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok {
		return fmt.Errorf("customer not found: %w", sentinel.ErrNotFound)
	}
	c.LegacySignature = signature
	return nil
}

func (s *InMemoryStore) SignatureGroups(_ context.Context) ([]SignatureGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grouped := make(map[string][]models.Customer)
	for _, c := range s.customers {
		if c.LegacySignature == "" {
			continue
		}
		key := c.TenantID.String() + "\x00" + c.LegacySignature
		grouped[key] = append(grouped[key], *c)
	}

	groups := make([]SignatureGroup, 0)
	for _, members := range grouped {
		if len(members) < 2 {
			continue
		}
		sortByCreation(members)
		groups = append(groups, SignatureGroup{
			TenantID:  members[0].TenantID,
			Signature: members[0].LegacySignature,
			Members:   members,
		})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].TenantID != groups[j].TenantID {
			return groups[i].TenantID.String() < groups[j].TenantID.String()
		}
		return groups[i].Signature < groups[j].Signature
	})
	return groups, nil
}

func (s *InMemoryStore) Delete(_ context.Context, customerID id.CustomerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok {
		return fmt.Errorf("customer not found: %w", sentinel.ErrNotFound)
	}
	delete(s.byPrint, printKey(c.TenantID, c.Fingerprint))
	delete(s.customers, customerID)
	return nil
}

func sortByCreation(customers []models.Customer) {
	sort.Slice(customers, func(i, j int) bool {
		if customers[i].CreatedAt.Equal(customers[j].CreatedAt) {
			return customers[i].ID.String() < customers[j].ID.String()
		}
		return customers[i].CreatedAt.Before(customers[j].CreatedAt)
	})
}
