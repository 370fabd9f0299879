package directory

import (
	"context"
	"sync"

	id "phonegate/pkg/domain"
	"phonegate/pkg/platform/sentinel"
)

// InMemoryStore is a map-backed operator directory for tests/dev.
type InMemoryStore struct {
	mu        sync.RWMutex
	operators map[id.OperatorID]Operator
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{operators: make(map[id.OperatorID]Operator)}
}

// Add registers an operator, replacing any existing entry.
func (s *InMemoryStore) Add(operator Operator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operators[operator.ID] = operator
}

func (s *InMemoryStore) FindOperator(_ context.Context, operatorID id.OperatorID) (*Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	operator, ok := s.operators[operatorID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &operator, nil
}
