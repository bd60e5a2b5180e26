package history

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and by hosts that do not
// need durability.
type MemoryStore struct {
	mu       sync.Mutex
	examples []Example
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, ex Example) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.examples = append(s.examples, ex)
	return nil
}

func (s *MemoryStore) Load(_ context.Context) ([]Example, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Example, len(s.examples))
	copy(out, s.examples)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
