package memory

import (
	"context"
	"sync"

	"chainflow/internal/domain"
	"chainflow/internal/storage"
)

// ThresholdStore is an in-memory implementation of storage.ThresholdStore.
type ThresholdStore struct {
	mu   sync.RWMutex
	data map[string]*domain.WhaleThreshold // keyed by chain
}

// NewThresholdStore creates a new in-memory threshold store.
func NewThresholdStore() *ThresholdStore {
	return &ThresholdStore{
		data: make(map[string]*domain.WhaleThreshold),
	}
}

// Put fully replaces the threshold row for the chain.
func (s *ThresholdStore) Put(_ context.Context, th *domain.WhaleThreshold) error {
	if th == nil || th.Chain == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	thCopy := *th
	s.data[th.Chain] = &thCopy
	return nil
}

// Get retrieves the current threshold for a chain.
func (s *ThresholdStore) Get(_ context.Context, chain string) (*domain.WhaleThreshold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	th, ok := s.data[chain]
	if !ok {
		return nil, storage.ErrNotFound
	}

	thCopy := *th
	return &thCopy, nil
}

var _ storage.ThresholdStore = (*ThresholdStore)(nil)
