package memory

import (
	"context"
	"sort"
	"sync"

	"chainflow/internal/domain"
	"chainflow/internal/storage"
)

// PriceBucketStore is an in-memory implementation of storage.PriceBucketStore.
// The legacy mirror is kept as a separate map keyed by bucket_ms alone,
// matching the chain-agnostic legacy table shape.
type PriceBucketStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.PriceBucket // keyed by (chain, bucket_ms)
	legacy map[int64]*domain.PriceBucket  // keyed by bucket_ms
}

// NewPriceBucketStore creates a new in-memory price bucket store.
func NewPriceBucketStore() *PriceBucketStore {
	return &PriceBucketStore{
		data:   make(map[string]*domain.PriceBucket),
		legacy: make(map[int64]*domain.PriceBucket),
	}
}

// ReplaceBatch upserts bucket rows, fully replacing existing values.
func (s *PriceBucketStore) ReplaceBatch(_ context.Context, buckets []*domain.PriceBucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range buckets {
		if b == nil || b.Chain == "" {
			return storage.ErrInvalidInput
		}
		bCopy := *b
		s.data[bucketKey(b.Chain, b.BucketMs)] = &bCopy
	}

	return nil
}

// GetByChain retrieves all buckets for a chain ordered by bucket_ms.
func (s *PriceBucketStore) GetByChain(_ context.Context, chain string) ([]*domain.PriceBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceBucket
	for _, b := range s.data {
		if b.Chain == chain {
			bCopy := *b
			result = append(result, &bCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].BucketMs < result[j].BucketMs
	})

	return result, nil
}

// SyncLegacy mirrors a chain's price buckets into the legacy map.
func (s *PriceBucketStore) SyncLegacy(_ context.Context, chain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.data {
		if b.Chain == chain {
			bCopy := *b
			s.legacy[b.BucketMs] = &bCopy
		}
	}

	return nil
}

// GetLegacy retrieves the legacy mirror ordered by bucket_ms. Used by tests.
func (s *PriceBucketStore) GetLegacy(_ context.Context) ([]*domain.PriceBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceBucket
	for _, b := range s.legacy {
		bCopy := *b
		result = append(result, &bCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].BucketMs < result[j].BucketMs
	})

	return result, nil
}

var _ storage.PriceBucketStore = (*PriceBucketStore)(nil)
