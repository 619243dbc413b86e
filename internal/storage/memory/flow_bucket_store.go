package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"chainflow/internal/domain"
	"chainflow/internal/storage"
)

// FlowBucketStore is an in-memory implementation of storage.FlowBucketStore.
type FlowBucketStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FlowBucket // keyed by (chain, bucket_ms)
}

// NewFlowBucketStore creates a new in-memory flow bucket store.
func NewFlowBucketStore() *FlowBucketStore {
	return &FlowBucketStore{
		data: make(map[string]*domain.FlowBucket),
	}
}

// bucketKey generates a unique key for a bucket row.
func bucketKey(chain string, bucketMs int64) string {
	return fmt.Sprintf("%s|%d", chain, bucketMs)
}

// ReplaceBatch upserts bucket rows, fully replacing existing values.
func (s *FlowBucketStore) ReplaceBatch(_ context.Context, buckets []*domain.FlowBucket) error {
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
func (s *FlowBucketStore) GetByChain(_ context.Context, chain string) ([]*domain.FlowBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FlowBucket
	for _, b := range s.data {
		if b.Chain == chain {
			bCopy := *b
			result = append(result, &bCopy)
		}
	}

	sortFlowBuckets(result)
	return result, nil
}

// GetByRange retrieves buckets with bucket_ms in [fromMs, toMs].
func (s *FlowBucketStore) GetByRange(_ context.Context, chain string, fromMs, toMs int64) ([]*domain.FlowBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FlowBucket
	for _, b := range s.data {
		if b.Chain == chain && b.BucketMs >= fromMs && b.BucketMs <= toMs {
			bCopy := *b
			result = append(result, &bCopy)
		}
	}

	sortFlowBuckets(result)
	return result, nil
}

func sortFlowBuckets(buckets []*domain.FlowBucket) {
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].BucketMs < buckets[j].BucketMs
	})
}

var _ storage.FlowBucketStore = (*FlowBucketStore)(nil)
