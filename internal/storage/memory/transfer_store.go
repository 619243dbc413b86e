package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"chainflow/internal/domain"
	"chainflow/internal/storage"
)

// TransferStore is an in-memory implementation of storage.TransferStore.
type TransferStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Transfer // keyed by (chain, txid)
}

// NewTransferStore creates a new in-memory transfer store.
func NewTransferStore() *TransferStore {
	return &TransferStore{
		data: make(map[string]*domain.Transfer),
	}
}

// transferKey generates a unique key for a transfer.
func transferKey(chain, txID string) string {
	return fmt.Sprintf("%s|%s", chain, txID)
}

// InsertBatch adds transfers with insert-or-ignore dedup on (chain, txid).
func (s *TransferStore) InsertBatch(_ context.Context, transfers []*domain.Transfer) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, tr := range transfers {
		if tr == nil || tr.Chain == "" || tr.TxID == "" {
			return 0, storage.ErrInvalidInput
		}
		key := transferKey(tr.Chain, tr.TxID)
		if _, exists := s.data[key]; exists {
			continue
		}
		trCopy := *tr
		s.data[key] = &trCopy
		inserted++
	}

	return inserted, nil
}

// GetByChain retrieves all transfers for a chain ordered by (event_time, txid).
func (s *TransferStore) GetByChain(_ context.Context, chain string) ([]*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Transfer
	for _, tr := range s.data {
		if tr.Chain == chain {
			trCopy := *tr
			result = append(result, &trCopy)
		}
	}

	sortTransfers(result)
	return result, nil
}

// GetByBucketRange retrieves transfers with bucket_ms in [fromMs, toMs].
func (s *TransferStore) GetByBucketRange(_ context.Context, chain string, fromMs, toMs int64) ([]*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Transfer
	for _, tr := range s.data {
		if tr.Chain == chain && tr.BucketMs >= fromMs && tr.BucketMs <= toMs {
			trCopy := *tr
			result = append(result, &trCopy)
		}
	}

	sortTransfers(result)
	return result, nil
}

// CountByChain returns the number of stored transfers for a chain.
func (s *TransferStore) CountByChain(_ context.Context, chain string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, tr := range s.data {
		if tr.Chain == chain {
			count++
		}
	}
	return count, nil
}

func sortTransfers(transfers []*domain.Transfer) {
	sort.Slice(transfers, func(i, j int) bool {
		if transfers[i].EventTimeMs != transfers[j].EventTimeMs {
			return transfers[i].EventTimeMs < transfers[j].EventTimeMs
		}
		return transfers[i].TxID < transfers[j].TxID
	})
}

var _ storage.TransferStore = (*TransferStore)(nil)
