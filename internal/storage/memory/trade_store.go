package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"chainflow/internal/domain"
	"chainflow/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore. It also
// holds backfill checkpoints so CommitChunk can write both under one lock,
// mirroring the single-transaction guarantee of the PostgreSQL backend.
type TradeStore struct {
	mu          sync.RWMutex
	trades      map[string]*domain.Trade      // keyed by (chain, trade_id)
	checkpoints map[string]*domain.Checkpoint // keyed by (chain, dataset)
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		trades:      make(map[string]*domain.Trade),
		checkpoints: make(map[string]*domain.Checkpoint),
	}
}

// tradeKey generates a unique key for a trade.
func tradeKey(chain string, tradeID int64) string {
	return fmt.Sprintf("%s|%d", chain, tradeID)
}

// checkpointKey generates a unique key for a checkpoint.
func checkpointKey(chain, dataset string) string {
	return fmt.Sprintf("%s|%s", chain, dataset)
}

// InsertBatch adds trades with insert-or-ignore dedup on (chain, trade_id).
func (s *TradeStore) InsertBatch(_ context.Context, trades []*domain.Trade) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertLocked(trades)
}

// CommitChunk inserts trades and advances the checkpoint under one lock.
func (s *TradeStore) CommitChunk(_ context.Context, trades []*domain.Trade, cp *domain.Checkpoint) (int, error) {
	if cp == nil {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted, err := s.insertLocked(trades)
	if err != nil {
		return 0, err
	}

	key := checkpointKey(cp.Chain, cp.Dataset)
	cursor := cp.CursorMs
	// Keep the cursor monotonic even if a stale run commits late.
	if existing, ok := s.checkpoints[key]; ok && existing.CursorMs > cursor {
		cursor = existing.CursorMs
	}
	s.checkpoints[key] = &domain.Checkpoint{
		Chain:       cp.Chain,
		Dataset:     cp.Dataset,
		CursorMs:    cursor,
		UpdatedAtMs: cp.UpdatedAtMs,
	}

	return inserted, nil
}

// insertLocked performs the dedup insert. Caller must hold s.mu.
func (s *TradeStore) insertLocked(trades []*domain.Trade) (int, error) {
	inserted := 0
	for _, t := range trades {
		if t == nil || t.Chain == "" {
			return 0, storage.ErrInvalidInput
		}
		key := tradeKey(t.Chain, t.TradeID)
		if _, exists := s.trades[key]; exists {
			continue
		}
		tradeCopy := *t
		s.trades[key] = &tradeCopy
		inserted++
	}
	return inserted, nil
}

// GetCheckpoint retrieves the backfill cursor for (chain, dataset).
func (s *TradeStore) GetCheckpoint(_ context.Context, chain, dataset string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[checkpointKey(chain, dataset)]
	if !ok {
		return nil, storage.ErrNotFound
	}

	cpCopy := *cp
	return &cpCopy, nil
}

// GetByChain retrieves all trades for a chain ordered by (event_time, trade_id).
func (s *TradeStore) GetByChain(_ context.Context, chain string) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, t := range s.trades {
		if t.Chain == chain {
			tradeCopy := *t
			result = append(result, &tradeCopy)
		}
	}

	sortTrades(result)
	return result, nil
}

// GetByBucketRange retrieves trades with bucket_ms in [fromMs, toMs].
func (s *TradeStore) GetByBucketRange(_ context.Context, chain string, fromMs, toMs int64) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, t := range s.trades {
		if t.Chain == chain && t.BucketMs >= fromMs && t.BucketMs <= toMs {
			tradeCopy := *t
			result = append(result, &tradeCopy)
		}
	}

	sortTrades(result)
	return result, nil
}

// CountByChain returns the number of stored trades for a chain.
func (s *TradeStore) CountByChain(_ context.Context, chain string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, t := range s.trades {
		if t.Chain == chain {
			count++
		}
	}
	return count, nil
}

func sortTrades(trades []*domain.Trade) {
	sort.Slice(trades, func(i, j int) bool {
		if trades[i].EventTimeMs != trades[j].EventTimeMs {
			return trades[i].EventTimeMs < trades[j].EventTimeMs
		}
		return trades[i].TradeID < trades[j].TradeID
	})
}

var _ storage.TradeStore = (*TradeStore)(nil)
