package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"chainflow/internal/domain"
	"chainflow/internal/storage"
)

// MetricSeriesStore is an in-memory implementation of storage.MetricSeriesStore.
type MetricSeriesStore struct {
	mu   sync.RWMutex
	data map[string]*domain.MetricPoint // keyed by (chain, metric, window, timestamp_ms)
}

// NewMetricSeriesStore creates a new in-memory metric series store.
func NewMetricSeriesStore() *MetricSeriesStore {
	return &MetricSeriesStore{
		data: make(map[string]*domain.MetricPoint),
	}
}

// metricKey generates a unique key for a metric point.
func metricKey(p *domain.MetricPoint) string {
	return fmt.Sprintf("%s|%s|%d|%d", p.Chain, p.Metric, p.Window, p.TimestampMs)
}

// InsertBatch appends points; re-exported points replace previous values.
func (s *MetricSeriesStore) InsertBatch(_ context.Context, points []*domain.MetricPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		if p == nil || p.Chain == "" || p.Metric == "" {
			return storage.ErrInvalidInput
		}
		pCopy := *p
		s.data[metricKey(p)] = &pCopy
	}

	return nil
}

// GetByChainMetric retrieves points for (chain, metric) ordered by timestamp.
// Used by tests.
func (s *MetricSeriesStore) GetByChainMetric(_ context.Context, chain, metric string) ([]*domain.MetricPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MetricPoint
	for _, p := range s.data {
		if p.Chain == chain && p.Metric == metric {
			pCopy := *p
			result = append(result, &pCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

var _ storage.MetricSeriesStore = (*MetricSeriesStore)(nil)
