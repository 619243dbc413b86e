package poller

import (
	"context"
	"fmt"

	"chainflow/internal/domain"
	"chainflow/internal/ethrpc"
	"chainflow/internal/exchanges"
	"chainflow/internal/observability"
)

// EthSource reads execution-layer blocks and classifies each transaction
// against the exchange registry. Every transaction becomes a transfer row;
// whale classification happens later, at materialization time.
type EthSource struct {
	client   *ethrpc.Client
	registry *exchanges.Registry
}

// NewEthSource creates an Ethereum block source.
func NewEthSource(client *ethrpc.Client, registry *exchanges.Registry) *EthSource {
	return &EthSource{client: client, registry: registry}
}

// Compile-time interface check.
var _ Source = (*EthSource)(nil)

// Chain returns "eth".
func (s *EthSource) Chain() string {
	return domain.ChainEth
}

// LatestHeight returns the chain tip height.
func (s *EthSource) LatestHeight(ctx context.Context) (int64, error) {
	return s.client.BlockNumber(ctx)
}

// FetchTransfers converts all transactions in [fromHeight, toHeight] into
// transfer rows with exchange direction amounts.
func (s *EthSource) FetchTransfers(ctx context.Context, fromHeight, toHeight int64) ([]*domain.Transfer, error) {
	var transfers []*domain.Transfer

	for h := fromHeight; h <= toHeight; h++ {
		block, err := s.client.GetBlockByNumber(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("get block %d: %w", h, err)
		}
		observability.RecordMalformedSubRecords(domain.ChainEth, "tx", block.SkippedTxs)

		for _, tx := range block.Txs {
			tr := &domain.Transfer{
				Chain:       domain.ChainEth,
				TxID:        tx.Hash,
				BlockHeight: h,
				EventTimeMs: block.TimestampMs,
				BucketMs:    domain.FloorToBucket(block.TimestampMs),
				Amount:      tx.Value,
			}
			if s.registry.Contains(domain.ChainEth, tx.To) {
				tr.ExchangeIn = tx.Value
			}
			if s.registry.Contains(domain.ChainEth, tx.From) {
				tr.ExchangeOut = tx.Value
			}
			transfers = append(transfers, tr)
		}
	}

	return transfers, nil
}
