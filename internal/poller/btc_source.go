package poller

import (
	"context"
	"fmt"

	"chainflow/internal/btcrpc"
	"chainflow/internal/domain"
	"chainflow/internal/exchanges"
	"chainflow/internal/observability"
)

// BtcSource reads blocks over the UTXO JSON-RPC interface (block count,
// block hash, then the block with prevout data) and classifies each
// transaction against the exchange registry.
type BtcSource struct {
	client   *btcrpc.Client
	registry *exchanges.Registry
}

// NewBtcSource creates a Bitcoin block source.
func NewBtcSource(client *btcrpc.Client, registry *exchanges.Registry) *BtcSource {
	return &BtcSource{client: client, registry: registry}
}

// Compile-time interface check.
var _ Source = (*BtcSource)(nil)

// Chain returns "btc".
func (s *BtcSource) Chain() string {
	return domain.ChainBtc
}

// LatestHeight returns the chain tip height.
func (s *BtcSource) LatestHeight(ctx context.Context) (int64, error) {
	return s.client.GetBlockCount(ctx)
}

// FetchTransfers converts all transactions in [fromHeight, toHeight] into
// transfer rows. Amount is the total output value; exchange_in sums outputs
// paying a known exchange, exchange_out sums inputs spending from one. The
// fee is inputs minus outputs, and only when every input resolved a prevout
// value, else it stays zero rather than understating the inputs.
func (s *BtcSource) FetchTransfers(ctx context.Context, fromHeight, toHeight int64) ([]*domain.Transfer, error) {
	var transfers []*domain.Transfer

	for h := fromHeight; h <= toHeight; h++ {
		hash, err := s.client.GetBlockHash(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("get block hash %d: %w", h, err)
		}
		block, err := s.client.GetBlock(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("get block %s: %w", hash, err)
		}

		for _, tx := range block.Txs {
			observability.RecordMalformedSubRecords(domain.ChainBtc, "vin", tx.SkippedVins)
			observability.RecordMalformedSubRecords(domain.ChainBtc, "vout", tx.SkippedOuts)

			tr := &domain.Transfer{
				Chain:       domain.ChainBtc,
				TxID:        tx.TxID,
				BlockHeight: h,
				EventTimeMs: block.TimestampMs,
				BucketMs:    domain.FloorToBucket(block.TimestampMs),
			}

			for _, out := range tx.Outs {
				tr.Amount += out.Value
				if s.registry.ContainsAny(domain.ChainBtc, out.Addresses) {
					tr.ExchangeIn += out.Value
				}
			}

			inputsResolved := true
			totalIn := 0.0
			for _, vin := range tx.Vins {
				if vin.Coinbase {
					inputsResolved = false
					continue
				}
				totalIn += vin.Value
				if s.registry.ContainsAny(domain.ChainBtc, vin.Addresses) {
					tr.ExchangeOut += vin.Value
				}
			}
			if tx.SkippedVins > 0 {
				inputsResolved = false
			}
			if inputsResolved && totalIn >= tr.Amount {
				tr.Fee = totalIn - tr.Amount
			}

			transfers = append(transfers, tr)
		}
	}

	return transfers, nil
}
