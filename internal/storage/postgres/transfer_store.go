package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"chainflow/internal/domain"
	"chainflow/internal/storage"
)

// TransferStore implements storage.TransferStore using PostgreSQL.
type TransferStore struct {
	pool *Pool
}

// NewTransferStore creates a new TransferStore.
func NewTransferStore(pool *Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransferStore = (*TransferStore)(nil)

// InsertBatch adds transfers with insert-or-ignore dedup on (chain, txid).
func (s *TransferStore) InsertBatch(ctx context.Context, transfers []*domain.Transfer) (int, error) {
	if len(transfers) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO onchain_transfers (
			chain, txid, block_height, event_time_ms, bucket_ms,
			amount, fee, exchange_in, exchange_out
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (chain, txid) DO NOTHING
	`

	inserted := 0
	for _, tr := range transfers {
		tag, err := tx.Exec(ctx, query,
			tr.Chain,
			tr.TxID,
			tr.BlockHeight,
			tr.EventTimeMs,
			tr.BucketMs,
			tr.Amount,
			tr.Fee,
			tr.ExchangeIn,
			tr.ExchangeOut,
		)
		if err != nil {
			return 0, fmt.Errorf("insert transfer: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return inserted, nil
}

// GetByChain retrieves all transfers for a chain ordered by (event_time, txid).
func (s *TransferStore) GetByChain(ctx context.Context, chain string) ([]*domain.Transfer, error) {
	query := `
		SELECT chain, txid, block_height, event_time_ms, bucket_ms,
		       amount, fee, exchange_in, exchange_out
		FROM onchain_transfers
		WHERE chain = $1
		ORDER BY event_time_ms ASC, txid ASC
	`

	rows, err := s.pool.Query(ctx, query, chain)
	if err != nil {
		return nil, fmt.Errorf("get transfers by chain: %w", err)
	}
	defer rows.Close()

	return scanTransfers(rows)
}

// GetByBucketRange retrieves transfers with bucket_ms in [fromMs, toMs].
func (s *TransferStore) GetByBucketRange(ctx context.Context, chain string, fromMs, toMs int64) ([]*domain.Transfer, error) {
	query := `
		SELECT chain, txid, block_height, event_time_ms, bucket_ms,
		       amount, fee, exchange_in, exchange_out
		FROM onchain_transfers
		WHERE chain = $1 AND bucket_ms >= $2 AND bucket_ms <= $3
		ORDER BY event_time_ms ASC, txid ASC
	`

	rows, err := s.pool.Query(ctx, query, chain, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("get transfers by bucket range: %w", err)
	}
	defer rows.Close()

	return scanTransfers(rows)
}

// CountByChain returns the number of stored transfers for a chain.
func (s *TransferStore) CountByChain(ctx context.Context, chain string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM onchain_transfers WHERE chain = $1`, chain).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count transfers: %w", err)
	}
	return count, nil
}

// scanTransfers scans multiple rows into a slice of Transfer.
func scanTransfers(rows pgx.Rows) ([]*domain.Transfer, error) {
	var transfers []*domain.Transfer

	for rows.Next() {
		var tr domain.Transfer

		err := rows.Scan(
			&tr.Chain,
			&tr.TxID,
			&tr.BlockHeight,
			&tr.EventTimeMs,
			&tr.BucketMs,
			&tr.Amount,
			&tr.Fee,
			&tr.ExchangeIn,
			&tr.ExchangeOut,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transfer row: %w", err)
		}

		transfers = append(transfers, &tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}

	return transfers, nil
}
