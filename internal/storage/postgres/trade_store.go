package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"chainflow/internal/domain"
	"chainflow/internal/observability"
	"chainflow/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const insertTradeQuery = `
	INSERT INTO market_trades (
		chain, trade_id, event_time_ms, bucket_ms, price, quantity, is_sell_maker
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (chain, trade_id) DO NOTHING
`

// InsertBatch adds trades with insert-or-ignore dedup on (chain, trade_id).
func (s *TradeStore) InsertBatch(ctx context.Context, trades []*domain.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := insertTrades(ctx, tx, trades)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return inserted, nil
}

// CommitChunk atomically inserts trades and advances the backfill checkpoint.
// The checkpoint row is written in the same transaction as the trades, so a
// failure leaves both untouched and the chunk is refetched on the next run.
func (s *TradeStore) CommitChunk(ctx context.Context, trades []*domain.Trade, cp *domain.Checkpoint) (inserted int, err error) {
	if cp == nil {
		return 0, storage.ErrInvalidInput
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery("postgres", "commit_chunk", time.Since(start).Seconds(), err)
	}()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err = insertTrades(ctx, tx, trades)
	if err != nil {
		return 0, err
	}

	// GREATEST keeps the cursor monotonic even if a stale run commits late.
	_, err = tx.Exec(ctx, `
		INSERT INTO backfill_state (chain, dataset, cursor_ms, updated_at_ms)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain, dataset)
		DO UPDATE SET
			cursor_ms = GREATEST(backfill_state.cursor_ms, EXCLUDED.cursor_ms),
			updated_at_ms = EXCLUDED.updated_at_ms
	`, cp.Chain, cp.Dataset, cp.CursorMs, cp.UpdatedAtMs)
	if err != nil {
		return 0, fmt.Errorf("advance checkpoint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit chunk: %w", err)
	}

	return inserted, nil
}

// insertTrades runs the dedup insert inside tx and counts new rows.
func insertTrades(ctx context.Context, tx pgx.Tx, trades []*domain.Trade) (int, error) {
	inserted := 0
	for _, t := range trades {
		tag, err := tx.Exec(ctx, insertTradeQuery,
			t.Chain,
			t.TradeID,
			t.EventTimeMs,
			t.BucketMs,
			t.Price,
			t.Quantity,
			t.IsSellMaker,
		)
		if err != nil {
			return 0, fmt.Errorf("insert trade: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// GetCheckpoint retrieves the backfill cursor for (chain, dataset).
func (s *TradeStore) GetCheckpoint(ctx context.Context, chain, dataset string) (*domain.Checkpoint, error) {
	query := `
		SELECT chain, dataset, cursor_ms, updated_at_ms
		FROM backfill_state
		WHERE chain = $1 AND dataset = $2
	`

	var cp domain.Checkpoint
	err := s.pool.QueryRow(ctx, query, chain, dataset).Scan(
		&cp.Chain, &cp.Dataset, &cp.CursorMs, &cp.UpdatedAtMs,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	return &cp, nil
}

// GetByChain retrieves all trades for a chain ordered by (event_time, trade_id).
func (s *TradeStore) GetByChain(ctx context.Context, chain string) ([]*domain.Trade, error) {
	query := `
		SELECT chain, trade_id, event_time_ms, bucket_ms, price, quantity, is_sell_maker
		FROM market_trades
		WHERE chain = $1
		ORDER BY event_time_ms ASC, trade_id ASC
	`

	rows, err := s.pool.Query(ctx, query, chain)
	if err != nil {
		return nil, fmt.Errorf("get trades by chain: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// GetByBucketRange retrieves trades with bucket_ms in [fromMs, toMs].
func (s *TradeStore) GetByBucketRange(ctx context.Context, chain string, fromMs, toMs int64) ([]*domain.Trade, error) {
	query := `
		SELECT chain, trade_id, event_time_ms, bucket_ms, price, quantity, is_sell_maker
		FROM market_trades
		WHERE chain = $1 AND bucket_ms >= $2 AND bucket_ms <= $3
		ORDER BY event_time_ms ASC, trade_id ASC
	`

	rows, err := s.pool.Query(ctx, query, chain, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("get trades by bucket range: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// CountByChain returns the number of stored trades for a chain.
func (s *TradeStore) CountByChain(ctx context.Context, chain string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM market_trades WHERE chain = $1`, chain).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return count, nil
}

// scanTrades scans multiple rows into a slice of Trade.
func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for rows.Next() {
		var t domain.Trade

		err := rows.Scan(
			&t.Chain,
			&t.TradeID,
			&t.EventTimeMs,
			&t.BucketMs,
			&t.Price,
			&t.Quantity,
			&t.IsSellMaker,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}

		trades = append(trades, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}
