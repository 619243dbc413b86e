package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chainflow/internal/domain"
	"chainflow/internal/storage/memory"
)

// stubChainSource serves scripted heights and transfers.
type stubChainSource struct {
	chain     string
	height    int64
	heightErr error
	transfers map[int64][]*domain.Transfer // keyed by block height
	fetchErr  error
	fetches   [][2]int64
}

func (s *stubChainSource) Chain() string { return s.chain }

func (s *stubChainSource) LatestHeight(context.Context) (int64, error) {
	return s.height, s.heightErr
}

func (s *stubChainSource) FetchTransfers(_ context.Context, fromHeight, toHeight int64) ([]*domain.Transfer, error) {
	s.fetches = append(s.fetches, [2]int64{fromHeight, toHeight})
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []*domain.Transfer
	for h := fromHeight; h <= toHeight; h++ {
		out = append(out, s.transfers[h]...)
	}
	return out, nil
}

// stubRecomputer records requested ranges.
type stubRecomputer struct {
	ranges [][2]int64
	err    error
}

func (r *stubRecomputer) RecomputeRange(_ context.Context, _ string, fromMs, toMs int64) error {
	if r.err != nil {
		return r.err
	}
	r.ranges = append(r.ranges, [2]int64{fromMs, toMs})
	return nil
}

func mkTransfer(txid string, height, timeMs int64, amount float64) *domain.Transfer {
	return &domain.Transfer{
		Chain:       domain.ChainEth,
		TxID:        txid,
		BlockHeight: height,
		EventTimeMs: timeMs,
		BucketMs:    domain.FloorToBucket(timeMs),
		Amount:      amount,
	}
}

func TestTickIngestsNewBlocks(t *testing.T) {
	store := memory.NewTransferStore()
	rec := &stubRecomputer{}
	src := &stubChainSource{
		chain:  domain.ChainEth,
		height: 12,
		transfers: map[int64][]*domain.Transfer{
			11: {mkTransfer("a", 11, 100_000, 1)},
			12: {mkTransfer("b", 12, 400_000, 2)},
		},
	}

	p := New(src, store, rec)
	p.lastHeight = 10

	require.NoError(t, p.tick(context.Background()))
	require.Equal(t, int64(12), p.lastHeight)
	require.Equal(t, [][2]int64{{11, 12}}, src.fetches)

	count, err := store.CountByChain(context.Background(), domain.ChainEth)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	// Recompute covers exactly the touched bucket span
	require.Equal(t, [][2]int64{{domain.FloorToBucket(100_000), domain.FloorToBucket(400_000)}}, rec.ranges)
}

func TestTickNoNewBlocks(t *testing.T) {
	store := memory.NewTransferStore()
	rec := &stubRecomputer{}
	src := &stubChainSource{chain: domain.ChainEth, height: 10}

	p := New(src, store, rec)
	p.lastHeight = 10

	require.NoError(t, p.tick(context.Background()))
	require.Empty(t, src.fetches)
	require.Empty(t, rec.ranges)
}

func TestTickErrorKeepsCursor(t *testing.T) {
	store := memory.NewTransferStore()
	rec := &stubRecomputer{}
	src := &stubChainSource{
		chain:    domain.ChainEth,
		height:   12,
		fetchErr: errors.New("rpc down"),
	}

	p := New(src, store, rec)
	p.lastHeight = 10

	require.Error(t, p.tick(context.Background()))
	require.Equal(t, int64(10), p.lastHeight)

	// Next tick retries the same range
	src.fetchErr = nil
	src.transfers = map[int64][]*domain.Transfer{
		11: {mkTransfer("a", 11, 100_000, 1)},
	}
	require.NoError(t, p.tick(context.Background()))
	require.Equal(t, [][2]int64{{11, 12}, {11, 12}}, src.fetches)
	require.Equal(t, int64(12), p.lastHeight)
}

func TestTickRecomputeErrorKeepsCursor(t *testing.T) {
	store := memory.NewTransferStore()
	rec := &stubRecomputer{err: errors.New("db down")}
	src := &stubChainSource{
		chain:  domain.ChainEth,
		height: 11,
		transfers: map[int64][]*domain.Transfer{
			11: {mkTransfer("a", 11, 100_000, 1)},
		},
	}

	p := New(src, store, rec)
	p.lastHeight = 10

	require.Error(t, p.tick(context.Background()))
	require.Equal(t, int64(10), p.lastHeight)

	// Retry re-inserts (deduped) and recomputes successfully
	rec.err = nil
	require.NoError(t, p.tick(context.Background()))
	require.Equal(t, int64(11), p.lastHeight)

	count, err := store.CountByChain(context.Background(), domain.ChainEth)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := memory.NewTransferStore()
	src := &stubChainSource{chain: domain.ChainEth, height: 5}
	p := New(src, store, &stubRecomputer{}, WithInterval(time.Millisecond), WithErrorBackoff(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
