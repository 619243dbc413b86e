package poller

import (
	"context"
	"log"
	"time"

	"chainflow/internal/domain"
	"chainflow/internal/observability"
	"chainflow/internal/storage"
)

// Default loop timing.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultErrorBackoff = 3 * time.Second
)

// Source produces classified transfers for one chain's new blocks.
type Source interface {
	// Chain returns the chain this source serves.
	Chain() string

	// LatestHeight returns the current chain tip height.
	LatestHeight(ctx context.Context) (int64, error)

	// FetchTransfers returns transfers for blocks in [fromHeight, toHeight].
	FetchTransfers(ctx context.Context, fromHeight, toHeight int64) ([]*domain.Transfer, error)
}

// Recomputer rebuilds derived buckets for a bucket-time range. The poller
// calls it after persisting new transfers so the materialized rows always
// reflect the full ledger.
type Recomputer interface {
	RecomputeRange(ctx context.Context, chain string, fromMs, toMs int64) error
}

// Poller tails one chain: on each tick it compares the chain tip against the
// last processed height, ingests the gap, and triggers a narrow recompute of
// the touched buckets. Tick errors never terminate the loop; the cursor only
// advances after a fully successful tick, so a failed range is retried whole.
type Poller struct {
	source     Source
	transfers  storage.TransferStore
	recomputer Recomputer
	interval   time.Duration
	backoff    time.Duration
	logger     *log.Logger

	lastHeight int64
}

// Option configures Poller.
type Option func(*Poller)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		p.interval = d
	}
}

// WithErrorBackoff sets the wait after a failed tick.
func WithErrorBackoff(d time.Duration) Option {
	return func(p *Poller) {
		p.backoff = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

// New creates a poller for one chain.
func New(source Source, transfers storage.TransferStore, recomputer Recomputer, opts ...Option) *Poller {
	p := &Poller{
		source:     source,
		transfers:  transfers,
		recomputer: recomputer,
		interval:   DefaultPollInterval,
		backoff:    DefaultErrorBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.Default()
	}
	return p
}

// Run polls until the context is cancelled. The starting cursor is the chain
// tip at startup; history before it belongs to the backfill path.
func (p *Poller) Run(ctx context.Context) error {
	chain := p.source.Chain()

	for {
		height, err := p.source.LatestHeight(ctx)
		if err == nil {
			p.lastHeight = height
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Printf("[poller] chain=%s initial height failed: %v", chain, err)
		if err := sleepCtx(ctx, p.backoff); err != nil {
			return err
		}
	}

	p.logger.Printf("[poller] chain=%s starting at height %d", chain, p.lastHeight)

	for {
		err := p.tick(ctx)
		observability.RecordPollTick(chain, err)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Printf("[poller] chain=%s tick error: %v", chain, err)
			if err := sleepCtx(ctx, p.backoff); err != nil {
				return err
			}
			continue
		}

		observability.DefaultMetrics.LastSuccessfulPoll.Set(float64(time.Now().Unix()))
		if err := sleepCtx(ctx, p.interval); err != nil {
			return err
		}
	}
}

// tick processes all blocks above the cursor, if any.
func (p *Poller) tick(ctx context.Context) error {
	chain := p.source.Chain()

	latest, err := p.source.LatestHeight(ctx)
	if err != nil {
		return err
	}
	if latest <= p.lastHeight {
		return nil
	}

	transfers, err := p.source.FetchTransfers(ctx, p.lastHeight+1, latest)
	if err != nil {
		return err
	}

	if len(transfers) > 0 {
		inserted, err := p.transfers.InsertBatch(ctx, transfers)
		if err != nil {
			return err
		}

		fromMs, toMs := bucketSpan(transfers)
		if err := p.recomputer.RecomputeRange(ctx, chain, fromMs, toMs); err != nil {
			return err
		}

		observability.RecordBlockProcessed(chain, latest, inserted)
		p.logger.Printf("[poller] chain=%s blocks=[%d, %d] transfers=%d inserted=%d buckets=[%d, %d]",
			chain, p.lastHeight+1, latest, len(transfers), inserted, fromMs, toMs)
	} else {
		observability.RecordBlockProcessed(chain, latest, 0)
	}

	p.lastHeight = latest
	return nil
}

// bucketSpan returns the min and max bucket timestamps across transfers.
func bucketSpan(transfers []*domain.Transfer) (int64, int64) {
	fromMs := transfers[0].BucketMs
	toMs := transfers[0].BucketMs
	for _, tr := range transfers[1:] {
		if tr.BucketMs < fromMs {
			fromMs = tr.BucketMs
		}
		if tr.BucketMs > toMs {
			toMs = tr.BucketMs
		}
	}
	return fromMs, toMs
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
