package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"chainflow/internal/btcrpc"
	"chainflow/internal/config"
	"chainflow/internal/domain"
	"chainflow/internal/ethrpc"
	"chainflow/internal/exchanges"
	"chainflow/internal/marketdata"
	"chainflow/internal/materialize"
	"chainflow/internal/observability"
	"chainflow/internal/poller"
	"chainflow/internal/storage"
	"chainflow/internal/storage/migrations"
	pgstore "chainflow/internal/storage/postgres"
)

// streamFlushInterval batches live stream trades before persisting and
// recomputing, so a recompute covers many trades instead of one.
const streamFlushInterval = 2 * time.Second

func main() {
	enableStream := flag.Bool("enable-stream", true, "Consume the live market-trade websocket feed")
	metricsAddr := flag.String("metrics-addr", "", "Metrics/health HTTP address (overrides HTTP_LISTEN_ADDR, empty uses config)")

	flag.Parse()

	logger := log.New(os.Stdout, "[ingest] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}
	if *metricsAddr != "" {
		cfg.HTTP.ListenAddr = *metricsAddr
	}
	if err := cfg.ValidateIngest(); err != nil {
		logger.Fatalf("Config: %v", err)
	}

	registry, err := exchanges.Load(cfg.Chains.ExchangeFile)
	if err != nil {
		logger.Fatalf("Load exchange registry: %v", err)
	}
	logger.Printf("Exchange registry loaded: eth=%d btc=%d addresses",
		registry.Size(domain.ChainEth), registry.Size(domain.ChainBtc))

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, logger, cfg, registry, *enableStream)

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

func run(ctx context.Context, logger *log.Logger, cfg *config.Config, registry *exchanges.Registry, enableStream bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	tradeStore := pgstore.NewTradeStore(pool)
	transferStore := pgstore.NewTransferStore(pool)
	thresholdStore := pgstore.NewThresholdStore(pool)
	flowStore := pgstore.NewFlowBucketStore(pool)
	priceStore := pgstore.NewPriceBucketStore(pool)

	materializer := materialize.NewMaterializer(tradeStore, transferStore, thresholdStore, flowStore, priceStore,
		materialize.WithMaterializerLogger(logger))

	startMetricsServer(logger, cfg.HTTP.ListenAddr)

	sources := []poller.Source{
		poller.NewEthSource(ethrpc.NewClient(cfg.Chains.EthRPCURL), registry),
		poller.NewBtcSource(btcrpc.NewClient(cfg.Chains.BtcRPCURL), registry),
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(sources)+len(domain.Chains()))

	for _, source := range sources {
		p := poller.New(source, transferStore, materializer,
			poller.WithInterval(cfg.Chains.PollInterval),
			poller.WithErrorBackoff(cfg.Chains.ErrorBackoff),
			poller.WithLogger(logger),
		)
		wg.Add(1)
		go func(p *poller.Poller, chain string) {
			defer wg.Done()
			logger.Printf("chain=%s poller starting", chain)
			if err := p.Run(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("poller %s: %w", chain, err)
			}
		}(p, source.Chain())
	}

	if enableStream {
		for _, chain := range domain.Chains() {
			stream, err := marketdata.NewTradeStream(ctx, cfg.MarketData.StreamURL, chain, nil, logger)
			if err != nil {
				cancel()
				wg.Wait()
				return fmt.Errorf("open trade stream %s: %w", chain, err)
			}

			wg.Add(1)
			go func(chain string, stream *marketdata.TradeStream) {
				defer wg.Done()
				defer stream.Close()
				logger.Printf("chain=%s trade stream starting", chain)
				consumeStream(ctx, logger, chain, stream, tradeStore, materializer)
			}(chain, stream)
		}
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
	}
	return ctx.Err()
}

// consumeStream batches live trades and persists them on a flush tick,
// triggering a narrow recompute of the touched buckets.
func consumeStream(ctx context.Context, logger *log.Logger, chain string, stream *marketdata.TradeStream, trades storage.TradeStore, materializer *materialize.Materializer) {
	ticker := time.NewTicker(streamFlushInterval)
	defer ticker.Stop()

	var pending []*domain.Trade

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil

		inserted, err := trades.InsertBatch(ctx, batch)
		if err != nil {
			logger.Printf("chain=%s stream insert failed, dropping batch of %d: %v", chain, len(batch), err)
			return
		}

		fromMs, toMs := batch[0].BucketMs, batch[0].BucketMs
		for _, t := range batch[1:] {
			if t.BucketMs < fromMs {
				fromMs = t.BucketMs
			}
			if t.BucketMs > toMs {
				toMs = t.BucketMs
			}
		}
		if err := materializer.RecomputeRange(ctx, chain, fromMs, toMs); err != nil {
			logger.Printf("chain=%s stream recompute failed: %v", chain, err)
			return
		}

		observability.RecordStreamTrades(chain, inserted)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case t, ok := <-stream.Trades():
			if !ok {
				flush()
				return
			}
			pending = append(pending, t)
		case <-ticker.C:
			flush()
		}
	}
}

func startMetricsServer(logger *log.Logger, addr string) {
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		logger.Printf("Starting metrics server on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.Printf("Metrics server error: %v", err)
		}
	}()
}
