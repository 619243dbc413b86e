package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chainflow/internal/backfill"
	"chainflow/internal/config"
	"chainflow/internal/domain"
	"chainflow/internal/marketdata"
	"chainflow/internal/materialize"
	"chainflow/internal/metrics"
	"chainflow/internal/storage/clickhouse"
	"chainflow/internal/storage/migrations"
	pgstore "chainflow/internal/storage/postgres"
)

func main() {
	days := flag.Int("days", 7, "How many days back to backfill")
	chains := flag.String("chains", "eth,btc", "Comma-separated chains to backfill")
	chunkMinutes := flag.Int("chunk-minutes", 60, "Backfill chunk size in minutes")
	materializeOnly := flag.Bool("materialize-only", false, "Skip fetching; recompute buckets and metrics from the stored ledger")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (overrides POSTGRES_DSN)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse DSN for metric export (overrides CLICKHOUSE_DSN, empty disables)")

	flag.Parse()

	logger := log.New(os.Stdout, "[backfill] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}
	if *postgresDSN != "" {
		cfg.Postgres.DSN = *postgresDSN
	}
	if *clickhouseDSN != "" {
		cfg.ClickHouse.DSN = *clickhouseDSN
	}
	if err := cfg.ValidateBackfill(); err != nil {
		logger.Fatalf("Config: %v", err)
	}

	chainList := splitChains(*chains)
	if len(chainList) == 0 {
		logger.Fatal("No chains specified")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, cfg, chainList, *days, *chunkMinutes, *materializeOnly); err != nil {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Backfill complete")
}

func run(ctx context.Context, logger *log.Logger, cfg *config.Config, chains []string, days, chunkMinutes int, materializeOnly bool) error {
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

	if !materializeOnly {
		client := marketdata.NewClient(
			marketdata.WithBaseURL(cfg.MarketData.BaseURL),
			marketdata.WithLogger(logger),
		)
		engine := backfill.NewEngine(client, tradeStore,
			backfill.WithChunkSize(time.Duration(chunkMinutes)*time.Minute),
			backfill.WithLogger(logger),
		)

		toMs := time.Now().UnixMilli()
		fromMs := toMs - int64(days)*24*60*60*1000

		for _, chain := range chains {
			result, err := engine.Run(ctx, chain, fromMs, toMs)
			if err != nil {
				return fmt.Errorf("backfill %s: %w", chain, err)
			}
			logger.Printf("chain=%s chunks=%d fetched=%d inserted=%d covered=%v",
				result.Chain, result.Chunks, result.Fetched, result.Inserted, result.Covered)
		}
	}

	estimator := materialize.NewThresholdEstimator(tradeStore, thresholdStore,
		materialize.WithEstimatorLogger(logger))
	materializer := materialize.NewMaterializer(tradeStore, transferStore, thresholdStore, flowStore, priceStore,
		materialize.WithMaterializerLogger(logger))

	for _, chain := range chains {
		if _, err := estimator.Estimate(ctx, chain); err != nil {
			logger.Printf("chain=%s threshold estimate skipped: %v", chain, err)
		}
		if err := materializer.Recompute(ctx, chain); err != nil {
			return fmt.Errorf("materialize %s: %w", chain, err)
		}
	}

	if cfg.ClickHouse.DSN != "" {
		if err := exportMetrics(ctx, logger, cfg.ClickHouse.DSN, flowStore, priceStore, chains); err != nil {
			return fmt.Errorf("export metrics: %w", err)
		}
	}

	return nil
}

// exportMetrics writes the derived rolling series to ClickHouse.
func exportMetrics(ctx context.Context, logger *log.Logger, dsn string, flows *pgstore.FlowBucketStore, prices *pgstore.PriceBucketStore, chains []string) error {
	conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
	if err != nil {
		return fmt.Errorf("run clickhouse migrations: %w", err)
	}
	defer conn.Close()

	engine := metrics.NewEngine(flows, prices, clickhouse.NewMetricSeriesStore(conn),
		metrics.WithEngineLogger(logger))

	for _, chain := range chains {
		n, err := engine.Export(ctx, chain)
		if err != nil {
			return fmt.Errorf("export %s: %w", chain, err)
		}
		logger.Printf("chain=%s metric points exported: %d", chain, n)
	}

	return nil
}

func splitChains(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		c = strings.TrimSpace(strings.ToLower(c))
		if c == "" {
			continue
		}
		if !domain.ValidChain(c) {
			log.Fatalf("Unknown chain: %s", c)
		}
		out = append(out, c)
	}
	return out
}
