// Package main backfills historical fills for a date range and, when an
// analytics DSN is configured, mirrors the finished daily records into
// ClickHouse. Exits non-zero if any (exchange, market) pair failed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"exchange-volume-tracker/internal/backfill"
	"exchange-volume-tracker/internal/config"
	"exchange-volume-tracker/internal/connector"
	"exchange-volume-tracker/internal/connector/bybit"
	"exchange-volume-tracker/internal/connector/hyperliquid"
	"exchange-volume-tracker/internal/connector/paradex"
	"exchange-volume-tracker/internal/connector/woox"
	"exchange-volume-tracker/internal/credentials"
	"exchange-volume-tracker/internal/domain"
	"exchange-volume-tracker/internal/logger"
	"exchange-volume-tracker/internal/normalize"
	"exchange-volume-tracker/internal/pricing"
	"exchange-volume-tracker/internal/ratelimit"
	"exchange-volume-tracker/internal/storage"
	chstore "exchange-volume-tracker/internal/storage/clickhouse"
	"exchange-volume-tracker/internal/storage/memory"
	"exchange-volume-tracker/internal/storage/migrations"
	pgstore "exchange-volume-tracker/internal/storage/postgres"
)

var defaultBaseURLs = map[string]string{
	woox.Name:        "https://api.woox.io",
	paradex.Name:     "https://api.prod.paradex.trade",
	bybit.Name:       "https://api.bybit.com",
	hyperliquid.Name: "https://api.hyperliquid.xyz",
}

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config/config.yaml", "Path to YAML configuration")
	startStr := flag.String("start", "", "First day of the window (YYYY-MM-DD, inclusive)")
	endStr := flag.String("end", "", "Last day of the window (YYYY-MM-DD, inclusive)")
	exchanges := flag.String("exchanges", "", "Comma-separated exchange filter (default: all enabled)")
	workers := flag.Int("workers", 0, "Concurrent pair workers (default: from config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Get()
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		fmt.Fprintf(os.Stderr, "configure logging: %v\n", err)
		os.Exit(1)
	}
	entry := log.WithComponent("backfill-cli")

	startDay, endDay, err := parseWindow(*startStr, *endStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limiter := ratelimit.NewRegistry()
	for name, ex := range cfg.Exchanges {
		if ex.Enabled {
			limiter.Configure(name, ex.RateLimit.RequestsPerSecond, ex.RateLimit.BurstSize)
		}
	}

	connectors, err := buildConnectors(cfg, limiter, parseFilter(*exchanges))
	if err != nil {
		entry.WithError(err).Fatal("failed to build connectors")
	}
	if len(connectors) == 0 {
		entry.Fatal("no exchanges selected")
	}

	store, cursors, cleanup, err := buildStores(ctx, cfg)
	if err != nil {
		entry.WithError(err).Fatal("failed to build storage")
	}
	defer cleanup()

	oracleURL := cfg.Pricing.BaseURL
	if oracleURL == "" {
		oracleURL = pricing.DefaultCoinGeckoURL
	}
	oracle := pricing.NewCoinGecko(connector.NewClient("coingecko", oracleURL, limiter))

	workerCount := cfg.Backfill.Workers
	if *workers > 0 {
		workerCount = *workers
	}

	coord := backfill.NewCoordinator(backfill.Options{
		Connectors:  connectors,
		Credentials: credentials.NewEnv(),
		Normalizer:  normalize.New(oracle),
		Store:       store,
		Cursors:     cursors,
		Workers:     workerCount,
	})

	// The end day is inclusive on the CLI; the coordinator window is
	// half-open.
	results, err := coord.Run(ctx, startDay.Time(), endDay.Next().Time())
	if err != nil {
		entry.WithError(err).Fatal("backfill run failed")
	}

	failed := printResults(results)

	if failed == 0 && cfg.Storage.ClickhouseDSN != "" {
		if err := mirrorAnalytics(ctx, cfg.Storage.ClickhouseDSN, store, startDay, endDay); err != nil {
			entry.WithError(err).Error("analytics mirror failed")
			failed++
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func parseWindow(startStr, endStr string) (domain.Day, domain.Day, error) {
	if startStr == "" || endStr == "" {
		return "", "", fmt.Errorf("both -start and -end are required")
	}
	start, err := domain.ParseDay(startStr)
	if err != nil {
		return "", "", err
	}
	end, err := domain.ParseDay(endStr)
	if err != nil {
		return "", "", err
	}
	if end.Before(start) {
		return "", "", fmt.Errorf("-end %s precedes -start %s", end, start)
	}
	return start, end, nil
}

func parseFilter(s string) map[string]bool {
	if s == "" {
		return nil
	}
	filter := make(map[string]bool)
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			filter[name] = true
		}
	}
	return filter
}

func buildConnectors(cfg *config.Config, limiter *ratelimit.Registry, filter map[string]bool) ([]connector.Connector, error) {
	var connectors []connector.Connector
	for _, name := range cfg.EnabledExchanges() {
		if filter != nil && !filter[name] {
			continue
		}
		ex := cfg.Exchanges[name]
		baseURL := ex.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURLs[name]
		}
		if baseURL == "" {
			return nil, fmt.Errorf("exchange %q has no base url", name)
		}
		client := connector.NewClient(name, baseURL, limiter)

		pageOpt := cfg.Backfill.PageSize
		switch name {
		case woox.Name:
			connectors = append(connectors, woox.New(client, ex.Markets, woox.WithPageSize(pageOpt)))
		case paradex.Name:
			connectors = append(connectors, paradex.New(client, ex.Markets, paradex.WithPageSize(pageOpt)))
		case bybit.Name:
			connectors = append(connectors, bybit.New(client, ex.Markets, bybit.WithPageSize(pageOpt)))
		case hyperliquid.Name:
			connectors = append(connectors, hyperliquid.New(client, ex.Markets, hyperliquid.WithPageSize(pageOpt)))
		default:
			return nil, fmt.Errorf("unknown exchange %q", name)
		}
	}
	return connectors, nil
}

func buildStores(ctx context.Context, cfg *config.Config) (storage.HistoricalStore, storage.CursorStore, func(), error) {
	switch cfg.Storage.Driver {
	case "memory":
		return memory.NewHistoricalStore(), memory.NewCursorStore(), func() {}, nil
	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return pgstore.NewDailyVolumeStore(pool), pgstore.NewCursorStore(pool), pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("storage driver %q is not supported", cfg.Storage.Driver)
	}
}

func printResults(results []backfill.Result) int {
	failed := 0
	for _, r := range results {
		pair := r.Exchange
		if r.Market != "" {
			pair += "/" + r.Market
		}
		if r.Err != nil {
			failed++
			fmt.Printf("%-40s %-12s fetched=%d stored=%d skipped=%d error=%v\n",
				pair, r.Status, r.Fetched, r.Stored, r.Skipped, r.Err)
			continue
		}
		fmt.Printf("%-40s %-12s fetched=%d stored=%d duplicates=%d skipped=%d pages=%d\n",
			pair, r.Status, r.Fetched, r.Stored, r.Duplicates, r.Skipped, r.Pages)
	}
	return failed
}

// mirrorAnalytics copies the window's daily records into ClickHouse.
// ReplacingMergeTree keeps the newest row per (exchange, market, day),
// so repeated mirrors of the same window are harmless.
func mirrorAnalytics(ctx context.Context, dsn string, store storage.HistoricalStore, start, end domain.Day) error {
	conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
	if err != nil {
		return fmt.Errorf("clickhouse migrations: %w", err)
	}
	defer conn.Close()

	records, err := store.QueryRange(ctx, start, end)
	if err != nil {
		return fmt.Errorf("read daily records: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	mirror := chstore.NewDailyVolumeStore(conn)
	started := time.Now()
	if err := mirror.InsertDaily(ctx, records); err != nil {
		return fmt.Errorf("mirror %d records: %w", len(records), err)
	}
	logger.Get().WithComponent("backfill-cli").WithFields(logger.Fields{
		"records":  len(records),
		"duration": time.Since(started).String(),
	}).Info("analytics mirror updated")
	return nil
}
