// Package main runs the volume tracking service: periodic current-volume
// refreshes plus an HTTP surface for current/historical volume, health
// and Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"exchange-volume-tracker/internal/aggregation"
	"exchange-volume-tracker/internal/cache"
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
	"exchange-volume-tracker/internal/observability"
	"exchange-volume-tracker/internal/pricing"
	"exchange-volume-tracker/internal/ratelimit"
	"exchange-volume-tracker/internal/storage"
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
	// .env is optional; system env vars win either way.
	_ = godotenv.Load()

	configPath := flag.String("config", "config/config.yaml", "Path to YAML configuration")
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
	entry := log.WithComponent("volumed")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limiter := ratelimit.NewRegistry()
	for name, ex := range cfg.Exchanges {
		if ex.Enabled {
			limiter.Configure(name, ex.RateLimit.RequestsPerSecond, ex.RateLimit.BurstSize)
		}
	}

	connectors, err := buildConnectors(cfg, limiter)
	if err != nil {
		entry.WithError(err).Fatal("failed to build connectors")
	}

	store, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		entry.WithError(err).Fatal("failed to build storage")
	}
	defer cleanup()

	snapCache, cacheCleanup, err := buildCache(ctx, cfg)
	if err != nil {
		entry.WithError(err).Fatal("failed to build cache")
	}
	defer cacheCleanup()

	oracle := buildOracle(cfg, limiter)

	svc := aggregation.NewService(aggregation.Options{
		Connectors:      connectors,
		Credentials:     credentials.NewEnv(),
		Normalizer:      normalize.New(oracle),
		Store:           store,
		Cache:           snapCache,
		Window:          cfg.Refresh.Window,
		CacheTTL:        cfg.Refresh.CacheTTL,
		ExchangeTimeout: cfg.Refresh.ExchangeTimeout,
	})

	addr := cfg.Metrics.Addr
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{Addr: addr, Handler: buildMux(cfg, svc)}
	go func() {
		entry.WithFields(logger.Fields{"addr": addr}).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			entry.WithError(err).Error("http server stopped")
			stop()
		}
	}()

	entry.WithFields(logger.Fields{
		"exchanges": cfg.EnabledExchanges(),
		"interval":  cfg.Refresh.Interval.String(),
		"window":    cfg.Refresh.Window.String(),
	}).Info("volume tracker started")

	runRefreshLoop(ctx, svc, cfg.Refresh.Interval, entry)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		entry.WithError(err).Warn("http shutdown incomplete")
	}
	entry.Info("shutdown complete")
}

// runRefreshLoop refreshes the snapshot immediately and then on every
// tick until the context is cancelled. The service core holds no
// timers; this loop is the only scheduler.
func runRefreshLoop(ctx context.Context, svc *aggregation.Service, interval time.Duration, entry *logger.Entry) {
	refresh := func() {
		if _, err := svc.Refresh(ctx); err != nil {
			entry.WithError(err).Error("snapshot refresh failed")
		}
	}
	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

func buildConnectors(cfg *config.Config, limiter *ratelimit.Registry) ([]connector.Connector, error) {
	var connectors []connector.Connector
	for _, name := range cfg.EnabledExchanges() {
		ex := cfg.Exchanges[name]
		baseURL := ex.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURLs[name]
		}
		if baseURL == "" {
			return nil, fmt.Errorf("exchange %q has no base url", name)
		}
		client := connector.NewClient(name, baseURL, limiter)

		switch name {
		case woox.Name:
			connectors = append(connectors, woox.New(client, ex.Markets))
		case paradex.Name:
			connectors = append(connectors, paradex.New(client, ex.Markets))
		case bybit.Name:
			connectors = append(connectors, bybit.New(client, ex.Markets))
		case hyperliquid.Name:
			connectors = append(connectors, hyperliquid.New(client, ex.Markets))
		default:
			return nil, fmt.Errorf("unknown exchange %q", name)
		}
	}
	return connectors, nil
}

func buildStore(ctx context.Context, cfg *config.Config) (storage.HistoricalStore, func(), error) {
	switch cfg.Storage.Driver {
	case "memory":
		return memory.NewHistoricalStore(), func() {}, nil
	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pgstore.NewDailyVolumeStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("storage driver %q is not supported", cfg.Storage.Driver)
	}
}

func buildCache(ctx context.Context, cfg *config.Config) (cache.Cache, func(), error) {
	switch cfg.Cache.Backend {
	case "redis":
		r, err := cache.NewRedis(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	default:
		return cache.NewMemory(), func() {}, nil
	}
}

func buildOracle(cfg *config.Config, limiter *ratelimit.Registry) pricing.Oracle {
	baseURL := cfg.Pricing.BaseURL
	if baseURL == "" {
		baseURL = pricing.DefaultCoinGeckoURL
	}
	client := connector.NewClient("coingecko", baseURL, limiter)

	var opts []pricing.CoinGeckoOption
	if cfg.Pricing.CacheTTL > 0 {
		opts = append(opts, pricing.WithCacheTTL(cfg.Pricing.CacheTTL))
	}
	return pricing.NewCoinGecko(client, opts...)
}

func buildMux(cfg *config.Config, svc *aggregation.Service) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", observability.Handler())
	}

	mux.HandleFunc("/volume/current", func(w http.ResponseWriter, r *http.Request) {
		snap, err := svc.CurrentVolume(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, snap)
	})

	mux.HandleFunc("/volume/history", handleHistory(svc))

	return mux
}

func handleHistory(svc *aggregation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		start, err := domain.ParseDay(q.Get("start"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		end, err := domain.ParseDay(q.Get("end"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		granularity, err := domain.ParseGranularity(q.Get("granularity"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		points, err := svc.HistoricalVolume(r.Context(), start, end, granularity)
		if err != nil {
			if errors.Is(err, storage.ErrInvalidInput) {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, points)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Get().WithComponent("volumed").WithError(err).Warn("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
