// Command pricewatch streams live secure prices for a set of token mints.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"solana-amm-client/internal/config"
	"solana-amm-client/internal/events"
	"solana-amm-client/internal/ledger"
	"solana-amm-client/internal/observability"
	"solana-amm-client/internal/pool"
	"solana-amm-client/internal/pricing"
	"solana-amm-client/internal/storage"
	chstore "solana-amm-client/internal/storage/clickhouse"
	"solana-amm-client/internal/storage/memory"
	"solana-amm-client/internal/storage/migrations"
)

func main() {
	cfgFile := pflag.String("config", "", "Path to config file")
	mints := pflag.StringSlice("mints", nil, "Token mints to watch")
	pflag.String("rpc-endpoint", "", "Ledger RPC HTTP endpoint")
	pflag.String("ws-endpoint", "", "Ledger WebSocket endpoint")
	pflag.String("amm-program-id", "", "AMM program ID to discover pools under")
	pflag.String("clickhouse-dsn", "", "ClickHouse DSN for price history (empty for in-memory)")
	pflag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	pflag.String("log-level", "info", "Log level: debug, info, warn, error")
	pflag.Parse()

	cfg, err := config.Load(*cfgFile, pflag.CommandLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if len(*mints) == 0 {
		logger.Fatal("no mints specified, use --mints")
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	gw := ledger.NewHTTPClient(cfg.RPCEndpoint)
	registry := pool.NewRegistry(gw, cfg.AMMProgramID, logger,
		pool.WithCacheTTL(cfg.PoolCacheTTL),
		pool.WithMaxScanAccounts(cfg.MaxScanAccounts))
	aggregator := pricing.NewAggregator(registry, logger,
		pricing.WithMinLiquidity(cfg.MinLiquidity),
		pricing.WithOutlierTolerance(cfg.OutlierTolerance))

	streamCfg := ledger.DefaultStreamConfig()
	streamCfg.ReconnectDelay = cfg.ReconnectDelay
	streamCfg.MaxReconnectAttempts = cfg.ReconnectAttempts
	stream, err := ledger.NewAccountStream(ctx, cfg.WSEndpoint, &streamCfg, logger)
	if err != nil {
		logger.Fatal("connect stream", zap.Error(err))
	}
	defer stream.Close()

	samples, cleanup, err := openSampleStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open sample store", zap.Error(err))
	}
	defer cleanup()

	bus := events.NewBus(events.StreamWatcher{Stream: stream}, registry, aggregator, logger,
		events.WithReconnectPolicy(cfg.ReconnectDelay, 0, cfg.ReconnectAttempts),
		events.WithSampleStore(samples))
	defer bus.Close()

	var wg sync.WaitGroup
	for _, mint := range *mints {
		receiver, err := bus.Subscribe(ctx, mint)
		if err != nil {
			logger.Fatal("subscribe", zap.String("mint", mint), zap.Error(err))
		}

		wg.Add(1)
		go func(mint string) {
			defer wg.Done()
			watch(mint, receiver, logger)
		}(mint)
	}

	logger.Info("watching", zap.Strings("mints", *mints))
	<-ctx.Done()
	bus.Close()
	wg.Wait()
}

// watch logs every published price until the receiver closes.
func watch(mint string, r *events.Receiver, logger *zap.Logger) {
	for price := range r.C {
		logger.Info("price",
			zap.String("mint", mint),
			zap.Float64("sol", price.SolPrice),
			zap.Float64("usd", price.USDPrice),
			zap.Bool("usd_quoted", price.USDQuoted),
			zap.Uint64("liquidity", price.Liquidity),
			zap.Int64("ts", price.Timestamp))
	}
	logger.Warn("price feed closed", zap.String("mint", mint))
}

// openSampleStore opens the ClickHouse history store, falling back to memory
// when no DSN is configured.
func openSampleStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.PriceSampleStore, func(), error) {
	if cfg.ClickhouseDSN == "" {
		logger.Info("no clickhouse-dsn configured, keeping price history in memory")
		return memory.NewPriceSampleStore(), func() {}, nil
	}

	conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return chstore.NewPriceSampleStore(conn), func() { conn.Close() }, nil
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	logger.Info("metrics server listening", zap.String("addr", addr))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	return cfg.Build()
}
