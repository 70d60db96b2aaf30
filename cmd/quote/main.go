// Command quote computes a one-shot swap quote against the best live pool.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"solana-amm-client/internal/config"
	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/ledger"
	"solana-amm-client/internal/pool"
	"solana-amm-client/internal/quote"
)

func main() {
	cfgFile := pflag.String("config", "", "Path to config file")
	inputMint := pflag.String("input-mint", "", "Mint of the token being sold")
	outputMint := pflag.String("output-mint", "", "Mint of the token being bought")
	amountIn := pflag.Uint64("amount-in", 0, "Input amount in raw units")
	slippageBps := pflag.Uint16("slippage-bps", 50, "Slippage tolerance in basis points")
	pflag.String("rpc-endpoint", "", "Ledger RPC HTTP endpoint")
	pflag.String("amm-program-id", "", "AMM program ID to discover pools under")
	pflag.String("log-level", "info", "Log level: debug, info, warn, error")
	pflag.Parse()

	cfg, err := config.Load(*cfgFile, pflag.CommandLine)
	if err != nil {
		fatal("config: %v", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fatal("logger: %v", err)
	}
	defer logger.Sync()

	if *inputMint == "" || *outputMint == "" || *amountIn == 0 {
		fatal("usage: quote --input-mint <mint> --output-mint <mint> --amount-in <units>")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gw := ledger.NewHTTPClient(cfg.RPCEndpoint)
	registry := pool.NewRegistry(gw, cfg.AMMProgramID, logger,
		pool.WithCacheTTL(cfg.PoolCacheTTL),
		pool.WithMaxScanAccounts(cfg.MaxScanAccounts))
	engine := quote.NewEngine(registry, logger, quote.WithMaxPoolAge(cfg.MaxPoolAge))

	q, err := engine.GetQuoteWithValidation(ctx, &domain.TradeParams{
		InputMint:   *inputMint,
		OutputMint:  *outputMint,
		AmountIn:    *amountIn,
		SlippageBps: *slippageBps,
	})
	if err != nil {
		fatal("quote: %v", err)
	}

	fmt.Printf("pool:           %s\n", q.Pool)
	fmt.Printf("amount out:     %d\n", q.AmountOut)
	fmt.Printf("min amount out: %d (slippage %d bps)\n", q.MinAmountOut, *slippageBps)
	fmt.Printf("fee:            %d\n", q.FeeAmount)
	fmt.Printf("price impact:   %.4f%%\n", q.PriceImpact*100)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	return cfg.Build()
}
