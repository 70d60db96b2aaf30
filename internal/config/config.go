// Package config loads runtime configuration from flags, environment
// variables, and an optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	// Ledger endpoints.
	RPCEndpoint  string
	WSEndpoint   string
	AMMProgramID string

	// Storage. Empty DSNs disable the corresponding store.
	PostgresDSN   string
	ClickhouseDSN string

	// Pricing policy.
	MinLiquidity     uint64
	OutlierTolerance float64

	// Quote and execution policy.
	QuoteTTL          time.Duration
	MaxPoolAge        time.Duration
	MaxSubmitAttempts int

	// Discovery policy.
	MaxScanAccounts int
	PoolCacheTTL    time.Duration

	// Streaming policy.
	ReconnectDelay    time.Duration
	ReconnectAttempts int

	MetricsAddr string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AMM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("rpc-endpoint", "https://api.mainnet-beta.solana.com")
	v.SetDefault("ws-endpoint", "wss://api.mainnet-beta.solana.com")
	v.SetDefault("min-liquidity", uint64(1000))
	v.SetDefault("outlier-tolerance", 0.10)
	v.SetDefault("quote-ttl", 5*time.Second)
	v.SetDefault("max-pool-age", 10*time.Second)
	v.SetDefault("max-submit-attempts", 3)
	v.SetDefault("max-scan-accounts", 10000)
	v.SetDefault("pool-cache-ttl", 30*time.Second)
	v.SetDefault("reconnect-delay", 500*time.Millisecond)
	v.SetDefault("reconnect-attempts", 5)
	v.SetDefault("metrics-addr", ":9090")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCEndpoint:       v.GetString("rpc-endpoint"),
		WSEndpoint:        v.GetString("ws-endpoint"),
		AMMProgramID:      v.GetString("amm-program-id"),
		PostgresDSN:       v.GetString("postgres-dsn"),
		ClickhouseDSN:     v.GetString("clickhouse-dsn"),
		MinLiquidity:      v.GetUint64("min-liquidity"),
		OutlierTolerance:  v.GetFloat64("outlier-tolerance"),
		QuoteTTL:          v.GetDuration("quote-ttl"),
		MaxPoolAge:        v.GetDuration("max-pool-age"),
		MaxSubmitAttempts: v.GetInt("max-submit-attempts"),
		MaxScanAccounts:   v.GetInt("max-scan-accounts"),
		PoolCacheTTL:      v.GetDuration("pool-cache-ttl"),
		ReconnectDelay:    v.GetDuration("reconnect-delay"),
		ReconnectAttempts: v.GetInt("reconnect-attempts"),
		MetricsAddr:       v.GetString("metrics-addr"),
		LogLevel:          v.GetString("log-level"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks config invariants.
func (c Config) Validate() error {
	if c.RPCEndpoint == "" {
		return fmt.Errorf("rpc-endpoint is required")
	}
	if c.WSEndpoint == "" {
		return fmt.Errorf("ws-endpoint is required")
	}
	if c.AMMProgramID == "" {
		return fmt.Errorf("amm-program-id is required")
	}
	if c.OutlierTolerance <= 0 || c.OutlierTolerance > 1 {
		return fmt.Errorf("outlier-tolerance must be in (0, 1], got %v", c.OutlierTolerance)
	}
	if c.QuoteTTL <= 0 {
		return fmt.Errorf("quote-ttl must be positive, got %v", c.QuoteTTL)
	}
	if c.MaxSubmitAttempts <= 0 {
		return fmt.Errorf("max-submit-attempts must be positive, got %d", c.MaxSubmitAttempts)
	}
	if c.ReconnectAttempts <= 0 {
		return fmt.Errorf("reconnect-attempts must be positive, got %d", c.ReconnectAttempts)
	}
	return nil
}
