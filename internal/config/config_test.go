package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProgramID = "AMMProg1111111111111111111111111111111111111"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AMM_AMM_PROGRAM_ID", testProgramID)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "https://api.mainnet-beta.solana.com", cfg.RPCEndpoint)
	assert.Equal(t, testProgramID, cfg.AMMProgramID)
	assert.Equal(t, uint64(1000), cfg.MinLiquidity)
	assert.InDelta(t, 0.10, cfg.OutlierTolerance, 1e-9)
	assert.Equal(t, 5*time.Second, cfg.QuoteTTL)
	assert.Equal(t, 10*time.Second, cfg.MaxPoolAge)
	assert.Equal(t, 3, cfg.MaxSubmitAttempts)
	assert.Equal(t, 10000, cfg.MaxScanAccounts)
	assert.Equal(t, 5, cfg.ReconnectAttempts)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.PostgresDSN)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AMM_AMM_PROGRAM_ID", testProgramID)
	t.Setenv("AMM_LOG_LEVEL", "debug")
	t.Setenv("AMM_MIN_LIQUIDITY", "5000")
	t.Setenv("AMM_QUOTE_TTL", "2s")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, uint64(5000), cfg.MinLiquidity)
	assert.Equal(t, 2*time.Second, cfg.QuoteTTL)
}

func TestLoadFlagOverride(t *testing.T) {
	t.Setenv("AMM_AMM_PROGRAM_ID", testProgramID)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Duration("quote-ttl", 5*time.Second, "")
	flags.String("rpc-endpoint", "", "")
	require.NoError(t, flags.Parse([]string{
		"--quote-ttl=3s",
		"--rpc-endpoint=http://localhost:8899",
	}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.QuoteTTL)
	assert.Equal(t, "http://localhost:8899", cfg.RPCEndpoint)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
amm-program-id: ` + testProgramID + `
ws-endpoint: ws://localhost:8900
outlier-tolerance: 0.05
reconnect-attempts: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:8900", cfg.WSEndpoint)
	assert.InDelta(t, 0.05, cfg.OutlierTolerance, 1e-9)
	assert.Equal(t, 10, cfg.ReconnectAttempts)
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml", nil)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{
		RPCEndpoint:       "http://localhost:8899",
		WSEndpoint:        "ws://localhost:8900",
		AMMProgramID:      testProgramID,
		OutlierTolerance:  0.1,
		QuoteTTL:          time.Second,
		MaxSubmitAttempts: 1,
		ReconnectAttempts: 1,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing program id", func(c *Config) { c.AMMProgramID = "" }},
		{"missing rpc endpoint", func(c *Config) { c.RPCEndpoint = "" }},
		{"missing ws endpoint", func(c *Config) { c.WSEndpoint = "" }},
		{"zero outlier tolerance", func(c *Config) { c.OutlierTolerance = 0 }},
		{"outlier tolerance above one", func(c *Config) { c.OutlierTolerance = 1.5 }},
		{"zero quote ttl", func(c *Config) { c.QuoteTTL = 0 }},
		{"zero submit attempts", func(c *Config) { c.MaxSubmitAttempts = 0 }},
		{"zero reconnect attempts", func(c *Config) { c.ReconnectAttempts = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
