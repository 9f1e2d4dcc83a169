package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "paper", cfg.Executor.Venue)
	assert.Equal(t, 10, cfg.Risk.MaxDailyTrades)
	assert.Equal(t, 1.5, cfg.Ledger.TrailingDistancePct)
}

func TestValidateRejectsUnsupportedVenue(t *testing.T) {
	cfg := Defaults()
	cfg.Executor.Venue = "jupiter"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported venue "jupiter"`)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Risk.MaxDailyTrades = 0
	cfg.Executor.Venue = "raydium"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "unknown log_level")
	assert.Contains(t, msg, "max_daily_trades")
	assert.Contains(t, msg, "executor.raydium: base_url must not be empty")
	assert.Contains(t, msg, "wallet: address must be set")
}

func TestValidateChains(t *testing.T) {
	cfg := Defaults()
	cfg.Sources.Chains = []ChainSourceConfig{
		ChainDefaults(ChainSourceConfig{Name: "eth", RPCURL: "https://rpc.example", Contracts: []string{"0x123"}}),
		ChainDefaults(ChainSourceConfig{Name: "eth", RPCURL: "https://rpc.example"}),
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid contract address "0x123"`)
	assert.Contains(t, err.Error(), `duplicate chain name "eth"`)
}

func TestValidatePriceFeedNeedsRedis(t *testing.T) {
	cfg := Defaults()
	cfg.Sources.PriceFeed.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires redis.enabled")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chainbot.toml")
	body := `
log_level = "debug"

[risk]
max_daily_trades = 4

[executor]
timeout = "5s"

[[sources.chains]]
name = "base"
rpc_url = "https://base.example"
min_value = 2.5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("CHAINBOT_LEDGER_STOP_LOSS_PCT", "3")
	t.Setenv("CHAINBOT_NOTIFY_EVENTS", "closed, rejected")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 4, cfg.Risk.MaxDailyTrades)
	assert.Equal(t, 5*time.Second, cfg.Executor.Timeout.Duration)
	assert.Equal(t, 3.0, cfg.Ledger.StopLossPct)
	assert.Equal(t, []string{"closed", "rejected"}, cfg.Notify.Events)
	require.Len(t, cfg.Sources.Chains, 1)
	assert.Equal(t, time.Second, cfg.Sources.Chains[0].PollInterval.Duration)
	assert.Equal(t, 5*time.Second, cfg.Sources.Chains[0].ErrorBackoff.Duration)
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Notify.TelegramToken = "tok"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "executed", cfg.Notify.Events[0])
}
