package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbot/internal/config"
	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireOfflinePaper(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Enabled = false

	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, "paper", deps.Executor.Venue())
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.PriceCache)
	assert.Nil(t, deps.Lease)
	assert.Empty(t, deps.Sources)
	assert.Empty(t, deps.Recorders, "no recorders without redis, kafka or chat credentials")

	dec := deps.Gate.Validate("SOL", decimal.NewFromInt(200), nil)
	require.True(t, dec.Valid)
	assert.True(t, dec.PositionSize.Equal(decimal.NewFromInt(10)))
}

func TestWireAddsNotifierAndJournal(t *testing.T) {
	cfg := config.Defaults()
	cfg.Notify.DiscordWebhookURL = "https://discord.example/webhook"
	cfg.Journal.Enabled = true

	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	names := make([]string, 0, len(deps.Recorders))
	for _, r := range deps.Recorders {
		names = append(names, r.Name())
	}
	assert.Equal(t, []string{"kafka", "notify"}, names)
}

func TestWireRejectsUnsupportedVenue(t *testing.T) {
	cfg := config.Defaults()
	cfg.Executor.Venue = "jupiter"

	_, _, err := Wire(context.Background(), &cfg, discardLogger())
	assert.ErrorIs(t, err, domain.ErrUnsupportedVenue)
}

func TestWireLiveVenueNeedsKey(t *testing.T) {
	cfg := config.Defaults()
	cfg.Executor.Venue = "raydium"
	cfg.Executor.Raydium.BaseURL = "https://swap.example"

	_, _, err := Wire(context.Background(), &cfg, discardLogger())
	require.Error(t, err)

	cfg.Wallet.Address = "wallet1"
	cfg.Wallet.PrivateKey = strings.Repeat("ab", 32)
	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, "raydium", deps.Executor.Venue())
}

func TestBuildSources(t *testing.T) {
	cfg := config.Defaults()
	cfg.Sources.Wallet.Enabled = true
	cfg.Sources.Wallet.Wallets = []string{"wallet1"}
	cfg.Sources.Scanner.Enabled = true
	cfg.Sources.Scanner.BaseURL = "https://markets.example"
	cfg.Sources.Sentiment.Enabled = true
	cfg.Sources.Sentiment.BaseURL = "https://sentiment.example"
	cfg.Sources.Chains = []config.ChainSourceConfig{
		config.ChainDefaults(config.ChainSourceConfig{Name: "ethereum", RPCURL: "https://eth.example", ChainID: 1}),
		config.ChainDefaults(config.ChainSourceConfig{Name: "base", RPCURL: "https://base.example", ChainID: 8453}),
	}

	sources, err := buildSources(&cfg, nil, discardLogger())
	require.NoError(t, err)

	var names []string
	for _, s := range sources {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{
		"wallet_monitor",
		"chain_monitor:ethereum",
		"chain_monitor:base",
		"token_scanner",
		"sentiment_feed",
	}, names)

	cfg.Sources.PriceFeed.Enabled = true
	_, err = buildSources(&cfg, nil, discardLogger())
	assert.Error(t, err, "price feed without a bus")
}

func TestConfigConversions(t *testing.T) {
	cfg := config.Defaults()
	cfg.Risk.DrawdownBasis = "raw"

	rc := riskConfig(&cfg)
	assert.Equal(t, service.DrawdownRaw, rc.DrawdownBasis)
	assert.True(t, rc.MaxPositionSizePct.Equal(decimal.NewFromInt(5)))

	lc := ledgerConfig(&cfg)
	assert.True(t, lc.TrailingDistancePct.Equal(decimal.RequireFromString("1.5")))

	sc := supervisorConfig(&cfg)
	assert.Equal(t, cfg.Supervisor.BackoffMax.Duration, sc.Backoff.Max)
	assert.Equal(t, 0.2, sc.Backoff.Jitter)

	assert.Equal(t, "venue:paper", leaseName(&cfg))
	cfg.Wallet.Address = "abc"
	assert.Equal(t, "wallet:abc", leaseName(&cfg))
}
