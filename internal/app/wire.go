package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/cache/redis"
	"github.com/alanyoungcy/chainbot/internal/config"
	"github.com/alanyoungcy/chainbot/internal/crypto"
	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/executor"
	"github.com/alanyoungcy/chainbot/internal/feed"
	"github.com/alanyoungcy/chainbot/internal/journal"
	"github.com/alanyoungcy/chainbot/internal/notify"
	"github.com/alanyoungcy/chainbot/internal/platform/marketdata"
	"github.com/alanyoungcy/chainbot/internal/platform/sentiment"
	"github.com/alanyoungcy/chainbot/internal/platform/solana"
	"github.com/alanyoungcy/chainbot/internal/service"
)

const leaseTTL = 30 * time.Second

// Dependencies bundles everything the coordinator and the HTTP API need. It
// is constructed by Wire and torn down by the returned cleanup function.
// Redis-backed fields are nil when Redis is disabled.
type Dependencies struct {
	SignalBus  domain.SignalBus
	PriceCache domain.PriceCache
	Lease      *redis.Lease

	Gate     *service.RiskGate
	Ledger   *service.PositionLedger
	Executor *executor.Executor
	Sources  []feed.Source

	// Recorders receive every decision record, in order.
	Recorders []domain.Recorder
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Gate:   service.NewRiskGate(riskConfig(cfg), nil, logger),
		Ledger: service.NewPositionLedger(ledgerConfig(cfg), nil, logger),
	}

	// --- Executor ---
	exec, err := buildExecutor(cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Executor = exec

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		lease, err := redis.AcquireLease(ctx, redisClient, leaseName(cfg), leaseTTL, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, lease.Release)
		deps.Lease = lease

		bus := redis.NewSignalBus(redisClient)
		deps.SignalBus = bus
		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.Recorders = append(deps.Recorders, redis.NewDecisionPublisher(bus))
	}

	// --- Kafka journal ---
	if cfg.Journal.Enabled {
		j := journal.NewKafkaJournal(cfg.Journal.Brokers, cfg.Journal.Topic)
		closers = append(closers, func() {
			if err := j.Close(); err != nil {
				logger.Warn("wire: journal close failed", slog.String("error", err.Error()))
			}
		})
		deps.Recorders = append(deps.Recorders, j)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Recorders = append(deps.Recorders, notify.NewNotifier(senders, cfg.Notify.Events, logger))
	}

	// --- Sources ---
	sources, err := buildSources(cfg, deps.SignalBus, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Sources = sources

	return deps, cleanup, nil
}

func buildExecutor(cfg *config.Config, logger *slog.Logger) (*executor.Executor, error) {
	venueName := strings.ToLower(cfg.Executor.Venue)

	var (
		venueCfg executor.VenueConfig
		signer   *crypto.Signer
	)
	switch venueName {
	case executor.VenueRaydium:
		venueCfg = executor.VenueConfig(cfg.Executor.Raydium)
	case executor.VenueOrca:
		venueCfg = executor.VenueConfig(cfg.Executor.Orca)
	}
	if venueName != executor.VenuePaper {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("wallet key: %w", err)
		}
		if signer, err = crypto.NewSigner(key); err != nil {
			return nil, err
		}
	}

	venue, err := executor.NewVenue(venueName, venueCfg, signer)
	if err != nil {
		return nil, err
	}
	return executor.New(executor.Config{
		MaxSlippagePct: decimal.NewFromFloat(cfg.Executor.MaxSlippagePct),
		Timeout:        cfg.Executor.Timeout.Duration,
		Wallet:         cfg.Wallet.Address,
	}, venue, logger), nil
}

// buildSources creates one source per enabled feed. bus may be nil when
// Redis is disabled; config validation keeps the price feed off then.
func buildSources(cfg *config.Config, bus domain.SignalBus, logger *slog.Logger) ([]feed.Source, error) {
	var sources []feed.Source

	if ws := cfg.Sources.Wallet; ws.Enabled {
		sources = append(sources, feed.NewWalletMonitor(feed.WalletMonitorConfig{
			WSURL:   ws.WSURL,
			Wallets: ws.Wallets,
			Filter: feed.WalletFilter{
				MinSOL:    decimal.NewFromFloat(ws.MinTransactionSize),
				Whitelist: stringSet(ws.TokenWhitelist),
				Symbols:   ws.Symbols,
			},
			DedupTTL: ws.DedupTTL.Duration,
		}, solana.NewRPCClient(ws.RPCURL), logger))
	}

	for _, ch := range cfg.Sources.Chains {
		sources = append(sources, feed.NewChainMonitor(feed.ChainMonitorConfig{
			Name:    ch.Name,
			RPCURL:  ch.RPCURL,
			ChainID: ch.ChainID,
			Filter: feed.ChainFilter{
				MinValue:  decimal.NewFromFloat(ch.MinValue),
				Contracts: feed.ContractSet(ch.Contracts),
			},
			PollInterval: ch.PollInterval.Duration,
			ErrorBackoff: ch.ErrorBackoff.Duration,
		}, nil, logger))
	}

	if sc := cfg.Sources.Scanner; sc.Enabled {
		sources = append(sources, feed.NewTokenScanner(feed.TokenScannerConfig{
			Interval:              sc.Interval.Duration,
			TargetTokens:          sc.TargetTokens,
			MinLiquidity:          decimal.NewFromFloat(sc.MinLiquidity),
			VolumeChangeThreshold: decimal.NewFromFloat(sc.VolumeChangeThreshold),
			PriceChangeThreshold:  decimal.NewFromFloat(sc.PriceChangeThreshold),
		}, marketdata.NewClient(sc.BaseURL, sc.APIKey), logger))
	}

	if st := cfg.Sources.Sentiment; st.Enabled {
		sources = append(sources, feed.NewSentimentFeed(feed.SentimentFeedConfig{
			Interval:     st.Interval.Duration,
			TargetTokens: st.TargetTokens,
			Threshold:    decimal.NewFromFloat(st.Threshold),
			MinMentions:  st.MinMentions,
		}, sentiment.NewClient(st.BaseURL, st.APIKey), logger))
	}

	if pf := cfg.Sources.PriceFeed; pf.Enabled {
		if bus == nil {
			return nil, fmt.Errorf("price feed: signal bus unavailable")
		}
		sources = append(sources, feed.NewPriceFeed(bus, pf.Channel, logger))
	}

	return sources, nil
}

func riskConfig(cfg *config.Config) service.RiskConfig {
	return service.RiskConfig{
		MaxPositionSizePct:  decimal.NewFromFloat(cfg.Risk.MaxPositionSizePct),
		MaxDailyTrades:      cfg.Risk.MaxDailyTrades,
		MaxDailyDrawdownPct: decimal.NewFromFloat(cfg.Risk.MaxDailyDrawdownPct),
		RiskPerTradePct:     decimal.NewFromFloat(cfg.Risk.RiskPerTradePct),
		DrawdownBasis:       service.DrawdownBasis(cfg.Risk.DrawdownBasis),
		AccountEquity:       decimal.NewFromFloat(cfg.Risk.AccountEquity),
	}
}

func ledgerConfig(cfg *config.Config) service.LedgerConfig {
	return service.LedgerConfig{
		StopLossPct:           decimal.NewFromFloat(cfg.Ledger.StopLossPct),
		TakeProfitPct:         decimal.NewFromFloat(cfg.Ledger.TakeProfitPct),
		TrailingActivationPct: decimal.NewFromFloat(cfg.Ledger.TrailingActivationPct),
		TrailingDistancePct:   decimal.NewFromFloat(cfg.Ledger.TrailingDistancePct),
	}
}

func supervisorConfig(cfg *config.Config) feed.SupervisorConfig {
	return feed.SupervisorConfig{
		Backoff: feed.Backoff{
			Min:    cfg.Supervisor.BackoffMin.Duration,
			Max:    cfg.Supervisor.BackoffMax.Duration,
			Factor: cfg.Supervisor.BackoffFactor,
			Jitter: cfg.Supervisor.BackoffJitter,
		},
		MaxRestarts: cfg.Supervisor.MaxRestarts,
		StableAfter: cfg.Supervisor.StableAfter.Duration,
	}
}

// leaseName scopes the single-instance lease to the trading wallet.
func leaseName(cfg *config.Config) string {
	if cfg.Wallet.Address != "" {
		return "wallet:" + cfg.Wallet.Address
	}
	return "venue:" + strings.ToLower(cfg.Executor.Venue)
}

func stringSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}
