package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CHAINBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	for i := range cfg.Sources.Chains {
		cfg.Sources.Chains[i] = ChainDefaults(cfg.Sources.Chains[i])
	}

	return &cfg, nil
}

// applyEnvOverrides reads well-known CHAINBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Secrets are usually injected this way.
func applyEnvOverrides(cfg *Config) {
	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPositionSizePct, "CHAINBOT_RISK_MAX_POSITION_SIZE_PCT")
	setInt(&cfg.Risk.MaxDailyTrades, "CHAINBOT_RISK_MAX_DAILY_TRADES")
	setFloat64(&cfg.Risk.MaxDailyDrawdownPct, "CHAINBOT_RISK_MAX_DAILY_DRAWDOWN_PCT")
	setFloat64(&cfg.Risk.RiskPerTradePct, "CHAINBOT_RISK_RISK_PER_TRADE_PCT")
	setStr(&cfg.Risk.DrawdownBasis, "CHAINBOT_RISK_DRAWDOWN_BASIS")
	setFloat64(&cfg.Risk.AccountEquity, "CHAINBOT_RISK_ACCOUNT_EQUITY")

	// ── Ledger ──
	setFloat64(&cfg.Ledger.StopLossPct, "CHAINBOT_LEDGER_STOP_LOSS_PCT")
	setFloat64(&cfg.Ledger.TakeProfitPct, "CHAINBOT_LEDGER_TAKE_PROFIT_PCT")
	setFloat64(&cfg.Ledger.TrailingActivationPct, "CHAINBOT_LEDGER_TRAILING_ACTIVATION_PCT")
	setFloat64(&cfg.Ledger.TrailingDistancePct, "CHAINBOT_LEDGER_TRAILING_DISTANCE_PCT")

	// ── Executor ──
	setStr(&cfg.Executor.Venue, "CHAINBOT_EXECUTOR_VENUE")
	setFloat64(&cfg.Executor.MaxSlippagePct, "CHAINBOT_EXECUTOR_MAX_SLIPPAGE_PCT")
	setDuration(&cfg.Executor.Timeout, "CHAINBOT_EXECUTOR_TIMEOUT")
	setStr(&cfg.Executor.Raydium.BaseURL, "CHAINBOT_EXECUTOR_RAYDIUM_BASE_URL")
	setStr(&cfg.Executor.Raydium.APIKey, "CHAINBOT_EXECUTOR_RAYDIUM_API_KEY")
	setStr(&cfg.Executor.Raydium.APISecret, "CHAINBOT_EXECUTOR_RAYDIUM_API_SECRET")
	setStr(&cfg.Executor.Orca.BaseURL, "CHAINBOT_EXECUTOR_ORCA_BASE_URL")
	setStr(&cfg.Executor.Orca.APIKey, "CHAINBOT_EXECUTOR_ORCA_API_KEY")
	setStr(&cfg.Executor.Orca.APISecret, "CHAINBOT_EXECUTOR_ORCA_API_SECRET")

	// ── Wallet ──
	setStr(&cfg.Wallet.Address, "CHAINBOT_WALLET_ADDRESS")
	setStr(&cfg.Wallet.PrivateKey, "CHAINBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "CHAINBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "CHAINBOT_WALLET_KEY_PASSWORD")

	// ── Sources ──
	setBool(&cfg.Sources.Wallet.Enabled, "CHAINBOT_SOURCES_WALLET_ENABLED")
	setStr(&cfg.Sources.Wallet.WSURL, "CHAINBOT_SOURCES_WALLET_WS_URL")
	setStr(&cfg.Sources.Wallet.RPCURL, "CHAINBOT_SOURCES_WALLET_RPC_URL")
	setStringSlice(&cfg.Sources.Wallet.Wallets, "CHAINBOT_SOURCES_WALLET_WALLETS")
	setFloat64(&cfg.Sources.Wallet.MinTransactionSize, "CHAINBOT_SOURCES_WALLET_MIN_TRANSACTION_SIZE")
	setStringSlice(&cfg.Sources.Wallet.TokenWhitelist, "CHAINBOT_SOURCES_WALLET_TOKEN_WHITELIST")
	setStringSlice(&cfg.Sources.Wallet.QuoteSymbols, "CHAINBOT_SOURCES_WALLET_QUOTE_SYMBOLS")
	setBool(&cfg.Sources.Scanner.Enabled, "CHAINBOT_SOURCES_SCANNER_ENABLED")
	setStr(&cfg.Sources.Scanner.BaseURL, "CHAINBOT_SOURCES_SCANNER_BASE_URL")
	setStr(&cfg.Sources.Scanner.APIKey, "CHAINBOT_SOURCES_SCANNER_API_KEY")
	setDuration(&cfg.Sources.Scanner.Interval, "CHAINBOT_SOURCES_SCANNER_INTERVAL")
	setStringSlice(&cfg.Sources.Scanner.TargetTokens, "CHAINBOT_SOURCES_SCANNER_TARGET_TOKENS")
	setBool(&cfg.Sources.Sentiment.Enabled, "CHAINBOT_SOURCES_SENTIMENT_ENABLED")
	setStr(&cfg.Sources.Sentiment.BaseURL, "CHAINBOT_SOURCES_SENTIMENT_BASE_URL")
	setStr(&cfg.Sources.Sentiment.APIKey, "CHAINBOT_SOURCES_SENTIMENT_API_KEY")
	setDuration(&cfg.Sources.Sentiment.Interval, "CHAINBOT_SOURCES_SENTIMENT_INTERVAL")
	setBool(&cfg.Sources.PriceFeed.Enabled, "CHAINBOT_SOURCES_PRICE_FEED_ENABLED")

	// ── Supervisor ──
	setInt(&cfg.Supervisor.MaxRestarts, "CHAINBOT_SUPERVISOR_MAX_RESTARTS")
	setDuration(&cfg.Supervisor.BackoffMin, "CHAINBOT_SUPERVISOR_BACKOFF_MIN")
	setDuration(&cfg.Supervisor.BackoffMax, "CHAINBOT_SUPERVISOR_BACKOFF_MAX")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CHAINBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CHAINBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CHAINBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CHAINBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CHAINBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "CHAINBOT_REDIS_TLS_ENABLED")

	// ── Journal ──
	setBool(&cfg.Journal.Enabled, "CHAINBOT_JOURNAL_ENABLED")
	setStringSlice(&cfg.Journal.Brokers, "CHAINBOT_JOURNAL_BROKERS")
	setStr(&cfg.Journal.Topic, "CHAINBOT_JOURNAL_TOPIC")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CHAINBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CHAINBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "CHAINBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "CHAINBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CHAINBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CHAINBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CHAINBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CHAINBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "CHAINBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
