// Package config defines the top-level configuration for chainbot and
// provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CHAINBOT_* environment variables.
type Config struct {
	Risk       RiskConfig       `toml:"risk"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Executor   ExecutorConfig   `toml:"executor"`
	Wallet     WalletConfig     `toml:"wallet"`
	Sources    SourcesConfig    `toml:"sources"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Redis      RedisConfig      `toml:"redis"`
	Journal    JournalConfig    `toml:"journal"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	LogLevel   string           `toml:"log_level"`
}

// RiskConfig holds the risk gate limits. Percentages are plain numbers
// (5 means 5%).
type RiskConfig struct {
	MaxPositionSizePct  float64 `toml:"max_position_size_pct"`
	MaxDailyTrades      int     `toml:"max_daily_trades"`
	MaxDailyDrawdownPct float64 `toml:"max_daily_drawdown_pct"`
	RiskPerTradePct     float64 `toml:"risk_per_trade_pct"`
	// DrawdownBasis is "equity_pct" (loss as % of AccountEquity) or "raw"
	// (abs(daily_pnl) compared directly with MaxDailyDrawdownPct).
	DrawdownBasis string  `toml:"drawdown_basis"`
	AccountEquity float64 `toml:"account_equity"`
}

// LedgerConfig holds the exit thresholds applied to every new position.
type LedgerConfig struct {
	StopLossPct           float64 `toml:"stop_loss_pct"`
	TakeProfitPct         float64 `toml:"take_profit_pct"`
	TrailingActivationPct float64 `toml:"trailing_activation_pct"`
	TrailingDistancePct   float64 `toml:"trailing_distance_pct"`
}

// ExecutorConfig selects the swap venue and its parameters.
type ExecutorConfig struct {
	Venue          string      `toml:"venue"`
	MaxSlippagePct float64     `toml:"max_slippage_pct"`
	Timeout        duration    `toml:"timeout"`
	Raydium        VenueConfig `toml:"raydium"`
	Orca           VenueConfig `toml:"orca"`
}

// VenueConfig holds the swap API endpoint of one venue.
type VenueConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
}

// WalletConfig holds the trading wallet and its signing key. The key is an
// ed25519 seed, given raw (hex) or as an encrypted key file.
type WalletConfig struct {
	Address          string `toml:"address"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// SourcesConfig groups the event source settings.
type SourcesConfig struct {
	Wallet    WalletSourceConfig    `toml:"wallet"`
	Chains    []ChainSourceConfig   `toml:"chains"`
	Scanner   ScannerSourceConfig   `toml:"scanner"`
	Sentiment SentimentSourceConfig `toml:"sentiment"`
	PriceFeed PriceFeedSourceConfig `toml:"price_feed"`
}

// WalletSourceConfig configures the Solana wallet-transaction monitor.
type WalletSourceConfig struct {
	Enabled            bool              `toml:"enabled"`
	WSURL              string            `toml:"ws_url"`
	RPCURL             string            `toml:"rpc_url"`
	Wallets            []string          `toml:"wallets"`
	MinTransactionSize float64           `toml:"min_transaction_size"`
	TokenWhitelist     []string          `toml:"token_whitelist"`
	Symbols            map[string]string `toml:"symbols"` // mint -> symbol alias
	DedupTTL           duration          `toml:"dedup_ttl"`

	// QuoteSymbols are valued at 1 in the tick sources' quote currency;
	// swaps paid in any other token need a price tick for it first.
	QuoteSymbols []string `toml:"quote_symbols"`
}

// ChainSourceConfig configures one EVM chain monitor.
type ChainSourceConfig struct {
	Name         string   `toml:"name"`
	RPCURL       string   `toml:"rpc_url"`
	ChainID      int64    `toml:"chain_id"`
	MinValue     float64  `toml:"min_value"`
	Contracts    []string `toml:"contracts"`
	PollInterval duration `toml:"poll_interval"`
	ErrorBackoff duration `toml:"error_backoff"`
}

// ScannerSourceConfig configures the token market scanner.
type ScannerSourceConfig struct {
	Enabled               bool     `toml:"enabled"`
	BaseURL               string   `toml:"base_url"`
	APIKey                string   `toml:"api_key"`
	Interval              duration `toml:"interval"`
	TargetTokens          []string `toml:"target_tokens"`
	MinLiquidity          float64  `toml:"min_liquidity"`
	VolumeChangeThreshold float64  `toml:"volume_change_threshold"`
	PriceChangeThreshold  float64  `toml:"price_change_threshold"`
}

// SentimentSourceConfig configures the sentiment feed.
type SentimentSourceConfig struct {
	Enabled         bool     `toml:"enabled"`
	BaseURL         string   `toml:"base_url"`
	APIKey          string   `toml:"api_key"`
	Interval        duration `toml:"interval"`
	TargetTokens    []string `toml:"target_tokens"`
	Threshold       float64  `toml:"threshold"`
	MinMentions     int      `toml:"min_mentions"`
	StrongThreshold float64  `toml:"strong_threshold"`
}

// PriceFeedSourceConfig configures the Redis price channel source.
type PriceFeedSourceConfig struct {
	Enabled bool   `toml:"enabled"`
	Channel string `toml:"channel"`
}

// SupervisorConfig is the restart policy applied to every source task.
type SupervisorConfig struct {
	BackoffMin    duration `toml:"backoff_min"`
	BackoffMax    duration `toml:"backoff_max"`
	BackoffFactor float64  `toml:"backoff_factor"`
	BackoffJitter float64  `toml:"backoff_jitter"`
	MaxRestarts   int      `toml:"max_restarts"` // 0 = unlimited
	StableAfter   duration `toml:"stable_after"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// JournalConfig holds the Kafka decision journal parameters.
type JournalConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"` // empty disables authentication
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Risk: RiskConfig{
			MaxPositionSizePct:  5,
			MaxDailyTrades:      10,
			MaxDailyDrawdownPct: 3,
			RiskPerTradePct:     1,
			DrawdownBasis:       "equity_pct",
			AccountEquity:       10000,
		},
		Ledger: LedgerConfig{
			StopLossPct:           2,
			TakeProfitPct:         4,
			TrailingActivationPct: 2,
			TrailingDistancePct:   1.5,
		},
		Executor: ExecutorConfig{
			Venue:          "paper",
			MaxSlippagePct: 1,
			Timeout:        duration{20 * time.Second},
		},
		Sources: SourcesConfig{
			Wallet: WalletSourceConfig{
				WSURL:              "wss://api.mainnet-beta.solana.com",
				RPCURL:             "https://api.mainnet-beta.solana.com",
				MinTransactionSize: 0.1,
				DedupTTL:           duration{10 * time.Minute},
				QuoteSymbols:       []string{"USDC", "USDT"},
				Symbols: map[string]string{
					"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": "USDC",
					"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": "USDT",
				},
			},
			Scanner: ScannerSourceConfig{
				Interval:              duration{60 * time.Second},
				TargetTokens:          []string{"SOL", "BTC", "ETH"},
				MinLiquidity:          10000,
				VolumeChangeThreshold: 200,
				PriceChangeThreshold:  5,
			},
			Sentiment: SentimentSourceConfig{
				Interval:        duration{300 * time.Second},
				TargetTokens:    []string{"SOL", "BTC", "ETH"},
				Threshold:       0.2,
				MinMentions:     10,
				StrongThreshold: 0.5,
			},
			PriceFeed: PriceFeedSourceConfig{
				Channel: "prices",
			},
		},
		Supervisor: SupervisorConfig{
			BackoffMin:    duration{time.Second},
			BackoffMax:    duration{60 * time.Second},
			BackoffFactor: 2,
			BackoffJitter: 0.2,
			StableAfter:   duration{time.Minute},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Journal: JournalConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "chainbot.decisions",
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"executed", "execution_failed", "closed"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// SupportedVenues enumerates the swap venues the executor can be built for.
var SupportedVenues = map[string]bool{
	"raydium": true,
	"orca":    true,
	"paper":   true,
}

var validDrawdownBases = map[string]bool{
	"equity_pct": true,
	"raw":        true,
}

var validNotifyEvents = map[string]bool{
	"rejected":         true,
	"executed":         true,
	"execution_failed": true,
	"closed":           true,
}

// ChainDefaults fills unset per-chain fields. Load applies it to every
// [[sources.chains]] entry since TOML arrays bypass Defaults.
func ChainDefaults(c ChainSourceConfig) ChainSourceConfig {
	if c.PollInterval.Duration == 0 {
		c.PollInterval = duration{time.Second}
	}
	if c.ErrorBackoff.Duration == 0 {
		c.ErrorBackoff = duration{5 * time.Second}
	}
	return c
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Risk
	if c.Risk.MaxPositionSizePct <= 0 || c.Risk.MaxPositionSizePct > 100 {
		errs = append(errs, fmt.Sprintf("risk: max_position_size_pct must be in (0, 100], got %g", c.Risk.MaxPositionSizePct))
	}
	if c.Risk.MaxDailyTrades < 1 {
		errs = append(errs, "risk: max_daily_trades must be >= 1")
	}
	if c.Risk.MaxDailyDrawdownPct <= 0 {
		errs = append(errs, "risk: max_daily_drawdown_pct must be > 0")
	}
	if c.Risk.RiskPerTradePct <= 0 || c.Risk.RiskPerTradePct > 100 {
		errs = append(errs, "risk: risk_per_trade_pct must be in (0, 100]")
	}
	if !validDrawdownBases[c.Risk.DrawdownBasis] {
		errs = append(errs, fmt.Sprintf("risk: unknown drawdown_basis %q (valid: equity_pct, raw)", c.Risk.DrawdownBasis))
	}
	if c.Risk.DrawdownBasis == "equity_pct" && c.Risk.AccountEquity <= 0 {
		errs = append(errs, "risk: account_equity must be > 0 when drawdown_basis is equity_pct")
	}

	// Ledger
	if c.Ledger.StopLossPct <= 0 || c.Ledger.StopLossPct >= 100 {
		errs = append(errs, "ledger: stop_loss_pct must be in (0, 100)")
	}
	if c.Ledger.TakeProfitPct <= 0 {
		errs = append(errs, "ledger: take_profit_pct must be > 0")
	}
	if c.Ledger.TrailingActivationPct < 0 {
		errs = append(errs, "ledger: trailing_activation_pct must be >= 0")
	}
	if c.Ledger.TrailingDistancePct <= 0 || c.Ledger.TrailingDistancePct >= 100 {
		errs = append(errs, "ledger: trailing_distance_pct must be in (0, 100)")
	}

	// Executor. An unsupported venue is rejected here so it never reaches a
	// trade.
	if !SupportedVenues[strings.ToLower(c.Executor.Venue)] {
		errs = append(errs, fmt.Sprintf("executor: unsupported venue %q (valid: raydium, orca, paper)", c.Executor.Venue))
	}
	if c.Executor.MaxSlippagePct < 0 || c.Executor.MaxSlippagePct >= 100 {
		errs = append(errs, "executor: max_slippage_pct must be in [0, 100)")
	}
	if c.Executor.Timeout.Duration <= 0 {
		errs = append(errs, "executor: timeout must be > 0")
	}
	switch strings.ToLower(c.Executor.Venue) {
	case "raydium":
		errs = append(errs, validateURL("executor.raydium: base_url", c.Executor.Raydium.BaseURL)...)
	case "orca":
		errs = append(errs, validateURL("executor.orca: base_url", c.Executor.Orca.BaseURL)...)
	}

	// Wallet key is only needed when a live venue signs swap requests.
	if strings.ToLower(c.Executor.Venue) != "paper" {
		if c.Wallet.Address == "" {
			errs = append(errs, "wallet: address must be set for venue "+c.Executor.Venue)
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for venue "+c.Executor.Venue)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Sources
	ws := c.Sources.Wallet
	if ws.Enabled {
		errs = append(errs, validateURL("sources.wallet: ws_url", ws.WSURL)...)
		errs = append(errs, validateURL("sources.wallet: rpc_url", ws.RPCURL)...)
		if len(ws.Wallets) == 0 {
			errs = append(errs, "sources.wallet: at least one wallet is required when enabled")
		}
		if ws.MinTransactionSize < 0 {
			errs = append(errs, "sources.wallet: min_transaction_size must be >= 0")
		}
	}
	seen := make(map[string]bool, len(c.Sources.Chains))
	for i, ch := range c.Sources.Chains {
		prefix := fmt.Sprintf("sources.chains[%d]", i)
		if ch.Name == "" {
			errs = append(errs, prefix+": name must not be empty")
		} else if seen[ch.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate chain name %q", prefix, ch.Name))
		}
		seen[ch.Name] = true
		errs = append(errs, validateURL(prefix+": rpc_url", ch.RPCURL)...)
		if ch.MinValue < 0 {
			errs = append(errs, prefix+": min_value must be >= 0")
		}
		for _, addr := range ch.Contracts {
			if !common.IsHexAddress(addr) {
				errs = append(errs, fmt.Sprintf("%s: invalid contract address %q", prefix, addr))
			}
		}
	}
	if c.Sources.Scanner.Enabled {
		errs = append(errs, validateURL("sources.scanner: base_url", c.Sources.Scanner.BaseURL)...)
		if c.Sources.Scanner.Interval.Duration <= 0 {
			errs = append(errs, "sources.scanner: interval must be > 0")
		}
		if len(c.Sources.Scanner.TargetTokens) == 0 {
			errs = append(errs, "sources.scanner: target_tokens must not be empty")
		}
	}
	if c.Sources.Sentiment.Enabled {
		errs = append(errs, validateURL("sources.sentiment: base_url", c.Sources.Sentiment.BaseURL)...)
		if c.Sources.Sentiment.Interval.Duration <= 0 {
			errs = append(errs, "sources.sentiment: interval must be > 0")
		}
		if c.Sources.Sentiment.Threshold < 0 || c.Sources.Sentiment.Threshold > 1 {
			errs = append(errs, "sources.sentiment: threshold must be in [0, 1]")
		}
	}
	if c.Sources.PriceFeed.Enabled {
		if !c.Redis.Enabled {
			errs = append(errs, "sources.price_feed: requires redis.enabled")
		}
		if c.Sources.PriceFeed.Channel == "" {
			errs = append(errs, "sources.price_feed: channel must not be empty")
		}
	}

	// Supervisor
	if c.Supervisor.BackoffMin.Duration <= 0 {
		errs = append(errs, "supervisor: backoff_min must be > 0")
	}
	if c.Supervisor.BackoffMax.Duration < c.Supervisor.BackoffMin.Duration {
		errs = append(errs, "supervisor: backoff_max must be >= backoff_min")
	}
	if c.Supervisor.BackoffFactor < 1 {
		errs = append(errs, "supervisor: backoff_factor must be >= 1")
	}
	if c.Supervisor.BackoffJitter < 0 || c.Supervisor.BackoffJitter > 1 {
		errs = append(errs, "supervisor: backoff_jitter must be in [0, 1]")
	}
	if c.Supervisor.MaxRestarts < 0 {
		errs = append(errs, "supervisor: max_restarts must be >= 0")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Journal
	if c.Journal.Enabled {
		if len(c.Journal.Brokers) == 0 {
			errs = append(errs, "journal: brokers must not be empty")
		}
		if c.Journal.Topic == "" {
			errs = append(errs, "journal: topic must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify
	for _, ev := range c.Notify.Events {
		if !validNotifyEvents[ev] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", ev))
		}
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateURL(field, raw string) []string {
	if raw == "" {
		return []string{field + " must not be empty"}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return []string{fmt.Sprintf("%s %q is not a valid URL", field, raw)}
	}
	return nil
}
