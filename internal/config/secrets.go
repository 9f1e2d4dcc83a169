package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging the active
// configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Executor.Raydium.APIKey)
	redact(&out.Executor.Orca.APIKey)
	redact(&out.Executor.Raydium.APISecret)
	redact(&out.Executor.Orca.APISecret)
	redact(&out.Server.APIKey)
	redact(&out.Sources.Scanner.APIKey)
	redact(&out.Sources.Sentiment.APIKey)
	redact(&out.Redis.Password)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Journal.Brokers = append([]string(nil), cfg.Journal.Brokers...)
	out.Sources.Wallet.Wallets = append([]string(nil), cfg.Sources.Wallet.Wallets...)
	out.Sources.Wallet.QuoteSymbols = append([]string(nil), cfg.Sources.Wallet.QuoteSymbols...)
	out.Sources.Chains = append([]ChainSourceConfig(nil), cfg.Sources.Chains...)
	if cfg.Sources.Wallet.Symbols != nil {
		out.Sources.Wallet.Symbols = make(map[string]string, len(cfg.Sources.Wallet.Symbols))
		for k, v := range cfg.Sources.Wallet.Symbols {
			out.Sources.Wallet.Symbols[k] = v
		}
	}
	for i := range out.Sources.Chains {
		redact(&out.Sources.Chains[i].RPCURL)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
