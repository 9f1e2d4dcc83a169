package feed

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/platform/marketdata"
)

const scannerRequestTimeout = 20 * time.Second

// MarketLister returns market snapshots for a set of symbols.
type MarketLister interface {
	Markets(ctx context.Context, symbols []string) ([]marketdata.Market, error)
}

// TokenScannerConfig configures a TokenScanner. Thresholds are percentages.
type TokenScannerConfig struct {
	Interval              time.Duration
	TargetTokens          []string
	MinLiquidity          decimal.Decimal
	VolumeChangeThreshold decimal.Decimal
	PriceChangeThreshold  decimal.Decimal
}

// TokenScanner polls market data for the target tokens. Every snapshot
// becomes a price_tick; unusual moves on liquid markets also raise a
// volatility_alert.
type TokenScanner struct {
	*Dispatcher
	cfg     TokenScannerConfig
	markets MarketLister
	logger  *slog.Logger
}

// NewTokenScanner creates a TokenScanner.
func NewTokenScanner(cfg TokenScannerConfig, markets MarketLister, logger *slog.Logger) *TokenScanner {
	logger = logger.With(slog.String("component", "token_scanner"))
	return &TokenScanner{
		Dispatcher: NewDispatcher("token_scanner", logger),
		cfg:        cfg,
		markets:    markets,
		logger:     logger,
	}
}

// Name implements Source.
func (s *TokenScanner) Name() string { return "token_scanner" }

// Run implements Source.
func (s *TokenScanner) Run(ctx context.Context) error {
	s.logger.Info("token_scanner: started",
		slog.Duration("interval", s.cfg.Interval),
		slog.String("tokens", strings.Join(s.cfg.TargetTokens, ",")),
	)
	return pollLoop(ctx, s.Name(), s.cfg.Interval, s.logger, s.scan)
}

func (s *TokenScanner) scan(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, scannerRequestTimeout)
	markets, err := s.markets.Markets(reqCtx, s.cfg.TargetTokens)
	cancel()
	if err != nil {
		return err
	}

	for _, m := range markets {
		for _, ev := range s.eventsFor(m) {
			s.Dispatch(ctx, ev)
		}
	}
	return nil
}

// eventsFor maps one snapshot to zero, one or two events.
func (s *TokenScanner) eventsFor(m marketdata.Market) []domain.NormalizedEvent {
	if m.Symbol == "" || !m.Price.IsPositive() {
		return nil
	}
	ts := m.UpdatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	out := []domain.NormalizedEvent{{
		ID:        uuid.NewString(),
		Source:    "token_scanner",
		Type:      domain.EventPriceTick,
		Symbol:    m.Symbol,
		Token:     m.Symbol,
		Price:     m.Price,
		Amount:    m.Volume24h,
		Timestamp: ts,
	}}

	if m.Liquidity.LessThan(s.cfg.MinLiquidity) {
		return out
	}
	if m.PriceChangePct.Abs().GreaterThanOrEqual(s.cfg.PriceChangeThreshold) ||
		m.VolumeChangePct.GreaterThanOrEqual(s.cfg.VolumeChangeThreshold) {
		out = append(out, domain.NormalizedEvent{
			ID:        uuid.NewString(),
			Source:    "token_scanner",
			Type:      domain.EventVolatilityAlert,
			Symbol:    m.Symbol,
			Token:     m.Symbol,
			Price:     m.Price,
			Amount:    m.Volume24h,
			Score:     m.PriceChangePct,
			Timestamp: ts,
		})
	}
	return out
}
