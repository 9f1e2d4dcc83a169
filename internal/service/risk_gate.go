package service

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

// Rejection reasons reported in RiskDecision.Reason.
const (
	ReasonDailyTradeLimit = "daily trade limit reached"
	ReasonDrawdownLimit   = "daily drawdown limit reached"
	ReasonInvalidPrice    = "invalid entry price"
	ReasonTradeInFlight   = "trade in flight"
	ReasonInvalidStopLoss = "stop loss not below entry price"
)

// DrawdownBasis selects how daily P&L is compared with MaxDailyDrawdownPct.
type DrawdownBasis string

const (
	// DrawdownEquityPct compares realized loss as a percentage of
	// AccountEquity.
	DrawdownEquityPct DrawdownBasis = "equity_pct"
	// DrawdownRaw compares abs(daily_pnl) directly with the percentage.
	DrawdownRaw DrawdownBasis = "raw"
)

var hundred = decimal.NewFromInt(100)

// RiskConfig holds the risk gate limits. Percentages are plain numbers.
type RiskConfig struct {
	MaxPositionSizePct  decimal.Decimal
	MaxDailyTrades      int
	MaxDailyDrawdownPct decimal.Decimal
	RiskPerTradePct     decimal.Decimal
	DrawdownBasis       DrawdownBasis
	AccountEquity       decimal.Decimal
}

// RiskState is a snapshot of the gate's daily counters.
type RiskState struct {
	Day             time.Time       `json:"day"`
	DailyTradeCount int             `json:"daily_trade_count"`
	DailyPnL        decimal.Decimal `json:"daily_pnl"`
	Pending         int             `json:"pending"`
}

// RiskGate validates and sizes candidate trades against daily limits. All
// state sits behind one mutex; the counters reset when the UTC day changes.
type RiskGate struct {
	cfg    RiskConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	day      time.Time
	count    int
	pnl      decimal.Decimal
	inFlight map[string]struct{}
}

// NewRiskGate creates a RiskGate. now may be nil, in which case time.Now is
// used.
func NewRiskGate(cfg RiskConfig, now func() time.Time, logger *slog.Logger) *RiskGate {
	if now == nil {
		now = time.Now
	}
	if cfg.DrawdownBasis == "" {
		cfg.DrawdownBasis = DrawdownEquityPct
	}
	g := &RiskGate{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "risk_gate")),
		now:      now,
		inFlight: make(map[string]struct{}),
	}
	g.day = utcDay(now())
	return g
}

// Validate checks a candidate trade against the daily limits and sizes it.
// It does not change the gate's state.
func (g *RiskGate) Validate(symbol string, entryPrice decimal.Decimal, stopLoss *decimal.Decimal) domain.RiskDecision {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return g.validateLocked(symbol, entryPrice, stopLoss)
}

// Record counts one executed trade and adds pnl to the daily total.
func (g *RiskGate) Record(symbol string, pnl decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	g.count++
	g.pnl = g.pnl.Add(pnl)
	g.logger.Debug("risk_gate: trade recorded",
		slog.String("symbol", symbol),
		slog.Int("daily_trade_count", g.count),
		slog.String("daily_pnl", g.pnl.String()),
	)
}

// Realize adds the realized pnl of a closed position without counting a
// trade.
func (g *RiskGate) Realize(symbol string, pnl decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	g.pnl = g.pnl.Add(pnl)
	g.logger.Debug("risk_gate: pnl realized",
		slog.String("symbol", symbol),
		slog.String("pnl", pnl.String()),
		slog.String("daily_pnl", g.pnl.String()),
	)
}

// Reserve validates a trade and, when valid, holds one slot of the daily
// trade limit until the reservation is committed or released. Only one
// reservation per symbol may be outstanding.
func (g *RiskGate) Reserve(symbol string, entryPrice decimal.Decimal, stopLoss *decimal.Decimal) (*Reservation, domain.RiskDecision) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()

	if _, busy := g.inFlight[symbol]; busy {
		return nil, domain.RiskDecision{Reason: ReasonTradeInFlight}
	}
	d := g.validateLocked(symbol, entryPrice, stopLoss)
	if !d.Valid {
		return nil, d
	}
	g.inFlight[symbol] = struct{}{}
	return &Reservation{gate: g, symbol: symbol}, d
}

// State returns a snapshot of the daily counters.
func (g *RiskGate) State() RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return RiskState{
		Day:             g.day,
		DailyTradeCount: g.count,
		DailyPnL:        g.pnl,
		Pending:         len(g.inFlight),
	}
}

func (g *RiskGate) validateLocked(symbol string, entryPrice decimal.Decimal, stopLoss *decimal.Decimal) domain.RiskDecision {
	if g.count+len(g.inFlight) >= g.cfg.MaxDailyTrades {
		g.logger.Warn("risk_gate: daily trade limit reached",
			slog.String("symbol", symbol),
			slog.Int("count", g.count),
			slog.Int("pending", len(g.inFlight)),
			slog.Int("max", g.cfg.MaxDailyTrades),
		)
		return domain.RiskDecision{Reason: ReasonDailyTradeLimit}
	}

	if g.drawdownExceededLocked() {
		g.logger.Warn("risk_gate: daily drawdown limit reached",
			slog.String("symbol", symbol),
			slog.String("daily_pnl", g.pnl.String()),
			slog.String("basis", string(g.cfg.DrawdownBasis)),
		)
		return domain.RiskDecision{Reason: ReasonDrawdownLimit}
	}

	if !entryPrice.IsPositive() {
		return domain.RiskDecision{Reason: ReasonInvalidPrice}
	}

	if stopLoss != nil && !stopLoss.LessThan(entryPrice) {
		return domain.RiskDecision{Reason: ReasonInvalidStopLoss}
	}

	// Fixed-fraction sizing. The stop distance does not enter the size.
	size := entryPrice.Mul(g.cfg.MaxPositionSizePct).Div(hundred)
	return domain.RiskDecision{
		Valid:        true,
		PositionSize: size,
		RiskAmount:   size.Mul(g.cfg.RiskPerTradePct).Div(hundred),
	}
}

func (g *RiskGate) drawdownExceededLocked() bool {
	switch g.cfg.DrawdownBasis {
	case DrawdownRaw:
		return g.pnl.Abs().GreaterThan(g.cfg.MaxDailyDrawdownPct)
	default:
		if !g.pnl.IsNegative() || !g.cfg.AccountEquity.IsPositive() {
			return false
		}
		lossPct := g.pnl.Neg().Div(g.cfg.AccountEquity).Mul(hundred)
		return lossPct.GreaterThan(g.cfg.MaxDailyDrawdownPct)
	}
}

// rolloverLocked resets the daily counters when the UTC day has changed.
// Outstanding reservations stay in flight and commit into the new day.
func (g *RiskGate) rolloverLocked() {
	today := utcDay(g.now())
	if today.Equal(g.day) {
		return
	}
	g.logger.Info("risk_gate: daily rollover",
		slog.Time("previous_day", g.day),
		slog.Int("trades", g.count),
		slog.String("pnl", g.pnl.String()),
	)
	g.day = today
	g.count = 0
	g.pnl = decimal.Zero
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// Reservation holds a daily-limit slot for one symbol between validation and
// the execution outcome.
type Reservation struct {
	gate   *RiskGate
	symbol string
	once   sync.Once
}

// Symbol returns the reserved symbol.
func (r *Reservation) Symbol() string { return r.symbol }

// Commit records the trade and frees the slot.
func (r *Reservation) Commit(pnl decimal.Decimal) {
	r.once.Do(func() {
		g := r.gate
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.inFlight, r.symbol)
		g.rolloverLocked()
		g.count++
		g.pnl = g.pnl.Add(pnl)
	})
}

// Release frees the slot without recording a trade.
func (r *Reservation) Release() {
	r.once.Do(func() {
		g := r.gate
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.inFlight, r.symbol)
	})
}
