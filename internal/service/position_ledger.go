package service

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

// LedgerConfig holds the exit thresholds applied to new positions.
// Percentages are plain numbers.
type LedgerConfig struct {
	StopLossPct           decimal.Decimal
	TakeProfitPct         decimal.Decimal
	TrailingActivationPct decimal.Decimal
	TrailingDistancePct   decimal.Decimal
}

// PositionLedger tracks open positions keyed by symbol and evaluates every
// price tick against their exit thresholds. It never removes a position on
// its own: Update only decides, Close (or Apply) removes.
type PositionLedger struct {
	cfg    LedgerConfig
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	positions map[string]*domain.Position
}

// NewPositionLedger creates an empty ledger. now may be nil.
func NewPositionLedger(cfg LedgerConfig, now func() time.Time, logger *slog.Logger) *PositionLedger {
	if now == nil {
		now = time.Now
	}
	return &PositionLedger{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "position_ledger")),
		now:       now,
		positions: make(map[string]*domain.Position),
	}
}

// Initialize opens a position for symbol, replacing any existing one.
func (l *PositionLedger) Initialize(symbol string, entryPrice, positionSize decimal.Decimal) (domain.Position, error) {
	if symbol == "" {
		return domain.Position{}, fmt.Errorf("position_ledger: initialize: empty symbol: %w", domain.ErrInvalidPosition)
	}
	if !entryPrice.IsPositive() || !positionSize.IsPositive() {
		return domain.Position{}, fmt.Errorf("position_ledger: initialize %s: entry %s size %s: %w",
			symbol, entryPrice, positionSize, domain.ErrInvalidPosition)
	}

	now := l.now().UTC()
	p := &domain.Position{
		Symbol:       symbol,
		EntryPrice:   entryPrice,
		PositionSize: positionSize,
		StopLoss:     entryPrice.Mul(decimal.NewFromInt(1).Sub(l.cfg.StopLossPct.Div(hundred))),
		TakeProfit:   entryPrice.Mul(decimal.NewFromInt(1).Add(l.cfg.TakeProfitPct.Div(hundred))),
		HighestPrice: entryPrice,
		State:        domain.PositionOpen,
		OpenedAt:     now,
		UpdatedAt:    now,
	}

	l.mu.Lock()
	_, replaced := l.positions[symbol]
	l.positions[symbol] = p
	l.mu.Unlock()

	l.logger.Info("position_ledger: position initialized",
		slog.String("symbol", symbol),
		slog.String("entry_price", entryPrice.String()),
		slog.String("position_size", positionSize.String()),
		slog.String("stop_loss", p.StopLoss.String()),
		slog.String("take_profit", p.TakeProfit.String()),
		slog.Bool("replaced", replaced),
	)
	return *p, nil
}

// Update applies a price tick to the position and returns the exit decision.
// It returns domain.ErrNotFound when no position is open for symbol.
func (l *PositionLedger) Update(symbol string, price decimal.Decimal) (domain.ExitDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[symbol]
	if !ok {
		return domain.ExitDecision{}, fmt.Errorf("position_ledger: update %s: %w", symbol, domain.ErrNotFound)
	}
	return l.updateLocked(p, price), nil
}

// Close removes the position for symbol. Closing an absent symbol is a no-op;
// the returned bool reports whether a position was removed.
func (l *PositionLedger) Close(symbol string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked(symbol)
}

// Apply runs Update and, when the decision is to close, Close, in one
// critical section. The closed position is returned with the decision.
func (l *PositionLedger) Apply(symbol string, price decimal.Decimal) (domain.ExitDecision, *domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[symbol]
	if !ok {
		return domain.ExitDecision{}, nil, fmt.Errorf("position_ledger: apply %s: %w", symbol, domain.ErrNotFound)
	}
	d := l.updateLocked(p, price)
	if !d.ShouldClose() {
		return d, nil, nil
	}
	closed, _ := l.closeLocked(symbol)
	return d, &closed, nil
}

// Get returns a copy of the open position for symbol.
func (l *PositionLedger) Get(symbol string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return copyPosition(p), true
}

// Snapshot returns copies of all open positions sorted by symbol.
func (l *PositionLedger) Snapshot() []domain.Position {
	l.mu.Lock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, copyPosition(p))
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len returns the number of open positions.
func (l *PositionLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

func (l *PositionLedger) updateLocked(p *domain.Position, price decimal.Decimal) domain.ExitDecision {
	p.UpdatedAt = l.now().UTC()

	if price.GreaterThan(p.HighestPrice) {
		p.HighestPrice = price
		gainPct := price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(hundred)
		if gainPct.GreaterThanOrEqual(l.cfg.TrailingActivationPct) {
			// highest_price only increases, so the stop only ratchets up.
			ts := price.Mul(decimal.NewFromInt(1).Sub(l.cfg.TrailingDistancePct.Div(hundred)))
			p.TrailingStop = &ts
			p.State = domain.PositionArmed
		}
	}

	d := domain.ExitDecision{
		Action:       domain.ExitHold,
		Price:        price,
		StopLoss:     p.StopLoss,
		TakeProfit:   p.TakeProfit,
		TrailingStop: copyDecimal(p.TrailingStop),
		HighestPrice: p.HighestPrice,
		State:        p.State,
	}

	switch {
	case price.LessThanOrEqual(p.StopLoss):
		d.Action, d.Reason = domain.ExitClose, domain.CloseStopLoss
	case price.GreaterThanOrEqual(p.TakeProfit):
		d.Action, d.Reason = domain.ExitClose, domain.CloseTakeProfit
	case p.TrailingStop != nil && price.LessThanOrEqual(*p.TrailingStop):
		d.Action, d.Reason = domain.ExitClose, domain.CloseTrailingStop
	}
	return d
}

func (l *PositionLedger) closeLocked(symbol string) (domain.Position, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	delete(l.positions, symbol)

	out := copyPosition(p)
	out.State = domain.PositionClosed
	out.UpdatedAt = l.now().UTC()
	return out, true
}

func copyPosition(p *domain.Position) domain.Position {
	out := *p
	out.TrailingStop = copyDecimal(p.TrailingStop)
	return out
}

func copyDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
