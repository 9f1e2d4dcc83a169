// Package coordinator routes normalized events from every source through the
// risk gate, the executor and the position ledger, and fans each decision out
// to the configured recorders.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/feed"
	"github.com/alanyoungcy/chainbot/internal/metrics"
	"github.com/alanyoungcy/chainbot/internal/service"
)

const defaultRecordTimeout = 2 * time.Second

// Rejection reasons raised before the risk gate is consulted.
const (
	ReasonNoInputQuote  = "no quote price for input token"
	ReasonUnquotedToken = "output token has no quoted symbol"
)

// Executor submits an approved swap. The concrete implementation is
// executor.Executor bound to one venue.
type Executor interface {
	Execute(ctx context.Context, inputToken, outputToken string, amount decimal.Decimal) domain.ExecutionResult
	Venue() string
}

// Config tunes coordinator behaviour that is not owned by a collaborator.
type Config struct {
	// StrongSentiment is the absolute score above which a sentiment alert is
	// logged at Info instead of Debug.
	StrongSentiment decimal.Decimal
	// RecordTimeout bounds each recorder call.
	RecordTimeout time.Duration
	// QuoteSymbols are priced at exactly 1 in the quote currency of the
	// tick sources (USDC, USDT).
	QuoteSymbols []string
}

// Deps are the collaborators a Coordinator needs. Prices and Recorders are
// optional.
type Deps struct {
	Gate       *service.RiskGate
	Ledger     *service.PositionLedger
	Executor   Executor
	Prices     domain.PriceCache
	Recorders  []domain.Recorder
	Supervisor *feed.Supervisor
	Sources    []feed.Source
	Now        func() time.Time
}

// Coordinator owns the trade pipeline. HandleEvent is safe for concurrent use
// by every source; per-symbol atomicity is provided by RiskGate.Reserve and
// PositionLedger.Apply.
type Coordinator struct {
	cfg        Config
	gate       *service.RiskGate
	ledger     *service.PositionLedger
	exec       Executor
	prices     domain.PriceCache
	recorders  []domain.Recorder
	supervisor *feed.Supervisor
	sources    []feed.Source
	now        func() time.Time
	logger     *slog.Logger

	quoteSymbols map[string]bool

	// Last price_tick price per symbol, in the quote currency.
	quotesMu sync.RWMutex
	quotes   map[string]decimal.Decimal
}

// New creates a Coordinator and subscribes it to every source in deps.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Coordinator, error) {
	switch {
	case deps.Gate == nil:
		return nil, errors.New("coordinator: risk gate is required")
	case deps.Ledger == nil:
		return nil, errors.New("coordinator: position ledger is required")
	case deps.Executor == nil:
		return nil, errors.New("coordinator: executor is required")
	case deps.Supervisor == nil:
		return nil, errors.New("coordinator: supervisor is required")
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = defaultRecordTimeout
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	c := &Coordinator{
		cfg:        cfg,
		gate:       deps.Gate,
		ledger:     deps.Ledger,
		exec:       deps.Executor,
		prices:     deps.Prices,
		recorders:  deps.Recorders,
		supervisor: deps.Supervisor,
		sources:    deps.Sources,
		now:        now,
		logger:     logger.With(slog.String("component", "coordinator")),

		quoteSymbols: make(map[string]bool, len(cfg.QuoteSymbols)),
		quotes:       make(map[string]decimal.Decimal),
	}
	for _, s := range cfg.QuoteSymbols {
		c.quoteSymbols[strings.ToUpper(s)] = true
	}
	for _, src := range c.sources {
		src.Subscribe(c.HandleEvent)
	}
	return c, nil
}

// Run supervises every source until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator: starting",
		slog.Int("sources", len(c.sources)),
		slog.String("venue", c.exec.Venue()),
		slog.Int("recorders", len(c.recorders)),
	)
	return c.supervisor.Run(ctx, c.sources)
}

// HandleEvent routes one event. It is registered as a feed.Handler on every
// source.
func (c *Coordinator) HandleEvent(ctx context.Context, ev domain.NormalizedEvent) error {
	switch ev.Type {
	case domain.EventWalletTransaction:
		return c.onWalletTransaction(ctx, ev)
	case domain.EventPriceTick:
		return c.onPriceTick(ctx, ev)
	case domain.EventVolatilityAlert:
		c.logger.InfoContext(ctx, "coordinator: market alert",
			slog.String("source", ev.Source),
			slog.String("symbol", ev.Symbol),
			slog.String("price", ev.Price.String()),
			slog.String("change_pct", ev.Score.String()),
		)
	case domain.EventSentimentAlert:
		c.onSentiment(ctx, ev)
	case domain.EventChainTransaction:
		c.logger.InfoContext(ctx, "coordinator: chain transaction",
			slog.String("chain", ev.Chain),
			slog.String("kind", ev.Kind),
			slog.String("tx", ev.TxID),
			slog.String("value", ev.Amount.String()),
		)
	default:
		c.logger.DebugContext(ctx, "coordinator: unhandled event type",
			slog.String("type", string(ev.Type)),
			slog.String("source", ev.Source),
		)
	}
	return nil
}

func (c *Coordinator) onWalletTransaction(ctx context.Context, ev domain.NormalizedEvent) error {
	if ev.Kind != domain.KindSwap || !ev.HasPrice() {
		c.logger.DebugContext(ctx, "coordinator: wallet transaction not tradable",
			slog.String("kind", ev.Kind),
			slog.String("tx", ev.TxID),
		)
		return nil
	}

	// Positions are keyed and priced like the tick sources: a quoted symbol
	// and a price in the quote currency.
	if ev.Symbol == ev.OutputToken {
		c.reject(ctx, ev, ev.Price, ReasonUnquotedToken)
		return nil
	}
	inQuote, ok := c.quote(ctx, ev.InputSymbol)
	if !ok {
		c.reject(ctx, ev, ev.Price, ReasonNoInputQuote)
		return nil
	}

	req := domain.TradeRequest{
		Symbol:          ev.Symbol,
		EntryPrice:      ev.Price.Mul(inQuote),
		InputToken:      ev.InputToken,
		OutputToken:     ev.OutputToken,
		CandidateAmount: ev.Amount,
	}
	if ev.StopLoss != nil {
		sl := ev.StopLoss.Mul(inQuote)
		req.StopLoss = &sl
	}

	res, decision := c.gate.Reserve(req.Symbol, req.EntryPrice, req.StopLoss)
	if !decision.Valid {
		c.reject(ctx, ev, req.EntryPrice, decision.Reason)
		return nil
	}

	// position_size is in the quote currency; the venue swaps input tokens.
	amountIn := decision.PositionSize.Div(inQuote)
	result := c.exec.Execute(ctx, req.InputToken, req.OutputToken, amountIn)
	if !result.Success {
		res.Release()
		c.logger.WarnContext(ctx, "coordinator: execution failed",
			slog.String("symbol", req.Symbol),
			slog.String("venue", result.Venue),
			slog.String("error", result.Error),
		)
		c.record(ctx, domain.DecisionRecord{
			Kind:   domain.DecisionExecutionFailed,
			Symbol: req.Symbol,
			Reason: result.Error,
			Price:  req.EntryPrice,
			Size:   decision.PositionSize,
			Source: ev.Source,
		})
		return nil
	}

	// The realized result arrives on close; the trade counts now.
	res.Commit(decimal.Zero)
	pos, err := c.ledger.Initialize(req.Symbol, req.EntryPrice, decision.PositionSize)
	if err != nil {
		return fmt.Errorf("coordinator: open position %s: %w", req.Symbol, err)
	}
	metrics.PositionsOpen.Set(float64(c.ledger.Len()))

	c.logger.InfoContext(ctx, "coordinator: trade executed",
		slog.String("symbol", pos.Symbol),
		slog.String("entry_price", pos.EntryPrice.String()),
		slog.String("position_size", pos.PositionSize.String()),
		slog.String("amount_in", amountIn.String()),
		slog.String("risk_amount", decision.RiskAmount.String()),
		slog.String("signature", result.Signature),
	)
	c.record(ctx, domain.DecisionRecord{
		Kind:      domain.DecisionExecuted,
		Symbol:    pos.Symbol,
		Price:     pos.EntryPrice,
		Size:      pos.PositionSize,
		Signature: result.Signature,
		Source:    ev.Source,
	})
	return nil
}

func (c *Coordinator) reject(ctx context.Context, ev domain.NormalizedEvent, price decimal.Decimal, reason string) {
	metrics.RiskRejections.WithLabelValues(reason).Inc()
	c.logger.WarnContext(ctx, "coordinator: trade rejected",
		slog.String("symbol", ev.Symbol),
		slog.String("input", ev.InputSymbol),
		slog.String("reason", reason),
		slog.String("tx", ev.TxID),
	)
	c.record(ctx, domain.DecisionRecord{
		Kind:   domain.DecisionRejected,
		Symbol: ev.Symbol,
		Reason: reason,
		Price:  price,
		Source: ev.Source,
	})
}

func (c *Coordinator) onPriceTick(ctx context.Context, ev domain.NormalizedEvent) error {
	if !ev.HasPrice() {
		return nil
	}
	c.quotesMu.Lock()
	c.quotes[ev.Symbol] = ev.Price
	c.quotesMu.Unlock()
	if c.prices != nil {
		if err := c.prices.SetPrice(ctx, ev.Symbol, ev.Price, ev.Timestamp); err != nil {
			c.logger.WarnContext(ctx, "coordinator: price cache update failed",
				slog.String("symbol", ev.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	decision, closed, err := c.ledger.Apply(ev.Symbol, ev.Price)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("coordinator: apply %s: %w", ev.Symbol, err)
	}
	if closed == nil {
		c.logger.DebugContext(ctx, "coordinator: position held",
			slog.String("symbol", ev.Symbol),
			slog.String("price", ev.Price.String()),
			slog.String("state", string(decision.State)),
		)
		return nil
	}
	c.closed(ctx, *closed, ev.Price, decision.Reason, ev.Source)
	return nil
}

func (c *Coordinator) onSentiment(ctx context.Context, ev domain.NormalizedEvent) {
	attrs := []any{
		slog.String("symbol", ev.Symbol),
		slog.String("score", ev.Score.String()),
		slog.Int("mentions", ev.Mentions),
	}
	if ev.Score.Abs().GreaterThan(c.cfg.StrongSentiment) {
		c.logger.InfoContext(ctx, "coordinator: strong sentiment", attrs...)
		return
	}
	c.logger.DebugContext(ctx, "coordinator: sentiment alert", attrs...)
}

// quote returns the quote-currency price of symbol: 1 for quote symbols,
// else the last price tick seen by this process, else the PriceCache.
func (c *Coordinator) quote(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	if symbol == "" {
		return decimal.Zero, false
	}
	if c.quoteSymbols[strings.ToUpper(symbol)] {
		return decimal.NewFromInt(1), true
	}
	c.quotesMu.RLock()
	p, ok := c.quotes[symbol]
	c.quotesMu.RUnlock()
	if ok {
		return p, true
	}
	if c.prices != nil {
		if p, _, err := c.prices.GetPrice(ctx, symbol); err == nil && p.IsPositive() {
			return p, true
		}
	}
	return decimal.Zero, false
}

// Close removes the position for symbol on operator request. The exit price
// is the last quoted price, or the entry price when none is known. It
// returns domain.ErrNotFound when no position is open.
func (c *Coordinator) Close(ctx context.Context, symbol string) (domain.Position, error) {
	pos, ok := c.ledger.Get(symbol)
	if !ok {
		return domain.Position{}, fmt.Errorf("coordinator: close %s: %w", symbol, domain.ErrNotFound)
	}
	price, ok := c.quote(ctx, symbol)
	if !ok {
		price = pos.EntryPrice
	}

	closed, ok := c.ledger.Close(symbol)
	if !ok {
		// A price tick closed it first.
		return domain.Position{}, fmt.Errorf("coordinator: close %s: %w", symbol, domain.ErrNotFound)
	}
	c.closed(ctx, closed, price, domain.CloseManual, "api")
	return closed, nil
}

func (c *Coordinator) closed(ctx context.Context, pos domain.Position, price decimal.Decimal, reason domain.CloseReason, source string) {
	pnl := pos.PnL(price)
	c.gate.Realize(pos.Symbol, pnl)
	metrics.PositionCloses.WithLabelValues(string(reason)).Inc()
	metrics.PositionsOpen.Set(float64(c.ledger.Len()))

	c.logger.InfoContext(ctx, "coordinator: position closed",
		slog.String("symbol", pos.Symbol),
		slog.String("reason", string(reason)),
		slog.String("entry_price", pos.EntryPrice.String()),
		slog.String("exit_price", price.String()),
		slog.String("pnl", pnl.String()),
	)
	c.record(ctx, domain.DecisionRecord{
		Kind:   domain.DecisionClosed,
		Symbol: pos.Symbol,
		Reason: string(reason),
		Price:  price,
		Size:   pos.PositionSize,
		PnL:    pnl,
		Source: source,
	})
}

// record stamps rec and hands it to every recorder. Recorder failures are
// logged and never change the decision.
func (c *Coordinator) record(ctx context.Context, rec domain.DecisionRecord) {
	rec.ID = uuid.NewString()
	rec.Timestamp = c.now().UTC()

	// Decisions taken during shutdown are still delivered.
	base := context.WithoutCancel(ctx)
	for _, r := range c.recorders {
		rctx, cancel := context.WithTimeout(base, c.cfg.RecordTimeout)
		err := r.Record(rctx, rec)
		cancel()
		if err != nil {
			c.logger.WarnContext(ctx, "coordinator: recorder failed",
				slog.String("recorder", r.Name()),
				slog.String("kind", string(rec.Kind)),
				slog.String("symbol", rec.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Positions returns every open position.
func (c *Coordinator) Positions() []domain.Position { return c.ledger.Snapshot() }

// Position returns the open position for symbol.
func (c *Coordinator) Position(symbol string) (domain.Position, bool) { return c.ledger.Get(symbol) }

// RiskState returns the risk gate's daily counters.
func (c *Coordinator) RiskState() service.RiskState { return c.gate.State() }

// SourceStatuses reports the supervisor's view of every source.
func (c *Coordinator) SourceStatuses() []feed.SourceStatus { return c.supervisor.Statuses() }
