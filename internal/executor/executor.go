// Package executor submits approved trades to a swap venue. Each venue is a
// fixed variant selected at startup; an unknown venue name is rejected when
// the executor is built, never at call time.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/metrics"
)

var hundred = decimal.NewFromInt(100)

// SwapRequest is what a venue receives for one trade.
type SwapRequest struct {
	InputMint    string          `json:"input_mint"`
	OutputMint   string          `json:"output_mint"`
	Amount       decimal.Decimal `json:"amount"`
	MinAmountOut decimal.Decimal `json:"min_amount_out"`
	SlippageBps  int64           `json:"slippage_bps"`
	Wallet       string          `json:"wallet"`
}

// Venue submits a swap and returns the transaction signature.
type Venue interface {
	Name() string
	Swap(ctx context.Context, req SwapRequest) (string, error)
}

// Config holds the executor parameters. MaxSlippagePct is a plain
// percentage.
type Config struct {
	MaxSlippagePct decimal.Decimal
	Timeout        time.Duration
	Wallet         string
}

// Executor turns an approved trade into a submitted swap. It never retries:
// a failed submission is reported once and the trade is abandoned.
type Executor struct {
	venue  Venue
	cfg    Config
	logger *slog.Logger
}

// New creates an Executor for venue.
func New(cfg Config, venue Venue, logger *slog.Logger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Executor{
		venue:  venue,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "executor"), slog.String("venue", venue.Name())),
	}
}

// Venue returns the name of the configured venue.
func (e *Executor) Venue() string { return e.venue.Name() }

// Execute swaps amount of inputToken into outputToken. The minimum accepted
// output is amount reduced by the configured slippage.
func (e *Executor) Execute(ctx context.Context, inputToken, outputToken string, amount decimal.Decimal) domain.ExecutionResult {
	venue := e.venue.Name()
	minOut := amount.Mul(decimal.NewFromInt(1).Sub(e.cfg.MaxSlippagePct.Div(hundred)))
	result := domain.ExecutionResult{
		Venue:        venue,
		AmountIn:     amount,
		MinAmountOut: minOut,
	}

	log := e.logger.With(
		slog.String("input_token", inputToken),
		slog.String("output_token", outputToken),
		slog.String("amount", amount.String()),
	)

	if inputToken == "" || outputToken == "" || inputToken == outputToken || !amount.IsPositive() {
		result.Error = fmt.Sprintf("invalid swap %s -> %s amount %s", inputToken, outputToken, amount)
		metrics.Executions.WithLabelValues(venue, "failure").Inc()
		log.Warn("executor: swap rejected", slog.String("error", result.Error))
		return result
	}

	req := SwapRequest{
		InputMint:    inputToken,
		OutputMint:   outputToken,
		Amount:       amount,
		MinAmountOut: minOut,
		SlippageBps:  e.cfg.MaxSlippagePct.Mul(hundred).IntPart(),
		Wallet:       e.cfg.Wallet,
	}

	swapCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	sig, err := e.venue.Swap(swapCtx, req)
	metrics.ExecutionLatency.WithLabelValues(venue).Observe(time.Since(start).Seconds())
	if err != nil {
		result.Error = fmt.Errorf("%w: %w", domain.ErrExecutionFailed, err).Error()
		metrics.Executions.WithLabelValues(venue, "failure").Inc()
		log.Error("executor: swap failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		return result
	}

	result.Success = true
	result.Signature = sig
	metrics.Executions.WithLabelValues(venue, "success").Inc()
	log.Info("executor: swap submitted",
		slog.String("signature", sig),
		slog.String("min_amount_out", minOut.String()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return result
}
