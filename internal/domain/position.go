package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionState is the exit state machine's current state.
type PositionState string

const (
	PositionOpen   PositionState = "OPEN"
	PositionArmed  PositionState = "ARMED" // trailing stop active
	PositionClosed PositionState = "CLOSED"
)

// CloseReason names the threshold that triggered a close decision.
type CloseReason string

const (
	CloseStopLoss     CloseReason = "stop_loss"
	CloseTakeProfit   CloseReason = "take_profit"
	CloseTrailingStop CloseReason = "trailing_stop"
	CloseManual       CloseReason = "manual"
)

// ExitAction is the outcome of evaluating a price tick against a position.
type ExitAction string

const (
	ExitHold  ExitAction = "hold"
	ExitClose ExitAction = "close"
)

// Position is an open trade keyed by symbol.
type Position struct {
	Symbol       string           `json:"symbol"`
	EntryPrice   decimal.Decimal  `json:"entry_price"`
	PositionSize decimal.Decimal  `json:"position_size"`
	StopLoss     decimal.Decimal  `json:"stop_loss"`
	TakeProfit   decimal.Decimal  `json:"take_profit"`
	TrailingStop *decimal.Decimal `json:"trailing_stop"`
	HighestPrice decimal.Decimal  `json:"highest_price"`
	State        PositionState    `json:"state"`
	OpenedAt     time.Time        `json:"opened_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// PnL returns the profit or loss of closing the position at price, in the
// same units as PositionSize.
func (p Position) PnL(price decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return p.PositionSize.Mul(price.Sub(p.EntryPrice)).Div(p.EntryPrice)
}

// ExitDecision is returned for every price update. Thresholds are reported
// on hold as well as on close.
type ExitDecision struct {
	Action       ExitAction
	Reason       CloseReason
	Price        decimal.Decimal
	StopLoss     decimal.Decimal
	TakeProfit   decimal.Decimal
	TrailingStop *decimal.Decimal
	HighestPrice decimal.Decimal
	State        PositionState
}

// ShouldClose reports whether the decision asks the caller to close.
func (d ExitDecision) ShouldClose() bool {
	return d.Action == ExitClose
}
