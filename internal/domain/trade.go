package domain

import "github.com/shopspring/decimal"

// TradeRequest is a candidate trade derived from a wallet transaction.
type TradeRequest struct {
	Symbol          string
	EntryPrice      decimal.Decimal
	StopLoss        *decimal.Decimal
	InputToken      string
	OutputToken     string
	CandidateAmount decimal.Decimal
}

// RiskDecision is the risk gate's verdict on a TradeRequest. It is derived
// on every call and never stored.
type RiskDecision struct {
	Valid        bool
	Reason       string
	PositionSize decimal.Decimal
	RiskAmount   decimal.Decimal
}

// ExecutionResult is what a venue reports for a submitted swap.
type ExecutionResult struct {
	Success      bool
	Signature    string
	Error        string
	Venue        string
	AmountIn     decimal.Decimal
	MinAmountOut decimal.Decimal
}
