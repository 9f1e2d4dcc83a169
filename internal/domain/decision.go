package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DecisionKind tags a DecisionRecord.
type DecisionKind string

const (
	DecisionRejected        DecisionKind = "rejected"
	DecisionExecuted        DecisionKind = "executed"
	DecisionExecutionFailed DecisionKind = "execution_failed"
	DecisionClosed          DecisionKind = "closed"
)

// DecisionRecord is the structured output of one coordinator decision point.
type DecisionRecord struct {
	ID        string          `json:"id"`
	Kind      DecisionKind    `json:"kind"`
	Symbol    string          `json:"symbol"`
	Reason    string          `json:"reason,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	PnL       decimal.Decimal `json:"pnl"`
	Signature string          `json:"signature,omitempty"`
	Source    string          `json:"source,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Recorder receives decision records. Implementations must not block for
// long; errors are logged by the caller and otherwise ignored.
type Recorder interface {
	Record(ctx context.Context, rec DecisionRecord) error
	Name() string
}
