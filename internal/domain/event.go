package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType classifies a NormalizedEvent for routing in the coordinator.
type EventType string

const (
	EventWalletTransaction EventType = "wallet_transaction"
	EventChainTransaction  EventType = "chain_transaction"
	EventVolatilityAlert   EventType = "volatility_alert"
	EventSentimentAlert    EventType = "sentiment_alert"
	EventPriceTick         EventType = "price_tick"
)

// Event kinds refine an EventType. Wallet transactions are swap, transfer or
// unknown; chain transactions are native_transfer or contract_call.
const (
	KindSwap           = "swap"
	KindTransfer       = "transfer"
	KindUnknown        = "unknown"
	KindNativeTransfer = "native_transfer"
	KindContractCall   = "contract_call"
)

// NormalizedEvent is the source-agnostic form of anything a source detects.
// It is passed by value and never mutated after emission. Price is in the
// quote currency for price ticks and alerts; on wallet swaps it is
// InputToken units per OutputToken.
type NormalizedEvent struct {
	ID          string
	Source      string
	Type        EventType
	Kind        string
	Chain       string
	Wallet      string
	Token       string
	Symbol      string
	InputSymbol string // symbol of InputToken, set on wallet swaps
	InputToken  string
	OutputToken string
	Price       decimal.Decimal
	Amount      decimal.Decimal
	StopLoss    *decimal.Decimal
	Score       decimal.Decimal // sentiment score in [-1, 1]
	Mentions    int
	TxID        string
	Timestamp   time.Time
}

// HasPrice reports whether the event carries a usable price.
func (e NormalizedEvent) HasPrice() bool {
	return e.Symbol != "" && e.Price.IsPositive()
}
