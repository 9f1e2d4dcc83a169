package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

// priceMessage is the JSON shape published to the prices channel.
type priceMessage struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp string          `json:"ts"`
}

// PriceFeed subscribes to a SignalBus channel and emits a price_tick for
// every valid price message.
type PriceFeed struct {
	*Dispatcher
	bus     domain.SignalBus
	channel string
	logger  *slog.Logger
}

// NewPriceFeed creates a PriceFeed reading channel.
func NewPriceFeed(bus domain.SignalBus, channel string, logger *slog.Logger) *PriceFeed {
	logger = logger.With(slog.String("component", "price_feed"))
	return &PriceFeed{
		Dispatcher: NewDispatcher("price_feed", logger),
		bus:        bus,
		channel:    channel,
		logger:     logger,
	}
}

// Name implements Source.
func (f *PriceFeed) Name() string { return "price_feed" }

// Run subscribes and dispatches until ctx is cancelled. A closed
// subscription is returned as a connection error so the supervisor
// resubscribes.
func (f *PriceFeed) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, f.channel)
	if err != nil {
		return fmt.Errorf("price_feed: subscribe %s: %w", f.channel, err)
	}
	f.logger.Info("price_feed: started", slog.String("channel", f.channel))
	defer f.logger.Info("price_feed: stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return fmt.Errorf("price_feed: subscription closed: %w", domain.ErrConnection)
			}
			ev, err := ParsePriceMessage(data)
			if err != nil {
				f.logger.Debug("price_feed: message dropped",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
				continue
			}
			f.Dispatch(ctx, ev)
		}
	}
}

// ParsePriceMessage decodes one prices-channel payload.
func ParsePriceMessage(data []byte) (domain.NormalizedEvent, error) {
	var msg priceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("decode: %w: %w", domain.ErrMapping, err)
	}
	symbol := strings.TrimSpace(msg.Symbol)
	if symbol == "" || !msg.Price.IsPositive() {
		return domain.NormalizedEvent{}, fmt.Errorf("missing symbol or price: %w", domain.ErrMapping)
	}

	ts := time.Now().UTC()
	if msg.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
			ts = t
		}
	}
	return domain.NormalizedEvent{
		ID:        uuid.NewString(),
		Source:    "price_feed",
		Type:      domain.EventPriceTick,
		Symbol:    symbol,
		Token:     symbol,
		Price:     msg.Price,
		Timestamp: ts,
	}, nil
}
