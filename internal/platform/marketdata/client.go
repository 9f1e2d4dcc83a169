// Package marketdata is a REST client for a token market-data service that
// reports price, liquidity and 24h changes per symbol.
package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

// Market is one symbol's market snapshot.
type Market struct {
	Symbol          string          `json:"symbol"`
	Price           decimal.Decimal `json:"price"`
	Liquidity       decimal.Decimal `json:"liquidity"`
	Volume24h       decimal.Decimal `json:"volume_24h"`
	PriceChangePct  decimal.Decimal `json:"price_change_pct"`
	VolumeChangePct decimal.Decimal `json:"volume_change_pct"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type marketsResponse struct {
	Markets []Market `json:"markets"`
}

// Client queries GET {baseURL}/v1/markets.
type Client struct {
	client *resty.Client
}

// NewClient creates a market-data client. apiKey may be empty.
func NewClient(baseURL, apiKey string) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(15 * time.Second)
	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		client.SetHeader("X-API-Key", apiKey)
	}
	return &Client{client: client}
}

// Markets returns snapshots for the given symbols.
func (c *Client) Markets(ctx context.Context, symbols []string) ([]Market, error) {
	var out marketsResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("symbols", strings.Join(symbols, ",")).
		SetResult(&out).
		Get("/v1/markets")
	if err != nil {
		return nil, fmt.Errorf("marketdata: get markets: %w: %w", domain.ErrConnection, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("marketdata: get markets: unexpected status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.Markets, nil
}
