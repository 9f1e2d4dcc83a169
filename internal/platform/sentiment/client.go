// Package sentiment is a REST client for a social-sentiment scoring service.
package sentiment

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

// Score is the aggregated sentiment for one symbol. Score is in [-1, 1].
type Score struct {
	Symbol   string          `json:"symbol"`
	Score    decimal.Decimal `json:"score"`
	Mentions int             `json:"mentions"`
}

type scoresResponse struct {
	Scores []Score `json:"scores"`
}

// Client queries GET {baseURL}/v1/sentiment.
type Client struct {
	client *resty.Client
}

// NewClient creates a sentiment client. apiKey may be empty.
func NewClient(baseURL, apiKey string) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(30 * time.Second)
	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &Client{client: client}
}

// Scores returns the latest sentiment for the given symbols.
func (c *Client) Scores(ctx context.Context, symbols []string) ([]Score, error) {
	var out scoresResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("symbols", strings.Join(symbols, ",")).
		SetResult(&out).
		Get("/v1/sentiment")
	if err != nil {
		return nil, fmt.Errorf("sentiment: get scores: %w: %w", domain.ErrConnection, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("sentiment: get scores: unexpected status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.Scores, nil
}
