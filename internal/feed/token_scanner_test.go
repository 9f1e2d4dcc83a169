package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/platform/marketdata"
	"github.com/alanyoungcy/chainbot/internal/platform/sentiment"
)

func testScannerConfig(t *testing.T) TokenScannerConfig {
	return TokenScannerConfig{
		Interval:              time.Hour,
		TargetTokens:          []string{"SOL", "ETH"},
		MinLiquidity:          dec(t, "10000"),
		VolumeChangeThreshold: dec(t, "200"),
		PriceChangeThreshold:  dec(t, "5"),
	}
}

func TestTokenScannerEvents(t *testing.T) {
	s := NewTokenScanner(testScannerConfig(t), nil, discardLogger())

	tests := []struct {
		name       string
		market     marketdata.Market
		wantEvents []domain.EventType
	}{
		{
			name:       "quiet market",
			market:     marketdata.Market{Symbol: "SOL", Price: dec(t, "150"), Liquidity: dec(t, "50000"), PriceChangePct: dec(t, "1")},
			wantEvents: []domain.EventType{domain.EventPriceTick},
		},
		{
			name:       "price drop",
			market:     marketdata.Market{Symbol: "SOL", Price: dec(t, "140"), Liquidity: dec(t, "50000"), PriceChangePct: dec(t, "-6")},
			wantEvents: []domain.EventType{domain.EventPriceTick, domain.EventVolatilityAlert},
		},
		{
			name:       "volume spike",
			market:     marketdata.Market{Symbol: "ETH", Price: dec(t, "3000"), Liquidity: dec(t, "50000"), VolumeChangePct: dec(t, "250")},
			wantEvents: []domain.EventType{domain.EventPriceTick, domain.EventVolatilityAlert},
		},
		{
			name:       "illiquid mover",
			market:     marketdata.Market{Symbol: "ETH", Price: dec(t, "3000"), Liquidity: dec(t, "500"), PriceChangePct: dec(t, "20")},
			wantEvents: []domain.EventType{domain.EventPriceTick},
		},
		{
			name:   "no price",
			market: marketdata.Market{Symbol: "ETH", Liquidity: dec(t, "50000")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []domain.EventType
			for _, ev := range s.eventsFor(tt.market) {
				got = append(got, ev.Type)
				assert.Equal(t, tt.market.Symbol, ev.Symbol)
			}
			assert.Equal(t, tt.wantEvents, got)
		})
	}
}

func TestTokenScannerPollsMarketData(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/v1/markets", r.URL.Path)
		assert.Equal(t, "SOL,ETH", r.URL.Query().Get("symbols"))
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"markets": []map[string]any{
			{"symbol": "SOL", "price": "151.25", "liquidity": "90000", "price_change_pct": "7.5"},
		}})
	}))
	defer srv.Close()

	s := NewTokenScanner(testScannerConfig(t), marketdata.NewClient(srv.URL, "k"), discardLogger())
	events := make(chan domain.NormalizedEvent, 4)
	s.Subscribe(func(_ context.Context, ev domain.NormalizedEvent) error {
		events <- ev
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	tick := <-events
	assert.Equal(t, domain.EventPriceTick, tick.Type)
	assert.True(t, tick.Price.Equal(dec(t, "151.25")))

	alert := <-events
	assert.Equal(t, domain.EventVolatilityAlert, alert.Type)
	assert.True(t, alert.Score.Equal(dec(t, "7.5")))
	assert.Equal(t, int32(1), hits.Load())
}

type flakyMarkets struct {
	calls atomic.Int32
}

func (f *flakyMarkets) Markets(context.Context, []string) ([]marketdata.Market, error) {
	if f.calls.Add(1) < 3 {
		return nil, errors.New("503 service unavailable")
	}
	return []marketdata.Market{{Symbol: "SOL", Price: decimalOne}}, nil
}

func TestTokenScannerSurvivesFetchErrors(t *testing.T) {
	cfg := testScannerConfig(t)
	cfg.Interval = 5 * time.Millisecond
	markets := &flakyMarkets{}
	s := NewTokenScanner(cfg, markets, discardLogger())

	got := make(chan struct{}, 1)
	s.Subscribe(func(context.Context, domain.NormalizedEvent) error {
		select {
		case got <- struct{}{}:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	select {
	case <-got:
		assert.GreaterOrEqual(t, markets.calls.Load(), int32(3))
	case <-time.After(5 * time.Second):
		t.Fatal("scanner did not recover")
	}
}

type staticScores []sentiment.Score

func (s staticScores) Scores(context.Context, []string) ([]sentiment.Score, error) { return s, nil }

func TestSentimentFeedThresholds(t *testing.T) {
	scores := staticScores{
		{Symbol: "SOL", Score: dec(t, "0.6"), Mentions: 40},
		{Symbol: "ETH", Score: dec(t, "-0.3"), Mentions: 15},
		{Symbol: "BTC", Score: dec(t, "0.9"), Mentions: 3},
		{Symbol: "BONK", Score: dec(t, "0.1"), Mentions: 500},
	}
	f := NewSentimentFeed(SentimentFeedConfig{
		Interval:    time.Hour,
		Threshold:   dec(t, "0.2"),
		MinMentions: 10,
	}, scores, discardLogger())

	var got []string
	f.Subscribe(func(_ context.Context, ev domain.NormalizedEvent) error {
		assert.Equal(t, domain.EventSentimentAlert, ev.Type)
		got = append(got, ev.Symbol)
		return nil
	})

	require.NoError(t, f.poll(context.Background()))
	assert.Equal(t, []string{"SOL", "ETH"}, got)
}

func TestSentimentClientOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"scores":[{"symbol":"SOL","score":"0.42","mentions":12}]}`))
	}))
	defer srv.Close()

	scores, err := sentiment.NewClient(srv.URL, "tok").Scores(context.Background(), []string{"SOL"})
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.True(t, scores[0].Score.Equal(dec(t, "0.42")))
	assert.Equal(t, 12, scores[0].Mentions)
}
