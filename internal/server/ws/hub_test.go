package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(func() any { return map[string]int{"open_positions": 2} },
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHubStreamsDecisions(t *testing.T) {
	hub, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	status := readFrame(t, conn)
	assert.Equal(t, "bot_status", status.Type)
	assert.JSONEq(t, `{"open_positions":2}`, string(status.Payload))

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	rec := domain.DecisionRecord{ID: "d1", Kind: domain.DecisionExecuted, Symbol: "SOL", Price: decimal.NewFromInt(100)}
	require.NoError(t, hub.Record(context.Background(), rec))

	f := readFrame(t, conn)
	assert.Equal(t, "decision", f.Type)
	var got domain.DecisionRecord
	require.NoError(t, json.Unmarshal(f.Payload, &got))
	assert.Equal(t, "d1", got.ID)
	assert.Equal(t, "SOL", got.Symbol)
}

func TestHubSubscriptionFilter(t *testing.T) {
	hub, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{"*"}}))
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Channels: []string{"closed"}}))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if c.isSubscribed("closed") && !c.isSubscribed("executed") {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Record(context.Background(), domain.DecisionRecord{ID: "skip", Kind: domain.DecisionExecuted}))
	require.NoError(t, hub.Record(context.Background(), domain.DecisionRecord{ID: "keep", Kind: domain.DecisionClosed}))

	f := readFrame(t, conn)
	var got domain.DecisionRecord
	require.NoError(t, json.Unmarshal(f.Payload, &got))
	assert.Equal(t, "keep", got.ID)
}

func TestRecordWithoutRunnerFillsQueue(t *testing.T) {
	hub := NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var err error
	for i := 0; i <= sendBufferSize; i++ {
		err = hub.Record(context.Background(), domain.DecisionRecord{Kind: domain.DecisionRejected})
	}
	assert.ErrorIs(t, err, ErrHubFull)
}
