package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// LogsHandler is called for every logsNotification.
type LogsHandler func(LogsNotification)

// WSClient is a Solana PubSub websocket client. One WSClient serves one
// connection; the caller reconnects by creating a new client.
type WSClient struct {
	wsURL string

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	nextID  uint64
	pending map[uint64]string // request id -> address
	subs    map[uint64]string // subscription id -> address

	handlers  []LogsHandler
	handlerMu sync.RWMutex
}

// NewWSClient creates a client for the given PubSub endpoint, e.g.
// "wss://api.mainnet-beta.solana.com".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL:   wsURL,
		pending: make(map[uint64]string),
		subs:    make(map[uint64]string),
	}
}

// Connect dials the endpoint. Handshake rejections that retrying cannot fix
// (bad path, auth) are wrapped with domain.ErrSourceFatal; everything else
// with domain.ErrConnection.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("solana/ws: connect on closed client: %w", domain.ErrConnection)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
				return fmt.Errorf("solana/ws: connect: status %d: %w", resp.StatusCode, domain.ErrSourceFatal)
			}
		}
		return fmt.Errorf("solana/ws: connect: %w: %w", domain.ErrConnection, err)
	}

	w.conn = conn
	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return nil
}

// OnLogs registers a handler for log notifications.
func (w *WSClient) OnLogs(h LogsHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, h)
}

// LogsSubscribe subscribes to transactions mentioning address.
func (w *WSClient) LogsSubscribe(address string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("solana/ws: not connected: %w", domain.ErrConnection)
	}

	w.nextID++
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      w.nextID,
		Method:  "logsSubscribe",
		Params: []any{
			map[string]any{"mentions": []string{address}},
			map[string]any{"commitment": "confirmed"},
		},
	}
	w.pending[req.ID] = address

	if err := w.send(req); err != nil {
		delete(w.pending, req.ID)
		return fmt.Errorf("solana/ws: subscribe %s: %w: %w", address, domain.ErrConnection, err)
	}
	return nil
}

// Listen reads messages until the connection fails or ctx is done. A ping
// loop keeps the read deadline moving while the peer is alive.
func (w *WSClient) Listen(ctx context.Context) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("solana/ws: not connected: %w", domain.ErrConnection)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = w.Close()
		case <-done:
		}
	}()
	go w.pingLoop(conn, done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("solana/ws: read: %w: %w", domain.ErrConnection, err)
		}
		if err := w.handleMessage(message); err != nil {
			return err
		}
	}
}

// Close shuts down the connection. It is safe to call more than once.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.conn != nil {
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return w.conn.Close()
	}
	return nil
}

// send writes a JSON-RPC request. Caller must hold w.mu.
func (w *WSClient) send(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			w.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage routes a raw frame. Unparseable frames are dropped; a
// rejected subscription is fatal because the address itself is bad.
func (w *WSClient) handleMessage(raw []byte) error {
	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil
	}

	if resp.ID != nil {
		w.mu.Lock()
		address, ok := w.pending[*resp.ID]
		delete(w.pending, *resp.ID)
		if ok && resp.Error == nil {
			var sub uint64
			if err := json.Unmarshal(resp.Result, &sub); err == nil {
				w.subs[sub] = address
			}
		}
		w.mu.Unlock()

		if ok && resp.Error != nil {
			return fmt.Errorf("solana/ws: subscription for %s rejected: %w: %w", address, domain.ErrSourceFatal, resp.Error)
		}
		return nil
	}

	if resp.Method != "logsNotification" {
		return nil
	}

	var params logsNotificationParams
	if err := json.Unmarshal(resp.Params, &params); err != nil {
		return nil
	}

	w.mu.Lock()
	address := w.subs[params.Subscription]
	w.mu.Unlock()

	n := LogsNotification{
		Address:   address,
		Signature: params.Result.Value.Signature,
		Slot:      params.Result.Context.Slot,
		Failed:    len(params.Result.Value.Err) > 0 && string(params.Result.Value.Err) != "null",
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(n)
	}
	return nil
}
