package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/platform/solana"
)

const (
	testWallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	bonkMint   = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

// walletTx builds a transaction in which testWallet pays the fee, changes its
// SOL balance by solDelta lamports (fee excluded) and receives tokenOut of
// mint.
func walletTx(program string, solDelta int64, mint, tokenOut string) *solana.Transaction {
	const fee = 5000
	pre := uint64(10 * solana.LamportsPerSOL)
	post := uint64(int64(pre) + solDelta - fee)

	tx := &solana.Transaction{
		Slot: 1,
		Meta: solana.TransactionMeta{
			Err:          json.RawMessage("null"),
			Fee:          fee,
			PreBalances:  []uint64{pre, 0},
			PostBalances: []uint64{post, 0},
		},
		Body: solana.TransactionBody{
			Signatures: []string{"sig"},
			Message: solana.Message{
				AccountKeys: []solana.AccountKey{
					{Pubkey: testWallet, Signer: true, Writable: true},
					{Pubkey: program},
				},
				Instructions: []solana.Instruction{{ProgramID: program}},
			},
		},
	}
	blockTime := int64(1_760_000_000)
	tx.BlockTime = &blockTime

	if mint != "" {
		tx.Meta.PostTokenBalances = []solana.TokenBalance{{
			AccountIndex:  2,
			Mint:          mint,
			Owner:         testWallet,
			UITokenAmount: solana.UITokenAmount{UIAmountString: tokenOut},
		}}
	}
	return tx
}

func testFilter() WalletFilter {
	return WalletFilter{
		MinSOL:  decimal.RequireFromString("0.1"),
		Symbols: map[string]string{bonkMint: "BONK"},
	}
}

func TestMapWalletTransactionSwap(t *testing.T) {
	tx := walletTx(solana.RaydiumAMMv4, -2*solana.LamportsPerSOL, bonkMint, "1000000")

	ev, err := MapWalletTransaction(testWallet, "sig1", tx, testFilter())
	require.NoError(t, err)

	assert.Equal(t, domain.EventWalletTransaction, ev.Type)
	assert.Equal(t, domain.KindSwap, ev.Kind)
	assert.Equal(t, "BONK", ev.Symbol)
	assert.Equal(t, "SOL", ev.InputSymbol)
	assert.Equal(t, solana.NativeSOLMint, ev.InputToken)
	assert.Equal(t, bonkMint, ev.OutputToken)
	assert.True(t, ev.Amount.Equal(dec(t, "2")), "fee is not part of the swap: %s", ev.Amount)
	assert.True(t, ev.Price.Equal(dec(t, "0.000002")), "price in SOL per token: %s", ev.Price)
	assert.Equal(t, "sig1", ev.TxID)
	assert.Equal(t, time.Unix(1_760_000_000, 0).UTC(), ev.Timestamp)
}

func TestMapWalletTransactionInnerInstructionSwap(t *testing.T) {
	tx := walletTx("JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4", -2*solana.LamportsPerSOL, bonkMint, "10")
	tx.Meta.InnerInstructions = []solana.InnerInstructions{{
		Index:        0,
		Instructions: []solana.Instruction{{ProgramID: solana.OrcaSwapV1}},
	}}
	assert.Equal(t, domain.KindSwap, ClassifyTransaction(tx))
}

func TestMapWalletTransactionFilters(t *testing.T) {
	whitelisted := testFilter()
	whitelisted.Whitelist = map[string]bool{"OtherMint111111111111111111111111111111111": true}

	failed := walletTx(solana.RaydiumAMMv4, -2*solana.LamportsPerSOL, bonkMint, "1000")
	failed.Meta.Err = json.RawMessage(`{"InstructionError":[0,"Custom"]}`)

	tests := []struct {
		name   string
		tx     *solana.Transaction
		filter WalletFilter
	}{
		{"swap below minimum", walletTx(solana.RaydiumAMMv4, -50_000_000, bonkMint, "1000"), testFilter()},
		{"mint not whitelisted", walletTx(solana.RaydiumAMMv4, -2*solana.LamportsPerSOL, bonkMint, "1000"), whitelisted},
		{"failed on chain", failed, testFilter()},
		{"transfer below minimum", walletTx(solana.SystemProgramID, -1_000_000, "", ""), testFilter()},
		{"no balance change", walletTx(solana.SystemProgramID, 0, "", ""), testFilter()},
		{"nil transaction", nil, testFilter()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MapWalletTransaction(testWallet, "sig", tt.tx, tt.filter)
			assert.ErrorIs(t, err, domain.ErrMapping)
		})
	}
}

func TestMapWalletTransactionTransfer(t *testing.T) {
	tx := walletTx(solana.SystemProgramID, -1_500_000_000, "", "")

	ev, err := MapWalletTransaction(testWallet, "sig2", tx, testFilter())
	require.NoError(t, err)
	assert.Equal(t, domain.KindTransfer, ev.Kind)
	assert.Equal(t, "SOL", ev.Symbol)
	assert.Equal(t, solana.NativeSOLMint, ev.Token)
	assert.True(t, ev.Amount.Equal(dec(t, "1.5")))
	assert.False(t, ev.HasPrice())
}

type fakeFetcher struct {
	mu    sync.Mutex
	txs   map[string]*solana.Transaction
	calls int
}

func (f *fakeFetcher) GetTransaction(_ context.Context, sig string) (*solana.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if tx, ok := f.txs[sig]; ok {
		return tx, nil
	}
	return nil, domain.ErrNotFound
}

// newPubSubServer accepts one logsSubscribe, confirms it and then sends the
// given signatures as notifications.
func newPubSubServer(t *testing.T, signatures ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		if err := conn.ReadJSON(&req); err != nil || req.Method != "logsSubscribe" {
			return
		}
		_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": 7})

		for _, sig := range signatures {
			_ = conn.WriteJSON(map[string]any{
				"jsonrpc": "2.0",
				"method":  "logsNotification",
				"params": map[string]any{
					"subscription": 7,
					"result": map[string]any{
						"context": map[string]any{"slot": 42},
						"value":   map[string]any{"signature": sig, "err": nil, "logs": []string{}},
					},
				},
			})
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestWalletMonitorRunDispatchesDeduplicatedEvents(t *testing.T) {
	srv := newPubSubServer(t, "sig1", "sig1", "missing")
	defer srv.Close()

	fetcher := &fakeFetcher{txs: map[string]*solana.Transaction{
		"sig1": walletTx(solana.RaydiumAMMv4, -2*solana.LamportsPerSOL, bonkMint, "1000000"),
	}}
	mon := NewWalletMonitor(WalletMonitorConfig{
		WSURL:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		Wallets: []string{testWallet},
		Filter:  testFilter(),
	}, fetcher, discardLogger())

	events := make(chan domain.NormalizedEvent, 4)
	mon.Subscribe(func(_ context.Context, ev domain.NormalizedEvent) error {
		events <- ev
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	select {
	case ev := <-events:
		assert.Equal(t, "sig1", ev.TxID)
		assert.Equal(t, testWallet, ev.Wallet)
		assert.Equal(t, "BONK", ev.Symbol)
	case <-time.After(5 * time.Second):
		t.Fatal("no event dispatched")
	}

	select {
	case ev := <-events:
		t.Fatalf("unexpected second event %s", ev.TxID)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("wallet monitor did not stop")
	}
}

func TestWalletMonitorWithoutWalletsIsFatal(t *testing.T) {
	mon := NewWalletMonitor(WalletMonitorConfig{WSURL: "ws://127.0.0.1:1"}, &fakeFetcher{}, discardLogger())
	err := mon.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrSourceFatal)
}

func TestWalletMonitorRejectedEndpointIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	mon := NewWalletMonitor(WalletMonitorConfig{
		WSURL:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		Wallets: []string{testWallet},
	}, &fakeFetcher{}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, mon.Run(ctx), domain.ErrSourceFatal)
}
