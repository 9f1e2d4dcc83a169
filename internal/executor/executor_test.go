package executor

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbot/internal/crypto"
	"github.com/alanyoungcy/chainbot/internal/domain"
)

const (
	solMint  = "So11111111111111111111111111111111111111112"
	bonkMint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSigner(t *testing.T) (*crypto.Signer, ed25519.PublicKey) {
	t.Helper()
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey: "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60",
	})
	require.NoError(t, err)
	s, err := crypto.NewSigner(key)
	require.NoError(t, err)
	return s, key.Public().(ed25519.PublicKey)
}

type funcVenue struct {
	name string
	swap func(ctx context.Context, req SwapRequest) (string, error)
}

func (v funcVenue) Name() string { return v.name }

func (v funcVenue) Swap(ctx context.Context, req SwapRequest) (string, error) {
	return v.swap(ctx, req)
}

func TestExecuteSuccess(t *testing.T) {
	var got SwapRequest
	venue := funcVenue{name: "fake", swap: func(_ context.Context, req SwapRequest) (string, error) {
		got = req
		return "5sig", nil
	}}
	ex := New(Config{MaxSlippagePct: decimal.NewFromInt(1), Wallet: "W1"}, venue, discardLogger())

	res := ex.Execute(context.Background(), solMint, bonkMint, decimal.NewFromInt(10))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "5sig", res.Signature)
	assert.Equal(t, "fake", res.Venue)
	assert.True(t, res.MinAmountOut.Equal(decimal.RequireFromString("9.9")), res.MinAmountOut.String())

	assert.Equal(t, int64(100), got.SlippageBps)
	assert.Equal(t, "W1", got.Wallet)
	assert.Equal(t, solMint, got.InputMint)
	assert.True(t, got.MinAmountOut.Equal(res.MinAmountOut))
}

func TestExecuteFailureIsNotRetried(t *testing.T) {
	calls := 0
	venue := funcVenue{name: "fake", swap: func(context.Context, SwapRequest) (string, error) {
		calls++
		return "", errors.New("insufficient liquidity")
	}}
	ex := New(Config{MaxSlippagePct: decimal.NewFromInt(1)}, venue, discardLogger())

	res := ex.Execute(context.Background(), solMint, bonkMint, decimal.NewFromInt(10))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "insufficient liquidity")
	assert.Contains(t, res.Error, domain.ErrExecutionFailed.Error())
	assert.Equal(t, 1, calls)
}

func TestExecuteRejectsInvalidInput(t *testing.T) {
	venue := funcVenue{name: "fake", swap: func(context.Context, SwapRequest) (string, error) {
		t.Fatal("venue must not be called")
		return "", nil
	}}
	ex := New(Config{}, venue, discardLogger())

	assert.False(t, ex.Execute(context.Background(), solMint, bonkMint, decimal.Zero).Success)
	assert.False(t, ex.Execute(context.Background(), "", bonkMint, decimal.NewFromInt(1)).Success)
	assert.False(t, ex.Execute(context.Background(), solMint, solMint, decimal.NewFromInt(1)).Success)
}

func TestExecuteHonoursTimeout(t *testing.T) {
	venue := funcVenue{name: "slow", swap: func(ctx context.Context, _ SwapRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	ex := New(Config{Timeout: 20 * time.Millisecond}, venue, discardLogger())

	start := time.Now()
	res := ex.Execute(context.Background(), solMint, bonkMint, decimal.NewFromInt(1))
	assert.False(t, res.Success)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewVenue(t *testing.T) {
	signer, _ := testSigner(t)

	v, err := NewVenue("paper", VenueConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, VenuePaper, v.Name())

	v, err = NewVenue("Raydium", VenueConfig{BaseURL: "http://localhost"}, signer)
	require.NoError(t, err)
	assert.Equal(t, VenueRaydium, v.Name())

	_, err = NewVenue("jupiter", VenueConfig{}, signer)
	assert.ErrorIs(t, err, domain.ErrUnsupportedVenue)

	_, err = NewVenue("orca", VenueConfig{BaseURL: "http://localhost"}, nil)
	assert.ErrorIs(t, err, domain.ErrSigningFailed)
}

func TestPaperVenue(t *testing.T) {
	sig, err := NewPaperVenue().Swap(context.Background(), SwapRequest{})
	require.NoError(t, err)
	assert.Contains(t, sig, "paper-")
}

func TestHTTPVenueSignsRequests(t *testing.T) {
	signer, pub := testSigner(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/swap", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("X-API-Key"))
		assert.NotEmpty(t, r.Header.Get("X-API-Signature"))
		assert.Equal(t, hex.EncodeToString(pub), r.Header.Get("X-Wallet-Pubkey"))

		body, err := io.ReadAll(r.Body)
		if !assert.NoError(t, err) {
			return
		}
		msg := r.Header.Get("X-Wallet-Timestamp") + "POST/swap" + string(body)
		assert.True(t, crypto.Verify(pub, []byte(msg), r.Header.Get("X-Wallet-Signature")))

		var req SwapRequest
		assert.NoError(t, json.Unmarshal(body, &req))
		if req.OutputMint != bonkMint {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"unknown pool"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signature":"3xyz"}`))
	}))
	defer srv.Close()

	v, err := NewVenue(VenueOrca, VenueConfig{BaseURL: srv.URL, APIKey: "key-1", APISecret: "s"}, signer)
	require.NoError(t, err)
	ex := New(Config{MaxSlippagePct: decimal.NewFromFloat(0.5)}, v, discardLogger())

	res := ex.Execute(context.Background(), solMint, bonkMint, decimal.NewFromInt(2))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "3xyz", res.Signature)
	assert.Equal(t, VenueOrca, res.Venue)

	res = ex.Execute(context.Background(), solMint, "OtherMint", decimal.NewFromInt(2))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown pool")
}
