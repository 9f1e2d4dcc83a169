package feed

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

var (
	routerAddr = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	oneEther   = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func ether(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), oneEther) }

func signedTx(t *testing.T, key *ecdsa.PrivateKey, nonce uint64, to *common.Address, value *big.Int, data []byte) *types.Transaction {
	t.Helper()
	signer := types.LatestSignerForChainID(big.NewInt(1))
	return types.MustSignNewTx(key, signer, &types.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    value,
		Gas:      21000,
		GasPrice: big.NewInt(1),
		Data:     data,
	})
}

func TestMapChainTransaction(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)

	tx := signedTx(t, key, 0, &routerAddr, ether(2), nil)
	ev, err := MapChainTransaction("ethereum", tx, from, 1_760_000_000, ChainFilter{MinValue: dec(t, "1")})
	require.NoError(t, err)

	assert.Equal(t, domain.EventChainTransaction, ev.Type)
	assert.Equal(t, domain.KindNativeTransfer, ev.Kind)
	assert.Equal(t, "chain_monitor:ethereum", ev.Source)
	assert.Equal(t, from.Hex(), ev.Wallet)
	assert.Equal(t, routerAddr.Hex(), ev.Token)
	assert.True(t, ev.Amount.Equal(dec(t, "2")))
	assert.Equal(t, tx.Hash().Hex(), ev.TxID)

	call := signedTx(t, key, 1, &routerAddr, ether(3), []byte{0xa9, 0x05, 0x9c, 0xbb})
	ev, err = MapChainTransaction("ethereum", call, from, 0, ChainFilter{})
	require.NoError(t, err)
	assert.Equal(t, domain.KindContractCall, ev.Kind)
}

func TestMapChainTransactionFilters(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)
	other := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	small := signedTx(t, key, 0, &routerAddr, big.NewInt(1000), nil)
	_, err = MapChainTransaction("ethereum", small, from, 0, ChainFilter{MinValue: dec(t, "0.5")})
	assert.ErrorIs(t, err, domain.ErrMapping)

	contracts := ContractSet([]string{strings.ToLower(routerAddr.Hex())})
	elsewhere := signedTx(t, key, 1, &other, ether(5), nil)
	_, err = MapChainTransaction("ethereum", elsewhere, from, 0, ChainFilter{Contracts: contracts})
	assert.ErrorIs(t, err, domain.ErrMapping)

	watched := signedTx(t, key, 2, &routerAddr, ether(5), nil)
	_, err = MapChainTransaction("ethereum", watched, from, 0, ChainFilter{Contracts: contracts})
	assert.NoError(t, err)
}

type fakeChain struct {
	mu     sync.Mutex
	id     int64
	head   uint64
	blocks map[uint64]*types.Block
}

func (c *fakeChain) ChainID(context.Context) (*big.Int, error) { return big.NewInt(c.id), nil }

func (c *fakeChain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeChain) BlockByNumber(_ context.Context, n *big.Int) (*types.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.blocks[n.Uint64()]; ok {
		return b, nil
	}
	return types.NewBlockWithHeader(&types.Header{Number: new(big.Int).Set(n)}), nil
}

func (c *fakeChain) Close() {}

func (c *fakeChain) append(txs ...*types.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head++
	header := &types.Header{Number: new(big.Int).SetUint64(c.head), Time: 1_760_000_000}
	c.blocks[c.head] = types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: txs})
}

func dialFake(c *fakeChain) ChainDialer {
	return func(context.Context, string) (ChainClient, error) { return c, nil }
}

func TestChainMonitorEmitsNewBlockTransactions(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	chain := &fakeChain{id: 1, head: 100, blocks: make(map[uint64]*types.Block)}
	mon := NewChainMonitor(ChainMonitorConfig{
		Name:         "ethereum",
		ChainID:      1,
		Filter:       ChainFilter{MinValue: dec(t, "1")},
		PollInterval: 5 * time.Millisecond,
	}, dialFake(chain), discardLogger())

	events := make(chan domain.NormalizedEvent, 8)
	mon.Subscribe(func(_ context.Context, ev domain.NormalizedEvent) error {
		events <- ev
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = mon.Run(ctx) }()

	// Let the first poll record the head so history is not replayed.
	time.Sleep(50 * time.Millisecond)
	chain.append(
		signedTx(t, key, 0, &routerAddr, ether(2), nil),
		signedTx(t, key, 1, &routerAddr, big.NewInt(1), nil),
	)

	select {
	case ev := <-events:
		assert.True(t, ev.Amount.Equal(dec(t, "2")))
		assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), ev.Wallet)
	case <-time.After(5 * time.Second):
		t.Fatal("no chain event")
	}

	select {
	case ev := <-events:
		t.Fatalf("dust transaction dispatched: %s", ev.TxID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChainMonitorChainIDMismatchIsFatal(t *testing.T) {
	chain := &fakeChain{id: 137, blocks: make(map[uint64]*types.Block)}
	mon := NewChainMonitor(ChainMonitorConfig{Name: "ethereum", ChainID: 1}, dialFake(chain), discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := mon.Run(ctx)
	assert.True(t, errors.Is(err, domain.ErrSourceFatal), "got %v", err)
}

func TestChainMonitorRetriesDialErrors(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	dial := func(context.Context, string) (ChainClient, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		return nil, errors.New("connection refused")
	}
	mon := NewChainMonitor(ChainMonitorConfig{Name: "base", ErrorBackoff: time.Millisecond}, dial, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, mon.Run(ctx), context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, dials, 1)
}
