package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/metrics"
)

const (
	chainCallTimeout      = 10 * time.Second
	chainMaxBlocksPerTick = 20
)

// ChainClient is the subset of ethclient.Client the monitor uses.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	Close()
}

// ChainDialer opens a ChainClient for an RPC URL.
type ChainDialer func(ctx context.Context, rpcURL string) (ChainClient, error)

// DialEthClient is the production ChainDialer.
func DialEthClient(ctx context.Context, rpcURL string) (ChainClient, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ChainMonitorConfig configures one EVM chain monitor.
type ChainMonitorConfig struct {
	Name         string
	RPCURL       string
	ChainID      int64 // 0 skips the check
	Filter       ChainFilter
	PollInterval time.Duration
	ErrorBackoff time.Duration
}

// ChainFilter decides which transactions become events.
type ChainFilter struct {
	MinValue  decimal.Decimal // in ether units
	Contracts map[string]bool // lower-case hex addresses; empty means any
}

// ChainMonitor polls an EVM chain for new blocks and emits a
// chain_transaction event for every qualifying transaction.
type ChainMonitor struct {
	*Dispatcher
	cfg       ChainMonitorConfig
	dial      ChainDialer
	logger    *slog.Logger
	lastBlock uint64
}

// NewChainMonitor creates a ChainMonitor. dial may be nil to use
// DialEthClient.
func NewChainMonitor(cfg ChainMonitorConfig, dial ChainDialer, logger *slog.Logger) *ChainMonitor {
	if dial == nil {
		dial = DialEthClient
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	name := "chain_monitor:" + cfg.Name
	logger = logger.With(slog.String("component", "chain_monitor"), slog.String("chain", cfg.Name))
	return &ChainMonitor{
		Dispatcher: NewDispatcher(name, logger),
		cfg:        cfg,
		dial:       dial,
		logger:     logger,
	}
}

// Name implements Source.
func (m *ChainMonitor) Name() string { return "chain_monitor:" + m.cfg.Name }

// Run polls until ctx is cancelled. RPC errors sleep ErrorBackoff and
// reconnect; a chain id mismatch is fatal.
func (m *ChainMonitor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := m.runClient(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, domain.ErrSourceFatal) {
			return fmt.Errorf("chain_monitor %s: %w", m.cfg.Name, err)
		}

		metrics.SourceReconnects.WithLabelValues(m.Name()).Inc()
		m.logger.Warn("chain_monitor: rpc error, retrying",
			slog.String("error", errString(err)),
			slog.Duration("backoff", m.cfg.ErrorBackoff),
		)
		if !sleep(ctx, m.cfg.ErrorBackoff) {
			return ctx.Err()
		}
	}
}

func (m *ChainMonitor) runClient(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, chainCallTimeout)
	client, err := m.dial(dialCtx, m.cfg.RPCURL)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w: %w", domain.ErrConnection, err)
	}
	defer client.Close()

	idCtx, cancel := context.WithTimeout(ctx, chainCallTimeout)
	chainID, err := client.ChainID(idCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("chain id: %w: %w", domain.ErrConnection, err)
	}
	if m.cfg.ChainID != 0 && chainID.Int64() != m.cfg.ChainID {
		return fmt.Errorf("chain id %s, want %d: %w", chainID, m.cfg.ChainID, domain.ErrSourceFatal)
	}
	signer := types.LatestSignerForChainID(chainID)

	m.logger.Info("chain_monitor: connected", slog.String("chain_id", chainID.String()))

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.poll(ctx, client, signer); err != nil {
				return err
			}
		}
	}
}

// poll walks blocks after lastBlock up to the head. The first poll only
// records the head so a restart does not replay history.
func (m *ChainMonitor) poll(ctx context.Context, client ChainClient, signer types.Signer) error {
	headCtx, cancel := context.WithTimeout(ctx, chainCallTimeout)
	head, err := client.BlockNumber(headCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("block number: %w: %w", domain.ErrConnection, err)
	}
	if m.lastBlock == 0 || head < m.lastBlock {
		m.lastBlock = head
		return nil
	}

	for n := m.lastBlock + 1; n <= head && n <= m.lastBlock+chainMaxBlocksPerTick; n++ {
		blockCtx, cancel := context.WithTimeout(ctx, chainCallTimeout)
		block, err := client.BlockByNumber(blockCtx, new(big.Int).SetUint64(n))
		cancel()
		if err != nil {
			return fmt.Errorf("block %d: %w: %w", n, domain.ErrConnection, err)
		}
		m.processBlock(ctx, block, signer)
		m.lastBlock = n
	}
	return nil
}

func (m *ChainMonitor) processBlock(ctx context.Context, block *types.Block, signer types.Signer) {
	for _, tx := range block.Transactions() {
		from, err := types.Sender(signer, tx)
		if err != nil {
			continue
		}
		ev, err := MapChainTransaction(m.cfg.Name, tx, from, block.Time(), m.cfg.Filter)
		if err != nil {
			continue
		}
		m.Dispatch(ctx, ev)
	}
}

// MapChainTransaction converts a transaction into a chain_transaction event.
// It returns an error wrapping domain.ErrMapping when the transaction does
// not pass the filter.
func MapChainTransaction(chain string, tx *types.Transaction, from common.Address, blockTime uint64, f ChainFilter) (domain.NormalizedEvent, error) {
	value := decimal.NewFromBigInt(tx.Value(), -18)
	if value.LessThan(f.MinValue) {
		return domain.NormalizedEvent{}, fmt.Errorf("value %s below minimum: %w", value, domain.ErrMapping)
	}

	to := tx.To()
	if len(f.Contracts) > 0 {
		if to == nil || !f.Contracts[strings.ToLower(to.Hex())] {
			return domain.NormalizedEvent{}, fmt.Errorf("recipient not monitored: %w", domain.ErrMapping)
		}
	}

	kind := domain.KindNativeTransfer
	if len(tx.Data()) > 0 || to == nil {
		kind = domain.KindContractCall
	}

	ev := domain.NormalizedEvent{
		ID:        uuid.NewString(),
		Source:    "chain_monitor:" + chain,
		Type:      domain.EventChainTransaction,
		Kind:      kind,
		Chain:     chain,
		Wallet:    from.Hex(),
		Amount:    value,
		TxID:      tx.Hash().Hex(),
		Timestamp: time.Unix(int64(blockTime), 0).UTC(),
	}
	if to != nil {
		ev.Token = to.Hex()
	}
	return ev, nil
}

// ContractSet builds a ChainFilter contract set from configured addresses.
func ContractSet(addrs []string) map[string]bool {
	if len(addrs) == 0 {
		return nil
	}
	out := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		out[strings.ToLower(common.HexToAddress(a).Hex())] = true
	}
	return out
}
