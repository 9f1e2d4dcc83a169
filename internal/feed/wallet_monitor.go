package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/metrics"
	"github.com/alanyoungcy/chainbot/internal/platform/solana"
)

const (
	walletConnectTimeout = 15 * time.Second
	walletFetchTimeout   = 20 * time.Second
	walletFetchAttempts  = 3
	walletQueueSize      = 1024
)

// TransactionFetcher loads a transaction by signature.
type TransactionFetcher interface {
	GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error)
}

// WalletMonitorConfig configures a WalletMonitor.
type WalletMonitorConfig struct {
	WSURL     string
	Wallets   []string
	Filter    WalletFilter
	DedupTTL  time.Duration
	Reconnect Backoff
}

// WalletMonitor follows tracked Solana wallets over logsSubscribe, loads each
// new transaction and emits one wallet_transaction event per qualifying
// transaction.
type WalletMonitor struct {
	*Dispatcher
	cfg    WalletMonitorConfig
	rpc    TransactionFetcher
	dedup  *Dedup
	logger *slog.Logger
}

// NewWalletMonitor creates a WalletMonitor.
func NewWalletMonitor(cfg WalletMonitorConfig, rpc TransactionFetcher, logger *slog.Logger) *WalletMonitor {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	if cfg.Reconnect.Min <= 0 {
		cfg.Reconnect = DefaultBackoff()
	}
	logger = logger.With(slog.String("component", "wallet_monitor"))
	return &WalletMonitor{
		Dispatcher: NewDispatcher("wallet_monitor", logger),
		cfg:        cfg,
		rpc:        rpc,
		dedup:      NewDedup(cfg.DedupTTL),
		logger:     logger,
	}
}

// Name implements Source.
func (m *WalletMonitor) Name() string { return "wallet_monitor" }

// Run connects and reconnects with exponential backoff until ctx is
// cancelled or the endpoint rejects the connection permanently.
func (m *WalletMonitor) Run(ctx context.Context) error {
	if len(m.cfg.Wallets) == 0 {
		return fmt.Errorf("wallet_monitor: no wallets configured: %w", domain.ErrSourceFatal)
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		connected, err := m.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, domain.ErrSourceFatal) {
			return fmt.Errorf("wallet_monitor: %w", err)
		}
		if connected {
			attempt = 0
		}
		attempt++

		metrics.SourceReconnects.WithLabelValues(m.Name()).Inc()
		wait := m.cfg.Reconnect.Next(attempt)
		m.logger.Warn("wallet_monitor: disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", wait),
		)
		if !sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

// runConnection serves one websocket connection. Notifications are queued
// so slow handlers never stall the read loop past its deadline; ordering is
// preserved because a single goroutine drains the queue.
func (m *WalletMonitor) runConnection(ctx context.Context) (bool, error) {
	client := solana.NewWSClient(m.cfg.WSURL)
	defer client.Close()

	connCtx, cancel := context.WithTimeout(ctx, walletConnectTimeout)
	err := client.Connect(connCtx)
	cancel()
	if err != nil {
		return false, err
	}

	queue := make(chan solana.LogsNotification, walletQueueSize)
	client.OnLogs(func(n solana.LogsNotification) {
		select {
		case queue <- n:
		default:
			m.logger.Warn("wallet_monitor: queue full, dropping notification",
				slog.String("signature", n.Signature),
			)
		}
	})

	for _, w := range m.cfg.Wallets {
		if err := client.LogsSubscribe(w); err != nil {
			return true, err
		}
	}
	m.logger.Info("wallet_monitor: subscribed", slog.Int("wallets", len(m.cfg.Wallets)))

	listenCtx, stop := context.WithCancel(ctx)
	defer stop()
	errCh := make(chan error, 1)
	go func() { errCh <- client.Listen(listenCtx) }()

	cleanup := time.NewTicker(time.Minute)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-errCh:
			return true, err
		case <-cleanup.C:
			m.dedup.Cleanup()
		case n := <-queue:
			m.handleNotification(ctx, n)
		}
	}
}

func (m *WalletMonitor) handleNotification(ctx context.Context, n solana.LogsNotification) {
	if n.Failed || n.Signature == "" {
		return
	}
	if m.dedup.IsDuplicate(n.Signature) {
		return
	}

	tx, err := m.fetch(ctx, n.Signature)
	if err != nil {
		m.logger.Warn("wallet_monitor: fetch transaction failed",
			slog.String("signature", n.Signature),
			slog.String("error", err.Error()),
		)
		return
	}

	ev, err := MapWalletTransaction(n.Address, n.Signature, tx, m.cfg.Filter)
	if err != nil {
		m.logger.Debug("wallet_monitor: transaction dropped",
			slog.String("signature", n.Signature),
			slog.String("reason", err.Error()),
		)
		return
	}
	m.Dispatch(ctx, ev)
}

// fetch retries briefly because a notification can arrive before the node
// serves the transaction.
func (m *WalletMonitor) fetch(ctx context.Context, signature string) (*solana.Transaction, error) {
	backoff := Backoff{Min: 500 * time.Millisecond, Max: 2 * time.Second, Factor: 2}
	var lastErr error
	for attempt := 1; attempt <= walletFetchAttempts; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, walletFetchTimeout)
		tx, err := m.rpc.GetTransaction(fetchCtx, signature)
		cancel()
		if err == nil {
			return tx, nil
		}
		lastErr = err
		if attempt < walletFetchAttempts && !sleep(ctx, backoff.Next(attempt)) {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// WalletFilter decides which wallet transactions become events.
type WalletFilter struct {
	// MinSOL is the minimum size of the SOL leg. Swaps without a SOL leg are
	// not size-filtered.
	MinSOL decimal.Decimal
	// Whitelist restricts the traded mint when non-empty.
	Whitelist map[string]bool
	// Symbols maps mints to display symbols.
	Symbols map[string]string
}

func (f WalletFilter) symbol(mint string) string {
	if s, ok := f.Symbols[mint]; ok && s != "" {
		return s
	}
	if mint == solana.NativeSOLMint {
		return "SOL"
	}
	return mint
}

// ClassifyTransaction maps the programs a transaction invoked to a kind:
// a known DEX program means swap, the system program alone means transfer.
func ClassifyTransaction(tx *solana.Transaction) string {
	kind := domain.KindUnknown
	check := func(ins []solana.Instruction) bool {
		for _, in := range ins {
			switch in.ProgramID {
			case solana.RaydiumAMMv4, solana.OrcaSwapV1:
				kind = domain.KindSwap
				return true
			case solana.SystemProgramID:
				kind = domain.KindTransfer
			}
		}
		return false
	}
	if check(tx.Body.Message.Instructions) {
		return kind
	}
	for _, inner := range tx.Meta.InnerInstructions {
		if check(inner.Instructions) {
			return kind
		}
	}
	return kind
}

// MapWalletTransaction converts a loaded transaction into a
// wallet_transaction event. It returns an error wrapping domain.ErrMapping
// when the transaction does not qualify.
func MapWalletTransaction(wallet, signature string, tx *solana.Transaction, f WalletFilter) (domain.NormalizedEvent, error) {
	if tx == nil {
		return domain.NormalizedEvent{}, fmt.Errorf("nil transaction: %w", domain.ErrMapping)
	}
	if tx.Meta.Failed() {
		return domain.NormalizedEvent{}, fmt.Errorf("transaction failed on chain: %w", domain.ErrMapping)
	}

	deltas := BalanceDeltas(wallet, tx)
	if len(deltas) == 0 {
		return domain.NormalizedEvent{}, fmt.Errorf("no balance change for %s: %w", wallet, domain.ErrMapping)
	}

	ts := time.Now().UTC()
	if tx.BlockTime != nil {
		ts = time.Unix(*tx.BlockTime, 0).UTC()
	}
	ev := domain.NormalizedEvent{
		ID:        uuid.NewString(),
		Source:    "wallet_monitor",
		Type:      domain.EventWalletTransaction,
		Kind:      ClassifyTransaction(tx),
		Chain:     "solana",
		Wallet:    wallet,
		TxID:      signature,
		Timestamp: ts,
	}

	if ev.Kind == domain.KindSwap {
		in, out := largestOutflow(deltas), largestInflow(deltas)
		if in == "" || out == "" {
			return domain.NormalizedEvent{}, fmt.Errorf("swap without both legs: %w", domain.ErrMapping)
		}
		amountIn := deltas[in].Neg()
		amountOut := deltas[out]

		solLeg := decimal.Zero
		if in == solana.NativeSOLMint {
			solLeg = amountIn
		} else if out == solana.NativeSOLMint {
			solLeg = amountOut
		}
		if !solLeg.IsZero() && solLeg.LessThan(f.MinSOL) {
			return domain.NormalizedEvent{}, fmt.Errorf("swap size %s SOL below minimum: %w", solLeg, domain.ErrMapping)
		}
		if len(f.Whitelist) > 0 && !f.Whitelist[out] {
			return domain.NormalizedEvent{}, fmt.Errorf("mint %s not whitelisted: %w", out, domain.ErrMapping)
		}

		ev.InputToken = in
		ev.OutputToken = out
		ev.Token = out
		ev.Symbol = f.symbol(out)
		ev.InputSymbol = f.symbol(in)
		ev.Amount = amountIn
		ev.Price = amountIn.Div(amountOut)
		return ev, nil
	}

	// Transfers and unknown programs: report the largest movement.
	mint := largestMove(deltas)
	amount := deltas[mint].Abs()
	if mint == solana.NativeSOLMint && amount.LessThan(f.MinSOL) {
		return domain.NormalizedEvent{}, fmt.Errorf("transfer %s SOL below minimum: %w", amount, domain.ErrMapping)
	}
	if len(f.Whitelist) > 0 && !f.Whitelist[mint] {
		return domain.NormalizedEvent{}, fmt.Errorf("mint %s not whitelisted: %w", mint, domain.ErrMapping)
	}
	ev.Token = mint
	ev.Symbol = f.symbol(mint)
	ev.Amount = amount
	return ev, nil
}

// BalanceDeltas returns the net change per mint for wallet. Native SOL and
// wrapped SOL are merged under solana.NativeSOLMint; the fee is excluded when
// wallet paid it.
func BalanceDeltas(wallet string, tx *solana.Transaction) map[string]decimal.Decimal {
	deltas := make(map[string]decimal.Decimal)
	add := func(mint string, v decimal.Decimal) {
		if v.IsZero() {
			return
		}
		sum := deltas[mint].Add(v)
		if sum.IsZero() {
			delete(deltas, mint)
			return
		}
		deltas[mint] = sum
	}

	meta := tx.Meta
	for i, key := range tx.Body.Message.AccountKeys {
		if key.Pubkey != wallet || i >= len(meta.PreBalances) || i >= len(meta.PostBalances) {
			continue
		}
		lamports := int64(meta.PostBalances[i]) - int64(meta.PreBalances[i])
		if i == 0 {
			lamports += int64(meta.Fee)
		}
		add(solana.NativeSOLMint, decimal.New(lamports, -9))
	}

	for _, tb := range meta.PreTokenBalances {
		if tb.Owner == wallet {
			add(tb.Mint, tokenAmount(tb).Neg())
		}
	}
	for _, tb := range meta.PostTokenBalances {
		if tb.Owner == wallet {
			add(tb.Mint, tokenAmount(tb))
		}
	}
	return deltas
}

func tokenAmount(tb solana.TokenBalance) decimal.Decimal {
	if s := tb.UITokenAmount.UIAmountString; s != "" {
		if v, err := decimal.NewFromString(s); err == nil {
			return v
		}
	}
	if v, err := decimal.NewFromString(tb.UITokenAmount.Amount); err == nil {
		return v.Shift(-tb.UITokenAmount.Decimals)
	}
	return decimal.Zero
}

func largestOutflow(deltas map[string]decimal.Decimal) string {
	var mint string
	var best decimal.Decimal
	for m, v := range deltas {
		if v.IsNegative() && (mint == "" || v.LessThan(best) || (v.Equal(best) && m < mint)) {
			mint, best = m, v
		}
	}
	return mint
}

func largestInflow(deltas map[string]decimal.Decimal) string {
	var mint string
	var best decimal.Decimal
	for m, v := range deltas {
		if v.IsPositive() && (mint == "" || v.GreaterThan(best) || (v.Equal(best) && m < mint)) {
			mint, best = m, v
		}
	}
	return mint
}

func largestMove(deltas map[string]decimal.Decimal) string {
	var mint string
	var best decimal.Decimal
	for m, v := range deltas {
		a := v.Abs()
		if mint == "" || a.GreaterThan(best) || (a.Equal(best) && m < mint) {
			mint, best = m, a
		}
	}
	return mint
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
