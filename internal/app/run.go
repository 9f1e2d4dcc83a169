package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/chainbot/internal/config"
	"github.com/alanyoungcy/chainbot/internal/coordinator"
	"github.com/alanyoungcy/chainbot/internal/feed"
	"github.com/alanyoungcy/chainbot/internal/server"
	"github.com/alanyoungcy/chainbot/internal/server/handler"
	"github.com/alanyoungcy/chainbot/internal/server/ws"
)

// errLeaseLost stops the process when another instance took over the wallet.
var errLeaseLost = errors.New("app: single-instance lease lost")

// Run wires all dependencies, starts the coordinator and the HTTP API, and
// blocks until the context is cancelled or a component fails. On return the
// registered cleanup functions are left for Close.
func (a *App) Run(ctx context.Context) error {
	startedAt := time.Now().UTC()
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("venue", a.cfg.Executor.Venue),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	var hub *ws.Hub
	recorders := deps.Recorders
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(func() any {
			return map[string]any{
				"venue":          deps.Executor.Venue(),
				"open_positions": deps.Ledger.Len(),
				"uptime_seconds": int64(time.Since(startedAt).Seconds()),
			}
		}, a.logger)
		recorders = append(recorders, hub)
	}

	coord, err := coordinator.New(coordinator.Config{
		StrongSentiment: decimal.NewFromFloat(a.cfg.Sources.Sentiment.StrongThreshold),
		QuoteSymbols:    a.cfg.Sources.Wallet.QuoteSymbols,
	}, coordinator.Deps{
		Gate:       deps.Gate,
		Ledger:     deps.Ledger,
		Executor:   deps.Executor,
		Prices:     deps.PriceCache,
		Recorders:  recorders,
		Supervisor: feed.NewSupervisor(supervisorConfig(a.cfg), a.logger),
		Sources:    deps.Sources,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if len(deps.Sources) == 0 {
		a.logger.WarnContext(ctx, "app: no sources enabled, coordinator will idle")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return coord.Run(ctx)
	})

	if deps.Lease != nil {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			case <-deps.Lease.Lost():
				return errLeaseLost
			}
		})
	}

	if a.cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		}, server.Handlers{
			Health:    handler.NewHealthHandler(startedAt),
			Positions: handler.NewPositionHandler(coord, a.logger),
			Status:    handler.NewStatusHandler(coord, deps.Executor.Venue()),
		}, hub, a.logger)

		g.Go(func() error {
			return hub.Run(ctx)
		})
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return err
}
