package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/chainbot/internal/metrics"
)

// pollLoop calls fn immediately and then every interval until ctx is done.
// A failed poll is retried sooner, on the reconnect backoff, but never later
// than the regular interval.
func pollLoop(ctx context.Context, name string, interval time.Duration, logger *slog.Logger, fn func(context.Context) error) error {
	backoff := DefaultBackoff()
	failures := 0
	for {
		wait := interval
		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if retry := backoff.Next(failures); retry < wait {
				wait = retry
			}
			metrics.SourceReconnects.WithLabelValues(name).Inc()
			logger.Warn(name+": poll failed",
				slog.String("error", err.Error()),
				slog.Int("failures", failures),
				slog.Duration("retry_in", wait),
			)
		} else {
			failures = 0
		}

		if !sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}
