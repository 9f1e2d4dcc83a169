// Package feed holds the event sources that turn external streams into
// domain.NormalizedEvent values, the dispatcher that fans each event out to
// its subscribers, and the supervisor that keeps every source running.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/metrics"
)

// Handler consumes one event. A returned error is logged by the dispatcher
// and never reaches the source loop.
type Handler func(ctx context.Context, ev domain.NormalizedEvent) error

// Source is an independently running producer of normalized events.
//
// Run blocks until ctx is cancelled or the source fails permanently.
// Transient failures are retried inside Run; a permanent failure is returned
// wrapped with domain.ErrSourceFatal.
type Source interface {
	Name() string
	Subscribe(h Handler)
	Run(ctx context.Context) error
}

// Dispatcher invokes handlers in registration order. It is embedded by every
// source.
type Dispatcher struct {
	source string
	logger *slog.Logger

	mu       sync.RWMutex
	handlers []Handler
}

// NewDispatcher creates a Dispatcher for the named source.
func NewDispatcher(source string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		source: source,
		logger: logger,
	}
}

// Subscribe registers h. Handlers added while an event is being dispatched
// see the next event.
func (d *Dispatcher) Subscribe(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Dispatch runs every handler for ev synchronously. A handler that returns an
// error or panics is logged and skipped; the remaining handlers still run.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.NormalizedEvent) {
	d.mu.RLock()
	handlers := d.handlers
	d.mu.RUnlock()

	metrics.EventsTotal.WithLabelValues(d.source, string(ev.Type)).Inc()

	for i, h := range handlers {
		if err := d.invoke(ctx, h, ev); err != nil {
			metrics.HandlerErrors.WithLabelValues(d.source).Inc()
			d.logger.Error("dispatch: handler failed",
				slog.String("source", d.source),
				slog.Int("handler", i),
				slog.String("event_id", ev.ID),
				slog.String("event_type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, ev domain.NormalizedEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}
