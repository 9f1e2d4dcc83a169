// Package notify delivers decision alerts to chat channels. Notifications
// go to every registered sender and are filtered by decision kind so
// operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify forwards
// only allowed event types; an empty allow list lets everything through.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends to all senders if event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "notifier: event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// Name implements domain.Recorder.
func (n *Notifier) Name() string { return "notify" }

// Record implements domain.Recorder by formatting rec and passing it to
// Notify with the record kind as the event type.
func (n *Notifier) Record(ctx context.Context, rec domain.DecisionRecord) error {
	title, message := Format(rec)
	return n.Notify(ctx, string(rec.Kind), title, message)
}

// Format renders a decision record as a title and a message body.
func Format(rec domain.DecisionRecord) (string, string) {
	var title string
	switch rec.Kind {
	case domain.DecisionExecuted:
		title = "Trade executed: " + rec.Symbol
	case domain.DecisionExecutionFailed:
		title = "Execution failed: " + rec.Symbol
	case domain.DecisionRejected:
		title = "Trade rejected: " + rec.Symbol
	case domain.DecisionClosed:
		title = "Position closed: " + rec.Symbol
	default:
		title = string(rec.Kind) + ": " + rec.Symbol
	}

	var b strings.Builder
	fmt.Fprintf(&b, "price %s size %s", rec.Price, rec.Size)
	if rec.Kind == domain.DecisionClosed {
		fmt.Fprintf(&b, " pnl %s", rec.PnL)
	}
	if rec.Reason != "" {
		fmt.Fprintf(&b, "\nreason: %s", rec.Reason)
	}
	if rec.Signature != "" {
		fmt.Fprintf(&b, "\ntx: %s", rec.Signature)
	}
	return title, b.String()
}

// dispatch sends to every sender. One sender failing does not stop the
// rest; failures are combined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notifier: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

var _ domain.Recorder = (*Notifier)(nil)
