// Package notify delivers operator alerts about lottery lifecycle incidents
// to external channels (Telegram, Discord). Alerts are dispatched to every
// registered sender and filtered by event name so operators subscribe only to
// what they want to be paged about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event names accepted by Notify. These match the values of the
// [notifications] events config list.
const (
	EventDrawFailed       = "draw_failed"
	EventDrawFinished     = "draw_finished"
	EventLotteryCancelled = "lottery_cancelled"
	EventArchiveFailed    = "archive_failed"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs, e.g. "telegram".
	Name() string
}

// Notifier fans an alert out to its senders. A configured event allow-list
// filters Notify; an empty list lets everything through.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the alert to every sender, subject to the event filter.
// Individual sender failures never block the remaining senders; they are
// joined into the returned error.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.allowed) > 0 && !n.allowed[event] {
		n.logger.DebugContext(ctx, "alert filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll bypasses the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
