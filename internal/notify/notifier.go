// Package notify delivers operator alerts for resolution events over one or
// more channels (Telegram, Discord). The engine fires an alert when a market
// settles, when resolution fails, and when the engine starts or stops.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event types emitted by the resolution engine.
const (
	EventMarketResolved  = "market_resolved"
	EventResolutionError = "resolution_error"
	EventEngineStarted   = "engine_started"
	EventEngineStopped   = "engine_stopped"
)

// Sender delivers a single formatted alert over one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every configured sender. An events allow-list
// restricts which event types are delivered; an empty list allows everything.
type Notifier struct {
	senders []Sender
	allowed map[string]struct{}
	logger  *slog.Logger
}

// New creates a Notifier delivering to the given senders, filtered to the
// given event types.
func New(logger *slog.Logger, events []string, senders ...Sender) *Notifier {
	allowed := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = struct{}{}
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the alert to every sender when the event type passes the
// allow-list. A failing sender does not block the others.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}
	if len(n.allowed) > 0 {
		if _, ok := n.allowed[event]; !ok {
			n.logger.DebugContext(ctx, "alert filtered", slog.String("event", event))
			return nil
		}
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: deliver %s: %w", event, errors.Join(errs...))
	}
	return nil
}
