// Package relay delivers coordinator events to presentation notifiers.
package relay

import (
	"context"
	"log/slog"

	"github.com/MikeSquared-Agency/quill/internal/coordinator"
)

// Notifier presents one event. Errors are logged and never stop the relay.
type Notifier interface {
	Notify(ctx context.Context, ev coordinator.Event) error
}

type NotifierFunc func(ctx context.Context, ev coordinator.Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev coordinator.Event) error { return f(ctx, ev) }

type Relay struct {
	notifiers []Notifier
	logger    *slog.Logger
}

func New(logger *slog.Logger, notifiers ...Notifier) *Relay {
	return &Relay{notifiers: notifiers, logger: logger}
}

// Run drains events until the channel closes or ctx is cancelled.
func (r *Relay) Run(ctx context.Context, events <-chan coordinator.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.dispatch(ctx, ev)
		}
	}
}

func (r *Relay) dispatch(ctx context.Context, ev coordinator.Event) {
	for _, n := range r.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			r.logger.Warn("notifier failed", "kind", ev.Kind, "error", err)
		}
	}
}
