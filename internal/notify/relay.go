package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kimpers/betchya/internal/domain"
)

// Relay subscribes to the ledger event channels on bus and forwards each
// event to the notifier until ctx is done.
func (n *Notifier) Relay(ctx context.Context, bus domain.SignalBus) error {
	bets, err := bus.Subscribe(ctx, domain.ChannelBets)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.ChannelBets, err)
	}
	breaker, err := bus.Subscribe(ctx, domain.ChannelBreaker)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.ChannelBreaker, err)
	}

	n.logger.InfoContext(ctx, "relay started", slog.Int("senders", len(n.senders)))
	for {
		var payload []byte
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case payload, ok = <-bets:
		case payload, ok = <-breaker:
		}
		if !ok {
			return nil
		}

		var evt domain.Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			n.logger.WarnContext(ctx, "relay: bad event payload", slog.String("error", err.Error()))
			continue
		}
		if err := n.NotifyEvent(ctx, evt); err != nil {
			n.logger.WarnContext(ctx, "relay: notify failed",
				slog.String("kind", string(evt.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}
}
