// Package notify pushes ledger activity to chat channels. Events are
// dispatched to every registered sender and can be filtered by kind so
// operators only hear about what they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kimpers/betchya/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs, e.g. "telegram".
	Name() string
}

// Notifier fans notifications out to its senders.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only events whose kind appears in kinds
// are forwarded by NotifyEvent; an empty list allows every kind.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.EventKind(k)] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Allows reports whether events of kind pass the filter.
func (n *Notifier) Allows(kind domain.EventKind) bool {
	return len(n.kinds) == 0 || n.kinds[kind]
}

// NotifyEvent formats evt and sends it if its kind is allowed.
func (n *Notifier) NotifyEvent(ctx context.Context, evt domain.Event) error {
	if !n.Allows(evt.Kind) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("kind", string(evt.Kind)))
		return nil
	}
	title, message := Format(evt)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends to every sender regardless of the filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender; one failing sender does not stop the
// others.
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
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Format renders an event as a short title and body.
func Format(evt domain.Event) (title, message string) {
	switch evt.Kind {
	case domain.EventCreated:
		title = fmt.Sprintf("Bet #%d created", evt.BetIndex)
		message = fmt.Sprintf("Proposer %s\nAcceptor %s\nJudge %s",
			addr(evt.Proposer), addr(evt.Acceptor), addr(evt.Judge))
	case domain.EventAccepted:
		title = fmt.Sprintf("Bet #%d accepted", evt.BetIndex)
		message = "Both stakes are in escrow. Waiting for the judge."
	case domain.EventJudgeConfirmed:
		title = fmt.Sprintf("Bet #%d in progress", evt.BetIndex)
		message = "The judge confirmed."
	case domain.EventSettled:
		title = fmt.Sprintf("Bet #%d settled", evt.BetIndex)
		result := "unknown"
		if evt.Result != nil {
			result = evt.Result.String()
		}
		message = "Result: " + result
	case domain.EventCancelled:
		title = fmt.Sprintf("Bet #%d cancelled", evt.BetIndex)
		message = "Stakes are refundable."
	case domain.EventWithdrawn:
		title = fmt.Sprintf("Bet #%d withdrawal", evt.BetIndex)
		message = fmt.Sprintf("%s withdrew %s", addr(evt.Withdrawer), amount(evt.Amount))
	case domain.EventBreakerChanged:
		state := "unknown"
		if evt.Breaker != nil {
			state = evt.Breaker.String()
		}
		title = "Circuit breaker changed"
		message = "State: " + state
	case domain.EventFunded:
		title = "Account funded"
		message = fmt.Sprintf("%s received %s", addr(evt.To), amount(evt.Amount))
	default:
		title = string(evt.Kind)
	}
	return title, fmt.Sprintf("%s\nseq %d", message, evt.Seq)
}

func addr(a *domain.Address) string {
	if a == nil {
		return "-"
	}
	return a.Hex()
}

func amount(a *domain.Amount) string {
	if a == nil {
		return "0"
	}
	return a.String()
}
