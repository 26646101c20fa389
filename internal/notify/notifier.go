// Package notify delivers operator notifications over Telegram and Discord.
// The notifier doubles as the engine's event announcer: it watches the event
// bus and forwards configured cycle transitions to all channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans notifications out to all senders. Event notifications are
// filtered by the configured event set; alerts always go through.
type Notifier struct {
	senders []Sender
	bus     domain.EventBus
	events  map[string]bool
	logger  *slog.Logger
}

// New creates a Notifier delivering to the given senders. Only engine events
// listed in events are announced; an empty list announces none. Alerts are
// never filtered.
func New(senders []Sender, bus domain.EventBus, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		bus:     bus,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notify")),
	}
}

// Alert delivers an operator alert to every channel regardless of the event
// filter.
func (n *Notifier) Alert(ctx context.Context, subject, message string) error {
	return n.dispatch(ctx, subject, message)
}

// Run announces filtered engine events until the context ends.
func (n *Notifier) Run(ctx context.Context) error {
	if len(n.senders) == 0 || len(n.events) == 0 {
		<-ctx.Done()
		return nil
	}

	events, cancel, err := n.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("notify: subscribing to events: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !n.events[ev.Type] {
				continue
			}
			title, message := describeEvent(ev)
			if err := n.dispatch(ctx, title, message); err != nil {
				n.logger.WarnContext(ctx, "event announcement failed",
					slog.String("event", ev.Type),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func describeEvent(ev domain.EngineEvent) (string, string) {
	switch ev.Type {
	case domain.EventCycleOpened:
		return "Cycle opened", fmt.Sprintf("Cycle %d is open for slips.", ev.CycleID)
	case domain.EventDeadlinePassed:
		return "Betting closed", fmt.Sprintf("Cycle %d betting deadline has passed.", ev.CycleID)
	case domain.EventCycleReady:
		return "Cycle ready", fmt.Sprintf("Cycle %d is staged for on-chain resolution.", ev.CycleID)
	case domain.EventCycleResolved:
		return "Cycle resolved", fmt.Sprintf("Cycle %d settled on the ledger.", ev.CycleID)
	case domain.EventCycleEvaluated:
		return "Cycle evaluated", fmt.Sprintf("Cycle %d slips are scored and ranked.", ev.CycleID)
	default:
		return ev.Type, fmt.Sprintf("Cycle %d: %s", ev.CycleID, ev.Type)
	}
}

// dispatch sends to every channel; one failing channel never blocks the
// rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var failures []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			failures = append(failures, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

// postJSON is the shared HTTP POST used by the webhook-style senders.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
