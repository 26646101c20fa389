package ws

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

type stubBus struct{ ch chan domain.EngineEvent }

func (b *stubBus) Publish(_ context.Context, ev domain.EngineEvent) error {
	b.ch <- ev
	return nil
}

func (b *stubBus) Subscribe(context.Context) (<-chan domain.EngineEvent, func(), error) {
	return b.ch, func() {}, nil
}

func TestHubHelloAndShutdownShareOneGoroutine(t *testing.T) {
	bus := &stubBus{ch: make(chan domain.EngineEvent)}
	h := NewHub(bus, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	c := &client{hub: h, send: make(chan []byte, sendBufferSize), types: make(map[string]bool)}
	h.register <- c

	select {
	case frame := <-c.send:
		if !strings.Contains(string(frame), `"hello"`) {
			t.Fatalf("first frame = %s, want hello", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("no hello frame after registration")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if _, ok := <-c.send; ok {
		t.Fatal("send channel still open after shutdown")
	}
}

func TestHubRelaysEventsToMatchingClients(t *testing.T) {
	bus := &stubBus{ch: make(chan domain.EngineEvent)}
	h := NewHub(bus, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	c := &client{hub: h, send: make(chan []byte, sendBufferSize), types: map[string]bool{
		domain.EventCycleResolved: true,
	}}
	h.register <- c
	<-c.send // hello

	bus.ch <- domain.EngineEvent{Type: domain.EventCycleOpened, CycleID: 1}
	bus.ch <- domain.EngineEvent{Type: domain.EventCycleResolved, CycleID: 2}

	select {
	case frame := <-c.send:
		if !strings.Contains(string(frame), domain.EventCycleResolved) {
			t.Fatalf("frame = %s, want the subscribed cycle_resolved event", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("subscribed event not relayed")
	}
}
