package canvas

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lukassw/canvashub/internal/store"
)

// fakeDirectory serves canvas metadata from memory. Each GetCanvas returns a
// fresh copy, like a real directory would, so a reloaded canvas never shares
// state with an evicted one.
type fakeDirectory struct {
	canvases map[string]*store.Canvas
}

func (d *fakeDirectory) GetCanvas(_ context.Context, id string) (*store.Canvas, error) {
	meta, ok := d.canvases[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	members := make(map[string]store.AccessLevel, len(meta.Members))
	for user, level := range meta.Members {
		members[user] = level
	}
	copied := *meta
	copied.Members = members
	return &copied, nil
}

func testDirectory() *fakeDirectory {
	return &fakeDirectory{canvases: map[string]*store.Canvas{
		"c1": {
			ID:      "c1",
			Name:    "test canvas",
			OwnerID: "alice",
			Mode:    store.ModeActive,
			Members: map[string]store.AccessLevel{
				"alice": store.AccessOwner,
				"bob":   store.AccessWrite,
			},
		},
	}}
}

func startCoordinator(t *testing.T, dir Directory) Handle {
	t.Helper()

	logger := zerolog.Nop()
	coordinator := New(dir, t.TempDir(), &logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go coordinator.Run(ctx)

	return coordinator.Handle()
}

// barrier flushes the coordinator queue: Submit only returns once every
// previously enqueued command has been processed.
func barrier(h Handle, canvasID string) {
	h.Submit(canvasID, "barrier", "barrier", "barrier")
}

// mustEvent pops frames until one decodes to the wanted kind.
func mustEvent(t *testing.T, o *Outbound, kind Kind) Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		if msg, ok := o.Pop(); ok {
			event, err := Decode([]byte(msg))
			if err != nil || event.Type != kind {
				continue
			}
			return event
		}
		select {
		case <-o.Ready():
		case <-deadline:
			t.Fatalf("expected event kind %s not received", kind)
			return Event{}
		}
	}
}

// nextEvent returns the next decodable frame, failing on timeout.
func nextEvent(t *testing.T, o *Outbound) Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		if msg, ok := o.Pop(); ok {
			event, err := Decode([]byte(msg))
			if err != nil {
				continue
			}
			return event
		}
		select {
		case <-o.Ready():
		case <-deadline:
			t.Fatal("expected an event, got none")
			return Event{}
		}
	}
}

// mustText pops the next raw frame, typically a plain-text error.
func mustText(t *testing.T, o *Outbound) string {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		if msg, ok := o.Pop(); ok {
			return msg
		}
		select {
		case <-o.Ready():
		case <-deadline:
			t.Fatal("expected a frame, got none")
			return ""
		}
	}
}

// drainEvents empties the queue, returning everything that decoded.
func drainEvents(o *Outbound) []Event {
	var events []Event
	for {
		msg, ok := o.Pop()
		if !ok {
			return events
		}
		if event, err := Decode([]byte(msg)); err == nil {
			events = append(events, event)
		}
	}
}
