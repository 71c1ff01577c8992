package canvas

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lukassw/canvashub/internal/store"
)

func shapeAdded(id string, temporary bool, origin string) string {
	return fmt.Sprintf(
		`{"type":"ShapeAdded","origin":%q,"timestamp":1,"shape":{"type":"Circle","id":%q,"temporary":%t,"center":{"x":1,"y":1},"radius":5}}`,
		origin, id, temporary,
	)
}

func shapeSelected(id, origin string) string {
	return fmt.Sprintf(
		`{"type":"ShapeSelected","origin":%q,"timestamp":1,"shapeId":%q,"options":{}}`,
		origin, id,
	)
}

func TestConnectReplaysHistoryToJoinerOnly(t *testing.T) {
	h := startCoordinator(t, testDirectory())

	alice := NewOutbound()
	h.Connect("c1", "alice", "Alice", "s1", alice)
	barrier(h, "c1")

	// The join broadcast excludes the joiner; the private replay includes
	// the fresh join. Alice must therefore see her own join exactly once.
	events := drainEvents(alice)
	if len(events) != 1 || events[0].Type != KindUserJoined || events[0].UserID != "alice" {
		t.Fatalf("expected exactly own UserJoined via replay, got %+v", events)
	}
	if events[0].AccessLevel != store.AccessOwner {
		t.Fatalf("join event carries wrong access level: %+v", events[0])
	}

	bob := NewOutbound()
	h.Connect("c1", "bob", "Bob", "s2", bob)
	barrier(h, "c1")

	joined := mustEvent(t, alice, KindUserJoined)
	if joined.UserID != "bob" || joined.SessionID != "s2" {
		t.Fatalf("unexpected join broadcast: %+v", joined)
	}

	// Bob's replay holds the full history in original order.
	first := nextEvent(t, bob)
	second := nextEvent(t, bob)
	if first.Type != KindUserJoined || first.UserID != "alice" {
		t.Fatalf("replay out of order, first = %+v", first)
	}
	if second.Type != KindUserJoined || second.UserID != "bob" {
		t.Fatalf("replay out of order, second = %+v", second)
	}
}

func TestConnectUnknownCanvasFails(t *testing.T) {
	h := startCoordinator(t, testDirectory())

	conn := NewOutbound()
	h.Connect("ghost", "alice", "Alice", "s1", conn)

	if msg := mustText(t, conn); msg != "Connection failed" {
		t.Fatalf("expected connection failure frame, got %q", msg)
	}

	// The failed load must not leave state behind; a valid canvas still loads.
	ok := NewOutbound()
	h.Connect("c1", "alice", "Alice", "s1", ok)
	barrier(h, "c1")
	if events := drainEvents(ok); len(events) != 1 {
		t.Fatalf("expected clean canvas load, got %+v", events)
	}
}

func TestBroadcastSkipsOriginSession(t *testing.T) {
	h := startCoordinator(t, testDirectory())

	alice := NewOutbound()
	bob := NewOutbound()
	h.Connect("c1", "alice", "Alice", "s1", alice)
	h.Connect("c1", "bob", "Bob", "s2", bob)
	barrier(h, "c1")
	drainEvents(alice)
	drainEvents(bob)

	h.Submit("c1", "bob", "s2", shapeAdded("shape-1", false, "s2"))

	added := mustEvent(t, alice, KindShapeAdded)
	if added.Origin != "s2" {
		t.Fatalf("unexpected origin: %+v", added)
	}
	if echoes := drainEvents(bob); len(echoes) != 0 {
		t.Fatalf("origin session received its own event: %+v", echoes)
	}
}

func TestReplayAfterEvictionMatchesLiveHistory(t *testing.T) {
	h := startCoordinator(t, testDirectory())

	alice := NewOutbound()
	h.Connect("c1", "alice", "Alice", "s1", alice)
	h.Submit("c1", "alice", "s1", shapeAdded("shape-1", false, "s1"))
	h.Disconnect("c1", "alice", "s1")
	barrier(h, "c1")

	// The canvas was evicted with its last session; this connect reloads it
	// from the durable log.
	again := NewOutbound()
	h.Connect("c1", "alice", "Alice", "s2", again)
	barrier(h, "c1")

	events := drainEvents(again)
	wantKinds := []Kind{KindUserJoined, KindShapeAdded, KindUserLeft, KindUserJoined}
	if len(events) != len(wantKinds) {
		t.Fatalf("expected %d replayed events, got %+v", len(wantKinds), events)
	}
	for i, kind := range wantKinds {
		if events[i].Type != kind {
			t.Fatalf("replay[%d] = %s, want %s", i, events[i].Type, kind)
		}
	}
}

func TestTemporaryShapeLeavesNoDurableTrace(t *testing.T) {
	h := startCoordinator(t, testDirectory())

	alice := NewOutbound()
	bob := NewOutbound()
	h.Connect("c1", "alice", "Alice", "s1", alice)
	h.Connect("c1", "bob", "Bob", "s2", bob)
	barrier(h, "c1")
	drainEvents(alice)
	drainEvents(bob)

	h.Submit("c1", "bob", "s2", shapeAdded("temp-1", true, "s2"))
	h.Submit("c1", "bob", "s2", `{"type":"ShapeRemoved","origin":"s2","timestamp":2,"shapeId":"temp-1"}`)

	// Peers still see both live events.
	if added := mustEvent(t, alice, KindShapeAdded); added.Origin != "s2" {
		t.Fatalf("unexpected live add: %+v", added)
	}
	if removed := mustEvent(t, alice, KindShapeRemoved); removed.ShapeID != "temp-1" {
		t.Fatalf("unexpected live remove: %+v", removed)
	}

	h.Disconnect("c1", "bob", "s2")
	h.Disconnect("c1", "alice", "s1")
	barrier(h, "c1")

	again := NewOutbound()
	h.Connect("c1", "alice", "Alice", "s3", again)
	barrier(h, "c1")

	for _, event := range drainEvents(again) {
		switch event.Type {
		case KindShapeAdded, KindShapeRemoved:
			t.Fatalf("temporary shape reached the durable log: %+v", event)
		default:
		}
	}
}

func TestModeratedCanvasBlocksWriters(t *testing.T) {
	h := startCoordinator(t, testDirectory())

	alice := NewOutbound()
	bob := NewOutbound()
	h.Connect("c1", "alice", "Alice", "s1", alice)
	h.Connect("c1", "bob", "Bob", "s2", bob)
	barrier(h, "c1")

	// Write level in Active mode goes through.
	h.Submit("c1", "bob", "s2", shapeAdded("shape-1", false, "s2"))
	mustEvent(t, alice, KindShapeAdded)

	h.UpdateMode("c1", store.ModeModerated, "alice")
	changed := mustEvent(t, bob, KindCanvasStateChanged)
	if changed.State != store.ModeModerated || changed.Initiator != "alice" {
		t.Fatalf("unexpected mode event: %+v", changed)
	}
	mustEvent(t, alice, KindCanvasStateChanged)
	drainEvents(alice)
	drainEvents(bob)

	// Bob (Write) is now silently blocked.
	h.Submit("c1", "bob", "s2", shapeAdded("shape-2", false, "s2"))
	if events := drainEvents(alice); len(events) != 0 {
		t.Fatalf("moderated write leaked: %+v", events)
	}

	// Alice (Owner) still writes.
	h.Submit("c1", "alice", "s1", shapeAdded("shape-3", false, "s1"))
	mustEvent(t, bob, KindShapeAdded)
}

func TestAccessLevelChangeAppliesImmediately(t *testing.T) {
	h := startCoordinator(t, testDirectory())

	alice := NewOutbound()
	bob := NewOutbound()
	h.Connect("c1", "alice", "Alice", "s1", alice)
	h.Connect("c1", "bob", "Bob", "s2", bob)
	barrier(h, "c1")
	drainEvents(alice)
	drainEvents(bob)

	h.UpdateAccessLevel("c1", "bob", store.AccessRead)

	// No exclusion on membership broadcasts: both sessions see the change.
	for _, ch := range []*Outbound{alice, bob} {
		changed := mustEvent(t, ch, KindUserAccessChanged)
		if changed.UserID != "bob" || changed.AccessLevel != store.AccessRead {
			t.Fatalf("unexpected access event: %+v", changed)
		}
	}

	h.Submit("c1", "bob", "s2", shapeAdded("shape-1", false, "s2"))
	if events := drainEvents(alice); len(events) != 0 {
		t.Fatalf("demoted user still writes: %+v", events)
	}

	// Upsert also admits users with no prior membership entry.
	h.UpdateAccessLevel("c1", "carol", store.AccessVoice)
	carol := NewOutbound()
	h.Connect("c1", "carol", "Carol", "s3", carol)
	barrier(h, "c1")
	drainEvents(alice)

	h.Submit("c1", "carol", "s3", shapeAdded("shape-2", false, "s3"))
	mustEvent(t, alice, KindShapeAdded)
}

func TestDisconnectSynthesizesDeselectsBeforeUserLeft(t *testing.T) {
	h := startCoordinator(t, testDirectory())

	alice := NewOutbound()
	bob := NewOutbound()
	h.Connect("c1", "alice", "Alice", "s1", alice)
	h.Connect("c1", "bob", "Bob", "s2", bob)
	barrier(h, "c1")

	h.Submit("c1", "bob", "s2", shapeSelected("zz-shape", "s2"))
	h.Submit("c1", "bob", "s2", shapeSelected("aa-shape", "s2"))
	barrier(h, "c1")
	drainEvents(alice)

	h.Disconnect("c1", "bob", "s2")
	barrier(h, "c1")

	// Deselects come first, in stable (sorted) order, then the departure.
	first := nextEvent(t, alice)
	second := nextEvent(t, alice)
	third := nextEvent(t, alice)

	if first.Type != KindShapeDeselected || first.ShapeID != "aa-shape" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	if second.Type != KindShapeDeselected || second.ShapeID != "zz-shape" {
		t.Fatalf("unexpected second event: %+v", second)
	}
	if third.Type != KindUserLeft || third.UserID != "bob" {
		t.Fatalf("unexpected third event: %+v", third)
	}
}

func TestClientMayNotSendServerOnlyEvents(t *testing.T) {
	h := startCoordinator(t, testDirectory())

	alice := NewOutbound()
	bob := NewOutbound()
	h.Connect("c1", "alice", "Alice", "s1", alice)
	h.Connect("c1", "bob", "Bob", "s2", bob)
	barrier(h, "c1")
	drainEvents(alice)
	drainEvents(bob)

	payloads := []string{
		`{"type":"UserJoined","timestamp":1,"userId":"mallory","username":"Mallory","accessLevel":"Owner"}`,
		`{"type":"UserLeft","timestamp":1,"userId":"alice"}`,
		`{"type":"UserAccessLevelChanged","timestamp":1,"userId":"bob","accessLevel":"Owner"}`,
		`{"type":"CanvasStateChanged","timestamp":1,"state":"Active","initiator":"bob"}`,
	}
	for _, payload := range payloads {
		h.Submit("c1", "bob", "s2", payload)
	}

	if events := drainEvents(alice); len(events) != 0 {
		t.Fatalf("server-only event leaked: %+v", events)
	}
}

func TestUndecodableFrameIsDropped(t *testing.T) {
	h := startCoordinator(t, testDirectory())

	alice := NewOutbound()
	bob := NewOutbound()
	h.Connect("c1", "alice", "Alice", "s1", alice)
	h.Connect("c1", "bob", "Bob", "s2", bob)
	barrier(h, "c1")
	drainEvents(alice)

	// Submit must still signal completion for garbage frames.
	h.Submit("c1", "bob", "s2", "{{{ not json")

	if events := drainEvents(alice); len(events) != 0 {
		t.Fatalf("garbage frame produced events: %+v", events)
	}
}

func TestReplayDeliversLongHistoryCompletely(t *testing.T) {
	h := startCoordinator(t, testDirectory())

	const shapes = 600

	alice := NewOutbound()
	h.Connect("c1", "alice", "Alice", "s1", alice)
	for i := 0; i < shapes; i++ {
		h.Submit("c1", "alice", "s1", shapeAdded(fmt.Sprintf("shape-%04d", i), false, "s1"))
	}
	h.Disconnect("c1", "alice", "s1")
	barrier(h, "c1")

	// The canvas was evicted; this connect replays the full durable history
	// into a single session's queue. Every shape event must arrive.
	bob := NewOutbound()
	h.Connect("c1", "bob", "Bob", "s2", bob)
	barrier(h, "c1")

	added := 0
	for _, event := range drainEvents(bob) {
		if event.Type == KindShapeAdded {
			added++
		}
	}
	if added != shapes {
		t.Fatalf("replay truncated: received %d of %d shape events", added, shapes)
	}
}

// flakyLog accepts a fixed number of appends, then fails every write.
type flakyLog struct {
	appends int
	allow   int
}

func (l *flakyLog) Append(Event) error {
	l.appends++
	if l.appends > l.allow {
		return errors.New("disk full")
	}
	return nil
}

func (l *flakyLog) Close() error { return nil }

func TestLogWriteFailureQuarantinesCanvas(t *testing.T) {
	logger := zerolog.Nop()
	c := New(testDirectory(), t.TempDir(), &logger)

	// First load gets a log that dies after the two join events; reloads get
	// a real one.
	failing := true
	c.openLog = func(path string) ([]Event, appendLog, bool, error) {
		if failing {
			failing = false
			return nil, &flakyLog{allow: 2}, false, nil
		}
		return openEventLog(path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)
	h := c.Handle()

	alice := NewOutbound()
	bob := NewOutbound()
	h.Connect("c1", "alice", "Alice", "s1", alice)
	h.Connect("c1", "bob", "Bob", "s2", bob)
	barrier(h, "c1")
	drainEvents(alice)
	drainEvents(bob)

	h.Submit("c1", "bob", "s2", shapeAdded("shape-1", false, "s2"))

	// Every session of the failed canvas gets the error frame, the origin
	// included.
	if msg := mustText(t, alice); msg != "Canvas unavailable" {
		t.Fatalf("expected failure frame, got %q", msg)
	}
	if msg := mustText(t, bob); msg != "Canvas unavailable" {
		t.Fatalf("expected failure frame, got %q", msg)
	}

	// The coordinator survives and the canvas reloads cleanly on the next
	// connect.
	again := NewOutbound()
	h.Connect("c1", "alice", "Alice", "s3", again)
	barrier(h, "c1")

	events := drainEvents(again)
	if len(events) != 1 || events[0].Type != KindUserJoined {
		t.Fatalf("expected clean reload after quarantine, got %+v", events)
	}
}

func TestTimestampsNeverDecrease(t *testing.T) {
	h := startCoordinator(t, testDirectory())

	alice := NewOutbound()
	h.Connect("c1", "alice", "Alice", "s1", alice)
	barrier(h, "c1")

	bob := NewOutbound()
	h.Connect("c1", "bob", "Bob", "s2", bob)
	barrier(h, "c1")

	events := drainEvents(bob)
	var last int64
	for _, event := range events {
		if event.Timestamp < last {
			t.Fatalf("timestamp went backwards: %+v", events)
		}
		last = event.Timestamp
	}
}
