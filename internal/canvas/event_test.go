package canvas

import (
	"encoding/json"
	"testing"

	"github.com/lukassw/canvashub/internal/store"
)

func TestDecodeShapeAdded(t *testing.T) {
	raw := `{
		"type": "ShapeAdded",
		"origin": "s1",
		"timestamp": 1700000000,
		"shape": {
			"type": "Rectangle",
			"id": "shape-1",
			"temporary": true,
			"borderColor": "#000000",
			"fillColor": "#ff0000",
			"from": {"x": 1, "y": 2},
			"to": {"x": 30, "y": 40}
		}
	}`

	event, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Type != KindShapeAdded || event.Origin != "s1" {
		t.Fatalf("unexpected event: %+v", event)
	}

	shape, err := event.DecodeShape()
	if err != nil {
		t.Fatalf("decode shape: %v", err)
	}
	if shape.ID != "shape-1" || !shape.Temporary || shape.Type != "Rectangle" {
		t.Fatalf("unexpected shape: %+v", shape)
	}
	if shape.From == nil || shape.From.X != 1 || shape.To == nil || shape.To.Y != 40 {
		t.Fatalf("unexpected geometry: %+v", shape)
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"ShapeTeleported","timestamp":1}`)); err == nil {
		t.Fatal("expected error for unknown event type")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestServerOnlyKinds(t *testing.T) {
	serverOnly := map[Kind]bool{
		KindUserJoined:         true,
		KindUserLeft:           true,
		KindUserAccessChanged:  true,
		KindCanvasStateChanged: true,
		KindShapeAdded:         false,
		KindShapeRemoved:       false,
		KindShapeSelected:      false,
		KindShapeDeselected:    false,
		KindShapeZChanged:      false,
		KindShapeUpdated:       false,
	}

	for kind, want := range serverOnly {
		event := Event{Type: kind}
		if got := event.ServerOnly(); got != want {
			t.Errorf("ServerOnly(%s) = %v, want %v", kind, got, want)
		}
	}
}

func TestEncodeRelaysOpaquePayloads(t *testing.T) {
	event := Event{
		Type:      KindShapeZChanged,
		Timestamp: 42,
		Origin:    "s9",
		ShapeID:   "shape-2",
		Z:         json.RawMessage(`{"layer":3,"above":"shape-1"}`),
	}

	encoded, err := event.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := Decode([]byte(encoded))
	if err != nil {
		t.Fatalf("decode round trip: %v", err)
	}
	if string(decoded.Z) != `{"layer":3,"above":"shape-1"}` {
		t.Fatalf("z payload altered: %s", decoded.Z)
	}
}

func TestEncodeMembershipEvent(t *testing.T) {
	event := Event{
		Type:        KindUserAccessChanged,
		Timestamp:   7,
		UserID:      "u1",
		AccessLevel: store.AccessModerate,
	}

	encoded, err := event.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var wire map[string]any
	if err := json.Unmarshal([]byte(encoded), &wire); err != nil {
		t.Fatalf("unmarshal wire form: %v", err)
	}
	if wire["type"] != "UserAccessLevelChanged" || wire["userId"] != "u1" || wire["accessLevel"] != "Moderate" {
		t.Fatalf("unexpected wire form: %s", encoded)
	}
	if _, ok := wire["origin"]; ok {
		t.Fatal("empty origin must be omitted")
	}
}
