package canvas

import (
	"encoding/json"
	"fmt"

	"github.com/lukassw/canvashub/internal/store"
)

// Kind discriminates canvas event payloads. The set is closed: decoding an
// unknown kind is an error, and every decision that depends on the kind
// switches over all of them.
type Kind string

const (
	KindShapeAdded         Kind = "ShapeAdded"
	KindShapeRemoved       Kind = "ShapeRemoved"
	KindShapeSelected      Kind = "ShapeSelected"
	KindShapeDeselected    Kind = "ShapeDeselected"
	KindShapeZChanged      Kind = "ShapeZChanged"
	KindShapeUpdated       Kind = "ShapeUpdated"
	KindUserJoined         Kind = "UserJoined"
	KindUserLeft           Kind = "UserLeft"
	KindUserAccessChanged  Kind = "UserAccessLevelChanged"
	KindCanvasStateChanged Kind = "CanvasStateChanged"
)

// known reports whether k is part of the closed kind set.
func (k Kind) known() bool {
	switch k {
	case KindShapeAdded, KindShapeRemoved, KindShapeSelected,
		KindShapeDeselected, KindShapeZChanged, KindShapeUpdated,
		KindUserJoined, KindUserLeft, KindUserAccessChanged,
		KindCanvasStateChanged:
		return true
	}
	return false
}

// Event is one domain occurrence on a canvas. Field names follow the canvas
// client's wire format (camelCase, `type` discriminator). Shape payloads for
// ShapeUpdated, selection options and z-order values are opaque to the
// server and relayed untouched.
type Event struct {
	Type      Kind  `json:"type"`
	Timestamp int64 `json:"timestamp"`

	// Origin is the session that authored the event; receivers use it to
	// suppress echo. Empty on membership/mode events.
	Origin string `json:"origin,omitempty"`

	Shape   json.RawMessage `json:"shape,omitempty"`
	ShapeID string          `json:"shapeId,omitempty"`
	Options json.RawMessage `json:"options,omitempty"`
	Z       json.RawMessage `json:"z,omitempty"`

	UserID      string            `json:"userId,omitempty"`
	Username    string            `json:"username,omitempty"`
	SessionID   string            `json:"sessionId,omitempty"`
	AccessLevel store.AccessLevel `json:"accessLevel,omitempty"`
	State       store.CanvasMode  `json:"state,omitempty"`
	Initiator   string            `json:"initiator,omitempty"`
}

// ServerOnly reports whether the event kind may only ever be authored by the
// server. Clients submitting these are rejected outright.
func (e *Event) ServerOnly() bool {
	switch e.Type {
	case KindUserJoined, KindUserLeft, KindUserAccessChanged, KindCanvasStateChanged:
		return true
	case KindShapeAdded, KindShapeRemoved, KindShapeSelected,
		KindShapeDeselected, KindShapeZChanged, KindShapeUpdated:
		return false
	}
	return false
}

// Decode parses a client frame into an Event, rejecting unknown kinds.
func Decode(raw []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if !event.Type.known() {
		return Event{}, fmt.Errorf("unknown event type %q", event.Type)
	}
	return event, nil
}

// Encode serializes the event to its single-frame wire form.
func (e *Event) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	return string(data), nil
}

// Point is a canvas coordinate. The client uses whole pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Shape is the decoded form of a ShapeAdded payload. The server only acts on
// ID and Temporary; geometry and colors ride along for the clients.
type Shape struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	Temporary   bool   `json:"temporary"`
	BorderColor string `json:"borderColor,omitempty"`
	FillColor   string `json:"fillColor,omitempty"`

	From   *Point  `json:"from,omitempty"`
	To     *Point  `json:"to,omitempty"`
	Center *Point  `json:"center,omitempty"`
	Radius float64 `json:"radius,omitempty"`
	P1     *Point  `json:"p1,omitempty"`
	P2     *Point  `json:"p2,omitempty"`
	P3     *Point  `json:"p3,omitempty"`
}

// DecodeShape extracts the typed shape from a ShapeAdded event.
func (e *Event) DecodeShape() (Shape, error) {
	var shape Shape
	if err := json.Unmarshal(e.Shape, &shape); err != nil {
		return Shape{}, fmt.Errorf("decode shape: %w", err)
	}
	return shape, nil
}
