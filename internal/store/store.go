package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// AccessLevel is the permission tier a user holds on a canvas.
// The zero value means the user is not a member at all.
type AccessLevel string

const (
	AccessNone     AccessLevel = ""
	AccessRead     AccessLevel = "Read"
	AccessWrite    AccessLevel = "Write"
	AccessVoice    AccessLevel = "Voice"
	AccessModerate AccessLevel = "Moderate"
	AccessOwner    AccessLevel = "Owner"
)

// Valid reports whether the level is one of the assignable tiers.
func (l AccessLevel) Valid() bool {
	switch l {
	case AccessRead, AccessWrite, AccessVoice, AccessModerate, AccessOwner:
		return true
	}
	return false
}

// CanvasMode is the canvas-wide switch gating write permission.
type CanvasMode string

const (
	ModeActive    CanvasMode = "Active"
	ModeModerated CanvasMode = "Moderated"
)

// Valid reports whether the mode is a known canvas mode.
func (m CanvasMode) Valid() bool {
	return m == ModeActive || m == ModeModerated
}

// User represents a registered user.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Canvas is the metadata record for one canvas document.
type Canvas struct {
	ID        string
	Name      string
	OwnerID   string
	Mode      CanvasMode
	Members   map[string]AccessLevel
	CreatedAt time.Time
}

// CanvasClaim is the compact membership entry embedded in auth tokens.
type CanvasClaim struct {
	Name   string      `json:"n"`
	Canvas string      `json:"c"`
	Access AccessLevel `json:"r"`
}

// UserStore persists registered users.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
}

// CanvasStore is the canvas metadata directory. The coordinator consults it
// once per canvas load; it is never on the broadcast path.
type CanvasStore interface {
	CreateCanvas(ctx context.Context, name, ownerID string) (*Canvas, error)
	GetCanvas(ctx context.Context, id string) (*Canvas, error)
	ListUserCanvases(ctx context.Context, userID string) ([]CanvasClaim, error)
	SetMemberAccess(ctx context.Context, canvasID, userID string, level AccessLevel) error
	SetCanvasMode(ctx context.Context, canvasID string, mode CanvasMode) error
}

// Store combines all persistence interfaces.
type Store interface {
	UserStore
	CanvasStore
	Close() error
}
