package canvas

import "github.com/lukassw/canvashub/internal/store"

// ValidatePermissions reports whether a user holding level may submit
// mutating events to a canvas in the given mode.
//
// Owner, Moderate and Voice may always write. Write may write only while the
// canvas is Active. Read, or no membership at all, may never write.
func ValidatePermissions(level store.AccessLevel, mode store.CanvasMode) bool {
	switch level {
	case store.AccessOwner, store.AccessModerate, store.AccessVoice:
		return true
	case store.AccessWrite:
		return mode == store.ModeActive
	default:
		return false
	}
}
