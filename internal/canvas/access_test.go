package canvas

import (
	"testing"

	"github.com/lukassw/canvashub/internal/store"
)

func TestValidatePermissionsFullCrossProduct(t *testing.T) {
	levels := []store.AccessLevel{
		store.AccessNone,
		store.AccessRead,
		store.AccessWrite,
		store.AccessVoice,
		store.AccessModerate,
		store.AccessOwner,
	}
	modes := []store.CanvasMode{store.ModeActive, store.ModeModerated}

	// Everything not listed here must be denied.
	alwaysAllowed := map[store.AccessLevel]bool{
		store.AccessOwner:    true,
		store.AccessModerate: true,
		store.AccessVoice:    true,
	}

	for _, level := range levels {
		for _, mode := range modes {
			want := alwaysAllowed[level] ||
				(level == store.AccessWrite && mode == store.ModeActive)
			if got := ValidatePermissions(level, mode); got != want {
				t.Errorf("ValidatePermissions(%q, %q) = %v, want %v", level, mode, got, want)
			}
		}
	}
}

func TestValidatePermissionsUnknownLevelDenied(t *testing.T) {
	if ValidatePermissions(store.AccessLevel("Admin"), store.ModeActive) {
		t.Fatal("unknown access level must be denied")
	}
}
