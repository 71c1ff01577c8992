package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// canvasIDLength is the number of hex characters in a canvas id. Kept short
// because canvas ids appear in shareable URLs.
const canvasIDLength = 8

// NewCanvasID returns a short random hex identifier for a canvas.
func NewCanvasID() string {
	buf := make([]byte, canvasIDLength/2)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	s := strconv.FormatInt(time.Now().UnixNano(), 16)
	if len(s) > canvasIDLength {
		s = s[len(s)-canvasIDLength:]
	}
	return s
}
