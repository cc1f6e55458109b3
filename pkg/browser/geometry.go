// File: pkg/browser/geometry.go
package browser

import (
	"math/rand"

	"github.com/fareloom/fareloom/internal/config"
)

// Geometry is the window placement and size for one session.
type Geometry struct {
	X, Y          int
	Width, Height int
}

// RandomGeometry draws a window size and position uniformly at random within
// the configured display bounds. A fixed window geometry across sessions is
// itself a fingerprint, so every launch gets a fresh one.
func RandomGeometry(rng *rand.Rand, cfg config.BrowserConfig) Geometry {
	w := cfg.MinWindowW
	if spread := cfg.MaxWindowW - cfg.MinWindowW; spread > 0 {
		w += rng.Intn(spread + 1)
	}
	h := cfg.MinWindowH
	if spread := cfg.MaxWindowH - cfg.MinWindowH; spread > 0 {
		h += rng.Intn(spread + 1)
	}

	var x, y int
	if room := cfg.DisplayWidth - w; room > 0 {
		x = rng.Intn(room + 1)
	}
	if room := cfg.DisplayHeight - h; room > 0 {
		y = rng.Intn(room + 1)
	}
	return Geometry{X: x, Y: y, Width: w, Height: h}
}
