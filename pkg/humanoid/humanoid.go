// Package humanoid synthesizes human-like pointer trajectories and timing.
// Every gesture is generated fresh; the only state carried between calls is
// the current cursor position.
package humanoid

import (
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"

	"github.com/fareloom/fareloom/internal/config"
)

// Rect is an axis-aligned target area in page coordinates.
type Rect struct {
	X, Y, W, H float64
}

// Center returns the geometric center of the rectangle.
func (r Rect) Center() Vector2D {
	return Vector2D{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// Contains reports whether p lies within the rectangle.
func (r Rect) Contains(p Vector2D) bool {
	return p.X >= r.X && p.X <= r.X+r.W && p.Y >= r.Y && p.Y <= r.Y+r.H
}

// Humanoid simulates human-like pointer interaction. It is safe for
// concurrent use, though a browser session drives it from one goroutine.
type Humanoid struct {
	mu  sync.Mutex
	cfg config.HumanoidConfig
	log *zap.Logger

	currentPos Vector2D
	rng        *rand.Rand
	noiseX     *perlin.Perlin
	noiseY     *perlin.Perlin
}

// New creates a Humanoid. A zero cfg.Seed seeds from the clock; tests fix
// the seed to assert distributional properties deterministically.
func New(cfg config.HumanoidConfig, logger *zap.Logger) *Humanoid {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	// Standard Perlin parameters; offset seed so X and Y drift independently.
	alpha, beta, n := 2.0, 2.0, int32(3)
	return &Humanoid{
		cfg:        cfg,
		log:        logger.Named("humanoid"),
		currentPos: Vector2D{X: -1, Y: -1}, // unknown until SetPosition or first move
		rng:        rng,
		noiseX:     perlin.NewPerlin(alpha, beta, n, seed),
		noiseY:     perlin.NewPerlin(alpha, beta, n, seed+1),
	}
}

// SetPosition teaches the simulator where the cursor currently is, e.g.
// right after a session launch.
func (h *Humanoid) SetPosition(p Vector2D) {
	h.mu.Lock()
	h.currentPos = p
	h.mu.Unlock()
}

// Position returns the last known cursor position.
func (h *Humanoid) Position() Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPos
}

// PickTarget chooses a click point uniformly at random within bounds,
// rejecting the exact center so repeated clicks never land on the
// coordinate a framework would pick.
func (h *Humanoid) PickTarget(bounds Rect) Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	center := bounds.Center()
	for {
		p := Vector2D{
			X: bounds.X + h.rng.Float64()*bounds.W,
			Y: bounds.Y + h.rng.Float64()*bounds.H,
		}
		if p != center {
			return p
		}
	}
}

// ActionDelayDuration draws the random pause inserted between discrete
// actions so cadence does not look machine-regular.
func (h *Humanoid) ActionDelayDuration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	spread := h.cfg.ActionDelayMaxMs - h.cfg.ActionDelayMinMs
	ms := h.cfg.ActionDelayMinMs
	if spread > 0 {
		ms += h.rng.Intn(spread)
	}
	return time.Duration(ms) * time.Millisecond
}

// clickHoldDuration draws the dwell time between press and release.
func (h *Humanoid) clickHoldDuration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	spread := h.cfg.ClickHoldMaxMs - h.cfg.ClickHoldMinMs
	ms := h.cfg.ClickHoldMinMs
	if spread > 0 {
		ms += h.rng.Intn(spread)
	}
	return time.Duration(ms) * time.Millisecond
}
