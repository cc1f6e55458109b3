// File: pkg/humanoid/trajectory.go
package humanoid

import (
	"math"
	"time"
)

// Sample is one point of a pointer path with its time offset from the start
// of the gesture.
type Sample struct {
	Pos    Vector2D
	Offset time.Duration
}

// Path is an ordered pointer trajectory. Offsets increase strictly.
type Path []Sample

// easeInOutCubic provides a smooth acceleration and deceleration profile.
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// GeneratePath creates a cubic-Bezier trajectory from start to end with
// eased, jittered timestamps. Every call produces a fresh path.
func (h *Humanoid) GeneratePath(start, end Vector2D) Path {
	h.mu.Lock()
	defer h.mu.Unlock()

	mainVec := end.Sub(start)
	dist := mainVec.Mag()
	if dist < 1.0 {
		return Path{{Pos: end}}
	}
	mainDir := mainVec.Normalize()
	perpDir := Vector2D{X: -mainDir.Y, Y: mainDir.X}

	// Control points sit at 1/3 and 2/3 of the straight line, pushed
	// sideways by a random arc so no two gestures share a curve.
	arc := dist * (0.08 + h.rng.Float64()*0.22)
	if h.rng.Float64() < 0.5 {
		arc = -arc
	}
	p0, p3 := start, end
	p1 := start.Add(mainDir.Mul(dist / 3.0)).Add(perpDir.Mul(arc))
	p2 := start.Add(mainDir.Mul(dist * 2.0 / 3.0)).Add(perpDir.Mul(arc * 0.6))

	// Mid-flight correction: occasionally nudge the second control point,
	// capped at 30px, the way a human over- or under-shoots.
	if h.rng.Float64() < 0.3 {
		correction := math.Min(dist/5, 30.0) * (h.rng.Float64() - 0.5) * 2.0
		p2 = p2.Add(perpDir.Mul(correction))
	}

	numSteps := int(math.Max(24.0, dist/4.0))
	total := h.movementTime(dist)

	path := make(Path, 0, numSteps+1)
	var lastOffset time.Duration = -1
	for i := 0; i <= numSteps; i++ {
		t := float64(i) / float64(numSteps)

		// Cubic Bezier coefficients.
		c0 := math.Pow(1-t, 3)
		c1 := 3 * math.Pow(1-t, 2) * t
		c2 := 3 * (1 - t) * math.Pow(t, 2)
		c3 := math.Pow(t, 3)

		pos := Vector2D{
			X: c0*p0.X + c1*p1.X + c2*p2.X + c3*p3.X,
			Y: c0*p0.Y + c1*p1.Y + c2*p2.Y + c3*p3.Y,
		}

		// Noise on intermediate samples only; the endpoint must land exactly.
		elapsed := float64(total) * easeInOutCubic(t)
		if i > 0 && i < numSteps {
			pos = h.applyNoiseLocked(pos, elapsed/float64(time.Second))
			// Timing jitter (+/- up to 15% of the step), never regressing.
			elapsed += (h.rng.Float64() - 0.5) * 0.3 * float64(total) / float64(numSteps)
		}

		offset := time.Duration(elapsed)
		if offset <= lastOffset {
			offset = lastOffset + time.Millisecond
		}
		lastOffset = offset
		path = append(path, Sample{Pos: pos, Offset: offset})
	}
	return path
}

// movementTime predicts gesture duration from distance using Fitts's law
// (MT = A + B*log2(1 + D/W)) with a ~12% coefficient of variation.
// Must be called with the lock held.
func (h *Humanoid) movementTime(dist float64) time.Duration {
	const effectiveWidth = 40.0
	id := math.Log2(1.0 + dist/effectiveWidth)
	mt := h.cfg.FittsA + h.cfg.FittsB*id
	mt += h.rng.NormFloat64() * mt * 0.12
	if mt < 80 {
		mt = 80
	}
	return time.Duration(mt) * time.Millisecond
}

// applyNoiseLocked combines Gaussian perturbation (tremor) with Perlin noise
// (drift). Must be called with the lock held.
func (h *Humanoid) applyNoiseLocked(point Vector2D, t float64) Vector2D {
	strength := h.cfg.GaussianStrength * (0.5 + h.rng.Float64())
	pX := h.rng.NormFloat64() * strength
	pY := h.rng.NormFloat64() * strength

	driftX := h.noiseX.Noise1D(t*0.8) * h.cfg.PerlinAmplitude
	driftY := h.noiseY.Noise1D(t*0.8) * h.cfg.PerlinAmplitude

	return Vector2D{X: point.X + pX + driftX, Y: point.Y + pY + driftY}
}
