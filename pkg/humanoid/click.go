// File: pkg/humanoid/click.go
package humanoid

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/chromedp/cdproto/input"
	"go.uber.org/zap"
)

// MoveAndClick moves the cursor along a fresh trajectory to a random point
// inside bounds and performs a full press/release click there. ctx must be
// a chromedp tab context (the CDP input events are dispatched through it).
func (h *Humanoid) MoveAndClick(ctx context.Context, bounds Rect) error {
	target := h.PickTarget(bounds)

	// Travel distance must be taken before MoveTo updates the cursor,
	// otherwise the settle time below always sees zero.
	h.mu.Lock()
	start := h.currentPos
	h.mu.Unlock()
	if start.X < 0 || start.Y < 0 {
		start = Vector2D{X: target.X * 0.25, Y: target.Y * 0.25}
	}
	travel := start.Dist(target)

	if err := h.MoveTo(ctx, target); err != nil {
		return err
	}

	// Terminal Fitts latency: humans settle before pressing.
	if err := sleepContext(ctx, h.terminalDelay(travel)); err != nil {
		return err
	}

	if err := h.press(ctx, target); err != nil {
		return fmt.Errorf("humanoid: mousedown failed: %w", err)
	}
	if err := sleepContext(ctx, h.clickHoldDuration()); err != nil {
		return err
	}
	if err := h.release(ctx, target); err != nil {
		return fmt.Errorf("humanoid: mouseup failed: %w", err)
	}
	return nil
}

// MoveTo replays a generated trajectory as timed CDP MouseMoved events.
func (h *Humanoid) MoveTo(ctx context.Context, target Vector2D) error {
	h.mu.Lock()
	start := h.currentPos
	h.mu.Unlock()

	if start.X < 0 || start.Y < 0 {
		// Cursor position unknown; land mid-flight somewhere plausible.
		start = Vector2D{X: target.X * 0.25, Y: target.Y * 0.25}
	}

	path := h.GeneratePath(start, target)
	begin := time.Now()
	for _, s := range path {
		if err := ctx.Err(); err != nil {
			return err
		}
		if wait := s.Offset - time.Since(begin); wait > 0 {
			if err := sleepContext(ctx, wait); err != nil {
				return err
			}
		}
		ev := input.DispatchMouseEvent(input.MouseMoved, s.Pos.X, s.Pos.Y)
		if err := ev.Do(ctx); err != nil {
			// A navigation mid-gesture invalidates the input target.
			h.log.Debug("mouse move dispatch failed", zap.Error(err))
			return err
		}
	}

	h.mu.Lock()
	h.currentPos = target
	h.mu.Unlock()
	return nil
}

// ActionDelay sleeps a random inter-action duration, respecting ctx.
func (h *Humanoid) ActionDelay(ctx context.Context) error {
	return sleepContext(ctx, h.ActionDelayDuration())
}

func (h *Humanoid) press(ctx context.Context, pos Vector2D) error {
	return input.DispatchMouseEvent(input.MousePressed, pos.X, pos.Y).
		WithButton(input.MouseButtonLeft).
		WithClickCount(1).
		WithTimestamp(timeNowInputPtr()).
		Do(ctx)
}

func (h *Humanoid) release(ctx context.Context, pos Vector2D) error {
	return input.DispatchMouseEvent(input.MouseReleased, pos.X, pos.Y).
		WithButton(input.MouseButtonLeft).
		WithClickCount(1).
		WithTimestamp(timeNowInputPtr()).
		Do(ctx)
}

// terminalDelay is the pre-click settle time from Fitts's law:
// MT = A + B * log2(1 + D/W) with a default terminal width of 20px.
func (h *Humanoid) terminalDelay(distance float64) time.Duration {
	const w = 20.0
	id := math.Log2(1.0 + distance/w)

	h.mu.Lock()
	mt := h.cfg.FittsA + h.cfg.FittsB*id
	mt += (h.rng.Float64() - 0.5) * mt * 0.2
	h.mu.Unlock()

	if mt < 50 {
		mt = 50
	}
	return time.Duration(mt) * time.Millisecond
}

// timeNowInputPtr returns the current time as the pointer type the CDP
// input domain expects.
func timeNowInputPtr() *input.TimeSinceEpoch {
	t := input.TimeSinceEpoch(time.Now())
	return &t
}

// sleepContext is a utility for context-aware sleeps.
func sleepContext(ctx context.Context, duration time.Duration) error {
	t := time.NewTimer(duration)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
