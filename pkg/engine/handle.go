package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fareloom/fareloom/pkg/intercept"
	"github.com/fareloom/fareloom/pkg/waiter"
)

// Handle is the capability set a plugin receives for one attempt. Every
// operation is bound to the attempt's context, so an expired attempt cuts
// the plugin off mid-call.
type Handle struct {
	ctx     context.Context
	attempt *Attempt
	logger  *zap.Logger

	defaultWaitTimeout time.Duration
}

func newHandle(ctx context.Context, attempt *Attempt, defaultWaitTimeout time.Duration, logger *zap.Logger) *Handle {
	if defaultWaitTimeout <= 0 {
		defaultWaitTimeout = 30 * time.Second
	}
	return &Handle{
		ctx:                ctx,
		attempt:            attempt,
		logger:             logger,
		defaultWaitTimeout: defaultWaitTimeout,
	}
}

// Navigate loads a URL and waits for the document to settle.
func (h *Handle) Navigate(url string) error {
	h.logger.Debug("navigating", zap.String("url", url))
	return h.attempt.Session.Navigate(h.ctx, url)
}

// WaitFor races the given conditions with the default timeout.
func (h *Handle) WaitFor(conditions ...waiter.Condition) (*waiter.Match, error) {
	return h.WaitForTimeout(h.defaultWaitTimeout, conditions...)
}

// WaitForTimeout races the given conditions with an explicit timeout.
func (h *Handle) WaitForTimeout(timeout time.Duration, conditions ...waiter.Condition) (*waiter.Match, error) {
	return h.attempt.Waiter.Wait(h.ctx, timeout, conditions)
}

// Evaluate runs a JavaScript expression in the page and decodes the result
// into out. Promises are awaited.
func (h *Handle) Evaluate(expr string, out any) error {
	return h.attempt.Session.Evaluate(h.ctx, expr, out)
}

// EvaluateRaw runs an expression and returns the raw JSON result.
func (h *Handle) EvaluateRaw(expr string) (string, error) {
	return h.attempt.Session.EvaluateRaw(h.ctx, expr)
}

// HTML snapshots the current document.
func (h *Handle) HTML() (string, error) {
	return h.attempt.Session.HTML(h.ctx)
}

// Click moves the cursor to the element and clicks it.
func (h *Handle) Click(selector string) error {
	return h.attempt.Session.Click(h.ctx, selector)
}

// Sleep pauses the plugin, respecting the attempt deadline.
func (h *Handle) Sleep(d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-h.ctx.Done():
		return h.ctx.Err()
	case <-t.C:
		return nil
	}
}

// Cache exposes the attempt's response cache for plugins that read captured
// API bodies directly.
func (h *Handle) Cache() *intercept.Cache {
	return h.attempt.Interceptor.Cache()
}

// Stats reports the attempt's bandwidth counters so far.
func (h *Handle) Stats() intercept.BandwidthStats {
	return h.attempt.Interceptor.Stats()
}

// Log writes an informational message under the plugin's logger.
func (h *Handle) Log(msg string, fields ...zap.Field) {
	h.logger.Info(msg, fields...)
}

// Warnf logs a formatted warning. Plugins use it before returning
// ErrNoResults so the empty outcome is visible in the run log.
func (h *Handle) Warnf(format string, args ...any) {
	h.logger.Warn(fmt.Sprintf(format, args...))
}

// Context returns the attempt context for plugins that call out directly.
func (h *Handle) Context() context.Context { return h.ctx }
