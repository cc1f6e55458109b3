// File: pkg/browser/evaluate.go
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// awaitPromise makes Evaluate resolve promises before returning, so plugins
// can hand the engine an async fetch expression directly.
func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// Evaluate executes expr inside the page and unmarshals the serialized
// result into out. An exception thrown in the page comes back as an error.
func (s *Session) Evaluate(ctx context.Context, expr string, out any) error {
	evalCtx, cancel := s.deadlineCtx(ctx, s.opts.Network.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(expr, out, awaitPromise)); err != nil {
		return fmt.Errorf("evaluate failed: %w", err)
	}
	return nil
}

// EvaluateRaw executes expr and returns the result serialized as raw JSON
// text. Used when the response shape is untrusted: the plugin parses and
// validates, the engine just moves bytes.
func (s *Session) EvaluateRaw(ctx context.Context, expr string) (string, error) {
	var raw []byte
	evalCtx, cancel := s.deadlineCtx(ctx, s.opts.Network.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(expr, &raw, awaitPromise)); err != nil {
		return "", fmt.Errorf("evaluate failed: %w", err)
	}
	return string(raw), nil
}

// HTML returns the current rendered markup of the page. The condition
// waiter polls this for html-type conditions.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var content string
	htmlCtx, cancel := s.deadlineCtx(ctx, s.opts.Network.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(htmlCtx, chromedp.OuterHTML("html", &content, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return content, nil
}
