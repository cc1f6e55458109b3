// File: pkg/browser/click.go
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"github.com/fareloom/fareloom/pkg/humanoid"
)

// Click locates the element, waits a human-like pause, then moves the cursor
// along a synthetic trajectory and clicks a random point inside its box.
func (s *Session) Click(ctx context.Context, selector string) error {
	clickCtx, cancel := s.deadlineCtx(ctx, s.opts.Network.NavigationTimeout)
	defer cancel()

	return chromedp.Run(clickCtx, chromedp.ActionFunc(func(cctx context.Context) error {
		var nodes []*cdp.Node
		if err := chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.WaitVisible).Do(cctx); err != nil {
			return fmt.Errorf("failed to find visible element %q: %w", selector, err)
		}
		if len(nodes) == 0 {
			return fmt.Errorf("no element matches selector %q", selector)
		}

		box, err := dom.GetBoxModel().WithNodeID(nodes[0].NodeID).Do(cctx)
		if err != nil {
			return fmt.Errorf("failed to get box model for %q: %w", selector, err)
		}
		bounds, ok := rectFromBox(box)
		if !ok {
			return fmt.Errorf("element %q has a degenerate box", selector)
		}

		if err := s.human.ActionDelay(cctx); err != nil {
			return err
		}
		return s.human.MoveAndClick(cctx, bounds)
	}))
}

// rectFromBox converts a CDP box model quad into an axis-aligned rectangle.
// The content quad carries the four corners as x0,y0 .. x3,y3.
func rectFromBox(box *dom.BoxModel) (humanoid.Rect, bool) {
	if box == nil || len(box.Content) < 8 || box.Width <= 0 || box.Height <= 0 {
		return humanoid.Rect{}, false
	}
	minX, minY := box.Content[0], box.Content[1]
	for i := 2; i < 8; i += 2 {
		if box.Content[i] < minX {
			minX = box.Content[i]
		}
		if box.Content[i+1] < minY {
			minY = box.Content[i+1]
		}
	}
	return humanoid.Rect{X: minX, Y: minY, W: float64(box.Width), H: float64(box.Height)}, true
}
