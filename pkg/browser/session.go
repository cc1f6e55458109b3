// Package browser owns the lifecycle of one Chrome process per attempt:
// launch with randomized geometry and a stealth flag baseline, navigation,
// in-page evaluation, human-like clicking, and exactly-once teardown.
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fareloom/fareloom/internal/config"
	"github.com/fareloom/fareloom/pkg/browser/stealth"
	"github.com/fareloom/fareloom/pkg/humanoid"
	"github.com/fareloom/fareloom/pkg/proxy"
)

// State tracks the session lifecycle.
type State int32

const (
	StateLaunching State = iota
	StateReady
	StateClosing
	StateClosed
)

// Options configures a session launch.
type Options struct {
	Browser  config.BrowserConfig
	Network  config.NetworkConfig
	Humanoid config.HumanoidConfig
	// Proxy, when set, routes all session traffic through the assigned
	// egress identity.
	Proxy  *proxy.Session
	Logger *zap.Logger
	// Rng drives geometry and persona randomization; nil means time-seeded.
	Rng *rand.Rand
}

// Session is one isolated browser process plus the tab driven through it.
// It is exclusively owned by a single attempt and destroyed with it.
type Session struct {
	id      string
	logger  *zap.Logger
	opts    Options
	geom    Geometry
	persona stealth.Persona
	human   *humanoid.Humanoid

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	mu    sync.Mutex
	state State
}

// Launch starts a browser process with a randomized window geometry and the
// stealth flag baseline, opens a tab, and applies the persona overrides.
// A failed launch is reported upward as a retryable attempt error.
func Launch(ctx context.Context, opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	rng := opts.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	id := uuid.New().String()
	geom := RandomGeometry(rng, opts.Browser)
	persona := stealth.DefaultPersona(rng, geom.Width, geom.Height)

	s := &Session{
		id:      id,
		logger:  opts.Logger.Named("browser").With(zap.String("session_id", id[:8])),
		opts:    opts,
		geom:    geom,
		persona: persona,
		human:   humanoid.New(opts.Humanoid, opts.Logger),
		state:   StateLaunching,
	}

	allocOpts := buildAllocatorOptions(opts, geom, persona)
	s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(ctx, allocOpts...)
	s.tabCtx, s.tabCancel = chromedp.NewContext(s.allocCtx)

	// The first Run starts the actual process; confirm it is responsive and
	// install the stealth persona before anything else touches the tab.
	launchCtx, cancel := context.WithTimeout(s.tabCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(launchCtx, stealth.Apply(persona, s.logger)); err != nil {
		s.teardown()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	// The cursor starts somewhere a human would leave it, not at (0,0).
	s.human.SetPosition(humanoid.Vector2D{
		X: float64(geom.Width) * (0.2 + rng.Float64()*0.6),
		Y: float64(geom.Height) * (0.2 + rng.Float64()*0.6),
	})

	s.mu.Lock()
	s.state = StateReady
	s.mu.Unlock()

	s.logger.Info("Browser session launched",
		zap.Int("window_w", geom.Width), zap.Int("window_h", geom.Height),
		zap.Int("window_x", geom.X), zap.Int("window_y", geom.Y),
		zap.Bool("proxied", opts.Proxy != nil))
	return s, nil
}

// buildAllocatorOptions assembles the stealth flag baseline plus this
// session's randomized values.
func buildAllocatorOptions(opts Options, geom Geometry, persona stealth.Persona) []chromedp.ExecAllocatorOption {
	// Start from the defaults, dropping the flag that announces automation.
	var out []chromedp.ExecAllocatorOption
	for _, opt := range chromedp.DefaultExecAllocatorOptions[:] {
		if flag, ok := opt.(chromedp.Flag); ok && flag.Name == "enable-automation" {
			continue
		}
		out = append(out, opt)
	}

	out = append(out,
		chromedp.Flag("headless", opts.Browser.Headless),
		chromedp.Flag("ignore-certificate-errors", opts.Browser.IgnoreTLSErrors),
		// navigator.webdriver and friends.
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", opts.Browser.Headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-component-update", true),
		chromedp.Flag("disable-features", "Translate,OptimizationHints,AutofillServerCommunication,MediaRouter"),
		chromedp.Flag("password-store", "basic"),
		chromedp.Flag("window-size", fmt.Sprintf("%d,%d", geom.Width, geom.Height)),
		chromedp.Flag("window-position", fmt.Sprintf("%d,%d", geom.X, geom.Y)),
		chromedp.UserAgent(persona.UserAgent),
	)

	if opts.Browser.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.Browser.ExecPath))
	}
	if opts.Proxy != nil {
		out = append(out, chromedp.ProxyServer(opts.Proxy.ServerURL()))
	}

	// Custom arguments from the config file.
	for _, arg := range opts.Browser.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			out = append(out, chromedp.Flag(name, parts[1]))
		} else {
			out = append(out, chromedp.Flag(name, true))
		}
	}

	// Containerized Linux needs these to start at all.
	if runtime.GOOS == "linux" {
		out = append(out,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return out
}

// ID returns the unique identifier for this session.
func (s *Session) ID() string { return s.id }

// Context returns the tab context used for CDP event listening.
func (s *Session) Context() context.Context { return s.tabCtx }

// Proxy returns the egress identity this session was launched with, if any.
func (s *Session) Proxy() *proxy.Session { return s.opts.Proxy }

// Geometry returns the randomized window placement chosen at launch.
func (s *Session) Geometry() Geometry { return s.geom }

// Navigate loads a URL and waits for the document to become ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating", zap.String("url", url))
	navCtx, cancel := s.deadlineCtx(ctx, s.opts.Network.NavigationTimeout)
	defer cancel()
	return chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// Let late async work settle before the plugin starts probing.
		chromedp.Sleep(s.opts.Network.PostLoadWait),
	)
}

// Close tears the session down. It is safe to call from any exit path and
// runs exactly once; later calls return nil immediately. It deliberately
// takes no context: teardown must proceed even when the attempt that owned
// the session has already expired.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	s.mu.Unlock()

	s.teardown()

	// Wait for the process to actually die, with a hard cap.
	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	select {
	case <-s.allocCtx.Done():
		s.logger.Debug("Browser session closed")
	case <-waitCtx.Done():
		s.logger.Warn("Deadline exceeded waiting for browser to close", zap.Error(waitCtx.Err()))
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	return nil
}

func (s *Session) teardown() {
	if s.tabCancel != nil {
		s.tabCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

// deadlineCtx derives a context from the tab bounded by both the caller's
// context and the supplied timeout.
func (s *Session) deadlineCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	base := s.tabCtx
	if timeout <= 0 {
		return context.WithCancel(base)
	}
	derived, cancel := context.WithTimeout(base, timeout)
	// Propagate external cancellation without reparenting the CDP context.
	stop := context.AfterFunc(ctx, cancel)
	return derived, func() { stop(); cancel() }
}
