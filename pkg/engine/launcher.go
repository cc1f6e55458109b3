package engine

import (
	"context"
	"math/rand"

	"go.uber.org/zap"

	"github.com/fareloom/fareloom/internal/config"
	"github.com/fareloom/fareloom/pkg/browser"
	"github.com/fareloom/fareloom/pkg/intercept"
	"github.com/fareloom/fareloom/pkg/proxy"
	"github.com/fareloom/fareloom/pkg/schemas"
	"github.com/fareloom/fareloom/pkg/waiter"
)

// Launcher provisions real Chrome sessions for the orchestrator. It owns no
// per-attempt state; everything it creates is handed to the Attempt.
type Launcher struct {
	cfg    *config.Config
	pool   *proxy.Pool
	logger *zap.Logger
}

// NewLauncher builds the production launcher. pool may be nil when proxy
// rotation is disabled.
func NewLauncher(cfg *config.Config, pool *proxy.Pool, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{cfg: cfg, pool: pool, logger: logger}
}

// Launch is the LaunchFunc the orchestrator calls once per attempt: lease a
// proxy if rotation is on, start a fresh browser, install interception, and
// wire a waiter over both.
func (l *Launcher) Launch(ctx context.Context, meta schemas.ScraperMetadata) (*Attempt, error) {
	var proxySess *proxy.Session
	if l.cfg.Engine.UseProxy && l.pool != nil {
		var err error
		proxySess, err = l.pool.Assign(ctx)
		if err != nil {
			return nil, err
		}
	}

	var rng *rand.Rand
	if l.cfg.Humanoid.Seed != 0 {
		rng = rand.New(rand.NewSource(l.cfg.Humanoid.Seed))
	}

	sess, err := browser.Launch(ctx, browser.Options{
		Browser:  l.cfg.Browser,
		Network:  l.cfg.Network,
		Humanoid: l.cfg.Humanoid,
		Proxy:    proxySess,
		Logger:   l.logger,
		Rng:      rng,
	})
	if err != nil {
		if proxySess != nil {
			l.pool.Release(proxySess.ID)
		}
		return nil, err
	}

	opts := intercept.Options{
		BlockPatterns: meta.BlockURLs,
		CaptureBodies: l.cfg.Network.CaptureResponseBodies,
		ShowRequests:  l.cfg.Engine.ShowRequests,
	}
	if proxySess != nil && proxySess.HasCredentials() {
		opts.ProxyCredentials = &intercept.Credentials{
			Username: proxySess.Username,
			Password: proxySess.Password,
		}
	}
	ic, err := intercept.New(opts, l.logger)
	if err != nil {
		l.release(sess, proxySess)
		return nil, err
	}
	if err := ic.Install(sess.Context()); err != nil {
		l.release(sess, proxySess)
		return nil, err
	}

	return &Attempt{
		Session:     &managedSession{Session: sess, launcher: l, proxy: proxySess},
		Interceptor: ic,
		Waiter:      waiter.New(ic, sess, l.logger),
	}, nil
}

func (l *Launcher) release(sess *browser.Session, proxySess *proxy.Session) {
	_ = sess.Close()
	if proxySess != nil && l.pool != nil {
		l.pool.Release(proxySess.ID)
	}
}

// managedSession returns the leased proxy to the pool when the session dies.
type managedSession struct {
	*browser.Session
	launcher *Launcher
	proxy    *proxy.Session
}

func (m *managedSession) Close() error {
	err := m.Session.Close()
	if m.proxy != nil && m.launcher.pool != nil {
		m.launcher.pool.Release(m.proxy.ID)
	}
	return err
}
