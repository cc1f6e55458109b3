package engine

import (
	"context"
	"time"

	"github.com/fareloom/fareloom/pkg/intercept"
	"github.com/fareloom/fareloom/pkg/schemas"
	"github.com/fareloom/fareloom/pkg/waiter"
)

// BrowserSession is the surface a plugin drives through the Handle. The
// production implementation is a Chrome tab; tests substitute fakes.
type BrowserSession interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, expr string, out any) error
	EvaluateRaw(ctx context.Context, expr string) (string, error)
	HTML(ctx context.Context) (string, error)
	Click(ctx context.Context, selector string) error
	Close() error
}

// Attempt bundles everything one attempt runs against: the live session,
// its interceptor, and a waiter wired to both.
type Attempt struct {
	Session     BrowserSession
	Interceptor *intercept.Interceptor
	Waiter      *waiter.Waiter
}

// LaunchFunc provisions a ready Attempt for one try. It is called once per
// attempt so every retry gets a fresh browser process.
type LaunchFunc func(ctx context.Context, meta schemas.ScraperMetadata) (*Attempt, error)

// Scraper is the plugin contract. Run drives the site through the Handle
// and returns the extracted records.
type Scraper interface {
	Metadata() schemas.ScraperMetadata
	Run(ctx context.Context, h *Handle, q schemas.Query) ([]schemas.FlightRecord, error)
}

// RunStats summarizes one completed run for reporting.
type RunStats struct {
	Site      string
	Attempts  int
	Duration  time.Duration
	Bandwidth intercept.BandwidthStats
}
