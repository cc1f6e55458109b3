package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fareloom/fareloom/internal/config"
	"github.com/fareloom/fareloom/pkg/schemas"
)

// Orchestrator drives one scraper through the attempt/retry loop. Each
// attempt gets a fresh browser process; the session never outlives its
// attempt, success or failure.
type Orchestrator struct {
	cfg    config.EngineConfig
	netCfg config.NetworkConfig
	launch LaunchFunc
	logger *zap.Logger
	pacer  *rate.Limiter
}

// NewOrchestrator wires the attempt loop over a launcher. The pacer spaces
// attempt starts at the configured cadence; the first attempt is not delayed.
func NewOrchestrator(cfg config.EngineConfig, netCfg config.NetworkConfig, launch LaunchFunc, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	pace := rate.Inf
	if cfg.RetryPace > 0 {
		pace = rate.Every(cfg.RetryPace)
	}
	return &Orchestrator{
		cfg:    cfg,
		netCfg: netCfg,
		launch: launch,
		logger: logger.Named("engine"),
		pacer:  rate.NewLimiter(pace, 1),
	}
}

// Run executes the scraper until it succeeds, a fatal error occurs, or the
// attempt budget is spent. ErrNoResults from the plugin is a success with an
// empty record set.
func (o *Orchestrator) Run(ctx context.Context, s Scraper, q schemas.Query) ([]schemas.FlightRecord, *RunStats, error) {
	meta := s.Metadata()
	runID := uuid.NewString()
	log := o.logger.With(zap.String("run_id", runID), zap.String("site", meta.Name))

	maxAttempts := o.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	attemptTimeout := o.cfg.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = 2 * time.Minute
	}

	stats := &RunStats{Site: meta.Name}
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := o.pacer.Wait(ctx); err != nil {
			return nil, stats, err
		}
		stats.Attempts = attempt
		alog := log.With(zap.Int("attempt", attempt))
		alog.Info("starting attempt")

		records, err := o.runAttempt(ctx, s, q, meta, attemptTimeout, alog, stats)
		if err == nil {
			stats.Duration = time.Since(start)
			alog.Info("run succeeded",
				zap.Int("records", len(records)),
				zap.Duration("duration", stats.Duration))
			return records, stats, nil
		}
		if errors.Is(err, ErrNoResults) {
			stats.Duration = time.Since(start)
			alog.Info("run finished with no results")
			return []schemas.FlightRecord{}, stats, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if !retryable(err) {
			alog.Error("fatal error, abandoning run", zap.String("cause", summarize(err)))
			break
		}
		alog.Warn("attempt failed", zap.String("cause", summarize(err)))
	}

	stats.Duration = time.Since(start)
	if lastErr == nil {
		lastErr = fmt.Errorf("run exhausted %d attempts", maxAttempts)
	}
	return nil, stats, fmt.Errorf("site %s failed after %d attempts: %w", meta.Name, stats.Attempts, lastErr)
}

// runAttempt provisions a session, runs the plugin under the attempt
// deadline, and guarantees teardown on every path.
func (o *Orchestrator) runAttempt(ctx context.Context, s Scraper, q schemas.Query, meta schemas.ScraperMetadata, timeout time.Duration, log *zap.Logger, stats *RunStats) (records []schemas.FlightRecord, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempt, err := o.launch(attemptCtx, meta)
	if err != nil {
		return nil, &LaunchError{Err: err}
	}
	defer func() {
		if attempt.Interceptor != nil {
			bw := attempt.Interceptor.Stats()
			stats.Bandwidth.NetworkBytes += bw.NetworkBytes
			stats.Bandwidth.CachedBytes += bw.CachedBytes
			stats.Bandwidth.BlockedRequests += bw.BlockedRequests
			stats.Bandwidth.CacheHits += bw.CacheHits
		}
		if cerr := attempt.Session.Close(); cerr != nil {
			log.Warn("session teardown failed", zap.Error(cerr))
		}
	}()

	// The metadata timeout bounds waitFor calls that do not supply
	// their own. The attempt deadline above is engine config only.
	waitTimeout := meta.DefaultTimeout
	if waitTimeout <= 0 {
		waitTimeout = o.netCfg.DefaultWaitTimeout
	}
	h := newHandle(attemptCtx, attempt, waitTimeout, log.Named("plugin"))

	type pluginResult struct {
		records []schemas.FlightRecord
		err     error
	}
	done := make(chan pluginResult, 1)
	go func() {
		recs, perr := s.Run(attemptCtx, h, q)
		done <- pluginResult{records: recs, err: perr}
	}()

	select {
	case res := <-done:
		return res.records, res.err
	case <-attemptCtx.Done():
		// The plugin goroutine unwinds on its own once the session dies;
		// its buffered send never blocks.
		return nil, attemptCtx.Err()
	}
}
