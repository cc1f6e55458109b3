package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/fareloom/fareloom/internal/config"
	"github.com/fareloom/fareloom/pkg/intercept"
	"github.com/fareloom/fareloom/pkg/proxy"
	"github.com/fareloom/fareloom/pkg/schemas"
	"github.com/fareloom/fareloom/pkg/waiter"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *zap.Logger { return zap.NewNop() }

type fakeSession struct {
	id     string
	closed *atomic.Int32
}

func (f *fakeSession) ID() string                                        { return f.id }
func (f *fakeSession) Navigate(ctx context.Context, url string) error    { return nil }
func (f *fakeSession) Evaluate(ctx context.Context, e string, out any) error { return nil }
func (f *fakeSession) EvaluateRaw(ctx context.Context, e string) (string, error) {
	return "null", nil
}
func (f *fakeSession) HTML(ctx context.Context) (string, error)       { return "<html></html>", nil }
func (f *fakeSession) Click(ctx context.Context, selector string) error { return nil }
func (f *fakeSession) Close() error {
	f.closed.Add(1)
	return nil
}

type scriptedScraper struct {
	meta schemas.ScraperMetadata
	run  func(ctx context.Context, h *Handle, q schemas.Query) ([]schemas.FlightRecord, error)
}

func (s *scriptedScraper) Metadata() schemas.ScraperMetadata { return s.meta }
func (s *scriptedScraper) Run(ctx context.Context, h *Handle, q schemas.Query) ([]schemas.FlightRecord, error) {
	return s.run(ctx, h, q)
}

func newTestHarness(t *testing.T) (LaunchFunc, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	var launches, closes atomic.Int32
	launch := func(ctx context.Context, meta schemas.ScraperMetadata) (*Attempt, error) {
		n := launches.Add(1)
		ic, err := intercept.New(intercept.Options{}, nil)
		require.NoError(t, err)
		return &Attempt{
			Session:     &fakeSession{id: fmt.Sprintf("sess-%d", n), closed: &closes},
			Interceptor: ic,
		}, nil
	}
	return launch, &launches, &closes
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{MaxAttempts: 3, AttemptTimeout: 5 * time.Second}
}

func TestRunSucceedsFirstAttempt(t *testing.T) {
	launch, launches, closes := newTestHarness(t)
	o := NewOrchestrator(testEngineConfig(), config.NetworkConfig{}, launch, nil)

	s := &scriptedScraper{
		meta: schemas.ScraperMetadata{Name: "site"},
		run: func(ctx context.Context, h *Handle, q schemas.Query) ([]schemas.FlightRecord, error) {
			return []schemas.FlightRecord{{Site: "site", FlightNumber: "FL1"}}, nil
		},
	}

	records, stats, err := o.Run(context.Background(), s, schemas.Query{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1, stats.Attempts)
	assert.Equal(t, int32(1), launches.Load())
	assert.Equal(t, int32(1), closes.Load())
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	launch, launches, closes := newTestHarness(t)
	o := NewOrchestrator(testEngineConfig(), config.NetworkConfig{}, launch, nil)

	var calls atomic.Int32
	s := &scriptedScraper{
		meta: schemas.ScraperMetadata{Name: "site"},
		run: func(ctx context.Context, h *Handle, q schemas.Query) ([]schemas.FlightRecord, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("page never settled")
			}
			return []schemas.FlightRecord{{Site: "site"}}, nil
		},
	}

	records, stats, err := o.Run(context.Background(), s, schemas.Query{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 3, stats.Attempts)
	assert.Equal(t, launches.Load(), closes.Load(), "every launched session must be closed")
}

func TestRunExhaustsAttemptBudget(t *testing.T) {
	launch, launches, closes := newTestHarness(t)
	o := NewOrchestrator(testEngineConfig(), config.NetworkConfig{}, launch, nil)

	s := &scriptedScraper{
		meta: schemas.ScraperMetadata{Name: "site"},
		run: func(ctx context.Context, h *Handle, q schemas.Query) ([]schemas.FlightRecord, error) {
			return nil, errors.New("always failing")
		},
	}

	_, stats, err := o.Run(context.Background(), s, schemas.Query{})
	require.Error(t, err)
	assert.Equal(t, 3, stats.Attempts)
	assert.Equal(t, int32(3), launches.Load())
	assert.Equal(t, int32(3), closes.Load())
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRunNoResultsIsEmptySuccess(t *testing.T) {
	launch, launches, _ := newTestHarness(t)
	o := NewOrchestrator(testEngineConfig(), config.NetworkConfig{}, launch, nil)

	s := &scriptedScraper{
		meta: schemas.ScraperMetadata{Name: "site"},
		run: func(ctx context.Context, h *Handle, q schemas.Query) ([]schemas.FlightRecord, error) {
			h.Warnf("no fares for %s", q.Date)
			return nil, ErrNoResults
		},
	}

	records, stats, err := o.Run(context.Background(), s, schemas.Query{})
	require.NoError(t, err)
	require.NotNil(t, records)
	assert.Empty(t, records)
	assert.Equal(t, 1, stats.Attempts)
	assert.Equal(t, int32(1), launches.Load(), "no results must not trigger a retry")
}

func TestRunDetectionIsFatal(t *testing.T) {
	launch, launches, closes := newTestHarness(t)
	o := NewOrchestrator(testEngineConfig(), config.NetworkConfig{}, launch, nil)

	s := &scriptedScraper{
		meta: schemas.ScraperMetadata{Name: "site"},
		run: func(ctx context.Context, h *Handle, q schemas.Query) ([]schemas.FlightRecord, error) {
			return nil, &DetectionError{Site: "site", Signal: "captcha interstitial"}
		},
	}

	_, _, err := o.Run(context.Background(), s, schemas.Query{})
	require.Error(t, err)
	var det *DetectionError
	assert.ErrorAs(t, err, &det)
	assert.Equal(t, int32(1), launches.Load(), "detection must not be retried")
	assert.Equal(t, int32(1), closes.Load())
}

func TestRunStatusMismatchIsFatal(t *testing.T) {
	launch, launches, _ := newTestHarness(t)
	o := NewOrchestrator(testEngineConfig(), config.NetworkConfig{}, launch, nil)

	s := &scriptedScraper{
		meta: schemas.ScraperMetadata{Name: "site"},
		run: func(ctx context.Context, h *Handle, q schemas.Query) ([]schemas.FlightRecord, error) {
			return nil, &waiter.StatusMismatchError{
				Condition: &waiter.Condition{Name: "fares-api", RequiredStatus: 200},
				Response:  &intercept.Response{URL: "https://x.test/api/search?q=1", Status: 500},
			}
		},
	}

	_, _, err := o.Run(context.Background(), s, schemas.Query{})
	require.Error(t, err)
	var mismatch *waiter.StatusMismatchError
	assert.ErrorAs(t, err, &mismatch)
	assert.Equal(t, int32(1), launches.Load(), "a site-side rejection must not be retried")
}

func TestRunLaunchFailureIsRetryable(t *testing.T) {
	var launches atomic.Int32
	launch := func(ctx context.Context, meta schemas.ScraperMetadata) (*Attempt, error) {
		launches.Add(1)
		return nil, errors.New("chrome exited early")
	}
	o := NewOrchestrator(testEngineConfig(), config.NetworkConfig{}, launch, nil)

	s := &scriptedScraper{meta: schemas.ScraperMetadata{Name: "site"}}
	_, _, err := o.Run(context.Background(), s, schemas.Query{})
	require.Error(t, err)
	var le *LaunchError
	assert.ErrorAs(t, err, &le)
	assert.Equal(t, int32(3), launches.Load())
}

func TestRunAttemptDeadlineTearsDownSession(t *testing.T) {
	launch, _, closes := newTestHarness(t)
	cfg := config.EngineConfig{MaxAttempts: 1, AttemptTimeout: 50 * time.Millisecond}
	o := NewOrchestrator(cfg, config.NetworkConfig{}, launch, nil)

	s := &scriptedScraper{
		meta: schemas.ScraperMetadata{Name: "site"},
		run: func(ctx context.Context, h *Handle, q schemas.Query) ([]schemas.FlightRecord, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	_, _, err := o.Run(context.Background(), s, schemas.Query{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), closes.Load())
}

// The metadata timeout is the default bound for WaitFor, not the attempt
// deadline. A plugin waiting on a condition that never fires must get a
// TimeoutError after the metadata timeout while the attempt keeps running.
func TestMetadataTimeoutBoundsDefaultWait(t *testing.T) {
	var closes atomic.Int32
	launch := func(ctx context.Context, meta schemas.ScraperMetadata) (*Attempt, error) {
		ic, err := intercept.New(intercept.Options{}, nil)
		require.NoError(t, err)
		return &Attempt{
			Session:     &fakeSession{id: "sess-1", closed: &closes},
			Interceptor: ic,
			Waiter:      waiter.New(ic, nil, nil),
		}, nil
	}
	cfg := config.EngineConfig{MaxAttempts: 1, AttemptTimeout: time.Hour}
	netCfg := config.NetworkConfig{DefaultWaitTimeout: time.Hour}
	o := NewOrchestrator(cfg, netCfg, launch, nil)

	s := &scriptedScraper{
		meta: schemas.ScraperMetadata{Name: "site", DefaultTimeout: 100 * time.Millisecond},
		run: func(ctx context.Context, h *Handle, q schemas.Query) ([]schemas.FlightRecord, error) {
			_, err := h.WaitFor(waiter.Condition{
				Name:    "fares-api",
				Kind:    waiter.KindURL,
				Pattern: "*/api/never-called*",
			})
			var timeout *waiter.TimeoutError
			if errors.As(err, &timeout) {
				return nil, ErrNoResults
			}
			return nil, err
		},
	}

	start := time.Now()
	records, stats, err := o.Run(context.Background(), s, schemas.Query{})
	require.NoError(t, err)
	require.NotNil(t, records)
	assert.Empty(t, records)
	assert.Equal(t, 1, stats.Attempts)
	assert.Less(t, time.Since(start), 5*time.Second,
		"the wait must expire on the metadata timeout, not the attempt deadline")
	assert.Equal(t, int32(1), closes.Load())
}

func TestRunRotatesProxiesAcrossAttempts(t *testing.T) {
	pool, err := proxy.NewPool([]string{"a.test:1", "b.test:2", "c.test:3"}, "", 0, nil)
	require.NoError(t, err)

	var closes atomic.Int32
	var leased []string
	launch := func(ctx context.Context, meta schemas.ScraperMetadata) (*Attempt, error) {
		sess, err := pool.Assign(ctx)
		if err != nil {
			return nil, err
		}
		leased = append(leased, sess.ServerURL())
		ic, err := intercept.New(intercept.Options{}, nil)
		require.NoError(t, err)
		return &Attempt{
			Session:     &fakeSession{id: sess.ID, closed: &closes},
			Interceptor: ic,
		}, nil
	}
	o := NewOrchestrator(testEngineConfig(), config.NetworkConfig{}, launch, nil)

	var calls atomic.Int32
	s := &scriptedScraper{
		meta: schemas.ScraperMetadata{Name: "site"},
		run: func(ctx context.Context, h *Handle, q schemas.Query) ([]schemas.FlightRecord, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("blocked by rate limit")
			}
			return []schemas.FlightRecord{{Site: "site"}}, nil
		},
	}

	records, stats, err := o.Run(context.Background(), s, schemas.Query{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 3, stats.Attempts)

	require.Len(t, leased, 3)
	distinct := map[string]bool{}
	for _, u := range leased {
		distinct[u] = true
	}
	assert.Len(t, distinct, 3, "each attempt must run behind a different proxy")
}

func TestHandleSleepRespectsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	ic, err := intercept.New(intercept.Options{}, nil)
	require.NoError(t, err)
	var closes atomic.Int32
	h := newHandle(ctx, &Attempt{Session: &fakeSession{closed: &closes}, Interceptor: ic}, 0, testLogger())

	start := time.Now()
	err = h.Sleep(5 * time.Second)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
