package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/fareloom/fareloom/pkg/proxy"
	"github.com/fareloom/fareloom/pkg/waiter"
)

// ErrNoResults is returned by plugins when the site answered correctly but
// the search produced nothing. The run is treated as a success with an
// empty record set, never retried.
var ErrNoResults = errors.New("no results for query")

// DetectionError means the site identified the session as automated. There
// is no point retrying with the same fingerprint, so it is fatal for the run.
type DetectionError struct {
	Site   string
	Signal string
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("site %s detected automation (%s)", e.Site, e.Signal)
}

// LaunchError wraps a browser startup failure. Always retryable; the next
// attempt gets a fresh process and, with a pool, a fresh proxy.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string { return "browser launch failed: " + e.Err.Error() }
func (e *LaunchError) Unwrap() error { return e.Err }

// retryable classifies an attempt error. Detection, fail-fast status
// mismatches, and pool exhaustion end the run immediately; everything else
// earns another attempt.
func retryable(err error) bool {
	var det *DetectionError
	if errors.As(err, &det) {
		return false
	}
	// A watched endpoint rejecting the query is a site-side verdict;
	// repeating it immediately fails identically or worsens standing.
	var mismatch *waiter.StatusMismatchError
	if errors.As(err, &mismatch) {
		return false
	}
	if errors.Is(err, proxy.ErrPoolExhausted) {
		return false
	}
	return true
}

// summarize keeps attempt logs readable for the common failure shapes.
func summarize(err error) string {
	var mismatch *waiter.StatusMismatchError
	if errors.As(err, &mismatch) {
		return mismatch.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "attempt deadline exceeded"
	}
	return err.Error()
}
