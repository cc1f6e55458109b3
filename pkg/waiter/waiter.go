// Package waiter races a set of readiness conditions against a deadline.
// URL conditions watch the intercepted response stream; HTML conditions poll
// the rendered document. The first condition to fire wins.
package waiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fareloom/fareloom/pkg/intercept"
)

// Kind selects how a condition is evaluated.
type Kind int

const (
	// KindURL fires when an intercepted response matches the pattern.
	KindURL Kind = iota
	// KindHTML fires when the rendered document satisfies the check.
	KindHTML
)

// Condition is one way a page can be considered ready (or dead).
type Condition struct {
	// Name labels the condition in logs and errors.
	Name string
	Kind Kind

	// Pattern is a URL glob, required for KindURL.
	Pattern string
	// RequiredStatus, when nonzero, is the status the matching response
	// must carry for the condition to fire.
	RequiredStatus int
	// FailOnStatusMismatch aborts the whole wait as soon as a response
	// matching Pattern arrives with a status other than RequiredStatus.
	FailOnStatusMismatch bool

	// Contains is a document substring, required for KindHTML unless
	// Check is set.
	Contains string
	// Check, when set, replaces the substring test for KindHTML.
	Check func(html string) bool
}

// Match reports which condition fired and what satisfied it.
type Match struct {
	Condition *Condition
	// Response is set for URL conditions.
	Response *intercept.Response
	// HTML is the document snapshot for HTML conditions.
	HTML string
}

// StatusMismatchError means a watched endpoint answered with the wrong
// status. It carries the offending response so callers can inspect the body.
type StatusMismatchError struct {
	Condition *Condition
	Response  *intercept.Response
}

func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("condition %q: response for %s returned status %d, want %d",
		e.Condition.Name, e.Response.URL, e.Response.Status, e.Condition.RequiredStatus)
}

// TimeoutError means no condition fired before the deadline.
type TimeoutError struct {
	Timeout    time.Duration
	Conditions []string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no condition fired within %s (waiting on: %s)",
		e.Timeout, strings.Join(e.Conditions, ", "))
}

// HTMLSource supplies document snapshots for HTML conditions.
type HTMLSource interface {
	HTML(ctx context.Context) (string, error)
}

// ResponseSource supplies the intercepted response stream for URL conditions.
type ResponseSource interface {
	Subscribe() (<-chan *intercept.Response, func())
}

// Waiter evaluates condition sets against one session.
type Waiter struct {
	responses ResponseSource
	html      HTMLSource
	logger    *zap.Logger

	// pollInterval is how often HTML conditions re-check the document.
	pollInterval time.Duration
}

// New builds a waiter over the given sources. Either source may be nil when
// the caller only uses conditions of the other kind.
func New(responses ResponseSource, html HTMLSource, logger *zap.Logger) *Waiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Waiter{
		responses:    responses,
		html:         html,
		logger:       logger.Named("waiter"),
		pollInterval: 250 * time.Millisecond,
	}
}

type outcome struct {
	match *Match
	err   error
}

// Wait blocks until one condition fires, a fail-fast status mismatch occurs,
// the timeout elapses, or ctx is done. Exactly one outcome is returned.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration, conditions []Condition) (*Match, error) {
	if len(conditions) == 0 {
		return nil, fmt.Errorf("no conditions to wait on")
	}
	for i := range conditions {
		c := &conditions[i]
		switch c.Kind {
		case KindURL:
			if c.Pattern == "" {
				return nil, fmt.Errorf("condition %q: url condition needs a pattern", c.Name)
			}
			if w.responses == nil {
				return nil, fmt.Errorf("condition %q: no response source attached", c.Name)
			}
		case KindHTML:
			if c.Contains == "" && c.Check == nil {
				return nil, fmt.Errorf("condition %q: html condition needs a substring or check", c.Name)
			}
			if w.html == nil {
				return nil, fmt.Errorf("condition %q: no html source attached", c.Name)
			}
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		once   sync.Once
		result = make(chan outcome, 1)
	)
	resolve := func(o outcome) {
		once.Do(func() {
			result <- o
			cancel()
		})
	}

	urlConds := make([]*Condition, 0, len(conditions))
	htmlConds := make([]*Condition, 0, len(conditions))
	for i := range conditions {
		switch conditions[i].Kind {
		case KindURL:
			urlConds = append(urlConds, &conditions[i])
		case KindHTML:
			htmlConds = append(htmlConds, &conditions[i])
		}
	}

	if len(urlConds) > 0 {
		ch, unsub := w.responses.Subscribe()
		defer unsub()
		go w.watchResponses(waitCtx, ch, urlConds, resolve)
	}
	if len(htmlConds) > 0 {
		go w.pollHTML(waitCtx, htmlConds, resolve)
	}

	select {
	case o := <-result:
		return o.match, o.err
	case <-waitCtx.Done():
		select {
		case o := <-result:
			return o.match, o.err
		default:
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		names := make([]string, len(conditions))
		for i := range conditions {
			names[i] = conditions[i].Name
		}
		return nil, &TimeoutError{Timeout: timeout, Conditions: names}
	}
}

func (w *Waiter) watchResponses(ctx context.Context, ch <-chan *intercept.Response, conds []*Condition, resolve func(outcome)) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-ch:
			if !ok {
				return
			}
			for _, c := range conds {
				if !intercept.MatchPattern(c.Pattern, resp.URL) {
					continue
				}
				if c.RequiredStatus != 0 && resp.Status != c.RequiredStatus {
					if c.FailOnStatusMismatch {
						w.logger.Warn("watched endpoint returned unexpected status",
							zap.String("condition", c.Name),
							zap.String("url", resp.URL),
							zap.Int("status", resp.Status))
						resolve(outcome{err: &StatusMismatchError{Condition: c, Response: resp}})
						return
					}
					continue
				}
				w.logger.Debug("url condition fired",
					zap.String("condition", c.Name), zap.String("url", resp.URL))
				resolve(outcome{match: &Match{Condition: c, Response: resp}})
				return
			}
		}
	}
}

func (w *Waiter) pollHTML(ctx context.Context, conds []*Condition, resolve func(outcome)) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			html, err := w.html.HTML(ctx)
			if err != nil {
				// Transient during navigation; the next tick retries.
				w.logger.Debug("html snapshot failed", zap.Error(err))
				continue
			}
			for _, c := range conds {
				hit := false
				if c.Check != nil {
					hit = c.Check(html)
				} else {
					hit = strings.Contains(html, c.Contains)
				}
				if hit {
					w.logger.Debug("html condition fired", zap.String("condition", c.Name))
					resolve(outcome{match: &Match{Condition: c, HTML: html}})
					return
				}
			}
		}
	}
}
