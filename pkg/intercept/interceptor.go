// Package intercept classifies every outbound request of one browser session
// before it leaves the process: block, serve from the per-session cache, or
// pass through while recording the response and per-session bandwidth.
package intercept

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/andybalholm/brotli"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Response is the view of a network response the interceptor publishes to
// subscribers (the condition waiter, primarily).
type Response struct {
	URL       string
	Method    string
	Status    int
	Headers   map[string]string
	Body      []byte
	FromCache bool
}

// BandwidthStats distinguishes bytes served from cache versus fetched over
// the network, for efficiency reporting.
type BandwidthStats struct {
	NetworkBytes    int64
	CachedBytes     int64
	BlockedRequests int64
	CacheHits       int64
}

// Credentials are the proxy username/password answered on auth challenges.
type Credentials struct {
	Username string
	Password string
}

// Options configures one interceptor installation.
type Options struct {
	// BlockPatterns short-circuit matching requests with a blocked response;
	// they never reach the network and count zero bytes.
	BlockPatterns []string
	// ProxyCredentials, when set, answer proxy auth challenges.
	ProxyCredentials *Credentials
	// CaptureBodies records response bodies into the session cache.
	CaptureBodies bool
	// ShowRequests logs every decision. Diagnostic only.
	ShowRequests bool
}

// Interceptor owns all mutable interception state for one session. Nothing
// here is shared across sessions, so parallel runs never interfere.
type Interceptor struct {
	logger  *zap.Logger
	opts    Options
	blocked *Matcher
	cache   *Cache

	networkBytes    atomic.Int64
	cachedBytes     atomic.Int64
	blockedRequests atomic.Int64
	cacheHits       atomic.Int64

	mu     sync.Mutex
	subs   map[int]chan *Response
	nextID int
	closed bool
}

// New creates an interceptor. Install must be called next to attach it to a
// session's event stream.
func New(opts Options, logger *zap.Logger) (*Interceptor, error) {
	matcher, err := NewMatcher(opts.BlockPatterns)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interceptor{
		logger:  logger.Named("intercept"),
		opts:    opts,
		blocked: matcher,
		cache:   NewCache(),
		subs:    make(map[int]chan *Response),
	}, nil
}

// Cache exposes the per-session response cache.
func (ic *Interceptor) Cache() *Cache { return ic.cache }

// Stats returns a snapshot of the bandwidth counters.
func (ic *Interceptor) Stats() BandwidthStats {
	return BandwidthStats{
		NetworkBytes:    ic.networkBytes.Load(),
		CachedBytes:     ic.cachedBytes.Load(),
		BlockedRequests: ic.blockedRequests.Load(),
		CacheHits:       ic.cacheHits.Load(),
	}
}

// Subscribe registers a response listener. The returned cancel function must
// be called to release the subscription; after cancel no more sends occur.
func (ic *Interceptor) Subscribe() (<-chan *Response, func()) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	id := ic.nextID
	ic.nextID++
	ch := make(chan *Response, 64)
	ic.subs[id] = ch
	cancel := func() {
		ic.mu.Lock()
		defer ic.mu.Unlock()
		if _, ok := ic.subs[id]; ok {
			delete(ic.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish fans a response out to all subscribers. Slow subscribers drop
// events rather than stalling the CDP event loop.
func (ic *Interceptor) Publish(r *Response) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	for _, ch := range ic.subs {
		select {
		case ch <- r:
		default:
		}
	}
}

// Install enables the fetch domain on the session's tab and starts handling
// paused requests. It must be installed exactly once per session, before
// the first navigation.
func (ic *Interceptor) Install(sessionCtx context.Context) error {
	enable := fetch.Enable().WithPatterns([]*fetch.RequestPattern{
		{URLPattern: "*", RequestStage: fetch.RequestStageRequest},
		{URLPattern: "*", RequestStage: fetch.RequestStageResponse},
	})
	if ic.opts.ProxyCredentials != nil {
		enable = enable.WithHandleAuthRequests(true)
	}
	if err := chromedp.Run(sessionCtx, enable); err != nil {
		return err
	}

	c := chromedp.FromContext(sessionCtx)
	execCtx := cdp.WithExecutor(sessionCtx, c.Target)

	chromedp.ListenTarget(sessionCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			// Handlers issue CDP commands, which must not run on the
			// listener goroutine.
			go ic.handlePaused(execCtx, e)
		case *fetch.EventAuthRequired:
			go ic.handleAuth(execCtx, e)
		}
	})
	return nil
}

// handleAuth answers proxy auth challenges with the assigned credentials.
func (ic *Interceptor) handleAuth(ctx context.Context, ev *fetch.EventAuthRequired) {
	resp := &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseDefault}
	if ic.opts.ProxyCredentials != nil && ev.AuthChallenge != nil &&
		ev.AuthChallenge.Source == fetch.AuthChallengeSourceProxy {
		resp = &fetch.AuthChallengeResponse{
			Response: fetch.AuthChallengeResponseResponseProvideCredentials,
			Username: ic.opts.ProxyCredentials.Username,
			Password: ic.opts.ProxyCredentials.Password,
		}
	}
	if err := fetch.ContinueWithAuth(ev.RequestID, resp).Do(ctx); err != nil {
		ic.logger.Debug("auth continuation failed", zap.Error(err))
	}
}

// handlePaused is the per-request decision point. Requests pause twice: once
// before leaving the process (request stage) and once when headers arrive
// (response stage, ResponseStatusCode set).
func (ic *Interceptor) handlePaused(ctx context.Context, ev *fetch.EventRequestPaused) {
	if ev.ResponseStatusCode != 0 || ev.ResponseErrorReason != "" {
		ic.handleResponseStage(ctx, ev)
		return
	}
	ic.handleRequestStage(ctx, ev)
}

func (ic *Interceptor) handleRequestStage(ctx context.Context, ev *fetch.EventRequestPaused) {
	url := ev.Request.URL
	method := ev.Request.Method

	// 1. Blocked: refuse before it leaves the process; zero bytes counted.
	if !ic.blocked.Empty() && ic.blocked.Match(url) {
		ic.blockedRequests.Add(1)
		if ic.opts.ShowRequests {
			ic.logger.Info("request blocked", zap.String("method", method), zap.String("url", url))
		}
		if err := fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(ctx); err != nil {
			ic.logger.Debug("failed to block request", zap.String("url", url), zap.Error(err))
		}
		return
	}

	// 2. Cache hit: fulfill locally, count bytes as cached.
	if entry := ic.cache.Get(method, url); entry != nil {
		ic.cacheHits.Add(1)
		ic.cachedBytes.Add(int64(len(entry.Body)))
		if ic.opts.ShowRequests {
			ic.logger.Info("request served from cache", zap.String("method", method), zap.String("url", url))
		}
		fulfill := fetch.FulfillRequest(ev.RequestID, int64(entry.Status)).
			WithResponseHeaders(headerEntries(entry.Headers)).
			WithBody(base64.StdEncoding.EncodeToString(entry.Body))
		if err := fulfill.Do(ctx); err != nil {
			ic.logger.Debug("cache fulfillment failed", zap.String("url", url), zap.Error(err))
			return
		}
		ic.Publish(&Response{
			URL: url, Method: method, Status: entry.Status,
			Headers: entry.Headers, Body: entry.Body, FromCache: true,
		})
		return
	}

	// 3. Pass through.
	if ic.opts.ShowRequests {
		ic.logger.Info("request forwarded", zap.String("method", method), zap.String("url", url))
	}
	if err := fetch.ContinueRequest(ev.RequestID).Do(ctx); err != nil {
		ic.logger.Debug("request continuation failed", zap.String("url", url), zap.Error(err))
	}
}

func (ic *Interceptor) handleResponseStage(ctx context.Context, ev *fetch.EventRequestPaused) {
	url := ev.Request.URL
	method := ev.Request.Method
	status := int(ev.ResponseStatusCode)
	headers := make(map[string]string, len(ev.ResponseHeaders))
	for _, h := range ev.ResponseHeaders {
		headers[strings.ToLower(h.Name)] = h.Value
	}

	var body []byte
	if ic.opts.CaptureBodies {
		raw, err := fetch.GetResponseBody(ev.RequestID).Do(ctx)
		if err != nil {
			// Redirects and empty responses have no body; not an error.
			ic.logger.Debug("no response body captured", zap.String("url", url), zap.Error(err))
			ic.networkBytes.Add(contentLength(headers))
		} else {
			ic.networkBytes.Add(int64(len(raw)))
			body, err = decodeBody(raw, headers["content-encoding"])
			if err != nil {
				ic.logger.Debug("body decode failed, caching raw bytes",
					zap.String("url", url), zap.Error(err))
				body = raw
			}
		}
		ic.cache.Put(&Entry{
			Method: method, URL: url, Status: status,
			Headers: headers, Body: body, Size: int64(len(body)),
		})
	} else {
		// Bandwidth is still accounted when bodies are not captured.
		ic.networkBytes.Add(contentLength(headers))
	}

	ic.Publish(&Response{
		URL: url, Method: method, Status: status, Headers: headers, Body: body,
	})

	if err := fetch.ContinueResponse(ev.RequestID).Do(ctx); err != nil {
		ic.logger.Debug("response continuation failed", zap.String("url", url), zap.Error(err))
	}
}

// decodeBody reverses the transfer encoding so cached bodies are plain text.
func decodeBody(raw []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(raw)))
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return raw, nil
	}
}

// contentLength reads the declared response size from lowercased headers,
// returning 0 when absent or malformed.
func contentLength(h map[string]string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(h["content-length"]), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func headerEntries(h map[string]string) []*fetch.HeaderEntry {
	out := make([]*fetch.HeaderEntry, 0, len(h))
	for k, v := range h {
		out = append(out, &fetch.HeaderEntry{Name: k, Value: v})
	}
	return out
}
