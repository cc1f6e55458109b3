// Package proxy manages a rotating pool of upstream proxy endpoints.
// Each retry attempt leases a different endpoint; running out of healthy
// endpoints is fatal for the run.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrPoolExhausted means every configured endpoint is leased or marked
// unhealthy. Callers must not retry past this error.
var ErrPoolExhausted = errors.New("proxy pool exhausted")

// Session is one leased proxy endpoint.
type Session struct {
	ID       string
	Host     string
	Port     string
	Username string
	Password string
}

// ServerURL renders the endpoint as a browser proxy flag value. Credentials
// are deliberately omitted; they are answered on the auth challenge instead.
func (s *Session) ServerURL() string {
	return "http://" + net.JoinHostPort(s.Host, s.Port)
}

// HasCredentials reports whether the endpoint requires auth.
func (s *Session) HasCredentials() bool { return s.Username != "" }

type endpoint struct {
	host      string
	port      string
	username  string
	password  string
	unhealthy bool
	leased    bool
}

// Pool rotates over the configured endpoints round-robin, skipping leased
// and unhealthy ones.
type Pool struct {
	logger *zap.Logger

	mu        sync.Mutex
	endpoints []*endpoint
	cursor    int
	leases    map[string]*endpoint

	healthURL    string
	probeTimeout time.Duration
}

// NewPool parses entries of the form [user:pass@]host:port. An empty healthURL
// disables health probing.
func NewPool(servers []string, healthURL string, probeTimeout time.Duration, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if probeTimeout <= 0 {
		probeTimeout = 10 * time.Second
	}
	p := &Pool{
		logger:       logger.Named("proxy"),
		leases:       make(map[string]*endpoint),
		healthURL:    healthURL,
		probeTimeout: probeTimeout,
	}
	for _, raw := range servers {
		ep, err := parseEndpoint(raw)
		if err != nil {
			return nil, fmt.Errorf("proxy entry %q: %w", raw, err)
		}
		p.endpoints = append(p.endpoints, ep)
	}
	if len(p.endpoints) == 0 {
		return nil, errors.New("proxy pool needs at least one endpoint")
	}
	return p, nil
}

func parseEndpoint(raw string) (*endpoint, error) {
	ep := &endpoint{}
	rest := raw
	if at := strings.LastIndex(raw, "@"); at >= 0 {
		creds := raw[:at]
		rest = raw[at+1:]
		user, pass, ok := strings.Cut(creds, ":")
		if !ok {
			return nil, errors.New("credentials must be user:pass")
		}
		ep.username, ep.password = user, pass
	}
	host, port, err := net.SplitHostPort(rest)
	if err != nil {
		return nil, err
	}
	ep.host, ep.port = host, port
	return ep, nil
}

// Size returns the total number of configured endpoints.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Assign leases the next available endpoint, probing its health first when
// a health URL is configured. Endpoints that fail the probe are marked
// unhealthy and skipped for the remainder of the run.
func (p *Pool) Assign(ctx context.Context) (*Session, error) {
	for {
		ep := p.takeNext()
		if ep == nil {
			return nil, ErrPoolExhausted
		}
		if p.healthURL != "" {
			if err := p.probe(ctx, ep); err != nil {
				p.logger.Warn("proxy failed health probe",
					zap.String("proxy", net.JoinHostPort(ep.host, ep.port)),
					zap.Error(err))
				p.mu.Lock()
				ep.leased = false
				ep.unhealthy = true
				p.mu.Unlock()
				continue
			}
		}
		sess := &Session{
			ID:       uuid.NewString(),
			Host:     ep.host,
			Port:     ep.port,
			Username: ep.username,
			Password: ep.password,
		}
		p.mu.Lock()
		p.leases[sess.ID] = ep
		p.mu.Unlock()
		p.logger.Debug("proxy leased",
			zap.String("session", sess.ID),
			zap.String("proxy", sess.ServerURL()))
		return sess, nil
	}
}

// takeNext marks and returns the next free healthy endpoint, or nil.
func (p *Pool) takeNext() *endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.endpoints)
	for i := 0; i < n; i++ {
		ep := p.endpoints[(p.cursor+i)%n]
		if ep.leased || ep.unhealthy {
			continue
		}
		ep.leased = true
		p.cursor = (p.cursor + i + 1) % n
		return ep
	}
	return nil
}

// Release returns a leased endpoint to the rotation. Unknown IDs are ignored.
func (p *Pool) Release(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ep, ok := p.leases[sessionID]; ok {
		ep.leased = false
		delete(p.leases, sessionID)
	}
}

// MarkUnhealthy removes a leased endpoint from rotation permanently, for
// callers that observe failures the probe cannot.
func (p *Pool) MarkUnhealthy(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ep, ok := p.leases[sessionID]; ok {
		ep.leased = false
		ep.unhealthy = true
		delete(p.leases, sessionID)
	}
}

func (p *Pool) probe(ctx context.Context, ep *endpoint) error {
	proxyURL := "http://" + net.JoinHostPort(ep.host, ep.port)
	if ep.username != "" {
		proxyURL = fmt.Sprintf("http://%s:%s@%s", ep.username, ep.password,
			net.JoinHostPort(ep.host, ep.port))
	}
	client := resty.New().
		SetProxy(proxyURL).
		SetTimeout(p.probeTimeout)
	resp, err := client.R().SetContext(ctx).Get(p.healthURL)
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode())
	}
	return nil
}
