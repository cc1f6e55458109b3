// File: pkg/intercept/pattern.go
package intercept

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Matcher classifies URLs against a fixed set of patterns. Two pattern forms
// are supported: globs with `*` wildcards evaluated over the full URL (some
// sites vary meaningful path segments, so hostname matching is not enough),
// and bare domains, which match any request whose registrable domain equals
// the pattern.
type Matcher struct {
	globs   []*regexp.Regexp
	domains []string
}

// NewMatcher compiles the given patterns. Invalid patterns are rejected up
// front rather than silently never matching.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if isBareDomain(p) {
			m.domains = append(m.domains, strings.ToLower(p))
			continue
		}
		re, err := compileGlob(p)
		if err != nil {
			return nil, fmt.Errorf("invalid block pattern %q: %w", p, err)
		}
		m.globs = append(m.globs, re)
	}
	return m, nil
}

// Match reports whether rawURL matches any of the compiled patterns.
func (m *Matcher) Match(rawURL string) bool {
	for _, re := range m.globs {
		if re.MatchString(rawURL) {
			return true
		}
	}
	if len(m.domains) == 0 {
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	// Compare by registrable domain so "doubleclick.net" also covers
	// "stats.g.doubleclick.net".
	etld, err := publicsuffix.EffectiveTLDPlusOne(host)
	for _, d := range m.domains {
		if host == d {
			return true
		}
		if err == nil && etld == d {
			return true
		}
		if strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Empty reports whether the matcher has no patterns at all.
func (m *Matcher) Empty() bool {
	return len(m.globs) == 0 && len(m.domains) == 0
}

// isBareDomain decides whether a pattern is a plain domain rather than a
// URL glob.
func isBareDomain(p string) bool {
	return !strings.Contains(p, "*") && !strings.Contains(p, "/") && !strings.Contains(p, "://")
}

// compileGlob converts a `*` glob over full URLs into an anchored regexp.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	expr := "^" + strings.Join(parts, ".*")
	if !strings.HasSuffix(pattern, "*") {
		expr += "$"
	}
	return regexp.Compile(expr)
}

// MatchPattern is a convenience for one-off matches, used by the waiter for
// url-type conditions.
func MatchPattern(pattern, rawURL string) bool {
	m, err := NewMatcher([]string{pattern})
	if err != nil {
		return false
	}
	return m.Match(rawURL)
}
