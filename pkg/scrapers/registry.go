// Package scrapers holds the site plugin registry. Plugins register
// themselves from an init function in their own package; the CLI looks them
// up by name.
package scrapers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fareloom/fareloom/pkg/engine"
)

var (
	mu       sync.RWMutex
	registry = make(map[string]engine.Scraper)
)

// Register adds a plugin under its metadata name. Duplicate names panic at
// startup rather than silently shadowing a site.
func Register(s engine.Scraper) {
	name := s.Metadata().Name
	if name == "" {
		panic("scrapers: plugin registered with empty name")
	}
	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("scrapers: duplicate plugin %q", name))
	}
	registry[name] = s
}

// Get returns the plugin registered under name.
func Get(name string) (engine.Scraper, error) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("no scraper registered for site %q (known: %v)", name, namesLocked())
	}
	return s, nil
}

// Names lists the registered plugins in stable order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// reset clears the registry. Tests only.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]engine.Scraper)
}
