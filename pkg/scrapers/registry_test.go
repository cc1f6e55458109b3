package scrapers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fareloom/fareloom/pkg/engine"
	"github.com/fareloom/fareloom/pkg/schemas"
)

type stubScraper struct{ name string }

func (s *stubScraper) Metadata() schemas.ScraperMetadata {
	return schemas.ScraperMetadata{Name: s.name}
}

func (s *stubScraper) Run(ctx context.Context, h *engine.Handle, q schemas.Query) ([]schemas.FlightRecord, error) {
	return nil, nil
}

func TestRegisterAndGet(t *testing.T) {
	reset()
	Register(&stubScraper{name: "alpha"})
	Register(&stubScraper{name: "beta"})

	s, err := Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", s.Metadata().Name)

	_, err = Get("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")

	assert.Equal(t, []string{"alpha", "beta"}, Names())
}

func TestRegisterDuplicatePanics(t *testing.T) {
	reset()
	Register(&stubScraper{name: "alpha"})
	assert.Panics(t, func() { Register(&stubScraper{name: "alpha"}) })
}

func TestRegisterEmptyNamePanics(t *testing.T) {
	reset()
	assert.Panics(t, func() { Register(&stubScraper{name: ""}) })
}
