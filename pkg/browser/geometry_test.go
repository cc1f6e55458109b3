package browser

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fareloom/fareloom/internal/config"
)

func testBrowserConfig() config.BrowserConfig {
	return config.BrowserConfig{
		DisplayWidth:  1920,
		DisplayHeight: 1080,
		MinWindowW:    1050,
		MaxWindowW:    1680,
		MinWindowH:    700,
		MaxWindowH:    1000,
	}
}

func TestRandomGeometryStaysOnDisplay(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cfg := testBrowserConfig()

	for i := 0; i < 1000; i++ {
		g := RandomGeometry(rng, cfg)
		assert.GreaterOrEqual(t, g.Width, cfg.MinWindowW)
		assert.LessOrEqual(t, g.Width, cfg.MaxWindowW)
		assert.GreaterOrEqual(t, g.Height, cfg.MinWindowH)
		assert.LessOrEqual(t, g.Height, cfg.MaxWindowH)
		assert.GreaterOrEqual(t, g.X, 0)
		assert.GreaterOrEqual(t, g.Y, 0)
		assert.LessOrEqual(t, g.X+g.Width, cfg.DisplayWidth)
		assert.LessOrEqual(t, g.Y+g.Height, cfg.DisplayHeight)
	}
}

func TestRandomGeometryVariesAcrossSessions(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cfg := testBrowserConfig()

	seen := map[Geometry]bool{}
	for i := 0; i < 20; i++ {
		seen[RandomGeometry(rng, cfg)] = true
	}
	assert.Greater(t, len(seen), 15, "consecutive launches must not share geometry")
}

func TestRandomGeometryDegenerateBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	g := RandomGeometry(rng, config.BrowserConfig{
		DisplayWidth: 800, DisplayHeight: 600,
		MinWindowW: 800, MaxWindowW: 800,
		MinWindowH: 600, MaxWindowH: 600,
	})
	assert.Equal(t, Geometry{X: 0, Y: 0, Width: 800, Height: 600}, g)
}
