package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fareloom/fareloom/internal/config"
)

type syncBuffer struct{ bytes.Buffer }

func (s *syncBuffer) Sync() error { return nil }

func TestInitializeWritesJSON(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf syncBuffer
	Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "test"}, zapcore.Lock(&buf))

	GetLogger().Info("hello from the test")
	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"hello from the test"`)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "{"))
}

func TestInitializeHonorsLevel(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf syncBuffer
	Initialize(config.LoggerConfig{Level: "error", Format: "json"}, zapcore.Lock(&buf))

	GetLogger().Info("suppressed")
	GetLogger().Error("loud")
	assert.NotContains(t, buf.String(), "suppressed")
	assert.Contains(t, buf.String(), "loud")
}

func TestInitializeRunsOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var first, second syncBuffer
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.Lock(&first))
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.Lock(&second))

	GetLogger().Info("routed")
	assert.Contains(t, first.String(), "routed")
	assert.Empty(t, second.String())
}

func TestGetLoggerBeforeInitFallsBack(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	assert.NotNil(t, GetLogger())
}

func TestBadLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf syncBuffer
	Initialize(config.LoggerConfig{Level: "nonsense", Format: "json"}, zapcore.Lock(&buf))

	GetLogger().Debug("hidden")
	GetLogger().Info("visible")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}
