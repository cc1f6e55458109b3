package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, 3*time.Minute, cfg.Engine.AttemptTimeout)
	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.Network.CaptureResponseBodies)
	assert.Equal(t, "fareloom", cfg.Logger.ServiceName)
}

func TestNewConfigFromViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("engine.max_attempts", 5)
	v.Set("engine.attempt_timeout", "90s")
	v.Set("proxy.servers", []string{"user:pass@10.0.0.1:8080"})

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
	assert.Equal(t, 90*time.Second, cfg.Engine.AttemptTimeout)
	assert.Equal(t, []string{"user:pass@10.0.0.1:8080"}, cfg.Proxy.Servers)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero attempts", func(c *Config) { c.Engine.MaxAttempts = 0 }},
		{"zero timeout", func(c *Config) { c.Engine.AttemptTimeout = 0 }},
		{"inverted window bounds", func(c *Config) { c.Browser.MinWindowW = 2000 }},
		{"window larger than display", func(c *Config) { c.Browser.MaxWindowH = 5000 }},
		{"proxy enabled without servers", func(c *Config) { c.Engine.UseProxy = true }},
		{"inverted click hold", func(c *Config) { c.Humanoid.ClickHoldMinMs = 999 }},
		{"blank proxy entry", func(c *Config) { c.Proxy.Servers = []string{" "} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
