// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Network  NetworkConfig  `mapstructure:"network" yaml:"network"`
	Proxy    ProxyConfig    `mapstructure:"proxy" yaml:"proxy"`
	Humanoid HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// EngineConfig governs the per-run attempt loop of the session orchestrator.
type EngineConfig struct {
	// MaxAttempts caps how many browser sessions one run may consume.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// AttemptTimeout is the hard deadline for a single attempt, plugin body
	// included. When it fires the session is torn down and the attempt is
	// treated as a retryable failure.
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
	// RetryPace bounds how quickly consecutive attempts may start, so retry
	// cadence does not look machine-regular to the target.
	RetryPace time.Duration `mapstructure:"retry_pace" yaml:"retry_pace"`
	// UseProxy rotates the egress identity on every attempt.
	UseProxy bool `mapstructure:"use_proxy" yaml:"use_proxy"`
	// ShowRequests logs every intercepted request decision. Diagnostic only.
	ShowRequests bool `mapstructure:"show_requests" yaml:"show_requests"`
	Debug        bool `mapstructure:"debug" yaml:"debug"`
}

// BrowserConfig holds settings for the browser process launched per attempt.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// ExecPath overrides the Chrome binary location; empty means autodetect.
	ExecPath        string   `mapstructure:"exec_path" yaml:"exec_path"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string `mapstructure:"args" yaml:"args"`

	// Display bounds the random window geometry is drawn from.
	DisplayWidth  int `mapstructure:"display_width" yaml:"display_width"`
	DisplayHeight int `mapstructure:"display_height" yaml:"display_height"`
	MinWindowW    int `mapstructure:"min_window_w" yaml:"min_window_w"`
	MaxWindowW    int `mapstructure:"max_window_w" yaml:"max_window_w"`
	MinWindowH    int `mapstructure:"min_window_h" yaml:"min_window_h"`
	MaxWindowH    int `mapstructure:"max_window_h" yaml:"max_window_h"`
}

// NetworkConfig tunes navigation and interception behavior.
type NetworkConfig struct {
	NavigationTimeout     time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait          time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	DefaultWaitTimeout    time.Duration `mapstructure:"default_wait_timeout" yaml:"default_wait_timeout"`
	CaptureResponseBodies bool          `mapstructure:"capture_response_bodies" yaml:"capture_response_bodies"`
}

// ProxyConfig describes the pool of rotating egress identities.
type ProxyConfig struct {
	// Servers are given as [user:pass@]host:port entries.
	Servers []string `mapstructure:"servers" yaml:"servers"`
	// HealthCheckURL, when set, is probed through each proxy before it is
	// handed out; proxies that fail the probe are skipped.
	HealthCheckURL string        `mapstructure:"health_check_url" yaml:"health_check_url"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

// HumanoidConfig tunes the human-like interaction simulator.
type HumanoidConfig struct {
	// FittsA and FittsB are the intercept/slope (ms) of the Fitts's law
	// movement-time model used for pre-click latency.
	FittsA float64 `mapstructure:"fitts_a" yaml:"fitts_a"`
	FittsB float64 `mapstructure:"fitts_b" yaml:"fitts_b"`
	// GaussianStrength scales the high-frequency pointer tremor.
	GaussianStrength float64 `mapstructure:"gaussian_strength" yaml:"gaussian_strength"`
	// PerlinAmplitude scales the low-frequency pointer drift.
	PerlinAmplitude float64 `mapstructure:"perlin_amplitude" yaml:"perlin_amplitude"`
	ClickHoldMinMs  int     `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs  int     `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`
	// ActionDelayMinMs/MaxMs bound the random pause inserted between
	// discrete actions.
	ActionDelayMinMs int `mapstructure:"action_delay_min_ms" yaml:"action_delay_min_ms"`
	ActionDelayMaxMs int `mapstructure:"action_delay_max_ms" yaml:"action_delay_max_ms"`
	// Seed fixes the random source; zero means time-seeded. Used by tests.
	Seed int64 `mapstructure:"seed" yaml:"seed"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "fareloom")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.max_attempts", 3)
	v.SetDefault("engine.attempt_timeout", "3m")
	v.SetDefault("engine.retry_pace", "5s")
	v.SetDefault("engine.use_proxy", false)
	v.SetDefault("engine.show_requests", false)
	v.SetDefault("engine.debug", false)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.display_width", 1920)
	v.SetDefault("browser.display_height", 1080)
	v.SetDefault("browser.min_window_w", 1050)
	v.SetDefault("browser.max_window_w", 1680)
	v.SetDefault("browser.min_window_h", 700)
	v.SetDefault("browser.max_window_h", 1000)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "60s")
	v.SetDefault("network.post_load_wait", "1s")
	v.SetDefault("network.default_wait_timeout", "30s")
	v.SetDefault("network.capture_response_bodies", true)

	// -- Proxy --
	v.SetDefault("proxy.probe_timeout", "10s")

	// -- Humanoid --
	v.SetDefault("humanoid.fitts_a", 120.0)
	v.SetDefault("humanoid.fitts_b", 110.0)
	v.SetDefault("humanoid.gaussian_strength", 0.6)
	v.SetDefault("humanoid.perlin_amplitude", 2.5)
	v.SetDefault("humanoid.click_hold_min_ms", 55)
	v.SetDefault("humanoid.click_hold_max_ms", 160)
	v.SetDefault("humanoid.action_delay_min_ms", 350)
	v.SetDefault("humanoid.action_delay_max_ms", 1600)
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with the defaults above.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Engine.MaxAttempts <= 0 {
		return fmt.Errorf("engine.max_attempts must be a positive integer")
	}
	if c.Engine.AttemptTimeout <= 0 {
		return fmt.Errorf("engine.attempt_timeout must be a positive duration")
	}
	if c.Browser.MinWindowW > c.Browser.MaxWindowW || c.Browser.MinWindowH > c.Browser.MaxWindowH {
		return fmt.Errorf("browser window bounds are inverted")
	}
	if c.Browser.MaxWindowW > c.Browser.DisplayWidth || c.Browser.MaxWindowH > c.Browser.DisplayHeight {
		return fmt.Errorf("browser window bounds exceed the display")
	}
	if c.Engine.UseProxy && len(c.Proxy.Servers) == 0 {
		return fmt.Errorf("engine.use_proxy is set but proxy.servers is empty")
	}
	if c.Humanoid.ClickHoldMinMs > c.Humanoid.ClickHoldMaxMs {
		return fmt.Errorf("humanoid.click_hold bounds are inverted")
	}
	for _, s := range c.Proxy.Servers {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("proxy.servers contains an empty entry")
		}
	}
	return nil
}
