// Package config holds the viper-backed application configuration: typed
// structs, defaults, environment binding, and validation.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/browserd/pkg/browser"
)

// Config is the full application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Network  NetworkConfig  `mapstructure:"network" yaml:"network"`
	Humanize HumanizeConfig `mapstructure:"humanize" yaml:"humanize"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
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

// BrowserConfig holds settings for the headless browser process.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	DisableCache    bool     `mapstructure:"disable_cache" yaml:"disable_cache"`
	UserAgent       string   `mapstructure:"user_agent" yaml:"user_agent"`
	ViewportWidth   int      `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int      `mapstructure:"viewport_height" yaml:"viewport_height"`
	Args            []string `mapstructure:"args" yaml:"args"`
}

// SessionConfig tunes the tab session registry.
type SessionConfig struct {
	// DefaultTTL is applied when an open request carries no expiration.
	DefaultTTL time.Duration `mapstructure:"default_ttl" yaml:"default_ttl"`
	// MaxTTL caps the expiration a caller may request.
	MaxTTL time.Duration `mapstructure:"max_ttl" yaml:"max_ttl"`
	// SweepInterval is the period of the background expiration sweep.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	// MaxSessions bounds the number of concurrently open tabs.
	MaxSessions int `mapstructure:"max_sessions" yaml:"max_sessions"`
	// OpenRate and OpenBurst rate-limit browser target provisioning.
	OpenRate  float64 `mapstructure:"open_rate" yaml:"open_rate"`
	OpenBurst int     `mapstructure:"open_burst" yaml:"open_burst"`
}

// NetworkConfig bounds the lifetimes of CDP interactions.
type NetworkConfig struct {
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	OperationTimeout   time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	PostLoadWait       time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	ExistsProbeTimeout time.Duration `mapstructure:"exists_probe_timeout" yaml:"exists_probe_timeout"`
}

// HumanizeConfig tunes the randomized input sequence used to reduce
// automation fingerprinting.
type HumanizeConfig struct {
	MinActions  int `mapstructure:"min_actions" yaml:"min_actions"`
	MaxActions  int `mapstructure:"max_actions" yaml:"max_actions"`
	MinPauseMs  int `mapstructure:"min_pause_ms" yaml:"min_pause_ms"`
	MaxPauseMs  int `mapstructure:"max_pause_ms" yaml:"max_pause_ms"`
	MaxScrollPx int `mapstructure:"max_scroll_px" yaml:"max_scroll_px"`
}

// Profile converts the config into the domain profile applied per operation.
func (h HumanizeConfig) Profile() browser.HumanizeProfile {
	return browser.HumanizeProfile{
		MinActions: h.MinActions,
		MaxActions: h.MaxActions,
		MinPause:   time.Duration(h.MinPauseMs) * time.Millisecond,
		MaxPause:   time.Duration(h.MaxPauseMs) * time.Millisecond,
		MaxScroll:  h.MaxScrollPx,
	}.Normalize()
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "browserd")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)

	// -- Session --
	v.SetDefault("session.default_ttl", "30s")
	v.SetDefault("session.max_ttl", "10m")
	v.SetDefault("session.sweep_interval", "5s")
	v.SetDefault("session.max_sessions", 32)
	v.SetDefault("session.open_rate", 1.0)
	v.SetDefault("session.open_burst", 4)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "90s")
	v.SetDefault("network.operation_timeout", "30s")
	v.SetDefault("network.post_load_wait", "500ms")
	v.SetDefault("network.exists_probe_timeout", "2s")

	// -- Humanize --
	v.SetDefault("humanize.min_actions", 4)
	v.SetDefault("humanize.max_actions", 9)
	v.SetDefault("humanize.min_pause_ms", 40)
	v.SetDefault("humanize.max_pause_ms", 320)
	v.SetDefault("humanize.max_scroll_px", 400)

	// -- Server --
	v.SetDefault("server.addr", ":8089")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
}

// NewDefaultConfig creates a configuration populated with default values.
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

// NewConfigFromViper creates a validated configuration from a viper object.
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

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Session.DefaultTTL <= 0 {
		return fmt.Errorf("session.default_ttl must be a positive duration")
	}
	if c.Session.MaxTTL < c.Session.DefaultTTL {
		return fmt.Errorf("session.max_ttl must not be below session.default_ttl")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session.sweep_interval must be a positive duration")
	}
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("session.max_sessions must be a positive integer")
	}
	if c.Session.OpenRate <= 0 {
		return fmt.Errorf("session.open_rate must be positive")
	}
	if c.Session.OpenBurst <= 0 {
		return fmt.Errorf("session.open_burst must be a positive integer")
	}
	if c.Network.NavigationTimeout <= 0 || c.Network.OperationTimeout <= 0 {
		return fmt.Errorf("network timeouts must be positive durations")
	}
	if c.Network.ExistsProbeTimeout <= 0 {
		return fmt.Errorf("network.exists_probe_timeout must be a positive duration")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	if c.Humanize.MaxActions < c.Humanize.MinActions {
		return fmt.Errorf("humanize.max_actions must not be below humanize.min_actions")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}
