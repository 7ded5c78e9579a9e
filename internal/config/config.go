// File: internal/config/config.go
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. GRAB_CAPTURE_OUTPUT_DIR.
const EnvPrefix = "GRAB"

// DefaultUserAgent is a current desktop Chrome identity.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config is the root configuration for a collection session.
type Config struct {
	// Target is the page to collect from. It normally arrives via --url.
	Target  string        `mapstructure:"target" yaml:"target"`
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Plan    PlanConfig    `mapstructure:"plan" yaml:"plan"`
	Report  ReportConfig  `mapstructure:"report" yaml:"report"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls how the browser is launched.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	UserAgent       string   `mapstructure:"user_agent" yaml:"user_agent"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	DisableCache    bool     `mapstructure:"disable_cache" yaml:"disable_cache"`
	Args            []string `mapstructure:"args" yaml:"args"`
	WindowWidth     int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight    int      `mapstructure:"window_height" yaml:"window_height"`
	// ExecPath overrides Chrome discovery.
	ExecPath string `mapstructure:"exec_path" yaml:"exec_path"`
}

// NetworkConfig holds the two timeout tiers. NavigationTimeout is fatal,
// IdleWait is advisory.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	IdleWait          time.Duration `mapstructure:"idle_wait" yaml:"idle_wait"`
	QuietPeriod       time.Duration `mapstructure:"quiet_period" yaml:"quiet_period"`
}

// CaptureConfig decides what is kept and where it goes.
type CaptureConfig struct {
	OutputDir            string        `mapstructure:"output_dir" yaml:"output_dir"`
	SameOrigin           bool          `mapstructure:"same_origin" yaml:"same_origin"`
	SameSite             bool          `mapstructure:"same_site" yaml:"same_site"`
	Include              string        `mapstructure:"include" yaml:"include"`
	Exclude              string        `mapstructure:"exclude" yaml:"exclude"`
	MaxConcurrentFetches int           `mapstructure:"max_concurrent_fetches" yaml:"max_concurrent_fetches"`
	BodyFetchTimeout     time.Duration `mapstructure:"body_fetch_timeout" yaml:"body_fetch_timeout"`
}

// PlanConfig is the interaction plan and its timing.
type PlanConfig struct {
	ScrollCount   int           `mapstructure:"scroll_count" yaml:"scroll_count"`
	Clicks        []string      `mapstructure:"clicks" yaml:"clicks"`
	Hovers        []string      `mapstructure:"hovers" yaml:"hovers"`
	Routes        []string      `mapstructure:"routes" yaml:"routes"`
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	RouteTimeout  time.Duration `mapstructure:"route_timeout" yaml:"route_timeout"`
	ScrollSettle  time.Duration `mapstructure:"scroll_settle" yaml:"scroll_settle"`
	ClickSettle   time.Duration `mapstructure:"click_settle" yaml:"click_settle"`
	HoverSettle   time.Duration `mapstructure:"hover_settle" yaml:"hover_settle"`
}

// ReportConfig controls the end of run summary.
type ReportConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	// Output is a file path; empty or "stdout" writes to standard output.
	Output string `mapstructure:"output" yaml:"output"`
	TopN   int    `mapstructure:"top_n" yaml:"top_n"`
}

// NewDefaultConfig creates a configuration populated purely from defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("target", "")

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "grab")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", DefaultUserAgent)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 768)
	v.SetDefault("browser.exec_path", "")

	// -- Network --
	v.SetDefault("network.navigation_timeout", "45s")
	v.SetDefault("network.idle_wait", "1500ms")
	v.SetDefault("network.quiet_period", "500ms")

	// -- Capture --
	v.SetDefault("capture.output_dir", "./out")
	v.SetDefault("capture.same_origin", false)
	v.SetDefault("capture.same_site", false)
	v.SetDefault("capture.include", "")
	v.SetDefault("capture.exclude", "")
	v.SetDefault("capture.max_concurrent_fetches", 8)
	v.SetDefault("capture.body_fetch_timeout", "30s")

	// -- Plan --
	v.SetDefault("plan.scroll_count", 0)
	v.SetDefault("plan.clicks", []string{})
	v.SetDefault("plan.hovers", []string{})
	v.SetDefault("plan.routes", []string{})
	v.SetDefault("plan.action_timeout", "5s")
	v.SetDefault("plan.route_timeout", "30s")
	v.SetDefault("plan.scroll_settle", "800ms")
	v.SetDefault("plan.click_settle", "1200ms")
	v.SetDefault("plan.hover_settle", "500ms")

	// -- Report --
	v.SetDefault("report.format", "text")
	v.SetDefault("report.output", "")
	v.SetDefault("report.top_n", 5)
}

// BindEnv makes every known key overridable through GRAB_ prefixed
// environment variables, with dots mapped to underscores.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// NewConfigFromViper unmarshals v, applying environment overrides, and validates the result.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	BindEnv(v)

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
	if c.Network.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	if c.Network.IdleWait < 0 {
		return fmt.Errorf("network.idle_wait must not be negative")
	}
	if c.Network.QuietPeriod <= 0 {
		return fmt.Errorf("network.quiet_period must be a positive duration")
	}
	if strings.TrimSpace(c.Capture.OutputDir) == "" {
		return fmt.Errorf("capture.output_dir is a required configuration field")
	}
	if c.Capture.MaxConcurrentFetches <= 0 {
		return fmt.Errorf("capture.max_concurrent_fetches must be a positive integer")
	}
	if c.Capture.BodyFetchTimeout <= 0 {
		return fmt.Errorf("capture.body_fetch_timeout must be a positive duration")
	}
	if c.Capture.Include != "" {
		if _, err := regexp.Compile(c.Capture.Include); err != nil {
			return fmt.Errorf("capture.include is not a valid regular expression: %w", err)
		}
	}
	if c.Capture.Exclude != "" {
		if _, err := regexp.Compile(c.Capture.Exclude); err != nil {
			return fmt.Errorf("capture.exclude is not a valid regular expression: %w", err)
		}
	}
	if err := c.Plan.Validate(); err != nil {
		return fmt.Errorf("plan configuration invalid: %w", err)
	}
	switch c.Report.Format {
	case "text", "json":
	default:
		return fmt.Errorf("report.format must be one of text, json (got %q)", c.Report.Format)
	}
	if c.Report.TopN < 0 {
		return fmt.Errorf("report.top_n must not be negative")
	}
	return nil
}

// Validate checks the plan settings.
func (p *PlanConfig) Validate() error {
	if p.ScrollCount < 0 {
		return fmt.Errorf("scroll_count must not be negative")
	}
	if p.ActionTimeout <= 0 {
		return fmt.Errorf("action_timeout must be a positive duration")
	}
	if p.RouteTimeout <= 0 {
		return fmt.Errorf("route_timeout must be a positive duration")
	}
	if p.ScrollSettle < 0 || p.ClickSettle < 0 || p.HoverSettle < 0 {
		return fmt.Errorf("settle delays must not be negative")
	}
	for _, sel := range append(append([]string{}, p.Clicks...), p.Hovers...) {
		if strings.TrimSpace(sel) == "" {
			return fmt.Errorf("selectors must not be empty")
		}
	}
	return nil
}
