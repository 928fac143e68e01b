// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Validation ValidationConfig `mapstructure:"validation" yaml:"validation"`
	Parser     ParserConfig     `mapstructure:"parser" yaml:"parser"`
	Locator    LocatorConfig    `mapstructure:"locator" yaml:"locator"`
	// Run gets its marching orders from CLI flags, not the config file.
	Run RunConfig `mapstructure:"-" yaml:"-"`
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

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	// PageLoadTimeout bounds navigation; exceeding it is run-fatal.
	PageLoadTimeout time.Duration `mapstructure:"page_load_timeout" yaml:"page_load_timeout"`
	// PostLoadWait lets async tag containers settle after document ready.
	PostLoadWait time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	// ShimRetryInterval and ShimRetryBudget bound the wait for the analytics
	// queue to appear before the missing shim degrades to a warning.
	ShimRetryInterval time.Duration `mapstructure:"shim_retry_interval" yaml:"shim_retry_interval"`
	ShimRetryBudget   time.Duration `mapstructure:"shim_retry_budget" yaml:"shim_retry_budget"`
}

// ValidationConfig tunes the matcher and the interaction driver.
type ValidationConfig struct {
	MatchThreshold float64 `mapstructure:"match_threshold" yaml:"match_threshold"`
	// SettleDelay is the pause after each click before the next action, since
	// event pushes may be asynchronous relative to the click.
	SettleDelay   time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	// LocateTimeout bounds a single element lookup; ClickTimeout bounds the
	// wait for the element to become interactable.
	LocateTimeout time.Duration `mapstructure:"locate_timeout" yaml:"locate_timeout"`
	ClickTimeout  time.Duration `mapstructure:"click_timeout" yaml:"click_timeout"`
	// WarningTimeThresholdMs flags click-to-event latency (and back-to-back
	// events closer than this) as performance warnings, not failures.
	WarningTimeThresholdMs int64 `mapstructure:"warning_time_threshold_ms" yaml:"warning_time_threshold_ms"`
	// ExpectedGTMID is the container id the run must observe; empty skips the
	// check unless the reference document declares one.
	ExpectedGTMID string `mapstructure:"expected_gtm_id" yaml:"expected_gtm_id"`
	// RequiredGlobals are property names every captured event must carry
	// regardless of match outcome.
	RequiredGlobals []string `mapstructure:"required_globals" yaml:"required_globals"`
	// Strict promotes unexpected extra fields from warnings to errors.
	Strict bool `mapstructure:"strict" yaml:"strict"`
	// EventFilter keeps only captured events whose "event" property equals
	// this value before matching; empty keeps everything.
	EventFilter string `mapstructure:"event_filter" yaml:"event_filter"`
}

// ParserConfig carries the three extraction pattern families for the
// reference-document loader. All are Go regular expressions.
type ParserConfig struct {
	SectionPattern    string `mapstructure:"section_pattern" yaml:"section_pattern"`
	PayloadPattern    string `mapstructure:"payload_pattern" yaml:"payload_pattern"`
	ActivationPattern string `mapstructure:"activation_pattern" yaml:"activation_pattern"`
}

// LocatorConfig orders and tunes the element-finder strategy chain.
type LocatorConfig struct {
	// Strategies is the chain order; unknown names are rejected by Validate
	// in pkg/locator, omitted names disable that strategy.
	Strategies []string `mapstructure:"strategies" yaml:"strategies"`
	// RoleSelectors maps a semantic role to the CSS selector that scopes
	// candidate enumeration for it.
	RoleSelectors map[string]string `mapstructure:"role_selectors" yaml:"role_selectors"`
	// ComponentAttribute is the attribute carrying the site's component
	// naming convention (e.g. data-component).
	ComponentAttribute string `mapstructure:"component_attribute" yaml:"component_attribute"`
	// ProximityRadiusPx bounds the relative-position heuristic.
	ProximityRadiusPx int `mapstructure:"proximity_radius_px" yaml:"proximity_radius_px"`
	// ImageMatchThreshold is the maximum perceptual-hash distance accepted by
	// the visual strategy.
	ImageMatchThreshold int `mapstructure:"image_match_threshold" yaml:"image_match_threshold"`
}

// RunConfig holds settings populated from CLI flags for a specific run.
type RunConfig struct {
	TargetURL     string
	ReferencePath string
	ActionsPath   string
	Output        string
	OutputFormat  string
	Interactive   bool
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "tagsentry")
	v.SetDefault("logger.log_file", "tagsentry.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})
	v.SetDefault("browser.page_load_timeout", "30s")
	v.SetDefault("browser.post_load_wait", "2s")
	v.SetDefault("browser.shim_retry_interval", "250ms")
	v.SetDefault("browser.shim_retry_budget", "10s")

	// -- Validation --
	v.SetDefault("validation.match_threshold", 0.7)
	v.SetDefault("validation.settle_delay", "1500ms")
	v.SetDefault("validation.max_retries", 3)
	v.SetDefault("validation.retry_interval", "1s")
	v.SetDefault("validation.locate_timeout", "10s")
	v.SetDefault("validation.click_timeout", "10s")
	v.SetDefault("validation.warning_time_threshold_ms", 500)
	v.SetDefault("validation.required_globals", []string{"event"})
	v.SetDefault("validation.strict", false)
	v.SetDefault("validation.event_filter", "")

	// -- Parser --
	v.SetDefault("parser.section_pattern", `(?m)^#{2,3}\s+(.+)$`)
	v.SetDefault("parser.payload_pattern", "(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	v.SetDefault("parser.activation_pattern", `(?mi)^(?:activation|cuando|when)\s*[:\-]\s*(.+)$`)

	// -- Locator --
	v.SetDefault("locator.strategies", []string{
		"exact-text", "contains-text", "accessible-name",
		"component-name", "image-match", "proximity",
	})
	v.SetDefault("locator.role_selectors", map[string]string{
		"button": "button, [role=button], input[type=submit], input[type=button]",
		"link":   "a[href], [role=link]",
		"image":  "img, [role=img], svg",
		"input":  "input, textarea, select",
	})
	v.SetDefault("locator.component_attribute", "data-component")
	v.SetDefault("locator.proximity_radius_px", 300)
	v.SetDefault("locator.image_match_threshold", 10)
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults, but fail loudly if it does.
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

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Validation.MatchThreshold < 0.0 || c.Validation.MatchThreshold > 1.0 {
		return fmt.Errorf("validation.match_threshold must be between 0.0 and 1.0")
	}
	if c.Validation.MaxRetries < 1 {
		return fmt.Errorf("validation.max_retries must be at least 1")
	}
	if c.Browser.PageLoadTimeout <= 0 {
		return fmt.Errorf("browser.page_load_timeout must be a positive duration")
	}
	if c.Browser.ShimRetryInterval <= 0 || c.Browser.ShimRetryBudget <= 0 {
		return fmt.Errorf("browser.shim_retry_interval and shim_retry_budget must be positive durations")
	}
	if len(c.Locator.Strategies) == 0 {
		return fmt.Errorf("locator.strategies must name at least one strategy")
	}
	return nil
}
