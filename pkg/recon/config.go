package recon

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/ReconMapper/internal/browser"
	reconerrors "github.com/PentesterFlow/ReconMapper/internal/errors"
	"github.com/PentesterFlow/ReconMapper/internal/explorer"
	rhttp "github.com/PentesterFlow/ReconMapper/internal/http"
	"github.com/PentesterFlow/ReconMapper/internal/interceptor"
	"github.com/PentesterFlow/ReconMapper/internal/ratelimit"
	"github.com/PentesterFlow/ReconMapper/internal/reference"
	"github.com/PentesterFlow/ReconMapper/internal/scope"
)

// Duration is a time.Duration written as "2s" in config files.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts "1m30s" strings or integer nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.parse(value.Value)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config holds all run configuration.
type Config struct {
	// Target is the start URL.
	Target string `json:"target" yaml:"target"`

	// MaxDepth bounds link distance from the start URL.
	MaxDepth int `json:"max_depth" yaml:"max_depth"`

	// Limit caps successfully crawled pages, 0 for no cap.
	Limit int `json:"limit" yaml:"limit"`

	// Workers is the number of pages explored concurrently.
	Workers int `json:"workers" yaml:"workers"`

	// Static fetches pages over HTTP instead of driving Chrome. Network
	// capture is unavailable in this mode.
	Static bool `json:"static" yaml:"static"`

	Scope     scope.Rules      `json:"scope" yaml:"scope"`
	RateLimit RateLimitConfig  `json:"rate_limit" yaml:"rate_limit"`
	Browser   BrowserConfig    `json:"browser" yaml:"browser"`
	Explore   ExploreConfig    `json:"explore" yaml:"explore"`
	Reference reference.Config `json:"reference" yaml:"reference"`
	Output    OutputConfig     `json:"output" yaml:"output"`
	Store     StoreConfig      `json:"store" yaml:"store"`

	Verbose bool `json:"verbose" yaml:"verbose"`
	Debug   bool `json:"debug" yaml:"debug"`
}

// RateLimitConfig throttles navigations.
type RateLimitConfig struct {
	RequestsPerSecond float64  `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int      `json:"burst" yaml:"burst"`
	HostDelay         Duration `json:"host_delay" yaml:"host_delay"`

	// MinRequestsPerSecond, when set below RequestsPerSecond, lets the rate
	// back off toward it while navigations keep failing.
	MinRequestsPerSecond float64 `json:"min_requests_per_second" yaml:"min_requests_per_second"`
}

// BrowserConfig configures the Chrome sessions.
type BrowserConfig struct {
	Headless          bool     `json:"headless" yaml:"headless"`
	Bin               string   `json:"bin" yaml:"bin"`
	UserAgent         string   `json:"user_agent" yaml:"user_agent"`
	ViewportWidth     int      `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int      `json:"viewport_height" yaml:"viewport_height"`
	IgnoreHTTPSErrors bool     `json:"ignore_https_errors" yaml:"ignore_https_errors"`
	RecycleAfter      int      `json:"recycle_after" yaml:"recycle_after"`
	Timeout           Duration `json:"timeout" yaml:"timeout"`
}

// ExploreConfig configures page exploration.
type ExploreConfig struct {
	NavTimeout  Duration `json:"nav_timeout" yaml:"nav_timeout"`
	ButtonLimit int      `json:"button_limit" yaml:"button_limit"`
	SettleMode  string   `json:"settle_mode" yaml:"settle_mode"`
	SettleDelay Duration `json:"settle_delay" yaml:"settle_delay"`
	IdleWindow  Duration `json:"idle_window" yaml:"idle_window"`
}

// OutputConfig names the artifacts of a run. Empty paths are skipped,
// except Captures, which goes to stdout when no other artifact is set.
type OutputConfig struct {
	Format    string `json:"format" yaml:"format"` // json or jsonl
	Pretty    bool   `json:"pretty" yaml:"pretty"`
	Captures  string `json:"captures" yaml:"captures"`
	Reference string `json:"reference" yaml:"reference"`
	Markdown  string `json:"markdown" yaml:"markdown"`
	URLs      string `json:"urls" yaml:"urls"`
	Summary   string `json:"summary" yaml:"summary"`
}

// StoreConfig enables the bbolt capture store.
type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	bc := browser.DefaultConfig()
	ec := explorer.DefaultConfig()
	return &Config{
		MaxDepth: 2,
		Workers:  1,
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 0,
			Burst:             1,
		},
		Browser: BrowserConfig{
			Headless:          bc.Headless,
			ViewportWidth:     bc.ViewportWidth,
			ViewportHeight:    bc.ViewportHeight,
			IgnoreHTTPSErrors: bc.IgnoreHTTPSErrors,
			RecycleAfter:      bc.RecycleAfter,
			Timeout:           Duration(bc.Timeout),
		},
		Explore: ExploreConfig{
			NavTimeout:  Duration(ec.NavTimeout),
			ButtonLimit: ec.ButtonLimit,
			SettleMode:  ec.Settle.Mode,
			SettleDelay: Duration(ec.Settle.Delay),
			IdleWindow:  Duration(ec.Settle.IdleWindow),
		},
		Reference: reference.DefaultConfig(),
		Output: OutputConfig{
			Format: "json",
			Pretty: true,
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, reconerrors.New(reconerrors.Config, "", "load", "failed to read config file", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		config = DefaultConfig()
		if jerr := json.Unmarshal(data, config); jerr != nil {
			return nil, reconerrors.New(reconerrors.Config, "", "load", "failed to parse config file", err)
		}
	}
	return config, nil
}

// SaveToFile writes the configuration as JSON for .json paths, YAML
// otherwise.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return reconerrors.NewRenderError(path, err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Target == "" {
		return reconerrors.NewConfigError("target", "target URL is required")
	}
	u, err := url.Parse(c.Target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return reconerrors.NewConfigError("target", fmt.Sprintf("invalid target URL %q", c.Target))
	}
	if c.MaxDepth < 0 {
		return reconerrors.NewConfigError("max_depth", "must not be negative")
	}
	if c.Limit < 0 {
		return reconerrors.NewConfigError("limit", "must not be negative")
	}
	if c.Workers < 1 {
		return reconerrors.NewConfigError("workers", "must be at least 1")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return reconerrors.NewConfigError("rate_limit.requests_per_second", "must not be negative")
	}
	if c.RateLimit.MinRequestsPerSecond < 0 {
		return reconerrors.NewConfigError("rate_limit.min_requests_per_second", "must not be negative")
	}
	switch c.Output.Format {
	case "", "json", "jsonl":
	default:
		return reconerrors.NewConfigError("output.format", fmt.Sprintf("unknown format %q", c.Output.Format))
	}
	if err := c.settle().Validate(); err != nil {
		return reconerrors.NewConfigError("explore.settle_mode", err.Error())
	}
	if c.Reference.SampleLimit < 0 || c.Reference.SampleLimit > reference.MaxSampleLimit {
		return reconerrors.NewConfigError("reference.sample_limit",
			fmt.Sprintf("must be between 0 and %d", reference.MaxSampleLimit))
	}
	if c.Reference.TopHeaders < 0 || c.Reference.TopHeaders > reference.MaxTopHeaders {
		return reconerrors.NewConfigError("reference.top_headers",
			fmt.Sprintf("must be between 0 and %d", reference.MaxTopHeaders))
	}
	if c.Reference.BodyLimit < 0 {
		return reconerrors.NewConfigError("reference.body_limit", "must not be negative")
	}
	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	return clone
}

func (c *Config) settle() interceptor.SettleConfig {
	s := interceptor.DefaultSettleConfig()
	if c.Explore.SettleMode != "" {
		s.Mode = c.Explore.SettleMode
	}
	if c.Explore.SettleDelay > 0 {
		s.Delay = c.Explore.SettleDelay.D()
	}
	if c.Explore.IdleWindow > 0 {
		s.IdleWindow = c.Explore.IdleWindow.D()
	}
	return s
}

func (c *Config) explorerConfig() explorer.Config {
	ec := explorer.DefaultConfig()
	if c.Explore.NavTimeout > 0 {
		ec.NavTimeout = c.Explore.NavTimeout.D()
	}
	if c.Explore.ButtonLimit > 0 {
		ec.ButtonLimit = c.Explore.ButtonLimit
	}
	if c.Reference.APISegment != "" {
		ec.APISegment = c.Reference.APISegment
	}
	ec.Settle = c.settle()
	return ec
}

func (c *Config) browserConfig() browser.Config {
	bc := browser.DefaultConfig()
	bc.PoolSize = c.Workers
	bc.Headless = c.Browser.Headless
	bc.Bin = c.Browser.Bin
	bc.UserAgent = c.Browser.UserAgent
	bc.IgnoreHTTPSErrors = c.Browser.IgnoreHTTPSErrors
	if c.Browser.ViewportWidth > 0 {
		bc.ViewportWidth = c.Browser.ViewportWidth
	}
	if c.Browser.ViewportHeight > 0 {
		bc.ViewportHeight = c.Browser.ViewportHeight
	}
	if c.Browser.RecycleAfter > 0 {
		bc.RecycleAfter = c.Browser.RecycleAfter
	}
	if c.Browser.Timeout > 0 {
		bc.Timeout = c.Browser.Timeout.D()
	}
	return bc
}

func (c *Config) httpConfig() rhttp.Config {
	hc := rhttp.DefaultConfig()
	if c.Browser.UserAgent != "" {
		hc.UserAgent = c.Browser.UserAgent
	}
	if c.Explore.NavTimeout > 0 {
		hc.Timeout = c.Explore.NavTimeout.D()
	}
	hc.SkipTLSVerify = c.Browser.IgnoreHTTPSErrors
	return hc
}

func (c *Config) limiterConfig() ratelimit.Config {
	return ratelimit.Config{
		RequestsPerSecond: c.RateLimit.RequestsPerSecond,
		Burst:             c.RateLimit.Burst,
		HostDelay:         c.RateLimit.HostDelay.D(),

		MinRequestsPerSecond: c.RateLimit.MinRequestsPerSecond,
	}
}
