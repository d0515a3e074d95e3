package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/PentesterFlow/ReconMapper/pkg/recon"
)

// settings resolves flag values, letting RECONMAPPER_* environment variables
// stand in for flags that were not given on the command line.
type settings struct {
	v *viper.Viper
}

func newSettings(cmd *cobra.Command) (*settings, error) {
	v := viper.New()
	v.SetEnvPrefix("RECONMAPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if err := v.BindPFlags(cmd.InheritedFlags()); err != nil {
		return nil, err
	}
	return &settings{v: v}, nil
}

// set reports whether name was given as a flag or through the environment.
func (s *settings) set(name string) bool {
	return s.v.IsSet(name)
}

func (s *settings) str(name string) string    { return s.v.GetString(name) }
func (s *settings) integer(name string) int   { return s.v.GetInt(name) }
func (s *settings) boolean(name string) bool  { return s.v.GetBool(name) }
func (s *settings) float(name string) float64 { return s.v.GetFloat64(name) }
func (s *settings) list(name string) []string { return s.v.GetStringSlice(name) }
func (s *settings) duration(name string) recon.Duration {
	return recon.Duration(s.v.GetDuration(name))
}

func addGlobalFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringP("config", "c", "", "Configuration file (YAML or JSON)")
	f.BoolP("verbose", "v", false, "Verbose output")
	f.Bool("debug", false, "Debug logging")
	f.String("log-file", "", "Also write JSON logs to this file, rotated")
}

func addCrawlFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntP("max-depth", "d", 2, "Maximum link depth from the start URL")
	f.IntP("limit", "l", 0, "Maximum pages to crawl (0 = no limit)")
	f.Bool("static", false, "Fetch pages over HTTP instead of driving Chrome")
	f.StringArray("include", nil, "Only follow URLs matching this regex")
	f.StringArray("exclude", nil, "Never follow URLs matching this regex")
	f.Bool("skip-assets", false, "Do not follow links to images, archives and documents")
	f.Float64("rate-limit", 0, "Navigations per second (0 = unlimited)")
	f.Float64("min-rate", 0, "Back off toward this rate while navigations fail")
	f.Duration("host-delay", 0, "Minimum delay between navigations to one host")
	f.Duration("nav-timeout", 0, "Navigation timeout (default 30s)")
	f.String("user-agent", "", "User-Agent override")
	f.String("browser-bin", "", "Chrome executable (default: auto-detect or download)")
	f.Bool("headful", false, "Show the browser window")
}

func addExploreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntP("workers", "w", 1, "Pages explored concurrently")
	f.Duration("settle", 0, "Wait after each navigation for in-flight calls (default 2s)")
	f.String("settle-mode", "", "Settle mode: fixed or idle")
	f.Int("button-limit", 0, "Maximum buttons captured per page (default 20)")
	f.String("api-segment", "", "Path segment that marks API calls (default /api/)")
	f.String("store", "", "Persist page results in this bbolt file")
	f.Bool("stream", false, "Stream page results as JSON lines to stdout")
	f.Bool("progress", true, "Show a progress bar on stderr")
}

func addReferenceFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Bool("normalize", false, "Collapse numeric, UUID and hex path segments to {id}")
	f.Int("sample-limit", 0, "Samples kept per endpoint (default and max 2)")
}

// apply copies every given flag onto cfg.
func (s *settings) apply(cfg *recon.Config) {
	if s.set("max-depth") {
		cfg.MaxDepth = s.integer("max-depth")
	}
	if s.set("limit") {
		cfg.Limit = s.integer("limit")
	}
	if s.set("static") {
		cfg.Static = s.boolean("static")
	}
	if s.set("include") {
		cfg.Scope.IncludePatterns = s.list("include")
	}
	if s.set("exclude") {
		cfg.Scope.ExcludePatterns = s.list("exclude")
	}
	if s.set("skip-assets") {
		cfg.Scope.SkipAssets = s.boolean("skip-assets")
	}
	if s.set("rate-limit") {
		cfg.RateLimit.RequestsPerSecond = s.float("rate-limit")
	}
	if s.set("min-rate") {
		cfg.RateLimit.MinRequestsPerSecond = s.float("min-rate")
	}
	if s.set("host-delay") {
		cfg.RateLimit.HostDelay = s.duration("host-delay")
	}
	if s.set("nav-timeout") {
		cfg.Explore.NavTimeout = s.duration("nav-timeout")
	}
	if s.set("user-agent") {
		cfg.Browser.UserAgent = s.str("user-agent")
	}
	if s.set("browser-bin") {
		cfg.Browser.Bin = s.str("browser-bin")
	}
	if s.set("headful") {
		cfg.Browser.Headless = !s.boolean("headful")
	}

	if s.set("workers") {
		cfg.Workers = s.integer("workers")
	}
	if s.set("settle") {
		cfg.Explore.SettleDelay = s.duration("settle")
	}
	if s.set("settle-mode") {
		cfg.Explore.SettleMode = s.str("settle-mode")
	}
	if s.set("button-limit") {
		cfg.Explore.ButtonLimit = s.integer("button-limit")
	}
	if s.set("api-segment") {
		cfg.Reference.APISegment = s.str("api-segment")
	}
	if s.set("store") {
		cfg.Store.Path = s.str("store")
	}
	if s.set("stream") && s.boolean("stream") {
		cfg.Output.Format = "jsonl"
	}

	if s.set("normalize") {
		cfg.Reference.NormalizePaths = s.boolean("normalize")
	}
	if s.set("sample-limit") {
		cfg.Reference.SampleLimit = s.integer("sample-limit")
	}

	if s.set("verbose") {
		cfg.Verbose = s.boolean("verbose")
	}
	if s.set("debug") {
		cfg.Debug = s.boolean("debug")
	}
}

// loadConfig reads --config when given, then applies flags and the target.
func (s *settings) loadConfig(target string) (*recon.Config, error) {
	cfg := recon.DefaultConfig()
	if path := s.str("config"); path != "" {
		loaded, err := recon.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if target != "" {
		cfg.Target = target
	}
	s.apply(cfg)
	return cfg, nil
}
