// Package reference folds exploration reports into an endpoint registry and
// renders it as an API reference.
package reference

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/ReconMapper/internal/explorer"
	"github.com/PentesterFlow/ReconMapper/internal/interceptor"
	"github.com/PentesterFlow/ReconMapper/internal/logger"
	"github.com/PentesterFlow/ReconMapper/internal/metrics"
	"github.com/PentesterFlow/ReconMapper/internal/scope"
)

// Upper bounds on the reference's per-endpoint listings.
const (
	MaxSampleLimit = 2
	MaxTopHeaders  = 5
)

// Config holds registry configuration.
type Config struct {
	// APISegment marks network URLs that become endpoints.
	APISegment string `json:"api_segment" yaml:"api_segment"`
	// NormalizePaths collapses id-like path segments to {id} in keys.
	NormalizePaths bool `json:"normalize_paths" yaml:"normalize_paths"`
	// SampleLimit caps stored samples per endpoint.
	SampleLimit int `json:"sample_limit" yaml:"sample_limit"`
	// BodyLimit truncates sampled response bodies, in characters.
	BodyLimit int `json:"body_limit" yaml:"body_limit"`
	// TopHeaders caps ranked headers per endpoint and in common headers.
	TopHeaders int `json:"top_headers" yaml:"top_headers"`
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		APISegment:  scope.DefaultAPISegment,
		SampleLimit: MaxSampleLimit,
		BodyLimit:   500,
		TopHeaders:  MaxTopHeaders,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.APISegment == "" {
		c.APISegment = def.APISegment
	}
	if c.SampleLimit <= 0 || c.SampleLimit > MaxSampleLimit {
		c.SampleLimit = def.SampleLimit
	}
	if c.BodyLimit <= 0 {
		c.BodyLimit = def.BodyLimit
	}
	if c.TopHeaders <= 0 || c.TopHeaders > MaxTopHeaders {
		c.TopHeaders = def.TopHeaders
	}
	return c
}

// endpoint accumulates everything observed for one key.
type endpoint struct {
	description     string
	methods         map[string]struct{}
	statusCodes     map[int]struct{}
	requestHeaders  *counter
	responseHeaders *counter
	samples         []Sample
}

func newEndpoint() *endpoint {
	return &endpoint{
		methods:         make(map[string]struct{}),
		statusCodes:     make(map[int]struct{}),
		requestHeaders:  newCounter(),
		responseHeaders: newCounter(),
	}
}

// counter counts names and remembers first-seen order for stable ranking.
type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(name string, n int) {
	if _, ok := c.counts[name]; !ok {
		c.order = append(c.order, name)
	}
	c.counts[name] += n
}

// addHeaders counts each header name once. Names are visited sorted so
// first-seen order does not depend on map iteration.
func (c *counter) addHeaders(h interceptor.Headers) {
	for _, name := range sortedNames(h) {
		c.add(name, 1)
	}
}

// top returns up to n names by descending count, ties in first-seen order.
func (c *counter) top(n int) Ranking {
	ranked := make(Ranking, 0, len(c.order))
	for _, name := range c.order {
		ranked = append(ranked, HeaderCount{Name: name, Count: c.counts[name]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func sortedNames(h interceptor.Headers) []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry is the endpoint registry. It is safe for concurrent use.
//
// Method and status sets are idempotent under re-ingestion of the same
// report; header counters and samples are additive.
type Registry struct {
	mu        sync.Mutex
	config    Config
	endpoints map[string]*endpoint
	order     []string
	forms     []explorer.Form
	buttons   []explorer.Button
	reports   int

	log     *logger.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock overrides the generation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry.
func New(config Config, opts ...Option) *Registry {
	r := &Registry{
		config:    config.withDefaults(),
		endpoints: make(map[string]*endpoint),
		log:       logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithComponent("reference")
	return r
}

// Ingest folds one exploration report into the registry. A nil report
// contributes nothing.
func (r *Registry) Ingest(report *explorer.Report) {
	if report == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, form := range report.Forms {
		r.forms = append(r.forms, form)
		if form.Action == "" {
			continue
		}
		method := strings.ToUpper(form.Method)
		if method == "" {
			method = "GET"
		}
		r.endpoint(form.Action, "form").methods[method] = struct{}{}
	}

	for _, btn := range report.Buttons {
		if btn.Href != "" {
			r.buttons = append(r.buttons, btn)
		}
	}

	for _, pattern := range report.APIPatterns {
		if pattern.Endpoint == "" {
			continue
		}
		ep := r.endpoint(pattern.Endpoint, "api_pattern")
		if ep.description == "" {
			source := pattern.Type
			if source == "" {
				source = "unknown"
			}
			ep.description = "API endpoint discovered from " + source
		}
	}

	for _, entry := range report.NetworkLog {
		if entry.URL == "" || !strings.Contains(entry.URL, r.config.APISegment) {
			continue
		}
		method := entry.Method
		if method == "" {
			method = "GET"
		}

		ep := r.endpoint(entry.URL, "network")
		ep.methods[method] = struct{}{}
		if entry.Status != nil && *entry.Status != 0 {
			ep.statusCodes[*entry.Status] = struct{}{}
		}
		ep.requestHeaders.addHeaders(entry.RequestHeaders)
		ep.responseHeaders.addHeaders(entry.ResponseHeaders)

		if len(ep.samples) < r.config.SampleLimit {
			ep.samples = append(ep.samples, r.sample(method, entry))
		}
	}

	// Page-level headers count towards every endpoint known so far.
	for _, key := range r.order {
		ep := r.endpoints[key]
		ep.requestHeaders.addHeaders(report.RequestHeaders)
		ep.responseHeaders.addHeaders(report.ResponseHeaders)
	}

	r.reports++
	r.metrics.RecordIngest(len(r.order))
}

// IngestResult ingests a page result's exploration report, if any.
func (r *Registry) IngestResult(result explorer.PageResult) {
	r.Ingest(result.Report)
}

// endpoint returns the entry for raw, creating it on first sight.
// Callers hold r.mu.
func (r *Registry) endpoint(raw, source string) *endpoint {
	key := raw
	if r.config.NormalizePaths {
		key = NormalizeKey(raw)
	}
	ep, ok := r.endpoints[key]
	if !ok {
		ep = newEndpoint()
		r.endpoints[key] = ep
		r.order = append(r.order, key)
		r.log.EndpointSeen(key, source)
	}
	return ep
}

func (r *Registry) sample(method string, entry interceptor.Entry) Sample {
	s := Sample{
		Method:      method,
		Status:      entry.Status,
		RequestBody: entry.RequestBody,
	}
	if entry.ResponseBody != "" {
		body := truncateRunes(entry.ResponseBody, r.config.BodyLimit)
		s.ResponseBody = &body
	}
	return s
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Len returns the number of endpoints.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Keys returns endpoint keys in first-seen order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Reports returns the number of ingested reports.
func (r *Registry) Reports() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports
}
