package discovery

import (
	"time"

	"github.com/PentesterFlow/ReconMapper/internal/logger"
	"github.com/PentesterFlow/ReconMapper/internal/metrics"
	"github.com/PentesterFlow/ReconMapper/internal/ratelimit"
	"github.com/PentesterFlow/ReconMapper/internal/scope"
)

// Option is a functional option for configuring the Crawler.
type Option func(*Crawler)

// WithRules adds include/exclude filters on top of the host boundary.
func WithRules(rules scope.Rules) Option {
	return func(c *Crawler) {
		c.rules = rules
	}
}

// WithNavTimeout sets the per-page navigation timeout.
func WithNavTimeout(timeout time.Duration) Option {
	return func(c *Crawler) {
		if timeout > 0 {
			c.navTimeout = timeout
		}
	}
}

// WithLimiter paces navigations.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Crawler) {
		c.limiter = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Crawler) {
		c.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Crawler) {
		if l != nil {
			c.log = l
		}
	}
}

// WithOnVisit registers a callback invoked after each loaded page.
func WithOnVisit(fn func(url string, depth int)) Option {
	return func(c *Crawler) {
		c.onVisit = fn
	}
}
