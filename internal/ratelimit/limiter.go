// Package ratelimit paces navigations so a crawl stays polite to the target.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines pacing. A zero RequestsPerSecond disables the token bucket.
type Config struct {
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `json:"burst" yaml:"burst"`
	HostDelay         time.Duration `json:"host_delay" yaml:"host_delay"`

	// MinRequestsPerSecond enables adaptive pacing: the rate drifts between
	// this floor and RequestsPerSecond depending on navigation failures.
	MinRequestsPerSecond float64 `json:"min_requests_per_second" yaml:"min_requests_per_second"`
}

const adaptWindow = 20

// Limiter combines a global token bucket with a minimum delay between
// navigations to the same host. A nil *Limiter never waits.
type Limiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	hostDelay   time.Duration
	lastRequest map[string]time.Time

	minRate     float64
	maxRate     float64
	currentRate float64
	burst       int
	successes   int
	failures    int
}

// NewLimiter creates a limiter allowing requestsPerSecond with burst.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	return New(Config{RequestsPerSecond: requestsPerSecond, Burst: burst})
}

// New creates a limiter from cfg.
func New(cfg Config) *Limiter {
	l := &Limiter{
		hostDelay:   cfg.HostDelay,
		lastRequest: make(map[string]time.Time),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
		l.burst = burst
		if cfg.MinRequestsPerSecond > 0 && cfg.MinRequestsPerSecond < cfg.RequestsPerSecond {
			l.minRate = cfg.MinRequestsPerSecond
			l.maxRate = cfg.RequestsPerSecond
			l.currentRate = cfg.RequestsPerSecond
		}
	}
	return l
}

// Wait blocks until a navigation is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return ctx.Err()
	}
	return l.limiter.Wait(ctx)
}

// WaitHost applies Wait and then the per-host delay.
func (l *Limiter) WaitHost(ctx context.Context, host string) error {
	if err := l.Wait(ctx); err != nil {
		return err
	}
	if l == nil || l.hostDelay <= 0 {
		return nil
	}

	l.mu.Lock()
	var wait time.Duration
	if last, ok := l.lastRequest[host]; ok {
		if elapsed := time.Since(last); elapsed < l.hostDelay {
			wait = l.hostDelay - elapsed
		}
	}
	// Reserve the slot before sleeping so concurrent callers queue up.
	l.lastRequest[host] = time.Now().Add(wait)
	l.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Allow reports whether a navigation may start now without waiting.
func (l *Limiter) Allow() bool {
	if l == nil || l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}

// SetRate updates the token bucket.
func (l *Limiter) SetRate(requestsPerSecond float64, burst int) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if burst < 1 {
		burst = 1
	}
	if l.limiter == nil {
		l.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
		return
	}
	l.limiter.SetLimit(rate.Limit(requestsPerSecond))
	l.limiter.SetBurst(burst)
}

// Stats returns limiter settings.
func (l *Limiter) Stats() LimiterStats {
	if l == nil {
		return LimiterStats{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s := LimiterStats{HostDelay: l.hostDelay, Hosts: len(l.lastRequest)}
	if l.limiter != nil {
		s.Rate = float64(l.limiter.Limit())
		s.Burst = l.limiter.Burst()
	}
	return s
}

// LimiterStats contains rate limiter statistics.
type LimiterStats struct {
	Rate      float64       `json:"rate"`
	Burst     int           `json:"burst"`
	HostDelay time.Duration `json:"host_delay"`
	Hosts     int           `json:"hosts"`
}

// Record feeds a navigation outcome to an adaptive limiter. Once
// adaptWindow outcomes are in, a failure rate above 10% cuts the rate by a
// fifth (not below MinRequestsPerSecond) and one under 1% raises it by a
// tenth (not above RequestsPerSecond).
func (l *Limiter) Record(success bool) {
	if l == nil || l.minRate <= 0 {
		return
	}
	l.mu.Lock()
	if success {
		l.successes++
	} else {
		l.failures++
	}
	total := l.successes + l.failures
	if total < adaptWindow {
		l.mu.Unlock()
		return
	}
	failureRate := float64(l.failures) / float64(total)
	l.successes, l.failures = 0, 0
	rate := l.currentRate
	switch {
	case failureRate > 0.1:
		rate *= 0.8
		if rate < l.minRate {
			rate = l.minRate
		}
	case failureRate < 0.01:
		rate *= 1.1
		if rate > l.maxRate {
			rate = l.maxRate
		}
	}
	l.currentRate = rate
	burst := l.burst
	l.mu.Unlock()

	l.SetRate(rate, burst)
}

// CurrentRate returns the rate in effect, 0 when unlimited.
func (l *Limiter) CurrentRate() float64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limiter == nil {
		return 0
	}
	return float64(l.limiter.Limit())
}
