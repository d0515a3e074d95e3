package recon

import (
	"io"
	"time"

	"github.com/PentesterFlow/ReconMapper/internal/logger"
	"github.com/PentesterFlow/ReconMapper/internal/metrics"
	"github.com/PentesterFlow/ReconMapper/internal/page"
	"github.com/PentesterFlow/ReconMapper/internal/shutdown"
	"github.com/PentesterFlow/ReconMapper/internal/state"
)

// Option is a functional option for configuring the Runner.
type Option func(*Runner) error

// WithTarget sets the start URL.
func WithTarget(url string) Option {
	return func(r *Runner) error {
		r.config.Target = url
		return nil
	}
}

// WithMaxDepth sets the maximum crawl depth.
func WithMaxDepth(depth int) Option {
	return func(r *Runner) error {
		if depth < 0 {
			depth = 0
		}
		r.config.MaxDepth = depth
		return nil
	}
}

// WithLimit caps the number of crawled pages.
func WithLimit(limit int) Option {
	return func(r *Runner) error {
		r.config.Limit = limit
		return nil
	}
}

// WithWorkers sets the number of concurrent exploration sessions.
func WithWorkers(n int) Option {
	return func(r *Runner) error {
		if n < 1 {
			n = 1
		}
		r.config.Workers = n
		return nil
	}
}

// WithSettleDelay sets the wait after each navigation.
func WithSettleDelay(d time.Duration) Option {
	return func(r *Runner) error {
		r.config.Explore.SettleDelay = Duration(d)
		return nil
	}
}

// WithPageFactory replaces the page host. The runner closes it.
func WithPageFactory(f page.Factory) Option {
	return func(r *Runner) error {
		r.factory = f
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Runner) error {
		r.log = l
		return nil
	}
}

// WithMetrics sets a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Runner) error {
		r.metrics = m
		return nil
	}
}

// WithProgress shows a progress bar on w while pages are explored.
func WithProgress(w io.Writer) Option {
	return func(r *Runner) error {
		r.progressOut = w
		return nil
	}
}

// WithStore persists every page result. The runner does not close it.
func WithStore(s state.Store) Option {
	return func(r *Runner) error {
		r.store = s
		return nil
	}
}

// WithShutdown registers the runner's resources on h and explores under
// its context.
func WithShutdown(h *shutdown.Handler) Option {
	return func(r *Runner) error {
		r.shutdown = h
		return nil
	}
}

// WithStream writes each page result to w as one JSON line while the run
// is in progress.
func WithStream(w io.Writer) Option {
	return func(r *Runner) error {
		r.stream = w
		return nil
	}
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(r *Runner) error {
		r.runID = id
		return nil
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) error {
		r.now = now
		return nil
	}
}
