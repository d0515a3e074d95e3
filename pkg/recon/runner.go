// Package recon runs the whole reconnaissance pipeline: crawl the target,
// explore every discovered page with network capture, and aggregate the
// captures into an API reference.
package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PentesterFlow/ReconMapper/internal/browser"
	"github.com/PentesterFlow/ReconMapper/internal/discovery"
	reconerrors "github.com/PentesterFlow/ReconMapper/internal/errors"
	"github.com/PentesterFlow/ReconMapper/internal/explorer"
	rhttp "github.com/PentesterFlow/ReconMapper/internal/http"
	"github.com/PentesterFlow/ReconMapper/internal/logger"
	"github.com/PentesterFlow/ReconMapper/internal/metrics"
	"github.com/PentesterFlow/ReconMapper/internal/output"
	"github.com/PentesterFlow/ReconMapper/internal/page"
	"github.com/PentesterFlow/ReconMapper/internal/progress"
	"github.com/PentesterFlow/ReconMapper/internal/ratelimit"
	"github.com/PentesterFlow/ReconMapper/internal/reference"
	"github.com/PentesterFlow/ReconMapper/internal/shutdown"
	"github.com/PentesterFlow/ReconMapper/internal/state"
)

// Runner orchestrates one run.
type Runner struct {
	config      *Config
	factory     page.Factory
	log         *logger.Logger
	metrics     *metrics.Collector
	progressOut io.Writer
	store       state.Store
	shutdown    *shutdown.Handler
	stream      io.Writer
	display     *progress.Display
	runID       string
	now         func() time.Time

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Result is the outcome of Run.
type Result struct {
	RunID      string                `json:"run_id"`
	Discovered []string              `json:"discovered"`
	Captures   *explorer.CaptureSet  `json:"-"`
	Reference  *reference.Reference  `json:"-"`
	Summary    *output.SummaryReport `json:"summary"`
}

// New creates a runner. config is copied; nil means DefaultConfig.
func New(config *Config, opts ...Option) (*Runner, error) {
	if config == nil {
		config = DefaultConfig()
	} else {
		config = config.Clone()
	}

	r := &Runner{
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := r.config.Validate(); err != nil {
		return nil, err
	}

	if r.log == nil {
		r.log = logger.Nop()
	}
	r.log = r.log.WithComponent("recon")
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	if r.factory != nil {
		r.registerFactory()
	}
	return r, nil
}

// Config returns a copy of the runner configuration.
func (r *Runner) Config() *Config {
	return r.config.Clone()
}

// RunID returns the id attached to captures and stored results.
func (r *Runner) RunID() string {
	return r.runID
}

// Metrics returns the run's collector.
func (r *Runner) Metrics() *metrics.Collector {
	return r.metrics
}

// pageFactory returns the page host, launching it on first use.
func (r *Runner) pageFactory() (page.Factory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.factory != nil {
		return r.factory, nil
	}

	if r.config.Static {
		client := rhttp.New(r.config.httpConfig())
		r.factory = page.StaticFactory{Fetcher: page.HTTPFetcher{Client: client}}
	} else {
		pool, err := browser.NewPool(r.config.browserConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create browser pool: %w", err)
		}
		r.factory = pool
	}
	r.registerFactory()
	return r.factory, nil
}

func (r *Runner) registerFactory() {
	if r.shutdown != nil {
		r.shutdown.Register("page-factory", func(ctx context.Context) error {
			return r.Close()
		})
	}
}

// Crawl discovers same-host pages from the target breadth-first.
func (r *Runner) Crawl(ctx context.Context) ([]string, error) {
	f, err := r.pageFactory()
	if err != nil {
		return nil, err
	}
	p, err := f.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer closePage(p)

	c := discovery.New(p,
		discovery.WithRules(r.config.Scope),
		discovery.WithNavTimeout(r.config.explorerConfig().NavTimeout),
		discovery.WithLimiter(ratelimit.New(r.config.limiterConfig())),
		discovery.WithMetrics(r.metrics),
		discovery.WithLogger(r.log),
	)
	return c.Crawl(ctx, r.config.Target, r.config.MaxDepth, r.config.Limit)
}

// Explore visits each URL with network capture and returns the results in
// URL order. Failed visits are kept as failed results. On cancellation the
// results gathered so far are returned with the context error.
func (r *Runner) Explore(ctx context.Context, urls []string) (*explorer.CaptureSet, error) {
	set := &explorer.CaptureSet{
		StartURL: r.config.Target,
		RunID:    r.runID,
		Results:  []explorer.PageResult{},
	}
	if len(urls) == 0 {
		return set, nil
	}

	if err := ctx.Err(); err != nil {
		return set, err
	}

	f, err := r.pageFactory()
	if err != nil {
		return nil, err
	}

	workers := r.config.Workers
	if workers > len(urls) {
		workers = len(urls)
	}
	pages := make([]page.Page, 0, workers)
	for i := 0; i < workers; i++ {
		p, err := f.NewPage(ctx)
		if err != nil {
			r.log.WithError(err).Warn("failed to open exploration page")
			break
		}
		pages = append(pages, p)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("failed to open any exploration page")
	}
	defer func() {
		for _, p := range pages {
			closePage(p)
		}
	}()

	display := progress.New(r.progressOut)
	display.Start(r.config.Target, len(urls))
	defer display.Stop()
	r.mu.Lock()
	r.display = display
	r.mu.Unlock()

	var stream output.Writer
	if r.stream != nil {
		stream = output.NewWriter(r.stream, output.Config{Format: "jsonl"})
		defer stream.Flush()
	}

	results := make([]explorer.PageResult, len(urls))
	done := make([]bool, len(urls))

	jobs := make(chan int)
	go func() {
		defer close(jobs)
		for i := range urls {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for id, p := range pages {
		wg.Add(1)
		go func(id int, p page.Page) {
			defer wg.Done()
			r.metrics.WorkerStarted()
			defer r.metrics.WorkerDone()

			log := r.log.WithWorker(id)
			ex := explorer.New(r.config.explorerConfig(), log)
			ex.SetMetrics(r.metrics)
			for i := range jobs {
				res := r.explore(ctx, ex, p, urls[i], stream)
				results[i] = res
				done[i] = true
				display.Advance(urls[i], res.Failed())
			}
		}(id, p)
	}
	wg.Wait()

	for i, ok := range done {
		if ok {
			set.Results = append(set.Results, results[i])
		}
	}

	if err := r.persist(set); err != nil {
		return set, err
	}
	return set, ctx.Err()
}

func (r *Runner) explore(ctx context.Context, ex *explorer.Explorer, p page.Page, url string, stream output.Writer) explorer.PageResult {
	res, err := ex.Visit(ctx, p, url)
	if err != nil {
		kind := reconerrors.KindOf(err)
		r.metrics.RecordError(kind.String())
		if stream != nil && kind != reconerrors.Cancelled {
			stream.WriteError(&output.CrawlError{
				URL:       url,
				Kind:      kind.String(),
				Error:     err.Error(),
				Timestamp: r.now(),
			})
		}
		return res
	}

	r.metrics.RecordExploration(countsOf(res.Report))
	if stream != nil {
		stream.WriteResult(&res)
	}
	return res
}

func countsOf(report *explorer.Report) metrics.ExplorationCounts {
	if report == nil {
		return metrics.ExplorationCounts{}
	}
	ec := metrics.ExplorationCounts{
		NetworkEntries: len(report.NetworkLog),
		Forms:          len(report.Forms),
		Buttons:        len(report.Buttons),
		Tables:         len(report.Tables),
		APIPatterns:    len(report.APIPatterns),
	}
	for _, e := range report.NetworkLog {
		if e.Status != nil {
			ec.StatusCodes = append(ec.StatusCodes, *e.Status)
		}
	}
	return ec
}

// persist appends the results of set to the store as one run.
func (r *Runner) persist(set *explorer.CaptureSet) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.BeginRun(state.RunInfo{
		ID:        set.RunID,
		StartURL:  set.StartURL,
		StartedAt: r.now(),
	}); err != nil {
		return reconerrors.NewStoreError("begin_run", err)
	}
	for _, res := range set.Results {
		if err := r.store.Append(set.RunID, res); err != nil {
			return reconerrors.NewStoreError("append", err)
		}
	}
	if err := r.store.FinishRun(set.RunID); err != nil {
		return reconerrors.NewStoreError("finish_run", err)
	}
	return nil
}

// Aggregate builds an endpoint registry from page results.
func (r *Runner) Aggregate(results []explorer.PageResult) *reference.Registry {
	reg := r.newRegistry()
	for _, res := range results {
		reg.IngestResult(res)
	}
	return reg
}

// AggregateStored builds an endpoint registry from a stored run.
func (r *Runner) AggregateStored(runID string) (*reference.Registry, error) {
	if r.store == nil {
		return nil, reconerrors.NewConfigError("store.path", "no capture store configured")
	}
	reg := r.newRegistry()
	err := r.store.Results(runID, func(raw json.RawMessage) error {
		var res explorer.PageResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return err
		}
		reg.IngestResult(res)
		return nil
	})
	if err != nil {
		return nil, reconerrors.NewStoreError("results", err)
	}
	return reg, nil
}

func (r *Runner) newRegistry() *reference.Registry {
	return reference.New(r.config.Reference,
		reference.WithLogger(r.log),
		reference.WithMetrics(r.metrics),
		reference.WithClock(r.now),
	)
}

// Run crawls, explores and aggregates, then writes the configured
// artifacts. A cancelled run still writes what it gathered.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.shutdown != nil {
		var cancel context.CancelFunc
		ctx, cancel = mergeCancel(ctx, r.shutdown.Context())
		defer cancel()
	}

	started := r.now()
	r.log.WithURL(r.config.Target).Info("run started")

	discovered, crawlErr := r.Crawl(ctx)
	if crawlErr != nil && !cancelled(crawlErr) {
		return nil, crawlErr
	}
	if discovered == nil {
		discovered = []string{}
	}

	set, exploreErr := r.Explore(ctx, discovered)
	if set == nil {
		return nil, exploreErr
	}
	if exploreErr != nil && reconerrors.IsFatal(exploreErr) {
		return nil, exploreErr
	}

	reg := r.Aggregate(set.Results)
	ref := reg.Generate()

	res := &Result{
		RunID:      r.runID,
		Discovered: discovered,
		Captures:   set,
		Reference:  ref,
		Summary: &output.SummaryReport{
			Target:    r.config.Target,
			RunID:     r.runID,
			StartedAt: started,
		},
	}

	artifacts, err := r.writeArtifacts(res, reg)
	res.Summary.CompletedAt = r.now()
	res.Summary.Duration = res.Summary.CompletedAt.Sub(started)
	res.Summary.Statistics = output.StatisticsFrom(r.metrics.Snapshot())
	res.Summary.Artifacts = artifacts
	if err != nil {
		return res, err
	}

	if r.config.Output.Summary != "" {
		if err := output.WriteJSONFile(r.config.Output.Summary, res.Summary, true); err != nil {
			return res, err
		}
	}

	r.log.StatsEvent("run finished", map[string]interface{}{
		"discovered": len(discovered),
		"explored":   len(set.Results),
		"endpoints":  reg.Len(),
	})

	if crawlErr != nil {
		return res, crawlErr
	}
	return res, exploreErr
}

// writeArtifacts writes each configured output. With nothing configured
// the capture set goes to stdout.
func (r *Runner) writeArtifacts(res *Result, reg *reference.Registry) ([]string, error) {
	out := r.config.Output
	var artifacts []string

	if out.URLs != "" {
		if err := output.WriteLines(out.URLs, res.Discovered); err != nil {
			return artifacts, err
		}
		artifacts = append(artifacts, out.URLs)
	}

	captures := out.Captures
	if captures == "" && out.Reference == "" && out.Markdown == "" && out.URLs == "" && r.stream == nil {
		captures = "-"
	}
	if captures != "" {
		if err := output.WriteJSONFile(captures, res.Captures, out.Pretty); err != nil {
			return artifacts, err
		}
		artifacts = append(artifacts, captures)
	}

	if out.Reference != "" {
		if err := output.WriteJSONFile(out.Reference, res.Reference, true); err != nil {
			return artifacts, err
		}
		artifacts = append(artifacts, out.Reference)
	}

	if out.Markdown != "" {
		if err := reg.WriteMarkdownFile(out.Markdown); err != nil {
			return artifacts, err
		}
		artifacts = append(artifacts, out.Markdown)
	}
	return artifacts, nil
}

// PrintSummary writes the end-of-run summary to w.
func (r *Runner) PrintSummary(w io.Writer) {
	r.mu.Lock()
	d := r.display
	r.mu.Unlock()
	if d == nil {
		d = progress.New(nil)
		d.Start(r.config.Target, 0)
	}
	d.PrintSummary(w, r.metrics.Snapshot())
}

// Close releases the page host. It is safe to call more than once.
func (r *Runner) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		f := r.factory
		r.mu.Unlock()
		if f != nil {
			r.closeErr = f.Close()
		}
	})
	return r.closeErr
}

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		reconerrors.KindOf(err) == reconerrors.Cancelled
}

func closePage(p page.Page) {
	if c, ok := p.(page.Closer); ok {
		c.Close()
	}
}

// mergeCancel returns a context cancelled when either parent is done.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
