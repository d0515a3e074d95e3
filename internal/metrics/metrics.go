// Package metrics collects run counters for crawling, exploration and
// aggregation.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector collects and aggregates metrics. All methods are safe for
// concurrent use; a nil *Collector discards everything.
type Collector struct {
	// Crawl
	pagesDiscovered    atomic.Int64
	pagesVisited       atomic.Int64
	navigationFailures atomic.Int64
	linksSeen          atomic.Int64

	// Exploration
	pagesExplored   atomic.Int64
	captureFailures atomic.Int64
	networkEntries  atomic.Int64
	formsFound      atomic.Int64
	buttonsFound    atomic.Int64
	tablesFound     atomic.Int64
	apiPatterns     atomic.Int64

	// Aggregation
	reportsIngested atomic.Int64
	endpoints       atomic.Int64

	// Gauges
	queueDepth    atomic.Int64
	activeWorkers atomic.Int64

	// Navigation time
	navTimeSum atomic.Int64
	navTimeNum atomic.Int64
	// <250, <500, <1000, <2500, <5000, <10000, <30000, >=30000 ms
	navTimeBuckets [8]atomic.Int64

	errorMu     sync.RWMutex
	errorCounts map[string]*atomic.Int64

	statusMu    sync.RWMutex
	statusCodes map[int]*atomic.Int64

	startTime time.Time
}

// New creates a new metrics collector.
func New() *Collector {
	return &Collector{
		errorCounts: make(map[string]*atomic.Int64),
		statusCodes: make(map[int]*atomic.Int64),
		startTime:   time.Now(),
	}
}

// RecordPageDiscovered counts a URL added to the frontier.
func (c *Collector) RecordPageDiscovered() {
	if c == nil {
		return
	}
	c.pagesDiscovered.Add(1)
}

// RecordPageVisited counts a successful navigation and its duration.
func (c *Collector) RecordPageVisited(d time.Duration) {
	if c == nil {
		return
	}
	c.pagesVisited.Add(1)
	ms := d.Milliseconds()
	c.navTimeSum.Add(ms)
	c.navTimeNum.Add(1)
	c.navTimeBuckets[bucket(ms)].Add(1)
}

func bucket(ms int64) int {
	switch {
	case ms < 250:
		return 0
	case ms < 500:
		return 1
	case ms < 1000:
		return 2
	case ms < 2500:
		return 3
	case ms < 5000:
		return 4
	case ms < 10000:
		return 5
	case ms < 30000:
		return 6
	default:
		return 7
	}
}

// RecordNavigationFailure counts a page that could not be loaded.
func (c *Collector) RecordNavigationFailure() {
	if c == nil {
		return
	}
	c.navigationFailures.Add(1)
}

// RecordLinks counts hyperlinks read from a page.
func (c *Collector) RecordLinks(n int) {
	if c == nil {
		return
	}
	c.linksSeen.Add(int64(n))
}

// RecordError counts an error by kind.
func (c *Collector) RecordError(kind string) {
	if c == nil {
		return
	}
	c.errorMu.Lock()
	if c.errorCounts[kind] == nil {
		c.errorCounts[kind] = &atomic.Int64{}
	}
	c.errorCounts[kind].Add(1)
	c.errorMu.Unlock()
}

// RecordCaptureFailure counts a degraded sub-capture.
func (c *Collector) RecordCaptureFailure() {
	if c == nil {
		return
	}
	c.captureFailures.Add(1)
}

// ExplorationCounts are the per-page figures fed to RecordExploration.
type ExplorationCounts struct {
	NetworkEntries int
	Forms          int
	Buttons        int
	Tables         int
	APIPatterns    int
	StatusCodes    []int
}

// RecordExploration counts one exploration report.
func (c *Collector) RecordExploration(ec ExplorationCounts) {
	if c == nil {
		return
	}
	c.pagesExplored.Add(1)
	c.networkEntries.Add(int64(ec.NetworkEntries))
	c.formsFound.Add(int64(ec.Forms))
	c.buttonsFound.Add(int64(ec.Buttons))
	c.tablesFound.Add(int64(ec.Tables))
	c.apiPatterns.Add(int64(ec.APIPatterns))
	for _, code := range ec.StatusCodes {
		c.RecordStatusCode(code)
	}
}

// RecordStatusCode records a status code seen in captured traffic.
func (c *Collector) RecordStatusCode(code int) {
	if c == nil {
		return
	}
	c.statusMu.Lock()
	if c.statusCodes[code] == nil {
		c.statusCodes[code] = &atomic.Int64{}
	}
	c.statusCodes[code].Add(1)
	c.statusMu.Unlock()
}

// RecordIngest counts an ingested report and sets the endpoint total.
func (c *Collector) RecordIngest(endpoints int) {
	if c == nil {
		return
	}
	c.reportsIngested.Add(1)
	c.endpoints.Store(int64(endpoints))
}

// SetQueueDepth sets the current frontier size.
func (c *Collector) SetQueueDepth(depth int) {
	if c == nil {
		return
	}
	c.queueDepth.Store(int64(depth))
}

// WorkerStarted and WorkerDone track active exploration workers.
func (c *Collector) WorkerStarted() {
	if c == nil {
		return
	}
	c.activeWorkers.Add(1)
}

func (c *Collector) WorkerDone() {
	if c == nil {
		return
	}
	c.activeWorkers.Add(-1)
}

// AverageNavigationTime returns the mean successful navigation time.
func (c *Collector) AverageNavigationTime() time.Duration {
	sum := c.navTimeSum.Load()
	num := c.navTimeNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:          time.Now(),
		Uptime:             time.Since(c.startTime),
		PagesDiscovered:    c.pagesDiscovered.Load(),
		PagesVisited:       c.pagesVisited.Load(),
		NavigationFailures: c.navigationFailures.Load(),
		LinksSeen:          c.linksSeen.Load(),
		PagesExplored:      c.pagesExplored.Load(),
		CaptureFailures:    c.captureFailures.Load(),
		NetworkEntries:     c.networkEntries.Load(),
		FormsFound:         c.formsFound.Load(),
		ButtonsFound:       c.buttonsFound.Load(),
		TablesFound:        c.tablesFound.Load(),
		APIPatterns:        c.apiPatterns.Load(),
		ReportsIngested:    c.reportsIngested.Load(),
		Endpoints:          c.endpoints.Load(),
		QueueDepth:         c.queueDepth.Load(),
		ActiveWorkers:      c.activeWorkers.Load(),
		AverageNavTime:     c.AverageNavigationTime(),
		ErrorCounts:        make(map[string]int64),
		StatusCodes:        make(map[int]int64),
		NavTimeHist:        make([]int64, len(c.navTimeBuckets)),
	}

	c.errorMu.RLock()
	for k, v := range c.errorCounts {
		s.ErrorCounts[k] = v.Load()
	}
	c.errorMu.RUnlock()

	c.statusMu.RLock()
	for k, v := range c.statusCodes {
		s.StatusCodes[k] = v.Load()
	}
	c.statusMu.RUnlock()

	for i := range c.navTimeBuckets {
		s.NavTimeHist[i] = c.navTimeBuckets[i].Load()
	}
	return s
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp          time.Time        `json:"timestamp"`
	Uptime             time.Duration    `json:"uptime"`
	PagesDiscovered    int64            `json:"pages_discovered"`
	PagesVisited       int64            `json:"pages_visited"`
	NavigationFailures int64            `json:"navigation_failures"`
	LinksSeen          int64            `json:"links_seen"`
	PagesExplored      int64            `json:"pages_explored"`
	CaptureFailures    int64            `json:"capture_failures"`
	NetworkEntries     int64            `json:"network_entries"`
	FormsFound         int64            `json:"forms_found"`
	ButtonsFound       int64            `json:"buttons_found"`
	TablesFound        int64            `json:"tables_found"`
	APIPatterns        int64            `json:"api_patterns"`
	ReportsIngested    int64            `json:"reports_ingested"`
	Endpoints          int64            `json:"endpoints"`
	QueueDepth         int64            `json:"queue_depth"`
	ActiveWorkers      int64            `json:"active_workers"`
	AverageNavTime     time.Duration    `json:"average_nav_time"`
	ErrorCounts        map[string]int64 `json:"error_counts"`
	StatusCodes        map[int]int64    `json:"status_codes"`
	NavTimeHist        []int64          `json:"nav_time_histogram"`
}

// FailureRate returns navigation failures over attempted navigations.
func (s *Snapshot) FailureRate() float64 {
	attempts := s.PagesVisited + s.NavigationFailures
	if attempts == 0 {
		return 0
	}
	return float64(s.NavigationFailures) / float64(attempts)
}

// Summary returns the headline figures for logging.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":              s.Uptime.Round(time.Millisecond).String(),
		"pages_visited":       s.PagesVisited,
		"navigation_failures": s.NavigationFailures,
		"failure_rate":        s.FailureRate(),
		"pages_explored":      s.PagesExplored,
		"network_entries":     s.NetworkEntries,
		"forms_found":         s.FormsFound,
		"api_patterns":        s.APIPatterns,
		"endpoints":           s.Endpoints,
		"avg_nav_time_ms":     s.AverageNavTime.Milliseconds(),
	}
}
