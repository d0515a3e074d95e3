// Package progress displays exploration progress and the final run summary.
package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/PentesterFlow/ReconMapper/internal/metrics"
)

// Display manages the progress bar shown while pages are explored.
// A nil *Display or one created with a nil writer shows nothing.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	bar     *progressbar.ProgressBar
	started bool
	stopped bool

	explored atomic.Int64
	failed   atomic.Int64

	startTime time.Time
	target    string
}

// New creates a display writing to out, usually os.Stderr.
func New(out io.Writer) *Display {
	return &Display{out: out}
}

// Start begins the display for total pages of target.
func (d *Display) Start(target string, total int) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}
	d.started = true
	d.startTime = time.Now()
	d.target = target

	if d.out == nil {
		return
	}
	d.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(d.out),
		progressbar.OptionSetDescription("exploring"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Advance records one finished page.
func (d *Display) Advance(url string, failed bool) {
	if d == nil {
		return
	}
	d.explored.Add(1)
	if failed {
		d.failed.Add(1)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bar == nil || d.stopped {
		return
	}
	d.bar.Describe(truncateURL(url, 40))
	_ = d.bar.Add(1)
}

// Stop ends the display.
func (d *Display) Stop() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}
	d.stopped = true
	if d.bar != nil {
		_ = d.bar.Finish()
		fmt.Fprintln(d.out)
	}
}

// Stats returns explored and failed page counts.
func (d *Display) Stats() (explored, failed int64) {
	if d == nil {
		return 0, 0
	}
	return d.explored.Load(), d.failed.Load()
}

// PrintSummary writes the end-of-run summary to w.
func (d *Display) PrintSummary(w io.Writer, snap *metrics.Snapshot) {
	if d == nil || w == nil {
		return
	}
	duration := time.Since(d.startTime)
	if d.startTime.IsZero() && snap != nil {
		duration = snap.Uptime
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run complete")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Target:              %s\n", truncateURL(d.target, 50))
	fmt.Fprintf(w, "  Duration:            %s\n", formatDuration(duration))
	if snap != nil {
		fmt.Fprintf(w, "  Pages Visited:       %d\n", snap.PagesVisited)
		fmt.Fprintf(w, "  Navigation Failures: %d\n", snap.NavigationFailures)
		fmt.Fprintf(w, "  Pages Explored:      %d\n", snap.PagesExplored)
		fmt.Fprintf(w, "  Network Entries:     %d\n", snap.NetworkEntries)
		fmt.Fprintf(w, "  Forms Found:         %d\n", snap.FormsFound)
		fmt.Fprintf(w, "  API Patterns:        %d\n", snap.APIPatterns)
		fmt.Fprintf(w, "  Endpoints:           %d\n", snap.Endpoints)
	}
	fmt.Fprintln(w)

	if duration.Seconds() > 0 {
		fmt.Fprintf(w, "  Average Speed:       %.1f pages/sec\n\n", float64(d.explored.Load())/duration.Seconds())
	}
}

// truncateURL truncates a URL to maxLen characters.
func truncateURL(url string, maxLen int) string {
	if len(url) <= maxLen {
		return url
	}
	return url[:maxLen-3] + "..."
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
