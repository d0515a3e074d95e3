package output

import (
	"time"

	"github.com/PentesterFlow/ReconMapper/internal/metrics"
)

// SummaryReport contains a summary of one run.
type SummaryReport struct {
	Target      string        `json:"target"`
	RunID       string        `json:"run_id,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Statistics  Statistics    `json:"statistics"`
	Artifacts   []string      `json:"artifacts,omitempty"`
}

// Statistics contains run statistics.
type Statistics struct {
	DiscoveredPages    int64   `json:"discovered_pages"`
	VisitedPages       int64   `json:"visited_pages"`
	NavigationFailures int64   `json:"navigation_failures"`
	ExploredPages      int64   `json:"explored_pages"`
	CaptureFailures    int64   `json:"capture_failures"`
	NetworkEntries     int64   `json:"network_entries"`
	Forms              int64   `json:"forms"`
	Buttons            int64   `json:"buttons"`
	Tables             int64   `json:"tables"`
	APIPatterns        int64   `json:"api_patterns"`
	Endpoints          int64   `json:"endpoints"`
	FailureRate        float64 `json:"failure_rate"`
}

// StatisticsFrom copies the headline counters of snap.
func StatisticsFrom(snap *metrics.Snapshot) Statistics {
	if snap == nil {
		return Statistics{}
	}
	return Statistics{
		DiscoveredPages:    snap.PagesDiscovered,
		VisitedPages:       snap.PagesVisited,
		NavigationFailures: snap.NavigationFailures,
		ExploredPages:      snap.PagesExplored,
		CaptureFailures:    snap.CaptureFailures,
		NetworkEntries:     snap.NetworkEntries,
		Forms:              snap.FormsFound,
		Buttons:            snap.ButtonsFound,
		Tables:             snap.TablesFound,
		APIPatterns:        snap.APIPatterns,
		Endpoints:          snap.Endpoints,
		FailureRate:        snap.FailureRate(),
	}
}
