package output

import (
	"time"
)

// CrawlResult is the output of the crawl command.
type CrawlResult struct {
	StartURL   string   `json:"start_url"`
	Discovered []string `json:"discovered"`
}

// CrawlError represents an error encountered during a run.
type CrawlError struct {
	URL       string    `json:"url"`
	Kind      string    `json:"kind"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}
