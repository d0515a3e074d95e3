package explorer

import (
	"encoding/json"

	"github.com/PentesterFlow/ReconMapper/internal/interceptor"
)

// Report is everything captured during one page visit.
type Report struct {
	Timestamp       string              `json:"timestamp"`
	General         GeneralInfo         `json:"general"`
	RequestHeaders  interceptor.Headers `json:"request_headers"`
	ResponseHeaders interceptor.Headers `json:"response_headers"`
	NetworkLog      []interceptor.Entry `json:"network_log"`
	Forms           []Form              `json:"forms"`
	Buttons         []Button            `json:"buttons"`
	Tables          []Table             `json:"tables"`
	APIPatterns     []APIPattern        `json:"api_patterns"`
}

// Viewport is the layout viewport size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// GeneralInfo describes the loaded document. When Error is set, only the
// error is serialized.
type GeneralInfo struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Timestamp string    `json:"timestamp"`
	Viewport  *Viewport `json:"viewport"`
	UserAgent string    `json:"ua"`
	Language  string    `json:"language"`
	Error     string    `json:"error,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (g GeneralInfo) MarshalJSON() ([]byte, error) {
	if g.Error != "" {
		return json.Marshal(map[string]string{"error": g.Error})
	}
	type alias GeneralInfo
	return json.Marshal(alias(g))
}

// Form is one <form> and its controls.
type Form struct {
	ID      string  `json:"id"`
	Action  string  `json:"action"`
	Method  string  `json:"method"`
	Enctype string  `json:"enctype"`
	Fields  []Field `json:"fields"`
}

// Field is one input, textarea or select.
type Field struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Value       string `json:"value"`
	Required    bool   `json:"required"`
	Placeholder string `json:"placeholder"`
}

// Button is a clickable control. Identity is (Text, Href).
type Button struct {
	Text    string `json:"text"`
	Href    string `json:"href"`
	OnClick string `json:"onclick"`
	Class   string `json:"class"`
	Tag     string `json:"tag"`
}

// Table kinds.
const (
	KindTable    = "table"
	KindARIAGrid = "aria_grid"
)

// Table is the shape of one tabular structure: headers, row count and the
// first data row.
type Table struct {
	ID        string   `json:"id"`
	Headers   []string `json:"headers"`
	SampleRow []string `json:"sample_row"`
	RowCount  int      `json:"row_count"`
	Kind      string   `json:"kind,omitempty"`
}

// API pattern provenance.
const (
	PatternNetwork = "network_capture"
	PatternHTML    = "html_pattern"
)

// APIPattern is a literal API URL seen in traffic or markup.
type APIPattern struct {
	Method   string `json:"method,omitempty"`
	Endpoint string `json:"endpoint"`
	Status   *int   `json:"status,omitempty"`
	Type     string `json:"type"`
}

// SampleRow is one <tr> as scraped by Scrape.
type SampleRow struct {
	Cells []string `json:"cells"`
	Name  string   `json:"name"`
	Href  *string  `json:"href"`
}

// LoadFailed is the error recorded for pages that could not be visited.
const LoadFailed = "failed to load or scrape"

// PageResult is the scrape of one URL plus its exploration report. Failed
// visits carry only URL and Error.
type PageResult struct {
	URL        string      `json:"url"`
	Title      string      `json:"title"`
	ListItems  []string    `json:"list_items"`
	APIURLs    []string    `json:"api_urls"`
	SampleRows []SampleRow `json:"sample_rows"`
	Report     *Report     `json:"exploration_report,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r PageResult) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(struct {
			URL   string `json:"url"`
			Error string `json:"error"`
		}{r.URL, r.Error})
	}
	type alias PageResult
	a := alias(r)
	if a.ListItems == nil {
		a.ListItems = []string{}
	}
	if a.APIURLs == nil {
		a.APIURLs = []string{}
	}
	if a.SampleRows == nil {
		a.SampleRows = []SampleRow{}
	}
	return json.Marshal(a)
}

// Failed reports whether the visit failed.
func (r PageResult) Failed() bool {
	return r.Error != ""
}

// CaptureSet is the file exchanged between exploration and reference
// generation.
type CaptureSet struct {
	StartURL string       `json:"start_url"`
	RunID    string       `json:"run_id,omitempty"`
	Results  []PageResult `json:"results"`
}
