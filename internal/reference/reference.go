package reference

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/PentesterFlow/ReconMapper/internal/explorer"
)

// Title is the reference document title.
const Title = "API Reference"

// Reference is the rendered registry.
type Reference struct {
	Title         string            `json:"title"`
	GeneratedAt   string            `json:"generated_at"`
	Summary       Summary           `json:"summary"`
	Endpoints     Endpoints         `json:"endpoints"`
	Forms         []explorer.Form   `json:"forms"`
	Buttons       []explorer.Button `json:"buttons"`
	CommonHeaders CommonHeaders     `json:"common_headers"`
}

// Summary holds headline counts.
type Summary struct {
	TotalEndpoints int `json:"total_endpoints"`
	TotalForms     int `json:"total_forms"`
	TotalButtons   int `json:"total_buttons"`
}

// Endpoint is one rendered registry entry.
type Endpoint struct {
	Key             string   `json:"-"`
	Description     string   `json:"description"`
	Methods         []string `json:"methods"`
	StatusCodes     []int    `json:"status_codes"`
	RequestHeaders  Ranking  `json:"request_headers"`
	ResponseHeaders Ranking  `json:"response_headers"`
	Samples         []Sample `json:"samples"`
}

// Sample is one captured exchange for an endpoint.
type Sample struct {
	Method       string  `json:"method"`
	Status       *int    `json:"status"`
	RequestBody  *string `json:"request_body"`
	ResponseBody *string `json:"response_body"`
}

// HeaderCount is a header name and how often it was observed.
type HeaderCount struct {
	Name  string
	Count int
}

// Ranking is a ranked header list. It marshals as an object whose keys
// keep the ranking order.
type Ranking []HeaderCount

// MarshalJSON implements json.Marshaler.
func (r Ranking) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, h := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, h.Name); err != nil {
			return nil, err
		}
		buf.WriteString(strconv.Itoa(h.Count))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Names returns the ranked header names.
func (r Ranking) Names() []string {
	names := make([]string, len(r))
	for i, h := range r {
		names[i] = h.Name
	}
	return names
}

// CommonHeaders is the global header ranking. Each name maps to "common".
type CommonHeaders []string

// MarshalJSON implements json.Marshaler.
func (c CommonHeaders) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, name); err != nil {
			return nil, err
		}
		buf.WriteString(`"common"`)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Endpoints marshals as an object keyed by endpoint, in registry order.
type Endpoints []Endpoint

// MarshalJSON implements json.Marshaler.
func (e Endpoints) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ep := range e {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, ep.Key); err != nil {
			return nil, err
		}
		type alias Endpoint
		body, err := json.Marshal(alias(ep))
		if err != nil {
			return nil, err
		}
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	return nil
}

// Generate renders the registry. Methods and status codes are sorted and
// default to GET and 200 when nothing was observed.
func (r *Registry) Generate() *Reference {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := &Reference{
		Title:       Title,
		GeneratedAt: r.now().UTC().Format(time.RFC3339),
		Summary: Summary{
			TotalEndpoints: len(r.order),
			TotalForms:     len(r.forms),
			TotalButtons:   len(r.buttons),
		},
		Endpoints:     make(Endpoints, 0, len(r.order)),
		Forms:         append([]explorer.Form{}, r.forms...),
		Buttons:       append([]explorer.Button{}, r.buttons...),
		CommonHeaders: r.commonHeaders(),
	}

	for _, key := range r.order {
		ep := r.endpoints[key]
		ref.Endpoints = append(ref.Endpoints, Endpoint{
			Key:             key,
			Description:     ep.description,
			Methods:         sortedMethods(ep.methods),
			StatusCodes:     sortedStatuses(ep.statusCodes),
			RequestHeaders:  ep.requestHeaders.top(r.config.TopHeaders),
			ResponseHeaders: ep.responseHeaders.top(r.config.TopHeaders),
			Samples:         append([]Sample{}, ep.samples...),
		})
	}
	return ref
}

// commonHeaders sums request header counts over all endpoints.
// Callers hold r.mu.
func (r *Registry) commonHeaders() CommonHeaders {
	all := newCounter()
	for _, key := range r.order {
		c := r.endpoints[key].requestHeaders
		for _, name := range c.order {
			all.add(name, c.counts[name])
		}
	}
	return CommonHeaders(all.top(r.config.TopHeaders).Names())
}

func sortedMethods(set map[string]struct{}) []string {
	if len(set) == 0 {
		return []string{"GET"}
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func sortedStatuses(set map[int]struct{}) []int {
	if len(set) == 0 {
		return []int{200}
	}
	out := make([]int, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}
