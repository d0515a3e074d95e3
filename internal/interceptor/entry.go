package interceptor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Headers maps header names to values. Captures written by other tools
// sometimes carry numbers or arrays as values; those are stringified.
type Headers map[string]string

// UnmarshalJSON accepts any JSON object, converting non-string values.
func (h *Headers) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*h = nil
		return nil
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		// fetch() accepts [[name, value], ...] as well.
		var pairs [][]interface{}
		if perr := json.Unmarshal(data, &pairs); perr != nil {
			return err
		}
		out := make(Headers, len(pairs))
		for _, p := range pairs {
			if len(p) == 2 {
				out[fmt.Sprint(p[0])] = stringify(p[1])
			}
		}
		*h = out
		return nil
	}

	out := make(Headers, len(raw))
	for k, v := range raw {
		out[k] = stringify(v)
	}
	*h = out
	return nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64, bool:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// Entry is one fetch or XHR call observed in the page.
// A completed entry has exactly one of Status or Error set; a pending entry
// has neither.
type Entry struct {
	Seq             int     `json:"seq"`
	Method          string  `json:"method"`
	URL             string  `json:"url"`
	RequestHeaders  Headers `json:"requestHeaders"`
	RequestBody     *string `json:"requestBody"`
	Status          *int    `json:"status,omitempty"`
	StatusText      string  `json:"statusText,omitempty"`
	ResponseHeaders Headers `json:"responseHeaders,omitempty"`
	ResponseBody    string  `json:"responseBody,omitempty"`
	Error           string  `json:"error,omitempty"`
	Timestamp       string  `json:"timestamp"`
	CompletedAt     string  `json:"completedAt,omitempty"`
}

// UnmarshalJSON decodes an entry, stringifying request and response bodies
// that other tools recorded as JSON values instead of text.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type plain Entry
	aux := struct {
		*plain
		RequestBody  json.RawMessage `json:"requestBody"`
		ResponseBody json.RawMessage `json:"responseBody"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	req, err := bodyText(aux.RequestBody)
	if err != nil {
		return err
	}
	e.RequestBody = req
	resp, err := bodyText(aux.ResponseBody)
	if err != nil {
		return err
	}
	e.ResponseBody = ""
	if resp != nil {
		e.ResponseBody = *resp
	}
	return nil
}

// bodyText returns nil for an absent or null body.
func bodyText(raw json.RawMessage) (*string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if s, ok := v.(string); ok {
		return &s, nil
	}
	s := stringify(v)
	return &s, nil
}

// Pending reports whether the call has not finished yet.
func (e Entry) Pending() bool {
	return e.Status == nil && e.Error == ""
}

// Failed reports whether the call ended in a transport error.
func (e Entry) Failed() bool {
	return e.Error != ""
}

// Body returns the request body or "".
func (e Entry) Body() string {
	if e.RequestBody == nil {
		return ""
	}
	return *e.RequestBody
}

func (e Entry) clone() Entry {
	c := e
	c.RequestHeaders = copyHeaders(e.RequestHeaders)
	c.ResponseHeaders = copyHeaders(e.ResponseHeaders)
	if e.RequestBody != nil {
		b := *e.RequestBody
		c.RequestBody = &b
	}
	if e.Status != nil {
		s := *e.Status
		c.Status = &s
	}
	return c
}

func copyHeaders(h Headers) Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// event is one record from the in-page queue.
type event struct {
	Kind string `json:"kind"` // request | response | error
	Seq  int    `json:"seq"`

	Method         string  `json:"method"`
	URL            string  `json:"url"`
	RequestHeaders Headers `json:"requestHeaders"`
	RequestBody    *string `json:"requestBody"`
	Timestamp      string  `json:"timestamp"`

	Status          int     `json:"status"`
	StatusText      string  `json:"statusText"`
	ResponseHeaders Headers `json:"responseHeaders"`
	ResponseBody    *string `json:"responseBody"`
	Error           string  `json:"error"`
	CompletedAt     string  `json:"completedAt"`
}
