// Package interceptortest simulates the in-page side of the network
// interceptor so tests can drive it without a browser.
package interceptortest

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/ReconMapper/internal/interceptor"
)

// Window mimics the window object of one document. Plug Eval into
// pagetest.Page.EvalFunc.
type Window struct {
	// InstallErr makes installation fail.
	InstallErr error
	// Other answers scripts that are not interceptor scripts.
	Other func(js string, args ...interface{}) (interface{}, error)

	mu      sync.Mutex
	states  map[string]*state
	current string
}

type state struct {
	seq     int
	pending int
	events  []map[string]interface{}
}

// NewWindow creates an empty document.
func NewWindow() *Window {
	return &Window{states: make(map[string]*state)}
}

// Eval implements pagetest.Page.EvalFunc.
func (w *Window) Eval(js string, args ...interface{}) (interface{}, error) {
	switch js {
	case interceptor.InstallScript:
		if w.InstallErr != nil {
			return nil, w.InstallErr
		}
		key := fmt.Sprint(args[0])
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, ok := w.states[key]; ok {
			return false, nil
		}
		base, _ := args[1].(int)
		w.states[key] = &state{seq: base}
		w.current = key
		return true, nil
	case interceptor.DrainScript:
		key := fmt.Sprint(args[0])
		w.mu.Lock()
		defer w.mu.Unlock()
		st, ok := w.states[key]
		if !ok {
			return nil, nil
		}
		events := st.events
		st.events = nil
		if events == nil {
			events = []map[string]interface{}{}
		}
		return map[string]interface{}{"pending": st.pending, "events": events}, nil
	}
	if w.Other != nil {
		return w.Other(js, args...)
	}
	return nil, fmt.Errorf("unexpected script: %.40s", js)
}

// Installed reports whether any interceptor state exists.
func (w *Window) Installed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current != ""
}

// Navigate drops all in-page state, as a real navigation would.
func (w *Window) Navigate() {
	w.mu.Lock()
	w.states = make(map[string]*state)
	w.current = ""
	w.mu.Unlock()
}

// Request issues a call from page script and returns its seq, or -1 when no
// interceptor is installed.
func (w *Window) Request(method, url string, headers map[string]string, body *string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.states[w.current]
	if !ok {
		return -1
	}
	seq := st.seq
	st.seq++
	st.pending++
	if headers == nil {
		headers = map[string]string{}
	}
	var reqBody interface{}
	if body != nil {
		reqBody = *body
	}
	st.events = append(st.events, map[string]interface{}{
		"kind":           "request",
		"seq":            seq,
		"method":         strings.ToUpper(method),
		"url":            url,
		"requestHeaders": headers,
		"requestBody":    reqBody,
		"timestamp":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	return seq
}

// Respond completes seq successfully.
func (w *Window) Respond(seq, status int, statusText string, headers map[string]string, body string) {
	if headers == nil {
		headers = map[string]string{}
	}
	w.complete(seq, map[string]interface{}{
		"kind":            "response",
		"status":          status,
		"statusText":      statusText,
		"responseHeaders": headers,
		"responseBody":    body,
	})
}

// Fail completes seq with a transport error.
func (w *Window) Fail(seq int, msg string) {
	w.complete(seq, map[string]interface{}{"kind": "error", "error": msg})
}

func (w *Window) complete(seq int, ev map[string]interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.states[w.current]
	if !ok {
		return
	}
	if st.pending > 0 {
		st.pending--
	}
	ev["seq"] = seq
	ev["completedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	st.events = append(st.events, ev)
}

// Exchange issues and completes a call in one step.
func (w *Window) Exchange(method, url string, reqHeaders map[string]string, body *string, status int, respHeaders map[string]string, respBody string) int {
	seq := w.Request(method, url, reqHeaders, body)
	if seq >= 0 {
		w.Respond(seq, status, "", respHeaders, respBody)
	}
	return seq
}
