// Package interceptor records the fetch and XMLHttpRequest traffic of a page.
//
// An in-page script wraps both APIs and queues one event per request and
// per completion. Sync moves the queued events into a Buffer owned by Go,
// so the log survives navigations and can be read while calls are still in
// flight.
package interceptor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	rerrors "github.com/PentesterFlow/ReconMapper/internal/errors"
	"github.com/PentesterFlow/ReconMapper/internal/logger"
	"github.com/PentesterFlow/ReconMapper/internal/page"
)

// ErrNotInstalled is returned by Sync when the page carries no interceptor
// state, typically because it navigated since Install.
var ErrNotInstalled = errors.New("interceptor not installed in page")

// Interceptor owns the instrumentation of one page at a time.
type Interceptor struct {
	key string
	buf *Buffer
	log *logger.Logger
}

// New creates an interceptor with a fresh state key.
func New(log *logger.Logger) *Interceptor {
	if log == nil {
		log = logger.Nop()
	}
	return &Interceptor{
		key: "__recon_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		buf: NewBuffer(),
		log: log.WithComponent("interceptor"),
	}
}

// Key returns the window property holding the in-page state.
func (i *Interceptor) Key() string {
	return i.key
}

// Buffer returns the Go-side log.
func (i *Interceptor) Buffer() *Buffer {
	return i.buf
}

// Install injects the wrapper script. Installing twice on the same document
// is a no-op. Failures are logged and returned as instrumentation errors;
// the log then stays empty for this page.
func (i *Interceptor) Install(ctx context.Context, p page.Page) error {
	res, err := p.Eval(ctx, InstallScript, i.key, i.buf.NextSeq())
	if err != nil {
		url, _ := p.URL(ctx)
		i.log.WithURL(url).WithError(err).Warn("network interceptor injection failed")
		return rerrors.NewInstrumentationError(url, "install", err)
	}
	if !res.Bool() {
		i.log.Debug("network interceptor already installed")
	}
	return nil
}

type drainResult struct {
	Pending int     `json:"pending"`
	Events  []event `json:"events"`
}

// Sync moves queued in-page events into the buffer and returns the number of
// calls still in flight.
func (i *Interceptor) Sync(ctx context.Context, p page.Page) (int, error) {
	res, err := p.Eval(ctx, DrainScript, i.key)
	if err != nil {
		return 0, rerrors.NewInstrumentationError("", "sync", err)
	}
	if res.Nil() {
		return 0, ErrNotInstalled
	}

	var out drainResult
	if err := json.Unmarshal([]byte(res.JSON("", "")), &out); err != nil {
		return 0, rerrors.NewInstrumentationError("", "sync", err)
	}
	for _, ev := range out.Events {
		i.buf.apply(ev)
	}
	return out.Pending, nil
}

// Peek returns a copy of the buffered log.
func (i *Interceptor) Peek() []Entry {
	return i.buf.Peek()
}

// Drain returns the buffered log and clears it.
func (i *Interceptor) Drain() []Entry {
	return i.buf.Drain()
}

// Entries syncs the page and returns a copy of the log. A failed sync logs a
// warning and returns what is already buffered.
func (i *Interceptor) Entries(ctx context.Context, p page.Page) []Entry {
	if _, err := i.Sync(ctx, p); err != nil && !errors.Is(err, ErrNotInstalled) {
		i.log.WithError(err).Warn("network log unavailable")
	}
	return i.Peek()
}
