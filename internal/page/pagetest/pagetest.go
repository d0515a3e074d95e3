// Package pagetest provides a scriptable in-memory page.Page for tests.
package pagetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ysmood/gson"

	"github.com/PentesterFlow/ReconMapper/internal/page"
)

// Page serves documents from Sites and answers Eval through EvalFunc.
// DOM queries run against the parsed markup with goquery.
type Page struct {
	*page.Static

	// Sites maps URL to markup. Missing URLs fail to navigate.
	Sites map[string]string
	// NavErrors forces navigation failures for specific URLs.
	NavErrors map[string]error
	// SelectorErrors forces Elements/Element failures for exact selectors.
	SelectorErrors map[string]error
	// EvalFunc answers Eval. Nil means scripts are unsupported.
	EvalFunc func(js string, args ...interface{}) (interface{}, error)
	// HTMLError forces HTML() to fail.
	HTMLError error

	mu          sync.Mutex
	navigations []string
	evals       []string
}

// New creates a page serving sites.
func New(sites map[string]string) *Page {
	p := &Page{Sites: sites}
	p.Static = page.NewStatic(p)
	return p
}

// Fetch implements page.Fetcher from Sites.
func (p *Page) Fetch(ctx context.Context, url string) (string, string, error) {
	if err, ok := p.NavErrors[url]; ok {
		return "", "", err
	}
	markup, ok := p.Sites[url]
	if !ok {
		return "", "", fmt.Errorf("navigate %s: net::ERR_NAME_NOT_RESOLVED", url)
	}
	return url, markup, nil
}

// Navigate records the visit and loads the document.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.navigations = append(p.navigations, url)
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Static.Navigate(ctx, url)
}

// Eval records js and delegates to EvalFunc.
func (p *Page) Eval(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	p.mu.Lock()
	p.evals = append(p.evals, js)
	p.mu.Unlock()

	if p.EvalFunc == nil {
		return gson.JSON{}, page.ErrEvalUnsupported
	}
	v, err := p.EvalFunc(js, args...)
	if err != nil {
		return gson.JSON{}, err
	}
	return gson.New(v), nil
}

func (p *Page) Element(ctx context.Context, selector string) (page.Element, error) {
	if err, ok := p.SelectorErrors[selector]; ok {
		return nil, err
	}
	return p.Static.Element(ctx, selector)
}

func (p *Page) Elements(ctx context.Context, selector string) ([]page.Element, error) {
	if err, ok := p.SelectorErrors[selector]; ok {
		return nil, err
	}
	return p.Static.Elements(ctx, selector)
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	if p.HTMLError != nil {
		return "", p.HTMLError
	}
	return p.Static.HTML(ctx)
}

// Navigations returns the URLs passed to Navigate, in order.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Evals returns the scripts passed to Eval, in order.
func (p *Page) Evals() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.evals...)
}

// Factory hands out pages built by NewFunc.
type Factory struct {
	NewFunc func() *Page

	mu     sync.Mutex
	opened []*Page
	closed bool
}

func (f *Factory) NewPage(ctx context.Context) (page.Page, error) {
	p := f.NewFunc()
	f.mu.Lock()
	f.opened = append(f.opened, p)
	f.mu.Unlock()
	return p, nil
}

func (f *Factory) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Opened returns the pages created so far.
func (f *Factory) Opened() []*Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Page(nil), f.opened...)
}

// Closed reports whether Close was called.
func (f *Factory) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var (
	_ page.Page    = (*Page)(nil)
	_ page.Factory = (*Factory)(nil)
)
