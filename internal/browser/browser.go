// Package browser provides headless Chrome integration via Rod.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/PentesterFlow/ReconMapper/internal/page"
)

// Config defines browser configuration.
type Config struct {
	PoolSize          int           `json:"pool_size" yaml:"pool_size"`
	Headless          bool          `json:"headless" yaml:"headless"`
	Timeout           time.Duration `json:"timeout" yaml:"timeout"`
	UserAgent         string        `json:"user_agent" yaml:"user_agent"`
	ViewportWidth     int           `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `json:"viewport_height" yaml:"viewport_height"`
	RecycleAfter      int           `json:"recycle_after" yaml:"recycle_after"`
	IgnoreHTTPSErrors bool          `json:"ignore_https_errors" yaml:"ignore_https_errors"`
	Stealth           bool          `json:"stealth" yaml:"stealth"`
	Bin               string        `json:"bin" yaml:"bin"` // browser executable, empty to auto-detect
}

// DefaultConfig returns default browser configuration.
func DefaultConfig() Config {
	return Config{
		PoolSize:          1,
		Headless:          true,
		Timeout:           30 * time.Second,
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		RecycleAfter:      50,
		IgnoreHTTPSErrors: true,
	}
}

// Browser wraps a Rod browser instance.
type Browser struct {
	browser   *rod.Browser
	config    Config
	mu        sync.Mutex
	pageCount int
}

// New launches and connects a browser.
func New(config Config) (*Browser, error) {
	l := launcher.New()

	if config.Bin != "" {
		l = l.Bin(config.Bin)
	}
	l = l.Headless(config.Headless)

	if config.IgnoreHTTPSErrors {
		l = l.Set("ignore-certificate-errors", "true")
	}

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	return &Browser{
		browser: browser,
		config:  config,
	}, nil
}

// NewPage opens a blank tab with the configured viewport and user agent.
func (b *Browser) NewPage(ctx context.Context) (page.Page, error) {
	b.mu.Lock()
	b.pageCount++
	b.mu.Unlock()

	rp, err := b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	// Viewport and UA are cosmetic; a failure here leaves Chrome defaults.
	if b.config.ViewportWidth > 0 && b.config.ViewportHeight > 0 {
		_ = rp.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:  b.config.ViewportWidth,
			Height: b.config.ViewportHeight,
		})
	}
	if b.config.UserAgent != "" {
		_ = proto.NetworkSetUserAgentOverride{UserAgent: b.config.UserAgent}.Call(rp)
	}
	if b.config.Stealth {
		if _, err := rp.EvalOnNewDocument(stealthScript); err != nil {
			_ = rp.Close()
			return nil, fmt.Errorf("failed to apply stealth script: %w", err)
		}
	}

	return &Page{page: rp, timeout: b.config.Timeout}, nil
}

// Close closes the browser.
func (b *Browser) Close() error {
	return b.browser.Close()
}

// PageCount returns the number of pages opened by this browser.
func (b *Browser) PageCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pageCount
}

// NeedsRecycle reports whether the browser has served RecycleAfter pages.
func (b *Browser) NeedsRecycle() bool {
	if b.config.RecycleAfter <= 0 {
		return false
	}
	return b.PageCount() >= b.config.RecycleAfter
}

// stealthScript runs before any page script on every new document.
const stealthScript = `(function() {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	window.chrome = window.chrome || { runtime: {} };
	Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
})();`

// Page adapts a rod page to page.Page.
type Page struct {
	page    *rod.Page
	timeout time.Duration
}

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	tctx, cancel := p.bounded(ctx)
	defer cancel()

	rp := p.page.Context(tctx)
	if err := rp.Navigate(url); err != nil {
		return err
	}
	return rp.WaitLoad()
}

func (p *Page) URL(ctx context.Context) (string, error) {
	tctx, cancel := p.bounded(ctx)
	defer cancel()

	info, err := p.page.Context(tctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// Eval runs js, a function expression, with args.
func (p *Page) Eval(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	tctx, cancel := p.bounded(ctx)
	defer cancel()

	res, err := p.page.Context(tctx).Eval(js, args...)
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}

// Element returns the first match without rod's implicit retry.
func (p *Page) Element(ctx context.Context, selector string) (page.Element, error) {
	els, err := p.Elements(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, page.ErrNotFound
	}
	return els[0], nil
}

// Elements returns every match. The elements are rebound to ctx so they
// outlive the query's timeout.
func (p *Page) Elements(ctx context.Context, selector string) ([]page.Element, error) {
	tctx, cancel := p.bounded(ctx)
	defer cancel()

	els, err := p.page.Context(tctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	out := make([]page.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &element{el: el.Context(ctx)})
	}
	return out, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	tctx, cancel := p.bounded(ctx)
	defer cancel()
	return p.page.Context(tctx).HTML()
}

// Close closes the tab.
func (p *Page) Close() error {
	return p.page.Close()
}

// bounded adds the default timeout when ctx has no deadline. Callers must
// call the returned cancel func.
func (p *Page) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

type element struct {
	el *rod.Element
}

func (e *element) Attribute(name string) (string, bool, error) {
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *element) Text() (string, error) {
	return e.el.Text()
}

func (e *element) TagName() (string, error) {
	res, err := e.el.Eval(`function() { return this.tagName }`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (e *element) Element(selector string) (page.Element, error) {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, page.ErrNotFound
	}
	return &element{el: els[0]}, nil
}

func (e *element) Elements(selector string) ([]page.Element, error) {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func wrapElements(els rod.Elements) []page.Element {
	out := make([]page.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &element{el: el})
	}
	return out
}

var (
	_ page.Page    = (*Page)(nil)
	_ page.Element = (*element)(nil)
	_ page.Closer  = (*Page)(nil)
)
