// Package explorer captures the structure of a loaded page: general info,
// forms, buttons, tables, API URL patterns and the network log recorded by
// the interceptor.
//
// Every capture is best effort. A failing query is logged and degrades only
// its own field; Explore always returns a complete report.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PentesterFlow/ReconMapper/internal/interceptor"
	"github.com/PentesterFlow/ReconMapper/internal/logger"
	"github.com/PentesterFlow/ReconMapper/internal/metrics"
	"github.com/PentesterFlow/ReconMapper/internal/page"
	"github.com/PentesterFlow/ReconMapper/internal/scope"
)

// Config tunes an Explorer.
type Config struct {
	ButtonLimit int                      `json:"button_limit" yaml:"button_limit"`
	NavTimeout  time.Duration            `json:"nav_timeout" yaml:"nav_timeout"`
	Settle      interceptor.SettleConfig `json:"settle" yaml:"settle"`
	APISegment  string                   `json:"api_segment" yaml:"api_segment"`
}

// DefaultConfig returns the defaults: 20 buttons, 30s navigation timeout,
// fixed 2s settle, "/api/" segment.
func DefaultConfig() Config {
	return Config{
		ButtonLimit: 20,
		NavTimeout:  30 * time.Second,
		Settle:      interceptor.DefaultSettleConfig(),
		APISegment:  scope.DefaultAPISegment,
	}
}

// Explorer captures pages for one session. It owns an interceptor, so it
// must not be shared between concurrently used pages.
type Explorer struct {
	config  Config
	ic      *interceptor.Interceptor
	log     *logger.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// New creates an explorer.
func New(config Config, log *logger.Logger) *Explorer {
	if log == nil {
		log = logger.Nop()
	}
	if config.ButtonLimit <= 0 {
		config.ButtonLimit = 20
	}
	if config.APISegment == "" {
		config.APISegment = scope.DefaultAPISegment
	}
	return &Explorer{
		config: config,
		ic:     interceptor.New(log),
		log:    log.WithComponent("explorer"),
		now:    time.Now,
	}
}

// SetMetrics counts degraded sub-captures on m.
func (e *Explorer) SetMetrics(m *metrics.Collector) {
	e.metrics = m
}

// Interceptor returns the explorer's network interceptor.
func (e *Explorer) Interceptor() *interceptor.Interceptor {
	return e.ic
}

func (e *Explorer) timestamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

func (e *Explorer) failed(ctx context.Context, p page.Page, capture string, err error) {
	url, _ := p.URL(ctx)
	e.log.CaptureFailed(capture, url, err)
	e.metrics.RecordCaptureFailure()
}

// Explore builds the exploration report for the current document.
func (e *Explorer) Explore(ctx context.Context, p page.Page) *Report {
	entries := e.CaptureNetworkLog(ctx, p)

	return &Report{
		Timestamp:       e.timestamp(),
		General:         e.CaptureGeneralInfo(ctx, p),
		RequestHeaders:  e.requestHeaders(ctx, p, entries),
		ResponseHeaders: responseHeaders(entries),
		NetworkLog:      entries,
		Forms:           e.CaptureForms(ctx, p),
		Buttons:         e.CaptureButtons(ctx, p),
		Tables:          e.CaptureTables(ctx, p),
		APIPatterns:     e.apiPatterns(ctx, p, entries),
	}
}

// CaptureNetworkLog syncs and returns the interceptor log.
func (e *Explorer) CaptureNetworkLog(ctx context.Context, p page.Page) []interceptor.Entry {
	entries := e.ic.Entries(ctx, p)
	if entries == nil {
		entries = []interceptor.Entry{}
	}
	return entries
}

type navigatorInfo struct {
	UA       string `json:"ua"`
	Language string `json:"language"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

const navigatorScript = `() => ({
	ua: navigator.userAgent,
	language: navigator.language,
	width: window.innerWidth,
	height: window.innerHeight
})`

func (e *Explorer) navigator(ctx context.Context, p page.Page) (navigatorInfo, error) {
	var info navigatorInfo
	res, err := p.Eval(ctx, navigatorScript)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal([]byte(res.JSON("", "")), &info); err != nil {
		return info, err
	}
	return info, nil
}

// CaptureGeneralInfo returns url, title, viewport, user agent and language.
// Only a page whose URL cannot be read collapses to an error; without script
// support the navigator fields stay empty.
func (e *Explorer) CaptureGeneralInfo(ctx context.Context, p page.Page) GeneralInfo {
	url, err := p.URL(ctx)
	if err != nil {
		e.failed(ctx, p, "general", err)
		return GeneralInfo{Error: err.Error()}
	}

	info := GeneralInfo{
		URL:       url,
		Title:     documentTitle(ctx, p),
		Status:    "loaded",
		Timestamp: e.timestamp(),
	}
	nav, err := e.navigator(ctx, p)
	if err != nil {
		if !errors.Is(err, page.ErrEvalUnsupported) {
			e.failed(ctx, p, "general", err)
		}
		return info
	}
	info.Viewport = &Viewport{Width: nav.Width, Height: nav.Height}
	info.UserAgent = nav.UA
	info.Language = nav.Language
	return info
}

// CaptureRequestHeaders returns the first network entry's request headers,
// or browser defaults derived from the user agent and language.
func (e *Explorer) CaptureRequestHeaders(ctx context.Context, p page.Page) interceptor.Headers {
	return e.requestHeaders(ctx, p, e.CaptureNetworkLog(ctx, p))
}

func (e *Explorer) requestHeaders(ctx context.Context, p page.Page, entries []interceptor.Entry) interceptor.Headers {
	if len(entries) > 0 {
		if entries[0].RequestHeaders != nil {
			return entries[0].RequestHeaders
		}
		return interceptor.Headers{}
	}

	nav, err := e.navigator(ctx, p)
	if err != nil {
		e.failed(ctx, p, "request_headers", err)
		return interceptor.Headers{}
	}
	return interceptor.Headers{
		"User-Agent":      nav.UA,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Encoding": "gzip, deflate",
		"Accept-Language": nav.Language,
	}
}

// CaptureResponseHeaders returns the first network entry's response headers.
func (e *Explorer) CaptureResponseHeaders(ctx context.Context, p page.Page) interceptor.Headers {
	return responseHeaders(e.CaptureNetworkLog(ctx, p))
}

func responseHeaders(entries []interceptor.Entry) interceptor.Headers {
	if len(entries) > 0 && entries[0].ResponseHeaders != nil {
		return entries[0].ResponseHeaders
	}
	return interceptor.Headers{}
}

// CaptureForms returns every form in document order.
func (e *Explorer) CaptureForms(ctx context.Context, p page.Page) []Form {
	forms := []Form{}
	els, err := p.Elements(ctx, "form")
	if err != nil {
		e.failed(ctx, p, "forms", err)
		return forms
	}

	for idx, el := range els {
		form := Form{
			ID:      page.AttributeOr(el, "id", fmt.Sprintf("form_%d", idx)),
			Action:  page.AttributeOr(el, "action", ""),
			Method:  page.AttributeOr(el, "method", "GET"),
			Enctype: page.AttributeOr(el, "enctype", "application/x-www-form-urlencoded"),
			Fields:  []Field{},
		}

		inputs, err := el.Elements("input, textarea, select")
		if err != nil {
			e.failed(ctx, p, "forms", err)
		}
		for _, in := range inputs {
			form.Fields = append(form.Fields, Field{
				Name:        page.AttributeOr(in, "name", ""),
				Type:        page.AttributeOr(in, "type", "text"),
				Value:       page.AttributeOr(in, "value", ""),
				Required:    page.HasAttribute(in, "required"),
				Placeholder: page.AttributeOr(in, "placeholder", ""),
			})
		}
		forms = append(forms, form)
	}
	return forms
}

// CaptureButtons returns buttons, links and role=button elements, looking at
// no more than ButtonLimit candidates and collapsing equal (text, href).
func (e *Explorer) CaptureButtons(ctx context.Context, p page.Page) []Button {
	buttons := []Button{}
	els, err := p.Elements(ctx, "button, a, [role='button']")
	if err != nil {
		e.failed(ctx, p, "buttons", err)
		return buttons
	}
	if len(els) > e.config.ButtonLimit {
		els = els[:e.config.ButtonLimit]
	}

	type key struct{ text, href string }
	seen := make(map[key]struct{})

	for _, el := range els {
		text, err := el.Text()
		if err != nil {
			continue
		}
		text = truncate(strings.TrimSpace(text), 100)
		href := page.AttributeOr(el, "href", "")

		k := key{text, href}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		tag, err := el.TagName()
		if err != nil {
			continue
		}
		buttons = append(buttons, Button{
			Text:    text,
			Href:    href,
			OnClick: page.AttributeOr(el, "onclick", ""),
			Class:   page.AttributeOr(el, "class", ""),
			Tag:     tag,
		})
	}
	return buttons
}

// CaptureAPIPatterns returns network URLs containing the API segment
// followed by API URLs found in the markup.
func (e *Explorer) CaptureAPIPatterns(ctx context.Context, p page.Page) []APIPattern {
	return e.apiPatterns(ctx, p, e.CaptureNetworkLog(ctx, p))
}

func (e *Explorer) apiPatterns(ctx context.Context, p page.Page, entries []interceptor.Entry) []APIPattern {
	patterns := []APIPattern{}
	for _, entry := range entries {
		if !scope.IsAPIURL(entry.URL, e.config.APISegment) {
			continue
		}
		patterns = append(patterns, APIPattern{
			Method:   entry.Method,
			Endpoint: entry.URL,
			Status:   entry.Status,
			Type:     PatternNetwork,
		})
	}

	html, err := p.HTML(ctx)
	if err != nil {
		e.failed(ctx, p, "api_patterns", err)
		return patterns
	}
	for _, u := range scope.APIURLPattern(e.config.APISegment).FindAllString(html, -1) {
		patterns = append(patterns, APIPattern{Endpoint: u, Type: PatternHTML})
	}
	return patterns
}

func documentTitle(ctx context.Context, p page.Page) string {
	el, err := p.Element(ctx, "title")
	if err != nil {
		return ""
	}
	t, err := el.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(t)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
