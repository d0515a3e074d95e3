package page

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/ysmood/gson"

	rhttp "github.com/PentesterFlow/ReconMapper/internal/http"
)

// Fetcher returns the markup and final URL of a document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (finalURL, markup string, err error)
}

// HTTPFetcher adapts the HTTP client to Fetcher.
type HTTPFetcher struct {
	Client *rhttp.Client
}

// Fetch implements Fetcher.
func (f HTTPFetcher) Fetch(ctx context.Context, url string) (string, string, error) {
	resp, err := f.Client.Get(ctx, url)
	if err != nil {
		return "", "", err
	}
	return resp.FinalURL, resp.Body, nil
}

// ErrNoDocument is returned by queries before the first Navigate.
var ErrNoDocument = errors.New("no document loaded")

// Static is a Page over fetched markup. It cannot run scripts, so network
// interception is unavailable and explorers degrade to DOM-only captures.
type Static struct {
	fetcher Fetcher

	mu     sync.RWMutex
	url    string
	markup string
	doc    *goquery.Document
}

// NewStatic creates a static page backed by fetcher.
func NewStatic(fetcher Fetcher) *Static {
	return &Static{fetcher: fetcher}
}

// Navigate fetches and parses url.
func (s *Static) Navigate(ctx context.Context, url string) error {
	finalURL, markup, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}
	return s.SetContent(finalURL, markup)
}

// SetContent replaces the current document.
func (s *Static) SetContent(url, markup string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.url, s.markup, s.doc = url, markup, doc
	s.mu.Unlock()
	return nil
}

func (s *Static) URL(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return "", ErrNoDocument
	}
	return s.url, nil
}

func (s *Static) Eval(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	return gson.JSON{}, ErrEvalUnsupported
}

func (s *Static) Element(ctx context.Context, selector string) (Element, error) {
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	return first(doc.Find(selector))
}

func (s *Static) Elements(ctx context.Context, selector string) ([]Element, error) {
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	return wrap(doc.Find(selector)), nil
}

// HTML returns the markup as fetched.
func (s *Static) HTML(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return "", ErrNoDocument
	}
	return s.markup, nil
}

func (s *Static) document() (*goquery.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil, ErrNoDocument
	}
	return s.doc, nil
}

// StaticFactory opens Static pages sharing one fetcher.
type StaticFactory struct {
	Fetcher Fetcher
}

func (f StaticFactory) NewPage(ctx context.Context) (Page, error) {
	return NewStatic(f.Fetcher), nil
}

func (f StaticFactory) Close() error { return nil }

var (
	_ Page    = (*Static)(nil)
	_ Factory = StaticFactory{}
)
