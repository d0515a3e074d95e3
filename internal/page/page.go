// Package page defines the capabilities the recon core needs from a page
// automation layer. The crawler, interceptor and explorer depend only on
// these interfaces; go-rod, the static HTML host and test fakes implement
// them.
package page

import (
	"context"
	"errors"

	"github.com/ysmood/gson"
)

var (
	// ErrNotFound is returned by Element when nothing matches the selector.
	ErrNotFound = errors.New("element not found")
	// ErrEvalUnsupported is returned by hosts that cannot run scripts.
	ErrEvalUnsupported = errors.New("script evaluation not supported by this page host")
)

// Page is a live document.
type Page interface {
	// Navigate loads url. The context deadline bounds the load.
	Navigate(ctx context.Context, url string) error
	// URL returns the current document URL.
	URL(ctx context.Context) (string, error)
	// Eval runs js in the page. js is a function expression, called with args.
	Eval(ctx context.Context, js string, args ...interface{}) (gson.JSON, error)
	// Element returns the first match for selector or ErrNotFound.
	Element(ctx context.Context, selector string) (Element, error)
	// Elements returns all matches for selector in document order.
	Elements(ctx context.Context, selector string) ([]Element, error)
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)
}

// Element is a node inside a Page.
type Element interface {
	// Attribute returns the attribute value and whether it is present.
	Attribute(name string) (string, bool, error)
	// Text returns the rendered text of the element.
	Text() (string, error)
	// TagName returns the upper-case tag name.
	TagName() (string, error)
	Element(selector string) (Element, error)
	Elements(selector string) ([]Element, error)
}

// Closer is implemented by pages that hold host resources.
type Closer interface {
	Close() error
}

// Factory opens fresh pages. Each page carries its own interceptor state,
// so concurrent workers must each open their own.
type Factory interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// AttributeOr returns the attribute value, or def when it is absent or empty.
func AttributeOr(el Element, name, def string) string {
	v, ok, err := el.Attribute(name)
	if err != nil || !ok || v == "" {
		return def
	}
	return v
}

// HasAttribute reports whether the attribute is present, regardless of value.
func HasAttribute(el Element, name string) bool {
	_, ok, err := el.Attribute(name)
	return err == nil && ok
}
