package page

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DOMElement implements Element over a parsed goquery selection.
type DOMElement struct {
	sel *goquery.Selection
}

// NewDOMElement wraps a single-node selection.
func NewDOMElement(sel *goquery.Selection) *DOMElement {
	return &DOMElement{sel: sel}
}

func (e *DOMElement) Attribute(name string) (string, bool, error) {
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

// Text returns the text content with runs of whitespace collapsed, which
// approximates the rendered text of a static document.
func (e *DOMElement) Text() (string, error) {
	return strings.Join(strings.Fields(e.sel.Text()), " "), nil
}

func (e *DOMElement) TagName() (string, error) {
	return strings.ToUpper(goquery.NodeName(e.sel)), nil
}

func (e *DOMElement) Element(selector string) (Element, error) {
	return first(e.sel.Find(selector))
}

func (e *DOMElement) Elements(selector string) ([]Element, error) {
	return wrap(e.sel.Find(selector)), nil
}

func first(sel *goquery.Selection) (Element, error) {
	if sel.Length() == 0 {
		return nil, ErrNotFound
	}
	return NewDOMElement(sel.First()), nil
}

func wrap(sel *goquery.Selection) []Element {
	out := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, NewDOMElement(s))
	})
	return out
}
