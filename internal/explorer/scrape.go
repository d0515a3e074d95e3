package explorer

import (
	"context"
	"strings"

	rerrors "github.com/PentesterFlow/ReconMapper/internal/errors"
	"github.com/PentesterFlow/ReconMapper/internal/page"
	"github.com/PentesterFlow/ReconMapper/internal/scope"
)

// Scrape extracts the summary fields of the current document: heading or
// title, list items, API URLs in the markup and table rows.
func (e *Explorer) Scrape(ctx context.Context, p page.Page) PageResult {
	url, err := p.URL(ctx)
	if err != nil {
		e.failed(ctx, p, "scrape", err)
	}
	return PageResult{
		URL:        url,
		Title:      e.title(ctx, p),
		ListItems:  e.listItems(ctx, p),
		APIURLs:    e.apiURLs(ctx, p),
		SampleRows: e.sampleRows(ctx, p),
	}
}

func (e *Explorer) title(ctx context.Context, p page.Page) string {
	if h1, err := p.Element(ctx, "h1"); err == nil {
		if t, err := h1.Text(); err == nil {
			return strings.TrimSpace(t)
		}
	}
	return documentTitle(ctx, p)
}

func (e *Explorer) listItems(ctx context.Context, p page.Page) []string {
	els, err := p.Elements(ctx, "ul li")
	if err != nil {
		e.failed(ctx, p, "list_items", err)
		return []string{}
	}
	return texts(els)
}

func (e *Explorer) apiURLs(ctx context.Context, p page.Page) []string {
	html, err := p.HTML(ctx)
	if err != nil {
		e.failed(ctx, p, "api_urls", err)
		return []string{}
	}
	found := scope.APIURLPattern(e.config.APISegment).FindAllString(html, -1)
	if found == nil {
		found = []string{}
	}
	return found
}

func (e *Explorer) sampleRows(ctx context.Context, p page.Page) []SampleRow {
	rows := []SampleRow{}
	els, err := p.Elements(ctx, "tr")
	if err != nil {
		e.failed(ctx, p, "sample_rows", err)
		return rows
	}

	for _, tr := range els {
		cells, err := tr.Elements("td")
		if err != nil {
			continue
		}
		row := SampleRow{Cells: texts(cells)}
		if len(row.Cells) > 0 {
			row.Name = row.Cells[0]
		}
		if len(cells) > 0 {
			row.Href = rowHref(cells[0])
		}
		rows = append(rows, row)
	}
	return rows
}

// rowHref prefers span[data-href] in the first cell, then a[href].
func rowHref(cell page.Element) *string {
	if span, err := cell.Element("span[data-href]"); err == nil {
		if v, ok, _ := span.Attribute("data-href"); ok && v != "" {
			return &v
		}
	}
	if a, err := cell.Element("a[href]"); err == nil {
		if v, ok, _ := a.Attribute("href"); ok {
			return &v
		}
	}
	return nil
}

// Visit loads url, instruments it, waits for it to settle and returns the
// scrape with its exploration report. Navigation failures return a failed
// PageResult and the categorized error.
func (e *Explorer) Visit(ctx context.Context, p page.Page, url string) (PageResult, error) {
	navCtx := ctx
	if e.config.NavTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, e.config.NavTimeout)
		defer cancel()
	}

	if err := p.Navigate(navCtx, url); err != nil {
		rerr := rerrors.Categorize(err, url)
		if rerr.Kind != rerrors.Cancelled {
			e.log.NavigationFailed(url, 0, err)
		}
		return PageResult{URL: url, Error: LoadFailed}, rerr
	}

	// Entries from the previous document belong to the previous report.
	e.ic.Drain()
	_ = e.ic.Install(ctx, p)

	if err := e.ic.WaitSettled(ctx, p, e.config.Settle); err != nil {
		return PageResult{URL: url, Error: LoadFailed}, rerrors.Categorize(err, url)
	}

	result := e.Scrape(ctx, p)
	if result.URL == "" {
		result.URL = url
	}
	result.Report = e.Explore(ctx, p)
	return result, nil
}
