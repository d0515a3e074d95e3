// Package discovery crawls a site breadth-first and lists the pages it could
// load within the start URL's host.
package discovery

import (
	"context"
	"net/url"
	"time"

	reconerrors "github.com/PentesterFlow/ReconMapper/internal/errors"
	"github.com/PentesterFlow/ReconMapper/internal/logger"
	"github.com/PentesterFlow/ReconMapper/internal/metrics"
	"github.com/PentesterFlow/ReconMapper/internal/page"
	"github.com/PentesterFlow/ReconMapper/internal/queue"
	"github.com/PentesterFlow/ReconMapper/internal/ratelimit"
	"github.com/PentesterFlow/ReconMapper/internal/scope"
	"github.com/PentesterFlow/ReconMapper/internal/state"
)

// LinkSelector selects the hyperlinks followed by the crawler.
const LinkSelector = "a[href]"

// Crawler walks links on a single page session.
type Crawler struct {
	page       page.Page
	rules      scope.Rules
	navTimeout time.Duration
	limiter    *ratelimit.Limiter
	metrics    *metrics.Collector
	log        *logger.Logger
	onVisit    func(url string, depth int)
}

// New creates a crawler driving p.
func New(p page.Page, opts ...Option) *Crawler {
	c := &Crawler{
		page:       p,
		navTimeout: 30 * time.Second,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithComponent("discovery")
	return c
}

// Crawl visits startURL and follows same-host links breadth-first up to
// maxDepth link hops. limit caps the number of loaded pages when > 0.
//
// Pages that fail to load are skipped and never retried. The returned slice
// lists loaded pages in visit order. Only an invalid start URL or a done
// context produce an error; in the latter case the pages loaded so far are
// returned too.
func (c *Crawler) Crawl(ctx context.Context, startURL string, maxDepth, limit int) ([]string, error) {
	checker, err := scope.NewChecker(startURL, c.rules)
	if err != nil {
		return nil, reconerrors.NewConfigError("start_url", err.Error())
	}
	if startURL, err = scope.Resolve(startURL, startURL); err != nil {
		return nil, reconerrors.NewConfigError("start_url", err.Error())
	}
	start, _ := url.Parse(startURL)

	frontier := queue.NewFIFO()
	defer frontier.Close()
	visited := state.NewVisitedSet(limit * 10)
	discovered := make([]string, 0)

	_ = frontier.Push(&queue.Item{URL: startURL})
	c.metrics.RecordPageDiscovered()

	for !frontier.IsEmpty() {
		if limit > 0 && len(discovered) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return discovered, err
		}

		item, err := frontier.Pop()
		if err != nil {
			break
		}
		c.metrics.SetQueueDepth(frontier.Len())
		if item.Depth > maxDepth || !visited.Add(item.URL) {
			continue
		}

		links, err := c.visit(ctx, start.Host, item)
		if err != nil {
			if ctx.Err() != nil {
				return discovered, ctx.Err()
			}
			continue
		}

		discovered = append(discovered, item.URL)
		if c.onVisit != nil {
			c.onVisit(item.URL, item.Depth)
		}
		if limit > 0 && len(discovered) >= limit {
			break
		}
		if item.Depth+1 > maxDepth {
			continue
		}

		for _, link := range links {
			if visited.Has(link) || !checker.InScope(link) {
				continue
			}
			if frontier.Contains(link) {
				continue
			}
			_ = frontier.Push(&queue.Item{URL: link, Depth: item.Depth + 1, ParentURL: item.URL})
			c.metrics.RecordPageDiscovered()
		}
		c.metrics.SetQueueDepth(frontier.Len())
	}

	c.log.WithField("start_url", startURL).
		WithField("pages", len(discovered)).
		Info("crawl finished")
	return discovered, nil
}

// visit loads item and returns the absolute links on the page.
func (c *Crawler) visit(ctx context.Context, host string, item *queue.Item) ([]string, error) {
	if err := c.limiter.WaitHost(ctx, host); err != nil {
		return nil, err
	}

	navCtx, cancel := context.WithTimeout(ctx, c.navTimeout)
	started := time.Now()
	err := c.page.Navigate(navCtx, item.URL)
	cancel()
	if err != nil {
		rerr := reconerrors.Categorize(err, item.URL)
		if rerr.Kind != reconerrors.Cancelled {
			c.log.NavigationFailed(item.URL, item.Depth, rerr)
			c.limiter.Record(false)
		}
		c.metrics.RecordNavigationFailure()
		c.metrics.RecordError(rerr.Kind.String())
		return nil, rerr
	}
	c.limiter.Record(true)
	c.metrics.RecordPageVisited(time.Since(started))

	base := item.URL
	if current, err := c.page.URL(ctx); err == nil && current != "" {
		base = current
	}
	links := c.links(ctx, base)
	c.metrics.RecordLinks(len(links))
	return links, nil
}

// links reads a[href] and resolves each against base. Unresolvable and
// non-http(s) references are dropped.
func (c *Crawler) links(ctx context.Context, base string) []string {
	anchors, err := c.page.Elements(ctx, LinkSelector)
	if err != nil {
		c.log.CaptureFailed("links", base, err)
		return nil
	}

	links := make([]string, 0, len(anchors))
	for _, a := range anchors {
		href, ok, err := a.Attribute("href")
		if err != nil || !ok {
			continue
		}
		resolved, err := scope.Resolve(base, href)
		if err != nil {
			continue
		}
		links = append(links, resolved)
	}
	return links
}
