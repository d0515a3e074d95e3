// Package scope decides which discovered links belong to a crawl.
package scope

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrUnsupportedScheme is returned for links that are not http(s).
var ErrUnsupportedScheme = errors.New("unsupported URL scheme")

// Rules defines optional pattern filters on top of the host boundary.
type Rules struct {
	IncludePatterns []string `json:"include_patterns" yaml:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns" yaml:"exclude_patterns"`
	// SkipAssets drops links to images, archives and documents.
	SkipAssets bool `json:"skip_assets" yaml:"skip_assets"`
}

// Checker validates URLs against the start URL's scheme and host.
// Subdomains are different hosts.
type Checker struct {
	origin         *url.URL
	includeRegexps []*regexp.Regexp
	excludeRegexps []*regexp.Regexp
	skipAssets     bool
}

// NewChecker creates a checker bound to startURL.
func NewChecker(startURL string, rules Rules) (*Checker, error) {
	origin, err := url.Parse(startURL)
	if err != nil {
		return nil, err
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return nil, ErrUnsupportedScheme
	}
	if origin.Host == "" {
		return nil, errors.New("start URL has no host")
	}

	c := &Checker{origin: origin, skipAssets: rules.SkipAssets}
	for _, pattern := range rules.IncludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		c.includeRegexps = append(c.includeRegexps, re)
	}
	for _, pattern := range rules.ExcludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		c.excludeRegexps = append(c.excludeRegexps, re)
	}
	return c, nil
}

// Origin returns the start URL the checker is bound to.
func (c *Checker) Origin() string {
	return c.origin.String()
}

// InScope reports whether rawURL shares the start URL's scheme and host
// and passes the pattern filters.
func (c *Checker) InScope(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if !SameHost(c.origin, parsed) {
		return false
	}
	if c.skipAssets && IsAsset(parsed.Path) {
		return false
	}

	for _, re := range c.excludeRegexps {
		if re.MatchString(rawURL) {
			return false
		}
	}
	if len(c.includeRegexps) == 0 {
		return true
	}
	for _, re := range c.includeRegexps {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// SameHost compares scheme and host exactly, ignoring case and default ports.
func SameHost(a, b *url.URL) bool {
	if !strings.EqualFold(a.Scheme, b.Scheme) {
		return false
	}
	return canonicalHost(a) == canonicalHost(b)
}

func canonicalHost(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	switch {
	case port == "":
	case port == "80" && strings.EqualFold(u.Scheme, "http"):
	case port == "443" && strings.EqualFold(u.Scheme, "https"):
	default:
		host += ":" + port
	}
	return host
}

// Resolve turns href found on the page at base into an absolute URL.
// Protocol-relative references inherit the base scheme, relative ones are
// resolved against base, absolute ones pass through. Fragments are dropped
// and an empty path becomes "/".
func Resolve(base, href string) (string, error) {
	href = strings.TrimSpace(href)
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	var resolved *url.URL
	if strings.HasPrefix(href, "//") {
		resolved, err = url.Parse(baseURL.Scheme + ":" + href)
	} else {
		var ref *url.URL
		ref, err = url.Parse(href)
		if err == nil {
			resolved = baseURL.ResolveReference(ref)
		}
	}
	if err != nil {
		return "", err
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", ErrUnsupportedScheme
	}

	resolved.Fragment = ""
	resolved.RawFragment = ""
	if resolved.Path == "" && resolved.Opaque == "" {
		resolved.Path = "/"
	}
	return resolved.String(), nil
}

var assetExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".ico", ".svg", ".webp",
	".css", ".woff", ".woff2", ".ttf", ".eot",
	".pdf", ".zip", ".tar", ".gz", ".rar", ".exe", ".dmg",
	".mp3", ".mp4", ".wav", ".avi", ".mov",
	".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
}

// IsAsset reports whether path names a static, non-page resource.
func IsAsset(path string) bool {
	path = strings.ToLower(path)
	for _, ext := range assetExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
