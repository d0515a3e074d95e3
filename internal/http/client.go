// Package http fetches raw documents for the static page host.
package http

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"
)

// Client is an HTTP client tuned for fetching pages one at a time.
type Client struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
	mu           sync.RWMutex
	headers      map[string]string
}

// Config holds client configuration.
type Config struct {
	Timeout       time.Duration
	UserAgent     string
	Headers       map[string]string
	SkipTLSVerify bool
	MaxBodyBytes  int64
	MaxRedirects  int
}

// DefaultConfig returns client defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		SkipTLSVerify: true,
		MaxBodyBytes:  5 << 20,
		MaxRedirects:  10,
	}
}

// Response is a fetched document with its body decoded to UTF-8.
type Response struct {
	URL        string
	FinalURL   string
	StatusCode int
	Status     string
	Header     http.Header
	Body       string
	Duration   time.Duration
}

// New creates a client from config.
func New(config Config) *Client {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 5 << 20
	}
	if config.MaxRedirects <= 0 {
		config.MaxRedirects = 10
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: config.SkipTLSVerify},
	}

	maxRedirects := config.MaxRedirects
	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent:    config.UserAgent,
		maxBodyBytes: config.MaxBodyBytes,
		headers:      config.Headers,
	}
}

// UserAgent returns the User-Agent sent with every request.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// SetHeaders replaces the extra headers sent with every request.
func (c *Client) SetHeaders(headers map[string]string) {
	c.mu.Lock()
	c.headers = headers
	c.mu.Unlock()
}

// Get fetches targetURL. HTTP error statuses are not errors; only
// transport and decoding failures are.
func (c *Client) Get(ctx context.Context, targetURL string) (*Response, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip, br")

	c.mu.RLock()
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.mu.RUnlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	body, err := decode(raw, resp.Header.Get("Content-Encoding"), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	return &Response{
		URL:        targetURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       body,
		Duration:   time.Since(start),
	}, nil
}

// decode undoes the content encoding and converts the declared or sniffed
// charset to UTF-8.
func decode(raw []byte, encoding, contentType string) (string, error) {
	var r io.Reader = bytes.NewReader(raw)

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return "", fmt.Errorf("failed to open gzip body: %w", err)
		}
		defer gz.Close()
		r = gz
	case "br":
		r = brotli.NewReader(r)
	default:
		return "", fmt.Errorf("unsupported content encoding %q", encoding)
	}

	utf8Reader, err := charset.NewReader(r, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to detect charset: %w", err)
	}
	out, err := io.ReadAll(utf8Reader)
	if err != nil {
		return "", fmt.Errorf("failed to decode body: %w", err)
	}
	return string(out), nil
}
