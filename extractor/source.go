package extractor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// StaticSource serves fixed HTML.
type StaticSource []byte

// HTML returns the bytes unchanged.
func (s StaticSource) HTML(context.Context) ([]byte, error) { return s, nil }

// HTTPSource fetches the page with a plain GET. It sees the server-rendered
// DOM only, so it suits static dashboards and tests.
type HTTPSource struct {
	url    string
	client *http.Client
	ua     string
	logger *slog.Logger
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) { s.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(s *HTTPSource) { s.ua = ua }
}

// WithHTTPLogger sets a custom logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(s *HTTPSource) { s.logger = l }
}

// NewHTTPSource creates a source for pageURL.
func NewHTTPSource(pageURL string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		url:    pageURL,
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (compatible; consowatch/1.0)",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// HTML GETs the page. Non-2xx responses are errors.
func (s *HTTPSource) HTML(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("extractor: new request: %w", err)
	}
	req.Header.Set("User-Agent", s.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extractor: get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("extractor: get %s: status %d", s.url, resp.StatusCode)
	}

	// Cap at 10MB.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("extractor: read body: %w", err)
	}

	s.logger.Debug("extractor: fetched", "url", s.url, "status", resp.StatusCode, "size", len(body))
	return body, nil
}
