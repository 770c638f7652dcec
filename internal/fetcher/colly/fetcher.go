// Package collyfetcher implements catalog.PageFetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/apkfetch/internal/catalog"
)

// defaultHeaders mimic a desktop browser so catalog pages render normally.
var defaultHeaders = http.Header{
	"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
	"Accept-Language": {"en-US,en;q=0.9"},
	"Connection":      {"keep-alive"},
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Headers   http.Header
	Timeout   time.Duration
}

// Fetcher implements catalog.PageFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	// Catalog pages are revisited across invocations and must not be deduplicated.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	// Non-2xx responses are outcomes the resolver inspects, not transport errors.
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())
	// Clones share the backend client, so deadlines are applied per request
	// through the collector context instead of the client timeout.
	c.SetRequestTimeout(0)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// FetchPage executes a single HTTP GET using a fresh clone of the base collector.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string, timeout time.Duration) (catalog.Page, error) {
	var (
		result   catalog.Page
		fetchErr error
	)
	collector, cancel := f.buildCollector(ctx, timeout, &result, &fetchErr)
	defer cancel()
	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return catalog.Page{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	timeout time.Duration,
	result *catalog.Page,
	fetchErr *error,
) (*colly.Collector, context.CancelFunc) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	collector.Context = reqCtx

	f.configureCollectorHooks(collector, result, fetchErr)
	return collector, cancel
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *catalog.Page, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = catalog.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range defaultHeaders {
		if r.Headers.Get(key) == "" {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	}
	for key, values := range f.cfg.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}
