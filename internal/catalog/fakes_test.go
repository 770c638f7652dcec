package catalog

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/apkfetch/internal/policy/ratelimit"
)

type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]Page
	errs     map[string]error
	requests []string
	timeouts []time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string]Page),
		errs:  make(map[string]error),
	}
}

func (f *fakeFetcher) serve(url string, status int, body string) {
	f.pages[url] = Page{URL: url, StatusCode: status, Body: []byte(body)}
}

func (f *fakeFetcher) FetchPage(_ context.Context, rawURL string, timeout time.Duration) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, rawURL)
	f.timeouts = append(f.timeouts, timeout)
	if err, ok := f.errs[rawURL]; ok {
		return Page{}, err
	}
	if page, ok := f.pages[rawURL]; ok {
		return page, nil
	}
	return Page{URL: rawURL, StatusCode: http.StatusNotFound}, nil
}

type recordingPacer struct {
	mu     sync.Mutex
	stages []ratelimit.Stage
	err    error
}

func (p *recordingPacer) Pace(_ context.Context, stage ratelimit.Stage, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, stage)
	return p.err
}

var errBoom = errors.New("boom")
