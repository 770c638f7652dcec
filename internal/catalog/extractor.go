package catalog

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/apkfetch/internal/logging"
	"github.com/JakeFAU/apkfetch/internal/metrics"
	"github.com/JakeFAU/apkfetch/internal/policy/ratelimit"
)

// Pattern is one extraction rule. Regexp must capture the link in group 1.
type Pattern struct {
	Name   string
	Regexp *regexp.Regexp
	Type   PackageType
}

// DefaultPatterns returns the download-page rules in priority order.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:   "cdn-primary-xapk",
			Regexp: regexp.MustCompile(`(?i)href="(https://d\.apkpure\.com/b/XAPK/[^"]+)"`),
			Type:   PackageXAPK,
		},
		{
			Name:   "cdn-primary-apk",
			Regexp: regexp.MustCompile(`(?i)href="(https://d\.apkpure\.com/b/APK/[^"]+)"`),
			Type:   PackageAPK,
		},
		{
			Name:   "cdn-alternate-xapk",
			Regexp: regexp.MustCompile(`(?i)href="(https://download\.apkpure\.com/b/XAPK/[^"]+)"`),
			Type:   PackageXAPK,
		},
		{
			Name:   "cdn-alternate-apk",
			Regexp: regexp.MustCompile(`(?i)href="(https://download\.apkpure\.com/b/APK/[^"]+)"`),
			Type:   PackageAPK,
		},
		{
			Name:   "data-file-xapk",
			Regexp: regexp.MustCompile(`(?i)data-dt-file="([^"]+xapk[^"]*)"`),
			Type:   PackageXAPK,
		},
		{
			Name:   "data-file",
			Regexp: regexp.MustCompile(`(?i)data-dt-file="([^"]+)"`),
			Type:   PackageAPK,
		},
	}
}

// Extractor finds the archive link on an app's download sub-page.
type Extractor struct {
	fetcher  PageFetcher
	pacer    Pacer
	baseURL  string
	timeout  time.Duration
	patterns []Pattern
	logger   *zap.Logger
}

// NewExtractor constructs an Extractor. A nil patterns slice selects DefaultPatterns.
func NewExtractor(
	fetcher PageFetcher,
	pacer Pacer,
	baseURL string,
	timeout time.Duration,
	patterns []Pattern,
	logger *zap.Logger,
) *Extractor {
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	return &Extractor{
		fetcher:  fetcher,
		pacer:    pacer,
		baseURL:  baseURL,
		timeout:  timeout,
		patterns: patterns,
		logger:   logging.OrNop(logger),
	}
}

// Extract fetches {page}/download and returns the first pattern match.
// The bool is false when the sub-page is not 200 or nothing matches.
func (e *Extractor) Extract(ctx context.Context, page ResolvedPage) (DownloadDescriptor, bool, error) {
	downloadPage := strings.TrimRight(page.URL, "/") + "/download"
	if err := e.pacer.Pace(ctx, ratelimit.StageDownloadPage, downloadPage); err != nil {
		return DownloadDescriptor{}, false, fmt.Errorf("pace download page: %w", err)
	}
	resp, err := e.fetcher.FetchPage(ctx, downloadPage, e.timeout)
	if err != nil {
		metrics.ObserveCatalogRequest(downloadPage, string(ratelimit.StageDownloadPage), 0)
		return DownloadDescriptor{}, false, fmt.Errorf("fetch download page %s: %w", downloadPage, err)
	}
	metrics.ObserveCatalogRequest(downloadPage, string(ratelimit.StageDownloadPage), resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		e.logger.Warn("download page unavailable",
			zap.String("url", downloadPage),
			zap.Int("status", resp.StatusCode),
		)
		return DownloadDescriptor{}, false, nil
	}

	desc, ok := e.Match(resp.Body)
	if !ok {
		e.logger.Warn("no download link matched", zap.String("url", downloadPage))
		return DownloadDescriptor{}, false, nil
	}
	e.logger.Info("download link found",
		zap.String("pattern", desc.Pattern),
		zap.String("type", string(desc.Type)),
		zap.String("url", desc.URL),
	)
	return desc, true, nil
}

// Match applies the patterns to body in order; the first match wins.
func (e *Extractor) Match(body []byte) (DownloadDescriptor, bool) {
	for _, p := range e.patterns {
		m := p.Regexp.FindSubmatch(body)
		if len(m) < 2 {
			continue
		}
		link, err := CompleteURL(e.baseURL, html.UnescapeString(string(m[1])))
		if err != nil {
			e.logger.Debug("discarding unparsable link", zap.String("pattern", p.Name), zap.Error(err))
			continue
		}
		return DownloadDescriptor{
			URL:       link,
			Type:      p.Type,
			MultiPart: p.Type.MultiPart(),
			Pattern:   p.Name,
		}, true
	}
	return DownloadDescriptor{}, false
}

// CompleteURL turns a matched fragment into an absolute URL. Protocol-relative
// fragments get https; host-relative ones resolve against baseURL.
func CompleteURL(baseURL, fragment string) (string, error) {
	switch {
	case strings.HasPrefix(fragment, "http"):
		return fragment, nil
	case strings.HasPrefix(fragment, "//"):
		return "https:" + fragment, nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(fragment)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", fragment, err)
	}
	return base.ResolveReference(ref).String(), nil
}
