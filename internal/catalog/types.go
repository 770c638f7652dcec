package catalog

import (
	"context"
	"time"

	"github.com/JakeFAU/apkfetch/internal/policy/ratelimit"
)

// PackageType is the packaging format of a downloadable archive.
type PackageType string

// Known package types.
const (
	PackageAPK  PackageType = "APK"
	PackageXAPK PackageType = "XAPK"
)

// MultiPart reports whether the type bundles expansion data alongside the APK.
func (t PackageType) MultiPart() bool {
	return t == PackageXAPK
}

// Extension returns the canonical file extension for the type, with the dot.
func (t PackageType) Extension() string {
	if t.MultiPart() {
		return ".xapk"
	}
	return ".apk"
}

// ResolvedPage is an app page confirmed to mention the requested package.
type ResolvedPage struct {
	URL string
}

// DownloadDescriptor locates the archive binary for a resolved page.
type DownloadDescriptor struct {
	URL       string
	Type      PackageType
	MultiPart bool
	// Pattern names the extraction rule that produced the URL.
	Pattern string
}

// Page is a fetched catalog document.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
}

// PageFetcher retrieves catalog pages. Non-2xx responses are returned as a
// Page with their status code, not as errors.
type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL string, timeout time.Duration) (Page, error)
}

// Pacer delays before an outbound request.
type Pacer interface {
	Pace(ctx context.Context, stage ratelimit.Stage, rawURL string) error
}
