package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if downloadsTotal == nil || downloadBytesTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveDownload(t *testing.T) {
	Init()
	before := testutil.ToFloat64(downloadsTotal.WithLabelValues("success"))
	bytesBefore := testutil.ToFloat64(downloadBytesTotal)

	ObserveDownload("success", 1024)
	ObserveDownload("success", 0)

	if got := testutil.ToFloat64(downloadsTotal.WithLabelValues("success")) - before; got != 2 {
		t.Errorf("expected 2 new successes, got %f", got)
	}
	if got := testutil.ToFloat64(downloadBytesTotal) - bytesBefore; got != 1024 {
		t.Errorf("expected 1024 new bytes, got %f", got)
	}
}

func TestObserveCatalogRequestErrorLabel(t *testing.T) {
	Init()
	counter := catalogRequestsTotal.WithLabelValues("apkpure.com", "search", "error")
	before := testutil.ToFloat64(counter)

	ObserveCatalogRequest("https://APKPure.com/x", "search", 0)

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("expected error label to be counted once, got %f", got)
	}
}

func TestObserveHistograms(t *testing.T) {
	ObserveStage("resolve", 250*time.Millisecond)
	ObserveRateLimitDelay("search", 400*time.Millisecond)

	if n := testutil.CollectAndCount(stageDurationSeconds); n == 0 {
		t.Error("expected stage histogram to have series")
	}
	if n := testutil.CollectAndCount(rateLimitDelaySeconds); n == 0 {
		t.Error("expected delay histogram to have series")
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
