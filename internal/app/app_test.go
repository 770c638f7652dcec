package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/apkfetch/internal/app"
	"github.com/JakeFAU/apkfetch/internal/config"
	"github.com/JakeFAU/apkfetch/internal/policy/ratelimit"
)

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Catalog.BaseURL = baseURL
	cfg.Archive.DownloadDir = filepath.Join(t.TempDir(), "downloads")
	cfg.Catalog.SearchDelayMin, cfg.Catalog.SearchDelayMax = 0, 0
	cfg.Catalog.PageDelayMin, cfg.Catalog.PageDelayMax = 0, 0
	cfg.Archive.DelayMin, cfg.Archive.DelayMax = 0, 0
	return cfg
}

func TestNewCreatesDownloadDir(t *testing.T) {
	cfg := testConfig(t, "https://apkpure.com")

	a, err := app.New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.DirExists(t, cfg.Archive.DownloadDir)
	assert.Equal(t, cfg, a.Config())
	assert.NotNil(t, a.Downloader())
	assert.NotNil(t, a.Logger())
	assert.Equal(t, cfg.Archive.DownloadDir, a.DownloadDir().Path())
}

func TestNewRejectsUnusableDownloadDir(t *testing.T) {
	cfg := testConfig(t, "https://apkpure.com")
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	cfg.Archive.DownloadDir = file

	_, err := app.New(cfg, nil)
	require.Error(t, err)
}

func TestDownloaderEndToEnd(t *testing.T) {
	const pkg = "com.example.app"
	mux := http.NewServeMux()
	mux.HandleFunc("/app/"+pkg, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>" + pkg + "</html>"))
	})
	mux.HandleFunc("/app/"+pkg+"/download", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<a data-dt-file="/b/apk/` + pkg + `">Download</a>`))
	})
	mux.HandleFunc("/b/apk/"+pkg, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="Example_1.0.apk"`)
		_, _ = w.Write([]byte("binary"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a, err := app.New(testConfig(t, srv.URL), nil)
	require.NoError(t, err)

	res := a.Downloader().Download(context.Background(), pkg)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Example_1.0.apk", res.Filename)
	assert.Equal(t, int64(len("binary")), res.Size)
}

func TestNewPacerAppliesStageBounds(t *testing.T) {
	cfg := testConfig(t, "https://apkpure.com")
	cfg.Archive.DelayMin, cfg.Archive.DelayMax = 20*time.Millisecond, 20*time.Millisecond

	pacer := app.NewPacer(cfg)
	start := time.Now()
	require.NoError(t, pacer.Pace(context.Background(), ratelimit.StageSearch, "https://apkpure.com/x"))
	require.Less(t, time.Since(start), 20*time.Millisecond)

	start = time.Now()
	require.NoError(t, pacer.Pace(context.Background(), ratelimit.StageBinary, "https://apkpure.com/x"))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
