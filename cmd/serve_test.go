package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/apkfetch/internal/app"
	"github.com/JakeFAU/apkfetch/internal/config"
)

func serveApp(t *testing.T, baseURL string) *app.App {
	t.Helper()
	cfg, err := config.Load(writeConfig(t))
	require.NoError(t, err)
	cfg.Catalog.BaseURL = baseURL
	cfg.Archive.DownloadDir = t.TempDir()
	cfg.Worker.Concurrency = 1
	cfg.Server.Port = 0
	a, err := app.New(cfg, zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestServeStackRunsJobs(t *testing.T) {
	const pkg = "com.example.game"
	catalog := catalogServer(t, pkg)
	a := serveApp(t, catalog.URL)
	stack := buildServeStack(a)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		stack.dispatcher.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	api := httptest.NewServer(stack.server.Handler())
	defer api.Close()

	resp, err := http.Post(api.URL+"/v1/downloads", "application/json", strings.NewReader(`{"package":"`+pkg+`"}`))
	require.NoError(t, err)
	var accepted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, accepted.JobID)

	require.Eventually(t, func() bool {
		r, err := http.Get(api.URL + "/v1/downloads/" + accepted.JobID)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		var job struct {
			Status string `json:"status"`
		}
		return json.NewDecoder(r.Body).Decode(&job) == nil && job.Status == "succeeded"
	}, 5*time.Second, 20*time.Millisecond)

	file, err := http.Get(api.URL + "/v1/downloads/" + accepted.JobID + "/file")
	require.NoError(t, err)
	defer file.Body.Close()
	assert.Equal(t, http.StatusOK, file.StatusCode)
	assert.Contains(t, file.Header.Get("Content-Disposition"), pkg+".xapk")
}

func TestRunServeStopsOnCancel(t *testing.T) {
	a := serveApp(t, "https://apkpure.com")
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- runServe(ctx, a) }()

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("runServe did not return after cancel")
	}
}
