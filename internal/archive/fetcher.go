// Package archive streams resolved archive binaries to the download directory.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/apkfetch/internal/catalog"
	"github.com/JakeFAU/apkfetch/internal/hash/sha256"
	"github.com/JakeFAU/apkfetch/internal/logging"
	"github.com/JakeFAU/apkfetch/internal/metrics"
	"github.com/JakeFAU/apkfetch/internal/policy/ratelimit"
)

// DefaultChunkSize bounds the copy buffer, and so peak memory, per transfer.
const DefaultChunkSize = 256 * 1024

// ErrStalled reports a transfer that received nothing for a full timeout window.
var ErrStalled = errors.New("transfer stalled")

// TransferError is returned when the archive host answers with a non-200 status.
type TransferError struct {
	URL        string
	StatusCode int
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("Download failed with status %d", e.StatusCode)
}

// Config controls the fetcher.
type Config struct {
	Dir       string
	Timeout   time.Duration
	ChunkSize int
	UserAgent string
}

// Archive describes a file written to local storage.
type Archive struct {
	Path     string
	Filename string
	Size     int64
	Type     catalog.PackageType
	SHA256   string
}

// Fetcher downloads archives.
type Fetcher struct {
	cfg    Config
	client *http.Client
	pacer  catalog.Pacer
	logger *zap.Logger
}

// New constructs a Fetcher. A nil client selects one whose response-header
// timeout matches cfg.Timeout.
func New(cfg Config, client *http.Client, pacer catalog.Pacer, logger *zap.Logger) *Fetcher {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if client == nil {
		client = &http.Client{Transport: newHTTPTransport(cfg.Timeout)}
	}
	return &Fetcher{
		cfg:    cfg,
		client: client,
		pacer:  pacer,
		logger: logging.OrNop(logger),
	}
}

// Fetch streams desc.URL into the download directory. The body is written to
// a temporary file and renamed into place only after the copy completes.
// Cfg.Timeout bounds the wait for response headers and for each read.
func (f *Fetcher) Fetch(ctx context.Context, desc catalog.DownloadDescriptor, pkg string) (Archive, error) {
	if err := f.pacer.Pace(ctx, ratelimit.StageBinary, desc.URL); err != nil {
		return Archive{}, fmt.Errorf("pace binary: %w", err)
	}

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	dog := newWatchdog(f.cfg.Timeout, func() {
		cancel(fmt.Errorf("no data for %s: %w", f.cfg.Timeout, ErrStalled))
	})
	defer dog.stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return Archive{}, fmt.Errorf("build request: %w", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		metrics.ObserveCatalogRequest(desc.URL, string(ratelimit.StageBinary), 0)
		return Archive{}, fmt.Errorf("request archive: %w", causeOf(reqCtx, err))
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("close archive body", zap.Error(cerr))
		}
	}()
	metrics.ObserveCatalogRequest(desc.URL, string(ratelimit.StageBinary), resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		return Archive{}, &TransferError{URL: desc.URL, StatusCode: resp.StatusCode}
	}

	filename := FilenameFor(resp.Header.Get("Content-Disposition"), pkg, desc.Type)
	target := filepath.Join(f.cfg.Dir, filename)
	digest := sha256.NewDigest()
	body := &watchedReader{r: resp.Body, kick: dog.kick}
	if err := f.write(target, body, digest); err != nil {
		return Archive{}, causeOf(reqCtx, err)
	}

	info, err := os.Stat(target)
	if err != nil {
		return Archive{}, fmt.Errorf("stat archive: %w", err)
	}
	f.logger.Info("archive saved",
		zap.String("path", target),
		zap.Int64("bytes", info.Size()),
		zap.String("type", string(desc.Type)),
	)
	return Archive{
		Path:     target,
		Filename: filename,
		Size:     info.Size(),
		Type:     desc.Type,
		SHA256:   digest.Hex(),
	}, nil
}

func (f *Fetcher) write(target string, body io.Reader, digest io.Writer) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
				f.logger.Warn("remove partial archive", zap.String("path", tmpPath), zap.Error(rmErr))
			}
		}
	}()

	buf := make([]byte, f.cfg.ChunkSize)
	if _, err := io.CopyBuffer(io.MultiWriter(tmp, digest), body, buf); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o640); err != nil {
		return fmt.Errorf("chmod archive: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("rename archive: %w", err)
	}
	committed = true
	return nil
}

// causeOf prefers the watchdog's stall error over the generic cancellation.
func causeOf(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && errors.Is(cause, ErrStalled) {
		return cause
	}
	return err
}

// watchdog fires once no kick arrives within the timeout.
type watchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
}

func newWatchdog(timeout time.Duration, fire func()) *watchdog {
	return &watchdog{
		timer:   time.AfterFunc(timeout, fire),
		timeout: timeout,
	}
}

func (w *watchdog) kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timer.Reset(w.timeout)
}

func (w *watchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timer.Stop()
}

type watchedReader struct {
	r    io.Reader
	kick func()
}

func (w *watchedReader) Read(p []byte) (int, error) {
	n, err := w.r.Read(p)
	if n > 0 {
		w.kick()
	}
	return n, err //nolint:wrapcheck // io.EOF must pass through unwrapped
}

func newHTTPTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// IsTransferError reports whether err carries a non-200 archive response.
func IsTransferError(err error) (*TransferError, bool) {
	var te *TransferError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
