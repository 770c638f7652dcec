// Package app initializes and holds long-lived application services, acting
// as the dependency injection container for the CLI commands.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/apkfetch/internal/archive"
	"github.com/JakeFAU/apkfetch/internal/catalog"
	"github.com/JakeFAU/apkfetch/internal/config"
	"github.com/JakeFAU/apkfetch/internal/downloader"
	collyfetcher "github.com/JakeFAU/apkfetch/internal/fetcher/colly"
	"github.com/JakeFAU/apkfetch/internal/logging"
	"github.com/JakeFAU/apkfetch/internal/metrics"
	"github.com/JakeFAU/apkfetch/internal/policy/ratelimit"
	"github.com/JakeFAU/apkfetch/internal/storage/local"
)

// App holds the shared services built from one Config.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	downloads  *local.Dir
	downloader *downloader.Service
}

// New wires the resolution pipeline: pacer, page fetcher, resolver,
// extractor and archive fetcher behind a downloader.Service.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	metrics.Init()

	downloads, err := local.New(local.Config{BaseDir: cfg.Archive.DownloadDir})
	if err != nil {
		return nil, fmt.Errorf("init download dir: %w", err)
	}

	pacer := NewPacer(cfg)
	pages := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Catalog.UserAgent,
		Timeout:   cfg.Catalog.PageTimeout,
	})
	resolver := catalog.NewResolver(pages, pacer, cfg.Catalog.SearchTimeout, logger.Named("resolver"))
	extractor := catalog.NewExtractor(
		pages,
		pacer,
		cfg.Catalog.BaseURL,
		cfg.Catalog.PageTimeout,
		nil,
		logger.Named("extractor"),
	)
	fetcher := archive.New(archive.Config{
		Dir:       downloads.Path(),
		Timeout:   cfg.Archive.Timeout,
		ChunkSize: cfg.Archive.ChunkSize,
		UserAgent: cfg.Catalog.UserAgent,
	}, nil, pacer, logger.Named("archive"))

	svc := downloader.New(cfg.Catalog.BaseURL, resolver, extractor, fetcher, logger.Named("downloader"))
	logger.Debug("application services initialized",
		zap.String("base_url", cfg.Catalog.BaseURL),
		zap.String("download_dir", downloads.Path()),
	)
	return &App{
		cfg:        cfg,
		logger:     logger,
		downloads:  downloads,
		downloader: svc,
	}, nil
}

// NewPacer builds the per-stage delay policy from cfg.
func NewPacer(cfg config.Config) *ratelimit.Pacer {
	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.RPS,
			DefaultBurst: cfg.RateLimit.Burst,
		})
	}
	return ratelimit.NewPacer(map[ratelimit.Stage]ratelimit.Bounds{
		ratelimit.StageSearch:       {Min: cfg.Catalog.SearchDelayMin, Max: cfg.Catalog.SearchDelayMax},
		ratelimit.StageDownloadPage: {Min: cfg.Catalog.PageDelayMin, Max: cfg.Catalog.PageDelayMax},
		ratelimit.StageBinary:       {Min: cfg.Archive.DelayMin, Max: cfg.Archive.DelayMax},
	}, limiter)
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Downloader returns the pipeline entry point.
func (a *App) Downloader() *downloader.Service {
	return a.downloader
}

// DownloadDir returns the archive directory.
func (a *App) DownloadDir() *local.Dir {
	return a.downloads
}

// Close flushes buffered log entries.
func (a *App) Close() {
	// Sync on stderr returns EINVAL on some platforms; nothing useful to do with it.
	_ = a.logger.Sync()
}
