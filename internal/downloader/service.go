// Package downloader sequences the resolution pipeline for one package and
// turns every outcome into a Result.
package downloader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/apkfetch/internal/archive"
	"github.com/JakeFAU/apkfetch/internal/catalog"
	"github.com/JakeFAU/apkfetch/internal/logging"
	"github.com/JakeFAU/apkfetch/internal/metrics"
)

// PageResolver confirms a candidate app page.
type PageResolver interface {
	Resolve(ctx context.Context, pkg string, candidates []string) (catalog.ResolvedPage, bool, error)
}

// LinkExtractor finds the archive link on a confirmed page.
type LinkExtractor interface {
	Extract(ctx context.Context, page catalog.ResolvedPage) (catalog.DownloadDescriptor, bool, error)
}

// ArchiveFetcher writes the archive to local storage.
type ArchiveFetcher interface {
	Fetch(ctx context.Context, desc catalog.DownloadDescriptor, pkg string) (archive.Archive, error)
}

// Service runs guess, resolve, extract and fetch for a package.
type Service struct {
	baseURL   string
	resolver  PageResolver
	extractor LinkExtractor
	fetcher   ArchiveFetcher
	logger    *zap.Logger
}

// New constructs a Service.
func New(baseURL string, resolver PageResolver, extractor LinkExtractor, fetcher ArchiveFetcher, logger *zap.Logger) *Service {
	return &Service{
		baseURL:   baseURL,
		resolver:  resolver,
		extractor: extractor,
		fetcher:   fetcher,
		logger:    logging.OrNop(logger),
	}
}

// Download resolves and fetches pkg. It never panics and always returns a
// well-formed Result.
func (s *Service) Download(ctx context.Context, pkg string) (res Result) {
	pkg = strings.TrimSpace(pkg)
	logger := s.logger.With(zap.String("package", pkg))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("download panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = Result{Error: fmt.Sprintf("%v", r), Kind: KindUnexpected}
		}
		s.record(logger, res)
	}()

	a, err := s.run(ctx, pkg)
	if err != nil {
		return failure(err)
	}
	return success(a)
}

func (s *Service) run(ctx context.Context, pkg string) (archive.Archive, error) {
	if pkg == "" {
		return archive.Archive{}, ErrNoPackage
	}

	candidates := catalog.GuessCandidates(s.baseURL, pkg)

	start := time.Now()
	page, ok, err := s.resolver.Resolve(ctx, pkg, candidates)
	metrics.ObserveStage("resolve", time.Since(start))
	if err != nil {
		return archive.Archive{}, fmt.Errorf("resolve: %w", err)
	}
	if !ok {
		return archive.Archive{}, ErrAppNotFound
	}

	start = time.Now()
	desc, ok, err := s.extractor.Extract(ctx, page)
	metrics.ObserveStage("extract", time.Since(start))
	if err != nil {
		return archive.Archive{}, fmt.Errorf("extract: %w", err)
	}
	if !ok {
		return archive.Archive{}, ErrLinkNotFound
	}

	start = time.Now()
	a, err := s.fetcher.Fetch(ctx, desc, pkg)
	metrics.ObserveStage("fetch", time.Since(start))
	if err != nil {
		if _, isTransfer := archive.IsTransferError(err); isTransfer {
			return archive.Archive{}, err
		}
		return archive.Archive{}, fmt.Errorf("fetch: %w", err)
	}
	return a, nil
}

func (s *Service) record(logger *zap.Logger, res Result) {
	if res.Success {
		metrics.ObserveDownload("success", res.Size)
		logger.Info("download complete",
			zap.String("path", res.FilePath),
			zap.Int64("bytes", res.Size),
		)
		return
	}
	metrics.ObserveDownload(string(res.Kind), 0)
	logger.Warn("download failed",
		zap.String("kind", string(res.Kind)),
		zap.String("reason", res.Error),
	)
}
