package catalog

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/apkfetch/internal/logging"
	"github.com/JakeFAU/apkfetch/internal/metrics"
	"github.com/JakeFAU/apkfetch/internal/policy/ratelimit"
)

// Resolver confirms which candidate URL is the app page for a package.
type Resolver struct {
	fetcher PageFetcher
	pacer   Pacer
	timeout time.Duration
	logger  *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(fetcher PageFetcher, pacer Pacer, timeout time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		pacer:   pacer,
		timeout: timeout,
		logger:  logging.OrNop(logger),
	}
}

// Resolve probes candidates in order and returns the first page that answers
// 200 with pkg somewhere in its body. Fetch failures reject the candidate;
// only context cancellation is reported as an error.
func (r *Resolver) Resolve(ctx context.Context, pkg string, candidates []string) (ResolvedPage, bool, error) {
	needle := []byte(pkg)
	for _, candidate := range candidates {
		if err := r.pacer.Pace(ctx, ratelimit.StageSearch, candidate); err != nil {
			return ResolvedPage{}, false, fmt.Errorf("pace search: %w", err)
		}
		page, err := r.fetcher.FetchPage(ctx, candidate, r.timeout)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ResolvedPage{}, false, fmt.Errorf("resolve %s: %w", pkg, ctxErr)
			}
			metrics.ObserveCatalogRequest(candidate, string(ratelimit.StageSearch), 0)
			r.logger.Debug("candidate rejected", zap.String("url", candidate), zap.Error(err))
			continue
		}
		metrics.ObserveCatalogRequest(candidate, string(ratelimit.StageSearch), page.StatusCode)
		if page.StatusCode != http.StatusOK {
			r.logger.Debug("candidate rejected",
				zap.String("url", candidate),
				zap.Int("status", page.StatusCode),
			)
			continue
		}
		if !bytes.Contains(page.Body, needle) {
			r.logger.Debug("candidate does not mention package", zap.String("url", candidate))
			continue
		}
		r.logger.Info("app page confirmed", zap.String("url", candidate))
		return ResolvedPage{URL: candidate}, true, nil
	}
	return ResolvedPage{}, false, nil
}
