// Package worker implements the download job execution loop.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/apkfetch/internal/downloader"
	"github.com/JakeFAU/apkfetch/internal/jobs"
	"github.com/JakeFAU/apkfetch/internal/logging"
	"github.com/JakeFAU/apkfetch/internal/metrics"
)

// finishTimeout bounds the final status write once the run context has ended.
const finishTimeout = 5 * time.Second

// Worker consumes queue items and runs the download pipeline.
type Worker struct {
	queue      jobs.Queue
	jobStore   jobs.JobStore
	downloader jobs.Downloader
	flight     *singleflight.Group
	logger     *zap.Logger
}

// New constructs a Worker. Workers sharing flight collapse concurrent jobs
// for the same package into one download; a nil flight gives the worker its
// own group.
func New(
	queue jobs.Queue,
	jobStore jobs.JobStore,
	dl jobs.Downloader,
	flight *singleflight.Group,
	logger *zap.Logger,
) *Worker {
	if flight == nil {
		flight = &singleflight.Group{}
	}
	return &Worker{
		queue:      queue,
		jobStore:   jobStore,
		downloader: dl,
		flight:     flight,
		logger:     logging.OrNop(logger),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, jobs.ErrQueueClosed) {
				w.logger.Info("queue closed, worker exiting")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item jobs.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("package", item.Package))
	if err := w.jobStore.StartJob(ctx, item.JobID); err != nil {
		logger.Error("start job failed", zap.Error(err))
		return
	}
	metrics.ObserveJob(string(jobs.StatusRunning))

	result, shared := w.download(ctx, item.Package)
	if shared {
		logger.Info("joined in-flight download")
	}

	status := deriveFinalStatus(ctx, result)
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if err := w.jobStore.FinishJob(finishCtx, item.JobID, status, &result); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
		return
	}
	metrics.ObserveJob(string(status))
	logger.Info("job finished", zap.String("status", string(status)))
}

func (w *Worker) download(ctx context.Context, pkg string) (downloader.Result, bool) {
	v, _, shared := w.flight.Do(pkg, func() (any, error) {
		return w.downloader.Download(ctx, pkg), nil
	})
	result, _ := v.(downloader.Result)
	return result, shared
}

func deriveFinalStatus(ctx context.Context, result downloader.Result) jobs.Status {
	switch {
	case result.Success:
		return jobs.StatusSucceeded
	case ctx.Err() != nil:
		return jobs.StatusCanceled
	default:
		return jobs.StatusFailed
	}
}
