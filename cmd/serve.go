package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/apkfetch/internal/api"
	"github.com/JakeFAU/apkfetch/internal/app"
	"github.com/JakeFAU/apkfetch/internal/clock/system"
	"github.com/JakeFAU/apkfetch/internal/dispatcher"
	"github.com/JakeFAU/apkfetch/internal/id/uuid"
	queueMemory "github.com/JakeFAU/apkfetch/internal/queue/memory"
	memoryStorage "github.com/JakeFAU/apkfetch/internal/storage/memory"
	"github.com/JakeFAU/apkfetch/internal/worker"
)

// newServeCmd creates the 'serve' subcommand.
func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP download API",
		Long: `Starts an HTTP server that accepts download jobs, runs them on a
bounded worker pool, and serves the resulting archives.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServe(cmd.Context(), a)
		},
	}
	cmd.Flags().Int("port", 0, "HTTP listen port")
	if err := opts.v.BindPFlag("server.port", cmd.Flags().Lookup("port")); err != nil {
		panic(fmt.Sprintf("bind flag port: %v", err))
	}
	return cmd
}

// serveStack is the serve-mode object graph.
type serveStack struct {
	queue      *queueMemory.Queue
	dispatcher *dispatcher.Dispatcher
	server     *api.Server
}

func buildServeStack(a *app.App) *serveStack {
	cfg := a.Config()
	logger := a.Logger()

	clock := system.New()
	jobStore := memoryStorage.NewJobStore(clock)
	queue := queueMemory.NewQueue(cfg.Worker.QueueDepth)
	flight := &singleflight.Group{}

	workers := make([]*worker.Worker, 0, cfg.Worker.Concurrency)
	for i := range cfg.Worker.Concurrency {
		workers = append(workers, worker.New(
			queue,
			jobStore,
			a.Downloader(),
			flight,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)
	server := api.NewServer(jobStore, dispatch, uuid.New(), clock, a.DownloadDir(), cfg, logger)
	return &serveStack{queue: queue, dispatcher: dispatch, server: server}
}

func runServe(ctx context.Context, a *app.App) error {
	cfg := a.Config()
	logger := a.Logger()
	stack := buildServeStack(a)

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           stack.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		logger.Info("dispatcher started", zap.Int("workers", cfg.Worker.Concurrency))
		stack.dispatcher.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutdown initiated")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-dispatched
	stack.queue.Close()
	logger.Info("shutdown complete")
	return runErr
}
