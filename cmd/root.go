// Package cmd defines and implements the CLI commands for the apkfetch executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/apkfetch/internal/app"
	"github.com/JakeFAU/apkfetch/internal/config"
	"github.com/JakeFAU/apkfetch/internal/downloader"
	"github.com/JakeFAU/apkfetch/internal/logging"
)

// errDownloadFailed signals a failure already reported as a result record.
var errDownloadFailed = errors.New("download failed")

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = app.New

// rootOptions carries the persistent flags shared by all subcommands.
type rootOptions struct {
	cfgFile string
	v       *viper.Viper
}

// newRootCmd creates and configures the root command. Bare package
// arguments are treated like the fetch subcommand.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}
	cmd := &cobra.Command{
		Use:   "apkfetch [package...]",
		Short: "Resolve Android package identifiers and download their archives.",
		Long: `apkfetch looks up a package identifier such as com.example.app on the
catalog site, finds the archive download link on its download page, and
streams the APK or XAPK into the download directory. Each identifier
produces one JSON result line on stdout.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, opts, args)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	flags.String("download-dir", "", "directory archives are written to")
	flags.String("base-url", "", "catalog site base URL")
	bindFlag(opts.v, "archive.download_dir", cmd, "download-dir")
	bindFlag(opts.v, "catalog.base_url", cmd, "base-url")

	cmd.AddCommand(newFetchCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	return cmd
}

func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(name)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errDownloadFailed) {
			fmt.Fprintln(os.Stderr, "apkfetch:", err)
		}
		os.Exit(1)
	}
}

// loadApp reads configuration and builds the application services.
func loadApp(opts *rootOptions) (*app.App, error) {
	cfg, err := config.LoadWith(opts.v, opts.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return a, nil
}

func writeResult(w io.Writer, res downloader.Result) error {
	if err := json.NewEncoder(w).Encode(res); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func logFields(res downloader.Result) []zap.Field {
	if res.Success {
		return []zap.Field{zap.String("file", res.FilePath), zap.Int64("bytes", res.Size)}
	}
	return []zap.Field{zap.String("kind", string(res.Kind)), zap.String("reason", res.Error)}
}
