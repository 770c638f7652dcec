package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/apkfetch/internal/downloader"
)

// newFetchCmd creates the 'fetch' subcommand.
func newFetchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <package> [package...]",
		Short: "Download the archive for one or more packages",
		Long: `Resolves each package identifier in turn and downloads its archive.
A JSON result is printed per identifier; the exit status is 1 if any
download failed or no identifier was given.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, opts, args)
		},
	}
}

func runFetch(cmd *cobra.Command, opts *rootOptions, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		res := downloader.Result{Error: downloader.ReasonNoPackage, Kind: downloader.KindInvalidInput}
		if err := writeResult(out, res); err != nil {
			return err
		}
		return errDownloadFailed
	}

	a, err := loadApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	failed := false
	for _, pkg := range args {
		res := a.Downloader().Download(cmd.Context(), pkg)
		a.Logger().Debug("result", logFields(res)...)
		if err := writeResult(out, res); err != nil {
			return err
		}
		if !res.Success {
			failed = true
		}
	}
	if failed {
		return errDownloadFailed
	}
	return nil
}
