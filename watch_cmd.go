package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arsalan507/studioflow/internal/uploader"
	"github.com/arsalan507/studioflow/internal/watch"
)

var (
	flagWatchFolder   string
	flagWatchSettle   time.Duration
	flagWatchParallel int
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Watch a directory and upload files as they settle",
		Long: "Monitors a drop directory (including subdirectories) and uploads " +
			"each file once it has stopped changing. Hidden files and partial " +
			"downloads are ignored. Runs until interrupted.",
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}

	cmd.Flags().StringVarP(&flagWatchFolder, "folder", "f", "", "destination folder ID (required)")
	cmd.Flags().DurationVar(&flagWatchSettle, "settle", 2*time.Second, "quiet period before a file uploads")
	cmd.Flags().IntVar(&flagWatchParallel, "parallel", 3, "maximum concurrent uploads")
	_ = cmd.MarkFlagRequired("folder")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Sign in up front so the first settled file does not stall behind a
	// browser prompt.
	if err := a.creds.EnsureValid(ctx); err != nil {
		return err
	}

	w, err := watch.New(a.mgr, watch.Options{
		Dir:         args[0],
		FolderID:    flagWatchFolder,
		SettleDelay: flagWatchSettle,
		Concurrency: flagWatchParallel,
		OnResult: func(path string, res *uploader.Result, err error) {
			switch {
			case err == nil:
				statusf("Uploaded %s (%s)\n  %s\n", res.Name, formatSize(res.Size), res.ViewLink)
			case errors.Is(err, uploader.ErrCanceled):
			default:
				fmt.Fprintf(cmd.ErrOrStderr(), "failed: %s: %v\n", path, err)
			}
		},
	}, a.logger)
	if err != nil {
		return err
	}

	statusf("Watching %s (Ctrl-C to stop)\n", args[0])

	return w.Run(ctx)
}
