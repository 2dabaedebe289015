package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arsalan507/studioflow/internal/uploader"
)

var (
	flagUploadFolder string
	flagUploadName   string
)

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload files to a Drive folder",
		Long: "Uploads one or more files. Small files go up in a single request; " +
			"large files use resumable sessions, and an interrupted transfer " +
			"continues from where it left off on the next run.",
		Args: cobra.MinimumNArgs(1),
		RunE: runUpload,
	}

	cmd.Flags().StringVarP(&flagUploadFolder, "folder", "f", "", "destination folder ID (required)")
	cmd.Flags().StringVarP(&flagUploadName, "name", "n", "", "remote filename (single file only)")
	_ = cmd.MarkFlagRequired("folder")

	return cmd
}

func runUpload(cmd *cobra.Command, args []string) error {
	if flagUploadName != "" && len(args) > 1 {
		return fmt.Errorf("--name applies to a single file, got %d", len(args))
	}

	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var failed int

	for _, path := range args {
		res, err := a.mgr.Upload(ctx, uploader.Request{
			Path:     path,
			FolderID: flagUploadFolder,
			Name:     flagUploadName,
			Progress: progressPrinter(path),
		})
		if err != nil {
			// A canceled upload means the user interrupted the run; stop
			// instead of churning through the remaining files.
			if errors.Is(err, uploader.ErrCanceled) {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "failed: %s: %v\n", path, err)
			failed++

			continue
		}

		statusf("Uploaded %s (%s)\n", res.Name, formatSize(res.Size))

		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", res.ViewLink)

		if res.DownloadLink != "" {
			statusf("  download: %s\n", res.DownloadLink)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(args))
	}

	return nil
}
