package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arsalan507/studioflow/internal/drive"
)

var flagDownloadOutput string

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <file-id-or-link>",
		Short: "Download a file by ID or share link",
		Args:  cobra.ExactArgs(1),
		RunE:  runDownload,
	}

	cmd.Flags().StringVarP(&flagDownloadOutput, "output", "o", "", "output path (defaults to the file ID)")

	return cmd
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id := drive.ExtractFileID(args[0])
	if id == "" {
		return fmt.Errorf("could not extract a file ID from %q", args[0])
	}

	if err := a.creds.EnsureValid(ctx); err != nil {
		return err
	}

	data, err := a.client.DownloadBytes(ctx, id)
	if err != nil {
		return err
	}

	out := flagDownloadOutput
	if out == "" {
		out = id
	}

	if err := os.WriteFile(out, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}

	statusf("Downloaded %s (%s)\n", out, formatSize(int64(len(data))))

	return nil
}
