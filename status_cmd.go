package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var flagStatusLimit int

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent upload history",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}

	cmd.Flags().IntVarP(&flagStatusLimit, "limit", "l", 20, "number of entries to show")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.hist == nil {
		return fmt.Errorf("upload history is unavailable")
	}

	recs, err := a.hist.Recent(ctx, flagStatusLimit)
	if err != nil {
		return err
	}

	if len(recs) == 0 {
		statusf("No uploads yet.\n")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"FINISHED", "NAME", "SIZE", "STATUS", "LINK"})

	for _, rec := range recs {
		link := rec.ViewLink
		if link == "" {
			link = rec.Error
		}

		t.AppendRow(table.Row{
			formatTime(rec.FinishedAt.Local()),
			rec.Name,
			formatSize(rec.Size),
			rec.Status,
			link,
		})
	}

	t.Render()

	return nil
}
