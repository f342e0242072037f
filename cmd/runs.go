package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/explorer-reindexer/internal/config"
	"github.com/JakeFAU/explorer-reindexer/internal/reindex"
	"github.com/JakeFAU/explorer-reindexer/internal/store"
	"github.com/JakeFAU/explorer-reindexer/internal/store/sqlite"
)

// newRunsCmd creates the 'runs' subcommand listing the runs recorded in the
// --checkpoint-db journal, or a single run when an id is given.
func newRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "Lists recent reindex runs recorded in --checkpoint-db",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			return runRunsCommand(cmd, id, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", sqlite.DefaultListLimit, "Maximum number of runs to list")
	return cmd
}

func runRunsCommand(cmd *cobra.Command, id string, limit int) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Checkpoint.Path == "" {
		return fmt.Errorf("%w: runs needs --checkpoint-db", config.ErrInvalid)
	}
	out := cmd.OutOrStdout()
	if _, err := os.Stat(cfg.Checkpoint.Path); errors.Is(err, os.ErrNotExist) {
		if id != "" {
			return fmt.Errorf("run %s: %w", id, store.ErrNotFound)
		}
		_, _ = fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	history, err := sqlite.Open(cmd.Context(), cfg.Checkpoint.Path)
	if err != nil {
		return err
	}
	defer func() { _ = history.Close() }()

	if id != "" {
		run, err := history.GetRun(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("run %s: %w", id, err)
		}
		return writeRuns(out, []store.RunRecord{run})
	}

	runs, err := history.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	return writeRuns(out, runs)
}

func writeRuns(out io.Writer, runs []store.RunRecord) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN\tSTATUS\tURL\tSTART\tSTEP\tPASSES\tREQUESTS\tOK\tFAILED\tCURSOR\tSTARTED\tDURATION")
	for _, r := range runs {
		cursor := "-"
		if !r.Cursor.IsZero() {
			cursor = r.Cursor.Format(reindex.DateLayout)
		}
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\t%s\n",
			r.ID,
			r.Status,
			r.BaseURL,
			r.Start.Format(reindex.DateLayout),
			r.StepDays,
			r.Passes,
			r.Requests,
			r.Succeeded,
			r.Failed,
			cursor,
			r.StartedAt.Local().Format(time.DateTime),
			duration,
		)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write runs: %w", err)
	}
	return nil
}
