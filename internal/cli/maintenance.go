package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dani-farcas/autoDocOrganizer/internal/history"

	apperrors "github.com/dani-farcas/autoDocOrganizer/internal/errors"
)

func newReindexCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the index from the archive tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := opts.loadApp()
			if err != nil {
				return err
			}
			defer application.Close()

			result, err := application.Maintenance.Reindex(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(w, result)
			}
			fmt.Fprintf(w, "✓ Index rebuilt: %d document(s)\n", result.Total)
			fmt.Fprintf(w, "  kept %d, added %d, removed %d\n", result.Kept, result.Added, result.Removed)
			return nil
		},
	}
}

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Move the numbered folders of the old layout into the year tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := opts.loadApp()
			if err != nil {
				return err
			}
			defer application.Close()

			result, err := application.Maintenance.Migrate(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if opts.jsonOutput {
				if err := printJSON(w, result); err != nil {
					return err
				}
			} else if len(result.Folders) == 0 {
				fmt.Fprintln(w, "No legacy folders found.")
			} else {
				fmt.Fprintf(w, "Legacy folders: %d\n", len(result.Folders))
				fmt.Fprintf(w, "Moved files:    %d\n", len(result.Moved))
				fmt.Fprintf(w, "Removed:        %d\n", len(result.Removed))
				for _, f := range result.Failed {
					fmt.Fprintf(w, "  fail  %s\n", f)
				}
			}

			if len(result.Failed) > 0 {
				return fmt.Errorf("%d file(s) could not be moved", len(result.Failed))
			}
			return nil
		},
	}
}

func newHistoryCommand(opts *options) *cobra.Command {
	var (
		limit  int
		failed bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent archival runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.Storage.HistoryPath, nil)
			if err != nil {
				return apperrors.ErrNotConfigured.WithCause(err)
			}
			defer store.Close()

			ctx := cmd.Context()

			var runs []history.Run
			if failed {
				runs, err = store.Failures(ctx, limit)
			} else {
				runs, err = store.Recent(ctx, limit)
			}
			if err != nil {
				return err
			}
			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(w, map[string]interface{}{"runs": runs, "stats": stats})
			}
			printHistory(w, runs, stats)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().BoolVar(&failed, "failed", false, "Only show failed runs")
	return cmd
}

func printHistory(w io.Writer, runs []history.Run, stats *history.Stats) {
	fmt.Fprintln(w, headerStyle.Render("Archival history"))
	fmt.Fprintf(w, "Total: %d  Archived: %d  Failed: %d  Avg: %.0fms\n",
		stats.Total, stats.Archived, stats.Failed, stats.AvgDurationMs)
	fmt.Fprintln(w)

	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		when := r.CreatedAt.Local().Format("2006-01-02 15:04")
		dur := (time.Duration(r.DurationMs) * time.Millisecond).String()
		if r.Status == history.StatusFailed {
			fmt.Fprintf(w, "%s  fail  %-7s %s: %s\n", when, r.Trigger, r.SourcePath, r.Error)
			continue
		}
		fmt.Fprintf(w, "%s  ok    %-7s %s/%s %s (%s)\n", when, r.Trigger, r.Year, r.Institution, r.FinalPath, dim(dur))
	}

	if len(stats.Institutions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("By institution"))
		for _, c := range stats.Institutions {
			fmt.Fprintf(w, "  %5d  %s\n", c.Count, c.Institution)
		}
	}
}

func dim(s string) string {
	return dimStyle.Render(s)
}
