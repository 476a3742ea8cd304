package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/afpanel/internal/manifest"
	"github.com/sells-group/afpanel/internal/model"
	"github.com/sells-group/afpanel/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect discovery and merge run history",
	Long:  "Commands for listing runs, viewing one run, and listing the files a discovery run dropped.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stage, _ := cmd.Flags().GetString("stage")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Stage:  model.Stage(stage),
			Status: model.RunStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs decisions --

var runsDecisionsCmd = &cobra.Command{
	Use:   "decisions <run-id>",
	Short: "List the files a discovery run dropped, as TSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		decisions, err := st.ListDecisions(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs decisions")
		}
		return manifest.WriteDecisions(os.Stdout, decisions)
	},
}

func init() {
	runsListCmd.Flags().String("stage", "", "filter by stage (discover, merge)")
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDecisionsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTAGE\tSTATUS\tSTARTED\tDURATION\tSUMMARY")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t-------\t--------\t-------")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Stage,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			runSummary(r),
		)
	}
	_ = w.Flush()
}

// runSummary is a one-line description of a run's outcome.
func runSummary(r model.Run) string {
	if r.Status == model.RunStatusFailed {
		msg := r.Error
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		return msg
	}
	if r.Result == nil {
		return ""
	}
	switch r.Stage {
	case model.StageDiscover:
		return fmt.Sprintf("%d projects (%d skipped), %d entries, %d dropped",
			r.Result.Projects, r.Result.SkippedProjects, r.Result.Entries, r.Result.Dropped)
	case model.StageMerge:
		return fmt.Sprintf("%d samples, %d records -> %s", r.Result.Samples, r.Result.Records, r.Result.Output)
	}
	return ""
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
