package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/afpanel/internal/resilience"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect projects skipped by discovery",
	Long: "Projects whose QC could not be resolved are queued here. A later discovery run that " +
		"processes the project clears its entry.",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List skipped projects awaiting re-resolution",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		errType, _ := cmd.Flags().GetString("error-type")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: errType, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead letter queue is empty.")
			return nil
		}
		formatDLQ(os.Stdout, entries)
		return nil
	},
}

var dlqResolveCmd = &cobra.Command{
	Use:   "resolve <project-id>...",
	Short: "Remove projects from the dead letter queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.ResolveDLQ(ctx, args...)
		if err != nil {
			return eris.Wrap(err, "dlq resolve")
		}
		fmt.Fprintf(os.Stderr, "Resolved %d of %d project(s).\n", n, len(args))
		return nil
	},
}

func init() {
	dlqListCmd.Flags().String("error-type", "", "filter by error type (transient, permanent)")
	dlqListCmd.Flags().Int("limit", 100, "max number of entries to display")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqResolveCmd)
	rootCmd.AddCommand(dlqCmd)
}

func formatDLQ(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROJECT\tNAME\tTYPE\tRETRIES\tLAST_RUN\tQUEUED\tERROR")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			e.ProjectID,
			e.ProjectName,
			e.ErrorType,
			e.RetryCount,
			truncateID(e.RunID),
			e.CreatedAt.Format("2006-01-02 15:04"),
			e.Error,
		)
	}
	_ = w.Flush()
}
