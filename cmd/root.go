package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/afpanel/internal/config"
	"github.com/sells-group/afpanel/internal/model"
	"github.com/sells-group/afpanel/internal/monitoring"
	"github.com/sells-group/afpanel/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "afpanel",
	Short: "Build a population allele-frequency panel",
	Long: "Discovers per-sample variant files across sequencing-run projects, filters them to a " +
		"QC-passed non-validation cohort, and merges them into one normalized, annotated panel.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
}

// finishRun records the run outcome and raises alerts. A store or alert
// failure is logged and never replaces runErr.
func finishRun(ctx context.Context, st store.Store, run *model.Run, result *model.RunResult, skipped []monitoring.SkippedProject, runErr error) {
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("stage", string(run.Stage)))

	if runErr != nil {
		run.Status, run.Error = model.RunStatusFailed, runErr.Error()
		if err := st.FailRun(ctx, run.ID, runErr); err != nil {
			log.Warn("failed to record run failure", zap.Error(err))
		}
	} else {
		run.Status, run.Result = model.RunStatusComplete, result
		if err := st.CompleteRun(ctx, run.ID, result); err != nil {
			log.Warn("failed to record run completion", zap.Error(err))
		}
	}

	checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(cfg.Monitoring))
	checker.Check(ctx, run, skipped)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zap.L().Error("afpanel failed", zap.Error(err), zap.Bool("fatal", model.IsFatal(err)))
		os.Exit(1)
	}
}
