package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/afpanel/internal/catalog"
	"github.com/sells-group/afpanel/internal/config"
	"github.com/sells-group/afpanel/internal/fetcher"
	"github.com/sells-group/afpanel/internal/manifest"
	"github.com/sells-group/afpanel/internal/model"
	"github.com/sells-group/afpanel/internal/panel"
	"github.com/sells-group/afpanel/internal/reference"
	"github.com/sells-group/afpanel/internal/toolkit"
	"github.com/sells-group/afpanel/internal/transfer"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <manifest.tsv>",
	Short: "Merge the manifest's VCFs into one annotated panel",
	Long: "Fetches every file the manifest lists, normalizes and indexes each against the reference, " +
		"merges them with missing genotypes filled as reference, recomputes AN/AC/AF/MAF and publishes " +
		"the sorted, compressed, indexed panel. Any conflict aborts the run.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		applyMergeFlags(cmd, cfg)
		if err := cfg.Validate("merge"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.CreateRun(ctx, model.StageMerge, map[string]any{
			"manifest": args[0],
			"engine":   cfg.Toolkit.Engine,
			"output":   cfg.Merge.OutputName,
		})
		if err != nil {
			return eris.Wrap(err, "merge: create run")
		}

		sum, err := runMerge(ctx, run.ID, args[0])
		if err != nil {
			finishRun(ctx, st, run, nil, nil, err)
			return err
		}

		finishRun(ctx, st, run, &model.RunResult{
			Entries: sum.Inputs,
			Samples: len(sum.Samples),
			Records: int64(sum.Records),
			Output:  sum.Output,
		}, nil, nil)
		return nil
	},
}

func runMerge(ctx context.Context, runID, manifestPath string) (*panel.Summary, error) {
	mc := cfg.Merge

	bundle, err := manifest.LoadBundle(ctx, manifestPath)
	if err != nil {
		return nil, err
	}
	entries := bundle.Entries
	if bundle.Meta != nil {
		zap.L().Info("manifest loaded",
			zap.String("discover_run_id", bundle.Meta.RunID),
			zap.Int("entries", len(entries)),
			zap.Int("validation", len(bundle.Validation)),
			zap.Int("dropped", len(bundle.Decisions)),
		)
	}

	genome, err := reference.Load(ctx, mc.Reference)
	if err != nil {
		return nil, err
	}
	defer genome.Close() //nolint:errcheck

	tk, err := toolkit.New(cfg.Toolkit.Engine, genome, genome, toolkit.BcftoolsConfig{
		Path:      cfg.Toolkit.BcftoolsPath,
		TabixPath: cfg.Toolkit.TabixPath,
		Reference: mc.Reference,
		Threads:   cfg.Toolkit.Threads,
		TempDir:   mc.WorkDir,
	})
	if err != nil {
		return nil, err
	}

	runner := panel.NewRunner(tk, genome, mergeSource(cfg), transfer.Dir{Root: mc.PublishDir}, panel.Config{
		RunID:       runID,
		Engine:      cfg.Toolkit.Engine,
		Concurrency: mc.Concurrency,
		WorkDir:     mc.WorkDir,
		OutputName:  mc.OutputName,
		KeepWorkDir: mc.KeepWorkDir,
	})
	sum, err := runner.Run(ctx, entries)
	if err != nil {
		return nil, err
	}

	zap.L().Info("panel published",
		zap.String("run_id", runID),
		zap.String("output", sum.Output),
		zap.String("index", sum.Index),
		zap.Int("samples", len(sum.Samples)),
		zap.Int("records", sum.Records),
	)
	return sum, nil
}

// mergeSource reads inputs from merge.source_dir when set, otherwise from
// the catalog.
func mergeSource(c *config.Config) transfer.Source {
	if c.Merge.SourceDir != "" {
		return transfer.Dir{Root: c.Merge.SourceDir}
	}
	cat := catalog.NewClient(c.Catalog.Token,
		catalog.WithBaseURL(c.Catalog.BaseURL),
		catalog.WithRateLimit(c.Catalog.RatePerSec),
		catalog.WithRetry(catalogRetry(c.Catalog)),
	)
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:    time.Duration(c.Catalog.TimeoutSecs) * time.Second,
		MaxRetries: c.Catalog.MaxRetries,
		Limiter:    downloadLimiter(c.Catalog.RatePerSec),
	})
	return transfer.NewCatalogSource(cat, f)
}

func applyMergeFlags(cmd *cobra.Command, c *config.Config) {
	fl := cmd.Flags()
	if fl.Changed("reference") {
		c.Merge.Reference, _ = fl.GetString("reference")
	}
	if fl.Changed("engine") {
		c.Toolkit.Engine, _ = fl.GetString("engine")
	}
	if fl.Changed("concurrency") {
		c.Merge.Concurrency, _ = fl.GetInt("concurrency")
	}
	if fl.Changed("source-dir") {
		c.Merge.SourceDir, _ = fl.GetString("source-dir")
	}
	if fl.Changed("publish-dir") {
		c.Merge.PublishDir, _ = fl.GetString("publish-dir")
	}
	if fl.Changed("output") {
		c.Merge.OutputName, _ = fl.GetString("output")
	}
	if fl.Changed("keep-work-dir") {
		c.Merge.KeepWorkDir, _ = fl.GetBool("keep-work-dir")
	}
}

func init() {
	addMergeFlags(mergeCmd)
	rootCmd.AddCommand(mergeCmd)
}

func addMergeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("reference", "r", "", "reference FASTA (overrides merge.reference)")
	f.String("engine", "", "toolkit engine: native or bcftools (overrides toolkit.engine)")
	f.Int("concurrency", 0, "files normalized in parallel (overrides merge.concurrency)")
	f.String("source-dir", "", "read inputs from this directory instead of the catalog")
	f.String("publish-dir", "", "directory the panel is published to (overrides merge.publish_dir)")
	f.StringP("output", "o", "", "published panel file name (overrides merge.output_name)")
	f.Bool("keep-work-dir", false, "keep intermediate files after a successful run")
}
