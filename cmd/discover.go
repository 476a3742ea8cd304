package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/afpanel/internal/catalog"
	"github.com/sells-group/afpanel/internal/config"
	"github.com/sells-group/afpanel/internal/discovery"
	"github.com/sells-group/afpanel/internal/fetcher"
	"github.com/sells-group/afpanel/internal/manifest"
	"github.com/sells-group/afpanel/internal/model"
	"github.com/sells-group/afpanel/internal/monitoring"
	"github.com/sells-group/afpanel/internal/resilience"
	"github.com/sells-group/afpanel/internal/store"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Build the merge manifest from the remote catalog",
	Long: "Locates the assay's projects, resolves each run's QC history, classifies its variant files " +
		"and writes the manifest. Projects whose QC cannot be resolved are skipped and queued for re-resolution.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := applyDiscoverFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate("discover"); err != nil {
			return err
		}

		assay, _ := cmd.Flags().GetString("assay")
		outfile, _ := cmd.Flags().GetString("outfile")
		q, err := discoverQuery(cmd, assay)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.CreateRun(ctx, model.StageDiscover, map[string]any{
			"assay":   assay,
			"start":   q.Start,
			"end":     q.End,
			"outfile": outfile,
		})
		if err != nil {
			return eris.Wrap(err, "discover: create run")
		}

		res, err := runDiscover(ctx, st, run.ID, q, outfile)
		if err != nil {
			finishRun(ctx, st, run, nil, nil, err)
			return err
		}

		skipped := skippedProjects(res)
		result := &model.RunResult{
			Projects:        len(res.Projects),
			SkippedProjects: len(skipped),
			Entries:         len(res.Manifest.Entries),
			Validation:      len(res.Manifest.Validation),
			Dropped:         len(res.Manifest.Decisions),
		}
		finishRun(ctx, st, run, result, skipped, nil)
		return nil
	},
}

// runDiscover executes the discovery stage and writes the manifest. Audit
// writes after the manifest exists are logged, not returned.
func runDiscover(ctx context.Context, st store.Store, runID string, q discovery.Query, outfile string) (*discovery.Result, error) {
	log := zap.L().With(zap.String("component", "discover"), zap.String("run_id", runID))
	dc := cfg.Discovery

	cat := catalog.NewClient(cfg.Catalog.Token,
		catalog.WithBaseURL(cfg.Catalog.BaseURL),
		catalog.WithRateLimit(cfg.Catalog.RatePerSec),
		catalog.WithPageSize(cfg.Catalog.PageSize),
		catalog.WithRetry(catalogRetry(cfg.Catalog)),
	)
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:    time.Duration(cfg.Catalog.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Catalog.MaxRetries,
		Limiter:    downloadLimiter(cfg.Catalog.RatePerSec),
	})

	scheme := model.NameScheme{
		Prefix:            dc.ProjectPrefix,
		BuildSuffix:       dc.BuildSuffix,
		LegacyBuildSuffix: dc.LegacyBuildSuffix,
	}
	classifier, err := discovery.NewClassifier(dc.InstrumentPatterns, dc.SpecimenPatterns, discovery.MostRecentFile)
	if err != nil {
		return nil, err
	}
	resolver := discovery.NewQCResolver(cat, f, scheme, discovery.QCResolverOptions{
		Glob:             dc.QCGlob,
		FallbackSheet:    dc.QCFallbackSheet,
		TempDir:          dc.TempDir,
		RequestUnarchive: cfg.Catalog.RequestUnarchive,
	})
	runner := discovery.NewRunner(cat, discovery.NewLocator(cat, scheme), resolver, classifier, st, discovery.RunnerConfig{
		RunID:       runID,
		Concurrency: dc.Concurrency,
		VCFGlob:     dc.VCFGlob,
	})

	res, err := runner.Run(ctx, q)
	if err != nil {
		return nil, err
	}

	paths, err := manifest.Write(manifest.Layout{
		Dir:            dc.OutputDir,
		EntriesName:    outfile,
		ValidationName: dc.ValidationFileName,
		DecisionsName:  dc.DecisionsFileName,
	}, res.Manifest, res.Meta)
	if err != nil {
		return nil, err
	}
	log.Info("manifest written",
		zap.String("entries", paths.Entries),
		zap.String("validation", paths.Validation),
		zap.String("decisions", paths.Decisions),
		zap.String("meta", paths.Meta),
	)

	if err := st.SaveProjects(ctx, runID, projectOutcomes(res)); err != nil {
		log.Warn("failed to save project outcomes", zap.Error(err))
	}
	if err := st.SaveDecisions(ctx, runID, res.Manifest.Decisions); err != nil {
		log.Warn("failed to save decisions", zap.Error(err))
	}
	if n, err := st.ResolveDLQ(ctx, resolvedProjectIDs(res)...); err != nil {
		log.Warn("failed to resolve dead letters", zap.Error(err))
	} else if n > 0 {
		log.Info("resolved dead letters", zap.Int("count", n))
	}
	return res, nil
}

func catalogRetry(c config.CatalogConfig) resilience.RetryConfig {
	retry := resilience.DefaultRetryConfig()
	if c.MaxRetries > 0 {
		retry.MaxAttempts = c.MaxRetries
	}
	retry.OnRetry = resilience.RetryLogger("catalog", "request")
	return retry
}

func downloadLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSec), max(1, int(perSec)))
}

func discoverQuery(cmd *cobra.Command, assay string) (discovery.Query, error) {
	q := discovery.Query{Assay: assay}
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	var err error
	if q.Start, err = parseDate(start); err != nil {
		return q, eris.Wrap(err, "discover: --start")
	}
	if q.End, err = parseDate(end); err != nil {
		return q, eris.Wrap(err, "discover: --end")
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return q, eris.New("discover: --end is before --start")
	}
	return q, nil
}

var dateLayouts = []string{time.DateOnly, time.RFC3339, "2006-01-02 15:04:05"}

// parseDate accepts a calendar date or an RFC 3339 timestamp. Empty input
// leaves the window open.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unrecognized date %q (want YYYY-MM-DD)", s)
}

func applyDiscoverFlags(cmd *cobra.Command, c *config.Config) error {
	if cmd.Flags().Changed("concurrency") {
		c.Discovery.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
	if cmd.Flags().Changed("output-dir") {
		c.Discovery.OutputDir, _ = cmd.Flags().GetString("output-dir")
	}
	if cmd.Flags().Changed("request-unarchive") {
		c.Catalog.RequestUnarchive, _ = cmd.Flags().GetBool("request-unarchive")
	}
	if outfile, _ := cmd.Flags().GetString("outfile"); outfile == "" {
		return eris.New("discover: --outfile is required")
	}
	return nil
}

func projectOutcomes(res *discovery.Result) []store.ProjectOutcome {
	out := make([]store.ProjectOutcome, 0, len(res.Projects))
	for _, r := range res.Projects {
		o := store.ProjectOutcome{
			ProjectID: r.Project.ID,
			Name:      r.Project.Name,
			Created:   r.Project.Created,
			Files:     len(r.Files),
		}
		if r.Classified != nil {
			o.Kept = len(r.Classified.Kept)
			o.Validation = len(r.Classified.Validation)
			o.Dropped = len(r.Classified.Decisions)
		}
		if r.Err != nil {
			o.Error = r.Err.Error()
		}
		out = append(out, o)
	}
	return out
}

func skippedProjects(res *discovery.Result) []monitoring.SkippedProject {
	var out []monitoring.SkippedProject
	for _, r := range res.Skipped() {
		out = append(out, monitoring.SkippedProject{ID: r.Project.ID, Name: r.Project.Name, Error: r.Err.Error()})
	}
	return out
}

func resolvedProjectIDs(res *discovery.Result) []string {
	var ids []string
	for _, r := range res.Projects {
		if !r.Skipped() {
			ids = append(ids, r.Project.ID)
		}
	}
	return ids
}

func init() {
	addDiscoverFlags(discoverCmd)
	_ = discoverCmd.MarkFlagRequired("assay")
	_ = discoverCmd.MarkFlagRequired("outfile")

	rootCmd.AddCommand(discoverCmd)
}

func addDiscoverFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("assay", "a", "", "assay tag projects are named after (required)")
	f.StringP("start", "s", "", "earliest project creation date (YYYY-MM-DD)")
	f.StringP("end", "e", "", "latest project creation date (YYYY-MM-DD)")
	f.StringP("outfile", "o", "", "name of the manifest file listing the VCFs to merge (required)")
	f.Int("concurrency", 0, "projects processed in parallel (overrides discovery.concurrency)")
	f.String("output-dir", "", "directory the manifest artifacts are written to (overrides discovery.output_dir)")
	f.Bool("request-unarchive", false, "request unarchiving of archived QC workbooks")
}
