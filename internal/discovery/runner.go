package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/afpanel/internal/catalog"
	"github.com/sells-group/afpanel/internal/manifest"
	"github.com/sells-group/afpanel/internal/model"
	"github.com/sells-group/afpanel/internal/resilience"
)

// RunnerConfig configures a discovery Runner.
type RunnerConfig struct {
	RunID       string
	Concurrency int
	VCFGlob     string
}

// Runner executes the discovery stage: locate, resolve and classify each
// project with bounded parallelism, then build the manifest single-threaded.
type Runner struct {
	cat        catalog.Catalog
	locator    *Locator
	resolver   *QCResolver
	classifier *Classifier
	dlq        DeadLetters
	cfg        RunnerConfig
}

// NewRunner creates a Runner. dlq may be nil.
func NewRunner(cat catalog.Catalog, locator *Locator, resolver *QCResolver, classifier *Classifier, dlq DeadLetters, cfg RunnerConfig) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.VCFGlob == "" {
		cfg.VCFGlob = "*_markdup_recalibrated_Haplotyper.vcf.gz"
	}
	return &Runner{
		cat:        cat,
		locator:    locator,
		resolver:   resolver,
		classifier: classifier,
		dlq:        dlq,
		cfg:        cfg,
	}
}

// Result is the outcome of a discovery run.
type Result struct {
	Manifest *manifest.Manifest
	Meta     *manifest.Meta
	Projects []ProjectResult
}

// Skipped returns the projects skipped for recoverable errors.
func (r *Result) Skipped() []ProjectResult {
	var out []ProjectResult
	for _, p := range r.Projects {
		if p.Skipped() {
			out = append(out, p)
		}
	}
	return out
}

// Run executes discovery for q. A *model.QcResolutionError skips only the
// affected project; any other error aborts the run.
func (r *Runner) Run(ctx context.Context, q Query) (*Result, error) {
	log := zap.L().With(zap.String("component", "discovery"), zap.String("run_id", r.cfg.RunID), zap.String("assay", q.Assay))

	var projects []model.Project
	for p, err := range r.locator.Locate(ctx, q) {
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	log.Info("located projects", zap.Int("count", len(projects)))

	results := make([]ProjectResult, len(projects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for i, p := range projects {
		g.Go(func() error {
			res, err := r.processProject(gctx, p)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m, err := Build(results)
	if err != nil {
		return nil, err
	}

	res := &Result{Manifest: m, Projects: results}
	res.Meta = buildMeta(r.cfg.RunID, q, results, m)
	log.Info("discovery complete",
		zap.Int("projects", len(projects)),
		zap.Int("skipped", res.Meta.Counts.Skipped),
		zap.Int("entries", len(m.Entries)),
		zap.Int("validation", len(m.Validation)),
		zap.Int("dropped", len(m.Decisions)),
	)
	return res, nil
}

func (r *Runner) processProject(ctx context.Context, p model.Project) (ProjectResult, error) {
	log := zap.L().With(zap.String("project_id", p.ID), zap.String("project", p.Name))
	res := ProjectResult{Project: p}

	for f, err := range r.cat.FindFiles(ctx, catalog.FileQuery{ProjectID: p.ID, NameGlob: r.cfg.VCFGlob}) {
		if err != nil {
			return res, &model.DiscoveryError{Op: "find variant files", ProjectID: p.ID, Err: err}
		}
		res.Files = append(res.Files, model.VariantFile{
			ProjectID: p.ID,
			FileID:    f.ID,
			Name:      f.Name,
			Created:   f.Created,
		})
	}

	qc, err := r.resolver.Resolve(ctx, p)
	if err != nil {
		var qe *model.QcResolutionError
		if !errors.As(err, &qe) {
			return res, err
		}
		log.Error("skipping project, qc unresolved", zap.Error(err))
		res.Err = err
		r.deadLetter(ctx, p, err)
		return res, nil
	}
	res.QC = qc
	res.Classified = r.classifier.Classify(p, res.Files, qc.Table)
	log.Info("project classified",
		zap.Int("files", len(res.Files)),
		zap.Int("kept", len(res.Classified.Kept)),
		zap.Int("validation", len(res.Classified.Validation)),
		zap.Int("dropped", len(res.Classified.Decisions)),
	)
	return res, nil
}

func (r *Runner) deadLetter(ctx context.Context, p model.Project, cause error) {
	if r.dlq == nil {
		return
	}
	entry := resilience.DLQEntry{
		ID:          uuid.NewString(),
		RunID:       r.cfg.RunID,
		ProjectID:   p.ID,
		ProjectName: p.Name,
		Error:       cause.Error(),
		ErrorType:   resilience.ClassifyError(cause),
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.dlq.EnqueueDLQ(ctx, entry); err != nil {
		zap.L().Warn("failed to enqueue dead letter",
			zap.String("project_id", p.ID), zap.Error(eris.Wrap(err, "discovery: enqueue dlq")))
	}
}

func buildMeta(runID string, q Query, results []ProjectResult, m *manifest.Manifest) *manifest.Meta {
	meta := &manifest.Meta{
		RunID:       runID,
		Assay:       q.Assay,
		GeneratedAt: time.Now().UTC(),
		Counts: manifest.Counts{
			Projects:   len(results),
			Entries:    len(m.Entries),
			Validation: len(m.Validation),
			Dropped:    len(m.Decisions),
		},
	}
	if !q.Start.IsZero() {
		start := q.Start
		meta.Start = &start
	}
	if !q.End.IsZero() {
		end := q.End
		meta.End = &end
	}
	for _, r := range sortedResults(results) {
		if r.Skipped() {
			meta.Counts.Skipped++
			meta.Skipped = append(meta.Skipped, manifest.SkippedMeta{ID: r.Project.ID, Name: r.Project.Name, Error: r.Err.Error()})
			continue
		}
		pm := manifest.ProjectMeta{ID: r.Project.ID, Name: r.Project.Name, Created: r.Project.Created}
		if r.QC != nil {
			pm.LegacyProjectID = r.QC.LegacyProjectID
			if r.QC.Artifact != nil {
				pm.QCFileID = r.QC.Artifact.FileID
				pm.QCFileName = r.QC.Artifact.Name
			}
		}
		meta.Projects = append(meta.Projects, pm)
		if r.Classified != nil {
			for _, id := range sortedKeys(r.Classified.Duplicates) {
				meta.Duplicates = append(meta.Duplicates, manifest.DuplicateMeta{
					ProjectID: r.Project.ID, SampleID: id, Files: r.Classified.Duplicates[id],
				})
			}
		}
	}
	return meta
}
