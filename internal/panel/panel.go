// Package panel runs the merge stage: fetch and normalize every manifest
// entry in parallel, merge them in manifest order, recompute aggregate
// statistics and publish the sorted, indexed panel.
package panel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/afpanel/internal/manifest"
	"github.com/sells-group/afpanel/internal/toolkit"
	"github.com/sells-group/afpanel/internal/transfer"
	"github.com/sells-group/afpanel/internal/vcf"
)

// SummaryName is the name of the run summary published next to the panel.
const SummaryName = "run_summary.yaml"

// Config configures a Runner.
type Config struct {
	RunID       string
	Engine      string
	Concurrency int
	WorkDir     string
	OutputName  string
	KeepWorkDir bool
}

// Runner executes the merge stage.
type Runner struct {
	tk    toolkit.Toolkit
	order toolkit.ContigOrder
	src   transfer.Source
	sink  transfer.Sink
	cfg   Config
}

// NewRunner creates a Runner.
func NewRunner(tk toolkit.Toolkit, order toolkit.ContigOrder, src transfer.Source, sink transfer.Sink, cfg Config) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "merged.vcf.gz"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "afpanel")
	}
	return &Runner{tk: tk, order: order, src: src, sink: sink, cfg: cfg}
}

// Summary describes a published panel.
type Summary struct {
	RunID       string    `yaml:"run_id"`
	Engine      string    `yaml:"engine,omitempty"`
	Inputs      int       `yaml:"inputs"`
	Samples     []string  `yaml:"samples"`
	Records     int       `yaml:"records"`
	Output      string    `yaml:"output"`
	Index       string    `yaml:"index"`
	StartedAt   time.Time `yaml:"started_at"`
	CompletedAt time.Time `yaml:"completed_at"`
}

// Run merges entries into one published panel. Any error is fatal.
func (r *Runner) Run(ctx context.Context, entries []manifest.Entry) (*Summary, error) {
	if len(entries) == 0 {
		return nil, eris.New("panel: manifest has no entries")
	}
	log := zap.L().With(zap.String("component", "panel"), zap.String("run_id", r.cfg.RunID))
	started := time.Now().UTC()

	work := filepath.Join(r.cfg.WorkDir, r.cfg.RunID)
	for _, d := range []string{"inputs", "normalized"} {
		if err := os.MkdirAll(filepath.Join(work, d), 0o755); err != nil {
			return nil, eris.Wrapf(err, "panel: create work dir %s", work)
		}
	}
	if !r.cfg.KeepWorkDir {
		defer os.RemoveAll(work) //nolint:errcheck
	}

	normalized, err := r.prepare(ctx, work, entries)
	if err != nil {
		return nil, err
	}
	log.Info("inputs normalized", zap.Int("files", len(normalized)))

	merged := filepath.Join(work, "merged.vcf.gz")
	if err := r.tk.Merge(ctx, normalized, merged); err != nil {
		return nil, eris.Wrap(err, "panel: merge")
	}
	annotated := filepath.Join(work, "annotated.vcf.gz")
	if err := r.tk.Annotate(ctx, merged, annotated); err != nil {
		return nil, eris.Wrap(err, "panel: annotate")
	}

	sum, err := r.publish(ctx, work, annotated)
	if err != nil {
		return nil, err
	}
	sum.RunID = r.cfg.RunID
	sum.Engine = r.cfg.Engine
	sum.Inputs = len(entries)
	sum.StartedAt = started
	sum.CompletedAt = time.Now().UTC()

	if err := r.pushSummary(ctx, work, sum); err != nil {
		return nil, err
	}
	log.Info("panel published",
		zap.String("output", sum.Output),
		zap.Int("samples", len(sum.Samples)),
		zap.Int("records", sum.Records),
	)
	return sum, nil
}

// prepare fetches, normalizes and indexes each entry. The returned paths
// follow manifest order.
func (r *Runner) prepare(ctx context.Context, work string, entries []manifest.Entry) ([]string, error) {
	out := make([]string, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for i, e := range entries {
		g.Go(func() error {
			log := zap.L().With(
				zap.String("project_id", e.ProjectID),
				zap.String("file_id", e.FileID),
				zap.String("sample_id", e.SampleID),
			)
			base := fmt.Sprintf("%05d_%s.vcf.gz", i, e.SampleID)
			raw := filepath.Join(work, "inputs", base)
			h := transfer.Handle{ProjectID: e.ProjectID, FileID: e.FileID, Name: e.FileName}
			if _, err := r.src.Fetch(gctx, h, raw); err != nil {
				return eris.Wrapf(err, "panel: fetch sample %s", e.SampleID)
			}
			norm := filepath.Join(work, "normalized", base)
			if err := r.tk.Normalize(gctx, raw, norm); err != nil {
				return eris.Wrapf(err, "panel: normalize sample %s", e.SampleID)
			}
			if _, err := r.tk.Index(gctx, norm); err != nil {
				return eris.Wrapf(err, "panel: index sample %s", e.SampleID)
			}
			if !r.cfg.KeepWorkDir {
				_ = os.Remove(raw)
			}
			log.Debug("sample normalized")
			out[i] = norm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// publish sorts, verifies, indexes and pushes the panel. The index must
// address every record the order check counted.
func (r *Runner) publish(ctx context.Context, work, annotated string) (*Summary, error) {
	sorted := filepath.Join(work, r.cfg.OutputName)
	if err := r.tk.Sort(ctx, annotated, sorted); err != nil {
		return nil, eris.Wrap(err, "panel: sort")
	}
	records, err := toolkit.VerifyOrder(ctx, sorted, r.order)
	if err != nil {
		return nil, eris.Wrap(err, "panel: verify order")
	}
	idx, err := r.tk.Index(ctx, sorted)
	if err != nil {
		return nil, eris.Wrap(err, "panel: index")
	}
	if err := toolkit.VerifyIndex(ctx, sorted, idx, records); err != nil {
		return nil, eris.Wrap(err, "panel: verify index")
	}
	samples, err := readSamples(sorted)
	if err != nil {
		return nil, err
	}

	out, err := r.sink.Push(ctx, sorted, r.cfg.OutputName)
	if err != nil {
		return nil, eris.Wrap(err, "panel: push output")
	}
	idxName := r.cfg.OutputName + strings.TrimPrefix(idx, sorted)
	idxOut, err := r.sink.Push(ctx, idx, idxName)
	if err != nil {
		return nil, eris.Wrap(err, "panel: push index")
	}
	return &Summary{Samples: samples, Records: records, Output: out, Index: idxOut}, nil
}

func (r *Runner) pushSummary(ctx context.Context, work string, sum *Summary) error {
	data, err := yaml.Marshal(sum)
	if err != nil {
		return eris.Wrap(err, "panel: marshal summary")
	}
	path := filepath.Join(work, SummaryName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "panel: write summary")
	}
	if _, err := r.sink.Push(ctx, path, SummaryName); err != nil {
		return eris.Wrap(err, "panel: push summary")
	}
	return nil
}

// ReadSummary parses a published run summary.
func ReadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "panel: read summary %s", path)
	}
	var s Summary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrapf(err, "panel: parse summary %s", path)
	}
	return &s, nil
}

func readSamples(path string) ([]string, error) {
	r, err := vcf.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "panel: read samples")
	}
	defer r.Close() //nolint:errcheck
	return r.Header.Samples, nil
}
