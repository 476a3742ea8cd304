package panel

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/biogo/hts/bgzf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/sells-group/afpanel/internal/manifest"
	"github.com/sells-group/afpanel/internal/model"
	"github.com/sells-group/afpanel/internal/reference"
	"github.com/sells-group/afpanel/internal/toolkit"
	"github.com/sells-group/afpanel/internal/transfer"
	"github.com/sells-group/afpanel/internal/vcf"
)

func TestMain(m *testing.M) {
	zap.ReplaceGlobals(zap.NewNop())
	goleak.VerifyTestMain(m)
}

const header = "##fileformat=VCFv4.2\n##contig=<ID=chr1,length=300>\n" +
	"##FORMAT=<ID=GT,Number=1,Type=String,Description=\"Genotype\">\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\t"

type fixture struct {
	source  string
	publish string
	work    string
	runner  *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		source:  filepath.Join(root, "source"),
		publish: filepath.Join(root, "published"),
		work:    filepath.Join(root, "work"),
	}
	g := reference.FromSequences([]string{"chr1"}, map[string]string{"chr1": strings.Repeat("ACGT", 75)})
	f.runner = NewRunner(toolkit.NewNative(g, g), g,
		transfer.Dir{Root: f.source}, transfer.Dir{Root: f.publish},
		Config{RunID: "run-1", Engine: "native", Concurrency: 2, WorkDir: f.work, OutputName: "panel.vcf.gz"})
	return f
}

// addSample stores a BGZF compressed single-sample VCF under
// source/<project>/<name>.
func (f *fixture) addSample(t *testing.T, project, sample string, records ...string) manifest.Entry {
	t.Helper()
	var b strings.Builder
	b.WriteString(header + sample + "\n")
	for _, r := range records {
		b.WriteString(strings.Join(strings.Fields(r), "\t") + "\n")
	}
	name := sample + "_markdup_recalibrated_Haplotyper.vcf.gz"
	dir := filepath.Join(f.source, project)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	out, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	w := bgzf.NewWriter(out, 1)
	_, err = w.Write([]byte(b.String()))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, out.Close())
	return manifest.Entry{ProjectID: project, FileID: "file-" + sample, SampleID: sample, FileName: name}
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	entries := []manifest.Entry{
		f.addSample(t, "project-1", "B",
			"chr1 150 . C A . PASS . GT 0/1",
			"chr1 200 . T G,C . PASS . GT 1/2",
		),
		f.addSample(t, "project-2", "A",
			"chr1 100 . T C . PASS AF=0.5 GT 0/1",
			"chr1 200 . T G . PASS . GT 1/1",
		),
	}

	sum, err := f.runner.Run(context.Background(), entries)
	require.NoError(t, err)

	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, 2, sum.Inputs)
	assert.Equal(t, []string{"B", "A"}, sum.Samples, "manifest order")
	assert.Equal(t, 4, sum.Records)
	assert.Equal(t, filepath.Join(f.publish, "panel.vcf.gz"), sum.Output)
	assert.Equal(t, filepath.Join(f.publish, "panel.vcf.gz.csi"), sum.Index)
	assert.FileExists(t, sum.Index)

	_, recs, err := vcf.ReadAll(sum.Output)
	require.NoError(t, err)
	got := make([]string, len(recs))
	for i, r := range recs {
		ac, _ := r.InfoValue("AC")
		af, _ := r.InfoValue("AF")
		got[i] = strings.Join([]string{r.Alt[0], r.SampleValue(0, "GT"), r.SampleValue(1, "GT"), ac, af}, " ")
	}
	assert.Equal(t, []string{
		"C 0/0 0/1 1 0.25",
		"A 0/1 0/0 1 0.25",
		"C 0/1 0/0 1 0.25",
		"G 1/0 1/1 3 0.75",
	}, got)

	stored, err := ReadSummary(filepath.Join(f.publish, SummaryName))
	require.NoError(t, err)
	assert.Equal(t, sum.Records, stored.Records)
	assert.Equal(t, sum.Samples, stored.Samples)

	_, err = os.Stat(filepath.Join(f.work, "run-1"))
	assert.True(t, os.IsNotExist(err), "work dir removed")
}

func TestRun_MergeConflictIsFatal(t *testing.T) {
	f := newFixture(t)
	entries := []manifest.Entry{
		f.addSample(t, "project-1", "A", "chr1 100 . T C . PASS . GT 0/1"),
		f.addSample(t, "project-1", "B", "chr1 100 . G C . PASS . GT 0/1"),
	}

	_, err := f.runner.Run(context.Background(), entries)
	var mc *model.MergeConflictError
	require.ErrorAs(t, err, &mc)
	assert.Equal(t, 100, mc.Pos)
	assert.NoFileExists(t, filepath.Join(f.publish, "panel.vcf.gz"))
}

func TestRun_FetchFailure(t *testing.T) {
	f := newFixture(t)
	entries := []manifest.Entry{
		f.addSample(t, "project-1", "A", "chr1 100 . T C . PASS . GT 0/1"),
		{ProjectID: "project-1", FileID: "file-Z", SampleID: "Z", FileName: "missing.vcf.gz"},
	}
	_, err := f.runner.Run(context.Background(), entries)
	assert.ErrorContains(t, err, "panel: fetch sample Z")
}

func TestRun_NoEntries(t *testing.T) {
	_, err := newFixture(t).runner.Run(context.Background(), nil)
	assert.ErrorContains(t, err, "no entries")
}

func TestRun_KeepWorkDir(t *testing.T) {
	f := newFixture(t)
	f.runner.cfg.KeepWorkDir = true
	entries := []manifest.Entry{f.addSample(t, "project-1", "A", "chr1 100 . T C . PASS . GT 0/1")}

	_, err := f.runner.Run(context.Background(), entries)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(f.work, "run-1", "normalized", "00000_A.vcf.gz"))
	assert.FileExists(t, filepath.Join(f.work, "run-1", "inputs", "00000_A.vcf.gz"))
}
