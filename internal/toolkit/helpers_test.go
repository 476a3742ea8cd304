package toolkit

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/biogo/hts/bgzf"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/afpanel/internal/reference"
	"github.com/sells-group/afpanel/internal/vcf"
)

const testMeta = `##fileformat=VCFv4.2
##contig=<ID=chr1,length=300>
##contig=<ID=chr2,length=10>
##INFO=<ID=DP,Number=1,Type=Integer,Description="Depth">
##INFO=<ID=AF,Number=A,Type=Float,Description="Allele frequency">
##FORMAT=<ID=GT,Number=1,Type=String,Description="Genotype">
##FORMAT=<ID=DP,Number=1,Type=Integer,Description="Depth">
##FORMAT=<ID=AD,Number=R,Type=Integer,Description="Allelic depths">
##FORMAT=<ID=PL,Number=G,Type=Integer,Description="Likelihoods">
`

// testGenome: chr1 repeats ACGT, so pos 100 and 200 are T and 150 is C.
// chr2 is CCCAAAAGGG.
func testGenome() *reference.Genome {
	return reference.FromSequences([]string{"chr1", "chr2"}, map[string]string{
		"chr1": strings.Repeat("ACGT", 75),
		"chr2": "CCCAAAAGGG",
	})
}

func newTestNative() *Native {
	g := testGenome()
	return NewNative(g, g)
}

// vcfText renders a VCF with testMeta, the given samples and record lines
// whose columns are separated by spaces.
func vcfText(samples []string, lines ...string) string {
	var b strings.Builder
	b.WriteString(testMeta)
	cols := []string{"#CHROM", "POS", "ID", "REF", "ALT", "QUAL", "FILTER", "INFO"}
	if len(samples) > 0 {
		cols = append(cols, "FORMAT")
		cols = append(cols, samples...)
	}
	b.WriteString(strings.Join(cols, "\t") + "\n")
	for _, l := range lines {
		b.WriteString(strings.Join(strings.Fields(l), "\t") + "\n")
	}
	return b.String()
}

// writeVCF writes a plain VCF built by vcfText.
func writeVCF(t *testing.T, dir, name string, samples []string, lines ...string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(vcfText(samples, lines...)), 0o644))
	return p
}

// writeBGZF writes a BGZF compressed VCF built by vcfText.
func writeBGZF(t *testing.T, dir, name string, samples []string, lines ...string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	require.NoError(t, err)
	w := bgzf.NewWriter(f, 1)
	_, err = w.Write([]byte(vcfText(samples, lines...)))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return p
}

// readRecords parses record lines through a temporary VCF file.
func readRecords(t *testing.T, samples []string, lines ...string) (*vcf.Header, []*vcf.Record) {
	t.Helper()
	h, recs, err := vcf.ReadAll(writeVCF(t, t.TempDir(), "records.vcf", samples, lines...))
	require.NoError(t, err)
	return h, recs
}

// dataLines returns the records of a VCF in row form.
func dataLines(t *testing.T, path string) []string {
	t.Helper()
	_, recs, err := vcf.ReadAll(path)
	require.NoError(t, err)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = recordRow(r)
	}
	return out
}

// recordRow formats every column of rec except QUAL, tab separated.
func recordRow(r *vcf.Record) string {
	alt := strings.Join(r.Alt, ",")
	if alt == "" {
		alt = "."
	}
	info := make([]string, len(r.Info))
	for i, f := range r.Info {
		info[i] = f.Key
		if !f.Flag {
			info[i] += "=" + f.Value
		}
	}
	cols := []string{r.Chrom, strconv.Itoa(r.Pos), r.ID, r.Ref, alt, r.Filter, strings.Join(info, ";")}
	if cols[6] == "" {
		cols[6] = "."
	}
	if len(r.Format) > 0 {
		cols = append(cols, strings.Join(r.Format, ":"))
		for _, s := range r.Samples {
			cols = append(cols, strings.Join(s, ":"))
		}
	}
	return strings.Join(cols, "\t")
}

// row drops the QUAL column from a space separated VCF line to match
// recordRow.
func row(s string) string {
	f := strings.Fields(s)
	return strings.Join(append(f[:5:5], f[6:]...), "\t")
}
