// Package reference gives random access to a reference genome FASTA and its
// contig order. An uncompressed FASTA with a .fai index is read on demand;
// anything else is parsed with the gonomics FASTA reader and held in memory.
package reference

import (
	"bytes"
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/vertgenlab/gonomics/dna"
	"github.com/vertgenlab/gonomics/fasta"

	"github.com/sells-group/afpanel/internal/fetcher"
)

// Contig is one sequence of the reference, with its .fai layout when the
// sequence is read from disk.
type Contig struct {
	Name      string
	Length    int
	Offset    int64
	LineBases int
	LineWidth int
}

// Genome is a loaded reference.
type Genome struct {
	contigs []Contig
	index   map[string]int
	seqs    map[string][]byte
	file    *os.File
}

// Load opens a reference FASTA. If path+".fai" exists and the FASTA is not
// gzip compressed, sequences are read on demand.
func Load(ctx context.Context, path string) (*Genome, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "reference: open %s", path)
	}
	if !strings.HasSuffix(path, ".gz") {
		if fai, err := os.Open(path + ".fai"); err == nil {
			defer fai.Close() //nolint:errcheck
			contigs, err := ReadFai(ctx, fai)
			if err != nil {
				return nil, eris.Wrapf(err, "reference: read %s.fai", path)
			}
			f, err := os.Open(path)
			if err != nil {
				return nil, eris.Wrapf(err, "reference: open %s", path)
			}
			return newGenome(contigs, nil, f), nil
		}
	}

	contigs, seqs, err := ReadFasta(path)
	if err != nil {
		return nil, err
	}
	return newGenome(contigs, seqs, nil), nil
}

// FromSequences builds an in-memory genome. Contig order follows names.
func FromSequences(names []string, seqs map[string]string) *Genome {
	contigs := make([]Contig, len(names))
	m := make(map[string][]byte, len(names))
	for i, n := range names {
		s := bytes.ToUpper([]byte(seqs[n]))
		contigs[i] = Contig{Name: n, Length: len(s)}
		m[n] = s
	}
	return newGenome(contigs, m, nil)
}

func newGenome(contigs []Contig, seqs map[string][]byte, f *os.File) *Genome {
	idx := make(map[string]int, len(contigs))
	for i, c := range contigs {
		idx[c.Name] = i
	}
	return &Genome{contigs: contigs, index: idx, seqs: seqs, file: f}
}

// ReadFasta reads every sequence of a plain or gzip compressed FASTA. The
// contig name is the first word of the header line.
func ReadFasta(path string) (contigs []Contig, seqs map[string][]byte, err error) {
	var recs []fasta.Fasta
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = eris.Errorf("reference: read %s: %v", path, p)
			}
		}()
		recs = fasta.Read(path)
	}()
	if err != nil {
		return nil, nil, err
	}

	seqs = make(map[string][]byte, len(recs))
	for _, r := range recs {
		fields := strings.Fields(r.Name)
		if len(fields) == 0 {
			return nil, nil, eris.Errorf("reference: read %s: empty sequence name", path)
		}
		name := fields[0]
		if _, dup := seqs[name]; dup {
			return nil, nil, eris.Errorf("reference: read %s: duplicate sequence %s", path, name)
		}
		seq := []byte(strings.ToUpper(dna.BasesToString(r.Seq)))
		contigs = append(contigs, Contig{Name: name, Length: len(seq)})
		seqs[name] = seq
	}
	return contigs, seqs, nil
}

// ReadFai parses a samtools .fai index.
func ReadFai(ctx context.Context, r io.Reader) ([]Contig, error) {
	rows, err := fetcher.ReadAllCSV(ctx, r, fetcher.CSVOptions{Delimiter: '\t'})
	if err != nil {
		return nil, err
	}
	contigs := make([]Contig, 0, len(rows))
	for i, row := range rows {
		if len(row) < 5 {
			return nil, eris.Errorf("reference: fai line %d has %d columns", i+1, len(row))
		}
		nums := make([]int64, 4)
		for j := range nums {
			n, err := strconv.ParseInt(row[j+1], 10, 64)
			if err != nil {
				return nil, eris.Wrapf(err, "reference: fai line %d", i+1)
			}
			nums[j] = n
		}
		contigs = append(contigs, Contig{
			Name:      row[0],
			Length:    int(nums[0]),
			Offset:    nums[1],
			LineBases: int(nums[2]),
			LineWidth: int(nums[3]),
		})
	}
	return contigs, nil
}

// Contigs returns contig names in reference order.
func (g *Genome) Contigs() []string {
	out := make([]string, len(g.contigs))
	for i, c := range g.contigs {
		out[i] = c.Name
	}
	return out
}

// Rank returns the position of a contig in reference order.
func (g *Genome) Rank(name string) (int, bool) {
	i, ok := g.index[name]
	return i, ok
}

// Length returns the length of a contig.
func (g *Genome) Length(name string) (int, bool) {
	i, ok := g.index[name]
	if !ok {
		return 0, false
	}
	return g.contigs[i].Length, true
}

// Fetch returns the upper-cased bases in [start, end], 1-based inclusive.
func (g *Genome) Fetch(name string, start, end int) ([]byte, error) {
	i, ok := g.index[name]
	if !ok {
		return nil, eris.Errorf("reference: unknown contig %s", name)
	}
	c := g.contigs[i]
	if start < 1 || end < start || end > c.Length {
		return nil, eris.Errorf("reference: %s:%d-%d out of range (length %d)", name, start, end, c.Length)
	}
	if g.seqs != nil {
		return bytes.Clone(g.seqs[name][start-1 : end]), nil
	}
	return g.readRange(c, start-1, end)
}

func (g *Genome) readRange(c Contig, from, to int) ([]byte, error) {
	if c.LineBases <= 0 {
		return nil, eris.Errorf("reference: invalid fai line length for %s", c.Name)
	}
	fileOff := func(p int) int64 {
		return c.Offset + int64(p/c.LineBases)*int64(c.LineWidth) + int64(p%c.LineBases)
	}
	begin := fileOff(from)
	last := fileOff(to - 1)
	buf := make([]byte, last-begin+1)
	if _, err := g.file.ReadAt(buf, begin); err != nil {
		return nil, eris.Wrapf(err, "reference: read %s", c.Name)
	}
	out := make([]byte, 0, to-from)
	for _, b := range buf {
		if b != '\n' && b != '\r' {
			out = append(out, b)
		}
	}
	return bytes.ToUpper(out), nil
}

// Close releases the FASTA file handle.
func (g *Genome) Close() error {
	if g.file == nil {
		return nil
	}
	return g.file.Close()
}
