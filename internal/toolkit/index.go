package toolkit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/biogo/hts/bgzf"
	"github.com/biogo/hts/bgzf/index"
	"github.com/biogo/hts/csi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/afpanel/internal/model"
)

// IndexSuffix is appended to a VCF path to name its CSI index.
const IndexSuffix = ".csi"

// maxIndexPos is the largest record end a CSI with the default shift and
// depth accepts.
const maxIndexPos = 1<<(csi.DefaultShift+3*csi.DefaultDepth) - 2

// tabix-style configuration stored in the CSI auxiliary data of a VCF index.
const (
	tbxFormatVCF = 2
	tbxColSeq    = 1
	tbxColBeg    = 2
	tbxColEnd    = 0
	tbxMeta      = '#'
)

// Index is a CSI index over the BGZF virtual offsets of a compressed VCF.
type Index struct {
	// Contigs holds contig names by reference ID, in file order.
	Contigs []string

	csi *csi.Index
}

// ContigIndex summarizes one contig of an Index.
type ContigIndex struct {
	Name    string
	Records int
	Chunk   bgzf.Chunk
}

// Lookup returns the summary for a contig.
func (ix *Index) Lookup(contig string) (ContigIndex, bool) {
	rid := ix.refID(contig)
	if rid < 0 {
		return ContigIndex{}, false
	}
	st, ok := ix.csi.ReferenceStats(rid)
	if !ok {
		return ContigIndex{Name: contig}, true
	}
	return ContigIndex{Name: contig, Records: int(st.Mapped), Chunk: st.Chunk}, true
}

// Records returns the number of indexed records.
func (ix *Index) Records() int {
	n := 0
	for _, c := range ix.Contigs {
		if ci, ok := ix.Lookup(c); ok {
			n += ci.Records
		}
	}
	return n
}

func (ix *Index) refID(contig string) int {
	for i, c := range ix.Contigs {
		if c == contig {
			return i
		}
	}
	return -1
}

// Index implements Toolkit. It fails with a SortCorruptionError when path
// is not sorted.
func (n *Native) Index(ctx context.Context, path string) (string, error) {
	ix, err := BuildIndex(ctx, path)
	if err != nil {
		return "", err
	}
	out := path + IndexSuffix
	if err := WriteIndex(out, ix); err != nil {
		return "", err
	}
	return out, nil
}

// span is the extent of one data line, 0-based half-open.
type span struct {
	rid, beg, end int
}

func (s span) RefID() int { return s.rid }
func (s span) Start() int { return s.beg }
func (s span) End() int   { return s.end }

// BuildIndex scans the BGZF compressed VCF at path and returns its index.
func BuildIndex(ctx context.Context, path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "toolkit: index %s", path)
	}
	defer f.Close() //nolint:errcheck
	bg, err := bgzf.NewReader(f, 1)
	if err != nil {
		return nil, eris.Wrapf(err, "toolkit: index %s: not BGZF compressed", path)
	}
	defer bg.Close() //nolint:errcheck

	ix := &Index{csi: csi.New(0, 0)}
	rids := make(map[string]int)
	var (
		cur     string
		last    int
		records int
	)
	for {
		if records%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line, chunk, err := readLine(bg)
		if err != nil && err != io.EOF {
			return nil, eris.Wrapf(err, "toolkit: index %s", path)
		}
		if len(line) > 0 && line[0] != tbxMeta {
			chrom, beg, end, perr := lineSpan(line)
			if perr != nil {
				return nil, eris.Wrapf(perr, "toolkit: index %s", path)
			}
			if chrom != cur {
				if _, seen := rids[chrom]; seen {
					return nil, &model.SortCorruptionError{
						Contig: chrom, Pos: beg, Previous: cur,
						Reason: "contig appears in more than one block",
					}
				}
				rids[chrom] = len(ix.Contigs)
				ix.Contigs = append(ix.Contigs, chrom)
				cur, last = chrom, 0
			} else if beg < last {
				return nil, &model.SortCorruptionError{
					Contig: chrom, Pos: beg,
					Reason: "position decreases",
				}
			}
			last = beg
			if end > maxIndexPos {
				end = maxIndexPos
			}
			if err := ix.csi.Add(span{rid: rids[chrom], beg: beg - 1, end: end}, chunk, true, true); err != nil {
				return nil, eris.Wrapf(err, "toolkit: index %s:%d", chrom, beg)
			}
			records++
		}
		if err == io.EOF {
			break
		}
	}
	ix.csi.Auxilliary = vcfAux(ix.Contigs)
	return ix, nil
}

// readLine reads one line and the chunk spanning it, newline included.
func readLine(bg *bgzf.Reader) ([]byte, bgzf.Chunk, error) {
	var (
		buf   []byte
		chunk bgzf.Chunk
	)
	for started := false; ; started = true {
		b, err := bg.ReadByte()
		if err != nil {
			chunk.End = bg.LastChunk().End
			return buf, chunk, err
		}
		if !started {
			chunk.Begin = bg.LastChunk().Begin
		}
		if b == '\n' {
			chunk.End = bg.LastChunk().End
			return bytes.TrimSuffix(buf, []byte{'\r'}), chunk, nil
		}
		buf = append(buf, b)
	}
}

// lineSpan returns the contig and 1-based inclusive extent of a data line.
// The extent ends at INFO END when present, otherwise at the end of REF.
func lineSpan(line []byte) (chrom string, beg, end int, err error) {
	cols := strings.SplitN(string(line), "\t", 9)
	if len(cols) < 8 {
		return "", 0, 0, eris.Errorf("record has %d columns", len(cols))
	}
	beg, err = strconv.Atoi(cols[1])
	if err != nil || beg < 1 {
		return "", 0, 0, eris.Errorf("invalid position %q", cols[1])
	}
	end = beg + len(cols[3]) - 1
	for _, f := range strings.Split(cols[7], ";") {
		if v, ok := strings.CutPrefix(f, "END="); ok {
			if e, err := strconv.Atoi(v); err == nil && e >= beg {
				end = e
			}
		}
	}
	return cols[0], beg, end, nil
}

// vcfAux encodes the tabix configuration and contig names that tabix and
// bcftools expect in the auxiliary data of a VCF CSI.
func vcfAux(names []string) []byte {
	var nm bytes.Buffer
	for _, n := range names {
		nm.WriteString(n)
		nm.WriteByte(0)
	}
	var b bytes.Buffer
	for _, v := range []int32{tbxFormatVCF, tbxColSeq, tbxColBeg, tbxColEnd, tbxMeta, 0, int32(nm.Len())} {
		_ = binary.Write(&b, binary.LittleEndian, v)
	}
	b.Write(nm.Bytes())
	return b.Bytes()
}

// auxNames decodes the contig names written by vcfAux.
func auxNames(aux []byte) ([]string, error) {
	const conf = 7 * 4
	if len(aux) < conf {
		return nil, eris.New("auxiliary data too short")
	}
	n := int(binary.LittleEndian.Uint32(aux[conf-4 : conf]))
	if len(aux) < conf+n {
		return nil, eris.New("truncated contig names")
	}
	names := strings.Split(string(aux[conf:conf+n]), "\x00")
	if len(names) > 0 && names[len(names)-1] == "" {
		names = names[:len(names)-1]
	}
	return names, nil
}

// WriteIndex writes ix as a BGZF compressed CSI file.
func WriteIndex(path string, ix *Index) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "toolkit: write index %s", path)
	}
	bw := bgzf.NewWriter(f, 1)
	if err := csi.WriteTo(bw, ix.csi); err != nil {
		_ = bw.Close()
		_ = f.Close()
		return eris.Wrapf(err, "toolkit: write index %s", path)
	}
	if err := bw.Close(); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "toolkit: write index %s", path)
	}
	return eris.Wrapf(f.Close(), "toolkit: write index %s", path)
}

// ReadIndex reads a CSI index written by WriteIndex, bcftools or tabix.
func ReadIndex(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "toolkit: read index %s", path)
	}
	defer f.Close() //nolint:errcheck
	bg, err := bgzf.NewReader(f, 1)
	if err != nil {
		return nil, eris.Wrapf(err, "toolkit: read index %s", path)
	}
	defer bg.Close() //nolint:errcheck

	c, err := csi.ReadFrom(bg)
	if err != nil {
		return nil, eris.Wrapf(err, "toolkit: parse index %s", path)
	}
	names, err := auxNames(c.Auxilliary)
	if err != nil {
		return nil, eris.Wrapf(err, "toolkit: parse index %s", path)
	}
	if len(names) < c.NumRefs() {
		return nil, eris.Errorf("toolkit: parse index %s: %d contig names for %d references", path, len(names), c.NumRefs())
	}
	return &Index{Contigs: names, csi: c}, nil
}

// Query returns the data lines of the compressed VCF at path that overlap
// contig:beg-end, 1-based inclusive, reading only the chunks ix selects.
func (ix *Index) Query(ctx context.Context, path, contig string, beg, end int) ([]string, error) {
	rid := ix.refID(contig)
	if rid < 0 {
		return nil, nil
	}
	chunks := ix.csi.Chunks(rid, beg-1, min(end, maxIndexPos))
	if len(chunks) == 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "toolkit: query %s", path)
	}
	defer f.Close() //nolint:errcheck
	bg, err := bgzf.NewReader(f, 1)
	if err != nil {
		return nil, eris.Wrapf(err, "toolkit: query %s", path)
	}
	defer bg.Close() //nolint:errcheck
	cr, err := index.NewChunkReader(bg, chunks)
	if err != nil {
		return nil, eris.Wrapf(err, "toolkit: query %s", path)
	}

	var out []string
	sc := bufio.NewScanner(cr)
	sc.Buffer(make([]byte, 0, 64<<10), 64<<20)
	for sc.Scan() {
		if len(out)%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := sc.Bytes()
		if len(line) == 0 || line[0] == tbxMeta {
			continue
		}
		chrom, b, e, err := lineSpan(line)
		if err != nil {
			return nil, eris.Wrapf(err, "toolkit: query %s", path)
		}
		if chrom == contig && b <= end && e >= beg {
			out = append(out, string(line))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "toolkit: query %s", path)
	}
	return out, nil
}

// VerifyIndex checks that the index at idxPath addresses every one of the
// want records of path, contig by contig.
func VerifyIndex(ctx context.Context, path, idxPath string, want int) error {
	ix, err := ReadIndex(idxPath)
	if err != nil {
		return err
	}
	got := 0
	for _, c := range ix.Contigs {
		lines, err := ix.Query(ctx, path, c, 1, maxIndexPos)
		if err != nil {
			return err
		}
		got += len(lines)
	}
	if got != want {
		return eris.Errorf("toolkit: index %s addresses %d of %d records", idxPath, got, want)
	}
	return nil
}
