package vcf

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/biogo/hts/bgzf"
	"github.com/rotisserie/eris"
	"github.com/vertgenlab/gonomics/fileio"
	gvcf "github.com/vertgenlab/gonomics/vcf"
)

// guard runs a gonomics call and turns its panic into an error.
func guard(op string, fn func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = eris.Errorf("vcf: %s: %v", op, p)
		}
	}()
	fn()
	return nil
}

// Reader reads records from a VCF file.
type Reader struct {
	Header *Header

	path string
	er   *fileio.EasyReader
	line int
}

// Open opens a plain or gzip/BGZF compressed VCF and reads its header.
// Paths ending in .gz are decompressed.
func Open(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "vcf: open %s", path)
	}
	r := &Reader{path: path}
	if err := guard("open "+path, func() { r.er = fileio.EasyOpen(path) }); err != nil {
		return nil, err
	}

	var gh gvcf.Header
	if err := guard("read header "+path, func() { gh = gvcf.ReadHeader(r.er) }); err != nil {
		_ = r.er.Close()
		return nil, err
	}
	h, ok := headerFromText(gh.Text)
	if !ok {
		_ = r.er.Close()
		return nil, eris.Errorf("vcf: %s: missing #CHROM header line", path)
	}
	r.Header = h
	return r, nil
}

// Read returns the next record, or io.EOF.
func (r *Reader) Read() (*Record, error) {
	var (
		v    gvcf.Vcf
		done bool
	)
	r.line++
	if err := guard("read record", func() { v, done = gvcf.NextVcf(r.er) }); err != nil {
		return nil, eris.Wrapf(err, "vcf: %s record %d", r.path, r.line)
	}
	if done {
		return nil, io.EOF
	}
	return fromVcf(v), nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.er.Close()
}

// ReadAll reads a whole VCF file into memory.
func ReadAll(path string) (*Header, []*Record, error) {
	r, err := Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close() //nolint:errcheck

	var recs []*Record
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return r.Header, recs, nil
		}
		if err != nil {
			return nil, nil, err
		}
		recs = append(recs, rec)
	}
}

// Writer writes a VCF stream.
type Writer struct {
	bw      *bufio.Writer
	closers []io.Closer
}

// NewWriter writes h to w and returns a Writer for records.
func NewWriter(w io.Writer, h *Header) (*Writer, error) {
	vw := &Writer{bw: bufio.NewWriterSize(w, 1<<16)}
	if err := guard("write header", func() { gvcf.NewWriteHeader(vw.bw, h.text()) }); err != nil {
		return nil, err
	}
	return vw, nil
}

// Create creates path and writes h. Paths ending in .gz are BGZF compressed.
func Create(path string, h *Header) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vcf: create %s", path)
	}
	closers := []io.Closer{f}
	var dst io.Writer = f
	if strings.HasSuffix(path, ".gz") {
		bg := bgzf.NewWriter(f, 1)
		closers = append([]io.Closer{bg}, closers...)
		dst = bg
	}
	w, err := NewWriter(dst, h)
	if err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, err
	}
	w.closers = closers
	return w, nil
}

// Write appends one record.
func (w *Writer) Write(rec *Record) error {
	return guard("write record", func() { gvcf.WriteVcf(w.bw, rec.toVcf()) })
}

// Close flushes buffered data, finishes compression and closes the file.
func (w *Writer) Close() error {
	err := w.bw.Flush()
	for _, c := range w.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return eris.Wrap(err, "vcf: close writer")
}

// WriteAll writes a header and records to path.
func WriteAll(path string, h *Header, recs []*Record) error {
	w, err := Create(path, h)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}
