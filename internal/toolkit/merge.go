package toolkit

import (
	"container/heap"
	"context"
	"errors"
	"io"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/afpanel/internal/model"
	"github.com/sells-group/afpanel/internal/vcf"
)

// cursor is one open merge input.
type cursor struct {
	idx    int
	path   string
	name   string // sample names, for error messages
	r      *vcf.Reader
	rec    *vcf.Record
	key    recordKey
	offset int // first output sample column of this input
}

type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }
func (h cursorHeap) Less(i, j int) bool {
	if c := compareKeys(h[i].key, h[j].key); c != 0 {
		return c < 0
	}
	return h[i].idx < h[j].idx
}
func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x any)   { *h = append(*h, x.(*cursor)) }
func (h *cursorHeap) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}

// advance reads the next record of c, skipping records with the same key
// as the current one. It returns false at end of input.
func (n *Native) advance(c *cursor) (bool, error) {
	for {
		rec, err := c.r.Read()
		if errors.Is(err, io.EOF) {
			c.rec = nil
			return false, nil
		}
		if err != nil {
			return false, eris.Wrapf(err, "toolkit: merge read %s", c.path)
		}
		k := n.key(rec)
		if c.rec != nil {
			switch cmp := compareKeys(k, c.key); {
			case cmp < 0:
				return false, eris.Errorf("toolkit: merge input %s is not sorted at %s:%d", c.path, rec.Chrom, rec.Pos)
			case cmp == 0:
				n.log.Debug("skipping duplicate record", zap.String("file", c.path),
					zap.String("chrom", rec.Chrom), zap.Int("pos", rec.Pos))
				continue
			}
		}
		c.rec, c.key = rec, k
		return true, nil
	}
}

// Merge implements Toolkit. Samples absent at a record are filled with a
// homozygous reference genotype.
func (n *Native) Merge(ctx context.Context, inputs []string, out string) error {
	if len(inputs) == 0 {
		return eris.New("toolkit: merge needs at least one input")
	}
	cursors := make([]*cursor, 0, len(inputs))
	defer func() {
		for _, c := range cursors {
			_ = c.r.Close()
		}
	}()

	owner := make(map[string]string)
	var samples []string
	var hdr *vcf.Header
	for i, path := range inputs {
		r, err := vcf.Open(path)
		if err != nil {
			return eris.Wrap(err, "toolkit: merge")
		}
		c := &cursor{idx: i, path: path, r: r, offset: len(samples), name: path}
		if len(r.Header.Samples) > 0 {
			c.name = strings.Join(r.Header.Samples, ",")
		}
		cursors = append(cursors, c)
		for _, s := range r.Header.Samples {
			if prev, dup := owner[s]; dup {
				return &model.MergeConflictError{
					Samples: []string{s},
					Reason:  "sample " + s + " provided by " + prev + " and " + path,
				}
			}
			owner[s] = path
			samples = append(samples, s)
		}
		if hdr == nil {
			hdr = r.Header.Clone()
		} else {
			hdr.AddMissing(r.Header)
		}
	}
	hdr.Samples = samples
	hdr.RemoveMeta("INFO", vcf.AggregateKeys...)

	w, err := vcf.Create(out, hdr)
	if err != nil {
		return eris.Wrap(err, "toolkit: merge")
	}

	h := make(cursorHeap, 0, len(cursors))
	for _, c := range cursors {
		ok, err := n.advance(c)
		if err != nil {
			_ = w.Close()
			return err
		}
		if ok {
			h = append(h, c)
		}
	}
	heap.Init(&h)

	var site siteRefs
	var written int
	for h.Len() > 0 {
		if written%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				_ = w.Close()
				return err
			}
		}
		group := []*cursor{heap.Pop(&h).(*cursor)}
		for h.Len() > 0 && compareKeys(h[0].key, group[0].key) == 0 {
			group = append(group, heap.Pop(&h).(*cursor))
		}
		for _, c := range group {
			if err := site.check(c.rec, c.name); err != nil {
				_ = w.Close()
				return err
			}
		}
		if err := w.Write(mergeGroup(group, len(samples))); err != nil {
			_ = w.Close()
			return err
		}
		written++
		for _, c := range group {
			ok, err := n.advance(c)
			if err != nil {
				_ = w.Close()
				return err
			}
			if ok {
				heap.Push(&h, c)
			}
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	n.log.Info("merged",
		zap.Int("inputs", len(inputs)),
		zap.Int("samples", len(samples)),
		zap.Int("records", written),
	)
	return nil
}

// siteRefs tracks the REF alleles seen at the current position.
type siteRefs struct {
	chrom string
	pos   int
	refs  []string
	from  []string
}

// check fails when rec's REF is incompatible with a REF already seen at the
// same position. Two REFs are compatible when one is a prefix of the other.
func (s *siteRefs) check(rec *vcf.Record, sample string) error {
	if rec.Chrom != s.chrom || rec.Pos != s.pos {
		s.chrom, s.pos = rec.Chrom, rec.Pos
		s.refs, s.from = s.refs[:0], s.from[:0]
	}
	for i, ref := range s.refs {
		if !strings.HasPrefix(ref, rec.Ref) && !strings.HasPrefix(rec.Ref, ref) {
			return &model.MergeConflictError{
				Contig:  rec.Chrom,
				Pos:     rec.Pos,
				Samples: []string{s.from[i], sample},
				Alleles: []string{ref, rec.Ref},
				Reason:  "reference alleles disagree",
			}
		}
	}
	if !slices.Contains(s.refs, rec.Ref) {
		s.refs = append(s.refs, rec.Ref)
		s.from = append(s.from, sample)
	}
	return nil
}

// mergeGroup builds one output record from records sharing a key.
func mergeGroup(group []*cursor, nsamples int) *vcf.Record {
	first := group[0].rec
	out := &vcf.Record{
		Chrom:  first.Chrom,
		Pos:    first.Pos,
		Ref:    first.Ref,
		Alt:    slices.Clone(first.Alt),
		Qual:   first.Qual,
		Filter: first.Filter,
		Info:   slices.Clone(first.Info),
		Format: []string{"GT"},
	}
	out.DeleteInfo(vcf.AggregateKeys...)
	for _, c := range group {
		if out.ID == "" || out.ID == "." {
			out.ID = c.rec.ID
		}
		for _, k := range c.rec.Format {
			if !slices.Contains(out.Format, k) {
				out.Format = append(out.Format, k)
			}
		}
	}

	out.Samples = make([][]string, nsamples)
	for i := range out.Samples {
		vals := make([]string, len(out.Format))
		vals[0] = vcf.HomRef().String()
		for j := 1; j < len(vals); j++ {
			vals[j] = "."
		}
		out.Samples[i] = vals
	}
	for _, c := range group {
		for s := range c.rec.Samples {
			for _, k := range c.rec.Format {
				out.SetSampleValue(c.offset+s, k, c.rec.SampleValue(s, k))
			}
		}
	}
	return out
}
