package toolkit

import (
	"context"
	"errors"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/afpanel/internal/model"
	"github.com/sells-group/afpanel/internal/vcf"
)

// Sort implements Toolkit. A contig unknown to the reference is a
// SortCorruptionError.
func (n *Native) Sort(ctx context.Context, in, out string) error {
	h, recs, err := vcf.ReadAll(in)
	if err != nil {
		return eris.Wrap(err, "toolkit: sort")
	}
	for _, rec := range recs {
		if _, ok := n.order.Rank(rec.Chrom); !ok {
			return &model.SortCorruptionError{Contig: rec.Chrom, Pos: rec.Pos, Reason: "contig not in reference"}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n.sortRecords(recs)
	if err := vcf.WriteAll(out, h, recs); err != nil {
		return eris.Wrapf(err, "toolkit: sort %s", in)
	}
	return nil
}

// VerifyOrder streams path and checks that contigs follow reference order,
// each contig forms one block and positions never decrease. It returns the
// number of records.
func VerifyOrder(ctx context.Context, path string, order ContigOrder) (int, error) {
	r, err := vcf.Open(path)
	if err != nil {
		return 0, eris.Wrap(err, "toolkit: verify order")
	}
	defer r.Close() //nolint:errcheck

	var (
		prevChrom string
		prevRank  = -1
		prevPos   int
		done      = make(map[string]bool)
	)
	for i := 0; ; i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return i, err
			}
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return i, nil
		}
		if err != nil {
			return i, eris.Wrapf(err, "toolkit: verify order %s", path)
		}
		if rec.Chrom == prevChrom {
			if rec.Pos < prevPos {
				return i, &model.SortCorruptionError{Contig: rec.Chrom, Pos: rec.Pos, Reason: "position decreases"}
			}
			prevPos = rec.Pos
			continue
		}
		rank, ok := order.Rank(rec.Chrom)
		switch {
		case !ok:
			return i, &model.SortCorruptionError{Contig: rec.Chrom, Pos: rec.Pos, Previous: prevChrom, Reason: "contig not in reference"}
		case done[rec.Chrom]:
			return i, &model.SortCorruptionError{Contig: rec.Chrom, Pos: rec.Pos, Previous: prevChrom, Reason: "contig appears in more than one block"}
		case rank < prevRank:
			return i, &model.SortCorruptionError{Contig: rec.Chrom, Pos: rec.Pos, Previous: prevChrom, Reason: "contig out of reference order"}
		}
		if prevChrom != "" {
			done[prevChrom] = true
		}
		prevChrom, prevRank, prevPos = rec.Chrom, rank, rec.Pos
	}
}
