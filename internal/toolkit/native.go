package toolkit

import (
	"cmp"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/afpanel/internal/vcf"
)

// Sequence returns reference bases for a 1-based inclusive range.
type Sequence interface {
	Fetch(contig string, start, end int) ([]byte, error)
}

// Native is a pure Go Toolkit. It holds whole single-sample files in
// memory during normalization and sorting, and streams the merge.
type Native struct {
	seq   Sequence
	order ContigOrder
	log   *zap.Logger
}

// NewNative returns a Native toolkit normalizing against seq and ordering
// contigs by order.
func NewNative(seq Sequence, order ContigOrder) *Native {
	return &Native{seq: seq, order: order, log: zap.L().With(zap.String("component", "toolkit"))}
}

var _ Toolkit = (*Native)(nil)

// recordKey orders records by contig rank, position, REF and ALT. Contigs
// unknown to the reference sort after known ones, by name.
type recordKey struct {
	rank  int
	chrom string
	pos   int
	ref   string
	alt   string
}

func (n *Native) key(rec *vcf.Record) recordKey {
	rank, ok := n.order.Rank(rec.Chrom)
	if !ok {
		rank = int(^uint(0) >> 1)
	}
	return recordKey{rank: rank, chrom: rec.Chrom, pos: rec.Pos, ref: rec.Ref, alt: strings.Join(rec.Alt, ",")}
}

func compareKeys(a, b recordKey) int {
	return cmp.Or(
		cmp.Compare(a.rank, b.rank),
		strings.Compare(a.chrom, b.chrom),
		cmp.Compare(a.pos, b.pos),
		strings.Compare(a.ref, b.ref),
		strings.Compare(a.alt, b.alt),
	)
}

func (n *Native) sortRecords(recs []*vcf.Record) {
	slices.SortStableFunc(recs, func(a, b *vcf.Record) int {
		return compareKeys(n.key(a), n.key(b))
	})
}

// checkCtx is polled every this many records in long loops.
const checkEvery = 4096
