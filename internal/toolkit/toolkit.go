// Package toolkit holds the variant-manipulation engine used by the merge
// stage. Native implements every operation in Go; Bcftools shells out to
// the bcftools and tabix binaries.
package toolkit

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// Toolkit is the set of whole-file operations the merge stage runs.
// Paths ending in .gz are written BGZF compressed.
type Toolkit interface {
	// Index builds a positional index for path and returns the index path.
	Index(ctx context.Context, path string) (string, error)
	// Normalize splits multi-allelic records and left-aligns them against
	// the reference.
	Normalize(ctx context.Context, in, out string) error
	// Merge combines single- or multi-sample inputs into one file. Samples
	// keep the order of inputs.
	Merge(ctx context.Context, inputs []string, out string) error
	// Annotate recomputes the aggregate INFO fields over all samples.
	Annotate(ctx context.Context, in, out string) error
	// Sort orders records by reference contig order and position.
	Sort(ctx context.Context, in, out string) error
}

// Engine names.
const (
	EngineNative   = "native"
	EngineBcftools = "bcftools"
)

// ContigOrder ranks contig names in reference order.
type ContigOrder interface {
	Rank(name string) (int, bool)
}

// New returns the toolkit named by engine.
func New(engine string, order ContigOrder, seq Sequence, cfg BcftoolsConfig) (Toolkit, error) {
	switch strings.ToLower(engine) {
	case "", EngineNative:
		return NewNative(seq, order), nil
	case EngineBcftools:
		return NewBcftools(cfg), nil
	default:
		return nil, eris.Errorf("toolkit: unknown engine %q", engine)
	}
}
