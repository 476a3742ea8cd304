package toolkit

import (
	"context"
	"errors"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/afpanel/internal/vcf"
)

// Annotate implements Toolkit.
func (n *Native) Annotate(ctx context.Context, in, out string) error {
	r, err := vcf.Open(in)
	if err != nil {
		return eris.Wrap(err, "toolkit: annotate")
	}
	defer r.Close() //nolint:errcheck

	h := r.Header.Clone()
	AnnotateHeader(h)
	w, err := vcf.Create(out, h)
	if err != nil {
		return eris.Wrap(err, "toolkit: annotate")
	}
	for i := 0; ; i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				_ = w.Close()
				return err
			}
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = w.Close()
			return eris.Wrapf(err, "toolkit: annotate %s", in)
		}
		vcf.Annotate(rec)
		if err := w.Write(rec); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}

// AnnotateHeader replaces the INFO definitions of the aggregate keys.
func AnnotateHeader(h *vcf.Header) {
	h.RemoveMeta("INFO", vcf.AggregateKeys...)
	for _, line := range vcf.AggregateHeaderLines {
		h.SetMeta(line)
	}
}
