package toolkit

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/afpanel/internal/vcf"
)

// Normalize implements Toolkit. Records whose REF disagrees with the
// reference are kept unchanged and logged.
func (n *Native) Normalize(ctx context.Context, in, out string) error {
	h, recs, err := vcf.ReadAll(in)
	if err != nil {
		return eris.Wrap(err, "toolkit: normalize")
	}
	log := n.log.With(zap.String("file", filepath.Base(in)))

	norm := make([]*vcf.Record, 0, len(recs))
	var mismatches int
	for i, rec := range recs {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for _, r := range Split(h, rec) {
			if err := n.leftAlign(r); err != nil {
				mismatches++
				log.Warn("record not normalized",
					zap.String("chrom", r.Chrom),
					zap.Int("pos", r.Pos),
					zap.Error(err),
				)
			}
			norm = append(norm, r)
		}
	}
	n.sortRecords(norm)
	norm = n.dedup(norm)

	if err := vcf.WriteAll(out, h, norm); err != nil {
		return eris.Wrapf(err, "toolkit: normalize %s", in)
	}
	log.Debug("normalized",
		zap.Int("records_in", len(recs)),
		zap.Int("records_out", len(norm)),
		zap.Int("ref_mismatches", mismatches),
	)
	return nil
}

// dedup drops records whose key equals the previous record's. recs must be
// sorted.
func (n *Native) dedup(recs []*vcf.Record) []*vcf.Record {
	if len(recs) < 2 {
		return recs
	}
	out := recs[:1]
	prev := n.key(recs[0])
	for _, r := range recs[1:] {
		k := n.key(r)
		if compareKeys(k, prev) == 0 {
			continue
		}
		out = append(out, r)
		prev = k
	}
	return out
}

// Split decomposes a multi-allelic record into one record per ALT. Genotype
// alleles naming another ALT become reference. Number=A, R and G fields
// keep the values for the retained allele.
func Split(h *vcf.Header, rec *vcf.Record) []*vcf.Record {
	nalt := len(rec.Alt)
	if nalt <= 1 {
		return []*vcf.Record{rec}
	}
	out := make([]*vcf.Record, 0, nalt)
	for k := 1; k <= nalt; k++ {
		r := rec.Clone()
		r.Alt = []string{rec.Alt[k-1]}
		for i, f := range r.Info {
			if !f.Flag {
				r.Info[i].Value = splitValue(h.Number("INFO", f.Key), f.Value, k, nalt)
			}
		}
		for s := range r.Samples {
			for fi, key := range r.Format {
				if fi >= len(r.Samples[s]) {
					break
				}
				v := r.Samples[s][fi]
				if key == "GT" {
					r.Samples[s][fi] = remapGenotype(v, k)
					continue
				}
				r.Samples[s][fi] = splitValue(h.Number("FORMAT", key), v, k, nalt)
			}
		}
		out = append(out, r)
	}
	return out
}

func remapGenotype(v string, k int) string {
	g := vcf.ParseGenotype(v)
	for i, a := range g.Alleles {
		switch a {
		case vcf.MissingAllele, 0:
		case k:
			g.Alleles[i] = 1
		default:
			g.Alleles[i] = 0
		}
	}
	return g.String()
}

func splitValue(number, v string, k, nalt int) string {
	if v == "." || v == "" {
		return v
	}
	parts := strings.Split(v, ",")
	pick := func(idx ...int) string {
		vals := make([]string, len(idx))
		for i, j := range idx {
			if j < len(parts) {
				vals[i] = parts[j]
			} else {
				vals[i] = "."
			}
		}
		return strings.Join(vals, ",")
	}
	switch number {
	case "A":
		return pick(k - 1)
	case "R":
		return pick(0, k)
	case "G":
		if len(parts) == nalt+1 {
			return pick(0, k)
		}
		// diploid order: index of (j,k) with j<=k is k(k+1)/2+j
		het := k * (k + 1) / 2
		return pick(0, het, het+k)
	}
	return v
}

func isBases(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 'A', 'C', 'G', 'T', 'N':
		default:
			return false
		}
	}
	return true
}

// leftAlign trims alleles to their parsimonious form and shifts indels to
// the leftmost equivalent position.
func (n *Native) leftAlign(r *vcf.Record) error {
	if len(r.Alt) != 1 || !isBases(r.Ref) || !isBases(r.Alt[0]) || r.Ref == r.Alt[0] {
		return nil
	}
	got, err := n.seq.Fetch(r.Chrom, r.Pos, r.Pos+len(r.Ref)-1)
	if err != nil {
		return err
	}
	if string(got) != r.Ref {
		return eris.Errorf("toolkit: REF %s does not match reference %s", r.Ref, got)
	}

	refEnd := r.Pos + len(r.Ref) - 1
	end := r.End()
	pos, ref, alt := r.Pos, r.Ref, r.Alt[0]
	for {
		changed := false
		if ref[len(ref)-1] == alt[len(alt)-1] && (pos > 1 || (len(ref) > 1 && len(alt) > 1)) {
			ref, alt = ref[:len(ref)-1], alt[:len(alt)-1]
			changed = true
		}
		if ref == "" || alt == "" {
			pos--
			b, err := n.seq.Fetch(r.Chrom, pos, pos)
			if err != nil {
				return err
			}
			ref, alt = string(b)+ref, string(b)+alt
			changed = true
		}
		if !changed {
			break
		}
	}
	for len(ref) > 1 && len(alt) > 1 && ref[0] == alt[0] {
		ref, alt = ref[1:], alt[1:]
		pos++
	}
	r.Pos, r.Ref, r.Alt[0] = pos, ref, alt
	// INFO END moves with the last REF base.
	if _, ok := r.InfoValue("END"); ok {
		r.SetInfo("END", strconv.Itoa(end+pos+len(ref)-1-refEnd))
	}
	return nil
}
