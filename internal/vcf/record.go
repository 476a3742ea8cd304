// Package vcf wraps the gonomics VCF codec with the record model the merge
// stage needs: structured INFO, per-sample values aligned with FORMAT, and
// the population statistics recomputed after a merge.
package vcf

import (
	"slices"
	"strconv"
	"strings"

	gvcf "github.com/vertgenlab/gonomics/vcf"
)

// InfoField is one INFO entry. Flags have no value.
type InfoField struct {
	Key   string
	Value string
	Flag  bool
}

// Record is one VCF data line. Sample values are aligned with Format, GT
// first when present; trailing fields dropped in the file read back as ".".
type Record struct {
	Chrom   string
	Pos     int
	ID      string
	Ref     string
	Alt     []string
	Qual    float64
	Filter  string
	Info    []InfoField
	Format  []string
	Samples [][]string
}

// fromVcf converts a decoded gonomics record. Alleles are upper-cased and a
// "." ALT becomes an empty list.
func fromVcf(v gvcf.Vcf) *Record {
	rec := &Record{
		Chrom:  v.Chr,
		Pos:    v.Pos,
		ID:     v.Id,
		Ref:    strings.ToUpper(v.Ref),
		Qual:   v.Qual,
		Filter: v.Filter,
		Info:   parseInfo(v.Info),
		Format: slices.Clone(v.Format),
	}
	for _, a := range v.Alt {
		if a != "." && a != "" {
			rec.Alt = append(rec.Alt, strings.ToUpper(a))
		}
	}
	if len(rec.Format) == 0 {
		return rec
	}
	hasGT := rec.Format[0] == "GT"
	rec.Samples = make([][]string, len(v.Samples))
	for i, s := range v.Samples {
		vals := slices.Clone(s.FormatData)
		if hasGT {
			if len(vals) == 0 {
				vals = []string{""}
			}
			vals[0] = genotypeFromSample(s).String()
		}
		for j := range vals {
			if vals[j] == "" {
				vals[j] = "."
			}
		}
		rec.Samples[i] = vals
	}
	return rec
}

// toVcf converts rec for the gonomics writer.
func (r *Record) toVcf() gvcf.Vcf {
	v := gvcf.Vcf{
		Chr:    r.Chrom,
		Pos:    r.Pos,
		Id:     orDot(r.ID),
		Ref:    r.Ref,
		Alt:    r.Alt,
		Qual:   r.Qual,
		Filter: orDot(r.Filter),
		Info:   r.infoString(),
	}
	if len(v.Alt) == 0 {
		v.Alt = []string{"."}
	}
	if len(r.Format) == 0 {
		return v
	}
	v.Format = r.Format
	hasGT := r.Format[0] == "GT"
	v.Samples = make([]gvcf.Sample, len(r.Samples))
	for i := range r.Samples {
		data := make([]string, len(r.Format))
		for j, k := range r.Format {
			data[j] = r.SampleValue(i, k)
		}
		s := gvcf.Sample{FormatData: data}
		if hasGT {
			s.Alleles, s.Phase = ParseGenotype(data[0]).alleles()
			data[0] = ""
		}
		v.Samples[i] = s
	}
	return v
}

func parseInfo(s string) []InfoField {
	if s == "." || s == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	out := make([]InfoField, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		k, v, ok := strings.Cut(p, "=")
		out = append(out, InfoField{Key: k, Value: v, Flag: !ok})
	}
	return out
}

func (r *Record) infoString() string {
	if len(r.Info) == 0 {
		return "."
	}
	var b strings.Builder
	for i, f := range r.Info {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(f.Key)
		if !f.Flag {
			b.WriteByte('=')
			b.WriteString(f.Value)
		}
	}
	return b.String()
}

func orDot(s string) string {
	if s == "" {
		return "."
	}
	return s
}

// String formats the record as a data line without a newline.
func (r *Record) String() string {
	var b strings.Builder
	if err := guard("format record", func() { gvcf.WriteVcf(&b, r.toVcf()) }); err != nil {
		return r.Chrom + ":" + r.Ref
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	c.Alt = slices.Clone(r.Alt)
	c.Info = slices.Clone(r.Info)
	c.Format = slices.Clone(r.Format)
	c.Samples = make([][]string, len(r.Samples))
	for i, s := range r.Samples {
		c.Samples[i] = slices.Clone(s)
	}
	return &c
}

// InfoValue returns an INFO value and whether the key is present.
func (r *Record) InfoValue(key string) (string, bool) {
	for _, f := range r.Info {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// SetInfo sets or appends an INFO value.
func (r *Record) SetInfo(key, value string) {
	for i, f := range r.Info {
		if f.Key == key {
			r.Info[i] = InfoField{Key: key, Value: value}
			return
		}
	}
	r.Info = append(r.Info, InfoField{Key: key, Value: value})
}

// DeleteInfo removes INFO keys.
func (r *Record) DeleteInfo(keys ...string) {
	r.Info = slices.DeleteFunc(r.Info, func(f InfoField) bool {
		return slices.Contains(keys, f.Key)
	})
}

// FormatIndex returns the position of a FORMAT key or -1.
func (r *Record) FormatIndex(key string) int {
	return slices.Index(r.Format, key)
}

// SampleValue returns a sample's value for a FORMAT key, or "." when absent.
func (r *Record) SampleValue(sample int, key string) string {
	idx := r.FormatIndex(key)
	if idx < 0 || sample >= len(r.Samples) || idx >= len(r.Samples[sample]) {
		return "."
	}
	return r.Samples[sample][idx]
}

// SetSampleValue sets a sample's value for an existing FORMAT key, padding
// the sample's fields with "." as needed.
func (r *Record) SetSampleValue(sample int, key, value string) {
	idx := r.FormatIndex(key)
	if idx < 0 || sample >= len(r.Samples) {
		return
	}
	for len(r.Samples[sample]) <= idx {
		r.Samples[sample] = append(r.Samples[sample], ".")
	}
	r.Samples[sample][idx] = value
}

// Genotype returns the parsed GT of a sample.
func (r *Record) Genotype(sample int) Genotype {
	return ParseGenotype(r.SampleValue(sample, "GT"))
}

// End returns the last reference position covered by the record: the INFO
// END value when present, otherwise the end of REF.
func (r *Record) End() int {
	if v, ok := r.InfoValue("END"); ok {
		if end, err := strconv.Atoi(v); err == nil && end >= r.Pos {
			return end
		}
	}
	return r.Pos + len(r.Ref) - 1
}
