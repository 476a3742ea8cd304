package vcf

import (
	"slices"
	"strconv"
	"strings"
)

// AggregateKeys are the INFO keys recomputed over all samples. Values copied
// from single-sample inputs under these keys are stale after a merge.
var AggregateKeys = []string{"AN", "AC", "AF", "MAF", "NS", "AC_Hom", "AC_Het", "AC_Hemi", "N_HOM_ALT", "N_HET", "N_HEMI"}

// AggregateHeaderLines are the INFO definitions for AggregateKeys.
var AggregateHeaderLines = []string{
	`##INFO=<ID=AN,Number=1,Type=Integer,Description="Total number of alleles in called genotypes">`,
	`##INFO=<ID=AC,Number=A,Type=Integer,Description="Allele count in genotypes">`,
	`##INFO=<ID=AF,Number=A,Type=Float,Description="Allele frequency">`,
	`##INFO=<ID=MAF,Number=1,Type=Float,Description="Frequency of the second most common allele">`,
	`##INFO=<ID=NS,Number=1,Type=Integer,Description="Number of samples with data">`,
	`##INFO=<ID=AC_Hom,Number=A,Type=Integer,Description="Allele counts in homozygous genotypes">`,
	`##INFO=<ID=AC_Het,Number=A,Type=Integer,Description="Allele counts in heterozygous genotypes">`,
	`##INFO=<ID=AC_Hemi,Number=A,Type=Integer,Description="Allele counts in hemizygous genotypes">`,
	`##INFO=<ID=N_HOM_ALT,Number=1,Type=Integer,Description="Number of samples with a homozygous alternate genotype">`,
	`##INFO=<ID=N_HET,Number=1,Type=Integer,Description="Number of samples with a heterozygous genotype">`,
	`##INFO=<ID=N_HEMI,Number=1,Type=Integer,Description="Number of samples with a hemizygous alternate genotype">`,
}

// Stats are population statistics for one record.
type Stats struct {
	AN     int
	AC     []int
	NS     int
	ACHom  []int
	ACHet  []int
	ACHemi []int

	// Sample counts per genotype class. A haploid reference call counts as
	// HomRef.
	HomRef int
	HomAlt int
	Het    int
	Hemi   int
}

// ComputeStats derives Stats from the genotypes of every sample in rec.
// Genotypes with any missing allele count toward AN and AC but not toward
// the homozygous or heterozygous classes.
func ComputeStats(rec *Record) Stats {
	n := len(rec.Alt)
	s := Stats{AC: make([]int, n), ACHom: make([]int, n), ACHet: make([]int, n), ACHemi: make([]int, n)}

	for i := range rec.Samples {
		g := rec.Genotype(i)
		if !g.Called() {
			continue
		}
		s.NS++
		complete := true
		for _, a := range g.Alleles {
			if a == MissingAllele {
				complete = false
				continue
			}
			s.AN++
			if a > 0 && a <= n {
				s.AC[a-1]++
			}
		}
		if !complete {
			continue
		}

		switch {
		case g.Ploidy() == 1:
			a := g.Alleles[0]
			if a == 0 {
				s.HomRef++
				continue
			}
			s.Hemi++
			if a <= n {
				s.ACHemi[a-1]++
			}
		case allEqual(g.Alleles):
			a := g.Alleles[0]
			if a == 0 {
				s.HomRef++
				continue
			}
			s.HomAlt++
			if a <= n {
				s.ACHom[a-1] += g.Ploidy()
			}
		default:
			s.Het++
			for _, a := range g.Alleles {
				if a > 0 && a <= n {
					s.ACHet[a-1]++
				}
			}
		}
	}
	return s
}

func allEqual(xs []int) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}

// AF returns AC/AN per alternate allele, or nil when AN is zero.
func (s Stats) AF() []float64 {
	if s.AN == 0 {
		return nil
	}
	out := make([]float64, len(s.AC))
	for i, c := range s.AC {
		out[i] = float64(c) / float64(s.AN)
	}
	return out
}

// MAF returns the frequency of the second most common allele, counting the
// reference allele. ok is false when AN is zero.
func (s Stats) MAF() (maf float64, ok bool) {
	if s.AN == 0 {
		return 0, false
	}
	ref := s.AN
	for _, c := range s.AC {
		ref -= c
	}
	counts := append([]int{ref}, s.AC...)
	slices.SortFunc(counts, func(a, b int) int { return b - a })
	if len(counts) < 2 {
		return 0, true
	}
	return float64(counts[1]) / float64(s.AN), true
}

// Annotate replaces the aggregate INFO fields of rec with values computed
// over its samples.
func Annotate(rec *Record) Stats {
	s := ComputeStats(rec)
	rec.DeleteInfo(AggregateKeys...)

	rec.SetInfo("AN", strconv.Itoa(s.AN))
	if len(rec.Alt) > 0 {
		rec.SetInfo("AC", joinInts(s.AC))
		if af := s.AF(); af != nil {
			rec.SetInfo("AF", joinFloats(af))
		} else {
			rec.SetInfo("AF", dots(len(rec.Alt)))
		}
	}
	if maf, ok := s.MAF(); ok {
		rec.SetInfo("MAF", FormatFloat(maf))
	} else {
		rec.SetInfo("MAF", ".")
	}
	rec.SetInfo("NS", strconv.Itoa(s.NS))
	if len(rec.Alt) > 0 {
		rec.SetInfo("AC_Hom", joinInts(s.ACHom))
		rec.SetInfo("AC_Het", joinInts(s.ACHet))
		rec.SetInfo("AC_Hemi", joinInts(s.ACHemi))
	}
	rec.SetInfo("N_HOM_ALT", strconv.Itoa(s.HomAlt))
	rec.SetInfo("N_HET", strconv.Itoa(s.Het))
	rec.SetInfo("N_HEMI", strconv.Itoa(s.Hemi))
	return s
}

// FormatFloat formats a frequency with the shortest exact representation.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

func joinFloats(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = FormatFloat(x)
	}
	return strings.Join(parts, ",")
}

func dots(n int) string {
	return strings.TrimSuffix(strings.Repeat(".,", n), ",")
}
