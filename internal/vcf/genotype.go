package vcf

import (
	"slices"
	"strconv"
	"strings"

	gvcf "github.com/vertgenlab/gonomics/vcf"
)

// MissingAllele marks a "." allele in a genotype.
const MissingAllele = -1

// Genotype is a parsed GT value.
type Genotype struct {
	Alleles []int
	Phased  bool
}

// ParseGenotype parses a GT string such as "0/1", "1|0", "./." or "1".
// Unparseable allele indices are treated as missing.
func ParseGenotype(s string) Genotype {
	var g Genotype
	if s == "" {
		return Genotype{Alleles: []int{MissingAllele}}
	}
	g.Phased = strings.Contains(s, "|")
	for _, a := range strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '|' }) {
		n, err := strconv.Atoi(a)
		if err != nil || n < 0 {
			n = MissingAllele
		}
		g.Alleles = append(g.Alleles, n)
	}
	if len(g.Alleles) == 0 {
		g.Alleles = []int{MissingAllele}
	}
	return g
}

// String formats the genotype back to GT syntax.
func (g Genotype) String() string {
	sep := "/"
	if g.Phased {
		sep = "|"
	}
	var b strings.Builder
	for i, a := range g.Alleles {
		if i > 0 {
			b.WriteString(sep)
		}
		if a == MissingAllele {
			b.WriteByte('.')
		} else {
			b.WriteString(strconv.Itoa(a))
		}
	}
	return b.String()
}

// Called reports whether at least one allele is not missing.
func (g Genotype) Called() bool {
	for _, a := range g.Alleles {
		if a != MissingAllele {
			return true
		}
	}
	return false
}

// Ploidy returns the number of alleles.
func (g Genotype) Ploidy() int {
	return len(g.Alleles)
}

// HomRef returns a diploid homozygous-reference genotype.
func HomRef() Genotype {
	return Genotype{Alleles: []int{0, 0}}
}

// genotypeFromSample reads the decoded alleles of a gonomics sample. Any
// phased separator marks the whole genotype phased.
func genotypeFromSample(s gvcf.Sample) Genotype {
	g := Genotype{Phased: slices.Contains(s.Phase, true)}
	for _, a := range s.Alleles {
		if a < 0 {
			g.Alleles = append(g.Alleles, MissingAllele)
			continue
		}
		g.Alleles = append(g.Alleles, int(a))
	}
	if len(g.Alleles) == 0 {
		g.Alleles = []int{MissingAllele}
	}
	return g
}

// alleles encodes g the way gonomics stores a sample genotype.
func (g Genotype) alleles() ([]int16, []bool) {
	alleles := make([]int16, len(g.Alleles))
	phase := make([]bool, len(g.Alleles))
	for i, a := range g.Alleles {
		alleles[i] = int16(a)
		phase[i] = g.Phased
	}
	return alleles, phase
}
