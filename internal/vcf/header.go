package vcf

import (
	"slices"
	"strings"

	gvcf "github.com/vertgenlab/gonomics/vcf"
)

// Header holds the meta-information lines and sample names of a VCF.
type Header struct {
	// Meta holds "##" lines without the trailing newline, in file order.
	Meta    []string
	Samples []string
}

// Clone returns a deep copy.
func (h *Header) Clone() *Header {
	return &Header{Meta: slices.Clone(h.Meta), Samples: slices.Clone(h.Samples)}
}

// metaKey returns the key and ID of a structured meta line such as
// ##INFO=<ID=AC,...>. Unstructured lines return an empty ID.
func metaKey(line string) (key, id string) {
	body, ok := strings.CutPrefix(line, "##")
	if !ok {
		return "", ""
	}
	key, rest, ok := strings.Cut(body, "=")
	if !ok {
		return body, ""
	}
	if !strings.HasPrefix(rest, "<") {
		return key, ""
	}
	for _, field := range strings.Split(strings.Trim(rest, "<>"), ",") {
		if v, ok := strings.CutPrefix(field, "ID="); ok {
			return key, v
		}
	}
	return key, ""
}

// Contigs returns contig IDs in header order.
func (h *Header) Contigs() []string {
	var out []string
	for _, line := range h.Meta {
		if k, id := metaKey(line); k == "contig" && id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Defines reports whether a structured line with the given key and ID exists.
func (h *Header) Defines(key, id string) bool {
	return slices.ContainsFunc(h.Meta, func(line string) bool {
		k, i := metaKey(line)
		return k == key && i == id
	})
}

// SetMeta replaces the structured line with the same key and ID, or appends it.
func (h *Header) SetMeta(line string) {
	key, id := metaKey(line)
	for i, existing := range h.Meta {
		if k, eid := metaKey(existing); id != "" && k == key && eid == id {
			h.Meta[i] = line
			return
		}
	}
	h.Meta = append(h.Meta, line)
}

// RemoveMeta deletes structured lines with the given key and IDs.
func (h *Header) RemoveMeta(key string, ids ...string) {
	h.Meta = slices.DeleteFunc(h.Meta, func(line string) bool {
		k, id := metaKey(line)
		return k == key && slices.Contains(ids, id)
	})
}

// Get returns the value of the first unstructured line with the given key.
func (h *Header) Get(key string) (string, bool) {
	for _, line := range h.Meta {
		body, ok := strings.CutPrefix(line, "##")
		if !ok {
			continue
		}
		if k, v, ok := strings.Cut(body, "="); ok && k == key && !strings.HasPrefix(v, "<") {
			return v, true
		}
	}
	return "", false
}

func (h *Header) columnLine() string {
	cols := []string{"#CHROM", "POS", "ID", "REF", "ALT", "QUAL", "FILTER", "INFO"}
	if len(h.Samples) > 0 {
		cols = append(cols, "FORMAT")
		cols = append(cols, h.Samples...)
	}
	return strings.Join(cols, "\t")
}

// text returns the header as gonomics stores it: meta lines followed by
// the #CHROM line.
func (h *Header) text() gvcf.Header {
	lines := make([]string, 0, len(h.Meta)+1)
	lines = append(lines, h.Meta...)
	return gvcf.Header{Text: append(lines, h.columnLine())}
}

// headerFromText rebuilds a Header from decoded header lines. ok is false
// when the #CHROM line is missing.
func headerFromText(text []string) (h *Header, ok bool) {
	h = &Header{}
	for _, line := range text {
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "##"):
			h.Meta = append(h.Meta, line)
		case strings.HasPrefix(line, "#CHROM"):
			if cols := strings.Split(line, "\t"); len(cols) > 9 {
				h.Samples = cols[9:]
			}
			ok = true
		}
	}
	return h, ok
}

// Number returns the Number attribute of a structured line such as
// ##FORMAT=<ID=AD,Number=R,...>, or "" when the line is absent.
func (h *Header) Number(key, id string) string {
	for _, line := range h.Meta {
		if k, i := metaKey(line); k != key || i != id {
			continue
		}
		_, rest, _ := strings.Cut(line, "=<")
		for _, field := range strings.Split(rest, ",") {
			if v, ok := strings.CutPrefix(field, "Number="); ok {
				return v
			}
		}
	}
	return ""
}

// AddMissing appends the meta lines of src that h does not define yet.
func (h *Header) AddMissing(src *Header) {
	for _, line := range src.Meta {
		if slices.Contains(h.Meta, line) {
			continue
		}
		key, id := metaKey(line)
		if id != "" && h.Defines(key, id) {
			continue
		}
		if id == "" {
			if _, ok := h.Get(key); ok {
				continue
			}
		}
		h.Meta = append(h.Meta, line)
	}
}
