package textutil

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either is empty.
func CosineSimilarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	if len(b.terms) < len(a.terms) {
		a, b = b, a
	}
	var dot float64
	for term, n := range a.terms {
		dot += n * b.terms[term]
	}
	return dot / (a.norm * b.norm)
}

// Deduper remembers accepted texts and rejects ones too similar to any of
// them. The zero value is not usable; call NewDeduper.
type Deduper struct {
	threshold float64
	minTerms  int
	kept      []*Fingerprint
}

// NewDeduper rejects texts whose similarity to an accepted text reaches
// threshold. Texts with fewer than minTerms distinct terms are always
// accepted; short headlines collide too easily.
func NewDeduper(threshold float64, minTerms int) *Deduper {
	return &Deduper{threshold: threshold, minTerms: minTerms}
}

// Accept reports whether text is new and, if so, remembers it.
func (d *Deduper) Accept(text string) bool {
	fp := NewFingerprint(text)
	if fp.Terms() < d.minTerms {
		return true
	}
	for _, other := range d.kept {
		if CosineSimilarity(fp, other) >= d.threshold {
			return false
		}
	}
	d.kept = append(d.kept, fp)
	return true
}
