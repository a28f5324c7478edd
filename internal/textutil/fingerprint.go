package textutil

import (
	"math"
	"regexp"
	"strings"
)

var tokenSplitPattern = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// stopwords are dropped before counting; they dominate headlines without
// saying what the item is about.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "that": {},
	"this": {}, "are": {}, "was": {}, "its": {}, "into": {}, "over": {},
	"new": {}, "how": {}, "why": {}, "what": {}, "has": {}, "have": {},
}

// Fingerprint is a term-frequency vector with its precomputed norm.
type Fingerprint struct {
	terms map[string]float64
	norm  float64
}

// NewFingerprint builds a fingerprint of text, or nil when no term survives
// tokenization.
func NewFingerprint(text string) *Fingerprint {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	terms := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		terms[token]++
	}
	var sum float64
	for _, n := range terms {
		sum += n * n
	}
	return &Fingerprint{terms: terms, norm: math.Sqrt(sum)}
}

// Tokenize lowercases text and splits it into terms of three or more
// characters, skipping stopwords.
func Tokenize(text string) []string {
	raw := tokenSplitPattern.Split(strings.ToLower(text), -1)
	out := make([]string, 0, len(raw))
	for _, token := range raw {
		if len([]rune(token)) < 3 {
			continue
		}
		if _, stop := stopwords[token]; stop {
			continue
		}
		out = append(out, token)
	}
	return out
}

// Terms returns the number of distinct terms.
func (f *Fingerprint) Terms() int {
	if f == nil {
		return 0
	}
	return len(f.terms)
}
