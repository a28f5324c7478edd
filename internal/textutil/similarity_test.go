package textutil

import (
	"math"
	"testing"
)

func TestTokenizeDropsShortTermsAndStopwords(t *testing.T) {
	got := Tokenize("The HBM-4 race: how SK Hynix leads")
	want := []string{"hbm", "race", "hynix", "leads"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokenize = %v, want %v", got, want)
		}
	}
	if NewFingerprint("a of to") != nil {
		t.Fatal("expected nil fingerprint for text without terms")
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := NewFingerprint("memory bandwidth memory wall")
	if got := CosineSimilarity(a, a); math.Abs(got-1) > 1e-9 {
		t.Fatalf("self similarity = %f", got)
	}
	b := NewFingerprint("sourdough bread baking")
	if got := CosineSimilarity(a, b); got != 0 {
		t.Fatalf("disjoint similarity = %f", got)
	}
	if CosineSimilarity(nil, a) != 0 {
		t.Fatal("nil fingerprint should score 0")
	}
}

func TestDeduperRejectsNearDuplicates(t *testing.T) {
	d := NewDeduper(0.8, 4)
	if !d.Accept("Samsung ships HBM4 samples to Nvidia ahead of schedule") {
		t.Fatal("first text rejected")
	}
	if d.Accept("Samsung ships HBM4 samples to Nvidia, ahead of schedule") {
		t.Fatal("near duplicate accepted")
	}
	if !d.Accept("Micron expands Idaho fab for advanced packaging") {
		t.Fatal("distinct text rejected")
	}
	if !d.Accept("HBM") || !d.Accept("HBM") {
		t.Fatal("short texts should always be accepted")
	}
}
