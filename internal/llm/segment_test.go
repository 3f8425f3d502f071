package llm

import (
	"reflect"
	"testing"
)

func TestSegmenterBasicBoundary(t *testing.T) {
	g := NewSegmenter()
	var got []string
	for _, tok := range []string{"Hello", " there.", " How", " are", " you?", " Fine"} {
		got = append(got, g.Push(tok)...)
	}
	want := []string{"Hello there.", "How are you?"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if tail := g.Flush(); tail != "Fine" {
		t.Fatalf("expected flush %q, got %q", "Fine", tail)
	}
}

func TestSegmenterNoSplitWithoutWhitespace(t *testing.T) {
	// "3.14" must not split at the period
	g := NewSegmenter()
	if out := g.Push("pi is 3.14"); len(out) != 0 {
		t.Fatalf("decimal point must not terminate a sentence, got %v", out)
	}
	if out := g.Push(" exactly. Done"); !reflect.DeepEqual(out, []string{"pi is 3.14 exactly."}) {
		t.Fatalf("expected split after 'exactly.', got %v", out)
	}
}

func TestSegmenterMultipleSentencesOneToken(t *testing.T) {
	g := NewSegmenter()
	got := g.Push("Yes. No! Maybe? Never")
	want := []string{"Yes.", "No!", "Maybe?"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSegmenterDropsPunctuationOnly(t *testing.T) {
	g := NewSegmenter()
	if out := g.Push("... !? "); len(out) != 0 {
		t.Fatalf("punctuation-only fragments must not be emitted, got %v", out)
	}
	if tail := g.Flush(); tail != "" {
		t.Fatalf("punctuation-only flush must be empty, got %q", tail)
	}
}

func TestSegmenterEmptyFlush(t *testing.T) {
	g := NewSegmenter()
	if tail := g.Flush(); tail != "" {
		t.Fatalf("flush of empty segmenter must be empty, got %q", tail)
	}
}

func TestEstimateTokens(t *testing.T) {
	if n := EstimateTokens("one two  three"); n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
}
