package chunker_test

import (
	"strings"
	"testing"

	"github.com/voxkit/voxloop/internal/chunker"
)

func TestShortTextSingleChunk(t *testing.T) {
	for _, text := range []string{"", "Hi.", "A perfectly ordinary short sentence."} {
		got := chunker.Split(text)
		if len(got) != 1 || got[0] != text {
			t.Errorf("Split(%q) = %v, want single chunk of the input", text, got)
		}
	}
}

func TestExactLimitStaysWhole(t *testing.T) {
	text := strings.Repeat("a", chunker.ShortTextLimit)
	got := chunker.Split(text)
	if len(got) != 1 {
		t.Fatalf("Split at limit returned %d chunks, want 1", len(got))
	}
}

func TestLongTextSplitsAtFirstSentence(t *testing.T) {
	intro := "This opening sentence is comfortably long enough."
	remainder := "And here is the rest of the response, which keeps going for a while longer."
	got := chunker.Split(intro + " " + remainder)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(got), got)
	}
	if got[0] != intro {
		t.Errorf("intro = %q, want %q", got[0], intro)
	}
	if got[1] != remainder {
		t.Errorf("remainder = %q, want %q", got[1], remainder)
	}
}

func TestShortIntroExtendsThroughSecondSentence(t *testing.T) {
	text := "Yes. This second sentence joins the intro to avoid an awkwardly short opening. The rest follows after that."
	got := chunker.Split(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(got), got)
	}
	want := "Yes. This second sentence joins the intro to avoid an awkwardly short opening."
	if got[0] != want {
		t.Errorf("intro = %q, want %q", got[0], want)
	}
	if len(got[0]) < chunker.MinIntroLen {
		t.Errorf("intro length %d below minimum %d", len(got[0]), chunker.MinIntroLen)
	}
}

func TestLongTextWithoutBoundaryStaysWhole(t *testing.T) {
	text := strings.Repeat("word ", 40) + "end"
	got := chunker.Split(text)
	if len(got) != 1 {
		t.Fatalf("expected 1 chunk for boundary-free text, got %d", len(got))
	}
}

// Joining intro and remainder with a single space reconstructs the original
// text for inputs whose sentences are separated by single spaces.
func TestRoundTrip(t *testing.T) {
	inputs := []string{
		"First sentence runs long enough to matter here. Second sentence also runs on for quite a while.",
		"Ask me anything you like about the plan! I will walk through every step of it in detail for you.",
		"Is that the final answer to the question? It certainly looks that way from where I am standing now.",
	}
	for _, text := range inputs {
		got := chunker.Split(text)
		if len(got) != 2 {
			t.Fatalf("Split(%q) returned %d chunks, want 2", text, len(got))
		}
		if joined := got[0] + " " + got[1]; joined != text {
			t.Errorf("round trip lost content:\n got %q\nwant %q", joined, text)
		}
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	text := "A reasonably long first sentence to open with. Followed by a remainder that pads the total length out."
	first := chunker.Split(text)
	for i := 0; i < 10; i++ {
		if got := chunker.Split(text); len(got) != len(first) || got[0] != first[0] {
			t.Fatal("Split is not deterministic")
		}
	}
}
