package recognizer_test

import (
	"math"
	"strings"
	"testing"

	"github.com/soniclane/streamscribe/pkg/recognizer"
)

// ---- prompt truncation ------------------------------------------------------

func TestTrimPrompt_ShortPassesThrough(t *testing.T) {
	if got := recognizer.TrimPrompt("hello world"); got != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestTrimPrompt_CutsAtWhitespace(t *testing.T) {
	long := strings.Repeat("word ", 100) // 500 chars
	got := recognizer.TrimPrompt(long)
	if len(got) > recognizer.MaxPromptChars {
		t.Errorf("len = %d, want <= %d", len(got), recognizer.MaxPromptChars)
	}
	if strings.HasPrefix(got, "ord") || strings.HasPrefix(got, "rd") {
		t.Errorf("prompt starts mid-word: %q", got[:10])
	}
}

func TestTrimPrompt_NoWhitespaceStillBounded(t *testing.T) {
	long := strings.Repeat("x", 1000)
	got := recognizer.TrimPrompt(long)
	if len(got) > recognizer.MaxPromptChars {
		t.Errorf("len = %d, want <= %d", len(got), recognizer.MaxPromptChars)
	}
}

// ---- segment splitting ------------------------------------------------------

func TestSplitSegment_Empty(t *testing.T) {
	if words := recognizer.SplitSegment("   ", 0, 1); words != nil {
		t.Errorf("got %v, want nil", words)
	}
}

func TestSplitSegment_CoversSpanExactly(t *testing.T) {
	words := recognizer.SplitSegment("the quick brown fox", 2.0, 4.0)
	if len(words) != 4 {
		t.Fatalf("got %d words, want 4", len(words))
	}
	if words[0].Start != 2.0 {
		t.Errorf("first start = %v, want 2.0", words[0].Start)
	}
	if words[3].End != 4.0 {
		t.Errorf("last end = %v, want 4.0", words[3].End)
	}
	for i := 1; i < len(words); i++ {
		if math.Abs(words[i].Start-words[i-1].End) > 1e-9 {
			t.Errorf("gap between word %d end %v and word %d start %v", i-1, words[i-1].End, i, words[i].Start)
		}
	}
}

func TestSplitSegment_ConcatReproducesText(t *testing.T) {
	words := recognizer.SplitSegment("hello streaming world", 0, 3)
	var b strings.Builder
	for _, w := range words {
		b.WriteString(w.Text)
	}
	if got := b.String(); got != " hello streaming world" {
		t.Errorf("concat = %q", got)
	}
}

func TestSplitSegment_LongerWordsGetMoreTime(t *testing.T) {
	words := recognizer.SplitSegment("a extraordinarily", 0, 1)
	if len(words) != 2 {
		t.Fatalf("got %d words", len(words))
	}
	short := words[0].End - words[0].Start
	long := words[1].End - words[1].Start
	if long <= short {
		t.Errorf("long word span %v should exceed short word span %v", long, short)
	}
}

// ---- token normalisation ----------------------------------------------------

func TestNormalizeToken(t *testing.T) {
	cases := []struct{ in, want string }{
		{" Hello,", "hello"},
		{"WORLD!", "world"},
		{"  (yes)  ", "yes"},
		{"don't", "don't"},
		{"...", ""},
	}
	for _, c := range cases {
		if got := recognizer.NormalizeToken(c.in); got != c.want {
			t.Errorf("NormalizeToken(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// ---- hypothesis text --------------------------------------------------------

func TestHypothesisText(t *testing.T) {
	h := recognizer.Hypothesis{Words: []recognizer.Word{
		{Text: " hello"},
		{Text: " world"},
	}}
	if got := h.Text(""); got != " hello world" {
		t.Errorf("got %q", got)
	}
}
