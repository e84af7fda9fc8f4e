package engine

import (
	"testing"

	"github.com/soniclane/streamscribe/pkg/recognizer"
)

func word(start, end float64, text string) recognizer.Word {
	return recognizer.Word{Start: start, End: end, Text: text}
}

func texts(words []recognizer.Word) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = w.Text
	}
	return out
}

func wantTexts(t *testing.T, got []recognizer.Word, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", texts(got), want)
	}
	for i := range want {
		if got[i].Text != want[i] {
			t.Fatalf("word %d = %q, want %q (all: %v)", i, got[i].Text, want[i], texts(got))
		}
	}
}

// ---- agreement --------------------------------------------------------------

func TestHypothesisBuffer_FirstHypothesisCommitsNothing(t *testing.T) {
	var h hypothesisBuffer
	h.insert([]recognizer.Word{word(0, 0.5, " hello"), word(0.5, 1, " world")}, 0)
	wantTexts(t, h.flush())
	wantTexts(t, h.pending(), " hello", " world")
}

func TestHypothesisBuffer_SecondAgreementCommits(t *testing.T) {
	var h hypothesisBuffer
	h.insert([]recognizer.Word{word(0, 0.5, " hello"), word(0.5, 1, " world")}, 0)
	h.flush()
	h.insert([]recognizer.Word{word(0, 0.5, " hello"), word(0.5, 1, " world")}, 0)
	wantTexts(t, h.flush(), " hello", " world")
	wantTexts(t, h.pending())
}

func TestHypothesisBuffer_PrefixOnly(t *testing.T) {
	var h hypothesisBuffer
	h.insert([]recognizer.Word{word(0, 0.5, " hello"), word(0.5, 1, " world")}, 0)
	h.flush()
	h.insert([]recognizer.Word{word(0, 0.5, " hello"), word(0.5, 1, " there")}, 0)
	wantTexts(t, h.flush(), " hello")
	wantTexts(t, h.pending(), " there")
}

func TestHypothesisBuffer_MatchIsCaseAndPunctInsensitive(t *testing.T) {
	var h hypothesisBuffer
	h.insert([]recognizer.Word{word(0, 0.5, " Hello,")}, 0)
	h.flush()
	h.insert([]recognizer.Word{word(0, 0.5, " hello")}, 0)

	got := h.flush()
	wantTexts(t, got, " hello")
	if got[0].Text != " hello" {
		t.Errorf("committed casing = %q, want the newer hypothesis's", got[0].Text)
	}
}

func TestHypothesisBuffer_TimeShiftBreaksMatch(t *testing.T) {
	var h hypothesisBuffer
	h.insert([]recognizer.Word{word(0, 0.5, " hello")}, 0)
	h.flush()
	// Same text, start moved past the match window: a different occurrence.
	h.insert([]recognizer.Word{word(0.8, 1.3, " hello")}, 0)
	wantTexts(t, h.flush())
}

// ---- offset mapping and seam handling ---------------------------------------

func TestHypothesisBuffer_OffsetShiftsToAbsoluteTime(t *testing.T) {
	var h hypothesisBuffer
	h.insert([]recognizer.Word{word(0, 0.5, " hello")}, 10)
	h.flush()
	h.insert([]recognizer.Word{word(0, 0.5, " hello")}, 10)

	got := h.flush()
	wantTexts(t, got, " hello")
	if got[0].Start != 10 || got[0].End != 10.5 {
		t.Errorf("span = [%v,%v], want [10,10.5]", got[0].Start, got[0].End)
	}
}

func TestHypothesisBuffer_WordsInsideCommittedPastDropped(t *testing.T) {
	var h hypothesisBuffer
	commit2(t, &h, word(0, 0.5, " hello"), word(0.5, 1, " world"))

	// A re-recognition of already-committed audio must not resurface.
	h.insert([]recognizer.Word{word(0, 0.5, " hello")}, 0)
	wantTexts(t, h.flush())
	wantTexts(t, h.pending())
}

func TestHypothesisBuffer_CommittedEchoAtSeamDropped(t *testing.T) {
	var h hypothesisBuffer
	commit2(t, &h, word(0, 0.5, " the"), word(0.5, 1, " quick"), word(1, 1.5, " fox"))

	// The recogniser repeats the committed tail bigram at the window seam
	// with slightly drifted timestamps.
	h.insert([]recognizer.Word{
		word(1.5, 1.7, " quick"), word(1.7, 2.0, " fox"), word(2.0, 2.4, " jumps"),
	}, 0)
	h.flush()
	wantTexts(t, h.pending(), " jumps")
}

func TestHypothesisBuffer_FarFromSeamNotTreatedAsEcho(t *testing.T) {
	var h hypothesisBuffer
	commit2(t, &h, word(0, 0.5, " fox"))

	// Same word again, but seconds later: legitimately said twice.
	h.insert([]recognizer.Word{word(4, 4.5, " fox")}, 0)
	h.flush()
	wantTexts(t, h.pending(), " fox")
}

// ---- end-of-stream and trimming ---------------------------------------------

func TestHypothesisBuffer_FlushAllCommitsPending(t *testing.T) {
	var h hypothesisBuffer
	h.insert([]recognizer.Word{word(0, 0.5, " hello"), word(0.5, 1, " world")}, 0)
	h.flush()
	wantTexts(t, h.flushAll(), " hello", " world")
	wantTexts(t, h.pending())
	if h.lastCommittedTime != 1 {
		t.Errorf("lastCommittedTime = %v, want 1", h.lastCommittedTime)
	}
}

func TestHypothesisBuffer_PopCommitted(t *testing.T) {
	var h hypothesisBuffer
	commit2(t, &h, word(0, 0.5, " a"), word(0.5, 1, " b"), word(1, 1.5, " c"))

	h.popCommitted(1)
	wantTexts(t, h.committedInBuffer, " c")
}

func TestHypothesisBuffer_DropPendingBefore(t *testing.T) {
	var h hypothesisBuffer
	h.insert([]recognizer.Word{word(0, 0.5, " a"), word(2, 2.5, " b")}, 0)
	h.flush()
	h.dropPendingBefore(1)
	wantTexts(t, h.pending(), " b")
}

// commit2 runs the two agreeing inserts needed to commit words.
func commit2(t *testing.T, h *hypothesisBuffer, words ...recognizer.Word) {
	t.Helper()
	h.insert(words, 0)
	h.flush()
	h.insert(words, 0)
	got := h.flush()
	if len(got) != len(words) {
		t.Fatalf("setup commit failed: committed %v, want %v", texts(got), texts(words))
	}
}
