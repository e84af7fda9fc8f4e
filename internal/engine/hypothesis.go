package engine

import (
	"math"
	"strings"

	"github.com/soniclane/streamscribe/pkg/recognizer"
)

// matchWindow is the largest start-time difference, in seconds, under which
// two equally-named words from consecutive hypotheses are considered the
// same occurrence. Words further apart are different occurrences even when
// their text matches.
const matchWindow = 0.5

// echoProximity bounds how close to the committed tail a fresh hypothesis
// must begin before the n-gram echo check runs. Echoed prompt text only ever
// appears right at the seam.
const echoProximity = 1.0

// maxEchoNgram is the longest committed-tail n-gram checked against a fresh
// hypothesis head when removing prompt echoes.
const maxEchoNgram = 5

// hypothesisBuffer reconciles consecutive recogniser hypotheses into a
// committed word stream using LocalAgreement-2: a word is committed only
// when two consecutive hypotheses agree on it at the same position in time.
//
// Three word lists matter:
//   - committedInBuffer: committed words whose audio is still in the live
//     buffer; consulted for echo removal, discarded as the buffer is trimmed
//   - prev: the unconfirmed tail of the previous hypothesis
//   - fresh: the hypothesis just inserted, not yet flushed
type hypothesisBuffer struct {
	committedInBuffer []recognizer.Word
	prev              []recognizer.Word
	fresh             []recognizer.Word

	lastCommittedTime float64
}

// insert takes a window-relative hypothesis, maps it to absolute session
// time using offset, and keeps only the words after the committed tail.
// A word starting more than a tenth of a second before the committed tail is
// a re-recognition of already-committed audio and is dropped; words whose
// timestamps drifted past the seam go through the echo check instead.
func (h *hypothesisBuffer) insert(words []recognizer.Word, offset float64) {
	h.fresh = h.fresh[:0]
	for _, w := range words {
		w.Start += offset
		w.End += offset
		if w.Start > h.lastCommittedTime-0.1 {
			h.fresh = append(h.fresh, w)
		}
	}
	h.dropCommittedEcho()
}

// dropCommittedEcho removes a head of fresh words that repeats the committed
// tail. Recognisers conditioned on the context prompt occasionally emit the
// prompt's last words again at the window seam; without this check those
// words would be committed twice.
func (h *hypothesisBuffer) dropCommittedEcho() {
	if len(h.fresh) == 0 || len(h.committedInBuffer) == 0 {
		return
	}
	if math.Abs(h.fresh[0].Start-h.lastCommittedTime) >= echoProximity {
		return
	}

	limit := min(maxEchoNgram, len(h.committedInBuffer), len(h.fresh))
	for n := limit; n >= 1; n-- {
		tail := joinNormalized(h.committedInBuffer[len(h.committedInBuffer)-n:])
		head := joinNormalized(h.fresh[:n])
		if tail != "" && tail == head {
			h.fresh = h.fresh[n:]
			return
		}
	}
}

// flush commits the longest prefix on which the fresh hypothesis agrees with
// the previous one and returns it. The committed words carry the fresh
// hypothesis's casing. The fresh tail that found no second opinion becomes
// prev for the next call.
func (h *hypothesisBuffer) flush() []recognizer.Word {
	var committed []recognizer.Word
	for len(h.fresh) > 0 && len(h.prev) > 0 {
		if !wordsMatch(h.fresh[0], h.prev[0]) {
			break
		}
		w := h.fresh[0]
		committed = append(committed, w)
		h.committedInBuffer = append(h.committedInBuffer, w)
		h.lastCommittedTime = w.End
		h.fresh = h.fresh[1:]
		h.prev = h.prev[1:]
	}

	h.prev = append([]recognizer.Word(nil), h.fresh...)
	h.fresh = h.fresh[:0]
	return committed
}

// pending returns the words awaiting a second opinion.
func (h *hypothesisBuffer) pending() []recognizer.Word {
	return h.prev
}

// flushAll unconditionally commits every pending word. Only valid at
// end-of-stream, where no second opinion can ever arrive.
func (h *hypothesisBuffer) flushAll() []recognizer.Word {
	out := h.prev
	for _, w := range out {
		h.committedInBuffer = append(h.committedInBuffer, w)
		h.lastCommittedTime = w.End
	}
	h.prev = nil
	return out
}

// popCommitted discards committed bookkeeping for words whose audio ends at
// or before t. Called when the audio buffer is trimmed at t.
func (h *hypothesisBuffer) popCommitted(t float64) {
	i := 0
	for i < len(h.committedInBuffer) && h.committedInBuffer[i].End <= t {
		i++
	}
	h.committedInBuffer = h.committedInBuffer[i:]
}

// dropPendingBefore discards pending words whose span ends at or before t.
// Called when a trim cuts past hypothesis words that were never confirmed.
func (h *hypothesisBuffer) dropPendingBefore(t float64) {
	keep := h.prev[:0]
	for _, w := range h.prev {
		if w.End > t {
			keep = append(keep, w)
		}
	}
	h.prev = keep
}

// wordsMatch reports whether two words from consecutive hypotheses are the
// same occurrence: equal normalised text within the match window. Matching
// is case-insensitive; the caller keeps the newer casing.
func wordsMatch(a, b recognizer.Word) bool {
	if math.Abs(a.Start-b.Start) > matchWindow {
		return false
	}
	na := recognizer.NormalizeToken(a.Text)
	nb := recognizer.NormalizeToken(b.Text)
	return na != "" && na == nb
}

// joinNormalized concatenates the normalised text of words, space-separated,
// skipping punctuation-only tokens.
func joinNormalized(words []recognizer.Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if n := recognizer.NormalizeToken(w.Text); n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, " ")
}
