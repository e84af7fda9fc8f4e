// Package recognizer defines the Backend interface for offline speech
// recognition engines.
//
// A recogniser backend wraps a batch transcription engine (whisper.cpp via
// CGO, a sherpa-onnx model, or the OpenAI audio API) and exposes one uniform
// operation: transcribe a bounded audio window into word-level timed output.
// Backends are stateless between calls — all streaming state lives in the
// online engine that drives them — which is what makes a single loaded model
// shareable across every client session.
//
// Word timestamps are always relative to the start of the supplied window;
// the caller owns the mapping to absolute session time. Backends whose
// underlying engine reports only segment-level times must split segments into
// words with linearly interpolated timings so callers always observe the same
// hypothesis shape.
package recognizer

import (
	"context"
	"errors"
	"strings"
)

// MaxPromptChars is the longest context prompt passed to any backend. Longer
// prompts are truncated from the front, preferring a whitespace boundary.
const MaxPromptChars = 200

// ErrUnavailable reports that the backend cannot be reached or cannot load
// its model. It is terminal for the session that observes it: the caller
// should emit an error record and close.
var ErrUnavailable = errors.New("recognizer: backend unavailable")

// ErrTransient reports a single-call failure (timeout, decoder hiccup). The
// online engine treats it as "no new words this tick" and never surfaces it
// to the client.
var ErrTransient = errors.New("recognizer: transient failure")

// Word is one recognised token with its time span, in seconds relative to
// the start of the transcribed window. Text may carry the leading whitespace
// or punctuation the engine emitted; it is never trimmed here because the
// committed transcript must reproduce the engine's spacing exactly.
type Word struct {
	Start float64
	End   float64
	Text  string
}

// Hypothesis is the output of a single Transcribe call: word-level entries in
// non-decreasing start order, plus the end times of the engine's segments.
// Segment ends are advisory — the online engine prefers them as audio-buffer
// trim points because engines are most confident at segment boundaries.
type Hypothesis struct {
	Words       []Word
	SegmentEnds []float64
}

// Text concatenates the hypothesis words using sep between entries whose
// text does not already begin with whitespace.
func (h Hypothesis) Text(sep string) string {
	var b strings.Builder
	for i, w := range h.Words {
		if i > 0 && sep != "" && !strings.HasPrefix(w.Text, " ") {
			b.WriteString(sep)
		}
		b.WriteString(w.Text)
	}
	return b.String()
}

// Caps describes a backend's static capabilities. Values are fixed at
// construction time; the engine reads them once.
type Caps struct {
	// SampleRate is the input rate the backend expects, in Hz.
	SampleRate int

	// MaxAudioSeconds is the longest window the backend accepts per call.
	MaxAudioSeconds float64

	// SupportsPrompt reports whether the backend honours the context prompt.
	// When false the engine still computes the prompt but the backend
	// ignores it.
	SupportsPrompt bool
}

// Backend is the abstraction over any offline recognition engine.
//
// Transcribe must be safe for sequential reuse across sessions. Concurrent
// use is backend-specific and not assumed by callers: the server serialises
// calls through a process-wide semaphore sized to the CPU count.
type Backend interface {
	// Transcribe recognises the given 16 kHz mono window. prompt is a suffix
	// of previously committed text (possibly empty); language is an ISO code
	// or empty for autodetect. The returned word times are relative to
	// samples[0].
	Transcribe(ctx context.Context, samples []float32, prompt, language string) (Hypothesis, error)

	// Caps returns the backend's static capabilities.
	Caps() Caps
}

// TrimPrompt shortens prompt to at most MaxPromptChars characters, cutting
// from the front and preferring to resume at a whitespace boundary so the
// backend never sees half a word.
func TrimPrompt(prompt string) string {
	if len(prompt) <= MaxPromptChars {
		return prompt
	}
	cut := prompt[len(prompt)-MaxPromptChars:]
	if i := strings.IndexAny(cut, " \t\n"); i >= 0 && i < len(cut)-1 {
		cut = cut[i+1:]
	}
	return cut
}
