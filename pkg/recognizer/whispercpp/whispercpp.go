// Package whispercpp provides a recogniser backend built on the whisper.cpp
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The model is loaded once at construction and shared across all sessions;
// each Transcribe call creates its own whisper context, which is the unit of
// thread confinement in whisper.cpp. Whether inference runs on GPU, Metal or
// CPU is decided when libwhisper.a is built, so this one backend covers both
// the accelerated and plain deployments.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/soniclane/streamscribe/pkg/recognizer"
)

// maxAudioSeconds is whisper's native context window.
const maxAudioSeconds = 30

// Backend implements recognizer.Backend using the whisper.cpp Go bindings.
type Backend struct {
	model    whisperlib.Model
	language string
	threads  uint
}

// Compile-time assertion that Backend satisfies recognizer.Backend.
var _ recognizer.Backend = (*Backend)(nil)

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithLanguage sets the default ISO language code used when a Transcribe call
// passes an empty language. Defaults to autodetect.
func WithLanguage(lang string) Option {
	return func(b *Backend) { b.language = lang }
}

// WithThreads sets the number of CPU threads whisper.cpp uses per inference.
// Zero leaves the binding's default.
func WithThreads(n uint) Option {
	return func(b *Backend) { b.threads = n }
}

// New loads the whisper.cpp model from modelPath. The caller must call Close
// when the backend is no longer needed.
func New(modelPath string, opts ...Option) (*Backend, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("whispercpp: modelPath must not be empty: %w", recognizer.ErrUnavailable)
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: load model %q: %v: %w", modelPath, err, recognizer.ErrUnavailable)
	}

	b := &Backend{model: model}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Close releases the whisper model.
func (b *Backend) Close() error {
	if b.model != nil {
		return b.model.Close()
	}
	return nil
}

// Caps returns whisper's static capabilities.
func (b *Backend) Caps() recognizer.Caps {
	return recognizer.Caps{
		SampleRate:      16000,
		MaxAudioSeconds: maxAudioSeconds,
		SupportsPrompt:  true,
	}
}

// Transcribe runs one whisper.cpp inference over the window and returns
// word-level timed output. whisper reports token-level timestamps; tokens are
// merged into words on whitespace boundaries. Segments whose tokens carry no
// usable timing fall back to linear interpolation across the segment span.
func (b *Backend) Transcribe(ctx context.Context, samples []float32, prompt, language string) (recognizer.Hypothesis, error) {
	if err := ctx.Err(); err != nil {
		return recognizer.Hypothesis{}, fmt.Errorf("whispercpp: %v: %w", err, recognizer.ErrTransient)
	}

	wctx, err := b.model.NewContext()
	if err != nil {
		return recognizer.Hypothesis{}, fmt.Errorf("whispercpp: create context: %v: %w", err, recognizer.ErrUnavailable)
	}

	lang := language
	if lang == "" {
		lang = b.language
	}
	if lang != "" && lang != "auto" {
		if err := wctx.SetLanguage(lang); err != nil {
			return recognizer.Hypothesis{}, fmt.Errorf("whispercpp: set language %q: %v: %w", lang, err, recognizer.ErrTransient)
		}
	}
	if b.threads > 0 {
		wctx.SetThreads(b.threads)
	}
	wctx.SetTokenTimestamps(true)
	if prompt != "" {
		wctx.SetInitialPrompt(recognizer.TrimPrompt(prompt))
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return recognizer.Hypothesis{}, fmt.Errorf("whispercpp: process audio: %v: %w", err, recognizer.ErrTransient)
	}

	var hyp recognizer.Hypothesis
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return recognizer.Hypothesis{}, fmt.Errorf("whispercpp: read segment: %v: %w", err, recognizer.ErrTransient)
		}
		hyp.Words = append(hyp.Words, segmentWords(segment)...)
		hyp.SegmentEnds = append(hyp.SegmentEnds, segment.End.Seconds())
	}
	return hyp, nil
}

// segmentWords converts one whisper segment into word-level entries. Token
// timestamps are used when present; a segment with no timed tokens is split
// by interpolation instead.
func segmentWords(seg whisperlib.Segment) []recognizer.Word {
	var (
		words   []recognizer.Word
		current recognizer.Word
		timed   bool
	)
	flush := func() {
		if current.Text != "" {
			words = append(words, current)
			current = recognizer.Word{}
		}
	}
	for _, tok := range seg.Tokens {
		if isSpecialToken(tok.Text) {
			continue
		}
		if tok.End > tok.Start {
			timed = true
		}
		// A leading space marks the start of a new word in whisper's BPE
		// vocabulary.
		if strings.HasPrefix(tok.Text, " ") {
			flush()
		}
		if current.Text == "" {
			current.Start = tok.Start.Seconds()
		}
		current.Text += tok.Text
		current.End = maxDuration(tok.End, tok.Start).Seconds()
	}
	flush()

	if !timed || len(words) == 0 {
		return recognizer.SplitSegment(seg.Text, seg.Start.Seconds(), seg.End.Seconds())
	}
	return words
}

// isSpecialToken reports whether a token is a whisper control token such as
// [_BEG_] or <|endoftext|> rather than transcript text.
func isSpecialToken(text string) bool {
	return (strings.HasPrefix(text, "[_") && strings.HasSuffix(text, "_]")) ||
		(strings.HasPrefix(text, "<|") && strings.HasSuffix(text, "|>"))
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
