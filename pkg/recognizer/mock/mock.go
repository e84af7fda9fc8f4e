// Package mock provides a test double for the recognizer package.
//
// Use Backend to script the hypotheses the online engine should observe on
// successive calls and to inspect the windows and prompts it was given.
//
// Example:
//
//	b := &mock.Backend{}
//	b.Queue(recognizer.Hypothesis{Words: []recognizer.Word{{Start: 0, End: 0.5, Text: " hello"}}})
//	hyp, _ := b.Transcribe(ctx, samples, "", "")
package mock

import (
	"context"
	"sync"

	"github.com/soniclane/streamscribe/pkg/recognizer"
)

// TranscribeCall records a single invocation of Backend.Transcribe.
type TranscribeCall struct {
	// Samples is the audio window passed to Transcribe.
	Samples []float32
	// Prompt is the context prompt passed to Transcribe.
	Prompt string
	// Language is the language hint passed to Transcribe.
	Language string
}

// Backend is a mock implementation of recognizer.Backend.
type Backend struct {
	mu sync.Mutex

	// Responses are returned in order by successive Transcribe calls. When
	// the queue is exhausted the last response is repeated, which mimics a
	// real engine returning a stable hypothesis for unchanged audio.
	Responses []recognizer.Hypothesis

	// Errs are matched positionally with Responses; a nil entry means
	// success. Errs may be shorter than Responses.
	Errs []error

	// TranscribeFunc, if set, overrides the scripted behaviour entirely.
	TranscribeFunc func(ctx context.Context, samples []float32, prompt, language string) (recognizer.Hypothesis, error)

	// Calls records every invocation of Transcribe.
	Calls []TranscribeCall

	// Capabilities is what Caps returns. The zero value is replaced by a
	// 16 kHz / 30 s / prompt-capable default.
	Capabilities recognizer.Caps

	next int
}

// Compile-time assertion that Backend satisfies recognizer.Backend.
var _ recognizer.Backend = (*Backend)(nil)

// Queue appends a scripted successful response.
func (b *Backend) Queue(h recognizer.Hypothesis) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Responses = append(b.Responses, h)
	b.Errs = append(b.Errs, nil)
}

// QueueErr appends a scripted failure.
func (b *Backend) QueueErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Responses = append(b.Responses, recognizer.Hypothesis{})
	b.Errs = append(b.Errs, err)
}

// Transcribe records the call and returns the next scripted response.
func (b *Backend) Transcribe(ctx context.Context, samples []float32, prompt, language string) (recognizer.Hypothesis, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Calls = append(b.Calls, TranscribeCall{Samples: samples, Prompt: prompt, Language: language})

	if b.TranscribeFunc != nil {
		fn := b.TranscribeFunc
		b.mu.Unlock()
		h, err := fn(ctx, samples, prompt, language)
		b.mu.Lock()
		return h, err
	}

	if len(b.Responses) == 0 {
		return recognizer.Hypothesis{}, nil
	}
	i := min(b.next, len(b.Responses)-1)
	b.next++
	var err error
	if i < len(b.Errs) {
		err = b.Errs[i]
	}
	return b.Responses[i], err
}

// Caps returns Capabilities, defaulting to a 16 kHz, 30 s, prompt-capable
// backend.
func (b *Backend) Caps() recognizer.Caps {
	if b.Capabilities == (recognizer.Caps{}) {
		return recognizer.Caps{SampleRate: 16000, MaxAudioSeconds: 30, SupportsPrompt: true}
	}
	return b.Capabilities
}

// CallCount returns the number of recorded Transcribe calls. Thread-safe.
func (b *Backend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Calls)
}

// Reset clears all recorded calls and rewinds the response queue.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls = nil
	b.next = 0
}
