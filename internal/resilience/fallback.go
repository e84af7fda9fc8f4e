package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/soniclane/streamscribe/pkg/recognizer"
)

// FallbackBackend implements recognizer.Backend over an ordered chain of
// backends. Each entry has its own circuit breaker; a transcription goes to
// the first entry whose breaker admits it and that succeeds.
//
// A session using a fallback chain keeps producing hypotheses when the
// primary degrades — at the cost that timestamps and wording may jitter
// across backend switches, which the engine's agreement policy absorbs.
type FallbackBackend struct {
	entries []fallbackEntry
}

type fallbackEntry struct {
	name    string
	backend recognizer.Backend
	breaker *Breaker
}

var _ recognizer.Backend = (*FallbackBackend)(nil)

// NewFallbackBackend creates a chain with primary as the preferred backend.
func NewFallbackBackend(primaryName string, primary recognizer.Backend, cfg BreakerConfig) *FallbackBackend {
	f := &FallbackBackend{}
	f.add(primaryName, primary, cfg)
	return f
}

// AddFallback appends a backend tried after all earlier entries.
func (f *FallbackBackend) AddFallback(name string, backend recognizer.Backend, cfg BreakerConfig) {
	f.add(name, backend, cfg)
}

func (f *FallbackBackend) add(name string, backend recognizer.Backend, cfg BreakerConfig) {
	cfg.Name = name
	f.entries = append(f.entries, fallbackEntry{
		name:    name,
		backend: backend,
		breaker: NewBreaker(cfg),
	})
}

// Transcribe tries each entry in order until one succeeds. Entries with an
// open breaker are skipped without a call. When every entry fails the last
// real error is returned, so the engine's taxonomy handling still applies.
func (f *FallbackBackend) Transcribe(ctx context.Context, samples []float32, prompt, language string) (recognizer.Hypothesis, error) {
	var lastErr error
	for i := range f.entries {
		e := &f.entries[i]

		// A prompt the backend cannot consume is dropped, not an error.
		p := prompt
		if !e.backend.Caps().SupportsPrompt {
			p = ""
		}

		var hyp recognizer.Hypothesis
		err := e.breaker.Do(func() error {
			var inner error
			hyp, inner = e.backend.Transcribe(ctx, samples, p, language)
			return inner
		})
		if err == nil {
			return hyp, nil
		}
		if ctx.Err() != nil {
			return recognizer.Hypothesis{}, err
		}
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping backend, breaker open", "backend", e.name)
		} else {
			lastErr = err
			slog.Warn("backend failed, trying next", "backend", e.name, "err", err)
		}
	}

	if lastErr == nil {
		// Every breaker was open: nothing was even tried.
		lastErr = fmt.Errorf("%w: %w", recognizer.ErrTransient, ErrBreakerOpen)
	}
	return recognizer.Hypothesis{}, fmt.Errorf("resilience: all backends failed: %w", lastErr)
}

// Caps returns the primary backend's capabilities; the chain is only as
// capable as its preferred entry.
func (f *FallbackBackend) Caps() recognizer.Caps {
	return f.entries[0].backend.Caps()
}
