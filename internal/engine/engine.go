// Package engine implements the online ASR engine: the component that turns
// an offline, window-at-a-time recogniser into a streaming producer of
// committed transcript words.
//
// The engine maintains a sliding audio buffer, repeatedly runs the
// recogniser over it, and reconciles consecutive hypotheses with
// LocalAgreement-2 — a word becomes final only when two consecutive
// recogniser calls agree on it at the same point in time. Committed words
// are never retracted, reordered, or altered. Voice-activity silence
// boundaries (advisory) and a hard cap keep the buffer bounded.
//
// An Engine is confined to one session goroutine; none of its methods are
// safe for concurrent use. The recogniser behind it is process-wide and is
// gated by a shared semaphore so a busy session cannot starve the rest.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/soniclane/streamscribe/internal/observe"
	"github.com/soniclane/streamscribe/pkg/audio"
	"github.com/soniclane/streamscribe/pkg/recognizer"
	"github.com/soniclane/streamscribe/pkg/vad"
)

// ErrClosed reports use of an engine after Finish. This is a caller bug, not
// a runtime condition.
var ErrClosed = errors.New("engine: closed")

// TrimMode selects how the engine chooses audio-buffer cut points.
type TrimMode string

const (
	// TrimSegment prefers VAD silence boundaries, then recogniser segment
	// ends. The recommended default.
	TrimSegment TrimMode = "segment"

	// TrimSentence cuts only at sentence-final committed words.
	TrimSentence TrimMode = "sentence"
)

// IsValid reports whether m is a recognised trim mode.
func (m TrimMode) IsValid() bool {
	return m == TrimSegment || m == TrimSentence
}

// TrimConfig tunes the buffer-trimming policy. The zero value is replaced
// field by field with the defaults below.
type TrimConfig struct {
	// Mode selects the cut-point strategy. Default: TrimSegment.
	Mode TrimMode

	// AfterSeconds is the buffer length above which the engine starts
	// looking for a cut point. Default: 15.
	AfterSeconds float64

	// HardCapSeconds is the buffer length that forces a cut even
	// mid-utterance. Default: 30.
	HardCapSeconds float64

	// WorkingTailSeconds is how much audio a forced cut leaves in place so
	// the next window still has context. Default: 5.
	WorkingTailSeconds float64
}

func (c TrimConfig) withDefaults() TrimConfig {
	if c.Mode == "" {
		c.Mode = TrimSegment
	}
	if c.AfterSeconds <= 0 {
		c.AfterSeconds = 15
	}
	if c.HardCapSeconds <= 0 {
		c.HardCapSeconds = 30
	}
	if c.WorkingTailSeconds <= 0 {
		c.WorkingTailSeconds = 5
	}
	return c
}

// minWindowSeconds is the shortest window worth sending to a recogniser;
// shorter buffers are zero-padded up to it.
const minWindowSeconds = 1.0

// silenceKeepTail is how much trailing silence a VAD cut leaves in the
// buffer, because the detector may later decide speech started inside it.
const silenceKeepTail = 1.0

// Options configures a new Engine.
type Options struct {
	// Backend runs the actual recognition. Required.
	Backend recognizer.Backend

	// VAD supplies silence boundaries for trimming. Optional; without it
	// the engine trims at recogniser segment ends and committed words only.
	VAD vad.Classifier

	// Gate bounds concurrent recogniser calls process-wide. Optional.
	Gate *semaphore.Weighted

	// Metrics receives engine telemetry. Optional.
	Metrics *observe.Metrics

	// Language is the ISO language hint passed to the backend; empty means
	// autodetect.
	Language string

	// Trim tunes the buffer-trimming policy.
	Trim TrimConfig
}

// Engine is the online ASR engine for one session.
type Engine struct {
	backend recognizer.Backend
	vad     vad.Classifier
	gate    *semaphore.Weighted
	met     *observe.Metrics

	language string
	trim     TrimConfig

	// buffer holds the live audio window; offset is the absolute session
	// time of buffer[0].
	buffer []float32
	offset float64

	committed []recognizer.Word
	hyp       hypothesisBuffer

	// lastSegmentEnds are the segment boundaries of the most recent
	// hypothesis, in absolute time; candidate trim points.
	lastSegmentEnds []float64

	started   time.Time
	closed    bool
	warnedCap bool
}

// New creates an Engine. Options.Backend is required.
func New(opts Options) (*Engine, error) {
	if opts.Backend == nil {
		return nil, errors.New("engine: Options.Backend is required")
	}
	return &Engine{
		backend:  opts.Backend,
		vad:      opts.VAD,
		gate:     opts.Gate,
		met:      opts.Metrics,
		language: opts.Language,
		trim:     opts.Trim.withDefaults(),
	}, nil
}

// InsertAudio appends samples to the live buffer. It never blocks and has no
// recognition side effect; over-cap growth is tolerated here and corrected
// by the next ProcessIter.
func (e *Engine) InsertAudio(samples []float32) error {
	if e.closed {
		return ErrClosed
	}
	if e.started.IsZero() {
		e.started = time.Now()
	}
	e.buffer = append(e.buffer, samples...)
	return nil
}

// BufferSeconds returns the current live-buffer length in seconds.
func (e *Engine) BufferSeconds() float64 {
	return audio.Seconds(e.buffer)
}

// Committed returns the committed transcript so far. The returned slice is
// shared; callers must not mutate it.
func (e *Engine) Committed() []recognizer.Word {
	return e.committed
}

// ProcessIter runs one recognise-reconcile-trim cycle and returns the words
// newly committed by it, in absolute session time. An empty result is the
// normal quiet state. A transient recogniser failure is swallowed (no new
// words this tick); any other failure is returned and ends the session.
func (e *Engine) ProcessIter(ctx context.Context) ([]recognizer.Word, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if len(e.buffer) == 0 {
		return nil, nil
	}

	hyp, err := e.transcribeBuffer(ctx)
	if err != nil {
		if errors.Is(err, recognizer.ErrTransient) {
			slog.Debug("transient recogniser failure, skipping tick", "err", err)
			e.countRecognizerError(ctx, "transient")
			return nil, nil
		}
		e.countRecognizerError(ctx, "unavailable")
		return nil, err
	}

	e.lastSegmentEnds = e.lastSegmentEnds[:0]
	for _, s := range hyp.SegmentEnds {
		e.lastSegmentEnds = append(e.lastSegmentEnds, s+e.offset)
	}

	e.hyp.insert(hyp.Words, e.offset)
	committed := e.hyp.flush()
	e.committed = append(e.committed, committed...)

	e.recordCommit(ctx, committed)
	e.maybeTrim(ctx)

	if e.met != nil {
		e.met.BufferSeconds.Record(ctx, e.BufferSeconds())
	}
	return committed, nil
}

// Finish treats the buffer end as end-of-stream: one final reconcile cycle,
// then every pending word is committed unconditionally (no second opinion
// can arrive after the stream ends). Returns all words newly committed by
// the call and closes the engine; further calls fail with ErrClosed.
func (e *Engine) Finish(ctx context.Context) ([]recognizer.Word, error) {
	if e.closed {
		return nil, ErrClosed
	}

	var out []recognizer.Word
	if len(e.buffer) > 0 {
		committed, err := e.ProcessIter(ctx)
		if err != nil {
			e.closed = true
			return nil, err
		}
		out = append(out, committed...)
	}

	flushed := e.hyp.flushAll()
	e.committed = append(e.committed, flushed...)
	out = append(out, flushed...)

	e.offset += audio.Seconds(e.buffer)
	e.buffer = nil
	e.closed = true
	return out, nil
}

// transcribeBuffer runs the backend over the current buffer, behind the
// shared gate, and records call latency.
func (e *Engine) transcribeBuffer(ctx context.Context) (recognizer.Hypothesis, error) {
	if e.gate != nil {
		if err := e.gate.Acquire(ctx, 1); err != nil {
			// Only fails when ctx is done; not a recogniser fault.
			return recognizer.Hypothesis{}, fmt.Errorf("engine: acquire recogniser gate: %w", err)
		}
		defer e.gate.Release(1)
	}

	window := e.buffer
	if short := audio.SampleIndex(minWindowSeconds) - len(window); short > 0 {
		padded := make([]float32, len(window), len(window)+short)
		copy(padded, window)
		window = append(padded, make([]float32, short)...)
	}

	start := time.Now()
	hyp, err := e.backend.Transcribe(ctx, window, e.prompt(), e.language)
	if e.met != nil {
		e.met.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
	}
	return hyp, err
}

// prompt returns the tail of the committed transcript passed to the backend
// as decoding context, at most recognizer.MaxPromptChars characters.
func (e *Engine) prompt() string {
	if len(e.committed) == 0 {
		return ""
	}
	var n, chars int
	for i := len(e.committed) - 1; i >= 0 && chars < recognizer.MaxPromptChars; i-- {
		chars += len(e.committed[i].Text)
		n++
	}
	var text string
	for _, w := range e.committed[len(e.committed)-n:] {
		text += w.Text
	}
	return recognizer.TrimPrompt(text)
}

// ---- trimming ---------------------------------------------------------------

// maybeTrim applies the buffer-trimming policy: once the buffer outgrows the
// configured threshold, cut at the best safe boundary — a VAD silence, then
// a recogniser segment end (or a sentence-final committed word in sentence
// mode) — and above the hard cap cut unconditionally, keeping a working
// tail.
func (e *Engine) maybeTrim(ctx context.Context) {
	length := e.BufferSeconds()
	if length <= e.trim.AfterSeconds {
		return
	}

	if t, reason, ok := e.pickCut(); ok {
		e.cutAt(ctx, t, reason)
		length = e.BufferSeconds()
	}

	if length > e.trim.HardCapSeconds {
		e.forcedCut(ctx)
	}
}

// pickCut returns the preferred safe cut point for the current state.
func (e *Engine) pickCut() (t float64, reason string, ok bool) {
	if cut, ok := e.vadCut(); ok {
		return cut, "vad", true
	}
	switch e.trim.Mode {
	case TrimSentence:
		if cut, ok := e.sentenceCut(); ok {
			return cut, "sentence", true
		}
	default:
		if cut, ok := e.segmentCut(); ok {
			return cut, "segment", true
		}
	}
	return 0, "", false
}

// vadCut looks for the latest qualifying silence boundary. A silence end is
// a safe cut when it lies inside the committed past, or when no pending
// hypothesis word starts before it (silence that produced no words cannot
// lose any). Trailing silence keeps silenceKeepTail of audio because the
// detector may re-date a speech onset into it.
func (e *Engine) vadCut() (float64, bool) {
	if e.vad == nil {
		return 0, false
	}
	intervals, err := e.vad.Classify(e.buffer)
	if err != nil {
		// Advisory component: degrade to the other cut strategies.
		slog.Warn("vad classify failed, treating buffer as speech", "err", err)
		return 0, false
	}

	safeUntil := e.lastCommittedEnd()
	pendingStart := math.Inf(1)
	if pending := e.hyp.pending(); len(pending) > 0 {
		pendingStart = pending[0].Start
	}
	bufferEnd := e.offset + e.BufferSeconds()

	best := 0.0
	found := false
	for _, iv := range intervals {
		if iv.Kind != vad.Silence || iv.End-iv.Start < vad.MinSilence {
			continue
		}
		end := iv.End + e.offset
		cut := end
		if end >= bufferEnd { // trailing silence
			cut = max(iv.Start+e.offset, bufferEnd-silenceKeepTail)
		}
		if cut <= e.offset {
			continue
		}
		if cut > safeUntil && cut > pendingStart {
			continue
		}
		if cut > best {
			best = cut
			found = true
		}
	}
	return best, found
}

// segmentCut returns the latest recogniser segment end inside the committed
// past. Recognisers are most confident at their own segment boundaries, so
// these are the next best cut points after real silence.
func (e *Engine) segmentCut() (float64, bool) {
	safeUntil := e.lastCommittedEnd()
	best := 0.0
	found := false
	for _, end := range e.lastSegmentEnds {
		if end > e.offset && end <= safeUntil && end > best {
			best = end
			found = true
		}
	}
	// Never cut at the very last segment boundary: the tail segment is
	// still moving.
	if found && len(e.lastSegmentEnds) > 0 && best == e.lastSegmentEnds[len(e.lastSegmentEnds)-1] {
		return 0, false
	}
	return best, found
}

// sentenceCut returns the end of the second-to-last completed sentence in
// the committed transcript, keeping the final sentence as live context.
func (e *Engine) sentenceCut() (float64, bool) {
	var ends []float64
	for _, w := range e.committed {
		if isSentenceFinal(w.Text) && w.End > e.offset {
			ends = append(ends, w.End)
		}
	}
	if len(ends) < 2 {
		return 0, false
	}
	return ends[len(ends)-2], true
}

// forcedCut trims mid-utterance when the buffer exceeds the hard cap,
// leaving the working tail. Degraded mode: the committed prefix stays
// intact, but context for the next window is whatever survives the cut.
func (e *Engine) forcedCut(ctx context.Context) {
	t := e.offset + e.trim.HardCapSeconds - e.trim.WorkingTailSeconds
	if last := e.lastCommittedEnd(); last > e.offset {
		t = min(t, last)
	} else if !e.warnedCap {
		slog.Warn("buffer over hard cap with nothing committed, cutting mid-utterance",
			"buffer_seconds", e.BufferSeconds())
		e.warnedCap = true
	}
	if t <= e.offset {
		return
	}
	e.cutAt(ctx, t, "forced")
}

// cutAt drops all audio before absolute time t and advances the buffer time
// offset, then discards the hypothesis bookkeeping the cut invalidated.
// Committed transcript words are untouched.
func (e *Engine) cutAt(ctx context.Context, t float64, reason string) {
	cut := audio.SampleIndex(t - e.offset)
	if cut <= 0 {
		return
	}
	if cut >= len(e.buffer) {
		cut = len(e.buffer)
	}
	e.buffer = e.buffer[cut:]
	e.offset = t
	e.hyp.popCommitted(t)
	e.hyp.dropPendingBefore(t)

	slog.Debug("trimmed audio buffer",
		"reason", reason, "offset", e.offset, "buffer_seconds", e.BufferSeconds())
	if e.met != nil {
		e.met.BufferTrims.Add(ctx, 1,
			metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// lastCommittedEnd returns the end time of the last committed word, or 0.
func (e *Engine) lastCommittedEnd() float64 {
	if len(e.committed) == 0 {
		return 0
	}
	return e.committed[len(e.committed)-1].End
}

func (e *Engine) recordCommit(ctx context.Context, committed []recognizer.Word) {
	if e.met == nil || len(committed) == 0 {
		return
	}
	e.met.CommittedWords.Add(ctx, int64(len(committed)))
	if !e.started.IsZero() {
		elapsed := time.Since(e.started).Seconds()
		for _, w := range committed {
			if lat := elapsed - w.End; lat >= 0 {
				e.met.CommitLatency.Record(ctx, lat)
			}
		}
	}
}

func (e *Engine) countRecognizerError(ctx context.Context, kind string) {
	if e.met == nil {
		return
	}
	e.met.RecognizerErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)))
}

// isSentenceFinal reports whether a word's text ends a sentence.
func isSentenceFinal(text string) bool {
	trimmed := strings.TrimRight(text, " \t\"'»«)]")
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return strings.HasSuffix(trimmed, "…") || strings.HasSuffix(trimmed, "。")
}
