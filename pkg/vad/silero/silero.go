// Package silero provides a Silero-VAD-backed voice activity classifier via
// sherpa-onnx. It is markedly more robust than energy thresholding in noisy
// rooms at the cost of an ONNX model file.
//
// Each Classify call runs a fresh detector over the window so that the
// Classifier contract (same window, same labels) holds regardless of call
// order. The silero model is a couple of megabytes, so per-call construction
// is cheap relative to the recogniser inference it sits next to.
package silero

import (
	"fmt"
	"os"

	sherpaonnx "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/soniclane/streamscribe/pkg/audio"
	"github.com/soniclane/streamscribe/pkg/vad"
)

const (
	defaultThreshold = 0.5

	// windowSize is silero's fixed analysis window in samples.
	windowSize = 512

	// bufferSeconds bounds the detector's internal ring buffer. Matches the
	// engine's 30 s audio hard cap plus slack.
	bufferSeconds = 40
)

// Classifier implements vad.Classifier using the Silero VAD model.
type Classifier struct {
	modelPath string
	threshold float32
}

// Compile-time assertion that Classifier satisfies vad.Classifier.
var _ vad.Classifier = (*Classifier)(nil)

// Option is a functional option for Classifier.
type Option func(*Classifier)

// WithThreshold overrides the speech probability threshold (0..1).
func WithThreshold(t float32) Option {
	return func(c *Classifier) { c.threshold = t }
}

// New creates a Classifier for the silero_vad.onnx model at modelPath.
// The model file is checked eagerly so a bad path fails at startup, not on
// the first client.
func New(modelPath string, opts ...Option) (*Classifier, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("silero: model %q: %w", modelPath, err)
	}
	c := &Classifier{modelPath: modelPath, threshold: defaultThreshold}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Classify runs the silero detector over the window and converts its speech
// segments into the covering interval form, with the complement labelled
// silence.
func (c *Classifier) Classify(samples []float32) ([]vad.Interval, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	cfg := sherpaonnx.VadModelConfig{
		SileroVad: sherpaonnx.SileroVadModelConfig{
			Model:              c.modelPath,
			Threshold:          c.threshold,
			MinSilenceDuration: float32(vad.MinSilence),
			MinSpeechDuration:  0.25,
			WindowSize:         windowSize,
		},
		SampleRate: audio.SampleRate,
		NumThreads: 1,
		Debug:      0,
	}

	det := sherpaonnx.NewVoiceActivityDetector(&cfg, bufferSeconds)
	if det == nil {
		return nil, fmt.Errorf("silero: create detector for %q", c.modelPath)
	}
	defer sherpaonnx.DeleteVoiceActivityDetector(det)

	det.AcceptWaveform(samples)
	det.Flush()

	var speech []vad.Interval
	for !det.IsEmpty() {
		seg := det.Front()
		det.Pop()
		if seg == nil || len(seg.Samples) == 0 {
			continue
		}
		start := float64(seg.Start) / audio.SampleRate
		speech = append(speech, vad.Interval{
			Start: start,
			End:   start + float64(len(seg.Samples))/audio.SampleRate,
			Kind:  vad.Speech,
		})
	}

	return cover(speech, audio.Seconds(samples)), nil
}

// cover fills the gaps between speech segments with silence intervals so the
// result covers [0, total] exactly, then normalises.
func cover(speech []vad.Interval, total float64) []vad.Interval {
	var intervals []vad.Interval
	cursor := 0.0
	for _, s := range speech {
		if s.Start > cursor {
			intervals = append(intervals, vad.Interval{Start: cursor, End: s.Start, Kind: vad.Silence})
		}
		intervals = append(intervals, s)
		cursor = s.End
	}
	if cursor < total {
		intervals = append(intervals, vad.Interval{Start: cursor, End: total, Kind: vad.Silence})
	}
	if intervals == nil {
		return nil
	}
	return vad.Normalize(intervals, vad.MinSilence)
}
