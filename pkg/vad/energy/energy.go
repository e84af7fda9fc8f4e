// Package energy provides an RMS-based voice activity classifier. It needs
// no model file and no CGO, which makes it the default gate: frame-level
// root-mean-square energy against a fixed threshold, smoothed by the
// vad.Normalize contract.
//
// Energy detection confuses loud noise with speech, but since VAD only
// chooses where to trim the audio buffer that costs a slightly later trim,
// never transcript accuracy.
package energy

import (
	"github.com/soniclane/streamscribe/pkg/audio"
	"github.com/soniclane/streamscribe/pkg/vad"
)

const (
	// defaultThreshold is the normalised RMS level below which a frame is
	// silence. 0.01 of full scale corresponds to roughly -40 dBFS.
	defaultThreshold = 0.01

	// defaultFrameSize is 30 ms at 16 kHz.
	defaultFrameSize = 480
)

// Classifier implements vad.Classifier with per-frame RMS thresholding.
type Classifier struct {
	threshold float64
	frameSize int
}

// Compile-time assertion that Classifier satisfies vad.Classifier.
var _ vad.Classifier = (*Classifier)(nil)

// Option is a functional option for Classifier.
type Option func(*Classifier)

// WithThreshold overrides the silence RMS threshold (normalised, 0..1).
func WithThreshold(t float64) Option {
	return func(c *Classifier) { c.threshold = t }
}

// WithFrameSize overrides the analysis frame length in samples.
func WithFrameSize(n int) Option {
	return func(c *Classifier) { c.frameSize = n }
}

// New creates an energy classifier with the default 30 ms frame and -40 dBFS
// threshold.
func New(opts ...Option) *Classifier {
	c := &Classifier{threshold: defaultThreshold, frameSize: defaultFrameSize}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify labels the window frame by frame and normalises the result.
// It never fails.
func (c *Classifier) Classify(samples []float32) ([]vad.Interval, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	var intervals []vad.Interval
	for off := 0; off < len(samples); off += c.frameSize {
		end := min(off+c.frameSize, len(samples))
		kind := vad.Speech
		if audio.RMS(samples[off:end]) < c.threshold {
			kind = vad.Silence
		}
		intervals = append(intervals, vad.Interval{
			Start: float64(off) / audio.SampleRate,
			End:   float64(end) / audio.SampleRate,
			Kind:  kind,
		})
	}
	return vad.Normalize(intervals, vad.MinSilence), nil
}
