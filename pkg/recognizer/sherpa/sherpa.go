// Package sherpa provides a CPU-friendly recogniser backend built on
// sherpa-onnx whisper models. The encoder/decoder/tokens files are discovered
// inside a model directory, so the usual sherpa-onnx release archives work
// unmodified.
//
// sherpa-onnx whisper does not emit per-token timestamps for all models; when
// timestamps are missing the transcript is split into words with linearly
// interpolated timings across the window.
package sherpa

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sherpaonnx "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/soniclane/streamscribe/pkg/audio"
	"github.com/soniclane/streamscribe/pkg/recognizer"
)

const maxAudioSeconds = 30

// Backend implements recognizer.Backend using a sherpa-onnx offline whisper
// recogniser.
type Backend struct {
	// mu serialises Decode calls: a sherpa offline recogniser is not
	// documented as safe for concurrent decoding.
	mu  sync.Mutex
	rec *sherpaonnx.OfflineRecognizer
}

// Compile-time assertion that Backend satisfies recognizer.Backend.
var _ recognizer.Backend = (*Backend)(nil)

// Config holds the model location and decode parameters for a Backend.
type Config struct {
	// ModelDir is the directory holding encoder/decoder onnx files and
	// tokens.txt, as unpacked from a sherpa-onnx whisper release.
	ModelDir string

	// Language is the default ISO language code; empty means autodetect.
	Language string

	// NumThreads is the ONNX runtime thread count. Zero means 2.
	NumThreads int
}

// encoder/decoder/tokens file names shipped in sherpa-onnx whisper archives,
// preferred order (int8-quantised first).
var (
	encoderCandidates = []string{"encoder.int8.onnx", "encoder.onnx"}
	decoderCandidates = []string{"decoder.int8.onnx", "decoder.onnx"}
	tokensCandidates  = []string{"tokens.txt"}
)

// New creates a Backend from the given config. The model is loaded eagerly;
// a missing or unreadable model reports recognizer.ErrUnavailable.
func New(cfg Config) (*Backend, error) {
	if cfg.ModelDir == "" {
		return nil, fmt.Errorf("sherpa: ModelDir must not be empty: %w", recognizer.ErrUnavailable)
	}
	encoder := findModelFile(cfg.ModelDir, encoderCandidates)
	decoder := findModelFile(cfg.ModelDir, decoderCandidates)
	tokens := findModelFile(cfg.ModelDir, tokensCandidates)
	if encoder == "" || decoder == "" || tokens == "" {
		return nil, fmt.Errorf("sherpa: incomplete whisper model in %q (need encoder, decoder, tokens.txt): %w",
			cfg.ModelDir, recognizer.ErrUnavailable)
	}

	threads := cfg.NumThreads
	if threads <= 0 {
		threads = 2
	}
	lang := cfg.Language
	if lang == "auto" {
		lang = ""
	}

	sherpaCfg := sherpaonnx.OfflineRecognizerConfig{
		FeatConfig: sherpaonnx.FeatureConfig{
			SampleRate: audio.SampleRate,
			FeatureDim: 80,
		},
		ModelConfig: sherpaonnx.OfflineModelConfig{
			Whisper: sherpaonnx.OfflineWhisperModelConfig{
				Encoder:  encoder,
				Decoder:  decoder,
				Language: lang,
				Task:     "transcribe",
			},
			Tokens:     tokens,
			NumThreads: threads,
			Debug:      0,
		},
	}

	rec := sherpaonnx.NewOfflineRecognizer(&sherpaCfg)
	if rec == nil {
		return nil, fmt.Errorf("sherpa: create offline recognizer from %q: %w", cfg.ModelDir, recognizer.ErrUnavailable)
	}
	return &Backend{rec: rec}, nil
}

// Close releases the recogniser resources.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rec != nil {
		sherpaonnx.DeleteOfflineRecognizer(b.rec)
		b.rec = nil
	}
	return nil
}

// Caps returns the backend's static capabilities. The sherpa whisper decoder
// has no prompt input, so the engine's context prompt is ignored.
func (b *Backend) Caps() recognizer.Caps {
	return recognizer.Caps{
		SampleRate:      audio.SampleRate,
		MaxAudioSeconds: maxAudioSeconds,
		SupportsPrompt:  false,
	}
}

// Transcribe decodes the window through the offline recogniser. The prompt is
// accepted for interface uniformity but unused.
func (b *Backend) Transcribe(ctx context.Context, samples []float32, _ string, _ string) (recognizer.Hypothesis, error) {
	if err := ctx.Err(); err != nil {
		return recognizer.Hypothesis{}, fmt.Errorf("sherpa: %v: %w", err, recognizer.ErrTransient)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rec == nil {
		return recognizer.Hypothesis{}, fmt.Errorf("sherpa: backend closed: %w", recognizer.ErrUnavailable)
	}

	stream := sherpaonnx.NewOfflineStream(b.rec)
	if stream == nil {
		return recognizer.Hypothesis{}, fmt.Errorf("sherpa: create stream: %w", recognizer.ErrTransient)
	}
	defer sherpaonnx.DeleteOfflineStream(stream)

	stream.AcceptWaveform(audio.SampleRate, samples)
	b.rec.Decode(stream)
	result := stream.GetResult()
	if result == nil {
		return recognizer.Hypothesis{}, fmt.Errorf("sherpa: empty decode result: %w", recognizer.ErrTransient)
	}

	windowEnd := audio.Seconds(samples)
	hyp := hypothesisFromResult(result.Text, result.Tokens, result.Timestamps, windowEnd)
	if len(hyp.Words) > 0 {
		hyp.SegmentEnds = []float64{hyp.Words[len(hyp.Words)-1].End}
	}
	return hyp, nil
}

// hypothesisFromResult builds word-level output from a sherpa decode result.
// Token timestamps are used when the model provides them; otherwise the full
// text is interpolated across the spoken portion of the window.
func hypothesisFromResult(text string, tokens []string, timestamps []float32, windowEnd float64) recognizer.Hypothesis {
	if len(tokens) == 0 || len(timestamps) != len(tokens) {
		return recognizer.Hypothesis{Words: recognizer.SplitSegment(text, 0, windowEnd)}
	}

	var (
		words   []recognizer.Word
		current recognizer.Word
	)
	flush := func(end float64) {
		if current.Text != "" {
			current.End = end
			words = append(words, current)
			current = recognizer.Word{}
		}
	}
	for i, tok := range tokens {
		t := float64(timestamps[i])
		if strings.HasPrefix(tok, " ") || current.Text == "" {
			flush(t)
			current.Start = t
		}
		current.Text += tok
	}
	flush(windowEnd)
	return recognizer.Hypothesis{Words: words}
}

// findModelFile returns the first candidate that exists in dir, or "".
func findModelFile(dir string, candidates []string) string {
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
