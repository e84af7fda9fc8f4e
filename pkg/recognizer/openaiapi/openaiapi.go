// Package openaiapi provides a recogniser backend that delegates to the
// OpenAI audio transcription API. Audio windows are wrapped in a WAV
// container and submitted as batch requests with word-level timestamp
// granularity; no model is loaded locally.
package openaiapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/soniclane/streamscribe/pkg/audio"
	"github.com/soniclane/streamscribe/pkg/recognizer"
)

const (
	defaultModel = "whisper-1"

	// The API rejects files longer than its internal window anyway; the
	// engine's hard cap keeps windows at 30 s so this is never hit in
	// practice.
	maxAudioSeconds = 30
)

// Backend implements recognizer.Backend against the OpenAI audio API.
type Backend struct {
	client oai.Client
	model  string
}

// Compile-time assertion that Backend satisfies recognizer.Backend.
var _ recognizer.Backend = (*Backend)(nil)

// config holds optional configuration for the backend.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Backend.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, e.g. to target a
// self-hosted compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the transcription model. Defaults to whisper-1.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Backend. apiKey must be non-empty; the key is only
// validated on first use, so construction never blocks on the network.
func New(apiKey string, opts ...Option) (*Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openaiapi: apiKey must not be empty: %w", recognizer.ErrUnavailable)
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Backend{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Caps returns the API backend's static capabilities.
func (b *Backend) Caps() recognizer.Caps {
	return recognizer.Caps{
		SampleRate:      audio.SampleRate,
		MaxAudioSeconds: maxAudioSeconds,
		SupportsPrompt:  true,
	}
}

// verboseTranscription mirrors the verbose_json response shape. Decoded
// directly so that word and segment granularity survive the SDK's default
// response mapping.
type verboseTranscription struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Words    []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
	Segments []struct {
		Text         string  `json:"text"`
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// noSpeechThreshold filters segments the API itself believes are silence.
const noSpeechThreshold = 0.9

// Transcribe submits the window as a WAV file and maps the verbose response
// to word-level output. Network and rate-limit failures are transient; an
// authentication failure is terminal.
func (b *Backend) Transcribe(ctx context.Context, samples []float32, prompt, language string) (recognizer.Hypothesis, error) {
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(audio.EncodeWAV(samples)), "window.wav", "audio/wav"),
		Model:          oai.AudioModel(b.model),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"word", "segment"},
	}
	if language != "" && language != "auto" {
		params.Language = oai.String(language)
	}
	if prompt != "" {
		params.Prompt = oai.String(recognizer.TrimPrompt(prompt))
	}

	var verbose verboseTranscription
	_, err := b.client.Audio.Transcriptions.New(ctx, params, option.WithResponseBodyInto(&verbose))
	if err != nil {
		return recognizer.Hypothesis{}, classifyErr(err)
	}

	return mapVerbose(verbose), nil
}

// mapVerbose converts a verbose API response to the uniform hypothesis
// shape. Word granularity is preferred; segment-only responses are split by
// interpolation. Segments the API marks as probable non-speech are dropped.
func mapVerbose(v verboseTranscription) recognizer.Hypothesis {
	var hyp recognizer.Hypothesis

	noSpeech := func(start float64) bool {
		for _, s := range v.Segments {
			if s.NoSpeechProb > noSpeechThreshold && start >= s.Start && start <= s.End {
				return true
			}
		}
		return false
	}

	if len(v.Words) > 0 {
		for _, w := range v.Words {
			if noSpeech(w.Start) {
				continue
			}
			hyp.Words = append(hyp.Words, recognizer.Word{Start: w.Start, End: w.End, Text: " " + w.Word})
		}
	} else {
		for _, s := range v.Segments {
			if s.NoSpeechProb > noSpeechThreshold {
				continue
			}
			hyp.Words = append(hyp.Words, recognizer.SplitSegment(s.Text, s.Start, s.End)...)
		}
	}

	for _, s := range v.Segments {
		hyp.SegmentEnds = append(hyp.SegmentEnds, s.End)
	}
	return hyp
}

// classifyErr maps an SDK error onto the recogniser error taxonomy.
// Authentication and permission failures will never heal by retrying; the
// rest (timeouts, 5xx, rate limits) are transient.
func classifyErr(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return fmt.Errorf("openaiapi: %v: %w", err, recognizer.ErrUnavailable)
		}
	}
	return fmt.Errorf("openaiapi: %v: %w", err, recognizer.ErrTransient)
}
