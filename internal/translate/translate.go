// Package translate rewrites committed transcript records into a target
// language via an OpenAI-compatible chat API.
//
// Translation quality degrades badly on word fragments, so records are
// buffered and sent at phrase granularity: a batch goes out once it ends at
// a sentence boundary with enough text, once the buffered audio span grows
// too long, or once the oldest buffered record has waited long enough.
// Translation never blocks transcription correctness — any API failure
// passes the original text through unchanged.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/soniclane/streamscribe/internal/session"
)

const (
	defaultModel = "gpt-4o-mini"

	// flushInterval is how long the oldest buffered record may wait before
	// the batch is sent regardless of boundaries.
	flushInterval = 3 * time.Second

	// maxBufferSeconds bounds the audio span of one batch.
	maxBufferSeconds = 10

	// minFlushChars is the least text worth translating at a sentence
	// boundary; shorter fragments wait for more context.
	minFlushChars = 20
)

// Translator implements session.Translator over a chat-completion API.
// It is used from a single session goroutine and is not safe for concurrent
// use, matching the session contract.
type Translator struct {
	client oai.Client
	model  string
	target string
	log    *slog.Logger

	buf      []session.Record
	firstFed time.Time

	// now is stubbed in tests.
	now func() time.Time
}

var _ session.Translator = (*Translator)(nil)

// config holds optional configuration for the translator.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
	log     *slog.Logger
}

// Option is a functional option for Translator.
type Option func(*config)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the translation model. Defaults to gpt-4o-mini.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.log = log }
}

// New constructs a Translator targeting the given language code.
func New(apiKey, targetLanguage string, opts ...Option) (*Translator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("translate: apiKey must not be empty")
	}
	if targetLanguage == "" {
		return nil, fmt.Errorf("translate: targetLanguage must not be empty")
	}

	cfg := &config{model: defaultModel, log: slog.Default()}
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

	return &Translator{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
		target: targetLanguage,
		log:    cfg.log,
		now:    time.Now,
	}, nil
}

// Feed buffers one committed record and returns any batch that is now ready
// for delivery, translated.
func (t *Translator) Feed(ctx context.Context, rec session.Record) ([]session.Record, error) {
	if len(t.buf) == 0 {
		t.firstFed = t.now()
	}
	t.buf = append(t.buf, rec)

	if !t.shouldFlush() {
		return nil, nil
	}
	return t.flush(ctx), nil
}

// Flush translates and returns everything still buffered. Called at
// end-of-stream.
func (t *Translator) Flush(ctx context.Context) ([]session.Record, error) {
	if len(t.buf) == 0 {
		return nil, nil
	}
	return t.flush(ctx), nil
}

func (t *Translator) shouldFlush() bool {
	text := joinText(t.buf)
	if endsAtSentence(text) && len(text) >= minFlushChars {
		return true
	}
	if t.buf[len(t.buf)-1].End-t.buf[0].Start >= maxBufferSeconds {
		return true
	}
	return t.now().Sub(t.firstFed) >= flushInterval
}

// flush collapses the buffer into one record and translates its text. On
// failure the original text is delivered instead.
func (t *Translator) flush(ctx context.Context) []session.Record {
	text := joinText(t.buf)
	out := session.Record{
		Start: t.buf[0].Start,
		End:   t.buf[len(t.buf)-1].End,
		Text:  text,
	}
	t.buf = t.buf[:0]

	translated, err := t.translate(ctx, text)
	if err != nil {
		t.log.Warn("translation failed, passing text through", "err", err)
		return []session.Record{out}
	}
	out.Text = translated
	return []session.Record{out}
}

func (t *Translator) translate(ctx context.Context, text string) (string, error) {
	resp, err := t.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: oai.ChatModel(t.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(fmt.Sprintf(
				"You are a translation engine. Translate the user's text into %q. "+
					"Output only the translation, with no commentary.", t.target)),
			oai.UserMessage(text),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("translate: empty completion")
	}
	got := strings.TrimSpace(resp.Choices[0].Message.Content)
	if got == "" {
		return "", fmt.Errorf("translate: empty completion text")
	}
	return got, nil
}

func joinText(records []session.Record) string {
	parts := make([]string, 0, len(records))
	for _, r := range records {
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, " ")
}

// endsAtSentence reports whether text ends with sentence-final punctuation.
func endsAtSentence(text string) bool {
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
