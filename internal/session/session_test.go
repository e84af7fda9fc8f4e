package session_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/soniclane/streamscribe/internal/engine"
	"github.com/soniclane/streamscribe/internal/session"
	"github.com/soniclane/streamscribe/pkg/audio"
	"github.com/soniclane/streamscribe/pkg/recognizer"
	recmock "github.com/soniclane/streamscribe/pkg/recognizer/mock"
)

// ---- fake transport ---------------------------------------------------------

// fakeTransport feeds scripted PCM to the session and records what comes
// back. Closing the in channel ends the client stream.
type fakeTransport struct {
	in chan []byte

	mu      sync.Mutex
	records []session.Record
	errKind string
	closed  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 64)}
}

func (f *fakeTransport) ReadAudio(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) WriteRecord(_ context.Context, rec session.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeTransport) WriteError(_ context.Context, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errKind = kind
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) snapshot() ([]session.Record, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Record(nil), f.records...), f.errKind
}

// feedSeconds sends the given amount of silent PCM as one write.
func (f *fakeTransport) feedSeconds(seconds float64) {
	f.in <- make([]byte, int(seconds*audio.BytesPerSecond))
}

// ---- helpers ----------------------------------------------------------------

func word(start, end float64, text string) recognizer.Word {
	return recognizer.Word{Start: start, End: end, Text: text}
}

func hyp(words ...recognizer.Word) recognizer.Hypothesis {
	return recognizer.Hypothesis{Words: words}
}

func newSession(t *testing.T, b recognizer.Backend, tr session.Transport) *session.Session {
	t.Helper()
	eng, err := engine.New(engine.Options{Backend: b})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	s, err := session.New(session.Options{Engine: eng, Transport: tr})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return s
}

// runSession runs s in the background and returns a wait func.
func runSession(t *testing.T, s *session.Session) func() error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return func() error {
		defer cancel()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			t.Fatal("session did not finish in time")
			return nil
		}
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func joinedText(records []session.Record) string {
	parts := make([]string, 0, len(records))
	for _, r := range records {
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, " ")
}

// ---- end-to-end session behaviour -------------------------------------------

func TestRun_TranscribesStream(t *testing.T) {
	b := &recmock.Backend{}
	b.Queue(hyp(word(0, 0.5, " hello"), word(0.5, 1, " world")))

	tr := newFakeTransport()
	s := newSession(t, b, tr)
	wait := runSession(t, s)

	tr.feedSeconds(2)
	close(tr.in)

	if err := wait(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	records, errKind := tr.snapshot()
	if errKind != "" {
		t.Fatalf("error record %q, want none", errKind)
	}
	if got := joinedText(records); got != "hello world" {
		t.Fatalf("transcript = %q, want %q", got, "hello world")
	}
}

func TestRun_EmptyStream(t *testing.T) {
	tr := newFakeTransport()
	s := newSession(t, &recmock.Backend{}, tr)
	wait := runSession(t, s)

	close(tr.in)

	if err := wait(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if records, _ := tr.snapshot(); len(records) != 0 {
		t.Errorf("records = %v, want none", records)
	}
}

func TestRun_UnavailableBackendSendsErrorRecord(t *testing.T) {
	b := &recmock.Backend{}
	b.QueueErr(fmt.Errorf("model gone: %w", recognizer.ErrUnavailable))

	tr := newFakeTransport()
	s := newSession(t, b, tr)
	wait := runSession(t, s)

	tr.feedSeconds(2)

	err := wait()
	if !errors.Is(err, recognizer.ErrUnavailable) {
		t.Fatalf("Run = %v, want ErrUnavailable", err)
	}
	if _, errKind := tr.snapshot(); errKind != session.ErrorKindUnavailable {
		t.Errorf("error record = %q, want %q", errKind, session.ErrorKindUnavailable)
	}
}

func TestRun_RecordStartsNeverOverlap(t *testing.T) {
	// The second committed word is re-dated to start before the first one
	// ends; its record start must be clamped up.
	b := &recmock.Backend{}
	b.Queue(hyp(word(0, 0.95, " first")))
	b.Queue(hyp(word(0, 0.95, " first")))
	b.Queue(hyp(word(0.9, 1.5, " second")))

	tr := newFakeTransport()
	s := newSession(t, b, tr)
	wait := runSession(t, s)

	tr.feedSeconds(1.2)
	waitFor(t, func() bool { return b.CallCount() >= 1 })
	tr.feedSeconds(1.2)
	waitFor(t, func() bool {
		records, _ := tr.snapshot()
		return len(records) >= 1
	})
	tr.feedSeconds(1.2)
	tr.feedSeconds(1.2)
	close(tr.in)

	if err := wait(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	records, _ := tr.snapshot()
	if len(records) < 2 {
		t.Fatalf("got %d records, want at least 2: %v", len(records), records)
	}
	for i := 1; i < len(records); i++ {
		if records[i].Start < records[i-1].End {
			t.Errorf("record %d starts at %v before previous end %v",
				i, records[i].Start, records[i-1].End)
		}
	}
}

// ---- translation ------------------------------------------------------------

// shoutTranslator is a trivial Translator that uppercases immediately.
type shoutTranslator struct{ flushed bool }

func (s *shoutTranslator) Feed(_ context.Context, rec session.Record) ([]session.Record, error) {
	rec.Text = strings.ToUpper(rec.Text)
	return []session.Record{rec}, nil
}

func (s *shoutTranslator) Flush(context.Context) ([]session.Record, error) {
	s.flushed = true
	return nil, nil
}

func TestRun_TranslatorRewritesRecords(t *testing.T) {
	b := &recmock.Backend{}
	b.Queue(hyp(word(0, 0.5, " hello")))

	tr := newFakeTransport()
	eng, err := engine.New(engine.Options{Backend: b})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	shout := &shoutTranslator{}
	s, err := session.New(session.Options{Engine: eng, Transport: tr, Translator: shout})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	wait := runSession(t, s)

	tr.feedSeconds(2)
	close(tr.in)

	if err := wait(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	records, _ := tr.snapshot()
	if got := joinedText(records); got != "HELLO" {
		t.Fatalf("transcript = %q, want %q", got, "HELLO")
	}
	if !shout.flushed {
		t.Error("translator was not flushed at end of stream")
	}
}
