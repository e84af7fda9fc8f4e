package openaiapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/soniclane/streamscribe/pkg/recognizer"
	"github.com/soniclane/streamscribe/pkg/recognizer/openaiapi"
)

// transcriptionStub serves a canned verbose_json transcription response.
type transcriptionStub struct {
	status int
	body   map[string]any

	requests int
}

func (s *transcriptionStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.requests++
		// The client rejects responses without a JSON content type.
		w.Header().Set("Content-Type", "application/json")
		if s.status != 0 {
			w.WriteHeader(s.status)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "nope", "type": "invalid_request_error"},
			})
			return
		}
		json.NewEncoder(w).Encode(s.body)
	}
}

func newBackend(t *testing.T, stub *transcriptionStub) *openaiapi.Backend {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	b, err := openaiapi.New("test-key",
		openaiapi.WithBaseURL(srv.URL),
		openaiapi.WithTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := openaiapi.New(""); !errors.Is(err, recognizer.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestTranscribe_MapsWordTimestamps(t *testing.T) {
	stub := &transcriptionStub{body: map[string]any{
		"text":     "hello world",
		"duration": 1.5,
		"words": []map[string]any{
			{"word": "hello", "start": 0.0, "end": 0.6},
			{"word": "world", "start": 0.6, "end": 1.1},
		},
		"segments": []map[string]any{
			{"text": " hello world", "start": 0.0, "end": 1.5, "no_speech_prob": 0.01},
		},
	}}
	b := newBackend(t, stub)

	hyp, err := b.Transcribe(context.Background(), make([]float32, 16000), "", "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(hyp.Words) != 2 {
		t.Fatalf("got %d words, want 2: %+v", len(hyp.Words), hyp.Words)
	}
	if hyp.Words[0].Text != " hello" || hyp.Words[0].Start != 0 || hyp.Words[0].End != 0.6 {
		t.Errorf("word 0 = %+v, want ' hello' [0,0.6]", hyp.Words[0])
	}
	if len(hyp.SegmentEnds) != 1 || hyp.SegmentEnds[0] != 1.5 {
		t.Errorf("segment ends = %v, want [1.5]", hyp.SegmentEnds)
	}
}

func TestTranscribe_SplitsSegmentsWithoutWords(t *testing.T) {
	stub := &transcriptionStub{body: map[string]any{
		"text": "hello world",
		"segments": []map[string]any{
			{"text": " hello world", "start": 0.0, "end": 2.0, "no_speech_prob": 0.01},
		},
	}}
	b := newBackend(t, stub)

	hyp, err := b.Transcribe(context.Background(), make([]float32, 16000), "", "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(hyp.Words) != 2 {
		t.Fatalf("got %d words, want the segment split in 2: %+v", len(hyp.Words), hyp.Words)
	}
	if hyp.Words[0].Start != 0 || hyp.Words[len(hyp.Words)-1].End != 2.0 {
		t.Errorf("split words %+v do not cover [0,2]", hyp.Words)
	}
}

func TestTranscribe_DropsNoSpeechSegments(t *testing.T) {
	stub := &transcriptionStub{body: map[string]any{
		"text": "hiss",
		"segments": []map[string]any{
			{"text": " hiss", "start": 0.0, "end": 1.0, "no_speech_prob": 0.97},
		},
	}}
	b := newBackend(t, stub)

	hyp, err := b.Transcribe(context.Background(), make([]float32, 16000), "", "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(hyp.Words) != 0 {
		t.Errorf("got %+v, want the non-speech segment dropped", hyp.Words)
	}
}

func TestTranscribe_AuthFailureIsUnavailable(t *testing.T) {
	b := newBackend(t, &transcriptionStub{status: http.StatusUnauthorized})
	_, err := b.Transcribe(context.Background(), make([]float32, 16000), "", "")
	if !errors.Is(err, recognizer.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestTranscribe_BadRequestIsTransient(t *testing.T) {
	b := newBackend(t, &transcriptionStub{status: http.StatusBadRequest})
	_, err := b.Transcribe(context.Background(), make([]float32, 16000), "", "")
	if !errors.Is(err, recognizer.ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
}
