package config_test

import (
	"strings"
	"testing"

	"github.com/soniclane/streamscribe/internal/config"
)

const validYAML = `
server:
  host: 0.0.0.0
  port: 9000
  log_level: debug
recognizer:
  backend: sherpa
  model_path: /models/whisper-tiny
  language: en
engine:
  min_chunk_seconds: 0.5
  buffer_trimming: sentence
  buffer_trimming_seconds: 20
vad:
  enabled: true
  kind: energy
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Recognizer.Backend != config.BackendSherpa {
		t.Errorf("backend = %q, want sherpa", cfg.Recognizer.Backend)
	}
	if cfg.Engine.BufferTrimming != config.TrimSentence {
		t.Errorf("buffer_trimming = %q, want sentence", cfg.Engine.BufferTrimming)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader("recognizer:\n  model_path: /m\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	def := config.Default()
	if cfg.Server.Host != def.Server.Host || cfg.Server.Port != def.Server.Port {
		t.Errorf("server = %+v, want defaults %+v", cfg.Server, def.Server)
	}
	if cfg.Engine.MinChunkSeconds != 1.0 {
		t.Errorf("min_chunk_seconds = %v, want 1.0", cfg.Engine.MinChunkSeconds)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("server:\n  prot: 1\n"))
	if err == nil {
		t.Fatal("want error for unknown field, got nil")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Server.LogLevel = "loud"
	cfg.Recognizer.Backend = "dictaphone"
	cfg.Engine.MinChunkSeconds = -1

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("want error, got nil")
	}
	for _, want := range []string{"server.port", "server.log_level", "recognizer.backend", "engine.min_chunk_seconds"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidate_ModelPathRequired(t *testing.T) {
	for _, backend := range []config.Backend{config.BackendWhisperCPP, config.BackendSherpa} {
		cfg := config.Default()
		cfg.Recognizer.Backend = backend
		cfg.Recognizer.ModelPath = ""
		if err := config.Validate(cfg); err == nil || !strings.Contains(err.Error(), "model_path") {
			t.Errorf("%s: err = %v, want model_path error", backend, err)
		}
	}
}

func TestValidate_FallbackNeedsModelPath(t *testing.T) {
	cfg := config.Default()
	cfg.Recognizer.Backend = config.BackendMock
	cfg.Recognizer.Fallbacks = []config.FallbackConfig{
		{Backend: "dictaphone"},
		{Backend: config.BackendSherpa},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("want error, got nil")
	}
	for _, want := range []string{"fallbacks[0].backend", "fallbacks[1].model_path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidate_SileroNeedsModel(t *testing.T) {
	cfg := config.Default()
	cfg.Recognizer.Backend = config.BackendMock
	cfg.VAD.Enabled = true
	cfg.VAD.Kind = config.VADSilero
	if err := config.Validate(cfg); err == nil || !strings.Contains(err.Error(), "vad.model_path") {
		t.Errorf("err = %v, want vad.model_path error", err)
	}
}

func TestValidate_TranslateNeedsTarget(t *testing.T) {
	cfg := config.Default()
	cfg.Recognizer.Backend = config.BackendMock
	cfg.Translate.Enabled = true
	if err := config.Validate(cfg); err == nil || !strings.Contains(err.Error(), "target_language") {
		t.Errorf("err = %v, want target_language error", err)
	}
}
