package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, merges it over the
// defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Recognizer
	if !cfg.Recognizer.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("recognizer.backend %q is invalid; valid values: whispercpp, sherpa, openai, mock", cfg.Recognizer.Backend))
	}
	switch cfg.Recognizer.Backend {
	case BackendWhisperCPP, BackendSherpa:
		if cfg.Recognizer.ModelPath == "" {
			errs = append(errs, fmt.Errorf("recognizer.model_path is required for the %s backend", cfg.Recognizer.Backend))
		}
	case BackendOpenAI:
		if cfg.Recognizer.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
			slog.Warn("recognizer.api_key is empty and OPENAI_API_KEY is not set; hosted API calls will fail")
		}
	}
	for i, fb := range cfg.Recognizer.Fallbacks {
		if !fb.Backend.IsValid() {
			errs = append(errs, fmt.Errorf("recognizer.fallbacks[%d].backend %q is invalid; valid values: whispercpp, sherpa, openai, mock", i, fb.Backend))
		}
		if (fb.Backend == BackendWhisperCPP || fb.Backend == BackendSherpa) && fb.ModelPath == "" {
			errs = append(errs, fmt.Errorf("recognizer.fallbacks[%d].model_path is required for the %s backend", i, fb.Backend))
		}
	}
	if cfg.Recognizer.NumThreads < 0 {
		errs = append(errs, fmt.Errorf("recognizer.num_threads %d is negative", cfg.Recognizer.NumThreads))
	}

	// Engine
	if cfg.Engine.MinChunkSeconds <= 0 {
		errs = append(errs, fmt.Errorf("engine.min_chunk_seconds %.2f must be positive", cfg.Engine.MinChunkSeconds))
	}
	if cfg.Engine.BufferTrimming != "" && !cfg.Engine.BufferTrimming.IsValid() {
		errs = append(errs, fmt.Errorf("engine.buffer_trimming %q is invalid; valid values: segment, sentence", cfg.Engine.BufferTrimming))
	}
	if cfg.Engine.BufferTrimmingSeconds <= 0 {
		errs = append(errs, fmt.Errorf("engine.buffer_trimming_seconds %.2f must be positive", cfg.Engine.BufferTrimmingSeconds))
	}

	// VAD
	if cfg.VAD.Enabled {
		if !cfg.VAD.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("vad.kind %q is invalid; valid values: energy, silero", cfg.VAD.Kind))
		}
		if cfg.VAD.Kind == VADSilero && cfg.VAD.ModelPath == "" {
			errs = append(errs, fmt.Errorf("vad.model_path is required when vad.kind is silero"))
		}
	}

	// Translation
	if cfg.Translate.Enabled {
		if cfg.Translate.TargetLanguage == "" {
			errs = append(errs, fmt.Errorf("translate.target_language is required when translation is enabled"))
		}
		if cfg.Translate.APIKey == "" && cfg.Recognizer.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
			slog.Warn("translation is enabled without an API key; translation calls will fail")
		}
	}

	return errors.Join(errs...)
}
