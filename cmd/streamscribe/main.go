// Command streamscribe is the streaming speech-to-text server. It accepts
// raw PCM or WebSocket clients on one port and streams back committed
// transcript text as it becomes final.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/soniclane/streamscribe/internal/config"
	"github.com/soniclane/streamscribe/internal/engine"
	"github.com/soniclane/streamscribe/internal/observe"
	"github.com/soniclane/streamscribe/internal/resilience"
	"github.com/soniclane/streamscribe/internal/server"
	"github.com/soniclane/streamscribe/internal/session"
	"github.com/soniclane/streamscribe/internal/translate"
	"github.com/soniclane/streamscribe/pkg/audio"
	"github.com/soniclane/streamscribe/pkg/recognizer"
	recmock "github.com/soniclane/streamscribe/pkg/recognizer/mock"
	"github.com/soniclane/streamscribe/pkg/recognizer/openaiapi"
	"github.com/soniclane/streamscribe/pkg/recognizer/sherpa"
	"github.com/soniclane/streamscribe/pkg/recognizer/whispercpp"
	"github.com/soniclane/streamscribe/pkg/vad"
	"github.com/soniclane/streamscribe/pkg/vad/energy"
	"github.com/soniclane/streamscribe/pkg/vad/silero"
)

// Exit codes: 1 when the listen address cannot be bound (and for other
// configuration or runtime failures), 2 when a model cannot be loaded.
const (
	exitOK    = 0
	exitErr   = 1
	exitModel = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	host := flag.String("host", "", "interface to bind, overrides config")
	port := flag.Int("port", 0, "TCP port for both wire protocols, overrides config")
	model := flag.String("model", "", "recogniser chain as backend:path[,backend:path...], e.g. whispercpp:/models/ggml-base.bin,openai:")
	language := flag.String("language", "", "ISO source-language hint, or auto")
	minChunk := flag.Float64("min-chunk-size", 0, "seconds of new audio per engine iteration")
	trimMode := flag.String("buffer-trimming", "", "buffer trim strategy: segment or sentence")
	trimSec := flag.Float64("buffer-trimming-sec", 0, "buffer length that starts trimming, in seconds")
	vadKind := flag.String("vad", "", "voice-activity detection: on, off, energy or silero")
	vadModel := flag.String("vad-model", "", "Silero ONNX model path")
	warmup := flag.String("warmup-file", "", "WAV file transcribed once at startup")
	target := flag.String("translate", "", "translate output into this language code")
	metricsAddr := flag.String("metrics-addr", "", "address for the Prometheus /metrics endpoint, empty disables")
	logLevel := flag.String("log-level", "", "log verbosity: debug, info, warn, error")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "streamscribe: %v\n", err)
			return exitErr
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}
	if err := applyFlags(cfg, *host, *port, *model, *language, *minChunk,
		*trimMode, *trimSec, *vadKind, *vadModel, *warmup, *target, *metricsAddr, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "streamscribe: %v\n", err)
		return exitErr
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "streamscribe: %v\n", err)
		return exitErr
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("streamscribe starting",
		"backend", cfg.Recognizer.Backend,
		"model", cfg.Recognizer.ModelPath,
		"language", cfg.Recognizer.Language,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("metrics init failed", "err", err)
		return exitErr
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			slog.Warn("metrics shutdown", "err", err)
		}
	}()
	if cfg.Server.MetricsAddr != "" {
		go func() {
			if err := observe.ServeMetrics(ctx, cfg.Server.MetricsAddr); err != nil {
				slog.Error("metrics listener failed", "err", err)
			}
		}()
	}
	metrics := observe.DefaultMetrics()

	// ── Recogniser backend ────────────────────────────────────────────────────
	backend, err := buildBackend(cfg)
	if err != nil {
		slog.Error("recogniser setup failed", "err", err)
		return exitModel
	}
	if cfg.Recognizer.WarmupFile != "" {
		if err := warmupBackend(ctx, backend, cfg.Recognizer.WarmupFile); err != nil {
			slog.Warn("warmup failed, continuing", "err", err)
		}
	}

	// ── Voice-activity detector ───────────────────────────────────────────────
	classifier, err := buildVAD(cfg)
	if err != nil {
		slog.Error("vad setup failed", "err", err)
		return exitModel
	}

	// ── Session wiring ────────────────────────────────────────────────────────
	gate := semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0)))
	lang := cfg.Recognizer.Language

	newEngine := func() (*engine.Engine, error) {
		return engine.New(engine.Options{
			Backend:  backend,
			VAD:      classifier,
			Gate:     gate,
			Metrics:  metrics,
			Language: lang,
			Trim: engine.TrimConfig{
				Mode:         engine.TrimMode(cfg.Engine.BufferTrimming),
				AfterSeconds: cfg.Engine.BufferTrimmingSeconds,
			},
		})
	}

	newTranslator, err := translatorFactory(cfg)
	if err != nil {
		slog.Error("translator setup failed", "err", err)
		return exitErr
	}

	srv, err := server.New(server.Options{
		Addr:            fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		NewEngine:       newEngine,
		NewTranslator:   newTranslator,
		Metrics:         metrics,
		MinChunkSeconds: cfg.Engine.MinChunkSeconds,
	})
	if err != nil {
		slog.Error("server setup failed", "err", err)
		return exitErr
	}

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := srv.Serve(ctx); err != nil {
		if errors.Is(err, server.ErrListen) {
			slog.Error("cannot bind listen address", "err", err)
			return exitErr
		}
		slog.Error("serve error", "err", err)
		return exitErr
	}
	slog.Info("goodbye")
	return exitOK
}

// applyFlags overlays non-empty flag values onto cfg.
func applyFlags(cfg *config.Config, host string, port int, model, language string,
	minChunk float64, trimMode string, trimSec float64, vadKind, vadModel,
	warmup, target, metricsAddr, logLevel string) error {

	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if model != "" {
		cfg.Recognizer.Fallbacks = nil
		for i, entry := range strings.Split(model, ",") {
			backend, path, ok := strings.Cut(entry, ":")
			if !ok {
				return fmt.Errorf("-model entry %q must be backend:path", entry)
			}
			if i == 0 {
				cfg.Recognizer.Backend = config.Backend(backend)
				cfg.Recognizer.ModelPath = path
				continue
			}
			cfg.Recognizer.Fallbacks = append(cfg.Recognizer.Fallbacks, config.FallbackConfig{
				Backend:   config.Backend(backend),
				ModelPath: path,
			})
		}
	}
	if language != "" {
		cfg.Recognizer.Language = language
	}
	if minChunk != 0 {
		cfg.Engine.MinChunkSeconds = minChunk
	}
	if trimMode != "" {
		cfg.Engine.BufferTrimming = config.TrimMode(trimMode)
	}
	if trimSec != 0 {
		cfg.Engine.BufferTrimmingSeconds = trimSec
	}
	switch vadKind {
	case "":
	case "off":
		cfg.VAD.Enabled = false
	case "on":
		// Keep the configured detector kind; the default is energy.
		cfg.VAD.Enabled = true
	default:
		cfg.VAD.Enabled = true
		cfg.VAD.Kind = config.VADKind(vadKind)
	}
	if vadModel != "" {
		cfg.VAD.ModelPath = vadModel
	}
	if warmup != "" {
		cfg.Recognizer.WarmupFile = warmup
	}
	if target != "" {
		cfg.Translate.Enabled = true
		cfg.Translate.TargetLanguage = target
	}
	if metricsAddr != "" {
		cfg.Server.MetricsAddr = metricsAddr
	}
	if logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(logLevel)
	}
	return nil
}

// buildBackend constructs the configured recogniser, wrapping it in a
// fallback chain when secondary backends are configured. The instance is
// shared by all sessions; implementations serialise or replicate state
// internally as needed.
func buildBackend(cfg *config.Config) (recognizer.Backend, error) {
	rc := cfg.Recognizer
	primary, err := buildOneBackend(rc, rc.Backend, rc.ModelPath)
	if err != nil {
		return nil, err
	}
	if len(rc.Fallbacks) == 0 {
		return primary, nil
	}

	chain := resilience.NewFallbackBackend(string(rc.Backend), primary, resilience.BreakerConfig{})
	for _, fb := range rc.Fallbacks {
		backend, err := buildOneBackend(rc, fb.Backend, fb.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("fallback %s: %w", fb.Backend, err)
		}
		chain.AddFallback(string(fb.Backend), backend, resilience.BreakerConfig{})
	}
	return chain, nil
}

// buildOneBackend constructs one backend of the chain. Shared settings
// (language, threads, API credentials) come from rc; backend and model path
// vary per entry.
func buildOneBackend(rc config.RecognizerConfig, kind config.Backend, modelPath string) (recognizer.Backend, error) {
	switch kind {
	case config.BackendWhisperCPP:
		var opts []whispercpp.Option
		if rc.Language != "" {
			opts = append(opts, whispercpp.WithLanguage(rc.Language))
		}
		if rc.NumThreads > 0 {
			opts = append(opts, whispercpp.WithThreads(rc.NumThreads))
		}
		return whispercpp.New(modelPath, opts...)

	case config.BackendSherpa:
		return sherpa.New(sherpa.Config{
			ModelDir:   modelPath,
			Language:   rc.Language,
			NumThreads: rc.NumThreads,
		})

	case config.BackendOpenAI:
		key := rc.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		var opts []openaiapi.Option
		if rc.BaseURL != "" {
			opts = append(opts, openaiapi.WithBaseURL(rc.BaseURL))
		}
		if rc.Model != "" {
			opts = append(opts, openaiapi.WithModel(rc.Model))
		}
		return openaiapi.New(key, opts...)

	case config.BackendMock:
		return &recmock.Backend{}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", kind)
}

// buildVAD constructs the configured detector, or nil when VAD is off.
func buildVAD(cfg *config.Config) (vad.Classifier, error) {
	if !cfg.VAD.Enabled {
		return nil, nil
	}
	switch cfg.VAD.Kind {
	case config.VADEnergy:
		return energy.New(), nil
	case config.VADSilero:
		return silero.New(cfg.VAD.ModelPath)
	}
	return nil, fmt.Errorf("unknown vad kind %q", cfg.VAD.Kind)
}

// translatorFactory returns a per-session translator constructor, or nil
// when translation is off.
func translatorFactory(cfg *config.Config) (func() session.Translator, error) {
	if !cfg.Translate.Enabled {
		return nil, nil
	}
	key := cfg.Translate.APIKey
	if key == "" {
		key = cfg.Recognizer.APIKey
	}
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}

	var opts []translate.Option
	if cfg.Translate.BaseURL != "" {
		opts = append(opts, translate.WithBaseURL(cfg.Translate.BaseURL))
	}
	if cfg.Translate.Model != "" {
		opts = append(opts, translate.WithModel(cfg.Translate.Model))
	}
	target := cfg.Translate.TargetLanguage

	// Construct once to surface configuration errors at startup.
	if _, err := translate.New(key, target, opts...); err != nil {
		return nil, err
	}
	return func() session.Translator {
		t, err := translate.New(key, target, opts...)
		if err != nil {
			slog.Error("translator construction failed", "err", err)
			return nil
		}
		return t
	}, nil
}

// warmupBackend transcribes the first seconds of a WAV file so model state
// is paged in before the first client connects.
func warmupBackend(ctx context.Context, backend recognizer.Backend, path string) error {
	samples, err := audio.ReadWAVChunk(path, 0, 5)
	if err != nil {
		return err
	}
	start := time.Now()
	if _, err := backend.Transcribe(ctx, samples, "", ""); err != nil {
		return err
	}
	slog.Info("backend warmed up", "file", path, "took", time.Since(start))
	return nil
}

// newLogger builds the process logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
