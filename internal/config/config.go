// Package config provides the configuration schema and loader for the
// streamscribe server.
package config

// LogLevel controls log verbosity for the streamscribe server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Backend selects the speech-recognition implementation.
type Backend string

const (
	// BackendWhisperCPP runs whisper.cpp in-process via its Go bindings.
	BackendWhisperCPP Backend = "whispercpp"

	// BackendSherpa runs an ONNX whisper model through sherpa-onnx.
	BackendSherpa Backend = "sherpa"

	// BackendOpenAI calls the hosted OpenAI transcription API.
	BackendOpenAI Backend = "openai"

	// BackendMock is the scripted test backend; it recognises nothing.
	BackendMock Backend = "mock"
)

// IsValid reports whether b is a recognised backend.
func (b Backend) IsValid() bool {
	switch b {
	case BackendWhisperCPP, BackendSherpa, BackendOpenAI, BackendMock:
		return true
	}
	return false
}

// VADKind selects the voice-activity detector implementation.
type VADKind string

const (
	// VADEnergy is the dependency-free RMS-threshold detector.
	VADEnergy VADKind = "energy"

	// VADSilero runs the Silero neural detector through sherpa-onnx.
	VADSilero VADKind = "silero"
)

// IsValid reports whether k is a recognised VAD kind.
func (k VADKind) IsValid() bool {
	return k == VADEnergy || k == VADSilero
}

// TrimMode selects the buffer-trimming cut strategy.
type TrimMode string

const (
	TrimSegment  TrimMode = "segment"
	TrimSentence TrimMode = "sentence"
)

// IsValid reports whether m is a recognised trim mode.
func (m TrimMode) IsValid() bool {
	return m == TrimSegment || m == TrimSentence
}

// Config is the root configuration structure for streamscribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Engine     EngineConfig     `yaml:"engine"`
	VAD        VADConfig        `yaml:"vad"`
	Translate  TranslateConfig  `yaml:"translate"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// Host is the interface the server binds (e.g. "localhost", "0.0.0.0").
	Host string `yaml:"host"`

	// Port is the TCP port shared by both wire protocols.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the address of the Prometheus /metrics listener.
	// Empty disables the metrics endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// RecognizerConfig selects and configures the recognition backend.
type RecognizerConfig struct {
	// Backend selects the implementation.
	Backend Backend `yaml:"backend"`

	// ModelPath is the model file (whispercpp) or model directory (sherpa).
	ModelPath string `yaml:"model_path"`

	// Language is the ISO 639-1 source-language hint; "auto" or empty
	// lets the model detect it.
	Language string `yaml:"language"`

	// NumThreads bounds threads used by one in-process inference call.
	// Zero lets the backend decide.
	NumThreads int `yaml:"num_threads"`

	// APIKey authenticates against the hosted API backend. Falls back to
	// the OPENAI_API_KEY environment variable when empty.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the hosted API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model overrides the hosted API model name.
	Model string `yaml:"model"`

	// WarmupFile is a WAV file transcribed once at startup so the first
	// client does not pay model warm-up latency.
	WarmupFile string `yaml:"warmup_file"`

	// Fallbacks are backends tried, in order, when the primary fails.
	// Hosted-API entries reuse the credentials configured above.
	Fallbacks []FallbackConfig `yaml:"fallbacks"`
}

// FallbackConfig names one secondary recognition backend.
type FallbackConfig struct {
	Backend   Backend `yaml:"backend"`
	ModelPath string  `yaml:"model_path"`
}

// EngineConfig tunes the online engine.
type EngineConfig struct {
	// MinChunkSeconds is the amount of new audio that triggers an engine
	// iteration.
	MinChunkSeconds float64 `yaml:"min_chunk_seconds"`

	// BufferTrimming selects the cut-point strategy.
	BufferTrimming TrimMode `yaml:"buffer_trimming"`

	// BufferTrimmingSeconds is the buffer length above which trimming
	// starts.
	BufferTrimmingSeconds float64 `yaml:"buffer_trimming_seconds"`
}

// VADConfig configures voice-activity detection.
type VADConfig struct {
	// Enabled turns VAD-guided buffer trimming on.
	Enabled bool `yaml:"enabled"`

	// Kind selects the detector implementation.
	Kind VADKind `yaml:"kind"`

	// ModelPath is the Silero ONNX model file. Required for the silero
	// kind, ignored otherwise.
	ModelPath string `yaml:"model_path"`
}

// TranslateConfig configures optional on-the-fly translation of committed
// transcript text.
type TranslateConfig struct {
	// Enabled turns translation on.
	Enabled bool `yaml:"enabled"`

	// TargetLanguage is the language translated into (e.g. "en", "de").
	TargetLanguage string `yaml:"target_language"`

	// APIKey authenticates the translation API. Falls back to the
	// recogniser api_key, then to OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the translation API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the translation model.
	Model string `yaml:"model"`
}

// Default returns a Config with the documented defaults filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "localhost",
			Port:     43007,
			LogLevel: LogInfo,
		},
		Recognizer: RecognizerConfig{
			Backend:  BackendWhisperCPP,
			Language: "auto",
		},
		Engine: EngineConfig{
			MinChunkSeconds:       1.0,
			BufferTrimming:        TrimSegment,
			BufferTrimmingSeconds: 15,
		},
		VAD: VADConfig{
			Kind: VADEnergy,
		},
	}
}
