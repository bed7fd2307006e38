// Package config provides the configuration schema and loaders for the
// Voxgate gateway.
//
// Runtime knobs (timeouts, recognition modes, credentials, addresses) come
// from environment variables; the agent profile (instructions, greeting,
// voice, tools) comes from a YAML file.
package config

import "time"

// LogLevel controls log verbosity for the gateway.
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

// RecognitionMode selects how the inference session is activated for a turn.
type RecognitionMode string

const (
	// RecognitionImmediate activates the session as soon as the turn begins.
	RecognitionImmediate RecognitionMode = "immediate"

	// RecognitionFixedDelay activates the session after BargeInDelay.
	RecognitionFixedDelay RecognitionMode = "fixed_delay"

	// RecognitionVAD activates the session when the PBX's talk detection
	// observes caller speech.
	RecognitionVAD RecognitionMode = "vad"
)

// IsValid reports whether m is a recognised recognition mode.
func (m RecognitionMode) IsValid() bool {
	switch m {
	case RecognitionImmediate, RecognitionFixedDelay, RecognitionVAD:
		return true
	}
	return false
}

// VADActivation selects the VAD sub-mode.
type VADActivation string

const (
	// VADActivationVadMode arms an initial-silence-delay window; speech seen
	// during the window is remembered and activation happens when the window
	// closes.
	VADActivationVadMode VADActivation = "vadMode"

	// VADActivationAfterPrompt treats speech during a prompt as barge-in and
	// activates once the prompt has finished.
	VADActivationAfterPrompt VADActivation = "afterPrompt"
)

// IsValid reports whether v is a recognised VAD activation sub-mode.
func (v VADActivation) IsValid() bool {
	return v == VADActivationVadMode || v == VADActivationAfterPrompt
}

// PlaybackMode selects how synthesized audio is turned into playbacks.
type PlaybackMode string

const (
	// PlaybackFullChunk accumulates a whole response before playing it.
	PlaybackFullChunk PlaybackMode = "full_chunk"

	// PlaybackStream plays each chunk as it arrives.
	PlaybackStream PlaybackMode = "stream"
)

// IsValid reports whether p is a recognised playback mode.
func (p PlaybackMode) IsValid() bool {
	return p == PlaybackFullChunk || p == PlaybackStream
}

// Config is the root configuration for the gateway.
type Config struct {
	Server      ServerConfig
	ARI         ARIConfig
	OpenAI      OpenAIConfig
	Recognition RecognitionConfig
	DTMF        DTMFConfig
	TTS         TTSConfig
	Redis       RedisConfig
	Postgres    PostgresConfig
	Profile     Profile
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the operator/metrics HTTP server
	// listens on (e.g., ":8089").
	ListenAddr string

	// LogLevel controls verbosity.
	LogLevel LogLevel

	// RTPHost is the address RTP receivers bind on. The PBX must be able
	// to reach it; on a co-located PBX this is 127.0.0.1.
	RTPHost string
}

// ARIConfig holds PBX connection settings.
type ARIConfig struct {
	URL      string // e.g. http://127.0.0.1:8088/ari
	Username string
	Password string
	App      string
}

// OpenAIConfig holds realtime-model settings.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // override, primarily for tests

	// TranscriptionModel enables the asynchronous fallback transcriber when
	// non-empty (e.g. "whisper-1").
	TranscriptionModel string
}

// RecognitionConfig holds the recognition-activation and timer settings.
type RecognitionConfig struct {
	Mode RecognitionMode

	// FirstInteractionMode overrides Mode for the very first turn when
	// non-empty.
	FirstInteractionMode RecognitionMode

	BargeInDelay          time.Duration
	NoSpeechBeginTimeout  time.Duration
	SpeechEndSilence      time.Duration
	MaxRecognitionTime    time.Duration
	InitialStreamIdle     time.Duration
	VADActivation         VADActivation
	VADSilenceThreshold   time.Duration
	VADTalkThreshold      int
	VADInitialSilence     time.Duration
	VADMaxWaitAfterPrompt time.Duration
}

// DTMFConfig holds digit-collection settings.
type DTMFConfig struct {
	Enabled           bool
	InterDigitTimeout time.Duration
	FinalTimeout      time.Duration
	MaxDigits         int
	Terminator        string
}

// TTSConfig holds synthesized-audio playback settings.
type TTSConfig struct {
	Mode PlaybackMode

	// SoundsRoot is the PBX sounds directory artifacts are written under.
	SoundsRoot string
}

// RedisConfig holds conversation-log settings. Empty Addr disables the log.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// TTL applied to each conversation list on every append.
	TTL time.Duration
}

// PostgresConfig holds call-detail-record settings. Empty DSN disables CDRs.
type PostgresConfig struct {
	DSN string
}

// Profile is the agent profile loaded from YAML.
type Profile struct {
	// Instructions is the system prompt for the realtime model.
	Instructions string `yaml:"instructions"`

	// Greeting is a PBX media reference played when a call is armed
	// (e.g. "sound:hello-world"). Empty skips the greeting.
	Greeting string `yaml:"greeting"`

	// Voice is the synthesized voice identifier.
	Voice string `yaml:"voice"`

	// InputCodec / OutputCodec are the session audio formats.
	InputCodec  string `yaml:"input_codec"`
	OutputCodec string `yaml:"output_codec"`

	// SampleRate applies to both directions (Hz).
	SampleRate int `yaml:"sample_rate"`

	// Tools advertised to the model.
	Tools []ToolSpec `yaml:"tools"`
}

// ToolSpec declares one tool in the agent profile.
type ToolSpec struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
}
