package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by FromEnv when the corresponding variable is unset.
const (
	defaultListenAddr        = ":8089"
	defaultRTPHost           = "127.0.0.1"
	defaultModel             = "gpt-4o-realtime-preview"
	defaultInterDigitTimeout = 3 * time.Second
	defaultFinalTimeout      = 10 * time.Second
	defaultMaxDigits         = 16
	defaultTerminator        = "#"
	defaultVADSilence        = 1200 * time.Millisecond
	defaultVADTalkThreshold  = 256
	defaultConversationTTL   = 24 * time.Hour
	defaultSoundsRoot        = "/var/lib/asterisk/sounds"
)

// FromEnv assembles a Config from environment variables, applies defaults,
// loads the agent profile named by AGENT_PROFILE_PATH (if set), and
// validates the result.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			ListenAddr: envOr("LISTEN_ADDR", defaultListenAddr),
			LogLevel:   LogLevel(envOr("LOG_LEVEL", string(LogInfo))),
			RTPHost:    envOr("RTP_HOST_IP", defaultRTPHost),
		},
		ARI: ARIConfig{
			URL:      envOr("ARI_URL", "http://127.0.0.1:8088/ari"),
			Username: os.Getenv("ARI_USERNAME"),
			Password: os.Getenv("ARI_PASSWORD"),
			App:      envOr("ARI_APP", "voxgate"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             os.Getenv("OPENAI_API_KEY"),
			Model:              envOr("OPENAI_REALTIME_MODEL", defaultModel),
			BaseURL:            os.Getenv("OPENAI_REALTIME_BASE_URL"),
			TranscriptionModel: os.Getenv("OPENAI_TRANSCRIPTION_MODEL"),
		},
		Recognition: RecognitionConfig{
			Mode:                  RecognitionMode(envOr("RECOGNITION_ACTIVATION_MODE", string(RecognitionImmediate))),
			FirstInteractionMode:  RecognitionMode(os.Getenv("FIRST_INTERACTION_RECOGNITION_MODE")),
			BargeInDelay:          envSeconds("BARGE_IN_DELAY_SECONDS", 0),
			NoSpeechBeginTimeout:  envSeconds("NO_SPEECH_BEGIN_TIMEOUT_SECONDS", 10*time.Second),
			SpeechEndSilence:      envSeconds("SPEECH_END_SILENCE_TIMEOUT_SECONDS", 2*time.Second),
			MaxRecognitionTime:    envSeconds("MAX_RECOGNITION_DURATION_SECONDS", 60*time.Second),
			InitialStreamIdle:     envSeconds("INITIAL_STREAM_IDLE_TIMEOUT_SECONDS", 15*time.Second),
			VADActivation:         VADActivation(envOr("VAD_RECOG_ACTIVATION", string(VADActivationAfterPrompt))),
			VADSilenceThreshold:   envMillis("VAD_SILENCE_THRESHOLD_MS", defaultVADSilence),
			VADTalkThreshold:      envInt("VAD_TALK_THRESHOLD", defaultVADTalkThreshold),
			VADInitialSilence:     envSeconds("VAD_INITIAL_SILENCE_DELAY_SECONDS", 0),
			VADMaxWaitAfterPrompt: envSeconds("VAD_MAX_WAIT_AFTER_PROMPT_SECONDS", 10*time.Second),
		},
		DTMF: DTMFConfig{
			Enabled:           envBool("DTMF_ENABLED", true),
			InterDigitTimeout: envSeconds("DTMF_INTERDIGIT_TIMEOUT_SECONDS", defaultInterDigitTimeout),
			FinalTimeout:      envSeconds("DTMF_FINAL_TIMEOUT_SECONDS", defaultFinalTimeout),
			MaxDigits:         envInt("DTMF_MAX_DIGITS", defaultMaxDigits),
			Terminator:        envOr("DTMF_TERMINATOR_DIGIT", defaultTerminator),
		},
		TTS: TTSConfig{
			Mode:       PlaybackMode(envOr("OPENAI_TTS_PLAYBACK_MODE", string(PlaybackFullChunk))),
			SoundsRoot: envOr("SOUNDS_ROOT", defaultSoundsRoot),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
			TTL:      envSeconds("CONVERSATION_TTL_SECONDS", defaultConversationTTL),
		},
		Postgres: PostgresConfig{
			DSN: os.Getenv("POSTGRES_DSN"),
		},
		Profile: Profile{
			InputCodec:  "g711_ulaw",
			OutputCodec: "g711_ulaw",
			SampleRate:  8000,
		},
	}

	if path := os.Getenv("AGENT_PROFILE_PATH"); path != "" {
		profile, err := LoadProfile(path)
		if err != nil {
			return nil, err
		}
		mergeProfile(&cfg.Profile, profile)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadProfile reads the YAML agent profile at path.
func LoadProfile(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open profile %q: %w", path, err)
	}
	defer f.Close()

	p, err := ProfileFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse profile %q: %w", path, err)
	}
	return p, nil
}

// ProfileFromReader decodes a YAML agent profile from r. Useful in tests
// where profiles are constructed from string literals.
func ProfileFromReader(r io.Reader) (*Profile, error) {
	p := &Profile{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return p, nil
}

// mergeProfile overlays non-zero profile fields onto dst, keeping the codec
// and sample-rate defaults when the file omits them.
func mergeProfile(dst *Profile, src *Profile) {
	if src.Instructions != "" {
		dst.Instructions = src.Instructions
	}
	if src.Greeting != "" {
		dst.Greeting = src.Greeting
	}
	if src.Voice != "" {
		dst.Voice = src.Voice
	}
	if src.InputCodec != "" {
		dst.InputCodec = src.InputCodec
	}
	if src.OutputCodec != "" {
		dst.OutputCodec = src.OutputCodec
	}
	if src.SampleRate != 0 {
		dst.SampleRate = src.SampleRate
	}
	if len(src.Tools) > 0 {
		dst.Tools = src.Tools
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Recognition.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("RECOGNITION_ACTIVATION_MODE %q is invalid; valid values: immediate, fixed_delay, vad", cfg.Recognition.Mode))
	}
	if m := cfg.Recognition.FirstInteractionMode; m != "" && !m.IsValid() {
		errs = append(errs, fmt.Errorf("FIRST_INTERACTION_RECOGNITION_MODE %q is invalid; valid values: immediate, fixed_delay, vad", m))
	}
	if !cfg.Recognition.VADActivation.IsValid() {
		errs = append(errs, fmt.Errorf("VAD_RECOG_ACTIVATION %q is invalid; valid values: vadMode, afterPrompt", cfg.Recognition.VADActivation))
	}
	if !cfg.TTS.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("OPENAI_TTS_PLAYBACK_MODE %q is invalid; valid values: full_chunk, stream", cfg.TTS.Mode))
	}
	if cfg.ARI.Username == "" || cfg.ARI.Password == "" {
		errs = append(errs, errors.New("ARI_USERNAME and ARI_PASSWORD are required"))
	}
	if cfg.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if cfg.DTMF.MaxDigits <= 0 {
		errs = append(errs, fmt.Errorf("DTMF_MAX_DIGITS must be positive, got %d", cfg.DTMF.MaxDigits))
	}
	if len(cfg.DTMF.Terminator) > 1 {
		errs = append(errs, fmt.Errorf("DTMF_TERMINATOR_DIGIT %q must be a single digit", cfg.DTMF.Terminator))
	}
	if cfg.Recognition.MaxRecognitionTime <= 0 {
		errs = append(errs, errors.New("MAX_RECOGNITION_DURATION_SECONDS must be positive"))
	}

	return errors.Join(errs...)
}

// ── env helpers ───────────────────────────────────────────────────────────────

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// envSeconds parses a (possibly fractional) seconds value.
func envSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return fallback
	}
	return time.Duration(f * float64(time.Second))
}

func envMillis(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}
