// Package call implements the per-call orchestrator at the heart of the
// gateway: the state machine coordinating RTP ingest, the realtime
// inference session, voice-activity detection and barge-in, DTMF
// collection, the queued TTS playback pipeline, and the timer taxonomy
// governing each phase.
//
// Every call owns one goroutine whose messages are serialized; all call
// state mutation happens on that goroutine. External adapters (the PBX
// event socket, the RTP receiver, the inference session, operator sockets,
// timer expiries) post messages and never touch call state directly.
package call

import (
	"bytes"
	"time"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/pkg/realtime"
)

// State is the orchestrator's phase for one call.
type State string

const (
	StateArming    State = "arming"
	StateGreeting  State = "greeting"
	StateListening State = "listening"
	StateSpeaking  State = "speaking"
	StateDTMF      State = "dtmf"
	StateEnding    State = "ending"
)

// Cleanup reason codes. These appear in operator events, conversation-log
// entries and call-detail records.
const (
	ReasonStasisStartError     = "STASIS_START_ERROR"
	ReasonTalkDetectSetup      = "TALK_DETECT_SETUP_FAILED"
	ReasonStreamError          = "OPENAI_STREAM_ERROR"
	ReasonNoSpeechBegin        = "NO_SPEECH_BEGIN_TIMEOUT"
	ReasonStreamIdle           = "OPENAI_STREAM_IDLE_TIMEOUT"
	ReasonMaxRecognition       = "MAX_RECOGNITION_DURATION_TIMEOUT"
	ReasonVADMaxWaitPostPrompt = "VAD_MAX_WAIT_POST_PROMPT_TIMEOUT"
	ReasonSpeechEndSilence     = "SPEECH_END_SILENCE_TIMEOUT"
	ReasonChannelEnded         = "CHANNEL_ENDED"
	ReasonShutdown             = "GATEWAY_SHUTDOWN"
	ReasonToolHangup           = "TOOL_REQUESTED_HANGUP"
)

// Settings is the per-call mutable configuration snapshot. It starts from
// the process config and may be partially overridden by operator
// session.update frames.
type Settings struct {
	Instructions string
	Voice        string
	Model        string
	Greeting     string
	Tools        []realtime.ToolDefinition

	Mode                 config.RecognitionMode
	FirstInteractionMode config.RecognitionMode

	BargeInDelay          time.Duration
	NoSpeechBeginTimeout  time.Duration
	SpeechEndSilence      time.Duration
	MaxRecognitionTime    time.Duration
	InitialStreamIdle     time.Duration
	VADActivation         config.VADActivation
	VADSilenceThreshold   time.Duration
	VADTalkThreshold      int
	VADInitialSilence     time.Duration
	VADMaxWaitAfterPrompt time.Duration

	DTMFEnabled    bool
	DTMFInterDigit time.Duration
	DTMFFinal      time.Duration
	DTMFMaxDigits  int
	DTMFTerminator string

	InputCodec  string
	OutputCodec string
	SampleRate  int
}

// SettingsFromConfig builds the initial per-call settings.
func SettingsFromConfig(cfg *config.Config, tools []realtime.ToolDefinition) Settings {
	return Settings{
		Instructions: cfg.Profile.Instructions,
		Voice:        cfg.Profile.Voice,
		Model:        cfg.OpenAI.Model,
		Greeting:     cfg.Profile.Greeting,
		Tools:        tools,

		Mode:                 cfg.Recognition.Mode,
		FirstInteractionMode: cfg.Recognition.FirstInteractionMode,

		BargeInDelay:          cfg.Recognition.BargeInDelay,
		NoSpeechBeginTimeout:  cfg.Recognition.NoSpeechBeginTimeout,
		SpeechEndSilence:      cfg.Recognition.SpeechEndSilence,
		MaxRecognitionTime:    cfg.Recognition.MaxRecognitionTime,
		InitialStreamIdle:     cfg.Recognition.InitialStreamIdle,
		VADActivation:         cfg.Recognition.VADActivation,
		VADSilenceThreshold:   cfg.Recognition.VADSilenceThreshold,
		VADTalkThreshold:      cfg.Recognition.VADTalkThreshold,
		VADInitialSilence:     cfg.Recognition.VADInitialSilence,
		VADMaxWaitAfterPrompt: cfg.Recognition.VADMaxWaitAfterPrompt,

		DTMFEnabled:    cfg.DTMF.Enabled,
		DTMFInterDigit: cfg.DTMF.InterDigitTimeout,
		DTMFFinal:      cfg.DTMF.FinalTimeout,
		DTMFMaxDigits:  cfg.DTMF.MaxDigits,
		DTMFTerminator: cfg.DTMF.Terminator,

		InputCodec:  cfg.Profile.InputCodec,
		OutputCodec: cfg.Profile.OutputCodec,
		SampleRate:  cfg.Profile.SampleRate,
	}
}

// SessionUpdate is the partial configuration carried by an operator
// session.update frame. Nil fields are left unchanged.
type SessionUpdate struct {
	Instructions              *string          `json:"instructions"`
	TTSVoice                  *string          `json:"ttsVoice"`
	Model                     *string          `json:"model"`
	Tools                     []ToolSpecUpdate `json:"tools"`
	RecognitionActivationMode *string          `json:"recognitionActivationMode"`
	BargeInDelaySeconds       *float64         `json:"bargeInDelaySeconds"`
	VADRecogActivation        *string          `json:"vadRecogActivation"`
	VADInitialSilenceSeconds  *float64         `json:"vadInitialSilenceDelaySeconds"`
	NoSpeechBeginSeconds      *float64         `json:"noSpeechBeginTimeoutSeconds"`
	SpeechEndSilenceSeconds   *float64         `json:"speechEndSilenceTimeoutSeconds"`
	MaxRecognitionSeconds     *float64         `json:"maxRecognitionDurationSeconds"`
	VADSilenceThresholdMs     *int             `json:"vadSilenceThresholdMs"`
	VADTalkThreshold          *int             `json:"vadTalkThreshold"`
	VADMaxWaitSeconds         *float64         `json:"vadMaxWaitAfterPromptSeconds"`
	EnableDTMFRecognition     *bool            `json:"enableDtmfRecognition"`
	DTMFInterDigitSeconds     *float64         `json:"dtmfInterDigitTimeoutSeconds"`
	DTMFFinalSeconds          *float64         `json:"dtmfFinalTimeoutSeconds"`
}

// ToolSpecUpdate is a tool definition carried by a session.update frame.
type ToolSpecUpdate struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Apply overlays non-nil update fields onto s.
func (u *SessionUpdate) Apply(s *Settings) {
	if u.Instructions != nil {
		s.Instructions = *u.Instructions
	}
	if u.TTSVoice != nil {
		s.Voice = *u.TTSVoice
	}
	if u.Model != nil {
		s.Model = *u.Model
	}
	if u.Tools != nil {
		tools := make([]realtime.ToolDefinition, len(u.Tools))
		for i, t := range u.Tools {
			tools[i] = realtime.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
		}
		s.Tools = tools
	}
	if u.RecognitionActivationMode != nil {
		if m := config.RecognitionMode(*u.RecognitionActivationMode); m.IsValid() {
			s.Mode = m
		}
	}
	if u.BargeInDelaySeconds != nil {
		s.BargeInDelay = secondsDuration(*u.BargeInDelaySeconds)
	}
	if u.VADRecogActivation != nil {
		if v := config.VADActivation(*u.VADRecogActivation); v.IsValid() {
			s.VADActivation = v
		}
	}
	if u.VADInitialSilenceSeconds != nil {
		s.VADInitialSilence = secondsDuration(*u.VADInitialSilenceSeconds)
	}
	if u.NoSpeechBeginSeconds != nil {
		s.NoSpeechBeginTimeout = secondsDuration(*u.NoSpeechBeginSeconds)
	}
	if u.SpeechEndSilenceSeconds != nil {
		s.SpeechEndSilence = secondsDuration(*u.SpeechEndSilenceSeconds)
	}
	if u.MaxRecognitionSeconds != nil {
		s.MaxRecognitionTime = secondsDuration(*u.MaxRecognitionSeconds)
	}
	if u.VADSilenceThresholdMs != nil {
		s.VADSilenceThreshold = time.Duration(*u.VADSilenceThresholdMs) * time.Millisecond
	}
	if u.VADTalkThreshold != nil {
		s.VADTalkThreshold = *u.VADTalkThreshold
	}
	if u.VADMaxWaitSeconds != nil {
		s.VADMaxWaitAfterPrompt = secondsDuration(*u.VADMaxWaitSeconds)
	}
	if u.EnableDTMFRecognition != nil {
		s.DTMFEnabled = *u.EnableDTMFRecognition
	}
	if u.DTMFInterDigitSeconds != nil {
		s.DTMFInterDigit = secondsDuration(*u.DTMFInterDigitSeconds)
	}
	if u.DTMFFinalSeconds != nil {
		s.DTMFFinal = secondsDuration(*u.DTMFFinalSeconds)
	}
}

func secondsDuration(f float64) time.Duration {
	if f < 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

// ── messages ──────────────────────────────────────────────────────────────────

type msgKind int

const (
	msgStart msgKind = iota
	msgAudio
	msgDTMF
	msgTalkStarted
	msgTalkFinished
	msgPlaybackFinished
	msgPlaybackFailed
	msgChannelEnded
	msgSession
	msgTimer
	msgUpdate
	msgCleanup
)

// message is one serialized unit of work for the call task.
type message struct {
	kind msgKind

	audio      []byte
	digit      string
	playbackID string
	sess       realtime.Event
	timer      TimerName
	update     *SessionUpdate
	reason     string
}

// callState bundles the dynamic per-call record the orchestrator mutates on
// its task. Flag sprawl is deliberately kept to the minimum orthogonal set.
type callState struct {
	state State

	// cleanupCalled makes cleanup at-most-once.
	cleanupCalled bool

	// firstInteraction flips to false exactly once, when the first
	// synthesized response completes.
	firstInteraction bool

	// overallTTSActive is true from the first chunk of a model response
	// until its playback queue drains or is interrupted.
	overallTTSActive bool

	// dtmfMode suppresses recognition for the remainder of the turn.
	dtmfMode bool

	// promptPlaying is true while the greeting or a synthesized response is
	// being played to the caller.
	promptPlaying bool

	// promptPlaybackStoppedForInterim records that an interim transcript
	// stopped the prompt early.
	promptPlaybackStoppedForInterim bool

	// sessionActive is true while an inference session is open.
	sessionActive bool

	// vadDelayWindowOpen is true during the vadMode initial-silence window.
	vadDelayWindowOpen bool

	// vadSpeechSeen remembers speech observed during the delay window.
	vadSpeechSeen bool

	// talkDetectOn tracks whether TALK_DETECT is set on the channel.
	talkDetectOn bool

	// currentResponseID is the model response whose chunks are accepted.
	currentResponseID string

	// vadBuffer holds caller audio payloads pending activation, in arrival
	// order.
	vadBuffer [][]byte

	// turnAudio accumulates the caller's audio for the current turn, for
	// the fallback transcriber.
	turnAudio bytes.Buffer

	startedAt  time.Time
	answeredAt time.Time
	turns      int
	dtmfResult string
	endReason  string
}
