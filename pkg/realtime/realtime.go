// Package realtime defines the provider-neutral contract for a duplex
// speech-to-speech inference session.
//
// A Session accepts raw caller audio and emits a normalized stream of
// [Event] values: speech detection, transcripts, synthesized audio chunks
// tagged with the response they belong to, tool invocations, and terminal
// session events. Exactly one [KindSessionEnded] event is delivered per
// session, no matter how the session terminates.
package realtime

import "context"

// Kind discriminates the normalized session events.
type Kind string

const (
	// KindSpeechStarted signals that server-side voice activity detection
	// observed the caller starting to speak.
	KindSpeechStarted Kind = "speech_started"

	// KindInterimTranscript carries a partial transcript fragment of the
	// response in progress.
	KindInterimTranscript Kind = "interim_transcript"

	// KindFinalTranscript carries a completed transcript. Role tells whose
	// speech it transcribes.
	KindFinalTranscript Kind = "final_transcript"

	// KindAudioChunk carries one chunk of synthesized speech. ResponseID
	// identifies the model response the chunk belongs to.
	KindAudioChunk Kind = "audio_chunk"

	// KindAudioStreamEnd signals that the response identified by ResponseID
	// has no further audio chunks.
	KindAudioStreamEnd Kind = "audio_stream_end"

	// KindToolCall asks the application to execute a tool and report the
	// result via [Session.SendToolResult].
	KindToolCall Kind = "tool_call"

	// KindSessionError reports a fatal provider-side error. A
	// KindSessionEnded event always follows.
	KindSessionError Kind = "session_error"

	// KindSessionEnded is the terminal event of every session.
	KindSessionEnded Kind = "session_ended"
)

// Role identifies the speaker a transcript belongs to.
type Role string

const (
	RoleCaller Role = "caller"
	RoleBot    Role = "bot"
)

// Event is one normalized session event. Which fields are populated depends
// on Kind; unused fields are zero.
type Event struct {
	Kind Kind

	// Text is the transcript text for interim and final transcripts.
	Text string
	// Role is the speaker for final transcripts.
	Role Role

	// Audio is the decoded synthesized-speech payload for audio chunks.
	Audio []byte
	// ResponseID tags audio chunks and stream ends with their response.
	ResponseID string

	// Tool call fields.
	ToolCallID string
	ToolName   string
	ToolArgs   string

	// Err is set for session errors.
	Err error
	// Reason describes why the session ended.
	Reason string
}

// ToolDefinition describes one callable tool advertised to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// SessionConfig is the initial configuration sent when a session opens.
type SessionConfig struct {
	// Modalities the model should produce, e.g. ["text", "audio"].
	Modalities []string

	Voice        string
	Instructions string
	Tools        []ToolDefinition

	// Audio codecs and sample rates, e.g. "g711_ulaw" at 8000 Hz.
	InputFormat      string
	InputSampleRate  int
	OutputFormat     string
	OutputSampleRate int

	// ServerVAD enables server-side turn detection when true.
	ServerVAD bool
}

// Session is one live inference session. Implementations must be safe for
// concurrent use: audio is sent from the call's message loop while Events is
// drained by a forwarding goroutine.
type Session interface {
	// SendAudio delivers one caller audio payload to the model.
	SendAudio(chunk []byte) error

	// SendToolResult reports the output of a tool call back to the model and
	// requests the next response.
	SendToolResult(callID, output string) error

	// Events returns the normalized event stream. The channel is closed
	// after the terminal KindSessionEnded event has been delivered.
	Events() <-chan Event

	// Stop closes the session. The terminal KindSessionEnded event is still
	// delivered. Stop is idempotent.
	Stop(reason string) error
}

// Provider opens inference sessions against a concrete model endpoint.
type Provider interface {
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
