package call

// Standardized event types broadcast to operator front-ends. The names are
// part of the operator protocol and must not change without coordinating
// with the front-end.
const (
	EventCallStasisStart          = "call_stasis_start"
	EventCallAnswered             = "call_answered"
	EventCallResourcesInitialized = "call_resources_initialized"
	EventStreamActivated          = "openai_stream_activated"
	EventSpeechStarted            = "openai_speech_started"
	EventInterimTranscript        = "openai_interim_transcript"
	EventFinalTranscript          = "openai_final_transcript"
	EventTTSChunkQueued           = "openai_tts_chunk_received_and_queued"
	EventTTSStreamEnded           = "openai_tts_stream_ended"
	EventStreamError              = "openai_stream_error"
	EventTTSPlaybackInterrupted   = "tts_playback_interrupted"
	EventDTMFReceived             = "dtmf_received"
	EventDTMFModeActivated        = "dtmf_mode_activated"
	EventDTMFInputFinalized       = "dtmf_input_finalized"
	EventVADSpeechStart           = "vad_speech_detected_start"
	EventVADSpeechEnd             = "vad_speech_detected_end"
	EventPlaybackStarted          = "playback_started"
	EventPlaybackFailed           = "playback_failed_to_start"
	EventCleanupStarted           = "call_cleanup_started"
	EventCleanupCompleted         = "call_cleanup_completed"
	EventActiveCallsList          = "active_calls_list"
	EventARIConnectionStatus      = "ari_connection_status"
)

// Publisher fans standardized events out to operator front-ends. Broadcast
// is best-effort; implementations must never block the caller on a slow
// socket. callID may be empty for gateway-level events.
type Publisher interface {
	Publish(eventType, callID, source string, payload any, logLevel string)
}

// NopPublisher discards events. Used when no front-end is configured and in
// tests.
type NopPublisher struct{}

func (NopPublisher) Publish(string, string, string, any, string) {}
