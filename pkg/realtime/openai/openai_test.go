package openai

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/voxgate/voxgate/pkg/realtime"
)

// newBareSession builds a session with no connection, enough to exercise the
// server-event dispatch.
func newBareSession() *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		events: make(chan realtime.Event, 64),
		ctx:    ctx,
		cancel: cancel,
	}
}

// drain returns the events emitted so far.
func drain(s *session) []realtime.Event {
	var out []realtime.Event
	for {
		select {
		case ev := <-s.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSpeechStartedEvent(t *testing.T) {
	s := newBareSession()
	s.handleServerEvent(&serverEvent{Type: "input_audio_buffer.speech_started"})

	evs := drain(s)
	if len(evs) != 1 || evs[0].Kind != realtime.KindSpeechStarted {
		t.Fatalf("events: %+v", evs)
	}
}

func TestAudioDeltaDecodesAndTagsResponse(t *testing.T) {
	s := newBareSession()
	audio := []byte{0x01, 0x02, 0x03}
	s.handleServerEvent(&serverEvent{
		Type:       "response.audio.delta",
		Delta:      base64.StdEncoding.EncodeToString(audio),
		ResponseID: "resp-1",
	})

	evs := drain(s)
	if len(evs) != 1 {
		t.Fatalf("events: %+v", evs)
	}
	if evs[0].Kind != realtime.KindAudioChunk || evs[0].ResponseID != "resp-1" {
		t.Errorf("event: %+v", evs[0])
	}
	if string(evs[0].Audio) != string(audio) {
		t.Errorf("audio: got %x, want %x", evs[0].Audio, audio)
	}
}

func TestAudioDeltaInvalidBase64Dropped(t *testing.T) {
	s := newBareSession()
	s.handleServerEvent(&serverEvent{Type: "response.audio.delta", Delta: "!!not-base64!!"})
	s.handleServerEvent(&serverEvent{Type: "response.audio.delta", Delta: ""})

	if evs := drain(s); len(evs) != 0 {
		t.Errorf("invalid deltas emitted events: %+v", evs)
	}
}

func TestAudioDoneEndsStream(t *testing.T) {
	s := newBareSession()
	s.handleServerEvent(&serverEvent{Type: "response.audio.done", ResponseID: "resp-1"})

	evs := drain(s)
	if len(evs) != 1 || evs[0].Kind != realtime.KindAudioStreamEnd || evs[0].ResponseID != "resp-1" {
		t.Fatalf("events: %+v", evs)
	}
}

func TestTranscriptDeltaAccumulates(t *testing.T) {
	s := newBareSession()
	s.handleServerEvent(&serverEvent{Type: "response.audio_transcript.delta", Delta: "Hel"})
	s.handleServerEvent(&serverEvent{Type: "response.audio_transcript.delta", Delta: "lo"})
	s.handleServerEvent(&serverEvent{Type: "response.audio_transcript.done"})

	evs := drain(s)
	if len(evs) != 3 {
		t.Fatalf("events: %+v", evs)
	}
	if evs[0].Kind != realtime.KindInterimTranscript || evs[0].Text != "Hel" {
		t.Errorf("first interim: %+v", evs[0])
	}
	if evs[1].Text != "Hello" {
		t.Errorf("second interim should carry the accumulated text: %+v", evs[1])
	}
	if evs[2].Kind != realtime.KindFinalTranscript || evs[2].Role != realtime.RoleBot || evs[2].Text != "Hello" {
		t.Errorf("final: %+v", evs[2])
	}

	// The accumulator resets between responses.
	s.handleServerEvent(&serverEvent{Type: "response.audio_transcript.delta", Delta: "Bye"})
	evs = drain(s)
	if len(evs) != 1 || evs[0].Text != "Bye" {
		t.Errorf("accumulator not reset: %+v", evs)
	}
}

func TestEmptyTranscriptDoneEmitsNothing(t *testing.T) {
	s := newBareSession()
	s.handleServerEvent(&serverEvent{Type: "response.audio_transcript.done"})

	if evs := drain(s); len(evs) != 0 {
		t.Errorf("events: %+v", evs)
	}
}

func TestCallerTranscription(t *testing.T) {
	s := newBareSession()
	s.handleServerEvent(&serverEvent{
		Type:       "conversation.item.input_audio_transcription.completed",
		Transcript: "what time is it",
	})

	evs := drain(s)
	if len(evs) != 1 {
		t.Fatalf("events: %+v", evs)
	}
	if evs[0].Kind != realtime.KindFinalTranscript || evs[0].Role != realtime.RoleCaller {
		t.Errorf("event: %+v", evs[0])
	}
}

func TestFunctionCallItem(t *testing.T) {
	s := newBareSession()
	s.handleServerEvent(&serverEvent{
		Type: "response.output_item.done",
		Item: &outputItem{
			Type:      "function_call",
			CallID:    "tc-1",
			Name:      "hangup_call",
			Arguments: "{}",
		},
	})

	evs := drain(s)
	if len(evs) != 1 {
		t.Fatalf("events: %+v", evs)
	}
	ev := evs[0]
	if ev.Kind != realtime.KindToolCall || ev.ToolCallID != "tc-1" || ev.ToolName != "hangup_call" {
		t.Errorf("event: %+v", ev)
	}
}

func TestNonFunctionOutputItemIgnored(t *testing.T) {
	s := newBareSession()
	s.handleServerEvent(&serverEvent{Type: "response.output_item.done", Item: &outputItem{Type: "message"}})
	s.handleServerEvent(&serverEvent{Type: "response.output_item.done"})

	if evs := drain(s); len(evs) != 0 {
		t.Errorf("events: %+v", evs)
	}
}

func TestServerErrorEvent(t *testing.T) {
	s := newBareSession()
	s.handleServerEvent(&serverEvent{
		Type:  "error",
		Error: &serverErrorDetail{Type: "invalid_request_error", Message: "bad frame"},
	})

	evs := drain(s)
	if len(evs) != 1 || evs[0].Kind != realtime.KindSessionError {
		t.Fatalf("events: %+v", evs)
	}
	if evs[0].Err == nil || evs[0].Err.Error() != "openai: bad frame" {
		t.Errorf("error: %v", evs[0].Err)
	}
}

func TestEndEmitsTerminalEventOnce(t *testing.T) {
	s := newBareSession()
	s.mu.Lock()
	s.stopReason = "dtmf"
	s.mu.Unlock()

	s.end()
	s.end()

	ev, ok := <-s.events
	if !ok || ev.Kind != realtime.KindSessionEnded || ev.Reason != "dtmf" {
		t.Fatalf("terminal event: %+v ok=%v", ev, ok)
	}
	if _, ok := <-s.events; ok {
		t.Fatal("channel should be closed after the terminal event")
	}
}

func TestEndDeliversTerminalEventWhenBufferFull(t *testing.T) {
	s := newBareSession()
	for i := 0; i < cap(s.events); i++ {
		s.events <- realtime.Event{Kind: realtime.KindAudioChunk}
	}

	done := make(chan struct{})
	go func() {
		s.end()
		close(done)
	}()

	var last realtime.Event
	for ev := range s.events {
		last = ev
	}
	<-done

	if last.Kind != realtime.KindSessionEnded {
		t.Fatalf("terminal event: %+v", last)
	}
}

func TestEndDefaultsToRemoteClosed(t *testing.T) {
	s := newBareSession()
	s.end()

	ev := <-s.events
	if ev.Reason != "remote_closed" {
		t.Errorf("reason: got %q", ev.Reason)
	}
}

func TestToOAITools(t *testing.T) {
	out := toOAITools([]realtime.ToolDefinition{{
		Name:        "lookup_order",
		Description: "Look up an order.",
		Parameters:  map[string]any{"type": "object"},
	}})

	if len(out) != 1 {
		t.Fatalf("tools: %+v", out)
	}
	if out[0].Type != "function" || out[0].Name != "lookup_order" {
		t.Errorf("tool: %+v", out[0])
	}
}
