// Package openai implements the realtime.Provider interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Caller audio is transmitted as base64-encoded chunks in the negotiated
// codec; synthesized audio arrives as response.audio.delta events tagged
// with the server's response ID. Tool outputs are returned as a paired
// conversation.item.create / response.create frame sequence.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxgate/voxgate/pkg/realtime"
)

// Compile-time assertions that Provider and session satisfy the realtime
// interfaces.
var _ realtime.Provider = (*Provider)(nil)
var _ realtime.Session = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model requested for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements realtime.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a new Realtime session. The session configuration
// frame is sent before Connect returns, so the returned session is ready to
// accept audio immediately.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan realtime.Event, 64),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities            []string       `json:"modalities,omitempty"`
	TurnDetection         *turnDetection `json:"turn_detection"`
	Voice                 string         `json:"voice,omitempty"`
	InputAudioFormat      string         `json:"input_audio_format"`
	InputAudioSampleRate  int            `json:"input_audio_sample_rate,omitempty"`
	OutputAudioFormat     string         `json:"output_audio_format"`
	OutputAudioSampleRate int            `json:"output_audio_sample_rate,omitempty"`
	Instructions          string         `json:"instructions,omitempty"`
	Tools                 []oaiTool      `json:"tools,omitempty"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded payload in the negotiated codec
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in a Realtime error
// event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta      string `json:"delta,omitempty"`
	ResponseID string `json:"response_id,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.output_item.done
	Item *outputItem `json:"item,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

type outputItem struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan realtime.Event

	mu sync.Mutex
	// currentTxText accumulates response.audio_transcript.delta events until
	// response.audio_transcript.done is received.
	currentTxText string
	// stopReason is recorded by Stop so the terminal event can carry it.
	stopReason string
	closed     bool

	ctx       context.Context
	cancel    context.CancelFunc
	endedOnce sync.Once
}

// sendSessionUpdate sends the session.update configuration frame enumerating
// modalities, turn detection, voice, audio formats, instructions and tools.
func (s *session) sendSessionUpdate(cfg realtime.SessionConfig) error {
	params := sessionParams{
		Modalities:            cfg.Modalities,
		Voice:                 cfg.Voice,
		Instructions:          cfg.Instructions,
		InputAudioFormat:      cfg.InputFormat,
		InputAudioSampleRate:  cfg.InputSampleRate,
		OutputAudioFormat:     cfg.OutputFormat,
		OutputAudioSampleRate: cfg.OutputSampleRate,
	}
	if cfg.ServerVAD {
		params.TurnDetection = &turnDetection{Type: "server_vad"}
	}
	if len(cfg.Tools) > 0 {
		params.Tools = toOAITools(cfg.Tools)
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them. It owns
// the events channel: the terminal session_ended event is emitted and the
// channel closed when the loop exits, whether by Stop or by a read error.
func (s *session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.emit(realtime.Event{Kind: realtime.KindSessionError, Err: err})
			}
			s.end()
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "input_audio_buffer.speech_started":
		s.emit(realtime.Event{Kind: realtime.KindSpeechStarted})

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return
		}
		s.emit(realtime.Event{
			Kind:       realtime.KindAudioChunk,
			Audio:      audioData,
			ResponseID: evt.ResponseID,
		})

	case "response.audio.done":
		s.emit(realtime.Event{
			Kind:       realtime.KindAudioStreamEnd,
			ResponseID: evt.ResponseID,
		})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		s.mu.Lock()
		s.currentTxText += evt.Delta
		text := s.currentTxText
		s.mu.Unlock()
		s.emit(realtime.Event{Kind: realtime.KindInterimTranscript, Text: text})

	case "response.audio_transcript.done":
		s.mu.Lock()
		text := s.currentTxText
		s.currentTxText = ""
		s.mu.Unlock()
		if text == "" {
			return
		}
		s.emit(realtime.Event{
			Kind: realtime.KindFinalTranscript,
			Role: realtime.RoleBot,
			Text: text,
		})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		s.emit(realtime.Event{
			Kind: realtime.KindFinalTranscript,
			Role: realtime.RoleCaller,
			Text: evt.Transcript,
		})

	case "response.output_item.done":
		if evt.Item == nil || evt.Item.Type != "function_call" {
			return
		}
		s.emit(realtime.Event{
			Kind:       realtime.KindToolCall,
			ToolCallID: evt.Item.CallID,
			ToolName:   evt.Item.Name,
			ToolArgs:   evt.Item.Arguments,
		})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.emit(realtime.Event{
			Kind: realtime.KindSessionError,
			Err:  fmt.Errorf("openai: %s", msg),
		})
	}
}

// emit delivers an event unless the session context is gone.
func (s *session) emit(evt realtime.Event) {
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

// end emits the single terminal session_ended event and closes the channel.
func (s *session) end() {
	s.endedOnce.Do(func() {
		s.mu.Lock()
		reason := s.stopReason
		s.mu.Unlock()
		if reason == "" {
			reason = "remote_closed"
		}
		// Blocking send: the consumer drains the channel until close, so
		// the terminal event is always delivered even with a full buffer.
		s.events <- realtime.Event{Kind: realtime.KindSessionEnded, Reason: reason}
		close(s.events)
	})
}

// toOAITools converts realtime.ToolDefinition values to the wire tool format.
func toOAITools(tools []realtime.ToolDefinition) []oaiTool {
	out := make([]oaiTool, len(tools))
	for i, t := range tools {
		out[i] = oaiTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

// ── Session methods ────────────────────────────────────────────────────────────

// SendAudio delivers one caller audio payload to the model, base64-encoded.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	s.mu.Unlock()

	encoded := base64.StdEncoding.EncodeToString(chunk)
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: encoded,
	})
}

// SendToolResult returns a tool output and triggers the next model response.
func (s *session) SendToolResult(callID, output string) error {
	if err := s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}); err != nil {
		return err
	}
	return s.writeJSON(map[string]string{"type": "response.create"})
}

// Events returns the normalized event stream.
func (s *session) Events() <-chan realtime.Event { return s.events }

// Stop terminates the session. The terminal session_ended event is still
// delivered. Idempotent.
func (s *session) Stop(reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopReason = reason
	s.mu.Unlock()

	// receiveLoop observes the cancelled context on its next Read and emits
	// the terminal event; only the loop touches the events channel.
	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session stopped")
	return nil
}
