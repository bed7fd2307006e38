package frontend

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/voxgate/voxgate/internal/call"
	"github.com/voxgate/voxgate/internal/convlog"
)

// Backend is the gateway surface the operator protocol drives. Implemented
// by the call gateway.
type Backend interface {
	ActiveCalls() []call.Info
	ApplySessionUpdate(callID string, u *call.SessionUpdate) error
	CallConfiguration(callID string) (call.Settings, error)
	ConversationHistory(ctx context.Context, callID string) ([]convlog.Entry, error)
}

// command is one inbound operator frame. session.update carries its partial
// configuration under the "session" key.
type command struct {
	Type    string          `json:"type"`
	CallID  string          `json:"callId"`
	Session json.RawMessage `json:"session"`
}

// Server serves the operator WebSocket endpoint.
type Server struct {
	log     *slog.Logger
	hub     *Hub
	backend Backend
}

// NewServer creates the operator server over the given hub and backend.
func NewServer(log *slog.Logger, hub *Hub, backend Backend) *Server {
	return &Server{log: log, hub: hub, backend: backend}
}

// Routes registers the operator endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/logs", s.handleLogs)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("operator socket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	out := s.hub.subscribe()
	defer s.hub.unsubscribe(out)

	s.log.Info("operator connected", "remote", r.RemoteAddr)

	// Every new operator starts with the current call list.
	s.sendTo(out, EnvelopeNow(call.EventActiveCallsList, "", map[string]any{
		"calls": s.backend.ActiveCalls(),
	}, "info"))

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case data := <-out:
				wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
				err := conn.Write(wctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.sendError(out, "", "unparseable command: "+err.Error())
			continue
		}
		s.dispatch(ctx, out, cmd)
	}
	<-writeDone
	s.log.Info("operator disconnected", "remote", r.RemoteAddr)
}

func (s *Server) dispatch(ctx context.Context, out chan []byte, cmd command) {
	switch cmd.Type {
	case "session.update":
		var u call.SessionUpdate
		if err := json.Unmarshal(cmd.Session, &u); err != nil {
			s.sendError(out, cmd.CallID, "invalid session.update frame: "+err.Error())
			return
		}
		if err := s.backend.ApplySessionUpdate(cmd.CallID, &u); err != nil {
			s.sendError(out, cmd.CallID, err.Error())
			return
		}
		s.sendTo(out, EnvelopeNow("session.update_applied", cmd.CallID, nil, "info"))

	case "get_call_configuration":
		settings, err := s.backend.CallConfiguration(cmd.CallID)
		if err != nil {
			s.sendError(out, cmd.CallID, err.Error())
			return
		}
		s.sendTo(out, EnvelopeNow("call_configuration", cmd.CallID, settingsView(settings), "info"))

	case "get_conversation_history":
		entries, err := s.backend.ConversationHistory(ctx, cmd.CallID)
		if err != nil {
			s.sendError(out, cmd.CallID, err.Error())
			return
		}
		s.sendTo(out, EnvelopeNow("conversation_history", cmd.CallID, map[string]any{
			"entries": entries,
		}, "info"))

	case "get_active_calls":
		s.sendTo(out, EnvelopeNow(call.EventActiveCallsList, "", map[string]any{
			"calls": s.backend.ActiveCalls(),
		}, "info"))

	default:
		s.sendError(out, cmd.CallID, "unknown command type: "+cmd.Type)
	}
}

// sendTo queues a frame for one client, dropping it if the client is
// saturated.
func (s *Server) sendTo(out chan []byte, data []byte) {
	select {
	case out <- data:
	default:
	}
}

func (s *Server) sendError(out chan []byte, callID, msg string) {
	s.sendTo(out, EnvelopeNow("command_error", callID, map[string]any{"error": msg}, "error"))
}

// EnvelopeNow marshals one event envelope stamped with the current time.
func EnvelopeNow(eventType, callID string, payload any, level string) []byte {
	var cid any
	if callID != "" {
		cid = callID
	}
	data, _ := json.Marshal(Envelope{
		Type:      eventType,
		CallID:    cid,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Source:    "gateway",
		Payload:   payload,
		LogLevel:  level,
	})
	return data
}

// settingsView renders call settings with the field names and units of the
// operator protocol.
func settingsView(s call.Settings) map[string]any {
	toolNames := make([]string, len(s.Tools))
	for i, t := range s.Tools {
		toolNames[i] = t.Name
	}
	return map[string]any{
		"instructions":                    s.Instructions,
		"ttsVoice":                        s.Voice,
		"model":                           s.Model,
		"tools":                           toolNames,
		"recognitionActivationMode":       string(s.Mode),
		"firstInteractionRecognitionMode": string(s.FirstInteractionMode),
		"bargeInDelaySeconds":             s.BargeInDelay.Seconds(),
		"noSpeechBeginTimeoutSeconds":     s.NoSpeechBeginTimeout.Seconds(),
		"speechEndSilenceTimeoutSeconds":  s.SpeechEndSilence.Seconds(),
		"maxRecognitionDurationSeconds":   s.MaxRecognitionTime.Seconds(),
		"initialStreamIdleTimeoutSeconds": s.InitialStreamIdle.Seconds(),
		"vadRecogActivation":              string(s.VADActivation),
		"vadSilenceThresholdMs":           int(s.VADSilenceThreshold / time.Millisecond),
		"vadTalkThreshold":                s.VADTalkThreshold,
		"vadInitialSilenceDelaySeconds":   s.VADInitialSilence.Seconds(),
		"vadMaxWaitAfterPromptSeconds":    s.VADMaxWaitAfterPrompt.Seconds(),
		"enableDtmfRecognition":           s.DTMFEnabled,
		"dtmfInterDigitTimeoutSeconds":    s.DTMFInterDigit.Seconds(),
		"dtmfFinalTimeoutSeconds":         s.DTMFFinal.Seconds(),
		"dtmfMaxDigits":                   s.DTMFMaxDigits,
		"dtmfTerminatorDigit":             s.DTMFTerminator,
	}
}
