// Package frontend is the operator-facing surface of the gateway: a
// WebSocket endpoint streaming standardized call events to monitoring
// front-ends and accepting control commands back, plus the HTTP mux that
// carries it together with metrics and health.
package frontend

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Envelope is the wire format of one operator event.
type Envelope struct {
	Type      string `json:"type"`
	CallID    any    `json:"callId"` // string or null for gateway-level events
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
	Payload   any    `json:"payload,omitempty"`
	LogLevel  string `json:"logLevel,omitempty"`
}

// clientBuffer is the per-client outbound queue depth. A client that falls
// further behind starts losing events rather than stalling the gateway.
const clientBuffer = 128

// Hub fans events out to connected operator sockets. It satisfies the call
// package's Publisher interface.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[chan []byte]struct{}),
	}
}

// Publish broadcasts one event to every connected client. Never blocks;
// slow clients drop events.
func (h *Hub) Publish(eventType, callID, source string, payload any, logLevel string) {
	var cid any
	if callID != "" {
		cid = callID
	}
	data, err := json.Marshal(Envelope{
		Type:      eventType,
		CallID:    cid,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Source:    source,
		Payload:   payload,
		LogLevel:  logLevel,
	})
	if err != nil {
		h.log.Warn("event marshal failed", "type", eventType, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- data:
		default:
		}
	}
}

// subscribe registers a new client queue.
func (h *Hub) subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// unsubscribe removes a client queue.
func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// ClientCount returns the number of connected operator sockets.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
