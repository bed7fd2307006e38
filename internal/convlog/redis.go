// Package convlog persists per-call conversation history in Redis.
//
// Each call owns one Redis list under conversation:<callID>; every append
// refreshes the list's TTL so finished conversations age out on their own.
// The log is best-effort: a Redis failure is logged and never disturbs the
// call.
package convlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Actor values for log entries.
const (
	ActorCaller       = "caller"
	ActorBot          = "bot"
	ActorSystem       = "system"
	ActorError        = "error"
	ActorDTMF         = "dtmf"
	ActorToolCall     = "tool_call"
	ActorToolResponse = "tool_response"
)

// Entry is one conversation-log record.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	CallID    string    `json:"callId"`
	ToolName  string    `json:"tool_name,omitempty"`

	// OriginalTurnTimestamp links late entries (fallback transcripts) to the
	// turn they describe.
	OriginalTurnTimestamp string `json:"originalTurnTimestamp,omitempty"`
}

const keyPrefix = "conversation:"

// Store writes and reads conversation logs. A nil Store is valid and
// discards everything, so callers need no nil checks of their own.
type Store struct {
	log *slog.Logger
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a conversation-log store over the given Redis client.
func NewStore(log *slog.Logger, rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{log: log, rdb: rdb, ttl: ttl}
}

// Append pushes one entry onto the call's conversation list and refreshes
// its TTL. Failures are logged and swallowed.
func (s *Store) Append(ctx context.Context, e Entry) {
	if s == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		s.log.Warn("convlog marshal failed", "call_id", e.CallID, "error", err)
		return
	}

	key := keyPrefix + e.CallID
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn("convlog append failed", "call_id", e.CallID, "error", err)
	}
}

// History returns the call's conversation entries in append order.
func (s *Store) History(ctx context.Context, callID string) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}

	raw, err := s.rdb.LRange(ctx, keyPrefix+callID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("convlog: read history: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			s.log.Warn("convlog entry unreadable", "call_id", callID, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Ping verifies Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.rdb.Ping(ctx).Err()
}
