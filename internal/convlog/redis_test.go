package convlog_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/voxgate/voxgate/internal/convlog"
)

func newStore(t *testing.T, ttl time.Duration) (*convlog.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return convlog.NewStore(log, rdb, ttl), mr
}

func TestAppendAndHistory(t *testing.T) {
	s, _ := newStore(t, time.Hour)
	ctx := context.Background()

	s.Append(ctx, convlog.Entry{Actor: convlog.ActorCaller, Type: "final_transcript", Content: "hello", CallID: "c1"})
	s.Append(ctx, convlog.Entry{Actor: convlog.ActorBot, Type: "final_transcript", Content: "hi there", CallID: "c1"})
	s.Append(ctx, convlog.Entry{Actor: convlog.ActorSystem, Type: "call_ended", CallID: "other"})

	entries, err := s.History(ctx, "c1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}
	if entries[0].Actor != convlog.ActorCaller || entries[0].Content != "hello" {
		t.Errorf("first entry: %+v", entries[0])
	}
	if entries[1].Actor != convlog.ActorBot {
		t.Errorf("second entry: %+v", entries[1])
	}
	if entries[0].Timestamp.IsZero() {
		t.Error("append should stamp entries")
	}
}

func TestAppendRefreshesTTL(t *testing.T) {
	s, mr := newStore(t, time.Hour)
	ctx := context.Background()

	s.Append(ctx, convlog.Entry{Actor: convlog.ActorSystem, Type: "call_answered", CallID: "c1"})

	if ttl := mr.TTL("conversation:c1"); ttl != time.Hour {
		t.Errorf("ttl: got %v, want 1h", ttl)
	}

	mr.FastForward(30 * time.Minute)
	s.Append(ctx, convlog.Entry{Actor: convlog.ActorSystem, Type: "call_ended", CallID: "c1"})

	if ttl := mr.TTL("conversation:c1"); ttl != time.Hour {
		t.Errorf("ttl after refresh: got %v, want 1h", ttl)
	}
}

func TestHistoryUnknownCall(t *testing.T) {
	s, _ := newStore(t, time.Hour)

	entries, err := s.History(context.Background(), "nope")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries for unknown call: %v", entries)
	}
}

func TestHistorySkipsCorruptEntries(t *testing.T) {
	s, mr := newStore(t, time.Hour)
	ctx := context.Background()

	s.Append(ctx, convlog.Entry{Actor: convlog.ActorCaller, Type: "final_transcript", Content: "ok", CallID: "c1"})
	mr.Lpush("conversation:c1", "{not json")

	entries, err := s.History(ctx, "c1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "ok" {
		t.Errorf("corrupt entry not skipped: %+v", entries)
	}
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *convlog.Store
	ctx := context.Background()

	s.Append(ctx, convlog.Entry{CallID: "c1"})
	if entries, err := s.History(ctx, "c1"); err != nil || entries != nil {
		t.Errorf("nil store history: %v, %v", entries, err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("nil store ping: %v", err)
	}
}
