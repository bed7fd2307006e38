package call_test

import (
	"testing"

	"github.com/voxgate/voxgate/internal/call"
)

func TestPlaybackQueue_EnqueueStartsWhenIdle(t *testing.T) {
	q := call.NewPlaybackQueue()

	if !q.Enqueue(call.PlaybackItem{MediaRef: "sound:a"}) {
		t.Fatal("first enqueue should start playback")
	}
	if q.Enqueue(call.PlaybackItem{MediaRef: "sound:b"}) {
		t.Fatal("second enqueue must not start while head is playing")
	}
	if q.Head().MediaRef != "sound:a" {
		t.Errorf("head: got %q, want sound:a", q.Head().MediaRef)
	}
	if q.Len() != 2 {
		t.Errorf("len: got %d, want 2", q.Len())
	}
}

func TestPlaybackQueue_FinishedAdvances(t *testing.T) {
	q := call.NewPlaybackQueue()
	q.Enqueue(call.PlaybackItem{MediaRef: "sound:a"})
	q.Enqueue(call.PlaybackItem{MediaRef: "sound:b"})
	q.Started("pb-1")

	next, drained := q.Finished()
	if !next || drained {
		t.Fatalf("after first finish: next=%v drained=%v, want next only", next, drained)
	}
	if q.Head().MediaRef != "sound:b" {
		t.Errorf("head after advance: got %q, want sound:b", q.Head().MediaRef)
	}

	next, drained = q.Finished()
	if next || !drained {
		t.Fatalf("after last finish: next=%v drained=%v, want drained only", next, drained)
	}
	if q.Playing() {
		t.Error("queue should be idle after draining")
	}
}

func TestPlaybackQueue_HandleTracksActiveOnly(t *testing.T) {
	q := call.NewPlaybackQueue()
	if q.Handle() != "" {
		t.Errorf("idle handle: got %q, want empty", q.Handle())
	}
	q.Enqueue(call.PlaybackItem{MediaRef: "sound:a"})
	q.Started("pb-1")
	if q.Handle() != "pb-1" {
		t.Errorf("active handle: got %q, want pb-1", q.Handle())
	}
	q.Finished()
	if q.Handle() != "" {
		t.Errorf("handle after drain: got %q, want empty", q.Handle())
	}
}

func TestPlaybackQueue_InterruptClearsEverything(t *testing.T) {
	q := call.NewPlaybackQueue()
	q.Enqueue(call.PlaybackItem{MediaRef: "sound:a"})
	q.Enqueue(call.PlaybackItem{MediaRef: "sound:b"})
	q.Started("pb-1")

	if got := q.Interrupt(); got != "pb-1" {
		t.Errorf("interrupt handle: got %q, want pb-1", got)
	}
	if q.Len() != 0 || q.Playing() {
		t.Errorf("queue not cleared: len=%d playing=%v", q.Len(), q.Playing())
	}

	// A fresh enqueue after an interrupt starts immediately.
	if !q.Enqueue(call.PlaybackItem{MediaRef: "sound:c"}) {
		t.Error("enqueue after interrupt should start playback")
	}
}

func TestPlaybackQueue_InterruptWhenIdle(t *testing.T) {
	q := call.NewPlaybackQueue()
	if got := q.Interrupt(); got != "" {
		t.Errorf("interrupt on idle queue: got %q, want empty", got)
	}
}
