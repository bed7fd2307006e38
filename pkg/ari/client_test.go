package ari_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/voxgate/voxgate/pkg/ari"
)

// capturedRequest records what the fake PBX saw for one REST call.
type capturedRequest struct {
	Method string
	Path   string
	Query  url.Values
	User   string
	Pass   string
}

// newTestClient starts a fake ARI endpoint answering every request with
// status and body, and returns a client pointed at it.
func newTestClient(t *testing.T, status int, body any) (*ari.Client, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Method = r.Method
		captured.Path = r.URL.Path
		captured.Query = r.URL.Query()
		captured.User, captured.Pass, _ = r.BasicAuth()

		w.WriteHeader(status)
		if body != nil {
			json.NewEncoder(w).Encode(body)
		}
	}))
	t.Cleanup(srv.Close)

	return ari.NewClient(srv.URL, "gw", "secret", "voicebot"), captured
}

func TestAnswer_SendsBasicAuth(t *testing.T) {
	c, captured := newTestClient(t, http.StatusNoContent, nil)

	if err := c.Answer(context.Background(), "chan/1"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if captured.Method != http.MethodPost {
		t.Errorf("method: got %s", captured.Method)
	}
	if captured.Path != "/channels/chan%2F1/answer" && captured.Path != "/channels/chan/1/answer" {
		t.Errorf("path: got %s", captured.Path)
	}
	if captured.User != "gw" || captured.Pass != "secret" {
		t.Errorf("basic auth: got %s/%s", captured.User, captured.Pass)
	}
}

func TestNotFoundMapsToErrNotFound(t *testing.T) {
	c, _ := newTestClient(t, http.StatusNotFound, nil)

	err := c.Hangup(context.Background(), "gone")
	if !errors.Is(err, ari.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestServerErrorCarriesBody(t *testing.T) {
	c, _ := newTestClient(t, http.StatusInternalServerError, map[string]string{"message": "boom"})

	err := c.Answer(context.Background(), "chan-1")
	if err == nil {
		t.Fatal("expected error for 500, got nil")
	}
	if errors.Is(err, ari.ErrNotFound) {
		t.Error("500 must not map to ErrNotFound")
	}
}

func TestSetTalkDetect_ValueFormat(t *testing.T) {
	c, captured := newTestClient(t, http.StatusNoContent, nil)

	if err := c.SetTalkDetect(context.Background(), "chan-1", 256, 1200); err != nil {
		t.Fatalf("set talk detect: %v", err)
	}
	if got := captured.Query.Get("variable"); got != "TALK_DETECT(set)" {
		t.Errorf("variable: got %q", got)
	}
	// Asterisk expects "silenceMs,energy".
	if got := captured.Query.Get("value"); got != "1200,256" {
		t.Errorf("value: got %q, want 1200,256", got)
	}
}

func TestRemoveTalkDetect(t *testing.T) {
	c, captured := newTestClient(t, http.StatusNoContent, nil)

	if err := c.RemoveTalkDetect(context.Background(), "chan-1"); err != nil {
		t.Fatalf("remove talk detect: %v", err)
	}
	if got := captured.Query.Get("variable"); got != "TALK_DETECT(remove)" {
		t.Errorf("variable: got %q", got)
	}
}

func TestCreateExternalMediaChannel_Parameters(t *testing.T) {
	c, captured := newTestClient(t, http.StatusOK, ari.Channel{ID: "ext-1"})

	ch, err := c.CreateExternalMediaChannel(context.Background(), "127.0.0.1", 40000, "ulaw")
	if err != nil {
		t.Fatalf("external media: %v", err)
	}
	if ch.ID != "ext-1" {
		t.Errorf("channel id: got %q", ch.ID)
	}

	for key, want := range map[string]string{
		"app":             "voicebot",
		"external_host":   "127.0.0.1:40000",
		"format":          "ulaw",
		"encapsulation":   "rtp",
		"transport":       "udp",
		"connection_type": "client",
		"direction":       "both",
	} {
		if got := captured.Query.Get(key); got != want {
			t.Errorf("%s: got %q, want %q", key, got, want)
		}
	}
	if captured.Query.Get("channelId") == "" {
		t.Error("channel ID should be assigned client-side")
	}
}

func TestCreateListenerChannel_SpiesInbound(t *testing.T) {
	c, captured := newTestClient(t, http.StatusOK, ari.Channel{ID: "snoop-1"})

	ch, err := c.CreateListenerChannel(context.Background(), "chan-1", ari.SpyIn)
	if err != nil {
		t.Fatalf("snoop: %v", err)
	}
	if ch.ID != "snoop-1" {
		t.Errorf("channel id: got %q", ch.ID)
	}
	if got := captured.Query.Get("spy"); got != "in" {
		t.Errorf("spy: got %q, want in", got)
	}
	if got := captured.Query.Get("whisper"); got != "none" {
		t.Errorf("whisper: got %q, want none", got)
	}
	if captured.Query.Get("snoopId") == "" {
		t.Error("snoop ID should be assigned client-side")
	}
}

func TestCreateMixerBridge(t *testing.T) {
	c, captured := newTestClient(t, http.StatusOK, ari.Bridge{ID: "b-1"})

	b, err := c.CreateMixerBridge(context.Background())
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	if b.ID != "b-1" {
		t.Errorf("bridge id: got %q", b.ID)
	}
	if got := captured.Query.Get("type"); got != "mixing" {
		t.Errorf("type: got %q, want mixing", got)
	}
}

func TestPlay_ReturnsHandle(t *testing.T) {
	c, captured := newTestClient(t, http.StatusOK, ari.Playback{ID: "pb-1"})

	pb, err := c.Play(context.Background(), "chan-1", "sound:/var/lib/asterisk/sounds/openai/x")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if pb.ID != "pb-1" {
		t.Errorf("playback id: got %q", pb.ID)
	}
	if got := captured.Query.Get("media"); got != "sound:/var/lib/asterisk/sounds/openai/x" {
		t.Errorf("media: got %q", got)
	}
}

func TestSetChannelVar(t *testing.T) {
	c, captured := newTestClient(t, http.StatusNoContent, nil)

	if err := c.SetChannelVar(context.Background(), "chan-1", "DTMF_RESULT", "42"); err != nil {
		t.Fatalf("set var: %v", err)
	}
	if got := captured.Query.Get("variable"); got != "DTMF_RESULT" {
		t.Errorf("variable: got %q", got)
	}
	if got := captured.Query.Get("value"); got != "42" {
		t.Errorf("value: got %q", got)
	}
}
