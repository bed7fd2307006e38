package ari_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxgate/voxgate/pkg/ari"
)

// recordingHandler collects every dispatched event.
type recordingHandler struct {
	mu sync.Mutex

	stasis    []ari.StasisStart
	ended     []string
	dtmf      []string
	talking   []string
	finished  []ari.TalkingFinished
	playbacks []string
	failed    []string
	lost      []error
}

func (h *recordingHandler) OnStasisStart(ev ari.StasisStart) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stasis = append(h.stasis, ev)
}

func (h *recordingHandler) OnChannelEnded(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ended = append(h.ended, id)
}

func (h *recordingHandler) OnDTMF(id, digit string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dtmf = append(h.dtmf, id+":"+digit)
}

func (h *recordingHandler) OnTalkingStarted(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.talking = append(h.talking, id)
}

func (h *recordingHandler) OnTalkingFinished(ev ari.TalkingFinished) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = append(h.finished, ev)
}

func (h *recordingHandler) OnPlaybackFinished(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playbacks = append(h.playbacks, id)
}

func (h *recordingHandler) OnPlaybackFailed(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = append(h.failed, id)
}

func (h *recordingHandler) OnConnectionLost(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lost = append(h.lost, err)
}

// handlerSnapshot is a lock-free copy of the recorded events.
type handlerSnapshot struct {
	stasis []ari.StasisStart
	ended  []string
	dtmf   []string
	lost   []error
}

func (h *recordingHandler) snapshot() handlerSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return handlerSnapshot{
		stasis: append([]ari.StasisStart(nil), h.stasis...),
		ended:  append([]string(nil), h.ended...),
		dtmf:   append([]string(nil), h.dtmf...),
		lost:   append([]error(nil), h.lost...),
	}
}

func TestListen_DispatchesEvents(t *testing.T) {
	var gotQuery string
	frames := []string{
		`{"type":"StasisStart","channel":{"id":"chan-1","name":"PJSIP/100-1","caller":{"number":"100"}},"args":["inbound"]}`,
		`{"type":"ChannelDtmfReceived","channel":{"id":"chan-1"},"digit":"5"}`,
		`{"type":"NotAnEventWeCareAbout"}`,
		`not even json`,
		`{"type":"StasisEnd","channel":{"id":"chan-1"}}`,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		for _, f := range frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	c := ari.NewClient(srv.URL, "gw", "secret", "voicebot")
	h := &recordingHandler{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Listen(ctx, h)
	if err == nil {
		t.Fatal("expected error when the server closes the socket")
	}

	snap := h.snapshot()
	if len(snap.stasis) != 1 {
		t.Fatalf("stasis starts: %+v", snap.stasis)
	}
	if snap.stasis[0].Channel.ID != "chan-1" || snap.stasis[0].Channel.Caller.Number != "100" {
		t.Errorf("stasis channel: %+v", snap.stasis[0].Channel)
	}
	if len(snap.stasis[0].Args) != 1 || snap.stasis[0].Args[0] != "inbound" {
		t.Errorf("stasis args: %v", snap.stasis[0].Args)
	}
	if len(snap.dtmf) != 1 || snap.dtmf[0] != "chan-1:5" {
		t.Errorf("dtmf: %v", snap.dtmf)
	}
	if len(snap.ended) != 1 || snap.ended[0] != "chan-1" {
		t.Errorf("ended: %v", snap.ended)
	}
	if len(snap.lost) != 1 {
		t.Errorf("connection lost calls: %v", snap.lost)
	}

	if !strings.Contains(gotQuery, "app=voicebot") {
		t.Errorf("events query missing app: %s", gotQuery)
	}
	if !strings.Contains(gotQuery, "api_key=gw%3Asecret") {
		t.Errorf("events query missing api_key: %s", gotQuery)
	}
	if !strings.Contains(gotQuery, "subscribeAll=false") {
		t.Errorf("events query missing subscribeAll: %s", gotQuery)
	}
}

func TestListen_ContextCancelSuppressesConnectionLost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		// Hold the connection open until the client goes away.
		conn.Read(r.Context())
	}))
	defer srv.Close()

	c := ari.NewClient(srv.URL, "gw", "secret", "voicebot")
	h := &recordingHandler{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Listen(ctx, h) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("listen error: got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not return after cancel")
	}
	if snap := h.snapshot(); len(snap.lost) != 0 {
		t.Errorf("cancellation must not report a lost connection: %v", snap.lost)
	}
}
