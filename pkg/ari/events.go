package ari

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// wireEvent is the union of the ARI event fields the gateway consumes.
type wireEvent struct {
	Type string `json:"type"`

	Channel  *Channel `json:"channel,omitempty"`
	Args     []string `json:"args,omitempty"`
	Digit    string   `json:"digit,omitempty"`
	Duration int64    `json:"duration,omitempty"`

	Playback *Playback `json:"playback,omitempty"`
}

// Listen connects to the ARI event WebSocket and dispatches events to h
// until ctx is cancelled or the connection drops. On any non-cancellation
// exit the handler's OnConnectionLost is invoked exactly once.
//
// Listen blocks; run it on its own goroutine.
func (c *Client) Listen(ctx context.Context, h Handler) error {
	wsURL, err := c.eventsURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("ari: dial events: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "listener stopped")

	// ARI events can burst during call setup; keep the read limit generous.
	conn.SetReadLimit(1 << 20)

	slog.Info("ari event socket connected", "app", c.app)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.OnConnectionLost(err)
			return fmt.Errorf("ari: event socket: %w", err)
		}

		var evt wireEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Warn("ari: undecodable event", "err", err)
			continue
		}

		dispatch(&evt, h)
	}
}

// dispatch routes one wire event to the handler. Unknown event types are
// ignored; the PBX emits far more kinds than the gateway consumes.
func dispatch(evt *wireEvent, h Handler) {
	switch evt.Type {
	case "StasisStart":
		if evt.Channel == nil {
			return
		}
		h.OnStasisStart(StasisStart{Channel: *evt.Channel, Args: evt.Args})

	case "StasisEnd", "ChannelDestroyed":
		if evt.Channel == nil {
			return
		}
		h.OnChannelEnded(evt.Channel.ID)

	case "ChannelDtmfReceived":
		if evt.Channel == nil {
			return
		}
		h.OnDTMF(evt.Channel.ID, evt.Digit)

	case "ChannelTalkingStarted":
		if evt.Channel == nil {
			return
		}
		h.OnTalkingStarted(evt.Channel.ID)

	case "ChannelTalkingFinished":
		if evt.Channel == nil {
			return
		}
		h.OnTalkingFinished(TalkingFinished{ChannelID: evt.Channel.ID, Duration: evt.Duration})

	case "PlaybackFinished":
		if evt.Playback == nil {
			return
		}
		h.OnPlaybackFinished(evt.Playback.ID)

	case "PlaybackFailed":
		if evt.Playback == nil {
			return
		}
		h.OnPlaybackFailed(evt.Playback.ID)
	}
}

// eventsURL derives the ws:// events endpoint from the REST base URL.
func (c *Client) eventsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("ari: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/events"
	q := url.Values{
		"app":          {c.app},
		"api_key":      {c.username + ":" + c.password},
		"subscribeAll": {"false"},
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
