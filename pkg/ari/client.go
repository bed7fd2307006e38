// Package ari is the PBX control adapter: a client for the Asterisk REST
// Interface plus its event WebSocket.
//
// The client translates orchestrator intents (answer, bridge, play, talk
// detection, channel variables) into ARI REST calls and surfaces PBX events
// through the [Handler] interface. It exposes exactly the operations the
// call orchestrator needs and nothing else.
package ari

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the PBX reports 404 for a resource. During
// cleanup callers absorb it: a channel or playback that is already gone is
// as good as one that was destroyed.
var ErrNotFound = errors.New("ari: not found")

const defaultHTTPTimeout = 10 * time.Second

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for REST calls. Primarily
// used in tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client talks to one Asterisk instance over ARI.
type Client struct {
	baseURL  string // e.g. http://127.0.0.1:8088/ari
	username string
	password string
	app      string

	http *http.Client
}

// NewClient creates an ARI client for the named Stasis application.
func NewClient(baseURL, username, password, app string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		app:      app,
		http:     &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// App returns the Stasis application name this client is bound to.
func (c *Client) App() string { return c.app }

// ── Channel operations ────────────────────────────────────────────────────────

// Answer answers the channel.
func (c *Client) Answer(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/answer", nil, nil)
}

// Hangup terminates the channel.
func (c *Client) Hangup(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+url.PathEscape(channelID), nil, nil)
}

// ContinueInDialplan returns the channel to the dialplan so the PBX can play
// a fallback message after a fatal gateway error.
func (c *Client) ContinueInDialplan(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/continue", nil, nil)
}

// SetChannelVar sets a channel variable (e.g. DTMF_RESULT).
func (c *Client) SetChannelVar(ctx context.Context, channelID, name, value string) error {
	q := url.Values{"variable": {name}, "value": {value}}
	return c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/variable?"+q.Encode(), nil, nil)
}

// SetTalkDetect enables PBX talk detection on the channel. energy is the
// talking threshold in PBX energy units; silenceMs is the silence duration
// that ends a talking burst.
func (c *Client) SetTalkDetect(ctx context.Context, channelID string, energy, silenceMs int) error {
	value := strconv.Itoa(silenceMs) + "," + strconv.Itoa(energy)
	q := url.Values{"variable": {"TALK_DETECT(set)"}, "value": {value}}
	return c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/variable?"+q.Encode(), nil, nil)
}

// RemoveTalkDetect disables PBX talk detection on the channel.
func (c *Client) RemoveTalkDetect(ctx context.Context, channelID string) error {
	q := url.Values{"variable": {"TALK_DETECT(remove)"}, "value": {""}}
	return c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/variable?"+q.Encode(), nil, nil)
}

// CreateExternalMediaChannel creates the media-injection endpoint: a channel
// whose audio the PBX sends as RTP to host:port in the given codec. The
// channel ID is assigned client-side so the caller can correlate the
// channel's Stasis entry before the create call returns.
func (c *Client) CreateExternalMediaChannel(ctx context.Context, host string, port int, codec string) (*Channel, error) {
	q := url.Values{
		"channelId":       {uuid.NewString()},
		"app":             {c.app},
		"external_host":   {host + ":" + strconv.Itoa(port)},
		"format":          {codec},
		"encapsulation":   {"rtp"},
		"transport":       {"udp"},
		"connection_type": {"client"},
		"direction":       {"both"},
	}
	var ch Channel
	if err := c.do(ctx, http.MethodPost, "/channels/externalMedia?"+q.Encode(), nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// CreateListenerChannel creates a one-way snoop channel spying on source.
// The snoop ID is assigned client-side, like the external media channel ID.
func (c *Client) CreateListenerChannel(ctx context.Context, sourceChannelID string, spy SpyDirection) (*Channel, error) {
	q := url.Values{
		"snoopId": {uuid.NewString()},
		"app":     {c.app},
		"spy":     {string(spy)},
		"whisper": {"none"},
	}
	var ch Channel
	path := "/channels/" + url.PathEscape(sourceChannelID) + "/snoop?" + q.Encode()
	if err := c.do(ctx, http.MethodPost, path, nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// ── Bridge operations ─────────────────────────────────────────────────────────

// CreateMixerBridge creates a mixing bridge.
func (c *Client) CreateMixerBridge(ctx context.Context) (*Bridge, error) {
	q := url.Values{"type": {"mixing"}}
	var b Bridge
	if err := c.do(ctx, http.MethodPost, "/bridges?"+q.Encode(), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// AddToBridge adds a channel to a bridge.
func (c *Client) AddToBridge(ctx context.Context, bridgeID, channelID string) error {
	q := url.Values{"channel": {channelID}}
	return c.do(ctx, http.MethodPost, "/bridges/"+url.PathEscape(bridgeID)+"/addChannel?"+q.Encode(), nil, nil)
}

// DestroyBridge shuts down a bridge.
func (c *Client) DestroyBridge(ctx context.Context, bridgeID string) error {
	return c.do(ctx, http.MethodDelete, "/bridges/"+url.PathEscape(bridgeID), nil, nil)
}

// ── Playback operations ───────────────────────────────────────────────────────

// Play starts playback of a media reference (e.g. "sound:hello") on the
// channel and returns the playback handle.
func (c *Client) Play(ctx context.Context, channelID, mediaRef string) (*Playback, error) {
	q := url.Values{"media": {mediaRef}}
	var pb Playback
	path := "/channels/" + url.PathEscape(channelID) + "/play?" + q.Encode()
	if err := c.do(ctx, http.MethodPost, path, nil, &pb); err != nil {
		return nil, err
	}
	return &pb, nil
}

// StopPlayback stops a playback by handle.
func (c *Client) StopPlayback(ctx context.Context, playbackID string) error {
	return c.do(ctx, http.MethodDelete, "/playbacks/"+url.PathEscape(playbackID), nil, nil)
}

// ── Connectivity ──────────────────────────────────────────────────────────────

// Ping verifies REST connectivity by fetching the Asterisk info resource.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/asterisk/info", nil, nil)
}

// ── HTTP plumbing ─────────────────────────────────────────────────────────────

// do issues one REST call. A 404 response maps to [ErrNotFound]; other
// non-2xx responses are returned as errors carrying the response body.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("ari: build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ari: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("ari: %s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ari: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("ari: decode response: %w", err)
		}
	}
	return nil
}
