package call

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/convlog"
	"github.com/voxgate/voxgate/pkg/ari"
)

// Gateway owns every live call and routes PBX events to the task that owns
// the affected resource. It implements [ari.Handler] for the event socket
// and the operator-facing operations the front-end server exposes.
type Gateway struct {
	log  *slog.Logger
	cfg  *config.Config
	deps Deps

	mu        sync.Mutex
	calls     map[string]*Orchestrator // caller channel ID -> task
	owned     map[string]string        // aux channel ID -> call ID
	playbacks map[string]string        // playback ID -> call ID
	primary   string                   // default call for operator commands
}

// Compile-time interface checks.
var (
	_ ari.Handler = (*Gateway)(nil)
	_ Registrar   = (*Gateway)(nil)
)

// NewGateway creates the gateway. deps.Registrar is overwritten with the
// gateway itself.
func NewGateway(cfg *config.Config, deps Deps) *Gateway {
	g := &Gateway{
		log:       deps.Log,
		cfg:       cfg,
		calls:     make(map[string]*Orchestrator),
		owned:     make(map[string]string),
		playbacks: make(map[string]string),
	}
	deps.Registrar = g
	g.deps = deps
	return g
}

// ── ari.Handler ───────────────────────────────────────────────────────────────

// OnStasisStart admits a new caller, or absorbs the gateway's own
// external-media and snoop channels entering the application.
func (g *Gateway) OnStasisStart(ev ari.StasisStart) {
	g.mu.Lock()
	if _, aux := g.owned[ev.Channel.ID]; aux || isAuxChannelName(ev.Channel.Name) {
		g.mu.Unlock()
		return
	}
	if _, dup := g.calls[ev.Channel.ID]; dup {
		g.mu.Unlock()
		return
	}

	settings := SettingsFromConfig(g.cfg, g.deps.Tools.Definitions())
	o := New(ev.Channel, settings, g.deps)
	g.calls[ev.Channel.ID] = o
	g.primary = ev.Channel.ID
	g.mu.Unlock()

	g.log.Info("call admitted", "call_id", ev.Channel.ID, "caller", ev.Channel.Caller.Number)
	o.Start()
}

func (g *Gateway) OnChannelEnded(channelID string) {
	g.mu.Lock()
	o := g.calls[channelID]
	delete(g.owned, channelID)
	g.mu.Unlock()

	if o != nil {
		o.PostChannelEnded()
	}
}

func (g *Gateway) OnDTMF(channelID, digit string) {
	if o := g.callFor(channelID); o != nil {
		o.PostDTMF(digit)
	}
}

func (g *Gateway) OnTalkingStarted(channelID string) {
	if o := g.callFor(channelID); o != nil {
		o.PostTalkingStarted()
	}
}

func (g *Gateway) OnTalkingFinished(ev ari.TalkingFinished) {
	if o := g.callFor(ev.ChannelID); o != nil {
		o.PostTalkingFinished()
	}
}

func (g *Gateway) OnPlaybackFinished(playbackID string) {
	if o := g.playbackOwner(playbackID); o != nil {
		o.PostPlaybackFinished(playbackID)
	}
}

func (g *Gateway) OnPlaybackFailed(playbackID string) {
	if o := g.playbackOwner(playbackID); o != nil {
		o.PostPlaybackFailed(playbackID)
	}
}

func (g *Gateway) OnConnectionLost(err error) {
	if g.deps.Publisher != nil {
		g.deps.Publisher.Publish(EventARIConnectionStatus, "", "gateway",
			map[string]any{"connected": false, "error": err.Error()}, "error")
	}
}

// ── Registrar ─────────────────────────────────────────────────────────────────

func (g *Gateway) ClaimChannel(channelID, callID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.owned[channelID] = callID
}

func (g *Gateway) RegisterPlayback(playbackID, callID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.playbacks[playbackID] = callID
}

func (g *Gateway) UnregisterPlayback(playbackID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.playbacks, playbackID)
}

// ReleaseCall drops every registry entry belonging to the finished call.
func (g *Gateway) ReleaseCall(callID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.calls, callID)
	for ch, owner := range g.owned {
		if owner == callID {
			delete(g.owned, ch)
		}
	}
	for pb, owner := range g.playbacks {
		if owner == callID {
			delete(g.playbacks, pb)
		}
	}
	if g.primary == callID {
		g.primary = ""
		for id := range g.calls {
			g.primary = id
			break
		}
	}
}

// ── operator operations ───────────────────────────────────────────────────────

// ActiveCalls returns a snapshot of every live call.
func (g *Gateway) ActiveCalls() []Info {
	g.mu.Lock()
	defer g.mu.Unlock()

	infos := make([]Info, 0, len(g.calls))
	for _, o := range g.calls {
		infos = append(infos, o.Snapshot())
	}
	return infos
}

// ApplySessionUpdate overlays a partial configuration onto the targeted
// call. An empty callID targets the primary (most recent) call.
func (g *Gateway) ApplySessionUpdate(callID string, u *SessionUpdate) error {
	o, err := g.resolve(callID)
	if err != nil {
		return err
	}
	o.PostUpdate(u)
	return nil
}

// CallConfiguration returns the targeted call's effective settings.
func (g *Gateway) CallConfiguration(callID string) (Settings, error) {
	o, err := g.resolve(callID)
	if err != nil {
		return Settings{}, err
	}
	return o.ConfigSnapshot(), nil
}

// ConversationHistory returns the targeted call's conversation log.
func (g *Gateway) ConversationHistory(ctx context.Context, callID string) ([]convlog.Entry, error) {
	o, err := g.resolve(callID)
	if err != nil {
		return nil, err
	}
	return g.deps.ConvLog.History(ctx, o.CallID())
}

// Shutdown asks every live call to clean up and waits for them, bounded by
// ctx.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.mu.Lock()
	active := make([]*Orchestrator, 0, len(g.calls))
	for _, o := range g.calls {
		active = append(active, o)
	}
	g.mu.Unlock()

	for _, o := range active {
		o.PostCleanup(ReasonShutdown)
	}
	for _, o := range active {
		select {
		case <-o.Done():
		case <-ctx.Done():
			return
		}
	}
}

// ── internals ─────────────────────────────────────────────────────────────────

func (g *Gateway) callFor(channelID string) *Orchestrator {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[channelID]
}

func (g *Gateway) playbackOwner(playbackID string) *Orchestrator {
	g.mu.Lock()
	defer g.mu.Unlock()
	if callID, ok := g.playbacks[playbackID]; ok {
		return g.calls[callID]
	}
	return nil
}

func (g *Gateway) resolve(callID string) (*Orchestrator, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if callID == "" {
		callID = g.primary
	}
	o, ok := g.calls[callID]
	if !ok {
		return nil, fmt.Errorf("no active call %q", callID)
	}
	return o, nil
}

// isAuxChannelName recognizes the gateway's own media channels by the names
// the PBX assigns them, covering the window between channel creation and
// the claim registration.
func isAuxChannelName(name string) bool {
	return strings.HasPrefix(name, "UnicastRTP/") || strings.HasPrefix(name, "Snoop/")
}
