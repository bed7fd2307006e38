package call

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/voxgate/voxgate/internal/cdr"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/convlog"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/rtp"
	"github.com/voxgate/voxgate/internal/tools"
	"github.com/voxgate/voxgate/internal/transcriber"
	"github.com/voxgate/voxgate/internal/tts"
	"github.com/voxgate/voxgate/pkg/ari"
	"github.com/voxgate/voxgate/pkg/realtime"
)

// PBX is the subset of ARI operations the orchestrator needs. Implemented
// by [ari.Client]; tests substitute a fake.
type PBX interface {
	Answer(ctx context.Context, channelID string) error
	Hangup(ctx context.Context, channelID string) error
	ContinueInDialplan(ctx context.Context, channelID string) error
	SetChannelVar(ctx context.Context, channelID, name, value string) error
	SetTalkDetect(ctx context.Context, channelID string, energy, silenceMs int) error
	RemoveTalkDetect(ctx context.Context, channelID string) error
	CreateExternalMediaChannel(ctx context.Context, host string, port int, codec string) (*ari.Channel, error)
	CreateListenerChannel(ctx context.Context, sourceChannelID string, spy ari.SpyDirection) (*ari.Channel, error)
	CreateMixerBridge(ctx context.Context) (*ari.Bridge, error)
	AddToBridge(ctx context.Context, bridgeID, channelID string) error
	DestroyBridge(ctx context.Context, bridgeID string) error
	Play(ctx context.Context, channelID, mediaRef string) (*ari.Playback, error)
	StopPlayback(ctx context.Context, playbackID string) error
}

// Registrar lets the call task register auxiliary PBX resources with the
// gateway so their events are routed back to this call.
type Registrar interface {
	ClaimChannel(channelID, callID string)
	RegisterPlayback(playbackID, callID string)
	UnregisterPlayback(playbackID string)
	ReleaseCall(callID string)
}

// SynthPipeline turns synthesized audio chunks into playable artifacts.
// Implemented by [tts.Pipeline].
type SynthPipeline interface {
	IngestChunk(responseID string, audio []byte) (string, error)
	EndOfResponse(responseID string) (string, error)
	AbandonResponse()
	Cleanup()
}

// Deps bundles everything a call task needs from the surrounding gateway.
// ConvLog, CDR, Transcriber and Metrics may be nil.
type Deps struct {
	Log       *slog.Logger
	PBX       PBX
	Provider  realtime.Provider
	Registrar Registrar
	Publisher Publisher

	ConvLog     *convlog.Store
	CDR         *cdr.Store
	Tools       *tools.Registry
	Transcriber *transcriber.Transcriber
	Metrics     *observe.Metrics

	RTPHost    string
	TTSMode    config.PlaybackMode
	SoundsRoot string

	// NewPipeline overrides TTS pipeline construction in tests.
	NewPipeline func(callID string) (SynthPipeline, error)
}

// turnAudioLimit caps the per-turn audio buffer handed to the fallback
// transcriber. 8 kHz µ-law is 8 KB/s, so this is several minutes.
const turnAudioLimit = 4 << 20

// msgBuffer sizes the task mailbox. Audio arrives at ~50 packets/s; the
// buffer absorbs scheduling hiccups without blocking the RTP reader.
const msgBuffer = 256

// Orchestrator runs one call. It is created by the gateway on StasisStart
// and owns every per-call resource until cleanup.
type Orchestrator struct {
	log  *slog.Logger
	deps Deps

	callID       string
	callerName   string
	callerNumber string

	ctx    context.Context
	cancel context.CancelFunc

	msgs chan message
	done chan struct{}

	// resources, owned by the task
	rtpRx      *rtp.Receiver
	extChannel string
	snoopChan  string
	bridgeID   string
	session    realtime.Session
	pipeline   SynthPipeline
	queue      *PlaybackQueue
	timers     *TimerSet
	dtmf       *DTMFCollector

	st callState

	// sessionStopRequested distinguishes our own Stop from a remote drop.
	sessionStopRequested bool

	// streamEnded is true once the current response's audio stream ended.
	streamEnded bool

	// staleResponseID marks an interrupted response whose remaining chunks
	// are discarded.
	staleResponseID string

	// turnHadCallerFinal suppresses the fallback transcriber.
	turnHadCallerFinal bool

	activatedAt    time.Time
	firstAudioSeen bool

	// settingsMu guards settings and the operator-facing info mirror, the
	// only call state read from outside the task.
	settingsMu sync.Mutex
	settings   Settings
	info       Info
}

// Info is the operator-facing snapshot of one call.
type Info struct {
	CallID       string    `json:"callId"`
	CallerName   string    `json:"callerName"`
	CallerNumber string    `json:"callerNumber"`
	State        string    `json:"state"`
	StartedAt    time.Time `json:"startedAt"`
	Turns        int       `json:"turns"`
}

// New creates the task for one inbound channel. Start must be called to
// begin processing.
func New(ch ari.Channel, settings Settings, deps Deps) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		log:          deps.Log.With("call_id", ch.ID),
		deps:         deps,
		callID:       ch.ID,
		callerName:   ch.Caller.Name,
		callerNumber: ch.Caller.Number,
		ctx:          ctx,
		cancel:       cancel,
		msgs:         make(chan message, msgBuffer),
		done:         make(chan struct{}),
		queue:        NewPlaybackQueue(),
		timers:       NewTimerSet(),
		settings:     settings,
	}
	o.dtmf = NewDTMFCollector(settings.DTMFMaxDigits, settings.DTMFTerminator)
	o.st.state = StateArming
	o.st.firstInteraction = true
	o.st.startedAt = time.Now()
	o.info = Info{
		CallID:       o.callID,
		CallerName:   o.callerName,
		CallerNumber: o.callerNumber,
		State:        string(StateArming),
		StartedAt:    o.st.startedAt,
	}
	return o
}

// CallID returns the caller channel ID, which doubles as the call ID.
func (o *Orchestrator) CallID() string { return o.callID }

// Done is closed when the call has been fully cleaned up.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Snapshot returns the operator-facing view of the call.
func (o *Orchestrator) Snapshot() Info {
	o.settingsMu.Lock()
	defer o.settingsMu.Unlock()
	return o.info
}

// ConfigSnapshot returns a copy of the call's effective settings.
func (o *Orchestrator) ConfigSnapshot() Settings {
	o.settingsMu.Lock()
	defer o.settingsMu.Unlock()
	return o.settings
}

// Start launches the task goroutine and begins call setup.
func (o *Orchestrator) Start() {
	go o.run()
	o.post(message{kind: msgStart})
}

// ── posting (any goroutine) ───────────────────────────────────────────────────

// post delivers a message to the task, dropping it if the call is done.
func (o *Orchestrator) post(m message) {
	select {
	case o.msgs <- m:
	case <-o.done:
	}
}

// postAudio delivers caller audio, dropping the packet when the mailbox is
// full. Audio is the only message kind that may be shed.
func (o *Orchestrator) postAudio(payload []byte) {
	select {
	case o.msgs <- message{kind: msgAudio, audio: payload}:
	case <-o.done:
	default:
	}
}

func (o *Orchestrator) PostDTMF(digit string)          { o.post(message{kind: msgDTMF, digit: digit}) }
func (o *Orchestrator) PostTalkingStarted()            { o.post(message{kind: msgTalkStarted}) }
func (o *Orchestrator) PostTalkingFinished()           { o.post(message{kind: msgTalkFinished}) }
func (o *Orchestrator) PostChannelEnded()              { o.post(message{kind: msgChannelEnded}) }
func (o *Orchestrator) PostUpdate(u *SessionUpdate)    { o.post(message{kind: msgUpdate, update: u}) }
func (o *Orchestrator) PostCleanup(reason string)      { o.post(message{kind: msgCleanup, reason: reason}) }
func (o *Orchestrator) PostPlaybackFinished(id string) { o.post(message{kind: msgPlaybackFinished, playbackID: id}) }
func (o *Orchestrator) PostPlaybackFailed(id string)   { o.post(message{kind: msgPlaybackFailed, playbackID: id}) }

// ── the task ──────────────────────────────────────────────────────────────────

func (o *Orchestrator) run() {
	defer close(o.done)

	for m := range o.msgs {
		o.handle(m)
		if o.st.cleanupCalled {
			return
		}
	}
}

func (o *Orchestrator) handle(m message) {
	switch m.kind {
	case msgStart:
		o.start()
	case msgAudio:
		o.onAudio(m.audio)
	case msgDTMF:
		o.onDTMF(m.digit)
	case msgTalkStarted:
		o.onTalkingStarted()
	case msgTalkFinished:
		o.publish(EventVADSpeechEnd, nil, "debug")
	case msgPlaybackFinished:
		o.onPlaybackFinished(m.playbackID)
	case msgPlaybackFailed:
		o.onPlaybackFailed(m.playbackID)
	case msgChannelEnded:
		o.cleanup(ReasonChannelEnded)
	case msgSession:
		o.onSessionEvent(m.sess)
	case msgTimer:
		o.onTimer(m.timer)
	case msgUpdate:
		o.onUpdate(m.update)
	case msgCleanup:
		o.cleanup(m.reason)
	}
}

// start answers the channel, builds the media path and kicks off the
// greeting and the first recognition turn.
func (o *Orchestrator) start() {
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordCallStarted(o.ctx)
	}
	o.publish(EventCallStasisStart, map[string]any{
		"callerName":   o.callerName,
		"callerNumber": o.callerNumber,
	}, "info")

	if err := o.deps.PBX.Answer(o.ctx, o.callID); err != nil {
		o.log.Error("answer failed", "error", err)
		o.cleanup(ReasonStasisStartError)
		return
	}
	o.st.answeredAt = time.Now()
	o.publish(EventCallAnswered, nil, "info")
	o.record(convlog.Entry{Actor: convlog.ActorSystem, Type: "call_answered"})

	if err := o.initResources(); err != nil {
		o.log.Error("resource setup failed", "error", err)
		o.cleanup(ReasonStasisStartError)
		return
	}
	o.publish(EventCallResourcesInitialized, map[string]any{
		"rtpPort": o.rtpRx.Port(),
	}, "info")

	greeting := o.settings.Greeting
	if greeting != "" {
		o.setState(StateGreeting)
		o.enqueuePlayback(PlaybackItem{MediaRef: greeting})
	} else {
		o.setState(StateListening)
	}
	o.startRecognition()
}

// initResources builds the per-call media path: an RTP receiver, an
// external-media channel pointed at it, a snoop channel on the caller's
// inbound leg, and a mixing bridge joining the two.
func (o *Orchestrator) initResources() error {
	rx, err := rtp.Listen(o.deps.RTPHost, func(payload []byte, _ *net.UDPAddr) {
		o.postAudio(payload)
	})
	if err != nil {
		return err
	}
	o.rtpRx = rx

	ext, err := o.deps.PBX.CreateExternalMediaChannel(o.ctx, o.deps.RTPHost, rx.Port(), pbxFormat(o.settings.InputCodec))
	if err != nil {
		return err
	}
	o.extChannel = ext.ID
	o.deps.Registrar.ClaimChannel(ext.ID, o.callID)

	snoop, err := o.deps.PBX.CreateListenerChannel(o.ctx, o.callID, ari.SpyIn)
	if err != nil {
		return err
	}
	o.snoopChan = snoop.ID
	o.deps.Registrar.ClaimChannel(snoop.ID, o.callID)

	bridge, err := o.deps.PBX.CreateMixerBridge(o.ctx)
	if err != nil {
		return err
	}
	o.bridgeID = bridge.ID
	if err := o.deps.PBX.AddToBridge(o.ctx, bridge.ID, ext.ID); err != nil {
		return err
	}
	if err := o.deps.PBX.AddToBridge(o.ctx, bridge.ID, snoop.ID); err != nil {
		return err
	}

	if o.deps.NewPipeline != nil {
		o.pipeline, err = o.deps.NewPipeline(o.callID)
	} else {
		o.pipeline, err = tts.NewPipeline(o.log, o.deps.TTSMode, o.deps.SoundsRoot,
			o.settings.OutputCodec, o.settings.SampleRate, o.callID)
	}
	return err
}

// ── caller audio ──────────────────────────────────────────────────────────────

func (o *Orchestrator) onAudio(payload []byte) {
	if o.st.dtmfMode {
		return
	}

	if o.st.turnAudio.Len() < turnAudioLimit {
		o.st.turnAudio.Write(payload)
	}

	if o.st.sessionActive {
		if err := o.session.SendAudio(payload); err != nil {
			o.log.Warn("audio send failed", "error", err)
		}
		return
	}

	// Held locally until the session is activated, then flushed in order.
	if len(o.st.vadBuffer) < turnAudioLimit/160 {
		o.st.vadBuffer = append(o.st.vadBuffer, payload)
	}
}

// ── session events ────────────────────────────────────────────────────────────

func (o *Orchestrator) onSessionEvent(ev realtime.Event) {
	o.timers.Cancel(TimerInitialStreamIdle)

	switch ev.Kind {
	case realtime.KindSpeechStarted:
		o.publish(EventSpeechStarted, nil, "debug")
		o.timers.Cancel(TimerNoSpeechBegin)
		if o.settings.SpeechEndSilence > 0 {
			o.setTimer(TimerSpeechEndSilence, o.settings.SpeechEndSilence)
		}
		o.bargeIn("speech_started")

	case realtime.KindInterimTranscript:
		o.publish(EventInterimTranscript, map[string]any{"text": ev.Text}, "debug")
		if o.st.promptPlaying {
			o.st.promptPlaybackStoppedForInterim = true
			o.bargeIn("interim_transcript")
		}

	case realtime.KindFinalTranscript:
		o.publish(EventFinalTranscript, map[string]any{
			"text": ev.Text,
			"role": string(ev.Role),
		}, "info")
		actor := convlog.ActorBot
		if ev.Role == realtime.RoleCaller {
			actor = convlog.ActorCaller
			o.turnHadCallerFinal = true
			o.timers.Cancel(TimerSpeechEndSilence)
		}
		o.record(convlog.Entry{Actor: actor, Type: "final_transcript", Content: ev.Text})

	case realtime.KindAudioChunk:
		o.onAudioChunk(ev)

	case realtime.KindAudioStreamEnd:
		o.onAudioStreamEnd(ev)

	case realtime.KindToolCall:
		o.onToolCall(ev)

	case realtime.KindSessionError:
		o.log.Error("session error", "error", ev.Err)
		o.publish(EventStreamError, map[string]any{"error": ev.Err.Error()}, "error")
		o.record(convlog.Entry{Actor: convlog.ActorError, Type: "session_error", Content: ev.Err.Error()})
		if o.deps.Metrics != nil {
			o.deps.Metrics.SessionErrors.Add(o.ctx, 1)
		}

	case realtime.KindSessionEnded:
		o.st.sessionActive = false
		o.session = nil
		if !o.sessionStopRequested {
			o.log.Warn("session ended unexpectedly", "reason", ev.Reason)
			o.cleanup(ReasonStreamError)
		}
	}
}

func (o *Orchestrator) onAudioChunk(ev realtime.Event) {
	if ev.ResponseID == o.staleResponseID && o.staleResponseID != "" {
		return
	}
	if o.st.currentResponseID == "" {
		o.st.currentResponseID = ev.ResponseID
		o.streamEnded = false
	} else if ev.ResponseID != o.st.currentResponseID {
		return
	}

	if !o.firstAudioSeen {
		o.firstAudioSeen = true
		if o.deps.Metrics != nil {
			o.deps.Metrics.FirstResponseDelay.Record(o.ctx, time.Since(o.activatedAt).Seconds())
		}
	}

	ref, err := o.pipeline.IngestChunk(ev.ResponseID, ev.Audio)
	if err != nil {
		o.log.Error("tts chunk write failed", "error", err)
		return
	}
	o.st.overallTTSActive = true
	o.setState(StateSpeaking)
	o.publish(EventTTSChunkQueued, map[string]any{
		"responseId": ev.ResponseID,
		"bytes":      len(ev.Audio),
	}, "debug")
	if ref != "" {
		o.enqueuePlayback(PlaybackItem{MediaRef: ref, ResponseID: ev.ResponseID})
	}
}

func (o *Orchestrator) onAudioStreamEnd(ev realtime.Event) {
	if ev.ResponseID == o.staleResponseID && o.staleResponseID != "" {
		return
	}
	if o.st.currentResponseID != "" && ev.ResponseID != o.st.currentResponseID {
		return
	}

	ref, err := o.pipeline.EndOfResponse(ev.ResponseID)
	if err != nil {
		o.log.Error("tts finalize failed", "error", err)
	}
	if ref != "" {
		o.st.overallTTSActive = true
		o.setState(StateSpeaking)
		o.enqueuePlayback(PlaybackItem{MediaRef: ref, ResponseID: ev.ResponseID})
	}
	o.streamEnded = true
	o.publish(EventTTSStreamEnded, map[string]any{"responseId": ev.ResponseID}, "debug")

	if !o.queue.Playing() {
		o.onResponseComplete()
	}
}

func (o *Orchestrator) onToolCall(ev realtime.Event) {
	o.record(convlog.Entry{
		Actor:    convlog.ActorToolCall,
		Type:     "tool_call",
		Content:  ev.ToolArgs,
		ToolName: ev.ToolName,
	})

	res := o.deps.Tools.Execute(o.ctx, o.callID, ev.ToolName, ev.ToolArgs)
	status := "ok"
	if res.Hangup {
		status = "hangup"
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordToolCall(o.ctx, ev.ToolName, status)
	}
	o.record(convlog.Entry{
		Actor:    convlog.ActorToolResponse,
		Type:     "tool_response",
		Content:  res.Output,
		ToolName: ev.ToolName,
	})

	if o.st.sessionActive {
		if err := o.session.SendToolResult(ev.ToolCallID, res.Output); err != nil {
			o.log.Warn("tool result send failed", "tool", ev.ToolName, "error", err)
		}
	}
	if res.Hangup {
		o.cleanup(ReasonToolHangup)
	}
}

// onResponseComplete marks the end of one bot turn: playback drained and
// the audio stream ended.
func (o *Orchestrator) onResponseComplete() {
	o.st.overallTTSActive = false
	o.st.promptPlaying = false
	o.st.promptPlaybackStoppedForInterim = false
	o.st.currentResponseID = ""
	o.streamEnded = false
	o.bumpTurn()
	o.st.firstInteraction = false
	o.setState(StateListening)

	o.maybeTranscribeTurn()
	o.st.turnAudio.Reset()
	o.turnHadCallerFinal = false

	// The session stays open across turns; re-arm the silence watchdog for
	// the caller's next utterance.
	if o.st.sessionActive && o.settings.NoSpeechBeginTimeout > 0 {
		o.setTimer(TimerNoSpeechBegin, o.settings.NoSpeechBeginTimeout)
	}
}

// maybeTranscribeTurn hands the turn's buffered caller audio to the
// fallback transcriber when the session produced no caller transcript.
func (o *Orchestrator) maybeTranscribeTurn() {
	if o.turnHadCallerFinal || !o.deps.Transcriber.Enabled() || o.st.turnAudio.Len() == 0 {
		return
	}

	audio := make([]byte, o.st.turnAudio.Len())
	copy(audio, o.st.turnAudio.Bytes())
	turnTS := time.Now().UTC().Format(time.RFC3339Nano)
	sampleRate := o.settings.SampleRate
	callID := o.callID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		text, err := o.deps.Transcriber.TranscribeULaw(ctx, audio, sampleRate)
		if err != nil {
			o.log.Warn("fallback transcription failed", "error", err)
			return
		}
		if text == "" {
			return
		}
		o.deps.ConvLog.Append(ctx, convlog.Entry{
			Actor:                 convlog.ActorSystem,
			Type:                  "fallback_transcript",
			Content:               text,
			CallID:                callID,
			OriginalTurnTimestamp: turnTS,
		})
	}()
}

// ── playback ──────────────────────────────────────────────────────────────────

// enqueuePlayback adds an item and starts the head when nothing is playing.
func (o *Orchestrator) enqueuePlayback(item PlaybackItem) {
	if o.queue.Enqueue(item) {
		o.startHeadPlayback()
	}
}

// startHeadPlayback starts the queue head, skipping over items the PBX
// rejects.
func (o *Orchestrator) startHeadPlayback() {
	for {
		item := o.queue.Head()
		pb, err := o.deps.PBX.Play(o.ctx, o.callID, item.MediaRef)
		if err != nil {
			o.log.Warn("playback start failed", "media", item.MediaRef, "error", err)
			o.publish(EventPlaybackFailed, map[string]any{"media": item.MediaRef}, "error")
			if o.deps.Metrics != nil {
				o.deps.Metrics.PlaybackFailures.Add(o.ctx, 1)
			}
			next, drained := o.queue.Finished()
			if drained {
				o.onQueueDrained()
				return
			}
			if !next {
				return
			}
			continue
		}
		o.queue.Started(pb.ID)
		o.deps.Registrar.RegisterPlayback(pb.ID, o.callID)
		o.st.promptPlaying = true
		o.publish(EventPlaybackStarted, map[string]any{
			"playbackId": pb.ID,
			"media":      item.MediaRef,
		}, "debug")
		return
	}
}

func (o *Orchestrator) onPlaybackFinished(playbackID string) {
	o.deps.Registrar.UnregisterPlayback(playbackID)
	if o.queue.Handle() != playbackID {
		// Interrupted earlier; the stop raced the natural end.
		return
	}
	next, drained := o.queue.Finished()
	if next {
		o.startHeadPlayback()
	}
	if drained {
		o.onQueueDrained()
	}
}

func (o *Orchestrator) onPlaybackFailed(playbackID string) {
	if o.queue.Handle() == playbackID {
		o.publish(EventPlaybackFailed, map[string]any{"playbackId": playbackID}, "error")
		if o.deps.Metrics != nil {
			o.deps.Metrics.PlaybackFailures.Add(o.ctx, 1)
		}
	}
	// Failure schedules like success: move on to the next item.
	o.onPlaybackFinished(playbackID)
}

// onQueueDrained runs when the last queued playback finished.
func (o *Orchestrator) onQueueDrained() {
	o.st.promptPlaying = false

	if o.st.overallTTSActive {
		if o.streamEnded {
			o.onResponseComplete()
		}
		// Otherwise the model is still synthesizing; more chunks will come.
		return
	}

	// The greeting (or another non-response prompt) finished.
	o.setState(StateListening)
	o.afterPromptFinished()
}

// bargeIn stops any active playback because the caller started speaking.
// The interrupted event is only published when a model response was
// actually cut off, not for the greeting.
func (o *Orchestrator) bargeIn(cause string) {
	if !o.queue.Playing() && !o.st.overallTTSActive {
		return
	}

	wasResponse := o.st.overallTTSActive
	handle := o.queue.Interrupt()
	if handle != "" {
		if err := o.deps.PBX.StopPlayback(o.ctx, handle); err != nil && !errors.Is(err, ari.ErrNotFound) {
			o.log.Warn("stop playback failed", "error", err)
		}
		o.deps.Registrar.UnregisterPlayback(handle)
	}

	if wasResponse {
		o.publish(EventTTSPlaybackInterrupted, map[string]any{"cause": cause}, "info")
		o.pipeline.AbandonResponse()
		o.staleResponseID = o.st.currentResponseID
		o.st.currentResponseID = ""
	}
	o.st.overallTTSActive = false
	o.streamEnded = false
	o.st.promptPlaying = false
	o.setState(StateListening)
}

// ── operator updates ──────────────────────────────────────────────────────────

func (o *Orchestrator) onUpdate(u *SessionUpdate) {
	if u == nil {
		return
	}
	o.settingsMu.Lock()
	u.Apply(&o.settings)
	o.settingsMu.Unlock()
	o.log.Info("session settings updated")
	o.record(convlog.Entry{Actor: convlog.ActorSystem, Type: "session_update_applied"})
}

// ── cleanup ───────────────────────────────────────────────────────────────────

// cleanup tears down every per-call resource exactly once and decides the
// channel's disposition. Resources that are already gone are not errors.
func (o *Orchestrator) cleanup(reason string) {
	if o.st.cleanupCalled {
		return
	}
	o.st.cleanupCalled = true
	o.st.endReason = reason
	o.setState(StateEnding)

	o.publish(EventCleanupStarted, map[string]any{"reason": reason}, "info")
	o.timers.CancelAll()

	if o.session != nil {
		o.sessionStopRequested = true
		if err := o.session.Stop(reason); err != nil {
			o.log.Warn("session stop failed", "error", err)
		}
		o.session = nil
		o.st.sessionActive = false
	}

	if handle := o.queue.Interrupt(); handle != "" {
		if err := o.deps.PBX.StopPlayback(o.ctx, handle); err != nil && !errors.Is(err, ari.ErrNotFound) {
			o.log.Warn("stop playback failed", "error", err)
		}
		o.deps.Registrar.UnregisterPlayback(handle)
	}

	if o.st.talkDetectOn {
		if err := o.deps.PBX.RemoveTalkDetect(o.ctx, o.callID); err != nil && !errors.Is(err, ari.ErrNotFound) {
			o.log.Warn("talk detect removal failed", "error", err)
		}
	}

	if o.rtpRx != nil {
		o.rtpRx.Stop()
	}
	if o.pipeline != nil {
		o.pipeline.Cleanup()
	}

	if o.bridgeID != "" {
		if err := o.deps.PBX.DestroyBridge(o.ctx, o.bridgeID); err != nil && !errors.Is(err, ari.ErrNotFound) {
			o.log.Warn("bridge destroy failed", "error", err)
		}
	}
	for _, ch := range []string{o.extChannel, o.snoopChan} {
		if ch == "" {
			continue
		}
		if err := o.deps.PBX.Hangup(o.ctx, ch); err != nil && !errors.Is(err, ari.ErrNotFound) {
			o.log.Warn("auxiliary channel hangup failed", "channel", ch, "error", err)
		}
	}

	o.disposition(reason)

	o.record(convlog.Entry{Actor: convlog.ActorSystem, Type: "call_ended", Content: reason})
	if o.deps.CDR != nil {
		o.deps.CDR.Write(o.ctx, cdr.Record{
			CallID:       o.callID,
			CallerName:   o.callerName,
			CallerNumber: o.callerNumber,
			StartedAt:    o.st.startedAt,
			EndedAt:      time.Now(),
			Turns:        o.st.turns,
			DTMFResult:   o.st.dtmfResult,
			EndReason:    reason,
		})
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordCallEnded(o.ctx, reason, time.Since(o.st.startedAt))
	}
	if o.deps.Tools != nil {
		o.deps.Tools.Forget(o.callID)
	}

	o.publish(EventCleanupCompleted, map[string]any{"reason": reason}, "info")
	o.deps.Registrar.ReleaseCall(o.callID)
	o.cancel()
}

// disposition returns the caller channel to the dialplan or hangs it up,
// depending on why the call ended.
func (o *Orchestrator) disposition(reason string) {
	switch reason {
	case ReasonChannelEnded:
		// Channel is already gone.
	case ReasonToolHangup, ReasonShutdown:
		if err := o.deps.PBX.Hangup(o.ctx, o.callID); err != nil && !errors.Is(err, ari.ErrNotFound) {
			o.log.Warn("hangup failed", "error", err)
		}
	default:
		// Fatal gateway reasons and DTMF finalization hand the channel back
		// so the dialplan can react (e.g. read DTMF_RESULT or play a
		// fallback message).
		if err := o.deps.PBX.ContinueInDialplan(o.ctx, o.callID); err != nil && !errors.Is(err, ari.ErrNotFound) {
			o.log.Warn("continue in dialplan failed", "error", err)
			if err := o.deps.PBX.Hangup(o.ctx, o.callID); err != nil && !errors.Is(err, ari.ErrNotFound) {
				o.log.Warn("hangup failed", "error", err)
			}
		}
	}
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (o *Orchestrator) setState(s State) {
	o.st.state = s
	o.settingsMu.Lock()
	o.info.State = string(s)
	o.settingsMu.Unlock()
}

func (o *Orchestrator) bumpTurn() {
	o.st.turns++
	o.settingsMu.Lock()
	o.info.Turns = o.st.turns
	o.settingsMu.Unlock()
}

// setTimer arms a named timer whose expiry is posted back to the task.
func (o *Orchestrator) setTimer(name TimerName, d time.Duration) {
	o.timers.Set(name, d, func() {
		o.post(message{kind: msgTimer, timer: name})
	})
}

func (o *Orchestrator) publish(eventType string, payload map[string]any, level string) {
	if o.deps.Publisher != nil {
		o.deps.Publisher.Publish(eventType, o.callID, "gateway", payload, level)
	}
}

func (o *Orchestrator) record(e convlog.Entry) {
	e.CallID = o.callID
	o.deps.ConvLog.Append(o.ctx, e)
}

// pbxFormat maps a session codec name to the PBX media format name.
func pbxFormat(codec string) string {
	switch codec {
	case "g711_ulaw", "ulaw", "":
		return "ulaw"
	case "g711_alaw", "alaw":
		return "alaw"
	case "pcm16", "slin":
		return "slin"
	default:
		return "ulaw"
	}
}
