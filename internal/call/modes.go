package call

import (
	"errors"
	"time"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/convlog"
	"github.com/voxgate/voxgate/pkg/ari"
	"github.com/voxgate/voxgate/pkg/realtime"
)

// effectiveMode returns the recognition-activation mode for the current
// turn, honoring the first-interaction override.
func (o *Orchestrator) effectiveMode() config.RecognitionMode {
	if o.st.firstInteraction && o.settings.FirstInteractionMode != "" {
		return o.settings.FirstInteractionMode
	}
	return o.settings.Mode
}

// startRecognition schedules session activation for the turn that just
// began.
func (o *Orchestrator) startRecognition() {
	switch o.effectiveMode() {
	case config.RecognitionImmediate:
		o.activateSession()

	case config.RecognitionFixedDelay:
		if o.settings.BargeInDelay <= 0 {
			o.activateSession()
			return
		}
		o.setTimer(TimerBargeInActivation, o.settings.BargeInDelay)

	case config.RecognitionVAD:
		if err := o.deps.PBX.SetTalkDetect(o.ctx, o.callID,
			o.settings.VADTalkThreshold, int(o.settings.VADSilenceThreshold/time.Millisecond)); err != nil {
			o.log.Error("talk detect setup failed", "error", err)
			o.cleanup(ReasonTalkDetectSetup)
			return
		}
		o.st.talkDetectOn = true

		if o.settings.VADActivation == config.VADActivationVadMode && o.settings.VADInitialSilence > 0 {
			o.st.vadDelayWindowOpen = true
			o.st.vadSpeechSeen = false
			o.setTimer(TimerVADInitialSilence, o.settings.VADInitialSilence)
		}
		// afterPrompt waits for the greeting to finish; see
		// afterPromptFinished.
	}
}

// afterPromptFinished runs when a non-response prompt (the greeting)
// drained while no session is active yet. In afterPrompt VAD activation
// this is the point where remembered barge-in speech takes effect.
func (o *Orchestrator) afterPromptFinished() {
	if o.st.sessionActive || o.st.dtmfMode {
		return
	}
	if o.effectiveMode() != config.RecognitionVAD {
		return
	}
	if o.settings.VADActivation != config.VADActivationAfterPrompt {
		return
	}

	if o.st.vadSpeechSeen {
		o.activateSession()
		return
	}
	if o.settings.VADMaxWaitAfterPrompt > 0 {
		o.setTimer(TimerVADMaxWait, o.settings.VADMaxWaitAfterPrompt)
	}
}

// onTalkingStarted handles PBX-side speech detection.
func (o *Orchestrator) onTalkingStarted() {
	o.publish(EventVADSpeechStart, nil, "debug")
	if o.st.dtmfMode || o.st.sessionActive {
		return
	}

	if o.st.vadDelayWindowOpen {
		o.st.vadSpeechSeen = true
		return
	}
	if o.settings.VADActivation == config.VADActivationAfterPrompt && o.st.promptPlaying {
		// Barge-in during the prompt: remembered, activation happens once
		// the prompt finishes.
		o.st.vadSpeechSeen = true
		return
	}
	o.activateSession()
}

// activateSession opens the inference session, flushes buffered caller
// audio into it and arms the recognition watchdogs. Strictly idempotent: a
// second activation attempt is a no-op.
func (o *Orchestrator) activateSession() {
	if o.st.sessionActive || o.st.cleanupCalled {
		return
	}

	o.timers.Cancel(TimerBargeInActivation)
	o.timers.Cancel(TimerVADInitialSilence)
	o.timers.Cancel(TimerVADMaxWait)
	o.st.vadDelayWindowOpen = false

	// Once activation is decided the PBX-side detector has done its job;
	// turn boundaries now come from the model.
	if o.st.talkDetectOn {
		if err := o.deps.PBX.RemoveTalkDetect(o.ctx, o.callID); err != nil && !errors.Is(err, ari.ErrNotFound) {
			o.log.Warn("talk detect removal failed", "error", err)
		}
		o.st.talkDetectOn = false
	}

	sess, err := o.deps.Provider.Connect(o.ctx, realtime.SessionConfig{
		Modalities:       []string{"text", "audio"},
		Voice:            o.settings.Voice,
		Instructions:     o.settings.Instructions,
		Tools:            o.settings.Tools,
		InputFormat:      o.settings.InputCodec,
		InputSampleRate:  o.settings.SampleRate,
		OutputFormat:     o.settings.OutputCodec,
		OutputSampleRate: o.settings.SampleRate,
		ServerVAD:        true,
	})
	if err != nil {
		o.log.Error("session connect failed", "error", err)
		o.cleanup(ReasonStreamError)
		return
	}
	o.session = sess
	o.st.sessionActive = true
	o.sessionStopRequested = false
	o.activatedAt = time.Now()
	o.firstAudioSeen = false

	// Audio buffered while waiting for activation goes first, in order.
	for _, payload := range o.st.vadBuffer {
		if err := sess.SendAudio(payload); err != nil {
			o.log.Warn("buffered audio send failed", "error", err)
			break
		}
	}
	o.st.vadBuffer = nil

	go func() {
		for ev := range sess.Events() {
			o.post(message{kind: msgSession, sess: ev})
		}
	}()

	if o.settings.NoSpeechBeginTimeout > 0 {
		o.setTimer(TimerNoSpeechBegin, o.settings.NoSpeechBeginTimeout)
	}
	if o.settings.InitialStreamIdle > 0 {
		o.setTimer(TimerInitialStreamIdle, o.settings.InitialStreamIdle)
	}
	if o.settings.MaxRecognitionTime > 0 {
		o.setTimer(TimerMaxRecognition, o.settings.MaxRecognitionTime)
	}

	o.publish(EventStreamActivated, map[string]any{"mode": string(o.effectiveMode())}, "info")
	o.record(convlog.Entry{Actor: convlog.ActorSystem, Type: "stream_activated"})
}

// ── timers ────────────────────────────────────────────────────────────────────

// onTimer dispatches a timer expiry. Expiries race with state changes, so
// every branch re-checks the state it guards.
func (o *Orchestrator) onTimer(name TimerName) {
	switch name {
	case TimerBargeInActivation:
		o.activateSession()

	case TimerNoSpeechBegin:
		if o.st.sessionActive && !o.st.dtmfMode {
			o.cleanup(ReasonNoSpeechBegin)
		}

	case TimerInitialStreamIdle:
		if o.st.sessionActive {
			o.cleanup(ReasonStreamIdle)
		}

	case TimerSpeechEndSilence:
		if o.st.sessionActive && !o.st.dtmfMode {
			o.cleanup(ReasonSpeechEndSilence)
		}

	case TimerMaxRecognition:
		if o.st.sessionActive && !o.st.dtmfMode {
			o.cleanup(ReasonMaxRecognition)
		}

	case TimerVADMaxWait:
		if !o.st.sessionActive && !o.st.dtmfMode {
			o.cleanup(ReasonVADMaxWaitPostPrompt)
		}

	case TimerVADInitialSilence:
		o.st.vadDelayWindowOpen = false
		if o.st.sessionActive || o.st.dtmfMode {
			return
		}
		if o.st.vadSpeechSeen {
			o.activateSession()
		} else if o.settings.VADMaxWaitAfterPrompt > 0 {
			o.setTimer(TimerVADMaxWait, o.settings.VADMaxWaitAfterPrompt)
		}

	case TimerDTMFInterDigit:
		if o.st.dtmfMode {
			o.finalizeDTMF(FinalizeInterDigitTimeout)
		}

	case TimerDTMFFinal:
		if o.st.dtmfMode {
			o.finalizeDTMF(FinalizeFinalTimeout)
		}
	}
}

// ── DTMF ──────────────────────────────────────────────────────────────────────

// onDTMF handles one received digit. The first digit of a turn flips the
// call into DTMF mode: speech recognition is abandoned for the rest of the
// interaction and the digits decide where the dialplan goes next.
func (o *Orchestrator) onDTMF(digit string) {
	o.publish(EventDTMFReceived, map[string]any{"digit": digit}, "info")
	if !o.settings.DTMFEnabled || o.st.cleanupCalled {
		return
	}

	res := o.dtmf.Append(digit)

	if res.EnteredMode {
		o.enterDTMFMode()
	}
	o.record(convlog.Entry{Actor: convlog.ActorDTMF, Type: "digit", Content: digit})

	if res.Finalize {
		o.finalizeDTMF(res.Cause)
		return
	}

	if o.settings.DTMFInterDigit > 0 {
		o.setTimer(TimerDTMFInterDigit, o.settings.DTMFInterDigit)
	}
	if res.EnteredMode && o.settings.DTMFFinal > 0 {
		o.setTimer(TimerDTMFFinal, o.settings.DTMFFinal)
	}
}

// enterDTMFMode abandons speech recognition: playback is cut, the session
// is stopped, buffered audio is dropped and every recognition timer dies.
func (o *Orchestrator) enterDTMFMode() {
	o.st.dtmfMode = true
	o.setState(StateDTMF)
	o.publish(EventDTMFModeActivated, nil, "info")

	o.bargeIn("dtmf")

	if o.session != nil {
		o.sessionStopRequested = true
		if err := o.session.Stop("dtmf"); err != nil {
			o.log.Warn("session stop failed", "error", err)
		}
		o.session = nil
		o.st.sessionActive = false
	}
	o.st.vadBuffer = nil
	o.st.turnAudio.Reset()

	for _, t := range []TimerName{
		TimerBargeInActivation, TimerNoSpeechBegin, TimerInitialStreamIdle,
		TimerSpeechEndSilence, TimerMaxRecognition,
		TimerVADInitialSilence, TimerVADMaxWait,
	} {
		o.timers.Cancel(t)
	}

	if o.st.talkDetectOn {
		if err := o.deps.PBX.RemoveTalkDetect(o.ctx, o.callID); err != nil && !errors.Is(err, ari.ErrNotFound) {
			o.log.Warn("talk detect removal failed", "error", err)
		}
		o.st.talkDetectOn = false
	}
}

// finalizeDTMF publishes the collected digits, exposes them to the
// dialplan via DTMF_RESULT and ends the gateway's part of the call.
func (o *Orchestrator) finalizeDTMF(cause FinalizeCause) {
	o.timers.Cancel(TimerDTMFInterDigit)
	o.timers.Cancel(TimerDTMFFinal)

	digits := o.dtmf.Digits()
	o.st.dtmfResult = digits

	o.publish(EventDTMFInputFinalized, map[string]any{
		"digits": digits,
		"cause":  string(cause),
	}, "info")
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordDTMF(o.ctx, string(cause))
	}
	o.record(convlog.Entry{Actor: convlog.ActorSystem, Type: "dtmf_finalized", Content: digits})

	if err := o.deps.PBX.SetChannelVar(o.ctx, o.callID, "DTMF_RESULT", digits); err != nil {
		o.log.Warn("DTMF_RESULT set failed", "error", err)
	}

	o.cleanup(string(cause))
}
