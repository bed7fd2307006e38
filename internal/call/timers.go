package call

import (
	"sync"
	"time"
)

// TimerName identifies one of the per-call countdowns.
type TimerName string

const (
	TimerBargeInActivation TimerName = "barge-in-activation"
	TimerNoSpeechBegin     TimerName = "no-speech-begin"
	TimerInitialStreamIdle TimerName = "initial-stream-idle"
	TimerSpeechEndSilence  TimerName = "speech-end-silence"
	TimerMaxRecognition    TimerName = "max-recognition-duration"
	TimerDTMFInterDigit    TimerName = "dtmf-inter-digit"
	TimerDTMFFinal         TimerName = "dtmf-final"
	TimerVADMaxWait        TimerName = "vad-max-wait-after-prompt"
	TimerVADInitialSilence TimerName = "vad-initial-silence-delay"
)

// TimerSet holds the named one-shot countdowns of a call. Expiry callbacks
// must post a message to the owning call task and re-check call state there;
// they run on the runtime timer goroutine.
//
// TimerSet is safe for concurrent use: expiries race with the call task
// setting or cancelling timers.
type TimerSet struct {
	mu     sync.Mutex
	timers map[TimerName]*time.Timer
}

// NewTimerSet creates an empty timer set.
func NewTimerSet() *TimerSet {
	return &TimerSet{timers: make(map[TimerName]*time.Timer)}
}

// Set arms the named timer. A prior running instance is cancelled first.
// The callback fires once after d unless the timer is cancelled.
func (ts *TimerSet) Set(name TimerName, d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if t, ok := ts.timers[name]; ok {
		t.Stop()
	}
	ts.timers[name] = time.AfterFunc(d, func() {
		ts.mu.Lock()
		delete(ts.timers, name)
		ts.mu.Unlock()
		fn()
	})
}

// Cancel stops the named timer. Cancelling a timer that is not running is a
// no-op.
func (ts *TimerSet) Cancel(name TimerName) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if t, ok := ts.timers[name]; ok {
		t.Stop()
		delete(ts.timers, name)
	}
}

// Active reports whether the named timer is currently armed.
func (ts *TimerSet) Active(name TimerName) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.timers[name]
	return ok
}

// CancelAll stops every armed timer. Called during cleanup.
func (ts *TimerSet) CancelAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for name, t := range ts.timers {
		t.Stop()
		delete(ts.timers, name)
	}
}
