package ari

// Channel is the subset of the ARI channel resource the gateway uses.
type Channel struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	State  string      `json:"state"`
	Caller CallerID    `json:"caller"`
	Dial   DialplanCEP `json:"dialplan"`
}

// CallerID holds the caller's name and number.
type CallerID struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// DialplanCEP locates a channel in the dialplan.
type DialplanCEP struct {
	Context  string `json:"context"`
	Exten    string `json:"exten"`
	Priority int64  `json:"priority"`
}

// Bridge is the subset of the ARI bridge resource the gateway uses.
type Bridge struct {
	ID   string `json:"id"`
	Type string `json:"bridge_type"`
}

// Playback is the ARI playback resource returned by Play.
type Playback struct {
	ID       string `json:"id"`
	MediaURI string `json:"media_uri"`
	State    string `json:"state"`
}

// SpyDirection selects which leg of a channel a snoop channel listens to.
type SpyDirection string

const (
	SpyIn   SpyDirection = "in"
	SpyOut  SpyDirection = "out"
	SpyBoth SpyDirection = "both"
)

// ── Event payloads ─────────────────────────────────────────────────────────────

// StasisStart is delivered when a channel enters the ARI application.
type StasisStart struct {
	Channel Channel
	Args    []string
}

// TalkingFinished is delivered when talk-detect observes the end of speech.
type TalkingFinished struct {
	ChannelID string
	// Duration is the talking duration in milliseconds as reported by the PBX.
	Duration int64
}

// Handler receives PBX events. All methods are invoked from the event-socket
// goroutine; implementations must not block and must not touch call state
// directly, only post messages to the owning call task.
type Handler interface {
	OnStasisStart(ev StasisStart)
	OnChannelEnded(channelID string)
	OnDTMF(channelID, digit string)
	OnTalkingStarted(channelID string)
	OnTalkingFinished(ev TalkingFinished)
	OnPlaybackFinished(playbackID string)
	OnPlaybackFailed(playbackID string)
	OnConnectionLost(err error)
}
