package call

// PlaybackItem is one queued media reference. ResponseID is empty for media
// that does not belong to a model response (e.g. the greeting).
type PlaybackItem struct {
	MediaRef   string
	ResponseID string
}

// PlaybackQueue is the ordered sequence of media references for one call.
// At most one playback is active at a time; the rest wait in order. The
// queue is a pure data structure: the orchestrator performs the PBX side
// effects and reports their outcomes back. All methods are invoked from the
// call task only.
type PlaybackQueue struct {
	items   []PlaybackItem
	playing bool

	// handle is the PBX playback handle of the active head, set via Started.
	handle string
}

// NewPlaybackQueue creates an empty queue.
func NewPlaybackQueue() *PlaybackQueue {
	return &PlaybackQueue{}
}

// Enqueue appends an item and reports whether the caller should start
// playback of the head (i.e. nothing was playing).
func (q *PlaybackQueue) Enqueue(item PlaybackItem) (start bool) {
	q.items = append(q.items, item)
	if q.playing {
		return false
	}
	q.playing = true
	return true
}

// Head returns the item playback should be started for. Valid only after
// Enqueue or Finished reported start.
func (q *PlaybackQueue) Head() PlaybackItem {
	return q.items[0]
}

// Started records the PBX handle of the now-active head playback.
func (q *PlaybackQueue) Started(handle string) {
	q.handle = handle
}

// Handle returns the PBX handle of the active playback, or "" if none.
func (q *PlaybackQueue) Handle() string {
	if !q.playing {
		return ""
	}
	return q.handle
}

// Finished pops the head after its playback ended (successfully or not) and
// reports whether a next item should be started and whether the queue
// drained. Failure and success schedule identically.
func (q *PlaybackQueue) Finished() (next bool, drained bool) {
	if len(q.items) > 0 {
		q.items = q.items[1:]
	}
	q.handle = ""
	if len(q.items) > 0 {
		return true, false
	}
	q.playing = false
	return false, true
}

// Interrupt stops tracking the active playback and empties the queue,
// returning the handle of the playback that must be stopped at the PBX, if
// any.
func (q *PlaybackQueue) Interrupt() (handle string) {
	handle = q.Handle()
	q.items = nil
	q.playing = false
	q.handle = ""
	return handle
}

// Playing reports whether a playback is active.
func (q *PlaybackQueue) Playing() bool { return q.playing }

// Len returns the number of queued items, including the active head.
func (q *PlaybackQueue) Len() int { return len(q.items) }
