// Package liveedge tracks how far playback is behind the broadcast edge and
// decides when to skip back to it.
package liveedge

import "github.com/camwatch/playback/internal/types"

// Config holds the live-edge thresholds, all in seconds of media.
type Config struct {
	// LiveThreshold is the behind-live distance under which playback
	// counts as at the live edge.
	LiveThreshold float64
	// AutoResyncThreshold is the behind-live distance beyond which an
	// automatic skip-to-live seek is issued.
	AutoResyncThreshold float64
	// SafetyOffset is how far short of the buffered end a skip-to-live
	// seek lands, so the seek does not overshoot into unbuffered media.
	SafetyOffset float64
}

// Tracker computes behind-live distance from buffer samples and issues
// skip-to-live decisions. It never blocks and owns no retry or error state.
// Tracker is not safe for concurrent use; the owning controller drives it
// from a single goroutine.
type Tracker struct {
	cfg    Config
	status types.LiveEdgeStatus
	// resyncArmed gates the automatic seek to one per threshold breach:
	// it disarms when a seek is issued and re-arms only once playback is
	// back inside the live threshold.
	resyncArmed bool
}

// New creates a tracker at the live edge with auto-resync armed.
func New(cfg Config) *Tracker {
	return &Tracker{
		cfg:         cfg,
		status:      types.LiveEdgeStatus{IsAtLiveEdge: true},
		resyncArmed: true,
	}
}

// Update recomputes the live-edge status from one buffer sample and reports
// whether a skip-to-live seek should be issued now. While locked to live the
// heuristic is suppressed entirely and no seek is ever requested.
func (t *Tracker) Update(sample types.BufferSample, playing, paused bool) (seekTo float64, seek bool) {
	if t.status.LockedToLive {
		return 0, false
	}

	behind := sample.BufferedEnd - sample.CurrentPosition
	if behind < 0 {
		behind = 0
	}
	t.status.BehindLiveSeconds = behind
	t.status.IsAtLiveEdge = behind < t.cfg.LiveThreshold

	if t.status.IsAtLiveEdge {
		t.resyncArmed = true
		return 0, false
	}

	if behind > t.cfg.AutoResyncThreshold && t.resyncArmed && playing && !paused {
		t.resyncArmed = false
		return t.seekTarget(sample.BufferedEnd), true
	}

	return 0, false
}

// Lock performs the "Go Live" action: it returns the seek target and
// suppresses the behind-live heuristic until Unlock.
func (t *Tracker) Lock(bufferedEnd float64) (seekTo float64) {
	t.status.LockedToLive = true
	t.status.IsAtLiveEdge = true
	t.status.BehindLiveSeconds = 0
	return t.seekTarget(bufferedEnd)
}

// Unlock re-enables the behind-live heuristic.
func (t *Tracker) Unlock() {
	t.status.LockedToLive = false
	t.resyncArmed = true
}

// Resync returns the skip-to-live seek target without locking. Used for
// automatic recovery from a confirmed freeze.
func (t *Tracker) Resync(bufferedEnd float64) (seekTo float64) {
	t.resyncArmed = false
	return t.seekTarget(bufferedEnd)
}

// Status returns the current live-edge status.
func (t *Tracker) Status() types.LiveEdgeStatus {
	return t.status
}

// Locked reports whether the tracker is locked to live.
func (t *Tracker) Locked() bool {
	return t.status.LockedToLive
}

func (t *Tracker) seekTarget(bufferedEnd float64) float64 {
	target := bufferedEnd - t.cfg.SafetyOffset
	if target < 0 {
		target = 0
	}
	return target
}
