// Package health classifies playback as healthy, stalling or frozen.
//
// The detector is a heuristic, not an exact oracle: segment boundaries
// produce short gaps in position advancement and brief waiting signals that
// must not flap the status between "loading" and "live" every few seconds.
// Both the waiting grace and the freeze window exist to tolerate those gaps
// before declaring a real problem.
package health

import (
	"math"
	"time"

	"github.com/camwatch/playback/internal/types"
)

// Config holds the freeze-detection thresholds.
type Config struct {
	// Tolerance is the position delta (seconds of media) below which
	// playback counts as not advancing.
	Tolerance float64
	// FreezeWindow is how long the position must hold still before the
	// frozen flag is raised.
	FreezeWindow time.Duration
	// ResyncDelay is the additional frozen time, on live streams, after
	// which an automatic skip-to-live resync is advised.
	ResyncDelay time.Duration
	// HardLimit is the frozen time after which the session is considered
	// dead and a reconnect is advised.
	HardLimit time.Duration
}

// Signal is one finding from a freeze-check tick.
type Signal int

// Signals, in escalation order.
const (
	// SignalNone means nothing changed.
	SignalNone Signal = iota
	// SignalProgress means the position advanced; any frozen or stalled
	// flags should clear.
	SignalProgress
	// SignalFrozen means the position has held still past the freeze
	// window. Raised once per freeze episode.
	SignalFrozen
	// SignalResync means the freeze has persisted past the resync delay
	// on a live stream. Raised once per freeze episode.
	SignalResync
	// SignalHardFreeze means the freeze has persisted past the hard
	// limit; the session should be reconnected. Raised once per episode.
	SignalHardFreeze
)

// String returns the lowercase name of the signal.
func (s Signal) String() string {
	switch s {
	case SignalNone:
		return "none"
	case SignalProgress:
		return "progress"
	case SignalFrozen:
		return "frozen"
	case SignalResync:
		return "resync"
	case SignalHardFreeze:
		return "hard_freeze"
	default:
		return "unknown"
	}
}

// Detector holds the freeze-detection state for one controller. It is not
// safe for concurrent use; the owning controller drives it from a single
// goroutine.
type Detector struct {
	cfg  Config
	live bool

	started      bool
	lastPos      float64
	lastChangeAt time.Time

	flaggedFrozen bool
	advisedResync bool
	advisedHard   bool
}

// New creates a detector for a stream. live enables the automatic resync
// escalation.
func New(cfg Config, live bool) *Detector {
	return &Detector{cfg: cfg, live: live}
}

// ObserveFreeze processes one freeze-check tick taken while the surface is
// nominally playing. It compares the position against the previous tick and
// escalates through frozen, resync and hard-freeze findings as the stall
// persists. Ticks taken while not playing reset nothing and report nothing:
// a paused surface is not frozen.
func (d *Detector) ObserveFreeze(sample types.BufferSample, playing bool) Signal {
	if !playing {
		return SignalNone
	}

	if !d.started {
		d.started = true
		d.lastPos = sample.CurrentPosition
		d.lastChangeAt = sample.Timestamp
		return SignalNone
	}

	if math.Abs(sample.CurrentPosition-d.lastPos) > d.cfg.Tolerance {
		d.lastPos = sample.CurrentPosition
		d.lastChangeAt = sample.Timestamp
		d.clearEpisode()
		return SignalProgress
	}

	held := sample.Timestamp.Sub(d.lastChangeAt)
	switch {
	case !d.advisedHard && held >= d.cfg.FreezeWindow+d.cfg.ResyncDelay+d.cfg.HardLimit:
		d.advisedHard = true
		return SignalHardFreeze
	case d.live && !d.advisedResync && held >= d.cfg.FreezeWindow+d.cfg.ResyncDelay:
		d.advisedResync = true
		return SignalResync
	case !d.flaggedFrozen && held >= d.cfg.FreezeWindow:
		d.flaggedFrozen = true
		return SignalFrozen
	}

	return SignalNone
}

// OnProgress clears all freeze flags immediately, e.g. on a buffer-appended
// event arriving between ticks.
func (d *Detector) OnProgress() {
	d.clearEpisode()
	d.started = false
}

// Frozen reports whether a freeze episode is currently flagged.
func (d *Detector) Frozen() bool {
	return d.flaggedFrozen
}

func (d *Detector) clearEpisode() {
	d.flaggedFrozen = false
	d.advisedResync = false
	d.advisedHard = false
}
