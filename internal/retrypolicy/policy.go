// Package retrypolicy governs the silent early-load retry window.
//
// While a stream origin is still starting an encoder, manifest requests fail
// in ways that are meaningless to the user. The policy absorbs a bounded
// number of those failures with fixed-delay re-polls before it ever surfaces
// an error; once the first segment has decoded, it steps aside and ordinary
// error classification applies.
package retrypolicy

import (
	"time"

	"github.com/camwatch/playback/internal/types"
)

// Decision tells the owner what to do with a load failure.
type Decision int

// Decisions.
const (
	// DecisionRetry means re-issue the load after Config.RetryDelay and
	// keep the failure away from the caller.
	DecisionRetry Decision = iota
	// DecisionSurface means the silent window is exhausted; surface the
	// error record and stop.
	DecisionSurface
	// DecisionClassify means the first segment has already decoded, so
	// the failure belongs to ordinary error classification instead of
	// this window.
	DecisionClassify
)

// Config holds the silent-window budget.
type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// Policy tracks one load attempt sequence. It is reset whenever a first
// successful decode occurs. Policy is not safe for concurrent use; the
// owning controller drives it from a single goroutine.
type Policy struct {
	cfg                Config
	attempt            int
	firstSegmentLoaded bool
}

// New creates a policy with a zero attempt counter.
func New(cfg Config) *Policy {
	return &Policy{cfg: cfg}
}

// OnLoaded latches the first successful manifest/segment load and resets the
// attempt counter.
func (p *Policy) OnLoaded() {
	p.firstSegmentLoaded = true
	p.attempt = 0
}

// OnError classifies one load failure. Silent retries increment the attempt
// counter; the counter never exceeds MaxAttempts.
func (p *Policy) OnError() Decision {
	if p.firstSegmentLoaded {
		return DecisionClassify
	}
	if p.attempt < p.cfg.MaxAttempts {
		p.attempt++
	}
	if p.attempt >= p.cfg.MaxAttempts {
		return DecisionSurface
	}
	return DecisionRetry
}

// ResetAttempts zeroes the counter without latching, giving segment loads a
// fresh budget once a manifest has appeared.
func (p *Policy) ResetAttempts() {
	p.attempt = 0
}

// Reset clears the latch and the counter for a fresh load sequence, e.g. on
// reconnect.
func (p *Policy) Reset() {
	p.attempt = 0
	p.firstSegmentLoaded = false
}

// Attempt returns the current attempt count.
func (p *Policy) Attempt() int {
	return p.attempt
}

// FirstSegmentLoaded reports whether a first decode has occurred in the
// current sequence.
func (p *Policy) FirstSegmentLoaded() bool {
	return p.firstSegmentLoaded
}

// RetryDelay returns the fixed delay between silent re-polls. The delay does
// not grow: the origin is expected to come up within the window, and a fixed
// cadence matches how it initializes.
func (p *Policy) RetryDelay() time.Duration {
	return p.cfg.RetryDelay
}

// Record builds the error record surfaced when the window is exhausted.
func (p *Policy) Record() types.ErrorRecord {
	return types.ErrorRecord{
		Category: types.CategoryNetwork,
		Detail:   "origin unavailable",
		Attempt:  p.attempt,
	}
}
