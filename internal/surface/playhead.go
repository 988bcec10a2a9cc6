package surface

import (
	"sync"
	"time"
)

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

// realClock uses actual system time.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Playhead is a software render surface. While playing it advances the
// position with wall-clock time, but never past the buffered end; when it
// catches up with the buffered end it reports waiting until more media is
// appended. It is safe for concurrent use.
type Playhead struct {
	mu          sync.Mutex
	clk         clock
	pos         float64
	bufferedEnd float64
	duration    float64
	playing     bool
	paused      bool
	lastAdvance time.Time
}

// PlayheadOption configures a Playhead.
type PlayheadOption func(*Playhead)

// WithClock sets a custom clock for testing.
func WithClock(c clock) PlayheadOption {
	return func(p *Playhead) {
		p.clk = c
	}
}

// NewPlayhead creates a stopped playhead at position zero.
func NewPlayhead(opts ...PlayheadOption) *Playhead {
	p := &Playhead{clk: realClock{}}
	for _, opt := range opts {
		opt(p)
	}
	p.lastAdvance = p.clk.Now()
	return p
}

// advanceLocked moves the position forward by the elapsed wall-clock time,
// clamped to the buffered end. Callers must hold p.mu.
func (p *Playhead) advanceLocked() {
	now := p.clk.Now()
	if p.playing {
		p.pos += now.Sub(p.lastAdvance).Seconds()
		if p.pos > p.bufferedEnd {
			p.pos = p.bufferedEnd
		}
	}
	p.lastAdvance = now
}

// CurrentPosition returns the rendered position in seconds.
func (p *Playhead) CurrentPosition() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	return p.pos
}

// Duration returns the known media duration in seconds.
func (p *Playhead) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// SetDuration records the known media duration.
func (p *Playhead) SetDuration(d float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duration = d
}

// BufferedEnd returns the end of the buffered range in seconds.
func (p *Playhead) BufferedEnd() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bufferedEnd
}

// SetBufferedEnd grows (or resets) the buffered range.
func (p *Playhead) SetBufferedEnd(end float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	p.bufferedEnd = end
}

// Playing reports whether the playhead is advancing.
func (p *Playhead) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Paused reports whether playback was paused by the user.
func (p *Playhead) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Waiting reports whether the playhead is starved: nominally playing but
// pinned at the buffered end.
func (p *Playhead) Waiting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	return p.playing && p.pos >= p.bufferedEnd
}

// Play resumes playback.
func (p *Playhead) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	p.playing = true
	p.paused = false
}

// Pause halts playback at the current position.
func (p *Playhead) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	p.playing = false
	p.paused = true
}

// SeekTo moves the rendered position, clamped to the buffered range.
func (p *Playhead) SeekTo(pos float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	if pos < 0 {
		pos = 0
	}
	if pos > p.bufferedEnd {
		pos = p.bufferedEnd
	}
	p.pos = pos
}
