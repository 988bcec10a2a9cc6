// Package surface abstracts the native media render surface playback is
// bound to.
package surface

// Surface is the render target the controller samples and steers. A real
// deployment backs this with a native media element; the headless daemon and
// the tests use Playhead.
type Surface interface {
	// CurrentPosition returns the rendered position in seconds.
	CurrentPosition() float64
	// Duration returns the known media duration in seconds, 0 if unknown.
	Duration() float64
	// BufferedEnd returns the end of the buffered range in seconds.
	BufferedEnd() float64
	// SetBufferedEnd is called by the decode engine as media is appended.
	SetBufferedEnd(end float64)
	// Playing reports whether the surface is actively playing.
	Playing() bool
	// Paused reports whether playback was paused by the user.
	Paused() bool
	// Waiting reports whether the surface is starved for media.
	Waiting() bool
	// Play resumes playback.
	Play()
	// Pause halts playback at the current position.
	Pause()
	// SeekTo moves the rendered position.
	SeekTo(pos float64)
}
