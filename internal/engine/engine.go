// Package engine defines the adaptive-streaming decode engine contract and a
// thin adapter the playback controller drives it through.
package engine

import (
	"context"

	"github.com/camwatch/playback/internal/surface"
	"github.com/camwatch/playback/internal/types"
)

// EventKind identifies one decode engine event.
type EventKind int

// Engine event kinds.
const (
	// EventManifestReady fires once a playable manifest has been loaded.
	EventManifestReady EventKind = iota
	// EventSegmentLoaded fires for every media segment fetched and decoded.
	EventSegmentLoaded
	// EventBufferAppended fires when the buffered range grows.
	EventBufferAppended
	// EventError reports a load or decode failure.
	EventError
	// EventEndOfStream fires when the manifest declares the stream ended.
	EventEndOfStream
)

// String returns the lowercase name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventManifestReady:
		return "manifest_ready"
	case EventSegmentLoaded:
		return "segment_loaded"
	case EventBufferAppended:
		return "buffer_appended"
	case EventError:
		return "error"
	case EventEndOfStream:
		return "end_of_stream"
	default:
		return "unknown"
	}
}

// Event is one notification from the decode engine.
type Event struct {
	Kind EventKind
	// BufferedEnd is the end of the buffered range in seconds, set on
	// EventSegmentLoaded and EventBufferAppended.
	BufferedEnd float64
	// Category, Fatal and Detail are set on EventError.
	Category types.ErrorCategory
	Fatal    bool
	Detail   string
}

// Engine is the external adaptive-streaming capability the controller
// consumes. Implementations do no retry or health logic of their own; they
// load what they are told to load and report what happened.
type Engine interface {
	// Load starts (or restarts) loading the given source. Failures are
	// reported through the event stream, not as a return value.
	Load(ctx context.Context, src types.StreamSource)
	// AttachSurface binds the decode session to a render surface.
	AttachSurface(s surface.Surface)
	// Recover attempts an in-place recovery after a media error.
	Recover() error
	// Destroy stops all work and closes the event stream. It must be
	// idempotent, including when nothing was ever attached or loaded.
	Destroy()
	// Events returns the engine's event stream. The channel is closed by
	// Destroy or when the stream ends.
	Events() <-chan Event
}
