// Package types contains shared playback data types.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// StreamSource identifies one live stream to play. It is immutable for the
// lifetime of a controller; switching sources means tearing the controller
// down and creating a new one.
type StreamSource struct {
	URI         string `json:"uri"`
	DisplayName string `json:"display_name"`
	IsLiveHint  bool   `json:"is_live"`
}

// ConnectionState is the single top-level state of a playback controller.
type ConnectionState int

// Connection states, in rough lifecycle order.
const (
	StateIdle ConnectionState = iota
	StateInitializing
	StateConnecting
	StateConnected
	StateStalled
	StateReconnecting
	StateError
	StateStopped
)

// String returns the lowercase name of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStalled:
		return "stalled"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state as its string name.
func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state from its string name.
func (s *ConnectionState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, state := range []ConnectionState{
		StateIdle, StateInitializing, StateConnecting, StateConnected,
		StateStalled, StateReconnecting, StateError, StateStopped,
	} {
		if state.String() == name {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", name)
}

// ErrorCategory classifies an error surfaced by the decode engine or the
// controller itself.
type ErrorCategory string

// Error categories.
const (
	// CategoryManifest means the origin has not produced a playable
	// manifest yet, typically because an encoder process is still
	// starting.
	CategoryManifest ErrorCategory = "manifest"
	// CategoryNetwork covers transient transport failures.
	CategoryNetwork ErrorCategory = "network"
	// CategoryMedia covers decode-side errors that may be recoverable
	// in place without a full reload.
	CategoryMedia ErrorCategory = "media"
	// CategoryFatal covers unclassified fatal errors that are never
	// auto-retried.
	CategoryFatal ErrorCategory = "fatal"
	// CategoryNonFatal covers engine noise that needs no action.
	CategoryNonFatal ErrorCategory = "nonfatal"
)

// ErrorRecord is an error surfaced to the caller. Recoverable failures are
// absorbed inside the controller and never become records; only exhausted
// retries and fatal conditions do.
type ErrorRecord struct {
	Category ErrorCategory `json:"category"`
	Detail   string        `json:"detail"`
	Attempt  int           `json:"attempt"`
}

// BufferSample is one reading of the render surface, produced every sampling
// tick and consumed immediately.
type BufferSample struct {
	CurrentPosition float64
	BufferedEnd     float64
	Timestamp       time.Time
}

// LiveEdgeStatus describes how far playback is behind the broadcast edge.
type LiveEdgeStatus struct {
	BehindLiveSeconds float64 `json:"behind_live_seconds"`
	IsAtLiveEdge      bool    `json:"is_at_live_edge"`
	LockedToLive      bool    `json:"locked_to_live"`
}

// Status is the controller snapshot exposed to the rest of the application.
// It is updated on every state transition and every sampling tick.
type Status struct {
	State             ConnectionState `json:"state"`
	BehindLiveSeconds float64         `json:"behind_live_seconds"`
	IsAtLiveEdge      bool            `json:"is_at_live_edge"`
	LockedToLive      bool            `json:"locked_to_live"`
	LastError         *ErrorRecord    `json:"last_error,omitempty"`
}
