// Package media owns the media engine lifecycle: local capture
// allocation, track toggles, and the peer connectivity stream. Signaling
// with the remote peer is out of scope; the engine is a black box behind
// the Engine interface.
package media

import (
	"context"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
)

// ConnState is one element of the engine's connectivity stream.
// Keep values stable because they are part of the public API.
type ConnState string

const (
	ConnNew          ConnState = "new"
	ConnChecking     ConnState = "checking"
	ConnConnected    ConnState = "connected"
	ConnCompleted    ConnState = "completed"
	ConnFailed       ConnState = "failed"
	ConnDisconnected ConnState = "disconnected"
	ConnClosed       ConnState = "closed"
)

// Terminal reports whether the state ends the media layer for good.
// disconnected is not terminal; the orchestrator gives it a grace window.
func (s ConnState) Terminal() bool {
	return s == ConnFailed || s == ConnClosed
}

// Engine allocates media handles. Two implementations ship: the webrtc
// engine for real transport and the simulator for environments without
// media hardware. Selection happens at runtime through configuration.
type Engine interface {
	Open(ctx context.Context, kind call.Kind) (Handle, error)
}

// Handle is one open media session. At most one handle exists at a time;
// the Manager enforces that.
type Handle interface {
	// SetAudioEnabled and SetVideoEnabled are synchronous local toggles.
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)

	// SetSpeakerRoute requests the platform audio route change. The
	// route change may fail; the error is reported to the caller and
	// nothing else changes.
	SetSpeakerRoute(enabled bool) error

	// Connectivity returns the handle's connectivity stream. The stream
	// is restartable only by closing and reopening the handle.
	Connectivity() <-chan ConnState

	// Close releases all tracks and stops local capture. Idempotent:
	// closing an already-closed handle is a no-op, because close races
	// with OS-driven teardown are expected.
	Close() error
}
