package media

import (
	"context"
	"sync"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
)

// SimEngine is the stand-in media engine for environments without the
// needed hardware. Handles are driven from the outside through Push,
// which makes the engine scriptable in tests and demo mode.
type SimEngine struct {
	mu sync.Mutex

	// OpenErr, when set, fails every Open call with that error.
	OpenErr error
	// SpeakerErr, when set, fails every SetSpeakerRoute call.
	SpeakerErr error
	// AutoConnect makes every opened handle report connected
	// immediately, for runs with nobody scripting connectivity.
	AutoConnect bool

	last *SimHandle
}

func NewSimEngine() *SimEngine {
	return &SimEngine{}
}

func (e *SimEngine) Open(ctx context.Context, kind call.Kind) (Handle, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.OpenErr != nil {
		return nil, e.OpenErr
	}

	h := &SimHandle{
		speakerErr: e.SpeakerErr,
		states:     make(chan ConnState, 16),
	}
	if e.AutoConnect {
		h.states <- ConnConnected
	}
	e.last = h
	return h, nil
}

// LastHandle returns the most recently opened handle, for driving
// connectivity from tests.
func (e *SimEngine) LastHandle() *SimHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

type SimHandle struct {
	speakerErr error

	mu      sync.Mutex
	closed  bool
	audioOn bool
	videoOn bool
	speaker bool
	states  chan ConnState
}

// Push injects a connectivity state as the engine would emit it. No-op
// after close, mirroring a real engine whose callbacks stop firing.
func (h *SimHandle) Push(state ConnState) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return
	}
	select {
	case h.states <- state:
	default:
	}
}

func (h *SimHandle) SetAudioEnabled(enabled bool) {
	h.mu.Lock()
	h.audioOn = enabled
	h.mu.Unlock()
}

func (h *SimHandle) SetVideoEnabled(enabled bool) {
	h.mu.Lock()
	h.videoOn = enabled
	h.mu.Unlock()
}

func (h *SimHandle) SetSpeakerRoute(enabled bool) error {
	if h.speakerErr != nil {
		return h.speakerErr
	}
	h.mu.Lock()
	h.speaker = enabled
	h.mu.Unlock()
	return nil
}

func (h *SimHandle) Connectivity() <-chan ConnState {
	return h.states
}

func (h *SimHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return nil
}

// Closed reports whether the handle was released.
func (h *SimHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
