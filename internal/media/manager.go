package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
)

// Manager guards the process-wide exclusive capture resource: at most
// one open handle at a time, close-before-open for a new session.
type Manager struct {
	engine Engine
	logger *slog.Logger

	mu     sync.Mutex
	active *managedHandle
}

func NewManager(engine Engine, logger *slog.Logger) *Manager {
	return &Manager{
		engine: engine,
		logger: logger,
	}
}

// Open allocates a handle through the engine. Returns
// call.ErrMediaUnavailable when a handle is already open (a prior
// session that was not torn down) or when the engine cannot allocate.
func (m *Manager) Open(ctx context.Context, kind call.Kind) (Handle, error) {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("handle already open: %w", call.ErrMediaUnavailable)
	}
	// Reserve the slot before the engine call so a concurrent open
	// fails fast instead of double-allocating capture.
	placeholder := &managedHandle{manager: m}
	m.active = placeholder
	m.mu.Unlock()

	inner, err := m.engine.Open(ctx, kind)
	if err != nil {
		m.mu.Lock()
		if m.active == placeholder {
			m.active = nil
		}
		m.mu.Unlock()
		return nil, fmt.Errorf("engine open: %w", errOrMediaUnavailable(err))
	}

	placeholder.inner = inner
	m.logger.Debug("media handle opened", "kind", kind)
	return placeholder, nil
}

// Close releases h if it belongs to this manager. Safe to call with a
// handle that was already closed.
func (m *Manager) Close(h Handle) {
	if h == nil {
		return
	}
	if mh, ok := h.(*managedHandle); ok {
		_ = mh.Close()
	}
}

func errOrMediaUnavailable(err error) error {
	if err == nil {
		return call.ErrMediaUnavailable
	}
	return err
}

// managedHandle frees the manager slot on close and makes Close
// idempotent regardless of the engine's own behaviour.
type managedHandle struct {
	manager *Manager
	inner   Handle
	once    sync.Once
}

func (h *managedHandle) SetAudioEnabled(enabled bool) { h.inner.SetAudioEnabled(enabled) }
func (h *managedHandle) SetVideoEnabled(enabled bool) { h.inner.SetVideoEnabled(enabled) }

func (h *managedHandle) SetSpeakerRoute(enabled bool) error {
	return h.inner.SetSpeakerRoute(enabled)
}

func (h *managedHandle) Connectivity() <-chan ConnState {
	return h.inner.Connectivity()
}

func (h *managedHandle) Close() error {
	h.once.Do(func() {
		if h.inner != nil {
			_ = h.inner.Close()
		}
		h.manager.mu.Lock()
		if h.manager.active == h {
			h.manager.active = nil
		}
		h.manager.mu.Unlock()
		h.manager.logger.Debug("media handle closed")
	})
	return nil
}
