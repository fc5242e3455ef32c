package telephony

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
)

// SimBridge stands in for the native telephony layer. It enforces the
// contract the OS does (a single registered call at a time) and is
// scriptable: latencies and failures are injected per operation, and
// system-UI events are emitted through the same stream the real layer
// would use.
type SimBridge struct {
	// ReportDelay is applied before acknowledging Report calls, to
	// exercise deadline and cancellation paths.
	ReportDelay time.Duration
	// OutgoingErr and IncomingErr, when set, reject the registration.
	OutgoingErr error
	IncomingErr error

	mu         sync.Mutex
	registered string // session id of the single OS-registered call
	muted      bool

	events chan Event
}

func NewSimBridge() *SimBridge {
	return &SimBridge{
		events: make(chan Event, 16),
	}
}

func (b *SimBridge) ReportOutgoing(ctx context.Context, s *call.Session) error {
	return b.register(ctx, s, b.OutgoingErr)
}

func (b *SimBridge) ReportIncoming(ctx context.Context, s *call.Session) error {
	return b.register(ctx, s, b.IncomingErr)
}

func (b *SimBridge) register(ctx context.Context, s *call.Session, injected error) error {
	if b.ReportDelay > 0 {
		select {
		case <-time.After(b.ReportDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if injected != nil {
		return injected
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.registered != "" && b.registered != s.ID {
		return fmt.Errorf("call %s already registered: %w", b.registered, call.ErrTelephonyRegistration)
	}
	b.registered = s.ID
	return nil
}

func (b *SimBridge) Answer(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return nil
}

func (b *SimBridge) End(ctx context.Context) error {
	b.mu.Lock()
	b.registered = ""
	b.muted = false
	b.mu.Unlock()
	return nil
}

func (b *SimBridge) SetMuted(ctx context.Context, muted bool) error {
	b.mu.Lock()
	b.muted = muted
	b.mu.Unlock()
	return nil
}

func (b *SimBridge) Events() <-chan Event {
	return b.events
}

// Registered returns the session id of the currently registered call,
// or the empty string.
func (b *SimBridge) Registered() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registered
}

// Muted reports the system-level mute flag.
func (b *SimBridge) Muted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.muted
}

// Emit injects a system-UI event, as if the user acted on the native
// screen or the provider reset.
func (b *SimBridge) Emit(ev Event) {
	if ev.Type == EventProviderReset {
		b.mu.Lock()
		b.registered = ""
		b.muted = false
		b.mu.Unlock()
	}
	select {
	case b.events <- ev:
	default:
	}
}
