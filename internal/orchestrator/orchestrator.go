// Package orchestrator owns the lifecycle of a single voice/video call.
// It is the only component allowed to mutate call state: every intent
// and every event from the telephony, media, and wake subsystems is
// serialized through one single-writer loop, and observers receive
// read-only snapshots.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
	"github.com/TekiyoCorp/ID-sub000/internal/media"
	"github.com/TekiyoCorp/ID-sub000/internal/telephony"
	"github.com/TekiyoCorp/ID-sub000/internal/wake"
)

// PermissionGate resolves capture authorization for a call kind.
type PermissionGate interface {
	Ensure(ctx context.Context, kind call.Kind) error
}

// Config bounds the orchestrator's timers.
type Config struct {
	// DisconnectGrace is how long a transient connectivity drop is
	// tolerated during an active call before the call is ended.
	DisconnectGrace time.Duration
	// TeardownTimeout bounds the telephony end call during teardown.
	TeardownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DisconnectGrace <= 0 {
		c.DisconnectGrace = 5 * time.Second
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = 3 * time.Second
	}
	return c
}

// Deps are the constructor-injected collaborators. Each delivers its
// results on its own execution context; none of them may touch call
// state directly.
type Deps struct {
	Gate     PermissionGate
	Media    *media.Manager
	Tel      telephony.Bridge
	Notifier wake.Notifier
}

// Orchestrator is the call session state machine. All fields below msgs
// are owned by the run loop and must not be touched from outside it.
type Orchestrator struct {
	cfg      Config
	logger   *slog.Logger
	gate     PermissionGate
	media    *media.Manager
	tel      telephony.Bridge
	notifier wake.Notifier
	nowFn    func() time.Time

	msgs   chan message
	resets chan struct{}
	// done is closed when Run returns so that timers and pump
	// goroutines posting events never block against a dead loop.
	done chan struct{}

	// Loop-owned state.
	session      *call.Session
	handle       media.Handle
	cancelOp     context.CancelFunc
	inviteAck    chan error
	answered     bool
	disconnected bool
	graceEpoch   int
	connState    media.ConnState
	// lastDrained is the id of the most recently drained session; an
	// End that races the drain is absorbed against it.
	lastDrained string

	observers *observerSet
}

func New(deps Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = wake.NopNotifier{}
	}
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		logger:    logger,
		gate:      deps.Gate,
		media:     deps.Media,
		tel:       deps.Tel,
		notifier:  notifier,
		nowFn:     time.Now,
		msgs:      make(chan message, 32),
		resets:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		observers: newObserverSet(),
	}
}

// Submit posts an intent and waits for the state machine to accept or
// reject it. Acceptance means the transition was applied or started;
// the resulting phases are observed through Snapshot and Subscribe.
func (o *Orchestrator) Submit(ctx context.Context, intent call.Intent) error {
	reply := make(chan error, 1)
	select {
	case o.msgs <- message{ctx: ctx, intent: intent, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeliverInvitation implements wake.InvitationSink. It returns only
// after the telephony registration for the invitation completed or
// failed; ctx carries the wake handling-window deadline.
func (o *Orchestrator) DeliverInvitation(ctx context.Context, inv call.IncomingInvitation) error {
	return o.Submit(ctx, inv)
}

// Snapshot returns the current session's observer view, or nil when no
// session is live.
func (o *Orchestrator) Snapshot() *call.Snapshot {
	return o.observers.last()
}

// Subscribe registers an observer. The returned channel carries every
// published snapshot, including at least one for a terminal phase
// before the session is drained. Cancel with the returned func.
func (o *Orchestrator) Subscribe() (<-chan call.Snapshot, func()) {
	return o.observers.add()
}
