package wake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
)

// InvitationSink receives decoded invitations. Deliver returns only
// after the telephony registration for the invitation has completed or
// failed; the deadline on ctx bounds the whole handoff.
type InvitationSink interface {
	DeliverInvitation(ctx context.Context, inv call.IncomingInvitation) error
}

// DefaultHandlingWindow approximates the window the OS grants between a
// wake signal and the incoming-call registration.
const DefaultHandlingWindow = 2 * time.Second

// Bridge binds the wake delivery channel to the orchestrator under the
// OS handling-window deadline. This handoff is the one hard deadline in
// the subsystem; missing it fails that invitation and nothing else.
type Bridge struct {
	sink   InvitationSink
	window time.Duration
	logger *slog.Logger
}

func NewBridge(sink InvitationSink, window time.Duration, logger *slog.Logger) *Bridge {
	if window <= 0 {
		window = DefaultHandlingWindow
	}
	return &Bridge{
		sink:   sink,
		window: window,
		logger: logger,
	}
}

// HandleWake decodes raw and hands the invitation to the orchestrator.
// Undecodable payloads are dropped silently: no session is created and
// no telephony registration occurs. A handoff that outlives the window
// is reported as call.ErrTelephonyDeadline, never retried.
func (b *Bridge) HandleWake(ctx context.Context, raw []byte) error {
	inv, err := DecodeInvitation(raw)
	if err != nil {
		b.logger.Warn("wake payload dropped", "error", err)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, b.window)
	defer cancel()

	if err := b.sink.DeliverInvitation(ctx, inv); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("session %s: %w", inv.SessionID, call.ErrTelephonyDeadline)
		}
		b.logger.Error("wake delivery failed", "session_id", inv.SessionID, "error", err)
		return err
	}

	b.logger.Debug("wake delivered", "session_id", inv.SessionID, "peer_id", inv.Peer.ID)
	return nil
}
