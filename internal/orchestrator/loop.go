package orchestrator

import (
	"context"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
	"github.com/TekiyoCorp/ID-sub000/internal/media"
	"github.com/TekiyoCorp/ID-sub000/internal/telephony"
)

// message is one entry of the single-writer queue. Exactly one of
// intent or ev is set. reply, when non-nil, is answered once by the
// loop; for incoming invitations the answer is deferred until the
// telephony registration completes.
type message struct {
	// ctx is the submitter's context. It matters only for incoming
	// invitations, where it carries the wake handling-window deadline.
	ctx    context.Context
	intent call.Intent
	ev     event
	reply  chan error
}

type eventType int

const (
	evNone eventType = iota
	evPermissionResult
	evTelephonyRegistered
	evTelephonyAnswered
	evMediaOpened
	evConnectivity
	evGraceElapsed
	evTeardownDone
	evUserAnswered
	evUserEnded
	evUserMuted
)

// event is an internal completion or an external notification folded
// into the queue. sessionID keys the stale-result guard: completions of
// suspensions that outlived their session are discarded, never applied.
type event struct {
	typ        eventType
	sessionID  string
	err        error
	handle     media.Handle
	state      media.ConnState
	muted      bool
	graceEpoch int
	target     call.Phase // terminal phase a teardown resolves to
	reason     string
}

// Run consumes the queue until ctx is canceled. It is the only
// goroutine that reads or writes the session.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.done)
	go o.pumpTelephony(ctx)

	for {
		// The provider-reset lane is drained ahead of any queued
		// message for the same session.
		select {
		case <-o.resets:
			o.handleProviderReset()
			continue
		default:
		}

		select {
		case <-o.resets:
			o.handleProviderReset()
		case msg := <-o.msgs:
			o.dispatch(ctx, msg)
		case <-ctx.Done():
			o.shutdown()
			return
		}
	}
}

// pumpTelephony converts the bridge's unsolicited event stream into
// queue messages. Provider resets take the priority lane.
func (o *Orchestrator) pumpTelephony(ctx context.Context) {
	events := o.tel.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case telephony.EventProviderReset:
				select {
				case o.resets <- struct{}{}:
				default:
				}
			case telephony.EventUserAnswered:
				o.post(event{typ: evUserAnswered, sessionID: ev.SessionID})
			case telephony.EventUserEnded:
				o.post(event{typ: evUserEnded, sessionID: ev.SessionID})
			case telephony.EventUserMuted:
				o.post(event{typ: evUserMuted, sessionID: ev.SessionID, muted: ev.Muted})
			}
		case <-ctx.Done():
			return
		}
	}
}

// post hands a loop-internal event to the queue. Grace timers and
// connectivity pumps may outlive the loop briefly, so a send against a
// stopped loop is discarded instead of blocking the goroutine forever.
func (o *Orchestrator) post(ev event) {
	select {
	case o.msgs <- message{ev: ev}:
	case <-o.done:
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, msg message) {
	if msg.intent != nil {
		o.handleIntent(ctx, msg)
		return
	}
	o.handleEvent(ctx, msg.ev)
}

// handleIntent runs suspended operations off the run context, not the
// submitter's: a caller going away must not cancel a call in flight.
// The one exception is the incoming invitation, whose submitter context
// carries the hard registration deadline.
func (o *Orchestrator) handleIntent(ctx context.Context, msg message) {
	reply := msg.reply
	switch in := msg.intent.(type) {
	case call.StartOutgoing:
		o.startOutgoing(ctx, in, reply)
	case call.IncomingInvitation:
		ictx := msg.ctx
		if ictx == nil {
			ictx = ctx
		}
		o.startIncoming(ictx, in, reply)
	case call.Answer:
		o.answer(ctx, reply)
	case call.Reject:
		o.reject(reply)
	case call.End:
		o.end(reply)
	case call.SetAudioEnabled:
		o.setAudio(in.Enabled, reply)
	case call.SetVideoEnabled:
		o.setVideo(in.Enabled, reply)
	case call.SetSpeakerRoute:
		o.setSpeaker(in.Enabled, reply)
	default:
		answer(reply, call.ErrBadIntent)
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev event) {
	// Stale-result guard: a completion for a session that is gone is
	// discarded. Resources it may carry are still released.
	if ev.sessionID != "" && (o.session == nil || o.session.ID != ev.sessionID) {
		if ev.typ == evMediaOpened && ev.handle != nil {
			_ = ev.handle.Close()
		}
		o.logger.Debug("discarded stale event", "session_id", ev.sessionID, "type", int(ev.typ))
		return
	}

	switch ev.typ {
	case evPermissionResult:
		o.onPermissionResult(ctx, ev)
	case evTelephonyRegistered:
		o.onTelephonyRegistered(ctx, ev)
	case evTelephonyAnswered:
		o.onTelephonyAnswered(ev)
	case evMediaOpened:
		o.onMediaOpened(ctx, ev)
	case evConnectivity:
		o.onConnectivity(ev)
	case evGraceElapsed:
		o.onGraceElapsed(ev)
	case evTeardownDone:
		o.onTeardownDone(ev)
	case evUserAnswered:
		o.onUserAnswered(ctx)
	case evUserEnded:
		o.onUserEnded()
	case evUserMuted:
		o.onUserMuted(ev.muted)
	}
}

// shutdown releases exclusive resources when the loop stops.
func (o *Orchestrator) shutdown() {
	if o.cancelOp != nil {
		o.cancelOp()
		o.cancelOp = nil
	}
	if o.handle != nil {
		_ = o.handle.Close()
		o.handle = nil
	}
	o.answerInvite(context.Canceled)
}

func answer(reply chan error, err error) {
	if reply != nil {
		reply <- err
	}
}
