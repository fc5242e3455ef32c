package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
	"github.com/TekiyoCorp/ID-sub000/internal/media"
)

const (
	reasonPermissionDenied = "microphone or camera permission denied"
	reasonTelephonyFailed  = "call could not be registered with the system"
	reasonDeadlineMissed   = "incoming call missed the handling window"
	reasonMediaUnavailable = "audio or video device unavailable"
	reasonConnectivityLost = "connection lost"
	reasonAnswerFailed     = "call could not be answered"
)

// -- intents ---------------------------------------------------------------

func (o *Orchestrator) startOutgoing(ctx context.Context, in call.StartOutgoing, reply chan error) {
	if o.session != nil {
		answer(reply, call.ErrConcurrentSession)
		return
	}
	if !in.Kind.Valid() {
		answer(reply, call.ErrBadIntent)
		return
	}

	s, err := call.NewOutgoing(in.Peer, in.Kind, o.nowFn())
	if err != nil {
		answer(reply, err)
		return
	}
	o.session = s
	o.lastDrained = ""
	o.logger.Info("outgoing call created", "session_id", s.ID, "peer_id", s.Peer.ID, "kind", s.Kind)
	o.publish()
	answer(reply, nil)

	// Wake the remote device. Fire and forget: delivery has no feedback
	// into the state machine.
	go o.notifier.NotifyIncomingCall(context.WithoutCancel(ctx), s)

	o.spawnPermissions(ctx, s)
}

func (o *Orchestrator) startIncoming(ctx context.Context, in call.IncomingInvitation, reply chan error) {
	if o.session != nil {
		// Rejected, not queued: no call waiting.
		answer(reply, call.ErrConcurrentSession)
		return
	}

	s := call.NewIncoming(in.SessionID, in.Peer, in.Kind, o.nowFn())
	o.session = s
	o.lastDrained = ""
	o.inviteAck = reply
	o.logger.Info("incoming call created", "session_id", s.ID, "peer_id", s.Peer.ID, "kind", s.Kind)
	o.publish()

	// ctx carries the wake handling-window deadline; the registration
	// either completes inside it or the invitation is dead.
	opCtx, cancel := context.WithCancel(ctx)
	o.cancelOp = cancel
	go func() {
		err := o.tel.ReportIncoming(opCtx, s)
		o.post(event{typ: evTelephonyRegistered, sessionID: s.ID, err: err})
	}()
}

func (o *Orchestrator) answer(ctx context.Context, reply chan error) {
	if o.session == nil {
		answer(reply, call.ErrNoSession)
		return
	}
	if o.session.Phase != call.PhaseRinging {
		answer(reply, call.ErrBadIntent)
		return
	}

	// Permissions were deferred until the user committed to the call.
	o.answered = true
	o.session.Phase = call.PhaseAwaitingPermissions
	o.publish()
	answer(reply, nil)
	o.spawnPermissions(ctx, o.session)
}

func (o *Orchestrator) reject(reply chan error) {
	if o.session == nil {
		answer(reply, call.ErrNoSession)
		return
	}
	if o.session.Phase != call.PhaseRinging {
		answer(reply, call.ErrBadIntent)
		return
	}
	answer(reply, nil)
	o.startTeardown(call.PhaseEnded, "")
}

func (o *Orchestrator) end(reply chan error) {
	if o.session == nil {
		// A second End racing the teardown may arrive after the session
		// already drained; it is a no-op against the drained session,
		// not an error.
		if o.lastDrained != "" {
			answer(reply, nil)
			return
		}
		answer(reply, call.ErrNoSession)
		return
	}
	// A second End racing an OS teardown is a no-op against a session
	// that is already on its way out.
	if o.session.Phase == call.PhaseEnding || o.session.Phase.Terminal() {
		answer(reply, nil)
		return
	}
	answer(reply, nil)
	o.startTeardown(call.PhaseEnded, "")
}

func (o *Orchestrator) setAudio(enabled bool, reply chan error) {
	if err := o.checkToggle(); err != nil {
		answer(reply, err)
		return
	}
	o.session.Media.AudioEnabled = enabled
	if o.handle != nil {
		o.handle.SetAudioEnabled(enabled)
	}
	// Keep the system call object's mute flag in step.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.TeardownTimeout)
		defer cancel()
		if err := o.tel.SetMuted(ctx, !enabled); err != nil {
			o.logger.Warn("system mute relay failed", "error", err)
		}
	}()
	o.publish()
	answer(reply, nil)
}

func (o *Orchestrator) setVideo(enabled bool, reply chan error) {
	if err := o.checkToggle(); err != nil {
		answer(reply, err)
		return
	}
	o.session.Media.VideoEnabled = enabled
	if o.handle != nil {
		o.handle.SetVideoEnabled(enabled)
	}
	o.publish()
	answer(reply, nil)
}

func (o *Orchestrator) setSpeaker(enabled bool, reply chan error) {
	if err := o.checkToggle(); err != nil {
		answer(reply, err)
		return
	}
	if o.handle != nil {
		// A failed route change is reported to the caller but never
		// changes the call phase.
		if err := o.handle.SetSpeakerRoute(enabled); err != nil {
			o.logger.Warn("speaker route change failed", "error", err)
			answer(reply, err)
			return
		}
	}
	o.session.Media.SpeakerEnabled = enabled
	o.publish()
	answer(reply, nil)
}

func (o *Orchestrator) checkToggle() error {
	if o.session == nil {
		return call.ErrNoSession
	}
	if o.session.Phase != call.PhaseRinging && o.session.Phase != call.PhaseActive {
		return call.ErrBadIntent
	}
	return nil
}

// -- completions of suspended operations -----------------------------------

func (o *Orchestrator) spawnPermissions(ctx context.Context, s *call.Session) {
	opCtx, cancel := context.WithCancel(ctx)
	o.cancelOp = cancel
	go func() {
		err := o.gate.Ensure(opCtx, s.Kind)
		o.post(event{typ: evPermissionResult, sessionID: s.ID, err: err})
	}()
}

func (o *Orchestrator) onPermissionResult(ctx context.Context, ev event) {
	if o.session.Phase != call.PhaseAwaitingPermissions {
		return
	}
	o.cancelOp = nil

	if ev.err != nil {
		o.logger.Warn("permissions not granted", "session_id", o.session.ID, "error", ev.err)
		o.fail(reasonPermissionDenied)
		return
	}

	s := o.session
	if s.Direction == call.DirectionOutgoing {
		s.Phase = call.PhaseConnectingTelephony
		o.publish()
		opCtx, cancel := context.WithCancel(ctx)
		o.cancelOp = cancel
		go func() {
			err := o.tel.ReportOutgoing(opCtx, s)
			o.post(event{typ: evTelephonyRegistered, sessionID: s.ID, err: err})
		}()
		return
	}

	// Incoming call, answered by the user: media is already open, tell
	// the system UI and wait for connectivity.
	s.Phase = call.PhaseConnectingMedia
	o.publish()
	opCtx, cancel := context.WithCancel(ctx)
	o.cancelOp = cancel
	go func() {
		err := o.tel.Answer(opCtx)
		o.post(event{typ: evTelephonyAnswered, sessionID: s.ID, err: err})
	}()
}

func (o *Orchestrator) onTelephonyRegistered(ctx context.Context, ev event) {
	if o.session.Phase != call.PhaseConnectingTelephony {
		return
	}
	o.cancelOp = nil
	s := o.session

	if ev.err != nil {
		err := ev.err
		reason := reasonTelephonyFailed
		if errors.Is(err, context.DeadlineExceeded) {
			err = call.ErrTelephonyDeadline
			reason = reasonDeadlineMissed
		}
		o.logger.Error("telephony registration failed", "session_id", s.ID, "error", ev.err)
		o.answerInvite(err)
		o.fail(reason)
		return
	}

	o.answerInvite(nil)
	s.Phase = call.PhaseConnectingMedia
	o.publish()

	opCtx, cancel := context.WithCancel(ctx)
	o.cancelOp = cancel
	go func() {
		h, err := o.media.Open(opCtx, s.Kind)
		o.post(event{typ: evMediaOpened, sessionID: s.ID, handle: h, err: err})
	}()
}

func (o *Orchestrator) onTelephonyAnswered(ev event) {
	if o.session.Phase != call.PhaseConnectingMedia || !o.answered {
		return
	}
	o.cancelOp = nil
	if ev.err != nil {
		o.logger.Error("answer failed", "session_id", o.session.ID, "error", ev.err)
		o.fail(reasonAnswerFailed)
		return
	}
	// Connectivity may have been reached while the call was still
	// ringing; in that case there is nothing left to wait for.
	if o.connState == media.ConnConnected || o.connState == media.ConnCompleted {
		o.toActive()
	}
}

func (o *Orchestrator) onMediaOpened(ctx context.Context, ev event) {
	if o.session.Phase != call.PhaseConnectingMedia || o.handle != nil {
		// The session moved on while the open was in flight; release
		// the allocation instead of resurrecting the session.
		if ev.handle != nil {
			_ = ev.handle.Close()
		}
		return
	}
	o.cancelOp = nil
	s := o.session

	if ev.err != nil {
		o.logger.Error("media open failed", "session_id", s.ID, "error", ev.err)
		o.fail(reasonMediaUnavailable)
		return
	}

	o.handle = ev.handle
	o.handle.SetAudioEnabled(s.Media.AudioEnabled)
	o.handle.SetVideoEnabled(s.Media.VideoEnabled)
	go o.pumpConnectivity(ctx, s.ID, o.handle)

	if s.Direction == call.DirectionIncoming {
		s.Phase = call.PhaseRinging
		o.publish()
	}
	// Outgoing calls skip ringing and stay in connecting_media until
	// connectivity is reached.
}

func (o *Orchestrator) pumpConnectivity(ctx context.Context, sessionID string, h media.Handle) {
	states := h.Connectivity()
	for {
		select {
		case state := <-states:
			o.post(event{typ: evConnectivity, sessionID: sessionID, state: state})
		case <-ctx.Done():
			return
		}
	}
}

// -- connectivity ----------------------------------------------------------

func (o *Orchestrator) onConnectivity(ev event) {
	o.connState = ev.state
	s := o.session

	switch ev.state {
	case media.ConnConnected, media.ConnCompleted:
		if s.Phase == call.PhaseActive && o.disconnected {
			// Recovered inside the grace window.
			o.disconnected = false
			o.graceEpoch++
			o.logger.Info("connectivity recovered", "session_id", s.ID)
			o.publish()
			return
		}
		if s.Phase == call.PhaseConnectingMedia {
			if s.Direction == call.DirectionOutgoing || o.answered {
				o.toActive()
			}
		}

	case media.ConnDisconnected:
		if s.Phase != call.PhaseActive || o.disconnected {
			return
		}
		// Brief network blips are tolerated; only an unrecovered drop
		// ends the call.
		o.disconnected = true
		o.graceEpoch++
		epoch := o.graceEpoch
		sid := s.ID
		time.AfterFunc(o.cfg.DisconnectGrace, func() {
			o.post(event{typ: evGraceElapsed, sessionID: sid, graceEpoch: epoch})
		})
		o.logger.Warn("connectivity lost, grace window started", "session_id", s.ID, "grace", o.cfg.DisconnectGrace)
		o.publish()

	case media.ConnFailed, media.ConnClosed:
		switch s.Phase {
		case call.PhaseActive, call.PhaseRinging:
			o.startTeardown(call.PhaseEnded, reasonConnectivityLost)
		case call.PhaseConnectingMedia:
			o.fail(reasonConnectivityLost)
		}
	}
}

func (o *Orchestrator) onGraceElapsed(ev event) {
	// The epoch invalidates timers from grace windows that were
	// canceled by a recovery.
	if ev.graceEpoch != o.graceEpoch || !o.disconnected {
		return
	}
	if o.session.Phase != call.PhaseActive {
		return
	}
	o.logger.Warn("grace window elapsed", "session_id", o.session.ID)
	o.startTeardown(call.PhaseEnded, reasonConnectivityLost)
}

func (o *Orchestrator) toActive() {
	s := o.session
	s.Phase = call.PhaseActive
	o.logger.Info("call active", "session_id", s.ID)
	o.publish()
}

// -- system-UI events ------------------------------------------------------

func (o *Orchestrator) onUserAnswered(ctx context.Context) {
	if o.session == nil || o.session.Phase != call.PhaseRinging {
		return
	}
	o.answered = true
	o.session.Phase = call.PhaseAwaitingPermissions
	o.publish()
	o.spawnPermissions(ctx, o.session)
}

func (o *Orchestrator) onUserEnded() {
	if o.session == nil {
		return
	}
	// First observed terminal request wins; anything after is a no-op.
	if o.session.Phase == call.PhaseEnding || o.session.Phase.Terminal() {
		return
	}
	o.startTeardown(call.PhaseEnded, "")
}

func (o *Orchestrator) onUserMuted(muted bool) {
	if o.session == nil {
		return
	}
	if o.session.Phase != call.PhaseRinging && o.session.Phase != call.PhaseActive {
		return
	}
	o.session.Media.AudioEnabled = !muted
	if o.handle != nil {
		o.handle.SetAudioEnabled(!muted)
	}
	o.publish()
}

// handleProviderReset forces the live session to terminal ended,
// bypassing the ending phase, ahead of any queued event.
func (o *Orchestrator) handleProviderReset() {
	if o.session == nil {
		return
	}
	s := o.session
	o.logger.Warn("provider reset, forcing call to ended", "session_id", s.ID)

	if o.cancelOp != nil {
		o.cancelOp()
		o.cancelOp = nil
	}
	o.answerInvite(context.Canceled)
	if o.handle != nil {
		_ = o.handle.Close()
		o.handle = nil
	}

	s.Phase = call.PhaseEnded
	s.EndedAt = o.nowFn()
	o.publish()
	o.clearSession()
}

// -- teardown and terminal transitions -------------------------------------

// startTeardown moves the session to ending and releases media and
// telephony resources off the loop. target is the terminal phase the
// teardown resolves to once complete.
func (o *Orchestrator) startTeardown(target call.Phase, reason string) {
	s := o.session

	if o.cancelOp != nil {
		o.cancelOp()
		o.cancelOp = nil
	}
	o.answerInvite(context.Canceled)
	o.disconnected = false
	o.graceEpoch++

	s.Phase = call.PhaseEnding
	s.FailReason = reason
	o.publish()

	h := o.handle
	o.handle = nil
	timeout := o.cfg.TeardownTimeout
	go func(sid string) {
		if h != nil {
			_ = h.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := o.tel.End(ctx); err != nil {
			o.logger.Warn("telephony end failed", "session_id", sid, "error", err)
		}
		o.post(event{typ: evTeardownDone, sessionID: sid, target: target, reason: reason})
	}(s.ID)
}

func (o *Orchestrator) onTeardownDone(ev event) {
	if o.session.Phase != call.PhaseEnding {
		return
	}
	s := o.session
	s.Phase = ev.target
	s.FailReason = ev.reason
	s.EndedAt = o.nowFn()
	o.logger.Info("call finished", "session_id", s.ID, "phase", s.Phase, "reason", s.FailReason)
	o.publish()
	o.clearSession()
}

// fail is the direct route to terminal failed for setup failures, per
// the transition table: no intermediate ending phase, but resources are
// still released.
func (o *Orchestrator) fail(reason string) {
	s := o.session

	if o.cancelOp != nil {
		o.cancelOp()
		o.cancelOp = nil
	}
	o.disconnected = false
	o.graceEpoch++

	if h := o.handle; h != nil {
		o.handle = nil
		go func() { _ = h.Close() }()
	}
	timeout := o.cfg.TeardownTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = o.tel.End(ctx)
	}()

	s.Phase = call.PhaseFailed
	s.FailReason = reason
	s.EndedAt = o.nowFn()
	o.publish()
	o.clearSession()
}

func (o *Orchestrator) clearSession() {
	o.lastDrained = o.session.ID
	o.session = nil
	o.answered = false
	o.disconnected = false
	o.connState = ""
	// Observers were notified of the terminal phase above; the current
	// snapshot now drains back to "no call".
	o.observers.clear()
}

func (o *Orchestrator) answerInvite(err error) {
	if o.inviteAck != nil {
		o.inviteAck <- err
		o.inviteAck = nil
	}
}

func (o *Orchestrator) publish() {
	s := o.session
	o.observers.publish(s.Snapshot(o.label(s)))
}

// label renders the human-readable connection state for the UI.
func (o *Orchestrator) label(s *call.Session) string {
	switch s.Phase {
	case call.PhaseAwaitingPermissions:
		return "Requesting permissions"
	case call.PhaseConnectingTelephony:
		if s.Direction == call.DirectionOutgoing {
			return "Calling"
		}
		return "Incoming call"
	case call.PhaseConnectingMedia:
		return "Connecting"
	case call.PhaseRinging:
		return "Ringing"
	case call.PhaseActive:
		if o.disconnected {
			return "Reconnecting"
		}
		return "Connected"
	case call.PhaseEnding:
		return "Ending"
	case call.PhaseEnded:
		return "Call ended"
	case call.PhaseFailed:
		return "Call failed"
	default:
		return ""
	}
}
