package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
	"github.com/TekiyoCorp/ID-sub000/internal/media"
	"github.com/TekiyoCorp/ID-sub000/internal/permission"
	"github.com/TekiyoCorp/ID-sub000/internal/telephony"
	"github.com/TekiyoCorp/ID-sub000/internal/wake"
)

const waitTimeout = 2 * time.Second

type fixture struct {
	orch   *Orchestrator
	engine *media.SimEngine
	bridge *telephony.SimBridge
	snaps  <-chan call.Snapshot
}

func newFixture(t *testing.T, cfg Config, gate PermissionGate) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := media.NewSimEngine()
	bridge := telephony.NewSimBridge()
	if gate == nil {
		gate = permission.NewGate(&permission.StaticAuthorizer{Grants: map[permission.Resource]permission.Status{
			permission.ResourceMicrophone: permission.StatusGranted,
			permission.ResourceCamera:     permission.StatusGranted,
		}})
	}

	orch := New(Deps{
		Gate:  gate,
		Media: media.NewManager(engine, logger),
		Tel:   bridge,
	}, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go orch.Run(ctx)
	t.Cleanup(cancel)

	snaps, unsub := orch.Subscribe()
	t.Cleanup(unsub)

	return &fixture{orch: orch, engine: engine, bridge: bridge, snaps: snaps}
}

// waitPhase consumes snapshots until the wanted phase shows up,
// returning every phase seen on the way (including the match).
func (f *fixture) waitPhase(t *testing.T, want call.Phase) []call.Phase {
	t.Helper()
	deadline := time.After(waitTimeout)
	var seen []call.Phase
	for {
		select {
		case snap := <-f.snaps:
			seen = append(seen, snap.Phase)
			if snap.Phase == want {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for phase %s, saw %v", want, seen)
		}
	}
}

// waitSnap consumes snapshots until the wanted phase shows up and
// returns that snapshot.
func (f *fixture) waitSnap(t *testing.T, want call.Phase) call.Snapshot {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case snap := <-f.snaps:
			if snap.Phase == want {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for phase %s", want)
		}
	}
}

// waitHandle waits for the sim engine to hand out a media handle.
func (f *fixture) waitHandle(t *testing.T) *media.SimHandle {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if h := f.engine.LastHandle(); h != nil {
			return h
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no media handle opened")
	return nil
}

func (f *fixture) startActiveOutgoing(t *testing.T, kind call.Kind) {
	t.Helper()
	prev := f.engine.LastHandle()
	if err := f.orch.Submit(context.Background(), call.StartOutgoing{
		Peer: call.Peer{ID: "p1", DisplayName: "Peer One"},
		Kind: kind,
	}); err != nil {
		t.Fatalf("start outgoing: %v", err)
	}
	f.waitPhase(t, call.PhaseConnectingMedia)

	// The handle of a previous call in the same fixture is closed and
	// inert; wait for the fresh one before driving connectivity.
	deadline := time.Now().Add(waitTimeout)
	for {
		if h := f.engine.LastHandle(); h != nil && h != prev {
			h.Push(media.ConnConnected)
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no media handle opened")
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.waitPhase(t, call.PhaseActive)
}

func invitation(id string) call.IncomingInvitation {
	return call.IncomingInvitation{
		SessionID: id,
		Peer:      call.Peer{ID: "p2", DisplayName: "Peer Two"},
		Kind:      call.KindAudio,
	}
}

func TestOutgoingVideoCallReachesActive(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	if err := f.orch.Submit(context.Background(), call.StartOutgoing{
		Peer: call.Peer{ID: "p1", DisplayName: "Peer One"},
		Kind: call.KindVideo,
	}); err != nil {
		t.Fatalf("start outgoing: %v", err)
	}

	seen := f.waitPhase(t, call.PhaseConnectingMedia)
	f.waitHandle(t).Push(media.ConnConnected)
	seen = append(seen, f.waitPhase(t, call.PhaseActive)...)

	want := []call.Phase{
		call.PhaseAwaitingPermissions,
		call.PhaseConnectingTelephony,
		call.PhaseConnectingMedia,
		call.PhaseActive,
	}
	if len(seen) != len(want) {
		t.Fatalf("phase sequence %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("phase sequence %v, want %v", seen, want)
		}
	}

	snap := f.orch.Snapshot()
	if snap == nil || snap.Phase != call.PhaseActive {
		t.Fatalf("snapshot %+v, want active", snap)
	}
	if snap.Direction != call.DirectionOutgoing || snap.Kind != call.KindVideo {
		t.Fatalf("snapshot identity %+v", snap)
	}
	if f.bridge.Registered() != snap.ID {
		t.Fatalf("telephony registered %q, want %q", f.bridge.Registered(), snap.ID)
	}
}

func TestSecondInvitationRejectedWhileFirstLive(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	if err := f.orch.DeliverInvitation(context.Background(), invitation("s1")); err != nil {
		t.Fatalf("first invitation: %v", err)
	}
	f.waitPhase(t, call.PhaseRinging)

	err := f.orch.DeliverInvitation(context.Background(), invitation("s2"))
	if !errors.Is(err, call.ErrConcurrentSession) {
		t.Fatalf("second invitation error %v, want ErrConcurrentSession", err)
	}

	// s1 is unaffected.
	snap := f.orch.Snapshot()
	if snap == nil || snap.ID != "s1" || snap.Phase != call.PhaseRinging {
		t.Fatalf("snapshot %+v, want s1 ringing", snap)
	}
}

func TestConcurrentOutgoingRejected(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.startActiveOutgoing(t, call.KindAudio)

	err := f.orch.Submit(context.Background(), call.StartOutgoing{
		Peer: call.Peer{ID: "p9"},
		Kind: call.KindAudio,
	})
	if !errors.Is(err, call.ErrConcurrentSession) {
		t.Fatalf("second start error %v, want ErrConcurrentSession", err)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.startActiveOutgoing(t, call.KindAudio)

	if err := f.orch.Submit(context.Background(), call.End{}); err != nil {
		t.Fatalf("first end: %v", err)
	}
	if err := f.orch.Submit(context.Background(), call.End{}); err != nil {
		t.Fatalf("second end should be a no-op, got %v", err)
	}

	f.waitPhase(t, call.PhaseEnded)

	// Exactly one terminal notification.
	select {
	case snap := <-f.snaps:
		t.Fatalf("unexpected snapshot after terminal: %+v", snap)
	case <-time.After(100 * time.Millisecond):
	}

	if snap := f.orch.Snapshot(); snap != nil {
		t.Fatalf("session not drained: %+v", snap)
	}
}

func TestEndAfterTerminalDrainIsNoOp(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.startActiveOutgoing(t, call.KindAudio)

	if err := f.orch.Submit(context.Background(), call.End{}); err != nil {
		t.Fatalf("end: %v", err)
	}
	f.waitPhase(t, call.PhaseEnded)

	// The session is fully drained by now; a late duplicate End must
	// still be absorbed.
	if snap := f.orch.Snapshot(); snap != nil {
		t.Fatalf("session not drained: %+v", snap)
	}
	if err := f.orch.Submit(context.Background(), call.End{}); err != nil {
		t.Fatalf("end after drain should be a no-op, got %v", err)
	}

	// A fresh session resets the memory: ending it twice is still fine,
	// but the no-op applies to the new session, not the old one.
	f.startActiveOutgoing(t, call.KindAudio)
	if err := f.orch.Submit(context.Background(), call.End{}); err != nil {
		t.Fatalf("end second call: %v", err)
	}
	f.waitPhase(t, call.PhaseEnded)
}

func TestIncomingAnswerFlow(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	if err := f.orch.DeliverInvitation(context.Background(), invitation("s1")); err != nil {
		t.Fatalf("invitation: %v", err)
	}
	f.waitPhase(t, call.PhaseRinging)

	if err := f.orch.Submit(context.Background(), call.Answer{}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	f.waitPhase(t, call.PhaseConnectingMedia)
	f.waitHandle(t).Push(media.ConnConnected)
	f.waitPhase(t, call.PhaseActive)
}

func TestRejectEndsRingingCall(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	if err := f.orch.DeliverInvitation(context.Background(), invitation("s1")); err != nil {
		t.Fatalf("invitation: %v", err)
	}
	f.waitPhase(t, call.PhaseRinging)

	if err := f.orch.Submit(context.Background(), call.Reject{}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	seen := f.waitPhase(t, call.PhaseEnded)
	if seen[len(seen)-2] != call.PhaseEnding {
		t.Fatalf("expected ending before ended, saw %v", seen)
	}
}

func TestPermissionDeniedFailsCall(t *testing.T) {
	gate := permission.NewGate(&permission.StaticAuthorizer{Grants: map[permission.Resource]permission.Status{
		permission.ResourceMicrophone: permission.StatusDenied,
	}})
	f := newFixture(t, Config{}, gate)

	if err := f.orch.Submit(context.Background(), call.StartOutgoing{
		Peer: call.Peer{ID: "p1"},
		Kind: call.KindAudio,
	}); err != nil {
		t.Fatalf("start outgoing: %v", err)
	}

	seen := f.waitPhase(t, call.PhaseFailed)
	for _, p := range seen {
		if p == call.PhaseEnding {
			t.Fatalf("setup failure should not pass through ending, saw %v", seen)
		}
	}
}

func TestMediaOpenFailureFailsCall(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.engine.OpenErr = call.ErrMediaUnavailable

	if err := f.orch.Submit(context.Background(), call.StartOutgoing{
		Peer: call.Peer{ID: "p1"},
		Kind: call.KindAudio,
	}); err != nil {
		t.Fatalf("start outgoing: %v", err)
	}

	f.waitPhase(t, call.PhaseFailed)
}

// blockingAuthorizer suspends the prompt until released, ignoring
// cancellation, to model a prompt completion arriving after the session
// already moved on.
type blockingAuthorizer struct {
	release chan struct{}
}

func (a *blockingAuthorizer) Status(permission.Resource) permission.Status {
	return permission.StatusUndetermined
}

func (a *blockingAuthorizer) Request(ctx context.Context, res permission.Resource) (bool, error) {
	<-a.release
	return true, nil
}

func TestStalePermissionResultDoesNotResurrectSession(t *testing.T) {
	auth := &blockingAuthorizer{release: make(chan struct{})}
	f := newFixture(t, Config{}, permission.NewGate(auth))

	if err := f.orch.Submit(context.Background(), call.StartOutgoing{
		Peer: call.Peer{ID: "p1"},
		Kind: call.KindAudio,
	}); err != nil {
		t.Fatalf("start outgoing: %v", err)
	}
	f.waitPhase(t, call.PhaseAwaitingPermissions)

	if err := f.orch.Submit(context.Background(), call.End{}); err != nil {
		t.Fatalf("end: %v", err)
	}
	f.waitPhase(t, call.PhaseEnded)

	// The prompt resolves late; the grant must be discarded.
	close(auth.release)

	select {
	case snap := <-f.snaps:
		t.Fatalf("stale permission result resurrected session: %+v", snap)
	case <-time.After(150 * time.Millisecond):
	}
	if snap := f.orch.Snapshot(); snap != nil {
		t.Fatalf("expected no session, got %+v", snap)
	}
}

func TestInvitationDeadlineMissed(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.bridge.ReportDelay = 200 * time.Millisecond

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bridge := wake.NewBridge(f.orch, 40*time.Millisecond, logger)

	payload := []byte(`{"sessionId":"s1","peerId":"p2","peerName":"Peer Two","kind":"audio"}`)
	err := bridge.HandleWake(context.Background(), payload)
	if !errors.Is(err, call.ErrTelephonyDeadline) {
		t.Fatalf("error %v, want ErrTelephonyDeadline", err)
	}

	seen := f.waitPhase(t, call.PhaseFailed)
	for _, p := range seen {
		if p == call.PhaseRinging {
			t.Fatalf("missed deadline must never reach ringing, saw %v", seen)
		}
	}
}

func TestDisconnectRecoversWithinGrace(t *testing.T) {
	f := newFixture(t, Config{DisconnectGrace: 150 * time.Millisecond}, nil)
	f.startActiveOutgoing(t, call.KindAudio)
	h := f.waitHandle(t)

	h.Push(media.ConnDisconnected)
	time.Sleep(30 * time.Millisecond)
	h.Push(media.ConnConnected)

	// Well past the grace window: the call must still be active.
	time.Sleep(300 * time.Millisecond)
	snap := f.orch.Snapshot()
	if snap == nil || snap.Phase != call.PhaseActive {
		t.Fatalf("snapshot %+v, want active", snap)
	}
	for {
		select {
		case got := <-f.snaps:
			if got.Phase == call.PhaseEnding || got.Phase.Terminal() {
				t.Fatalf("blip escalated to %s", got.Phase)
			}
		default:
			return
		}
	}
}

func TestDisconnectWithoutRecoveryEndsCall(t *testing.T) {
	f := newFixture(t, Config{DisconnectGrace: 50 * time.Millisecond}, nil)
	f.startActiveOutgoing(t, call.KindAudio)

	f.waitHandle(t).Push(media.ConnDisconnected)

	seen := f.waitPhase(t, call.PhaseEnding)
	for _, p := range seen {
		if p == call.PhaseEnded {
			t.Fatalf("expected ending before ended, saw %v", seen)
		}
	}
	snap := f.waitSnap(t, call.PhaseEnded)
	if snap.FailReason != reasonConnectivityLost {
		t.Fatalf("fail reason %q, want %q", snap.FailReason, reasonConnectivityLost)
	}
}

func TestProviderResetForcesEnded(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.startActiveOutgoing(t, call.KindAudio)

	f.bridge.Emit(telephony.Event{Type: telephony.EventProviderReset})

	seen := f.waitPhase(t, call.PhaseEnded)
	for _, p := range seen {
		if p == call.PhaseEnding {
			t.Fatalf("provider reset must bypass ending, saw %v", seen)
		}
	}
	if snap := f.orch.Snapshot(); snap != nil {
		t.Fatalf("session not drained after reset: %+v", snap)
	}
}

func TestSystemEndDuringRinging(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	if err := f.orch.DeliverInvitation(context.Background(), invitation("s1")); err != nil {
		t.Fatalf("invitation: %v", err)
	}
	f.waitPhase(t, call.PhaseRinging)

	f.bridge.Emit(telephony.Event{Type: telephony.EventUserEnded, SessionID: "s1"})
	f.waitPhase(t, call.PhaseEnded)
}

func TestMediaTogglesDuringActive(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.startActiveOutgoing(t, call.KindAudio)

	if err := f.orch.Submit(context.Background(), call.SetAudioEnabled{Enabled: false}); err != nil {
		t.Fatalf("set audio: %v", err)
	}
	snap := f.orch.Snapshot()
	if snap == nil || snap.Media.AudioEnabled {
		t.Fatalf("audio still enabled: %+v", snap)
	}

	// The system call object's mute flag follows asynchronously.
	deadline := time.Now().Add(waitTimeout)
	for !f.bridge.Muted() {
		if time.Now().After(deadline) {
			t.Fatalf("system mute flag never set")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestToggleRejectedOutsideCall(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	err := f.orch.Submit(context.Background(), call.SetVideoEnabled{Enabled: true})
	if !errors.Is(err, call.ErrNoSession) {
		t.Fatalf("error %v, want ErrNoSession", err)
	}
}

func TestEndWithoutCallRejected(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	err := f.orch.Submit(context.Background(), call.End{})
	if !errors.Is(err, call.ErrNoSession) {
		t.Fatalf("error %v, want ErrNoSession", err)
	}
}

func TestEventProducersUnblockAfterStop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := New(Deps{
		Gate: permission.NewGate(&permission.StaticAuthorizer{Grants: map[permission.Resource]permission.Status{
			permission.ResourceMicrophone: permission.StatusGranted,
		}}),
		Media: media.NewManager(media.NewSimEngine(), logger),
		Tel:   telephony.NewSimBridge(),
	}, Config{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		orch.Run(ctx)
		close(stopped)
	}()
	cancel()
	select {
	case <-stopped:
	case <-time.After(waitTimeout):
		t.Fatalf("run loop did not stop")
	}

	// A straggling grace timer firing after the loop exits must not
	// hang its goroutine, even with the queue never drained again.
	posted := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			orch.post(event{typ: evGraceElapsed, sessionID: "s1"})
		}
		close(posted)
	}()
	select {
	case <-posted:
	case <-time.After(waitTimeout):
		t.Fatalf("post blocked after run loop stopped")
	}
}
