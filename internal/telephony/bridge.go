// Package telephony drives the native call-UI surface: registering
// outgoing and incoming calls with the system, relaying local user
// actions to the system call object, and reporting system-driven state
// changes back to the orchestrator.
package telephony

import (
	"context"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
)

// EventType enumerates system-driven notifications. These originate in
// the native call UI itself, not in this app's own UI.
type EventType string

const (
	// EventUserAnswered: the user answered from the system ringing screen.
	EventUserAnswered EventType = "user_answered"
	// EventUserEnded: the user hung up from the system UI.
	EventUserEnded EventType = "user_ended"
	// EventUserMuted: the user toggled mute from the system UI.
	EventUserMuted EventType = "user_muted"
	// EventProviderReset: the OS unilaterally reset all call state.
	// Every live session must be forced to a terminal phase.
	EventProviderReset EventType = "provider_reset"
)

// Event is one entry of the bridge's unsolicited event stream.
type Event struct {
	Type      EventType
	SessionID string
	Muted     bool
}

// Bridge is the telephony integration boundary. Report calls suspend
// until the OS acknowledges; they honor ctx cancellation. ReportIncoming
// carries the wake handling-window deadline in its ctx. Missing it or
// an OS rejection aborts the call locally and is never retried, because
// a failed registration penalizes the app's ability to receive future
// wake signals.
type Bridge interface {
	ReportOutgoing(ctx context.Context, s *call.Session) error
	ReportIncoming(ctx context.Context, s *call.Session) error
	Answer(ctx context.Context) error
	End(ctx context.Context) error
	SetMuted(ctx context.Context, muted bool) error
	Events() <-chan Event
}
