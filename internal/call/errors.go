package call

import "errors"

var (
	// ErrPermissionDenied is returned when microphone or camera
	// authorization is denied or restricted by the platform.
	ErrPermissionDenied = errors.New("call: permission denied")

	// ErrTelephonyRegistration is returned when the telephony layer
	// rejects registering the call with the system UI.
	ErrTelephonyRegistration = errors.New("call: telephony registration failed")

	// ErrTelephonyDeadline is returned when an incoming invitation could
	// not be registered inside the OS handling window. Non-retryable.
	ErrTelephonyDeadline = errors.New("call: telephony registration deadline missed")

	// ErrMediaUnavailable is returned when the media engine cannot
	// allocate local capture, or a media handle is already open.
	ErrMediaUnavailable = errors.New("call: media unavailable")

	// ErrInvitationDecode is returned for wake payloads with missing or
	// malformed fields. Such payloads are dropped silently.
	ErrInvitationDecode = errors.New("call: invitation decode failed")

	// ErrConcurrentSession is returned when an intent would create a
	// second session while one is still non-terminal.
	ErrConcurrentSession = errors.New("call: another call is in progress")

	// ErrNoSession is returned for intents that require a live session
	// when none exists.
	ErrNoSession = errors.New("call: no call in progress")

	// ErrBadIntent is returned when an intent is not valid in the
	// session's current phase.
	ErrBadIntent = errors.New("call: intent not valid in current phase")
)
