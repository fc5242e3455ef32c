package call

// Intent is a transient command handed to the orchestrator. Intents are
// never stored; they are the only input of the transition function.
type Intent interface {
	isIntent()
}

// StartOutgoing asks for a new locally initiated call.
type StartOutgoing struct {
	Peer Peer
	Kind Kind
}

// IncomingInvitation is produced by the wake delivery bridge from a
// decoded wake payload.
type IncomingInvitation struct {
	SessionID string
	Peer      Peer
	Kind      Kind
}

// Answer accepts a ringing incoming call.
type Answer struct{}

// Reject declines a ringing incoming call.
type Reject struct{}

// End hangs up the current call in any non-terminal phase.
type End struct{}

// SetAudioEnabled toggles the local microphone track.
type SetAudioEnabled struct{ Enabled bool }

// SetVideoEnabled toggles the local camera track.
type SetVideoEnabled struct{ Enabled bool }

// SetSpeakerRoute requests the loudspeaker audio route. The platform
// route change may fail; failure never changes the call phase.
type SetSpeakerRoute struct{ Enabled bool }

func (StartOutgoing) isIntent()      {}
func (IncomingInvitation) isIntent() {}
func (Answer) isIntent()             {}
func (Reject) isIntent()             {}
func (End) isIntent()                {}
func (SetAudioEnabled) isIntent()    {}
func (SetVideoEnabled) isIntent()    {}
func (SetSpeakerRoute) isIntent()    {}
