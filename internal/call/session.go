package call

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Kind selects the media profile of a call. Fixed at creation.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Valid reports whether k is one of the two supported call kinds.
func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// Direction records which side initiated the call. Fixed at creation.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Phase is the lifecycle state of a call session.
// Keep values stable because they are part of the public API.
type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseAwaitingPermissions Phase = "awaiting_permissions"
	PhaseConnectingTelephony Phase = "connecting_telephony"
	PhaseConnectingMedia     Phase = "connecting_media"
	PhaseRinging             Phase = "ringing"
	PhaseActive              Phase = "active"
	PhaseEnding              Phase = "ending"
	PhaseEnded               Phase = "ended"
	PhaseFailed              Phase = "failed"
)

// Terminal reports whether p is a final phase. A session in a terminal
// phase can never transition again.
func (p Phase) Terminal() bool {
	return p == PhaseEnded || p == PhaseFailed
}

// Peer identifies the remote party. Both fields are opaque strings; the
// orchestrator performs no validation on them.
type Peer struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// MediaFlags are the user-togglable media switches. Mutable while the
// session is ringing or active.
type MediaFlags struct {
	AudioEnabled   bool `json:"audio_enabled"`
	VideoEnabled   bool `json:"video_enabled"`
	SpeakerEnabled bool `json:"speaker_enabled"`
}

// Session is the aggregate root for one call attempt, from intent to
// terminal phase. Only the orchestrator may mutate it; every other
// component sees read-only snapshots.
type Session struct {
	ID        string
	Peer      Peer
	Kind      Kind
	Direction Direction
	Phase     Phase

	StartedAt time.Time
	EndedAt   time.Time

	Media      MediaFlags
	FailReason string
}

const sessionIDLength = 16

// NewOutgoing creates a session for a locally initiated call. The id is
// generated here and stays stable for the session's lifetime.
func NewOutgoing(peer Peer, kind Kind, now time.Time) (*Session, error) {
	id, err := gonanoid.New(sessionIDLength)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        id,
		Peer:      peer,
		Kind:      kind,
		Direction: DirectionOutgoing,
		Phase:     PhaseAwaitingPermissions,
		StartedAt: now,
		Media:     defaultFlags(kind),
	}, nil
}

// NewIncoming creates a session for an invitation delivered over the wake
// channel. The id is taken from the invitation payload.
func NewIncoming(id string, peer Peer, kind Kind, now time.Time) *Session {
	return &Session{
		ID:        id,
		Peer:      peer,
		Kind:      kind,
		Direction: DirectionIncoming,
		Phase:     PhaseConnectingTelephony,
		StartedAt: now,
		Media:     defaultFlags(kind),
	}
}

func defaultFlags(kind Kind) MediaFlags {
	return MediaFlags{
		AudioEnabled:   true,
		VideoEnabled:   kind == KindVideo,
		SpeakerEnabled: kind == KindVideo,
	}
}

// Snapshot is the read-only view of a session published to observers.
type Snapshot struct {
	ID         string     `json:"id"`
	Peer       Peer       `json:"peer"`
	Kind       Kind       `json:"kind"`
	Direction  Direction  `json:"direction"`
	Phase      Phase      `json:"phase"`
	Label      string     `json:"label"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    time.Time  `json:"ended_at,omitempty"`
	Media      MediaFlags `json:"media"`
	FailReason string     `json:"fail_reason,omitempty"`
}

// Snapshot copies the session into its observer view. The label is the
// human-readable connection state supplied by the orchestrator.
func (s *Session) Snapshot(label string) Snapshot {
	return Snapshot{
		ID:         s.ID,
		Peer:       s.Peer,
		Kind:       s.Kind,
		Direction:  s.Direction,
		Phase:      s.Phase,
		Label:      label,
		StartedAt:  s.StartedAt,
		EndedAt:    s.EndedAt,
		Media:      s.Media,
		FailReason: s.FailReason,
	}
}
