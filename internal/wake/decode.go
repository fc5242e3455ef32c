// Package wake turns opaque out-of-band wake payloads into incoming
// call invitations, and sends the mirror-image push that wakes the
// remote device for an outgoing call.
package wake

import (
	"encoding/json"
	"fmt"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
)

// invitationPayload is the wire shape of the wake delivery boundary.
type invitationPayload struct {
	SessionID string `json:"sessionId"`
	PeerID    string `json:"peerId"`
	PeerName  string `json:"peerName"`
	Kind      string `json:"kind"`
}

// DecodeInvitation validates a raw wake payload. Any missing or
// malformed field yields call.ErrInvitationDecode and the payload must
// be dropped: registering a call UI for data that cannot be rendered
// would strand the user on an unusable screen.
func DecodeInvitation(raw []byte) (call.IncomingInvitation, error) {
	var p invitationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return call.IncomingInvitation{}, fmt.Errorf("%w: %v", call.ErrInvitationDecode, err)
	}

	switch {
	case p.SessionID == "":
		return call.IncomingInvitation{}, fmt.Errorf("%w: missing sessionId", call.ErrInvitationDecode)
	case p.PeerID == "":
		return call.IncomingInvitation{}, fmt.Errorf("%w: missing peerId", call.ErrInvitationDecode)
	case p.PeerName == "":
		return call.IncomingInvitation{}, fmt.Errorf("%w: missing peerName", call.ErrInvitationDecode)
	case !call.Kind(p.Kind).Valid():
		return call.IncomingInvitation{}, fmt.Errorf("%w: bad kind %q", call.ErrInvitationDecode, p.Kind)
	}

	return call.IncomingInvitation{
		SessionID: p.SessionID,
		Peer: call.Peer{
			ID:          p.PeerID,
			DisplayName: p.PeerName,
		},
		Kind: call.Kind(p.Kind),
	}, nil
}

// EncodeInvitation builds the payload the notifier delivers to the
// remote device. The caller's identity becomes the callee's peer.
func EncodeInvitation(sessionID string, caller call.Peer, kind call.Kind) ([]byte, error) {
	return json.Marshal(invitationPayload{
		SessionID: sessionID,
		PeerID:    caller.ID,
		PeerName:  caller.DisplayName,
		Kind:      string(kind),
	})
}
