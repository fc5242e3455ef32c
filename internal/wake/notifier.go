package wake

import (
	"context"
	"log/slog"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
)

// Notifier signals the remote device that a call is starting. Fire and
// forget: delivery failures never feed back into the state machine.
type Notifier interface {
	NotifyIncomingCall(ctx context.Context, s *call.Session)
}

// Subscription is one web-push endpoint registered by the peer's device.
type Subscription struct {
	Endpoint string
	P256DH   string
	Auth     string
}

// SubscriptionSource resolves a peer id to its push subscriptions.
type SubscriptionSource interface {
	SubscriptionsForPeer(peerID string) ([]Subscription, error)
}

// VAPIDKeys sign outbound pushes.
type VAPIDKeys struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

const pushTTLSeconds = 30

// WebPushNotifier delivers call invitations over the web-push wake
// channel.
type WebPushNotifier struct {
	self   call.Peer // caller identity embedded in the payload
	subs   SubscriptionSource
	keys   VAPIDKeys
	logger *slog.Logger
}

func NewWebPushNotifier(self call.Peer, subs SubscriptionSource, keys VAPIDKeys, logger *slog.Logger) *WebPushNotifier {
	return &WebPushNotifier{
		self:   self,
		subs:   subs,
		keys:   keys,
		logger: logger,
	}
}

func (n *WebPushNotifier) NotifyIncomingCall(ctx context.Context, s *call.Session) {
	payload, err := EncodeInvitation(s.ID, n.self, s.Kind)
	if err != nil {
		n.logger.Error("encode invitation", "session_id", s.ID, "error", err)
		return
	}

	subs, err := n.subs.SubscriptionsForPeer(s.Peer.ID)
	if err != nil {
		n.logger.Warn("load peer subscriptions", "peer_id", s.Peer.ID, "error", err)
		return
	}
	if len(subs) == 0 {
		n.logger.Warn("peer has no push subscriptions", "peer_id", s.Peer.ID)
		return
	}

	for _, sub := range subs {
		resp, err := webpush.SendNotification(payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256DH,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			Subscriber:      n.keys.Subject,
			VAPIDPublicKey:  n.keys.PublicKey,
			VAPIDPrivateKey: n.keys.PrivateKey,
			TTL:             pushTTLSeconds,
			Urgency:         webpush.UrgencyHigh,
		})
		if err != nil {
			n.logger.Warn("push send failed", "peer_id", s.Peer.ID, "error", err)
			continue
		}
		resp.Body.Close()
		n.logger.Debug("push sent", "peer_id", s.Peer.ID, "status", resp.StatusCode)
	}
}

// NopNotifier is used when the wake channel is not configured.
type NopNotifier struct{}

func (NopNotifier) NotifyIncomingCall(context.Context, *call.Session) {}
