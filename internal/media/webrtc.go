package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
)

// RouteSetter requests the platform loudspeaker route. The default
// implementation is a no-op; the shell injects the real one where the
// platform exposes route control.
type RouteSetter func(speaker bool) error

// WebRTCEngine allocates handles backed by a pion PeerConnection.
type WebRTCEngine struct {
	iceServers []webrtc.ICEServer
	setRoute   RouteSetter
	logger     *slog.Logger
}

func NewWebRTCEngine(iceServers []webrtc.ICEServer, setRoute RouteSetter, logger *slog.Logger) *WebRTCEngine {
	return &WebRTCEngine{
		iceServers: iceServers,
		setRoute:   setRoute,
		logger:     logger,
	}
}

func (e *WebRTCEngine) Open(ctx context.Context, kind call.Kind) (Handle, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: e.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	h := &webrtcHandle{
		pc:       pc,
		setRoute: e.setRoute,
		logger:   e.logger,
		states:   make(chan ConnState, 16),
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "idcall-audio",
	)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("audio track: %w", err)
	}
	h.audioTrack = audio
	if h.audioSender, err = pc.AddTrack(audio); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add audio track: %w", err)
	}

	if kind == call.KindVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "idcall-video",
		)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("video track: %w", err)
		}
		h.videoTrack = video
		if h.videoSender, err = pc.AddTrack(video); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add video track: %w", err)
		}
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		h.push(mapICEState(state))
	})

	return h, nil
}

func mapICEState(state webrtc.ICEConnectionState) ConnState {
	switch state {
	case webrtc.ICEConnectionStateNew:
		return ConnNew
	case webrtc.ICEConnectionStateChecking:
		return ConnChecking
	case webrtc.ICEConnectionStateConnected:
		return ConnConnected
	case webrtc.ICEConnectionStateCompleted:
		return ConnCompleted
	case webrtc.ICEConnectionStateDisconnected:
		return ConnDisconnected
	case webrtc.ICEConnectionStateFailed:
		return ConnFailed
	default:
		return ConnClosed
	}
}

type webrtcHandle struct {
	pc       *webrtc.PeerConnection
	setRoute RouteSetter
	logger   *slog.Logger

	audioTrack  *webrtc.TrackLocalStaticSample
	audioSender *webrtc.RTPSender
	videoTrack  *webrtc.TrackLocalStaticSample
	videoSender *webrtc.RTPSender

	states    chan ConnState
	closeOnce sync.Once
}

// push keeps the stream unbounded from the producer's point of view by
// dropping the oldest state when the consumer lags. The orchestrator
// only ever acts on the most recent state, so losing stale ones is safe.
func (h *webrtcHandle) push(state ConnState) {
	for {
		select {
		case h.states <- state:
			return
		default:
			select {
			case <-h.states:
			default:
			}
		}
	}
}

func (h *webrtcHandle) SetAudioEnabled(enabled bool) {
	h.replaceTrack(h.audioSender, h.audioTrack, enabled)
}

func (h *webrtcHandle) SetVideoEnabled(enabled bool) {
	h.replaceTrack(h.videoSender, h.videoTrack, enabled)
}

func (h *webrtcHandle) replaceTrack(sender *webrtc.RTPSender, track *webrtc.TrackLocalStaticSample, enabled bool) {
	if sender == nil {
		return
	}
	var next webrtc.TrackLocal
	if enabled {
		next = track
	}
	if err := sender.ReplaceTrack(next); err != nil {
		h.logger.Warn("replace track failed", "enabled", enabled, "error", err)
	}
}

func (h *webrtcHandle) SetSpeakerRoute(enabled bool) error {
	if h.setRoute == nil {
		return nil
	}
	if err := h.setRoute(enabled); err != nil {
		return fmt.Errorf("audio route: %w", err)
	}
	return nil
}

func (h *webrtcHandle) Connectivity() <-chan ConnState {
	return h.states
}

func (h *webrtcHandle) Close() error {
	h.closeOnce.Do(func() {
		if err := h.pc.Close(); err != nil {
			h.logger.Warn("peer connection close failed", "error", err)
		}
		h.push(ConnClosed)
	})
	return nil
}
