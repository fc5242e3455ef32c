package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
)

type startCallRequest struct {
	PeerID      string `json:"peer_id" binding:"required"`
	DisplayName string `json:"display_name"`
	Kind        string `json:"kind" binding:"required"`
}

type mediaRequest struct {
	Control string `json:"control" binding:"required"`
	Enabled *bool  `json:"enabled" binding:"required"`
}

func (h *Handlers) StartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind := call.Kind(req.Kind)
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be audio or video"})
		return
	}

	err := h.orch.Submit(c.Request.Context(), call.StartOutgoing{
		Peer: call.Peer{ID: req.PeerID, DisplayName: req.DisplayName},
		Kind: kind,
	})
	if err != nil {
		h.writeCallError(c, err)
		return
	}

	h.writeSnapshot(c)
}

func (h *Handlers) AnswerCall(c *gin.Context) {
	if err := h.orch.Submit(c.Request.Context(), call.Answer{}); err != nil {
		h.writeCallError(c, err)
		return
	}
	h.writeSnapshot(c)
}

func (h *Handlers) RejectCall(c *gin.Context) {
	if err := h.orch.Submit(c.Request.Context(), call.Reject{}); err != nil {
		h.writeCallError(c, err)
		return
	}
	h.writeSnapshot(c)
}

func (h *Handlers) EndCall(c *gin.Context) {
	if err := h.orch.Submit(c.Request.Context(), call.End{}); err != nil {
		h.writeCallError(c, err)
		return
	}
	h.writeSnapshot(c)
}

func (h *Handlers) SetMedia(c *gin.Context) {
	var req mediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var intent call.Intent
	switch req.Control {
	case "audio":
		intent = call.SetAudioEnabled{Enabled: *req.Enabled}
	case "video":
		intent = call.SetVideoEnabled{Enabled: *req.Enabled}
	case "speaker":
		intent = call.SetSpeakerRoute{Enabled: *req.Enabled}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "control must be audio, video or speaker"})
		return
	}

	if err := h.orch.Submit(c.Request.Context(), intent); err != nil {
		h.writeCallError(c, err)
		return
	}
	h.writeSnapshot(c)
}

func (h *Handlers) GetCall(c *gin.Context) {
	snap := h.orch.Snapshot()
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no call in progress"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handlers) ListCalls(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	records, err := h.store.RecentCalls(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load call history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": records})
}

func (h *Handlers) writeSnapshot(c *gin.Context) {
	if snap := h.orch.Snapshot(); snap != nil {
		c.JSON(http.StatusOK, snap)
		return
	}
	c.JSON(http.StatusOK, gin.H{"phase": string(call.PhaseIdle)})
}

func (h *Handlers) writeCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, call.ErrConcurrentSession):
		c.JSON(http.StatusConflict, gin.H{"error": "another call is in progress"})
	case errors.Is(err, call.ErrNoSession):
		c.JSON(http.StatusNotFound, gin.H{"error": "no call in progress"})
	case errors.Is(err, call.ErrBadIntent):
		c.JSON(http.StatusConflict, gin.H{"error": "not allowed in the current call phase"})
	case errors.Is(err, call.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "microphone or camera permission denied"})
	case errors.Is(err, call.ErrTelephonyDeadline):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "call setup timed out"})
	case errors.Is(err, call.ErrTelephonyRegistration),
		errors.Is(err, call.ErrMediaUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
