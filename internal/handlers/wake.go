package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
)

// HandleWake accepts a raw wake payload from the push transport. The
// payload is opaque here; decoding and the handling-window deadline
// live in the wake bridge. Undecodable payloads are acknowledged with
// 204 so the push service never retries them.
func (h *Handlers) HandleWake(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 4096))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read payload"})
		return
	}

	if err := h.wakeBridge.HandleWake(c.Request.Context(), raw); err != nil {
		switch {
		case errors.Is(err, call.ErrInvitationDecode):
			c.Status(http.StatusNoContent)
		case errors.Is(err, call.ErrConcurrentSession):
			c.JSON(http.StatusConflict, gin.H{"error": "another call is in progress"})
		case errors.Is(err, call.ErrTelephonyDeadline):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "invitation handling window missed"})
		default:
			h.writeCallError(c, err)
		}
		return
	}

	c.Status(http.StatusNoContent)
}
