package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) GetTURNConfig(c *gin.Context) {
	// The TURN server is UDP-only, so the URL scheme is "turn:" rather
	// than "turns:". Media encryption is handled by DTLS-SRTP.
	host := c.Request.Host
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}

	creds := h.turnServer.Credentials()

	turnURL := fmt.Sprintf("turn:%s:%d", host, h.config.TURNPort)
	stunURL := fmt.Sprintf("stun:%s:%d", host, h.config.TURNPort)

	iceServers := []map[string]interface{}{
		{
			"urls": stunURL,
		},
		{
			"urls":       turnURL,
			"username":   creds.Username,
			"credential": creds.Password,
		},
	}

	h.logger.Debug("TURN config requested", "host", host, "servers", len(iceServers))

	c.JSON(http.StatusOK, gin.H{
		"iceServers": iceServers,
	})
}
