package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TekiyoCorp/ID-sub000/internal/config"
)

type clientConfigResponse struct {
	PeerID      string `json:"peer_id"`
	DisplayName string `json:"display_name"`
	MediaEngine string `json:"media_engine"`
	Simulated   bool   `json:"simulated"`
}

func (h *Handlers) GetClientConfig(c *gin.Context) {
	c.JSON(http.StatusOK, clientConfigResponse{
		PeerID:      h.config.PeerID,
		DisplayName: h.config.DisplayName,
		MediaEngine: h.config.MediaEngine,
		Simulated:   h.config.MediaEngine == config.EngineSim,
	})
}
