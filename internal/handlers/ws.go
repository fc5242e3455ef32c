package handlers

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 70 * time.Second
	wsPingPeriod = 30 * time.Second
)

type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WatchCall streams call snapshots over a websocket. The client gets
// the current snapshot on connect, then every phase or media change
// until the stream is cancelled or the socket drops. Idle periods are
// covered by pings, not snapshots.
func (h *Handlers) WatchCall(c *gin.Context) {
	conn, err := h.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "ip", c.ClientIP(), "error", err)
		return
	}
	h.logger.Debug("ws connected", "ip", c.ClientIP())

	snapshots, cancel := h.orch.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go h.readUntilClose(conn, done)

	if snap := h.orch.Snapshot(); snap != nil {
		if !writeSnapshot(conn, *snap) {
			_ = conn.Close()
			return
		}
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if !writeSnapshot(conn, snap) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readUntilClose drains inbound frames so pong handling works and the
// peer's close frame is noticed. Clients never send application data
// on this stream.
func (h *Handlers) readUntilClose(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap call.Snapshot) bool {
	data, err := json.Marshal(snap)
	if err != nil {
		return true
	}
	msg, _ := json.Marshal(wsEnvelope{Type: "snapshot", Data: data})

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, msg) == nil
}
