package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/pkg/redis"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to known origins once the frontend domains settle
		return true
	},
}

// wsEvent is one sync completion event pushed to websocket clients.
type wsEvent struct {
	Channel string `json:"channel"`
	Payload string `json:"payload"`
}

// HandleWebSocket upgrades the connection and streams sync completion events
// from every chain and category until the client disconnects.
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.Redis == nil {
		http.Error(w, "Real-time events not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer conn.Close()

	c.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	sub := c.Redis.PSubscribe(r.Context(), redis.SyncChannelPattern)
	defer sub.Close()

	// Drain client frames so pings/closes are processed; the stream is
	// one-way otherwise.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Close()
				return
			}
		}
	}()

	for msg := range sub.Channel() {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(wsEvent{Channel: msg.Channel, Payload: msg.Payload}); err != nil {
			c.Logger.Debug("WebSocket write failed, dropping client", zap.Error(err))
			return
		}
	}
}
