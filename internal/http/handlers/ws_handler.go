// README: WebSocket subscription endpoint for order and rider topics.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dropoff/internal/notify"
)

type WSHandler struct {
	hub *notify.Hub
}

func NewWSHandler(hub *notify.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// Subscribe upgrades GET /ws?topic=order_<id> (or rider_<id>).
func (h *WSHandler) Subscribe(c *gin.Context) {
	topic := c.Query("topic")
	if !strings.HasPrefix(topic, "order_") && !strings.HasPrefix(topic, "rider_") {
		writeError(c, http.StatusBadRequest, "topic must be order_<id> or rider_<id>")
		return
	}
	if err := h.hub.ServeWS(c.Writer, c.Request, topic); err != nil {
		// the upgrader has already answered the client
		_ = c.Error(err)
	}
}
