package ws

import (
	"context"
	"net/http"
	"slices"
	"time"

	"persona-ritual/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests into relay connections
type Handler struct {
	hub      *Hub
	relay    *Relay
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewHandler creates the socket endpoint. allowedOrigins may contain "*".
func NewHandler(hub *Hub, relay *Relay, allowedOrigins []string, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Handler{
		hub:   hub,
		relay: relay,
		upgrader: websocket.Upgrader{
			CheckOrigin:      originChecker(allowedOrigins),
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		log: log,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// ServeWs upgrades the request and starts the connection's pumps
func (h *Handler) ServeWs(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.LogError(err, "Error upgrading connection")
		return
	}

	client := newClient(uuid.NewString(), conn, h.hub, logger.FromGin(c))
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	// The request context ends when this handler returns, the connection outlives it.
	ctx := context.WithoutCancel(c.Request.Context())

	go client.WritePump()
	go client.process(ctx, h.relay)
	go client.ReadPump()

	client.reply(EventConnected, "", connectedPayload{ConnectionID: client.ID})
}
