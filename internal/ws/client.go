package ws

import (
	"context"
	"encoding/json"
	"time"

	apperrors "persona-ritual/backend/pkg/errors"
	"persona-ritual/backend/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBuffer  = 64
	inboxBuffer = 16
)

// Client is one socket connection. ReadPump feeds the inbox, process handles one
// event at a time, and WritePump drains what the hub delivers.
type Client struct {
	ID    string
	conn  *websocket.Conn
	send  chan []byte
	inbox chan Envelope
	hub   *Hub
	log   *logger.Logger
}

func newClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:    id,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		inbox: make(chan Envelope, inboxBuffer),
		hub:   hub,
		log:   log.With("connection_id", id),
	}
}

// ReadPump decodes frames into the inbox until the connection fails
func (c *Client) ReadPump() {
	defer close(c.inbox)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("Connection closed unexpectedly", "error", err.Error())
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.reply(EventError, "", ErrorPayload{Error: "Malformed event", Code: apperrors.CodeValidation})
			continue
		}
		c.inbox <- env
	}
}

// process handles inbound events in order, then releases the connection
func (c *Client) process(ctx context.Context, relay *Relay) {
	for env := range c.inbox {
		relay.Handle(ctx, c, env)
	}
	relay.Disconnect(ctx, c)
	c.hub.Unregister(c)
}

// WritePump writes hub deliveries and keepalive pings, and owns closing the socket
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply sends an event to this connection only
func (c *Client) reply(eventType, id string, payload any) {
	data, err := encode(eventType, id, payload)
	if err != nil {
		c.log.Error("Failed to encode event", "type", eventType, "error", err.Error())
		return
	}
	c.hub.Send(data, c.ID)
}
