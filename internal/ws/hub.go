package ws

import (
	"context"
	"sync/atomic"

	"persona-ritual/backend/pkg/logger"
	"persona-ritual/backend/shared/observability"
)

type delivery struct {
	connIDs []string
	data    []byte
}

// Hub owns the local connections. Only its Run goroutine touches the connection map
// and the outbound channels, so every write to a client goes through it.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	outbound   chan delivery
	done       chan struct{}
	active     atomic.Int64

	metrics *observability.Metrics
	log     *logger.Logger
}

func NewHub(metrics *observability.Metrics, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan delivery, 256),
		done:       make(chan struct{}),
		metrics:    metrics,
		log:        log.With("component", "hub"),
	}
}

// Run processes registrations and deliveries until ctx is cancelled,
// then closes every remaining connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.clients[client.ID] = client
			h.active.Add(1)
			h.metrics.ConnectionOpened(ctx)
			h.log.Info("Client registered", "connection_id", client.ID)

		case client := <-h.unregister:
			if h.drop(ctx, client.ID) {
				h.log.Info("Client unregistered", "connection_id", client.ID)
			}

		case d := <-h.outbound:
			for _, id := range d.connIDs {
				client, ok := h.clients[id]
				if !ok {
					continue
				}
				select {
				case client.send <- d.data:
				default:
					h.drop(ctx, id)
					h.log.Warn("Client removed due to blocked channel", "connection_id", id)
				}
			}

		case <-ctx.Done():
			for id := range h.clients {
				h.drop(context.WithoutCancel(ctx), id)
			}
			return
		}
	}
}

func (h *Hub) drop(ctx context.Context, id string) bool {
	client, ok := h.clients[id]
	if !ok {
		return false
	}
	delete(h.clients, id)
	close(client.send)
	h.active.Add(-1)
	h.metrics.ConnectionClosed(ctx)
	return true
}

// Register adds a client. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Send queues data for the given local connections. Unknown ids are skipped,
// so room members connected to another instance are ignored here.
func (h *Hub) Send(data []byte, connIDs ...string) {
	if len(connIDs) == 0 {
		return
	}
	select {
	case h.outbound <- delivery{connIDs: connIDs, data: data}:
	case <-h.done:
	}
}

// Active reports the number of registered connections
func (h *Hub) Active() int64 {
	return h.active.Load()
}

// Done is closed once Run has returned
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
