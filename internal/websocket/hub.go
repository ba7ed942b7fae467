package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"prolicense/internal/infrastructure"
	"prolicense/pkg/contracts/events"
)

// broadcastBuffer is the number of messages queued before Broadcast blocks
const broadcastBuffer = 16

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu       sync.RWMutex
	logger   *slog.Logger
	metrics  *Metrics
	greeting func() *events.WebSocketMessage
	stopOnce sync.Once
}

// HubOption customizes a Hub
type HubOption func(*Hub)

// WithGreeting sends the message built by fn to every client as it connects.
func WithGreeting(fn func() *events.WebSocketMessage) HubOption {
	return func(h *Hub) { h.greeting = fn }
}

// WithMetrics records hub activity on m.
func WithMetrics(m *Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a new Hub. Run must be called before clients connect.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	h := &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "websocket.hub")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewMessage stamps data as a message of type t.
func NewMessage(t events.MessageType, data interface{}) *events.WebSocketMessage {
	return &events.WebSocketMessage{
		BaseMessage: events.BaseMessage{
			ID:        uuid.NewString(),
			Type:      t,
			Timestamp: time.Now().UTC(),
		},
		Data: data,
	}
}

// Run serves registrations and broadcasts until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()

			h.metrics.recordConnect(ctx)
			h.logger.Info("Client registered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))

			if h.greeting != nil {
				if msg := h.greeting(); msg != nil {
					if data, err := json.Marshal(msg); err == nil {
						h.deliver(ctx, client, data)
					}
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				count := len(h.clients)
				h.mu.Unlock()

				h.metrics.recordDisconnect(ctx, time.Since(client.connectedAt))
				h.logger.Info("Client unregistered",
					slog.Int("total_clients", count),
					slog.String("client_id", client.id),
					slog.Duration("connection_duration", time.Since(client.connectedAt)))
			} else {
				h.mu.Unlock()
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				h.deliver(ctx, client, message)
			}
			h.logger.Debug("Broadcast message to clients",
				slog.Int("client_count", len(clients)),
				slog.Int("message_size", len(message)))
		}
	}
}

// deliver queues data for client, dropping the client when its buffer is full.
// Only the Run goroutine calls it.
func (h *Hub) deliver(ctx context.Context, client *Client, data []byte) {
	select {
	case client.send <- data:
		h.metrics.recordSent(ctx)
	default:
		h.mu.Lock()
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
		h.mu.Unlock()

		h.metrics.recordDropped(ctx)
		h.logger.Warn("Client send buffer full, disconnecting",
			slog.String("client_id", client.id))
	}
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
	})
}

// Broadcast queues msg for every connected client. It is a no-op once the hub
// has stopped.
func (h *Hub) Broadcast(msg *events.WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Error marshaling message",
			slog.String("error", err.Error()),
			slog.String("message_type", string(msg.Type)))
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.done:
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Done is closed when the hub stops running
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
