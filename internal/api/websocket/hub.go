package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/KevinKickass/SensorIntegration/internal/auth"
	"github.com/KevinKickass/SensorIntegration/internal/monitoring"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/workflow/streaming"
	"go.uber.org/zap"
)

type TokenValidator interface {
	ValidateToken(ctx context.Context, token, ipAddress, userAgent string) (*auth.Principal, error)
}

// Hub maintains authenticated WebSocket clients and fans out live data:
// accepted readings, raised alerts and workflow events.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex

	logger    *zap.Logger
	validator TokenValidator
}

func NewHub(logger *zap.Logger, validator TokenValidator) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
		validator:  validator,
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled, closing
// every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("remote_addr", client.remoteAddr()),
				zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("remote_addr", client.remoteAddr()),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

func (h *Hub) deliver(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !client.wants(message) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// slow or dead client
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn("Client send buffer full, unregistering",
				zap.String("remote_addr", client.remoteAddr()))
		}
	}
}

// Broadcast queues a message for every interested client.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// ReadingAccepted pushes every stored reading to dashboards.
func (h *Hub) ReadingAccepted(_ context.Context, sensor *storage.Sensor, reading *storage.Reading, breach *monitoring.Breach) {
	h.Broadcast(NewReadingMessage(sensor, reading, breach))
}

func (h *Hub) NotifyAlert(_ context.Context, alert *storage.Alert) {
	h.Broadcast(NewAlertMessage(alert))
}

// ForwardWorkflowEvents relays every workflow event until ctx is cancelled.
func (h *Hub) ForwardWorkflowEvents(ctx context.Context, streamer *streaming.EventStreamer) {
	ch := streamer.Subscribe(streaming.AllExecutions)
	defer streamer.Unsubscribe(streaming.AllExecutions, ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(NewWorkflowEventMessage(ev))
		}
	}
}

// GetClientCount returns the number of authenticated clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
