// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package websocket pushes live alert and model updates to dashboard
// clients over gorilla/websocket.
//
// A single hub goroutine owns the client set. Broadcast producers never
// block: a full broadcast channel drops the message, and a client that
// cannot keep up with its send buffer is disconnected.
package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sentinelsec/authwatch/internal/logging"
	"github.com/sentinelsec/authwatch/internal/metrics"
	"github.com/sentinelsec/authwatch/internal/models"
)

// Message types for WebSocket communication.
const (
	MessageTypeAlert        = "detection_alert"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeModelTrained = "model_trained"
	MessageTypeStatsUpdate  = "stats_update"
)

// Message represents a WebSocket message.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Serve runs the hub until ctx is canceled. It satisfies suture.Service.
//
// Selection is priority ordered so behavior stays predictable when several
// channels are ready at once: shutdown first, then client lifecycle, then
// broadcasts. Client state is therefore always settled before a message is
// fanned out.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		// Priority 1: shutdown (non-blocking check).
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		// Priority 2: client lifecycle events (non-blocking check).
		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		// Priority 3: broadcasts, or block until anything happens.
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// broadcastToClients sends a message to all connected clients in client-ID
// order so delivery order is reproducible. Clients with a full send buffer
// are dropped.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
			metrics.WSMessagesSent.Inc()
		default:
			metrics.WSMessagesDropped.Inc()
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
	if len(toRemove) > 0 {
		metrics.WSConnections.Set(float64(len(h.clients)))
		logging.Warn().Int("dropped_clients", len(toRemove)).Msg("disconnected slow websocket clients")
	}
}

// shutdown closes all connected clients, in ID order.
func (h *Hub) shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.WSConnections.Set(0)
	logging.Info().
		Str("component", "websocket-hub").
		Int("clients_closed", len(clients)).
		Msg("websocket hub stopped")
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastAlert pushes one anomaly alert to all connected clients.
func (h *Hub) BroadcastAlert(alert models.Alert) {
	message := Message{
		Type: MessageTypeAlert,
		Data: alert,
	}
	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Str("alert_id", alert.ID).Msg("broadcast channel full, dropping alert message")
	}
}

// ModelTrainedData is the payload of a model_trained message.
type ModelTrainedData struct {
	Timestamp    string  `json:"timestamp"`
	Generation   uint64  `json:"generation"`
	TrainingSize int     `json:"training_size"`
	Threshold    float64 `json:"threshold"`
}

// BroadcastModelTrained notifies clients that a new model snapshot was
// published.
func (h *Hub) BroadcastModelTrained(generation uint64, trainingSize int, threshold float64) {
	message := Message{
		Type: MessageTypeModelTrained,
		Data: ModelTrainedData{
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Generation:   generation,
			TrainingSize: trainingSize,
			Threshold:    threshold,
		},
	}
	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Msg("broadcast channel full, dropping model_trained message")
	}
}

// BroadcastJSON sends an arbitrary typed message to all connected clients.
func (h *Hub) BroadcastJSON(messageType string, data interface{}) {
	message := Message{
		Type: messageType,
		Data: data,
	}
	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Str("message_type", messageType).Msg("broadcast channel full, dropping message")
	}
}

// Notifier adapts the hub to the alert notifier contract.
type Notifier struct {
	hub *Hub
}

// NewNotifier wraps the hub as an alert notifier.
func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

// Name identifies the notifier in logs and metrics.
func (n *Notifier) Name() string { return "websocket" }

// Notify broadcasts the alert to connected dashboard clients. Broadcasting
// never blocks, so delivery always succeeds from the sink's point of view.
func (n *Notifier) Notify(_ context.Context, alert models.Alert) error {
	n.hub.BroadcastAlert(alert)
	return nil
}

// ModelTrained broadcasts a model_trained message. It satisfies the
// detection engine's train observer contract.
func (n *Notifier) ModelTrained(generation uint64, trainingSize int, threshold float64) {
	n.hub.BroadcastModelTrained(generation, trainingSize, threshold)
}
