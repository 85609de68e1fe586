package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/ghost-dispatch/internal/priority"
	"github.com/sjawhar/ghost-dispatch/internal/session"
)

// Hub fans events out to websocket subscribers. Slow subscribers miss
// messages rather than stall the sender.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastNotification(n session.Notification) {
	h.broadcastEvent(NotificationEvent{
		Event:    newEvent("notification", time.Now().UTC()),
		CallID:   n.CallID,
		Title:    n.Title,
		Body:     n.Body,
		Priority: n.Priority.String(),
	})
}

func (h *Hub) BroadcastCallStarted(callID, streamID string) {
	h.broadcastEvent(CallStartedEvent{
		Event:    newEvent("call_started", time.Now().UTC()),
		CallID:   callID,
		StreamID: streamID,
	})
}

func (h *Hub) BroadcastCallEnded(callID string, level priority.Level, duration time.Duration) {
	h.broadcastEvent(CallEndedEvent{
		Event:    newEvent("call_ended", time.Now().UTC()),
		CallID:   callID,
		Priority: level.String(),
		Duration: duration.Seconds(),
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("hub: event marshal failed", "error", err)
		return
	}
	h.Broadcast(payload)
}
