package server

import (
	"time"

	"github.com/google/uuid"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
	ID        string `json:"id"`
}

type NotificationEvent struct {
	Event
	CallID   string `json:"call_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Priority string `json:"priority"`
}

type CallStartedEvent struct {
	Event
	CallID   string `json:"call_id"`
	StreamID string `json:"stream_id"`
}

type CallEndedEvent struct {
	Event
	CallID   string  `json:"call_id"`
	Priority string  `json:"priority"`
	Duration float64 `json:"duration"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		ID:        uuid.NewString(),
	}
}
