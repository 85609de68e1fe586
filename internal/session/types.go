package session

import (
	"context"
	"time"

	"github.com/sjawhar/ghost-dispatch/internal/analysis"
	"github.com/sjawhar/ghost-dispatch/internal/priority"
	"github.com/sjawhar/ghost-dispatch/internal/storage"
)

type Store interface {
	EnsureCall(callID string, createdAt time.Time) error
	UpdateCall(callID string, u storage.CallUpdate) error
}

type Archive interface {
	Append(entry storage.ArchiveEntry) error
}

// Notification is the broadcast sent on every transcript change.
type Notification struct {
	CallID   string
	Title    string
	Body     string
	Priority priority.Level
}

// EventBroadcaster fans events out to subscribers. Implementations must not
// block; delivery is best effort.
type EventBroadcaster interface {
	BroadcastNotification(n Notification)
	BroadcastCallStarted(callID, streamID string)
	BroadcastCallEnded(callID string, level priority.Level, duration time.Duration)
}

type Analyzer interface {
	Analyze(ctx context.Context, callID, transcript string) (analysis.Result, error)
}
