package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/ghost-dispatch/internal/session"
	"github.com/sjawhar/ghost-dispatch/internal/telephony"
)

// Dispatcher receives media stream events and reports live sessions.
type Dispatcher interface {
	HandleEvent(ctx context.Context, ev telephony.Event) error
	StreamLost(streamID string, cause error)
	Sessions() []session.Info
}

// registerMediaRoute accepts the carrier's media stream websocket. Frames on
// one connection are dispatched in arrival order.
func registerMediaRoute(mux *http.ServeMux, dispatcher Dispatcher) {
	mux.HandleFunc("GET /media", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("media: upgrade failed", "error", err)
			return
		}
		defer func() { _ = conn.Close() }()

		ctx := context.WithoutCancel(r.Context())
		streams := make(map[string]struct{})
		log := slog.With("remote", r.RemoteAddr)
		log.Info("media: stream connected")

		var readErr error
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				readErr = err
				break
			}
			if msgType != websocket.TextMessage {
				continue
			}

			ev, err := telephony.ParseEvent(data)
			if err != nil {
				log.Warn("media: dropping malformed event", "error", err)
				continue
			}

			switch ev.Kind {
			case telephony.EventStart:
				streams[ev.StreamSID] = struct{}{}
			case telephony.EventStop:
				delete(streams, ev.StreamSID)
			}

			if err := dispatcher.HandleEvent(ctx, ev); err != nil {
				level := slog.LevelWarn
				if errors.Is(err, session.ErrUnknownStream) {
					level = slog.LevelDebug
				}
				log.Log(ctx, level, "media: event not handled", "event", ev.Kind, "stream_id", ev.StreamSID, "error", err)
			}
		}

		if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			readErr = nil
		}
		for streamID := range streams {
			dispatcher.StreamLost(streamID, readErr)
		}
		log.Info("media: stream disconnected", "open_streams", len(streams))
	})
}
