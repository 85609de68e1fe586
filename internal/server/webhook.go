package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sjawhar/ghost-dispatch/internal/priority"
	"github.com/sjawhar/ghost-dispatch/internal/storage"
	"github.com/sjawhar/ghost-dispatch/internal/telephony"
)

// CallCreator persists the record for a newly answered call.
type CallCreator interface {
	CreateCall(rec storage.CallRecord) error
}

type WebhookConfig struct {
	PublicHost  string
	Greeting    string
	HoldSeconds int
}

func registerWebhookRoutes(mux *http.ServeMux, store CallCreator, cfg WebhookConfig) {
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ghost-dispatch is running\n"))
	})

	mux.HandleFunc("POST /{$}", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form body", http.StatusBadRequest)
			return
		}

		caller := telephony.Caller{
			CallSID: r.PostForm.Get("CallSid"),
			From:    r.PostForm.Get("From"),
			Name:    r.PostForm.Get("CallerName"),
		}
		log := slog.With("call_id", caller.CallSID)

		if caller.CallSID == "" {
			log.Warn("webhook: call without CallSid, record not created")
		} else if store != nil {
			err := store.CreateCall(storage.CallRecord{
				ID:          caller.CallSID,
				DateCreated: time.Now().UTC(),
				Name:        caller.DisplayName(),
				Phone:       caller.DisplayPhone(),
				Live:        true,
				Status:      storage.StatusOpen,
				Priority:    priority.TBD.String(),
			})
			if err != nil {
				log.Warn("webhook: create call record failed", "error", err)
			}
		}

		host := cfg.PublicHost
		if host == "" {
			host = r.Host
		}
		doc, err := telephony.StreamInstructions("wss://"+host+"/media", cfg.Greeting, cfg.HoldSeconds)
		if err != nil {
			log.Error("webhook: render instructions failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(doc))
		log.Info("webhook: call answered", "from", caller.DisplayPhone())
	})
}
