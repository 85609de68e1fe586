package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/sjawhar/ghost-dispatch/internal/storage"
)

var callIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type CallStore interface {
	CallCreator
	GetCallsByDate(date string) ([]storage.CallRecord, error)
	GetCall(id string) (storage.CallRecord, error)
	Transcript(id string) (string, error)
	GetDates() ([]string, error)
}

func registerAPIRoutes(mux *http.ServeMux, store CallStore, dispatcher Dispatcher, instrument func(string, http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /api/calls", instrument("/api/calls", func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}
		if _, err := time.Parse("2006-01-02", date); err != nil {
			writeJSONError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}

		calls, err := store.GetCallsByDate(date)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list calls: %v", err))
			return
		}
		if calls == nil {
			calls = []storage.CallRecord{}
		}

		writeJSON(w, http.StatusOK, calls)
	}))

	mux.HandleFunc("GET /api/calls/{id}", instrument("/api/calls/{id}", func(w http.ResponseWriter, r *http.Request) {
		callID := r.PathValue("id")
		if !validCallID(callID) {
			writeJSONError(w, http.StatusForbidden, "invalid call id")
			return
		}

		rec, err := store.GetCall(callID)
		if err != nil {
			writeStoreError(w, "get call", err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}))

	mux.HandleFunc("GET /api/calls/{id}/transcript", instrument("/api/calls/{id}/transcript", func(w http.ResponseWriter, r *http.Request) {
		callID := r.PathValue("id")
		if !validCallID(callID) {
			writeJSONError(w, http.StatusForbidden, "invalid call id")
			return
		}

		transcript, err := store.Transcript(callID)
		if err != nil {
			writeStoreError(w, "get transcript", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"call_id": callID, "transcript": transcript})
	}))

	mux.HandleFunc("GET /api/dates", instrument("/api/dates", func(w http.ResponseWriter, r *http.Request) {
		dates, err := store.GetDates()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get dates: %v", err))
			return
		}
		if dates == nil {
			dates = []string{}
		}
		writeJSON(w, http.StatusOK, dates)
	}))

	mux.HandleFunc("GET /api/sessions", instrument("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, dispatcher.Sessions())
	}))
}

func validCallID(id string) bool {
	return callIDPattern.MatchString(id)
}

func writeStoreError(w http.ResponseWriter, action string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, storage.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSONError(w, status, fmt.Sprintf("%s: %v", action, err))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
