package server

import (
	"context"
	"os"
	"sync"

	"github.com/sjawhar/ghost-dispatch/internal/priority"
	"github.com/sjawhar/ghost-dispatch/internal/session"
	"github.com/sjawhar/ghost-dispatch/internal/storage"
	"github.com/sjawhar/ghost-dispatch/internal/telephony"
)

type apiStoreStub struct {
	mu          sync.Mutex
	callsByDate map[string][]storage.CallRecord
	calls       map[string]storage.CallRecord
	dates       []string
	created     []storage.CallRecord
}

func newAPIStoreStub() *apiStoreStub {
	return &apiStoreStub{
		callsByDate: map[string][]storage.CallRecord{},
		calls:       map[string]storage.CallRecord{},
	}
}

func (s *apiStoreStub) CreateCall(rec storage.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, rec)
	s.calls[rec.ID] = rec
	return nil
}

func (s *apiStoreStub) GetCallsByDate(date string) ([]storage.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callsByDate[date], nil
}

func (s *apiStoreStub) GetCall(id string) (storage.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.calls[id]; ok {
		return rec, nil
	}
	return storage.CallRecord{}, storage.ErrNotFound
}

func (s *apiStoreStub) Transcript(id string) (string, error) {
	rec, err := s.GetCall(id)
	if err != nil {
		return "", err
	}
	return rec.Transcript, nil
}

func (s *apiStoreStub) GetDates() ([]string, error) {
	if s.dates == nil {
		return nil, os.ErrNotExist
	}
	return s.dates, nil
}

type dispatcherMock struct {
	mu       sync.Mutex
	events   []telephony.Event
	lost     []string
	sessions []session.Info
	err      error
}

func (d *dispatcherMock) HandleEvent(_ context.Context, ev telephony.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return d.err
}

func (d *dispatcherMock) StreamLost(streamID string, _ error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = append(d.lost, streamID)
}

func (d *dispatcherMock) Sessions() []session.Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sessions == nil {
		return []session.Info{}
	}
	return d.sessions
}

func (d *dispatcherMock) snapshot() ([]telephony.Event, []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]telephony.Event(nil), d.events...), append([]string(nil), d.lost...)
}

func liveSession(callID, streamID string) session.Info {
	return session.Info{CallID: callID, StreamID: streamID, State: session.StateStreaming, Priority: priority.High}
}
