package session

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps call ids and stream ids to live sessions. Each stream id
// resolves to exactly one call at a time.
type Registry struct {
	mu       sync.RWMutex
	byCall   map[string]*Session
	byStream map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byCall:   make(map[string]*Session),
		byStream: make(map[string]string),
	}
}

func (r *Registry) Insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byCall[s.callID]; ok {
		return fmt.Errorf("insert %s: %w", s.callID, ErrSessionExists)
	}
	r.byCall[s.callID] = s
	r.byStream[s.StreamID()] = s.callID
	return nil
}

func (r *Registry) Lookup(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byCall[callID]
	return s, ok
}

func (r *Registry) LookupStream(streamID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	callID, ok := r.byStream[streamID]
	if !ok {
		return nil, false
	}
	s, ok := r.byCall[callID]
	return s, ok
}

// Rebind points streamID at callID, dropping the call's previous stream ids.
func (r *Registry) Rebind(callID, streamID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byCall[callID]; !ok {
		return fmt.Errorf("rebind %s: %w", callID, ErrSessionClosed)
	}
	for sid, cid := range r.byStream {
		if cid == callID {
			delete(r.byStream, sid)
		}
	}
	r.byStream[streamID] = callID
	return nil
}

// Remove drops the call and every stream id bound to it. Only the given
// session is removed, so a newer session under the same call id survives.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byCall[s.callID]; !ok || cur != s {
		return
	}
	delete(r.byCall, s.callID)
	for sid, cid := range r.byStream {
		if cid == s.callID {
			delete(r.byStream, sid)
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCall)
}

// All returns the live sessions ordered by call id.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.byCall))
	for _, s := range r.byCall {
		list = append(list, s)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].callID < list[j].callID })
	return list
}
