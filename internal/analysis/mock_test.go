package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sjawhar/ghost-dispatch/internal/geocode"
	"github.com/sjawhar/ghost-dispatch/internal/llm"
	"github.com/sjawhar/ghost-dispatch/internal/storage"
)

type mockLLMClient struct {
	mu           sync.Mutex
	calls        int
	response     string
	err          error
	failFirst    int
	lastMessages []llm.Message
}

func (m *mockLLMClient) Complete(_ context.Context, messages []llm.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastMessages = append([]llm.Message(nil), messages...)
	if m.err != nil && (m.failFirst == 0 || m.calls <= m.failFirst) {
		return "", m.err
	}
	return m.response, nil
}

func staticFactory(client llm.Client) ClientFactory {
	return func(_, _ string, _ ...llm.Option) (llm.Client, error) {
		return client, nil
	}
}

type storeMock struct {
	mu      sync.Mutex
	updates []storage.CallUpdate
	claims  map[string]bool
	err     error
}

func (s *storeMock) UpdateCall(_ string, u storage.CallUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == (storage.CallUpdate{}) {
		return nil
	}
	s.updates = append(s.updates, u)
	return s.err
}

func (s *storeMock) ClaimAnalysis(callID, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims == nil {
		s.claims = make(map[string]bool)
	}
	key := callID + ":" + hash
	if s.claims[key] {
		return false, nil
	}
	s.claims[key] = true
	return true, nil
}

type geocoderMock struct {
	mu    sync.Mutex
	calls []string
	point geocode.Point
	err   error
}

func (g *geocoderMock) Geocode(_ context.Context, location string) (geocode.Point, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, location)
	if g.err != nil {
		return geocode.Point{}, g.err
	}
	if strings.Contains(location, "nowhere") {
		return geocode.Point{}, geocode.ErrNoResults
	}
	return g.point, nil
}

var errTemporary = errors.New("temporary")
