package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sjawhar/ghost-dispatch/internal/analysis"
	"github.com/sjawhar/ghost-dispatch/internal/priority"
	"github.com/sjawhar/ghost-dispatch/internal/relay"
	"github.com/sjawhar/ghost-dispatch/internal/storage"
	"github.com/sjawhar/ghost-dispatch/internal/telephony"
)

type relayMock struct {
	mu          sync.Mutex
	sink        relay.Sink
	sent        [][]byte
	terminated  int
	closed      int
	sendErr     error
	onTerminate func(r *relayMock)
	holdDone    bool
	done        chan struct{}
	doneOnce    sync.Once
}

func (r *relayMock) Send(block []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, append([]byte(nil), block...))
	return nil
}

func (r *relayMock) Terminate() error {
	r.mu.Lock()
	r.terminated++
	hook := r.onTerminate
	hold := r.holdDone
	r.mu.Unlock()

	if hook != nil {
		hook(r)
	}
	if !hold {
		r.markDone()
	}
	return nil
}

func (r *relayMock) Done() <-chan struct{} { return r.done }

func (r *relayMock) Close() error {
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
	r.markDone()
	return nil
}

func (r *relayMock) markDone() {
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *relayMock) counts() (sent, terminated, closed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent), r.terminated, r.closed
}

type dialerMock struct {
	mu      sync.Mutex
	relays  map[string]*relayMock
	err     error
	gate    chan struct{}
	prepare func(r *relayMock)
}

func newDialerMock() *dialerMock {
	return &dialerMock{relays: make(map[string]*relayMock)}
}

func (d *dialerMock) Dial(ctx context.Context, callID string, sink relay.Sink) (relay.Relay, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}

	r := &relayMock{sink: sink, done: make(chan struct{})}
	if d.prepare != nil {
		d.prepare(r)
	}
	d.mu.Lock()
	d.relays[callID] = r
	d.mu.Unlock()
	return r, nil
}

func (d *dialerMock) relay(callID string) *relayMock {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.relays[callID]
}

type storeMock struct {
	mu      sync.Mutex
	ensured []string
	updates map[string][]storage.CallUpdate
	err     error
}

func newStoreMock() *storeMock {
	return &storeMock{updates: make(map[string][]storage.CallUpdate)}
}

func (s *storeMock) EnsureCall(callID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured = append(s.ensured, callID)
	return nil
}

func (s *storeMock) UpdateCall(callID string, u storage.CallUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.updates[callID] = append(s.updates[callID], u)
	return nil
}

func (s *storeMock) updatesFor(callID string) []storage.CallUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.CallUpdate(nil), s.updates[callID]...)
}

// last returns the latest value written for a field across all updates.
func (s *storeMock) last(callID string, field func(storage.CallUpdate) *string) (string, bool) {
	updates := s.updatesFor(callID)
	for i := len(updates) - 1; i >= 0; i-- {
		if v := field(updates[i]); v != nil {
			return *v, true
		}
	}
	return "", false
}

type archiveMock struct {
	mu      sync.Mutex
	entries []storage.ArchiveEntry
}

func (a *archiveMock) Append(entry storage.ArchiveEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *archiveMock) all() []storage.ArchiveEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]storage.ArchiveEntry(nil), a.entries...)
}

type broadcasterMock struct {
	mu            sync.Mutex
	notifications []Notification
	started       []string
	ended         []string
}

func (b *broadcasterMock) BroadcastNotification(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifications = append(b.notifications, n)
}

func (b *broadcasterMock) BroadcastCallStarted(callID, _ string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = append(b.started, callID)
}

func (b *broadcasterMock) BroadcastCallEnded(callID string, _ priority.Level, _ time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended = append(b.ended, callID)
}

func (b *broadcasterMock) sent() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Notification(nil), b.notifications...)
}

func (b *broadcasterMock) endedCalls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ended...)
}

type analyzerMock struct {
	mu    sync.Mutex
	calls map[string]string
}

func (a *analyzerMock) Analyze(_ context.Context, callID, transcript string) (analysis.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.calls == nil {
		a.calls = make(map[string]string)
	}
	a.calls[callID] = transcript
	return analysis.Result{}, nil
}

func (a *analyzerMock) transcript(callID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.calls[callID]
	return t, ok
}

type panicAnalyzer struct{ called atomic.Bool }

func (a *panicAnalyzer) Analyze(context.Context, string, string) (analysis.Result, error) {
	a.called.Store(true)
	panic("analyzer exploded")
}

var errSendFailed = errors.New("send failed")

type fixture struct {
	manager     *Manager
	dialer      *dialerMock
	store       *storeMock
	archive     *archiveMock
	broadcaster *broadcasterMock
	analyzer    *analyzerMock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		dialer:      newDialerMock(),
		store:       newStoreMock(),
		archive:     &archiveMock{},
		broadcaster: &broadcasterMock{},
		analyzer:    &analyzerMock{},
	}
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = 100 * time.Millisecond
	}
	f.manager = NewManager(cfg, Deps{
		Dialer:   f.dialer,
		Store:    f.store,
		Archive:  f.archive,
		Notifier: f.broadcaster,
		Analyzer: f.analyzer,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.manager.Shutdown(ctx)
	})
	return f
}

func startEvent(callID, streamID string) telephony.Event {
	return telephony.Event{
		Kind:      telephony.EventStart,
		StreamSID: streamID,
		Start:     &telephony.StartPayload{CallSID: callID, StreamSID: streamID},
	}
}

func mediaFrame(streamID string) telephony.Event {
	payload := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xFF}, 160))
	return telephony.Event{
		Kind:      telephony.EventMedia,
		StreamSID: streamID,
		Media:     &telephony.MediaPayload{Track: "inbound", Payload: payload},
	}
}

func stopEventFor(callID, streamID string) telephony.Event {
	return telephony.Event{
		Kind:      telephony.EventStop,
		StreamSID: streamID,
		Stop:      &telephony.StopPayload{CallSID: callID},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mustHandle(t *testing.T, m *Manager, ev telephony.Event) {
	t.Helper()
	if err := m.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent(%s) failed: %v", ev.Kind, err)
	}
}

func transcriptField(u storage.CallUpdate) *string { return u.Transcript }
func priorityField(u storage.CallUpdate) *string   { return u.Priority }
