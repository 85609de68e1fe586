package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sjawhar/ghost-dispatch/internal/audio"
	"github.com/sjawhar/ghost-dispatch/internal/metrics"
	"github.com/sjawhar/ghost-dispatch/internal/relay"
	"github.com/sjawhar/ghost-dispatch/internal/telephony"
)

type Config struct {
	FramesPerBlock    int
	CloseTimeout      time.Duration
	IdleTimeout       time.Duration
	AnalysisTimeout   time.Duration
	NotificationTitle string
}

func (c Config) withDefaults() Config {
	if c.FramesPerBlock <= 0 {
		c.FramesPerBlock = audio.DefaultFramesPerBlock
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 100 * time.Millisecond
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.AnalysisTimeout <= 0 {
		c.AnalysisTimeout = 2 * time.Minute
	}
	if c.NotificationTitle == "" {
		c.NotificationTitle = "Emergency"
	}
	return c
}

// Deps are the collaborators shared by all sessions. Only Dialer is required.
type Deps struct {
	Dialer   relay.Dialer
	Store    Store
	Archive  Archive
	Notifier EventBroadcaster
	Analyzer Analyzer
	Metrics  *metrics.Metrics
}

// Manager dispatches inbound media stream events to per-call sessions.
type Manager struct {
	cfg      Config
	dialer   relay.Dialer
	store    Store
	archive  Archive
	notifier EventBroadcaster
	analyzer Analyzer
	metrics  *metrics.Metrics
	registry *Registry

	analyses sync.WaitGroup
}

func NewManager(cfg Config, deps Deps) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		dialer:   deps.Dialer,
		store:    deps.Store,
		archive:  deps.Archive,
		notifier: deps.Notifier,
		analyzer: deps.Analyzer,
		metrics:  deps.Metrics,
		registry: NewRegistry(),
	}
}

func (m *Manager) Registry() *Registry { return m.registry }

// HandleFrame parses one raw media stream message and dispatches it.
func (m *Manager) HandleFrame(ctx context.Context, data []byte) error {
	ev, err := telephony.ParseEvent(data)
	if err != nil {
		return err
	}
	return m.HandleEvent(ctx, ev)
}

// HandleEvent routes one event. Events for one stream must be delivered
// sequentially; different streams may be handled concurrently.
func (m *Manager) HandleEvent(ctx context.Context, ev telephony.Event) error {
	switch ev.Kind {
	case telephony.EventStart:
		return m.start(ctx, ev.CallID(), ev.StreamSID)
	case telephony.EventMedia:
		s, ok := m.registry.LookupStream(ev.StreamSID)
		if !ok {
			return fmt.Errorf("media for %s: %w", ev.StreamSID, ErrUnknownStream)
		}
		return s.post(mediaEvent{payload: ev.Media.Payload})
	case telephony.EventStop:
		s, ok := m.registry.LookupStream(ev.StreamSID)
		if !ok {
			return fmt.Errorf("stop for %s: %w", ev.StreamSID, ErrUnknownStream)
		}
		return s.post(stopEvent{})
	default:
		return nil
	}
}

func (m *Manager) start(ctx context.Context, callID, streamID string) error {
	log := slog.With("call_id", callID, "stream_id", streamID)

	if existing, ok := m.registry.Lookup(callID); ok {
		if existing.State() < StateClosing {
			if err := m.registry.Rebind(callID, streamID); err != nil {
				return err
			}
			if err := existing.post(rebindEvent{streamID: streamID}); err == nil && existing.State() < StateClosing {
				log.Info("session: start for live call, rebinding stream")
				return nil
			}
		}

		// A closing session drops all of its stream ids on removal, so the
		// new stream gets its own session once the old one is gone.
		log.Info("session: start for closing call, waiting for previous session")
		select {
		case <-existing.Done():
		case <-ctx.Done():
			return fmt.Errorf("start %s: previous session still closing: %w", callID, errors.Join(ErrSessionClosed, ctx.Err()))
		}
	}

	s := newSession(m, callID, streamID)
	if err := m.registry.Insert(s); err != nil {
		return err
	}

	if err := s.open(ctx); err != nil {
		m.registry.Remove(s)
		s.abandon()
		m.metrics.RelayOpenFailed()
		log.Error("session: relay open failed", "error", err)
		return err
	}

	m.metrics.SessionStarted()
	if m.notifier != nil {
		m.notifier.BroadcastCallStarted(callID, streamID)
	}
	log.Info("session: streaming")
	return nil
}

// StreamLost force-closes the session bound to streamID after its transport
// went away without a stop event.
func (m *Manager) StreamLost(streamID string, cause error) {
	s, ok := m.registry.LookupStream(streamID)
	if !ok {
		return
	}
	if cause == nil {
		cause = errors.New("media stream closed")
	}
	_ = s.post(transportLostEvent{err: cause})
}

// Sessions lists the live sessions.
func (m *Manager) Sessions() []Info {
	all := m.registry.All()
	infos := make([]Info, 0, len(all))
	for _, s := range all {
		infos = append(infos, s.Info())
	}
	return infos
}

// Shutdown terminates and closes every open relay. Sessions that do not
// finish before ctx is done have their relay released directly.
func (m *Manager) Shutdown(ctx context.Context) error {
	sessions := m.registry.All()
	for _, s := range sessions {
		select {
		case s.events <- shutdownEvent{}:
		case <-s.done:
		default:
			go func() { _ = s.post(shutdownEvent{}) }()
		}
	}

	var stuck int
	for _, s := range sessions {
		select {
		case <-s.done:
		case <-ctx.Done():
			stuck++
			if r := s.currentRelay(); r != nil {
				_ = r.Terminate()
				_ = r.Close()
			}
		}
	}

	slog.Info("session: shutdown complete", "sessions", len(sessions), "forced", stuck)
	if stuck > 0 {
		return fmt.Errorf("shutdown: %d sessions did not close: %w", stuck, ctx.Err())
	}
	return nil
}

// WaitAnalyses blocks until detached end-of-call analyses finish or ctx is done.
func (m *Manager) WaitAnalyses(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.analyses.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// analyze runs on a transcript snapshot and outlives the session.
func (m *Manager) analyze(callID, transcript string) {
	if m.analyzer == nil {
		return
	}

	m.analyses.Add(1)
	go func() {
		defer m.analyses.Done()
		log := slog.With("call_id", callID)
		defer func() {
			if r := recover(); r != nil {
				log.Error("session: end-of-call analysis panic", "panic", r, "stack", string(debug.Stack()))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AnalysisTimeout)
		defer cancel()

		res, err := m.analyzer.Analyze(ctx, callID, transcript)
		if err != nil {
			log.Warn("session: end-of-call analysis failed", "error", err)
			return
		}
		if res.Skipped {
			log.Debug("session: end-of-call analysis skipped")
			return
		}
		log.Info("session: end-of-call analysis done", "emergency", res.Emergency, "priority", res.Priority)
	}()
}
