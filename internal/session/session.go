package session

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sjawhar/ghost-dispatch/internal/audio"
	"github.com/sjawhar/ghost-dispatch/internal/metrics"
	"github.com/sjawhar/ghost-dispatch/internal/priority"
	"github.com/sjawhar/ghost-dispatch/internal/relay"
	"github.com/sjawhar/ghost-dispatch/internal/storage"
	"github.com/sjawhar/ghost-dispatch/internal/transcribe"
)

const (
	eventQueueSize = 256
	writeQueueSize = 64
)

type event interface{ isEvent() }

type mediaEvent struct{ payload string }
type stopEvent struct{}
type resultEvent struct{ result relay.Result }
type relayErrorEvent struct{ err error }
type transportLostEvent struct{ err error }
type idleEvent struct{}
type shutdownEvent struct{}
type rebindEvent struct{ streamID string }

func (mediaEvent) isEvent()         {}
func (stopEvent) isEvent()          {}
func (resultEvent) isEvent()        {}
func (relayErrorEvent) isEvent()    {}
func (transportLostEvent) isEvent() {}
func (idleEvent) isEvent()          {}
func (shutdownEvent) isEvent()      {}
func (rebindEvent) isEvent()        {}

// Info is a point-in-time view of a live session.
type Info struct {
	CallID    string         `json:"call_id"`
	StreamID  string         `json:"stream_id"`
	State     State          `json:"state"`
	Priority  priority.Level `json:"priority"`
	StartedAt time.Time      `json:"started_at"`
}

// Session owns one call. All mutable call state is touched only by the run
// goroutine; other goroutines talk to it through events.
type Session struct {
	callID    string
	startedAt time.Time
	m         *Manager
	log       *slog.Logger

	state atomic.Int32

	mu       sync.Mutex
	streamID string
	level    priority.Level

	events chan event
	done   chan struct{}

	relay     relay.Relay
	buffer    *audio.ChunkBuffer
	assembler *transcribe.Assembler
	detector  *Detector

	writes      chan storage.CallUpdate
	writerDone  chan struct{}
	finalized   bool
	relayClosed bool
}

func newSession(m *Manager, callID, streamID string) *Session {
	s := &Session{
		callID:     callID,
		startedAt:  time.Now().UTC(),
		m:          m,
		log:        slog.With("call_id", callID),
		streamID:   streamID,
		level:      priority.TBD,
		events:     make(chan event, eventQueueSize),
		done:       make(chan struct{}),
		buffer:     audio.NewChunkBuffer(m.cfg.FramesPerBlock),
		assembler:  transcribe.NewAssembler(),
		detector:   NewDetector(m.cfg.IdleTimeout),
		writes:     make(chan storage.CallUpdate, writeQueueSize),
		writerDone: make(chan struct{}),
	}
	s.state.Store(int32(StatePending))
	s.detector.OnIdle(func() { _ = s.post(idleEvent{}) })
	return s
}

func (s *Session) CallID() string { return s.callID }

func (s *Session) StreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) Priority() priority.Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Done is closed once the session reached CLOSED and released its relay.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		CallID:    s.callID,
		StreamID:  s.streamID,
		State:     s.State(),
		Priority:  s.level,
		StartedAt: s.startedAt,
	}
}

// OnResult implements relay.Sink.
func (s *Session) OnResult(r relay.Result) {
	_ = s.post(resultEvent{result: r})
}

// OnError implements relay.Sink.
func (s *Session) OnError(err error) {
	_ = s.post(relayErrorEvent{err: err})
}

func (s *Session) post(ev event) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// open dials the relay and moves the session to STREAMING.
func (s *Session) open(ctx context.Context) error {
	r, err := s.m.dialer.Dial(ctx, s.callID, s)
	if err != nil {
		return fmt.Errorf("open relay for %s: %w", s.callID, err)
	}
	s.mu.Lock()
	s.relay = r
	s.mu.Unlock()
	s.setState(StateStreaming)

	go s.runWriter()
	go s.run()
	s.detector.Touch()
	return nil
}

func (s *Session) currentRelay() relay.Relay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relay
}

// abandon releases a session whose relay never opened.
func (s *Session) abandon() {
	s.detector.Stop()
	s.setState(StateClosed)
	close(s.writerDone)
	close(s.done)
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.log.Debug("session: state change", "from", prev, "to", st)
	}
}

func (s *Session) run() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session: panic", "panic", r, "stack", string(debug.Stack()))
			s.forceClose(metrics.OutcomeError)
		}
	}()

	for ev := range s.events {
		if s.handle(ev) {
			return
		}
	}
}

// handle applies one event and reports whether the session has finished.
func (s *Session) handle(ev event) bool {
	switch e := ev.(type) {
	case mediaEvent:
		s.onMedia(e.payload)
	case resultEvent:
		s.onResult(e.result)
	case rebindEvent:
		s.mu.Lock()
		s.streamID = e.streamID
		s.mu.Unlock()
		s.log.Info("session: stream rebound", "stream_id", e.streamID)
	case stopEvent:
		s.close()
		return true
	case relayErrorEvent:
		s.log.Warn("session: relay error", "stream_id", s.StreamID(), "error", e.err)
		s.forceClose(metrics.OutcomeError)
		return true
	case transportLostEvent:
		s.log.Warn("session: transport lost", "stream_id", s.StreamID(), "error", e.err)
		s.forceClose(metrics.OutcomeError)
		return true
	case idleEvent:
		s.log.Warn("session: idle timeout", "stream_id", s.StreamID(), "timeout", s.m.cfg.IdleTimeout)
		s.forceClose(metrics.OutcomeIdle)
		return true
	case shutdownEvent:
		s.forceClose(metrics.OutcomeShutdown)
		return true
	}
	return false
}

func (s *Session) onMedia(payload string) {
	s.detector.Touch()
	s.m.metrics.MediaFrame()

	pcm, err := audio.DecodeFrame(payload)
	if err != nil {
		s.log.Warn("session: dropping media frame", "stream_id", s.StreamID(), "error", err)
		return
	}

	block, ok := s.buffer.Push(pcm)
	if !ok {
		return
	}
	if err := s.relay.Send(block); err != nil {
		s.m.metrics.BlockSendFailed()
		s.log.Warn("session: audio block not forwarded", "stream_id", s.StreamID(), "bytes", len(block), "error", err)
		return
	}
	s.m.metrics.BlockForwarded()
}

func (s *Session) onResult(r relay.Result) {
	s.m.metrics.Recognition()

	transcript, changed := s.assembler.Apply(transcribe.Fragment{Offset: r.Offset, Text: r.Text})
	if !changed || transcript == "" {
		return
	}

	classified := priority.Classify(transcript)
	s.m.metrics.Classified(classified.String())

	s.mu.Lock()
	s.level = priority.Max(s.level, classified)
	level := s.level
	streamID := s.streamID
	s.mu.Unlock()

	levelName := level.String()
	s.enqueue(storage.CallUpdate{
		StreamID:   &streamID,
		Transcript: &transcript,
		Priority:   &levelName,
	})

	if s.m.notifier != nil {
		s.m.notifier.BroadcastNotification(Notification{
			CallID:   s.callID,
			Title:    s.m.cfg.NotificationTitle,
			Body:     transcript,
			Priority: level,
		})
		s.m.metrics.Notification()
	}
}

// close is the orderly stop path: STREAMING -> CLOSING -> CLOSED.
func (s *Session) close() {
	s.setState(StateClosing)

	if dropped := s.buffer.Discard(); dropped > 0 {
		s.log.Debug("session: dropping partial audio block", "frames", dropped)
	}
	if err := s.relay.Terminate(); err != nil {
		s.log.Warn("session: relay terminate failed", "error", err)
	}

	s.drain()
	s.finalize(metrics.OutcomeCompleted)
}

// drain keeps applying in-flight recognition results until the relay
// confirms closure or the close timeout passes.
func (s *Session) drain() {
	timer := time.NewTimer(s.m.cfg.CloseTimeout)
	defer timer.Stop()

	for {
		select {
		case <-s.relay.Done():
			s.drainQueued()
			return
		case <-timer.C:
			s.log.Debug("session: relay close not confirmed in time", "timeout", s.m.cfg.CloseTimeout)
			s.drainQueued()
			return
		case ev := <-s.events:
			switch e := ev.(type) {
			case resultEvent:
				s.onResult(e.result)
			case relayErrorEvent, transportLostEvent:
				return
			}
		}
	}
}

// drainQueued applies results already sitting in the event queue.
func (s *Session) drainQueued() {
	for {
		select {
		case ev := <-s.events:
			if e, ok := ev.(resultEvent); ok {
				s.onResult(e.result)
			}
		default:
			return
		}
	}
}

// forceClose goes straight to CLOSED with best-effort persistence.
func (s *Session) forceClose(outcome string) {
	if s.finalized {
		return
	}
	s.buffer.Discard()
	if s.relay != nil {
		if err := s.relay.Terminate(); err != nil {
			s.log.Debug("session: relay terminate on force close", "error", err)
		}
	}
	s.finalize(outcome)
}

func (s *Session) finalize(outcome string) {
	if s.finalized {
		return
	}
	s.finalized = true

	s.detector.Stop()
	s.closeRelay()
	s.setState(StateClosed)
	s.m.registry.Remove(s)

	closedAt := time.Now().UTC()
	transcript := s.assembler.Transcript()

	s.mu.Lock()
	level := s.level
	s.mu.Unlock()

	live := false
	levelName := level.String()
	s.enqueue(storage.CallUpdate{
		Live:             &live,
		DateDisconnected: &closedAt,
		Transcript:       &transcript,
		Priority:         &levelName,
	})
	close(s.writes)
	<-s.writerDone

	close(s.done)

	duration := closedAt.Sub(s.startedAt)
	s.m.metrics.SessionClosed(outcome, duration)
	s.log.Info("session: closed", "outcome", outcome, "priority", level, "duration", duration)

	if s.m.archive != nil {
		entry := storage.ArchiveEntry{
			ClosedAt:   closedAt,
			CallID:     s.callID,
			Priority:   levelName,
			Transcript: transcript,
		}
		if err := s.m.archive.Append(entry); err != nil {
			s.log.Warn("session: archive append failed", "error", err)
		}
	}
	if s.m.notifier != nil {
		s.m.notifier.BroadcastCallEnded(s.callID, level, duration)
	}

	if outcome != metrics.OutcomeShutdown {
		s.m.analyze(s.callID, transcript)
	}
}

func (s *Session) closeRelay() {
	if s.relay == nil || s.relayClosed {
		return
	}
	s.relayClosed = true
	if err := s.relay.Close(); err != nil {
		s.log.Debug("session: relay close", "error", err)
	}
}

func (s *Session) enqueue(u storage.CallUpdate) {
	s.writes <- u
}

// runWriter applies this call's updates in order, off the event loop.
func (s *Session) runWriter() {
	defer close(s.writerDone)

	if s.m.store != nil {
		if err := s.m.store.EnsureCall(s.callID, s.startedAt); err != nil {
			s.m.metrics.PersistenceError()
			s.log.Warn("session: ensure call record failed", "error", err)
		}
	}

	for u := range s.writes {
		if s.m.store == nil {
			continue
		}
		if err := s.m.store.UpdateCall(s.callID, u); err != nil {
			s.m.metrics.PersistenceError()
			s.log.Warn("session: persist update failed", "error", err)
		}
	}
}
