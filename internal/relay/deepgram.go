package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sjawhar/ghost-dispatch/internal/audio"
)

// DeepgramDialer opens one live transcription socket per call through the
// Deepgram SDK. Callers must run client.Init once per process.
type DeepgramDialer struct {
	apiKey string
	model  string
}

func NewDeepgramDialer(apiKey, model string) *DeepgramDialer {
	if model == "" {
		model = "nova-2"
	}
	return &DeepgramDialer{apiKey: apiKey, model: model}
}

func (d *DeepgramDialer) Dial(ctx context.Context, callID string, sink Sink) (Relay, error) {
	r := &deepgramRelay{callID: callID, sink: sink, done: make(chan struct{})}

	cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.model,
		Language:       "en-US",
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		Encoding:       "linear16",
		SampleRate:     audio.SampleRate,
		Channels:       1,
	}

	// The socket must outlive the dial context; Close cancels it.
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	dg, err := client.NewWSUsingCallback(connCtx, d.apiKey, cOptions, tOptions, deepgramCallback{relay: r})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create deepgram client: %w", err)
	}
	if ok := dg.Connect(); !ok {
		cancel()
		return nil, fmt.Errorf("connect deepgram for call %s", callID)
	}

	r.client = dg
	r.cancel = cancel
	return r, nil
}

type deepgramRelay struct {
	callID string
	sink   Sink
	client *client.WSCallback
	cancel context.CancelFunc

	closed    atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once
	doneOnce  sync.Once
	done      chan struct{}
}

func (r *deepgramRelay) Send(block []byte) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if _, err := r.client.Write(block); err != nil {
		return fmt.Errorf("write deepgram audio: %w", err)
	}
	return nil
}

// Terminate stops the stream in the background; Stop flushes pending
// results before tearing down the socket.
func (r *deepgramRelay) Terminate() error {
	if r.closed.Load() {
		return ErrClosed
	}
	go r.stop()
	return nil
}

func (r *deepgramRelay) Done() <-chan struct{} {
	return r.done
}

func (r *deepgramRelay) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.stop()
		r.cancel()
	})
	return nil
}

func (r *deepgramRelay) stop() {
	r.stopOnce.Do(func() {
		r.client.Stop()
		r.markDone()
	})
}

func (r *deepgramRelay) markDone() {
	r.doneOnce.Do(func() { close(r.done) })
}

type deepgramCallback struct {
	relay *deepgramRelay
}

func (c deepgramCallback) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	c.relay.sink.OnResult(Result{
		Offset: int(mr.Start * 1000),
		Text:   text,
		Final:  mr.IsFinal,
	})
	return nil
}

func (c deepgramCallback) Open(*api.OpenResponse) error {
	slog.Debug("deepgram: connected", "call_id", c.relay.callID)
	return nil
}

func (c deepgramCallback) Metadata(*api.MetadataResponse) error { return nil }

func (c deepgramCallback) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (c deepgramCallback) UtteranceEnd(*api.UtteranceEndResponse) error { return nil }

func (c deepgramCallback) Close(*api.CloseResponse) error {
	c.relay.markDone()
	return nil
}

func (c deepgramCallback) Error(er *api.ErrorResponse) error {
	c.relay.sink.OnError(fmt.Errorf("deepgram error %s: %s", er.ErrCode, er.Description))
	return nil
}

func (c deepgramCallback) UnhandledEvent([]byte) error { return nil }
