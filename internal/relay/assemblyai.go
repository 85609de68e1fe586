package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const assemblyWriteTimeout = 5 * time.Second

// AssemblyAIDialer opens realtime sessions against the AssemblyAI v2
// websocket API.
type AssemblyAIDialer struct {
	url    string
	apiKey string
	dialer *websocket.Dialer
}

func NewAssemblyAIDialer(url, apiKey string) *AssemblyAIDialer {
	return &AssemblyAIDialer{
		url:    url,
		apiKey: apiKey,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (d *AssemblyAIDialer) Dial(ctx context.Context, callID string, sink Sink) (Relay, error) {
	header := http.Header{}
	header.Set("Authorization", d.apiKey)

	conn, resp, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial assemblyai (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial assemblyai: %w", err)
	}

	r := &assemblyRelay{
		callID: callID,
		conn:   conn,
		sink:   sink,
		done:   make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

type assemblyAudio struct {
	AudioData string `json:"audio_data"`
}

type assemblyTerminate struct {
	TerminateSession bool `json:"terminate_session"`
}

type assemblyMessage struct {
	MessageType string `json:"message_type"`
	AudioStart  int    `json:"audio_start"`
	AudioEnd    int    `json:"audio_end"`
	Text        string `json:"text"`
	Error       string `json:"error"`
}

type assemblyRelay struct {
	callID string
	conn   *websocket.Conn
	sink   Sink

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	doneOnce  sync.Once
	done      chan struct{}
}

func (r *assemblyRelay) Send(block []byte) error {
	return r.writeJSON(assemblyAudio{AudioData: base64.StdEncoding.EncodeToString(block)})
}

func (r *assemblyRelay) Terminate() error {
	return r.writeJSON(assemblyTerminate{TerminateSession: true})
}

func (r *assemblyRelay) Done() <-chan struct{} {
	return r.done
}

func (r *assemblyRelay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		_ = r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = r.conn.Close()
	})
	return err
}

func (r *assemblyRelay) writeJSON(v any) error {
	if r.closed.Load() {
		return ErrClosed
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	_ = r.conn.SetWriteDeadline(time.Now().Add(assemblyWriteTimeout))
	if err := r.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write assemblyai message: %w", err)
	}
	return nil
}

func (r *assemblyRelay) readLoop() {
	defer r.markDone()

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if r.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			r.sink.OnError(fmt.Errorf("read assemblyai message: %w", err))
			return
		}

		var msg assemblyMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("assemblyai: malformed message", "call_id", r.callID, "error", err)
			continue
		}

		switch {
		case msg.Error != "":
			r.sink.OnError(errors.New("assemblyai: " + msg.Error))
		case msg.MessageType == "SessionBegins":
			slog.Debug("assemblyai: session began", "call_id", r.callID)
		case msg.MessageType == "SessionTerminated":
			r.markDone()
		case msg.MessageType == "PartialTranscript", msg.MessageType == "FinalTranscript", msg.MessageType == "":
			r.sink.OnResult(Result{
				Offset: msg.AudioStart,
				Text:   msg.Text,
				Final:  msg.MessageType == "FinalTranscript",
			})
		}
	}
}

func (r *assemblyRelay) markDone() {
	r.doneOnce.Do(func() { close(r.done) })
}
