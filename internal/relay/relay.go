// Package relay owns the per-call streaming connection to a speech
// recognition backend.
package relay

import "context"

// Result is one recognition message from the backend. Offset is the audio
// time, in milliseconds, at which Text begins.
type Result struct {
	Offset int
	Text   string
	Final  bool
}

// Sink receives everything the backend sends for one call. Calls arrive from
// the relay's reader goroutine.
type Sink interface {
	OnResult(Result)
	OnError(error)
}

// Relay forwards audio blocks for one call and surfaces recognition results
// to its Sink.
type Relay interface {
	// Send forwards one linear16 audio block.
	Send(block []byte) error
	// Terminate asks the backend to flush and end the session. Results may
	// still arrive until Done is closed.
	Terminate() error
	// Done is closed once the backend confirmed termination or the connection ended.
	Done() <-chan struct{}
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// Dialer opens a Relay for a call. Failing to open is fatal to the call.
type Dialer interface {
	Dial(ctx context.Context, callID string, sink Sink) (Relay, error)
}
