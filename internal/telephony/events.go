// Package telephony models the carrier side of a call: the media stream
// event protocol and the call-control response returned by the webhook.
package telephony

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEvent wraps any media stream frame that cannot be decoded.
var ErrMalformedEvent = errors.New("malformed media stream event")

// EventKind is the "event" discriminator of a media stream message.
type EventKind string

const (
	EventConnected EventKind = "connected"
	EventStart     EventKind = "start"
	EventMedia     EventKind = "media"
	EventStop      EventKind = "stop"
	EventMark      EventKind = "mark"
)

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type StartPayload struct {
	AccountSID  string      `json:"accountSid"`
	CallSID     string      `json:"callSid"`
	StreamSID   string      `json:"streamSid"`
	Tracks      []string    `json:"tracks"`
	MediaFormat MediaFormat `json:"mediaFormat"`
}

type MediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type StopPayload struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// Event is one decoded media stream message. Only the payload matching Kind is set.
type Event struct {
	Kind           EventKind     `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
}

// CallID returns the call identifier carried by start and stop events.
func (e Event) CallID() string {
	switch {
	case e.Start != nil:
		return e.Start.CallSID
	case e.Stop != nil:
		return e.Stop.CallSID
	default:
		return ""
	}
}

// ParseEvent decodes and validates one media stream frame.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch ev.Kind {
	case EventConnected, EventMark:
	case EventStart:
		if ev.Start == nil || ev.Start.CallSID == "" {
			return Event{}, fmt.Errorf("%w: start without callSid", ErrMalformedEvent)
		}
		if ev.StreamSID == "" {
			ev.StreamSID = ev.Start.StreamSID
		}
		if ev.StreamSID == "" {
			return Event{}, fmt.Errorf("%w: start without streamSid", ErrMalformedEvent)
		}
	case EventMedia:
		if ev.Media == nil || ev.StreamSID == "" {
			return Event{}, fmt.Errorf("%w: media without payload or streamSid", ErrMalformedEvent)
		}
	case EventStop:
		if ev.StreamSID == "" {
			return Event{}, fmt.Errorf("%w: stop without streamSid", ErrMalformedEvent)
		}
	default:
		return Event{}, fmt.Errorf("%w: unknown event %q", ErrMalformedEvent, ev.Kind)
	}
	return ev, nil
}
