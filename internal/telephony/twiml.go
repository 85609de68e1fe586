package telephony

import (
	"fmt"
	"strconv"

	"github.com/twilio/twilio-go/twiml"
)

// Caller is the metadata the carrier posts to the call-control webhook.
type Caller struct {
	CallSID string
	From    string
	Name    string
}

const (
	unknownCallerName   = "Unknown Caller"
	unknownCallerNumber = "Unknown Number"
)

// DisplayName returns the caller name or a placeholder.
func (c Caller) DisplayName() string {
	if c.Name == "" {
		return unknownCallerName
	}
	return c.Name
}

// DisplayPhone returns the caller number or a placeholder.
func (c Caller) DisplayPhone() string {
	if c.From == "" {
		return unknownCallerNumber
	}
	return c.From
}

// StreamInstructions builds the call-control document that opens a media
// stream to streamURL, plays the greeting and holds the line.
func StreamInstructions(streamURL, greeting string, holdSeconds int) (string, error) {
	verbs := []twiml.Element{
		&twiml.VoiceStart{
			InnerElements: []twiml.Element{
				&twiml.VoiceStream{Url: streamURL},
			},
		},
		&twiml.VoiceSay{Message: greeting},
	}
	if holdSeconds > 0 {
		verbs = append(verbs, &twiml.VoicePause{Length: strconv.Itoa(holdSeconds)})
	}

	doc, err := twiml.Voice(verbs)
	if err != nil {
		return "", fmt.Errorf("render call instructions: %w", err)
	}
	return doc, nil
}
