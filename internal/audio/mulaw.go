package audio

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/zaf/g711"
)

const (
	// SampleRate of the telephony media stream (G.711, mono).
	SampleRate = 8000
	// FrameDuration is the nominal length of one inbound media frame.
	FrameDuration = 20 * time.Millisecond
)

// DecodeMuLaw converts G.711 mu-law bytes into 16-bit little-endian linear PCM.
// The output is twice the length of the input.
func DecodeMuLaw(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	return g711.DecodeUlaw(payload)
}

// DecodeFrame decodes one base64 media payload into linear PCM.
func DecodeFrame(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode media payload: %w", err)
	}
	return DecodeMuLaw(raw), nil
}

// PCMDuration reports how much audio a linear16 mono buffer at SampleRate holds.
func PCMDuration(pcm []byte) time.Duration {
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / SampleRate
}
