package audio

// DefaultFramesPerBlock covers 100ms of audio at 20ms per inbound frame, the
// minimum block size the realtime transcription backends accept.
const DefaultFramesPerBlock = 5

// ChunkBuffer accumulates decoded frames until a fixed frame count is reached.
// It is owned by a single call session and is not safe for concurrent use.
type ChunkBuffer struct {
	threshold int
	frames    [][]byte
	size      int
}

// NewChunkBuffer creates a buffer that emits one block every threshold frames.
func NewChunkBuffer(threshold int) *ChunkBuffer {
	if threshold <= 0 {
		threshold = DefaultFramesPerBlock
	}
	return &ChunkBuffer{threshold: threshold, frames: make([][]byte, 0, threshold)}
}

// Push appends a decoded frame. When the threshold is reached it returns the
// concatenation of all buffered frames in arrival order and resets the buffer.
func (b *ChunkBuffer) Push(frame []byte) ([]byte, bool) {
	b.frames = append(b.frames, frame)
	b.size += len(frame)
	if len(b.frames) < b.threshold {
		return nil, false
	}

	block := make([]byte, 0, b.size)
	for _, f := range b.frames {
		block = append(block, f...)
	}
	b.frames = b.frames[:0]
	b.size = 0
	return block, true
}

// Pending returns the number of buffered frames not yet emitted.
func (b *ChunkBuffer) Pending() int {
	return len(b.frames)
}

// Discard drops any buffered remainder and returns how many frames were lost.
// Partial blocks are never forwarded.
func (b *ChunkBuffer) Discard() int {
	n := len(b.frames)
	b.frames = b.frames[:0]
	b.size = 0
	return n
}
