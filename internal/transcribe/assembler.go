package transcribe

import (
	"slices"
	"strings"
)

// Fragment is one recognition result: text that begins at Offset in the
// call's audio timeline. Offsets are backend-defined (milliseconds for both
// supported backends) and arrive in arbitrary order.
type Fragment struct {
	Offset int
	Text   string
}

// Assembler merges fragments into a running transcript keyed by offset.
// Re-delivery of an offset overwrites its text; keys are never removed.
// It is owned by a single call session and is not safe for concurrent use.
type Assembler struct {
	fragments  map[int]string
	transcript string
}

func NewAssembler() *Assembler {
	return &Assembler{fragments: make(map[int]string)}
}

// Apply records f and recomputes the transcript. It reports whether the
// transcript text changed as a result.
func (a *Assembler) Apply(f Fragment) (string, bool) {
	if prev, ok := a.fragments[f.Offset]; ok && prev == f.Text {
		return a.transcript, false
	}
	a.fragments[f.Offset] = f.Text

	next := Assemble(a.fragments)
	changed := next != a.transcript
	a.transcript = next
	return next, changed
}

// Transcript returns the cached transcript.
func (a *Assembler) Transcript() string {
	return a.transcript
}

// Len returns the number of distinct offsets seen.
func (a *Assembler) Len() int {
	return len(a.fragments)
}

// Assemble joins fragment texts in ascending offset order with single spaces.
// Empty fragments contribute nothing.
func Assemble(fragments map[int]string) string {
	offsets := make([]int, 0, len(fragments))
	for off := range fragments {
		offsets = append(offsets, off)
	}
	slices.Sort(offsets)

	var b strings.Builder
	for _, off := range offsets {
		text := strings.TrimSpace(fragments[off])
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}
