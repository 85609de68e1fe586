package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ArchiveEntry is one closed call as written to the daily transcript archive.
type ArchiveEntry struct {
	ClosedAt   time.Time
	CallID     string
	Priority   string
	Transcript string
}

func (e ArchiveEntry) FormatMarkdown() string {
	ts := e.ClosedAt.Format("15:04:05")
	return fmt.Sprintf("**[%s] Call %s (%s):** %s", ts, e.CallID, e.Priority, strings.TrimSpace(e.Transcript))
}

// Writer appends closed calls to one markdown file per day.
type Writer struct {
	dir string
	mu  sync.Mutex
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

func (w *Writer) Append(entry ArchiveEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	path := w.PathFor(entry.ClosedAt)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintln(f, entry.FormatMarkdown()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

func (w *Writer) PathFor(t time.Time) string {
	return filepath.Join(w.dir, t.Format("2006-01-02")+".md")
}

func (w *Writer) CurrentPath() string {
	return w.PathFor(time.Now().UTC())
}
