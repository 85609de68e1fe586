package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func testSession(callID, streamID string) *Session {
	m := NewManager(Config{}, Deps{})
	return newSession(m, callID, streamID)
}

func TestRegistryInsertLookupRemove(t *testing.T) {
	r := NewRegistry()
	s := testSession("C1", "S1")

	if err := r.Insert(s); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := r.Insert(testSession("C1", "S9")); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}

	if got, ok := r.Lookup("C1"); !ok || got != s {
		t.Fatal("expected lookup by call id")
	}
	if got, ok := r.LookupStream("S1"); !ok || got != s {
		t.Fatal("expected lookup by stream id")
	}

	r.Remove(s)
	if _, ok := r.Lookup("C1"); ok {
		t.Fatal("expected call removed")
	}
	if _, ok := r.LookupStream("S1"); ok {
		t.Fatal("expected stream removed")
	}
}

func TestRegistryRemoveIgnoresStaleSession(t *testing.T) {
	r := NewRegistry()
	old := testSession("C1", "S1")
	if err := r.Insert(old); err != nil {
		t.Fatal(err)
	}
	r.Remove(old)

	fresh := testSession("C1", "S2")
	if err := r.Insert(fresh); err != nil {
		t.Fatal(err)
	}
	r.Remove(old)

	if got, ok := r.Lookup("C1"); !ok || got != fresh {
		t.Fatal("expected stale remove to leave the new session")
	}
}

func TestRegistryRebind(t *testing.T) {
	r := NewRegistry()
	s := testSession("C1", "S1")
	if err := r.Insert(s); err != nil {
		t.Fatal(err)
	}

	if err := r.Rebind("C1", "S2"); err != nil {
		t.Fatalf("Rebind: %v", err)
	}
	if _, ok := r.LookupStream("S1"); ok {
		t.Fatal("expected old stream unbound")
	}
	if got, ok := r.LookupStream("S2"); !ok || got != s {
		t.Fatal("expected new stream bound")
	}
	if err := r.Rebind("C9", "S3"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed for unknown call, got %v", err)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := testSession(fmt.Sprintf("C%d", i), fmt.Sprintf("S%d", i))
			if err := r.Insert(s); err != nil {
				t.Errorf("Insert: %v", err)
				return
			}
			if _, ok := r.LookupStream(fmt.Sprintf("S%d", i)); !ok {
				t.Errorf("lookup S%d failed", i)
			}
			_ = r.All()
			if i%2 == 0 {
				r.Remove(s)
			}
		}()
	}
	wg.Wait()

	if r.Len() != 25 {
		t.Fatalf("expected 25 sessions left, got %d", r.Len())
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StatePending:   "PENDING",
		StateStreaming: "STREAMING",
		StateClosing:   "CLOSING",
		StateClosed:    "CLOSED",
		State(42):      "UNKNOWN",
	}
	for st, want := range tests {
		if got := st.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", st, got, want)
		}
	}
}
