package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func ptr[T any](v T) *T { return &v }

func TestSQLitePragmas(t *testing.T) {
	store := newTestSQLiteStore(t)

	var mode string
	if err := store.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode failed: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", mode)
	}

	var timeout int
	if err := store.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("PRAGMA busy_timeout failed: %v", err)
	}
	if timeout < 5000 {
		t.Fatalf("expected busy_timeout >= 5000, got %d", timeout)
	}
}

func TestSQLiteCallLifecycle(t *testing.T) {
	store := newTestSQLiteStore(t)

	created := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	if err := store.CreateCall(CallRecord{
		ID:          "CA1",
		DateCreated: created,
		Name:        "Unknown Caller",
		Phone:       "+15550100",
		Live:        true,
	}); err != nil {
		t.Fatalf("CreateCall failed: %v", err)
	}

	rec, err := store.GetCall("CA1")
	if err != nil {
		t.Fatalf("GetCall failed: %v", err)
	}
	if rec.Status != StatusOpen || rec.Priority != "TBD" || !rec.Live {
		t.Fatalf("unexpected defaults: %+v", rec)
	}

	if err := store.UpdateCall("CA1", CallUpdate{
		StreamID:   ptr("MZ1"),
		Transcript: ptr("there is a fire"),
		Priority:   ptr("HIGH"),
	}); err != nil {
		t.Fatalf("UpdateCall failed: %v", err)
	}

	transcript, err := store.Transcript("CA1")
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}
	if transcript != "there is a fire" {
		t.Fatalf("unexpected transcript %q", transcript)
	}

	disconnected := created.Add(90 * time.Second)
	if err := store.UpdateCall("CA1", CallUpdate{
		Live:             ptr(false),
		DateDisconnected: &disconnected,
		Emergency:        ptr("Fire Emergency"),
		Location:         ptr("5th and mission"),
		Geocode:          &Geocode{Lat: 37.78, Lng: -122.40},
	}); err != nil {
		t.Fatalf("UpdateCall failed: %v", err)
	}

	rec, err = store.GetCall("CA1")
	if err != nil {
		t.Fatalf("GetCall failed: %v", err)
	}
	if rec.Live {
		t.Fatal("expected call to be marked not live")
	}
	if rec.StreamID != "MZ1" || rec.Priority != "HIGH" || rec.Name != "Unknown Caller" {
		t.Fatalf("partial update clobbered fields: %+v", rec)
	}
	if rec.DateDisconnected == nil || !rec.DateDisconnected.Equal(disconnected) {
		t.Fatalf("unexpected disconnect time %v", rec.DateDisconnected)
	}
	if rec.Geocode == nil || rec.Geocode.Lat != 37.78 {
		t.Fatalf("unexpected geocode %+v", rec.Geocode)
	}
	if rec.Emergency != "Fire Emergency" || rec.Location != "5th and mission" {
		t.Fatalf("unexpected analysis fields %+v", rec)
	}
}

func TestSQLiteNotFound(t *testing.T) {
	store := newTestSQLiteStore(t)

	if _, err := store.GetCall("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from GetCall, got %v", err)
	}
	if _, err := store.Transcript("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Transcript, got %v", err)
	}
	if err := store.UpdateCall("missing", CallUpdate{Priority: ptr("LOW")}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from UpdateCall, got %v", err)
	}
}

func TestSQLiteEmptyUpdateIsNoop(t *testing.T) {
	store := newTestSQLiteStore(t)
	if err := store.UpdateCall("missing", CallUpdate{}); err != nil {
		t.Fatalf("expected empty update to succeed, got %v", err)
	}
}

func TestSQLiteEnsureCallKeepsExisting(t *testing.T) {
	store := newTestSQLiteStore(t)
	now := time.Now().UTC()

	if err := store.CreateCall(CallRecord{ID: "CA1", DateCreated: now, Name: "Ada", Live: true}); err != nil {
		t.Fatalf("CreateCall failed: %v", err)
	}
	if err := store.EnsureCall("CA1", now.Add(time.Minute)); err != nil {
		t.Fatalf("EnsureCall failed: %v", err)
	}
	rec, err := store.GetCall("CA1")
	if err != nil {
		t.Fatalf("GetCall failed: %v", err)
	}
	if rec.Name != "Ada" {
		t.Fatalf("EnsureCall overwrote existing record: %+v", rec)
	}

	if err := store.EnsureCall("CA2", now); err != nil {
		t.Fatalf("EnsureCall failed: %v", err)
	}
	if _, err := store.GetCall("CA2"); err != nil {
		t.Fatalf("expected EnsureCall to create missing record: %v", err)
	}
}

func TestSQLiteRepeatedCreateKeepsCallProgress(t *testing.T) {
	store := newTestSQLiteStore(t)
	now := time.Now().UTC()

	if err := store.EnsureCall("CA1", now); err != nil {
		t.Fatalf("EnsureCall failed: %v", err)
	}
	if err := store.UpdateCall("CA1", CallUpdate{
		Transcript: ptr("there is a fire"),
		Priority:   ptr("HIGH"),
	}); err != nil {
		t.Fatalf("UpdateCall failed: %v", err)
	}

	if err := store.CreateCall(CallRecord{ID: "CA1", DateCreated: now, Name: "Ada", Phone: "+14155550100", Live: true}); err != nil {
		t.Fatalf("CreateCall failed: %v", err)
	}

	rec, err := store.GetCall("CA1")
	if err != nil {
		t.Fatalf("GetCall failed: %v", err)
	}
	if rec.Transcript != "there is a fire" || rec.Priority != "HIGH" {
		t.Fatalf("CreateCall wiped call progress: %+v", rec)
	}
	if rec.Name != "Ada" || rec.Phone != "+14155550100" {
		t.Fatalf("expected caller details refreshed, got %+v", rec)
	}
}

func TestSQLiteCallsByDate(t *testing.T) {
	store := newTestSQLiteStore(t)

	day := time.Date(2026, 2, 26, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"CA1", "CA2", "CA3"} {
		if err := store.CreateCall(CallRecord{ID: id, DateCreated: day.Add(time.Duration(i) * time.Hour), Live: true}); err != nil {
			t.Fatalf("CreateCall failed: %v", err)
		}
	}
	if err := store.CreateCall(CallRecord{ID: "CA4", DateCreated: day.AddDate(0, 0, 1), Live: true}); err != nil {
		t.Fatalf("CreateCall failed: %v", err)
	}

	calls, err := store.GetCallsByDate("2026-02-26")
	if err != nil {
		t.Fatalf("GetCallsByDate failed: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(calls))
	}
	if calls[0].ID != "CA3" {
		t.Fatalf("expected newest first, got %s", calls[0].ID)
	}

	dates, err := store.GetDates()
	if err != nil {
		t.Fatalf("GetDates failed: %v", err)
	}
	if len(dates) != 2 || dates[0] != "2026-02-27" {
		t.Fatalf("unexpected dates %v", dates)
	}
}

func TestSQLiteClaimAnalysis(t *testing.T) {
	store := newTestSQLiteStore(t)

	claimed, err := store.ClaimAnalysis("CA1", "hash")
	if err != nil {
		t.Fatalf("ClaimAnalysis failed: %v", err)
	}
	if !claimed {
		t.Fatal("expected first claim to succeed")
	}

	claimed, err = store.ClaimAnalysis("CA1", "hash")
	if err != nil {
		t.Fatalf("ClaimAnalysis failed: %v", err)
	}
	if claimed {
		t.Fatal("expected duplicate claim to be rejected")
	}

	claimed, _ = store.ClaimAnalysis("CA1", "other")
	if !claimed {
		t.Fatal("expected a new transcript hash to be claimable")
	}
}

func TestSQLiteConcurrentUpdates(t *testing.T) {
	store := newTestSQLiteStore(t)
	now := time.Now().UTC()

	const calls = 8
	for i := range calls {
		if err := store.CreateCall(CallRecord{ID: fmt.Sprintf("CA%d", i), DateCreated: now, Live: true}); err != nil {
			t.Fatalf("CreateCall failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, calls)
	for i := range calls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("CA%d", i)
			if err := store.UpdateCall(id, CallUpdate{Transcript: ptr("text " + id)}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent update failed: %v", err)
	}
	for i := range calls {
		id := fmt.Sprintf("CA%d", i)
		got, err := store.Transcript(id)
		if err != nil || got != "text "+id {
			t.Fatalf("call %s transcript = %q, err %v", id, got, err)
		}
	}
}
