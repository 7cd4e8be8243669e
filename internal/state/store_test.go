package state

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/livinlefevreloca/waypoint/internal/db"
	"github.com/livinlefevreloca/waypoint/internal/domain"
	"github.com/livinlefevreloca/waypoint/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	database, err := db.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { database.Close() })

	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	return NewStore(database, testutil.Logger())
}

func TestGetMissingCursor(t *testing.T) {
	store := newTestStore(t)

	cursor, ok, err := store.Get("src-1", "orders")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok || cursor != "" {
		t.Errorf("expected no cursor, got %q ok=%v", cursor, ok)
	}
}

func TestAdvanceAndGet(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Advance("src-1", "orders", "100", domain.DefaultOrdering, now); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	cursor, ok, err := store.Get("src-1", "orders")
	if err != nil || !ok {
		t.Fatalf("get failed: %v ok=%v", err, ok)
	}
	if cursor != "100" {
		t.Errorf("expected cursor 100, got %q", cursor)
	}
}

func TestAdvanceRejectsRegression(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	if err := store.Advance("src-1", "orders", "100", domain.DefaultOrdering, now); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	err := store.Advance("src-1", "orders", "99", domain.DefaultOrdering, now)
	if !errors.Is(err, domain.ErrCursorRegression) {
		t.Fatalf("expected regression error, got %v", err)
	}

	// Stored value is untouched.
	cursor, _, _ := store.Get("src-1", "orders")
	if cursor != "100" {
		t.Errorf("expected cursor 100 after rejected write, got %q", cursor)
	}
}

func TestAdvanceAcceptsEqualCursor(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	if err := store.Advance("src-1", "orders", "100", domain.DefaultOrdering, now); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	// An idempotent re-sync that observed no new records writes the same value.
	if err := store.Advance("src-1", "orders", "100", domain.DefaultOrdering, now.Add(time.Minute)); err != nil {
		t.Errorf("equal cursor should be accepted: %v", err)
	}
}

func TestAdvanceUsesTimestampOrdering(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	if err := store.Advance("src-1", "orders", "2026-03-01T10:00:00Z", domain.DefaultOrdering, now); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	err := store.Advance("src-1", "orders", "2026-03-01T09:00:00Z", domain.DefaultOrdering, now)
	if !errors.Is(err, domain.ErrCursorRegression) {
		t.Errorf("earlier timestamp should be rejected, got %v", err)
	}
	if err := store.Advance("src-1", "orders", "2026-03-01T11:00:00Z", domain.DefaultOrdering, now); err != nil {
		t.Errorf("later timestamp should be accepted: %v", err)
	}
}

func TestResetThenAdvanceLowerValue(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	if err := store.Advance("src-1", "orders", "100", domain.DefaultOrdering, now); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if err := store.Reset("src-1", "orders"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	_, ok, _ := store.Get("src-1", "orders")
	if ok {
		t.Fatal("cursor should be gone after reset")
	}

	// After a reset the monotonicity guard starts over.
	if err := store.Advance("src-1", "orders", "5", domain.DefaultOrdering, now); err != nil {
		t.Errorf("advance after reset failed: %v", err)
	}
}

func TestResetWholeSource(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	for _, stream := range []string{"orders", "users"} {
		if err := store.Advance("src-1", stream, "1", domain.DefaultOrdering, now); err != nil {
			t.Fatalf("advance failed: %v", err)
		}
	}

	if err := store.Reset("src-1", ""); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	for _, stream := range []string{"orders", "users"} {
		if _, ok, _ := store.Get("src-1", stream); ok {
			t.Errorf("stream %s should be reset", stream)
		}
	}
}

// blockingPersistence parks DeleteCursors until released so tests can hold a
// reset open while probing concurrent writes.
type blockingPersistence struct {
	Persistence
	deleteStarted chan struct{}
	deleteRelease chan struct{}
}

func (p *blockingPersistence) DeleteCursors(sourceID, stream string) error {
	close(p.deleteStarted)
	<-p.deleteRelease
	return p.Persistence.DeleteCursors(sourceID, stream)
}

func TestWholeSourceResetBlocksConcurrentAdvance(t *testing.T) {
	database, err := db.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	persist := &blockingPersistence{
		Persistence:   database,
		deleteStarted: make(chan struct{}),
		deleteRelease: make(chan struct{}),
	}
	store := NewStore(persist, testutil.Logger())
	now := time.Now().UTC()

	if err := store.Advance("src-1", "orders", "5", domain.DefaultOrdering, now); err != nil {
		t.Fatalf("seed advance failed: %v", err)
	}

	resetDone := make(chan error, 1)
	go func() { resetDone <- store.Reset("src-1", "") }()
	<-persist.deleteStarted

	advanceDone := make(chan error, 1)
	go func() {
		advanceDone <- store.Advance("src-1", "orders", "9", domain.DefaultOrdering, now)
	}()

	// The advance must wait for the reset to finish, otherwise it could
	// re-upsert a cursor the reset was meant to clear.
	select {
	case <-advanceDone:
		t.Fatal("advance completed while whole-source reset was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(persist.deleteRelease)
	if err := <-resetDone; err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if err := <-advanceDone; err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	// The advance landed after the reset, so its value is the stored one.
	cursor, ok, err := store.Get("src-1", "orders")
	if err != nil || !ok {
		t.Fatalf("get failed: %v ok=%v", err, ok)
	}
	if cursor != "9" {
		t.Errorf("expected cursor 9, got %q", cursor)
	}
}

func TestConcurrentAdvanceDistinctKeys(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stream := fmt.Sprintf("stream-%d", i)
			errs <- store.Advance("src-1", stream, "1", domain.DefaultOrdering, now)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent advance failed: %v", err)
		}
	}

	cursors, err := store.Export()
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if len(cursors) != 20 {
		t.Errorf("expected 20 cursors, got %d", len(cursors))
	}
}
