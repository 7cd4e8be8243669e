// Package state implements the durable per-(source, stream) cursor store.
// Cursor writes are guarded by the connector-supplied ordering: a successful
// job only moves a cursor forward, and a stale write from an overlapping job
// is rejected rather than silently applied.
package state

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livinlefevreloca/waypoint/internal/db"
	"github.com/livinlefevreloca/waypoint/internal/domain"
)

// Persistence is the storage behind the store. *db.DB satisfies it.
type Persistence interface {
	GetCursor(sourceID, stream string) (*domain.SourceStreamState, error)
	UpsertCursor(state domain.SourceStreamState) error
	DeleteCursors(sourceID, stream string) error
	AllCursors() ([]domain.SourceStreamState, error)
}

// Store coordinates cursor reads and writes. Each (source, stream) key has
// its own lock scoped to a single Advance or Reset call; no lock is held
// across I/O to other keys. A whole-source reset holds the source lock
// exclusively, so no concurrent Advance can re-upsert a cursor mid-reset.
// Lock order is always source lock before key lock.
type Store struct {
	persist Persistence
	logger  *slog.Logger

	mu      sync.Mutex
	sources map[string]*sync.RWMutex
	locks   map[string]*sync.Mutex
}

// NewStore creates a cursor store over the given persistence.
func NewStore(persist Persistence, logger *slog.Logger) *Store {
	return &Store{
		persist: persist,
		logger:  logger,
		sources: make(map[string]*sync.RWMutex),
		locks:   make(map[string]*sync.Mutex),
	}
}

// sourceLock returns the source-level lock, creating it lazily.
func (s *Store) sourceLock(sourceID string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.sources[sourceID]
	if !ok {
		lock = &sync.RWMutex{}
		s.sources[sourceID] = lock
	}
	return lock
}

// keyLock returns the mutex for one (source, stream) key, creating it lazily.
func (s *Store) keyLock(sourceID, stream string) *sync.Mutex {
	key := sourceID + "\x00" + stream

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// Get returns the stored cursor value for a stream, with ok=false when no
// cursor exists (first sync, or after a reset).
func (s *Store) Get(sourceID, stream string) (string, bool, error) {
	state, err := s.persist.GetCursor(sourceID, stream)
	if db.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return state.Cursor, true, nil
}

// Advance moves the cursor for a stream forward. A value that orders below
// the stored cursor is rejected with domain.ErrCursorRegression; equal values
// are accepted (an idempotent re-sync observed no new records).
func (s *Store) Advance(sourceID, stream, cursor string, ordering domain.CursorOrdering, now time.Time) error {
	if ordering == nil {
		ordering = domain.DefaultOrdering
	}

	src := s.sourceLock(sourceID)
	src.RLock()
	defer src.RUnlock()

	lock := s.keyLock(sourceID, stream)
	lock.Lock()
	defer lock.Unlock()

	stored, err := s.persist.GetCursor(sourceID, stream)
	if err != nil && !db.IsNotFound(err) {
		return fmt.Errorf("failed to read cursor %s/%s: %w", sourceID, stream, err)
	}

	if stored != nil && ordering(cursor, stored.Cursor) < 0 {
		s.logger.Warn("rejecting stale cursor write",
			"source_id", sourceID,
			"stream", stream,
			"stored", stored.Cursor,
			"attempted", cursor)
		return fmt.Errorf("%w: %s/%s stored=%q attempted=%q",
			domain.ErrCursorRegression, sourceID, stream, stored.Cursor, cursor)
	}

	return s.persist.UpsertCursor(domain.SourceStreamState{
		SourceID:     sourceID,
		Stream:       stream,
		Cursor:       cursor,
		LastSyncedAt: now,
	})
}

// Reset clears cursors so the next sync behaves as a full refresh. An empty
// stream resets every stream of the source.
func (s *Store) Reset(sourceID, stream string) error {
	src := s.sourceLock(sourceID)
	if stream == "" {
		src.Lock()
		defer src.Unlock()
	} else {
		src.RLock()
		defer src.RUnlock()

		lock := s.keyLock(sourceID, stream)
		lock.Lock()
		defer lock.Unlock()
	}

	s.logger.Info("resetting cursor state", "source_id", sourceID, "stream", stream)
	return s.persist.DeleteCursors(sourceID, stream)
}

// Export returns every stored cursor.
func (s *Store) Export() ([]domain.SourceStreamState, error) {
	return s.persist.AllCursors()
}
