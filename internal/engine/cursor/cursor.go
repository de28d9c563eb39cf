// Package cursor persists per-stream sync watermarks. A cursor marks the
// timestamp up to which a stream has completed a full push+pull round
// trip; absence means "full history" (first sync or after a local reset).
package cursor

import (
	"fmt"
	"time"

	"github.com/timewell/syncengine/internal/engine/settings"
)

const keyPrefix = "sync.cursor."

// Store reads and advances stream cursors on top of local settings.
type Store struct {
	settings settings.Store
}

// NewStore wraps a settings store.
func NewStore(s settings.Store) *Store {
	return &Store{settings: s}
}

// Get returns the cursor for stream. ok is false when the stream has never
// completed a round trip.
func (s *Store) Get(stream string) (t time.Time, ok bool, err error) {
	ok, err = s.settings.Get(keyPrefix+stream, &t)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cursor get %s: %w", stream, err)
	}
	return t, ok, nil
}

// Advance moves the cursor for stream forward. A cursor is only ever
// advanced after a fully successful round trip, and never moves backward.
func (s *Store) Advance(stream string, t time.Time) error {
	cur, ok, err := s.Get(stream)
	if err != nil {
		return err
	}
	if ok && t.Before(cur) {
		return nil
	}
	if err := s.settings.Set(keyPrefix+stream, t); err != nil {
		return fmt.Errorf("cursor advance %s: %w", stream, err)
	}
	return nil
}

// Clear removes the cursor for one stream.
func (s *Store) Clear(stream string) error {
	return s.settings.Remove(keyPrefix + stream)
}

// Reset clears all given stream cursors, forcing a full resync.
func (s *Store) Reset(streams ...string) error {
	for _, name := range streams {
		if err := s.Clear(name); err != nil {
			return err
		}
	}
	return nil
}
