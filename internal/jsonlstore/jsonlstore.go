// Package jsonlstore implements the engine's local store contracts over
// JSONL files, one file per record family. It backs the syncctl command;
// a host application would plug in its own database instead.
package jsonlstore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Store keeps one record family in a JSONL file, one record per line.
// Records are identified by keyOf for upserts and ordered by timeOf for
// cursor windows.
type Store[R any] struct {
	path   string
	mu     sync.Mutex
	keyOf  func(R) string
	timeOf func(R) time.Time
	stamp  func(R, uuid.UUID) (R, bool) // assign missing sync id and device; reports change
}

// ListSince returns records changed strictly after since; the zero time
// returns full history.
func (s *Store[R]) ListSince(_ context.Context, since time.Time) ([]R, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]R, 0, len(all))
	for _, r := range all {
		if s.timeOf(r).After(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

// EnsureSyncID assigns a sync id to records that lack one, stamps the
// originating device and persists the change.
func (s *Store[R]) EnsureSyncID(_ context.Context, rec R, deviceID uuid.UUID) (R, error) {
	stamped, changed := s.stamp(rec, deviceID)
	if !changed {
		return stamped, nil
	}
	if err := s.replace(rec, stamped); err != nil {
		return rec, err
	}
	return stamped, nil
}

// ApplyRemote upserts a remote record.
func (s *Store[R]) ApplyRemote(_ context.Context, rec R) error {
	return s.upsert(rec)
}

// Add inserts a local record.
func (s *Store[R]) Add(rec R) error {
	return s.upsert(rec)
}

// All returns every stored record.
func (s *Store[R]) All() ([]R, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// replace swaps old for rec in place. Stamping may change the record's key,
// so matching on rec's key alone would leave the unstamped row behind.
func (s *Store[R]) replace(old, rec R) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	key := s.keyOf(old)
	for i, r := range all {
		if s.keyOf(r) == key {
			all[i] = rec
			return s.save(all)
		}
	}
	return s.save(append(all, rec))
}

func (s *Store[R]) upsert(rec R) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	key := s.keyOf(rec)
	replaced := false
	for i, r := range all {
		if s.keyOf(r) == key {
			all[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		all = append(all, rec)
	}
	return s.save(all)
}

func (s *Store[R]) load() ([]R, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []R
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var r R
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(s.path), err)
		}
		out = append(out, r)
	}
	return out, sc.Err()
}

// save rewrites the whole file through a temp-and-rename so a crash never
// leaves a torn line.
func (s *Store[R]) save(all []R) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tmp-*")
	if err != nil {
		return err
	}
	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, r := range all {
		if err := enc.Encode(r); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
