// Package stream implements the generic record sync unit: push local
// changes since the cursor, pull remote changes since the cursor, apply
// them locally, then advance the cursor. One unit is instantiated per
// entity family (ledger, library, consumption log, rollups, achievements).
package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/timewell/syncengine/internal/engine/cursor"
	"github.com/timewell/syncengine/internal/model"
)

// DefaultChunkSize bounds one push batch, chosen to stay well under the
// row-store's payload limits.
const DefaultChunkSize = 500

// safetySkew is subtracted from the advanced cursor to tolerate small
// clock skew between this device and the remote store. Rows inside the
// skew window are re-pulled next cycle; the apply path is idempotent, so
// this only costs a little bandwidth.
const safetySkew = 2 * time.Second

// LocalStore is the per-stream contract with the application's local
// store. Reads and writes here are synchronous and fast; they never hit
// the network.
type LocalStore[R any] interface {
	// ListSince returns local records changed strictly after since,
	// the zero time meaning full history.
	ListSince(ctx context.Context, since time.Time) ([]R, error)
	// EnsureSyncID assigns a stable sync id if the record lacks one and
	// stamps the originating device. Assigning twice is a no-op.
	EnsureSyncID(ctx context.Context, rec R, deviceID uuid.UUID) (R, error)
	// ApplyRemote upserts a remote record into the local store.
	ApplyRemote(ctx context.Context, rec R) error
}

// RemoteStore is the per-stream view of the row-store API.
type RemoteStore[R any] interface {
	// Push upserts one batch keyed by the stream's conflict target;
	// at-least-once, idempotent.
	Push(ctx context.Context, sess model.Session, batch []R) error
	// PullSince returns rows changed strictly after since, ascending,
	// excluding the given device (uuid.Nil excludes nothing).
	PullSince(ctx context.Context, sess model.Session, since time.Time, exclude uuid.UUID) ([]R, error)
}

// Unit synchronizes one entity family.
type Unit[R any] struct {
	Name      string
	Local     LocalStore[R]
	Remote    RemoteStore[R]
	Cursors   *cursor.Store
	Log       *zap.Logger
	ChunkSize int

	// MergeOwn makes the pull phase apply rows from every device, own
	// included. Set for rollups, which feed cross-device summaries.
	MergeOwn bool

	// TimeOf extracts the record's watermark timestamp.
	TimeOf func(R) time.Time
	// DeviceOf extracts the record's originating device.
	DeviceOf func(R) uuid.UUID
}

// StreamName returns the unit's stream (and cursor) name.
func (u *Unit[R]) StreamName() string { return u.Name }

// RunOnce performs one full push+pull round trip for the stream. Any step
// failing leaves the cursor untouched, so the next pass retries the same
// window; every remote write is idempotent, so overlap is harmless.
func (u *Unit[R]) RunOnce(ctx context.Context, sess model.Session, deviceID uuid.UUID) error {
	started := time.Now().UTC()

	since, _, err := u.Cursors.Get(u.Name)
	if err != nil {
		return err
	}

	locals, err := u.Local.ListSince(ctx, since)
	if err != nil {
		return fmt.Errorf("%s: list local: %w", u.Name, err)
	}
	for i := range locals {
		locals[i], err = u.Local.EnsureSyncID(ctx, locals[i], deviceID)
		if err != nil {
			return fmt.Errorf("%s: ensure sync id: %w", u.Name, err)
		}
	}

	var latest time.Time
	chunk := u.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	for off := 0; off < len(locals); off += chunk {
		end := min(off+chunk, len(locals))
		if err := u.Remote.Push(ctx, sess, locals[off:end]); err != nil {
			return fmt.Errorf("%s: push: %w", u.Name, err)
		}
	}
	for _, rec := range locals {
		if t := u.TimeOf(rec); t.After(latest) {
			latest = t
		}
	}

	exclude := deviceID
	if u.MergeOwn {
		exclude = uuid.Nil
	}
	pulled, err := u.Remote.PullSince(ctx, sess, since, exclude)
	if err != nil {
		return fmt.Errorf("%s: pull: %w", u.Name, err)
	}
	applied := 0
	for _, rec := range pulled {
		if !u.MergeOwn && u.DeviceOf(rec) == deviceID {
			// The server already excludes our own rows; this guards a
			// misbehaving remote from double-counting local state.
			continue
		}
		if err := u.Local.ApplyRemote(ctx, rec); err != nil {
			return fmt.Errorf("%s: apply: %w", u.Name, err)
		}
		applied++
		if t := u.TimeOf(rec); t.After(latest) {
			latest = t
		}
	}

	// Advance to the latest row timestamp seen minus a safety skew rather
	// than to wall-clock now, so rows committed concurrently with server
	// timestamps just behind "now" are not skipped forever.
	candidate := latest
	if candidate.IsZero() {
		candidate = started
	}
	if err := u.Cursors.Advance(u.Name, candidate.Add(-safetySkew)); err != nil {
		return err
	}

	if u.Log != nil {
		u.Log.Debug("stream synced",
			zap.String("stream", u.Name),
			zap.Int("pushed", len(locals)),
			zap.Int("applied", applied),
			zap.Duration("dur", time.Since(started)),
		)
	}
	return nil
}
