// Package streams binds the generic sync unit to the five synced entity
// families: wallet ledger, saved-link library, consumption log, hourly
// activity rollups and earned achievements.
package streams

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/timewell/syncengine/internal/collections"
	"github.com/timewell/syncengine/internal/engine/cursor"
	"github.com/timewell/syncengine/internal/engine/stream"
	"github.com/timewell/syncengine/internal/model"
	"github.com/timewell/syncengine/internal/remote"
)

// Stream names; each owns its own cursor.
const (
	NameLedger       = "ledger"
	NameLibrary      = "library"
	NameConsumption  = "consumption"
	NameRollups      = "rollups"
	NameAchievements = "achievements"
)

// Names lists every stream in the orchestrator's fixed run order.
var Names = []string{NameLedger, NameLibrary, NameConsumption, NameRollups, NameAchievements}

// RollupStore extends the local contract for hourly rollups: rows are
// produced on demand from the raw activity log instead of being listed.
type RollupStore interface {
	// GenerateRollups aggregates local activity into per-hour rows for
	// the window (since, until], keyed by (deviceID, hourStart).
	GenerateRollups(ctx context.Context, deviceID uuid.UUID, since, until time.Time) ([]model.ActivityRollup, error)
	// ApplyRemote upserts a rollup row pulled from any device.
	ApplyRemote(ctx context.Context, r model.ActivityRollup) error
}

// Stores bundles the per-stream local store collaborators supplied by the
// host application.
type Stores struct {
	Ledger       stream.LocalStore[model.LedgerEntry]
	Library      stream.LocalStore[model.LibraryItem]
	Consumption  stream.LocalStore[model.ConsumptionEntry]
	Rollups      RollupStore
	Achievements stream.LocalStore[model.Achievement]
}

// Runner is one buildable stream, run by the orchestrator in sequence.
type Runner interface {
	StreamName() string
	RunOnce(ctx context.Context, sess model.Session, deviceID uuid.UUID) error
}

// Build wires the five units against the remote client. The returned
// slice is in the orchestrator's fixed sequence.
func Build(c *remote.Client, cursors *cursor.Store, log *zap.Logger, st Stores, deviceID uuid.UUID) []Runner {
	return []Runner{
		&stream.Unit[model.LedgerEntry]{
			Name:     NameLedger,
			Local:    st.Ledger,
			Remote:   rowsRemote[model.LedgerEntry]{c: c, collection: collections.LedgerEntries},
			Cursors:  cursors,
			Log:      log,
			TimeOf:   func(r model.LedgerEntry) time.Time { return r.OccurredAt },
			DeviceOf: func(r model.LedgerEntry) uuid.UUID { return r.DeviceID },
		},
		&stream.Unit[model.LibraryItem]{
			Name:     NameLibrary,
			Local:    st.Library,
			Remote:   rowsRemote[model.LibraryItem]{c: c, collection: collections.LibraryItems},
			Cursors:  cursors,
			Log:      log,
			TimeOf:   func(r model.LibraryItem) time.Time { return r.UpdatedAt },
			DeviceOf: func(r model.LibraryItem) uuid.UUID { return r.DeviceID },
		},
		&stream.Unit[model.ConsumptionEntry]{
			Name:     NameConsumption,
			Local:    st.Consumption,
			Remote:   rowsRemote[model.ConsumptionEntry]{c: c, collection: collections.ConsumptionLog},
			Cursors:  cursors,
			Log:      log,
			TimeOf:   func(r model.ConsumptionEntry) time.Time { return r.OccurredAt },
			DeviceOf: func(r model.ConsumptionEntry) uuid.UUID { return r.DeviceID },
		},
		&stream.Unit[model.ActivityRollup]{
			Name:     NameRollups,
			Local:    rollupLocal{store: st.Rollups, deviceID: deviceID},
			Remote:   rowsRemote[model.ActivityRollup]{c: c, collection: collections.ActivityRollups},
			Cursors:  cursors,
			Log:      log,
			MergeOwn: true,
			TimeOf:   func(r model.ActivityRollup) time.Time { return r.UpdatedAt },
			DeviceOf: func(r model.ActivityRollup) uuid.UUID { return r.DeviceID },
		},
		&stream.Unit[model.Achievement]{
			Name:     NameAchievements,
			Local:    st.Achievements,
			Remote:   rowsRemote[model.Achievement]{c: c, collection: collections.Achievements},
			Cursors:  cursors,
			Log:      log,
			TimeOf:   func(r model.Achievement) time.Time { return r.EarnedAt },
			DeviceOf: func(r model.Achievement) uuid.UUID { return r.DeviceID },
		},
	}
}

// rowsRemote adapts the row API to one stream's RemoteStore.
type rowsRemote[R any] struct {
	c          *remote.Client
	collection string
}

func (r rowsRemote[R]) Push(ctx context.Context, sess model.Session, batch []R) error {
	return remote.Upsert(ctx, r.c, sess.AccessToken, r.collection, batch)
}

func (r rowsRemote[R]) PullSince(ctx context.Context, sess model.Session, since time.Time, exclude uuid.UUID) ([]R, error) {
	q := remote.RowQuery{
		Since:         since,
		ExcludeDevice: exclude,
		Filters:       []remote.Filter{remote.Eq("user_id", sess.UserID.String())},
	}
	return remote.Query[R](ctx, r.c, sess.AccessToken, r.collection, q)
}

// rollupLocal adapts a RollupStore to the generic local contract: listing
// means generating rollups for the cursor window.
type rollupLocal struct {
	store    RollupStore
	deviceID uuid.UUID
}

func (l rollupLocal) ListSince(ctx context.Context, since time.Time) ([]model.ActivityRollup, error) {
	return l.store.GenerateRollups(ctx, l.deviceID, since, time.Now().UTC())
}

// EnsureSyncID stamps the device; rollups need no sync id, their identity
// is the (device, hour) pair.
func (l rollupLocal) EnsureSyncID(_ context.Context, r model.ActivityRollup, deviceID uuid.UUID) (model.ActivityRollup, error) {
	r.DeviceID = deviceID
	r.HourStart = r.HourStart.Truncate(time.Hour)
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	return r, nil
}

func (l rollupLocal) ApplyRemote(ctx context.Context, r model.ActivityRollup) error {
	return l.store.ApplyRemote(ctx, r)
}
