// Package housekeeping prunes old remote rows on a fixed cadence, gated
// by its own cursor so concurrent and frequent sync passes never race the
// retention deletes.
package housekeeping

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/timewell/syncengine/internal/collections"
	"github.com/timewell/syncengine/internal/engine/cursor"
	"github.com/timewell/syncengine/internal/model"
	"github.com/timewell/syncengine/internal/remote"
)

const cursorName = "housekeeping"

// Retention tunables.
const (
	// Interval is the minimum spacing between retention passes.
	Interval = 24 * time.Hour
	// RollupRetention keeps hourly rollups this long.
	RollupRetention = 45 * 24 * time.Hour
	// ConsumptionRetention keeps consumption-log rows this long.
	ConsumptionRetention = 180 * 24 * time.Hour
)

// Janitor runs the retention deletes.
type Janitor struct {
	client  *remote.Client
	cursors *cursor.Store
	log     *zap.Logger
	now     func() time.Time
}

// New constructs a janitor.
func New(client *remote.Client, cursors *cursor.Store, log *zap.Logger) *Janitor {
	return &Janitor{client: client, cursors: cursors, log: log, now: time.Now}
}

// RunIfDue deletes remote rollup rows older than the rollup retention for
// the caller's own devices and consumption rows older than the
// consumption retention, at most once per Interval. A failed pass leaves
// the cursor unadvanced so the next eligible cycle retries; it never
// blocks the rest of the sync pass.
func (j *Janitor) RunIfDue(ctx context.Context, sess model.Session) error {
	now := j.now().UTC()
	last, ok, err := j.cursors.Get(cursorName)
	if err != nil {
		return err
	}
	if ok && now.Sub(last) < Interval {
		return nil
	}

	devices, err := remote.Query[model.Device](ctx, j.client, sess.AccessToken, collections.Devices,
		remote.RowQuery{Filters: []remote.Filter{remote.Eq("user_id", sess.UserID.String())}})
	if err != nil {
		return err
	}
	if len(devices) > 0 {
		ids := make([]string, 0, len(devices))
		for _, d := range devices {
			ids = append(ids, d.ID.String())
		}
		err = remote.DeleteRows(ctx, j.client, sess.AccessToken, collections.ActivityRollups, remote.DeleteQuery{
			Before:       now.Add(-RollupRetention),
			BeforeColumn: "hour_start",
			Filters:      []remote.Filter{remote.In("device_id", ids...)},
		})
		if err != nil {
			return err
		}
	}

	err = remote.DeleteRows(ctx, j.client, sess.AccessToken, collections.ConsumptionLog, remote.DeleteQuery{
		Before:  now.Add(-ConsumptionRetention),
		Filters: []remote.Filter{remote.Eq("user_id", sess.UserID.String())},
	})
	if err != nil {
		return err
	}

	if j.log != nil {
		j.log.Info("housekeeping completed", zap.Time("cutoff_rollups", now.Add(-RollupRetention)))
	}
	return j.cursors.Advance(cursorName, now)
}
