package social

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/timewell/syncengine/internal/collections"
	"github.com/timewell/syncengine/internal/errs"
	"github.com/timewell/syncengine/internal/model"
	"github.com/timewell/syncengine/internal/remote"
)

// categoryPriority fixes tie-breaking for dominant-category slots.
var categoryPriority = []string{
	model.CategoryProductive,
	model.CategoryNeutral,
	model.CategoryFrivolity,
	model.CategoryIdle,
}

// FriendSummaries aggregates each friend's rollups over the trailing
// window into category totals, a productivity score and an
// emergency-session count. Fails soft: empty while offline or signed out.
func (c *Controller) FriendSummaries(ctx context.Context, windowHours int) ([]model.FriendSummary, error) {
	sess, ok := c.readSession(ctx)
	if !ok {
		return nil, nil
	}
	friends, err := c.ListFriends(ctx)
	if err != nil {
		return nil, err
	}

	windowStart := windowStartFor(windowHours)
	out := make([]model.FriendSummary, 0, len(friends))
	for _, fr := range friends {
		rollups, err := c.friendRollups(ctx, sess, fr.Profile.UserID, windowStart)
		if err != nil {
			c.softFail("friend summaries", err)
			return nil, nil
		}
		s := model.FriendSummary{Profile: fr.Profile}
		for _, r := range rollups {
			s.ProductiveSec += r.ProductiveSec
			s.NeutralSec += r.NeutralSec
			s.FrivolitySec += r.FrivolitySec
			s.IdleSec += r.IdleSec
		}
		s.ProductivityScore = score(s.ProductiveSec, s.ProductiveSec+s.NeutralSec+s.FrivolitySec+s.IdleSec)

		emergencies, err := remote.Query[model.ConsumptionEntry](ctx, c.client, sess.AccessToken, collections.ConsumptionLog,
			remote.RowQuery{
				Since: windowStart,
				Filters: []remote.Filter{
					remote.Eq("user_id", fr.Profile.UserID.String()),
					remote.Eq("kind", model.ConsumptionEmergencySession),
				},
			})
		if err != nil {
			c.softFail("friend summaries", err)
			return nil, nil
		}
		s.EmergencySessions = len(emergencies)
		out = append(out, s)
	}
	if c.log != nil {
		c.log.Debug("friend summaries", zap.Int("friends", len(out)), zap.Int("window_hours", windowHours))
	}
	return out, nil
}

// FriendTimeline buckets one friend's rollups into one-hour slots aligned
// to the window start, marking each slot's dominant category.
func (c *Controller) FriendTimeline(ctx context.Context, userID uuid.UUID, windowHours int) ([]model.TimelineSlot, error) {
	sess, ok := c.readSession(ctx)
	if !ok {
		return nil, nil
	}

	if windowHours <= 0 {
		windowHours = 24
	}

	friendships, err := c.myFriendships(ctx, sess)
	if err != nil {
		c.softFail("friend timeline", err)
		return nil, nil
	}
	isFriend := userID == sess.UserID
	for _, f := range friendships {
		if f.Involves(sess.UserID, userID) {
			isFriend = true
			break
		}
	}
	if !isFriend {
		return nil, fmt.Errorf("timeline is only visible for friends: %w", errs.ErrForbidden)
	}

	windowStart := windowStartFor(windowHours)
	rollups, err := c.friendRollups(ctx, sess, userID, windowStart)
	if err != nil {
		c.softFail("friend timeline", err)
		return nil, nil
	}

	slots := make([]model.TimelineSlot, windowHours)
	for i := range slots {
		slots[i].HourStart = windowStart.Add(time.Duration(i) * time.Hour)
	}
	for _, r := range rollups {
		idx := int(r.HourStart.Sub(windowStart) / time.Hour)
		if idx < 0 || idx >= len(slots) {
			continue
		}
		slots[idx].ProductiveSec += r.ProductiveSec
		slots[idx].NeutralSec += r.NeutralSec
		slots[idx].FrivolitySec += r.FrivolitySec
		slots[idx].IdleSec += r.IdleSec
	}
	for i := range slots {
		slots[i].Dominant = dominant(slots[i])
	}
	return slots, nil
}

// friendRollups resolves the friend's devices, then pulls their rollup
// rows intersecting the window.
func (c *Controller) friendRollups(ctx context.Context, sess model.Session, userID uuid.UUID, windowStart time.Time) ([]model.ActivityRollup, error) {
	devices, err := remote.Query[model.Device](ctx, c.client, sess.AccessToken, collections.Devices,
		remote.RowQuery{Filters: []remote.Filter{remote.Eq("user_id", userID.String())}})
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID.String())
	}
	return remote.Query[model.ActivityRollup](ctx, c.client, sess.AccessToken, collections.ActivityRollups,
		remote.RowQuery{
			Since:       windowStart.Add(-time.Nanosecond), // window start hour inclusive
			SinceColumn: "hour_start",
			Filters: []remote.Filter{
				remote.Eq("user_id", userID.String()),
				remote.In("device_id", ids...),
			},
		})
}

// windowStartFor aligns the trailing window to hour boundaries so slot
// bucketing is stable.
func windowStartFor(windowHours int) time.Time {
	if windowHours <= 0 {
		windowHours = 24
	}
	now := time.Now().UTC()
	return now.Truncate(time.Hour).Add(-time.Duration(windowHours-1) * time.Hour)
}

func score(productive, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(productive) / float64(total) * 100))
}

// dominant returns the slot's leading category, ties resolved by the
// fixed priority order; empty for a silent slot.
func dominant(s model.TimelineSlot) string {
	totals := map[string]int64{
		model.CategoryProductive: s.ProductiveSec,
		model.CategoryNeutral:    s.NeutralSec,
		model.CategoryFrivolity:  s.FrivolitySec,
		model.CategoryIdle:       s.IdleSec,
	}
	best, bestV := "", int64(0)
	for _, cat := range categoryPriority {
		if totals[cat] > bestV {
			best, bestV = cat, totals[cat]
		}
	}
	return best
}
