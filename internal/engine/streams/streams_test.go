package streams

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/timewell/syncengine/internal/engine/cursor"
	"github.com/timewell/syncengine/internal/engine/settings"
	"github.com/timewell/syncengine/internal/model"
)

func TestBuild_FixedOrder(t *testing.T) {
	t.Parallel()
	units := Build(nil, cursor.NewStore(settings.NewMemory()), zap.NewNop(), Stores{}, uuid.Must(uuid.NewV4()))
	if len(units) != len(Names) {
		t.Fatalf("units: %d, names: %d", len(units), len(Names))
	}
	for i, u := range units {
		if u.StreamName() != Names[i] {
			t.Fatalf("unit %d is %q, want %q", i, u.StreamName(), Names[i])
		}
	}
}

type captureRollups struct {
	since, until time.Time
	device       uuid.UUID
	applied      []model.ActivityRollup
}

func (c *captureRollups) GenerateRollups(_ context.Context, deviceID uuid.UUID, since, until time.Time) ([]model.ActivityRollup, error) {
	c.device, c.since, c.until = deviceID, since, until
	return nil, nil
}

func (c *captureRollups) ApplyRemote(_ context.Context, r model.ActivityRollup) error {
	c.applied = append(c.applied, r)
	return nil
}

func TestRollupLocal_ListGeneratesWindow(t *testing.T) {
	t.Parallel()
	st := &captureRollups{}
	deviceID := uuid.Must(uuid.NewV4())
	l := rollupLocal{store: st, deviceID: deviceID}

	since := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if _, err := l.ListSince(context.Background(), since); err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if st.device != deviceID || !st.since.Equal(since) {
		t.Fatalf("generate window device=%v since=%v", st.device, st.since)
	}
	if st.until.Before(since) || time.Until(st.until) > time.Minute {
		t.Fatalf("until = %v", st.until)
	}
}

func TestRollupLocal_EnsureSyncID(t *testing.T) {
	t.Parallel()
	deviceID := uuid.Must(uuid.NewV4())
	l := rollupLocal{deviceID: deviceID}

	in := model.ActivityRollup{
		HourStart:     time.Date(2026, 2, 1, 10, 42, 7, 0, time.UTC),
		ProductiveSec: 300,
	}
	out, err := l.EnsureSyncID(context.Background(), in, deviceID)
	if err != nil {
		t.Fatalf("EnsureSyncID: %v", err)
	}
	if out.DeviceID != deviceID {
		t.Fatalf("device not stamped: %+v", out)
	}
	if want := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC); !out.HourStart.Equal(want) {
		t.Fatalf("hour not truncated: %v", out.HourStart)
	}
	if out.UpdatedAt.IsZero() {
		t.Fatalf("updated_at not stamped")
	}

	// An already-stamped row keeps its own update time.
	stamped := out
	stamped.UpdatedAt = time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC)
	again, err := l.EnsureSyncID(context.Background(), stamped, deviceID)
	if err != nil || !again.UpdatedAt.Equal(stamped.UpdatedAt) {
		t.Fatalf("restamped: %v %v", again.UpdatedAt, err)
	}
}
