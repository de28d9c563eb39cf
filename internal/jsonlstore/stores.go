package jsonlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/timewell/syncengine/internal/model"
)

// Set bundles the JSONL stores for all five record families, rooted in
// one data directory.
type Set struct {
	Ledger       *Store[model.LedgerEntry]
	Library      *Store[model.LibraryItem]
	Consumption  *Store[model.ConsumptionEntry]
	Rollups      *RollupFile
	Achievements *Store[model.Achievement]
}

// Open creates the store set under dir.
func Open(dir string) *Set {
	return &Set{
		Ledger: &Store[model.LedgerEntry]{
			path:   filepath.Join(dir, "ledger.jsonl"),
			keyOf:  func(r model.LedgerEntry) string { return r.SyncID.String() },
			timeOf: func(r model.LedgerEntry) time.Time { return r.OccurredAt },
			stamp: func(r model.LedgerEntry, d uuid.UUID) (model.LedgerEntry, bool) {
				changed := false
				if r.SyncID == uuid.Nil {
					r.SyncID = uuid.Must(uuid.NewV4())
					changed = true
				}
				if r.DeviceID == uuid.Nil {
					r.DeviceID = d
					changed = true
				}
				return r, changed
			},
		},
		Library: &Store[model.LibraryItem]{
			path:   filepath.Join(dir, "library.jsonl"),
			keyOf:  func(r model.LibraryItem) string { return r.SyncID.String() },
			timeOf: func(r model.LibraryItem) time.Time { return r.UpdatedAt },
			stamp: func(r model.LibraryItem, d uuid.UUID) (model.LibraryItem, bool) {
				changed := false
				if r.SyncID == uuid.Nil {
					r.SyncID = uuid.Must(uuid.NewV4())
					changed = true
				}
				if r.DeviceID == uuid.Nil {
					r.DeviceID = d
					changed = true
				}
				return r, changed
			},
		},
		Consumption: &Store[model.ConsumptionEntry]{
			path:   filepath.Join(dir, "consumption.jsonl"),
			keyOf:  func(r model.ConsumptionEntry) string { return r.SyncID.String() },
			timeOf: func(r model.ConsumptionEntry) time.Time { return r.OccurredAt },
			stamp: func(r model.ConsumptionEntry, d uuid.UUID) (model.ConsumptionEntry, bool) {
				changed := false
				if r.SyncID == uuid.Nil {
					r.SyncID = uuid.Must(uuid.NewV4())
					changed = true
				}
				if r.DeviceID == uuid.Nil {
					r.DeviceID = d
					changed = true
				}
				return r, changed
			},
		},
		Rollups: NewRollupFile(filepath.Join(dir, "rollups.jsonl")),
		Achievements: &Store[model.Achievement]{
			path:   filepath.Join(dir, "achievements.jsonl"),
			keyOf:  func(r model.Achievement) string { return r.SyncID.String() },
			timeOf: func(r model.Achievement) time.Time { return r.EarnedAt },
			stamp: func(r model.Achievement, d uuid.UUID) (model.Achievement, bool) {
				changed := false
				if r.SyncID == uuid.Nil {
					r.SyncID = uuid.Must(uuid.NewV4())
					changed = true
				}
				if r.DeviceID == uuid.Nil {
					r.DeviceID = d
					changed = true
				}
				return r, changed
			},
		},
	}
}

// RollupFile stores hourly rollups keyed by (device, hour).
type RollupFile struct {
	inner *Store[model.ActivityRollup]
}

// NewRollupFile creates a rollup store at path.
func NewRollupFile(path string) *RollupFile {
	return &RollupFile{inner: &Store[model.ActivityRollup]{
		path: path,
		keyOf: func(r model.ActivityRollup) string {
			return r.DeviceID.String() + "/" + r.HourStart.UTC().Format(time.RFC3339)
		},
		timeOf: func(r model.ActivityRollup) time.Time { return r.UpdatedAt },
		stamp: func(r model.ActivityRollup, d uuid.UUID) (model.ActivityRollup, bool) {
			if r.DeviceID != uuid.Nil {
				return r, false
			}
			r.DeviceID = d
			return r, true
		},
	}}
}

// GenerateRollups returns this device's rollups touched inside the window.
// Rows are pre-aggregated as activity is tracked, so generation is a
// filtered read.
func (s *RollupFile) GenerateRollups(
	ctx context.Context, deviceID uuid.UUID, since, until time.Time,
) ([]model.ActivityRollup, error) {
	rows, err := s.inner.ListSince(ctx, since)
	if err != nil {
		return nil, err
	}
	out := make([]model.ActivityRollup, 0, len(rows))
	for _, r := range rows {
		if r.DeviceID != uuid.Nil && r.DeviceID != deviceID {
			continue
		}
		if r.UpdatedAt.After(until) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ApplyRemote upserts a rollup row pulled from any device.
func (s *RollupFile) ApplyRemote(ctx context.Context, r model.ActivityRollup) error {
	return s.inner.ApplyRemote(ctx, r)
}

// Track adds seconds of one category to the rollup bucket covering at.
func (s *RollupFile) Track(deviceID uuid.UUID, at time.Time, category string, seconds int64) error {
	hour := at.UTC().Truncate(time.Hour)
	all, err := s.inner.All()
	if err != nil {
		return err
	}
	row := model.ActivityRollup{DeviceID: deviceID, HourStart: hour}
	for _, r := range all {
		if r.DeviceID == deviceID && r.HourStart.Equal(hour) {
			row = r
			break
		}
	}
	switch category {
	case model.CategoryProductive:
		row.ProductiveSec += seconds
	case model.CategoryNeutral:
		row.NeutralSec += seconds
	case model.CategoryFrivolity:
		row.FrivolitySec += seconds
	case model.CategoryIdle:
		row.IdleSec += seconds
	default:
		return fmt.Errorf("unknown category %q", category)
	}
	row.UpdatedAt = time.Now().UTC()
	return s.inner.Add(row)
}
