// Package device resolves the stable per-installation device identity and
// registers its presence in the remote store.
package device

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/timewell/syncengine/internal/collections"
	"github.com/timewell/syncengine/internal/engine/settings"
	"github.com/timewell/syncengine/internal/model"
	"github.com/timewell/syncengine/internal/remote"
)

const (
	idKey   = "sync.device.id"
	nameKey = "sync.device.name"
)

// Registry owns the local device identity. The id is created once per
// installation and survives restarts through local settings.
type Registry struct {
	settings settings.Store
	client   *remote.Client
}

// NewRegistry constructs a device registry. client may be nil when sync is
// not configured; Local still works, Register does not.
func NewRegistry(st settings.Store, client *remote.Client) *Registry {
	return &Registry{settings: st, client: client}
}

// Local resolves or lazily creates the local device identity.
func (r *Registry) Local() (model.Device, error) {
	var id uuid.UUID
	ok, err := r.settings.Get(idKey, &id)
	if err != nil {
		return model.Device{}, fmt.Errorf("device id: %w", err)
	}
	if !ok || id == uuid.Nil {
		id, err = uuid.NewV4()
		if err != nil {
			return model.Device{}, err
		}
		if err := r.settings.Set(idKey, id); err != nil {
			return model.Device{}, err
		}
	}

	var name string
	if _, err := r.settings.Get(nameKey, &name); err != nil {
		return model.Device{}, err
	}
	if name == "" {
		if host, herr := os.Hostname(); herr == nil {
			name = host
		} else {
			name = "unnamed device"
		}
	}

	return model.Device{
		ID:          id,
		DisplayName: name,
		Platform:    runtime.GOOS,
	}, nil
}

// Rename updates the display name used on the next registration.
func (r *Registry) Rename(name string) error {
	return r.settings.Set(nameKey, name)
}

// Register upserts the device row remotely, refreshing last_seen_at. Runs
// at the start of every sync pass.
func (r *Registry) Register(ctx context.Context, sess model.Session) (model.Device, error) {
	dev, err := r.Local()
	if err != nil {
		return model.Device{}, err
	}
	now := time.Now().UTC()
	dev.UserID = sess.UserID
	dev.LastSeenAt = now
	dev.UpdatedAt = now

	if err := remote.Upsert(ctx, r.client, sess.AccessToken, collections.Devices, []model.Device{dev}); err != nil {
		return model.Device{}, fmt.Errorf("register device: %w", err)
	}
	return dev, nil
}
