// Package engine sequences the sync pass: device registration, one run of
// every record sync unit in a fixed order, then housekeeping. It exposes
// one coarse SyncNow entry point plus a periodic driver, and degrades to
// last known good state under any network or auth failure so the host
// application stays fully usable offline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/timewell/syncengine/internal/engine/cursor"
	"github.com/timewell/syncengine/internal/engine/device"
	"github.com/timewell/syncengine/internal/engine/housekeeping"
	"github.com/timewell/syncengine/internal/engine/settings"
	"github.com/timewell/syncengine/internal/engine/social"
	"github.com/timewell/syncengine/internal/engine/streams"
	"github.com/timewell/syncengine/internal/errs"
	"github.com/timewell/syncengine/internal/model"
	"github.com/timewell/syncengine/internal/remote"
)

// Settings keys owned by the orchestrator.
const (
	lastSyncKey = "sync.last_synced_at"
	lastErrKey  = "sync.last_error"
)

// DefaultSyncInterval drives the periodic timer.
const DefaultSyncInterval = 5 * time.Minute

// Options configures an engine instance. An empty Remote.BaseURL builds
// an unconfigured engine: every operation returns a neutral value and
// nothing ever touches the network.
type Options struct {
	Remote       remote.Config
	Settings     settings.Store
	Stores       streams.Stores
	Logger       *zap.Logger
	SyncInterval time.Duration
}

// SyncResult is the structured outcome of one sync pass. The pass never
// panics or raises past its own boundary; it runs unattended on a timer.
type SyncResult struct {
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Engine is the sync orchestrator.
type Engine struct {
	log      *zap.Logger
	settings settings.Store
	cursors  *cursor.Store
	client   *remote.Client // nil when sync is not configured
	auth     *remote.Auth
	devices  *device.Registry
	units    []streams.Runner
	janitor  *housekeeping.Janitor
	social   *social.Controller

	interval time.Duration
	group    singleflight.Group
	cron     *cron.Cron
}

// New builds the engine. The local device identity is resolved eagerly so
// stream units can bind to it.
func New(opts Options) (*Engine, error) {
	if opts.Settings == nil {
		return nil, errors.New("engine: settings store is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	interval := opts.SyncInterval
	if interval <= 0 {
		interval = DefaultSyncInterval
	}

	e := &Engine{
		log:      log,
		settings: opts.Settings,
		cursors:  cursor.NewStore(opts.Settings),
		interval: interval,
	}

	if opts.Remote.BaseURL == "" {
		e.devices = device.NewRegistry(opts.Settings, nil)
		e.social = social.NewController(nil, nil, opts.Settings, log)
		return e, nil
	}

	client, err := remote.NewClient(opts.Remote, log)
	if err != nil {
		return nil, err
	}
	e.client = client
	e.auth = remote.NewAuth(client, opts.Settings)
	e.devices = device.NewRegistry(opts.Settings, client)
	e.janitor = housekeeping.New(client, e.cursors, log)
	e.social = social.NewController(client, e.auth, opts.Settings, log)

	dev, err := e.devices.Local()
	if err != nil {
		return nil, err
	}
	e.units = streams.Build(client, e.cursors, log, opts.Stores, dev.ID)
	return e, nil
}

// Social returns the social graph controller.
func (e *Engine) Social() *social.Controller { return e.social }

// Auth returns the remote auth client, or nil when sync is not
// configured.
func (e *Engine) Auth() *remote.Auth { return e.auth }

// Devices returns the device registry.
func (e *Engine) Devices() *device.Registry { return e.devices }

// SyncNow runs one full sync pass. Overlapping calls (a manual trigger
// racing the timer) attach to the in-flight pass instead of running a
// second one.
func (e *Engine) SyncNow(ctx context.Context) SyncResult {
	v, _, _ := e.group.Do("sync", func() (any, error) {
		return e.runPass(ctx), nil
	})
	return v.(SyncResult)
}

func (e *Engine) runPass(ctx context.Context) SyncResult {
	if e.client == nil {
		return SyncResult{OK: false, Error: errs.ErrNotConfigured.Error(), FinishedAt: time.Now().UTC()}
	}

	sess, err := e.auth.CurrentSession(ctx)
	if err != nil {
		return e.fail(fmt.Errorf("session: %w", err))
	}

	dev, err := e.devices.Register(ctx, sess)
	if err != nil {
		return e.fail(err)
	}

	// Fixed sequence; a failed stream stops the pass but keeps every
	// earlier stream's cursor advance, so the next pass resumes each
	// stream from its own watermark.
	for _, u := range e.units {
		if err := u.RunOnce(ctx, sess, dev.ID); err != nil {
			return e.fail(err)
		}
	}

	if err := e.janitor.RunIfDue(ctx, sess); err != nil {
		// Retried next eligible cycle; never fails the pass.
		e.log.Warn("housekeeping failed", zap.Error(err))
	}

	now := time.Now().UTC()
	if err := e.settings.Set(lastSyncKey, now); err != nil {
		return e.fail(err)
	}
	_ = e.settings.Remove(lastErrKey)
	e.log.Info("sync pass completed")
	return SyncResult{OK: true, FinishedAt: now}
}

func (e *Engine) fail(err error) SyncResult {
	msg := err.Error()
	_ = e.settings.Set(lastErrKey, msg)
	e.log.Warn("sync pass failed", zap.Error(err))
	return SyncResult{OK: false, Error: msg, FinishedAt: time.Now().UTC()}
}

// Status reports the coarse sync status for display. Never touches the
// network.
func (e *Engine) Status() model.Status {
	st := model.Status{Configured: e.client != nil}

	if dev, err := e.devices.Local(); err == nil {
		st.Device = &dev
	}
	if e.auth != nil {
		if sess, ok := e.auth.Cached(); ok {
			st.Authenticated = true
			st.UserEmail = sess.Email
		}
	}
	var lastSync time.Time
	if ok, err := e.settings.Get(lastSyncKey, &lastSync); err == nil && ok {
		st.LastSyncAt = &lastSync
	}
	var lastErr string
	if ok, err := e.settings.Get(lastErrKey, &lastErr); err == nil && ok {
		st.LastError = lastErr
	}
	return st
}

// Reset clears every stream cursor plus the housekeeping gate, forcing a
// full resync on the next pass.
func (e *Engine) Reset() error {
	names := append([]string{}, streams.Names...)
	names = append(names, "housekeeping")
	return e.cursors.Reset(names...)
}

// Start launches one immediate pass (when sync is configured) and the
// periodic timer. Stop with Stop.
func (e *Engine) Start() {
	if e.client == nil {
		return
	}
	go e.SyncNow(context.Background())

	e.cron = cron.New()
	_, err := e.cron.AddFunc(fmt.Sprintf("@every %s", e.interval), func() {
		e.SyncNow(context.Background())
	})
	if err != nil {
		e.log.Error("schedule sync timer", zap.Error(err))
		return
	}
	e.cron.Start()
}

// Stop halts the periodic timer; an in-flight pass finishes on its own.
func (e *Engine) Stop() {
	if e.cron != nil {
		e.cron.Stop()
	}
}
