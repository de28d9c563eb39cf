// Package model defines domain entities shared by the engine, the remote
// client and the row-store service.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Device identifies one installation of the application. Created once per
// installation, refreshed (upserted) at the start of every sync pass.
type Device struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Platform    string    `json:"platform"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LedgerEntry is one immutable wallet movement, in minutes (signed).
type LedgerEntry struct {
	SyncID     uuid.UUID `json:"sync_id"`
	UserID     uuid.UUID `json:"user_id"`
	DeviceID   uuid.UUID `json:"device_id"`
	Kind       string    `json:"kind"` // earn | spend | adjust
	Amount     int64     `json:"amount"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// LibraryItem is a saved link. Unlike the other record families it supports
// later field mutation (note/purpose/price/consumedAt); row-level
// latest-updated_at-wins applies because each row is edited only by its
// creating device.
type LibraryItem struct {
	SyncID     uuid.UUID  `json:"sync_id"`
	UserID     uuid.UUID  `json:"user_id"`
	DeviceID   uuid.UUID  `json:"device_id"`
	URL        string     `json:"url"`
	Title      string     `json:"title"`
	Note       string     `json:"note,omitempty"`
	Purpose    string     `json:"purpose,omitempty"`
	Price      int64      `json:"price"` // minutes
	SavedAt    time.Time  `json:"saved_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Consumption entry kinds.
const (
	ConsumptionLibraryItem      = "library-item"
	ConsumptionEmergencySession = "emergency-session"
)

// ConsumptionEntry records one consumption event (a library item watched,
// or an emergency session opened).
type ConsumptionEntry struct {
	SyncID      uuid.UUID  `json:"sync_id"`
	UserID      uuid.UUID  `json:"user_id"`
	DeviceID    uuid.UUID  `json:"device_id"`
	Kind        string     `json:"kind"`
	RefSyncID   *uuid.UUID `json:"ref_sync_id,omitempty"` // library item, when applicable
	DurationSec int64      `json:"duration_sec"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// ActivityRollup is a pre-aggregated per-hour, per-device summary of
// category-seconds. Natural key is (device_id, hour_start); every device
// only ever writes rows keyed by its own id, so merging across devices is
// a plain union.
type ActivityRollup struct {
	UserID        uuid.UUID `json:"user_id"`
	DeviceID      uuid.UUID `json:"device_id"`
	HourStart     time.Time `json:"hour_start"` // truncated to the hour
	ProductiveSec int64     `json:"productive_sec"`
	NeutralSec    int64     `json:"neutral_sec"`
	FrivolitySec  int64     `json:"frivolity_sec"`
	IdleSec       int64     `json:"idle_sec"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Total returns the sum of all category seconds.
func (r ActivityRollup) Total() int64 {
	return r.ProductiveSec + r.NeutralSec + r.FrivolitySec + r.IdleSec
}

// Achievement is an earned achievement record.
type Achievement struct {
	SyncID   uuid.UUID `json:"sync_id"`
	UserID   uuid.UUID `json:"user_id"`
	DeviceID uuid.UUID `json:"device_id"`
	Code     string    `json:"code"`
	EarnedAt time.Time `json:"earned_at"`
}

// FriendProfile is the public profile row for a user. Created lazily on
// first authenticated sync; handle is a unique lowercase slug or unset.
type FriendProfile struct {
	UserID             uuid.UUID   `json:"user_id"`
	Handle             string      `json:"handle,omitempty"`
	DisplayName        string      `json:"display_name"`
	ColorToken         string      `json:"color_token,omitempty"`
	PinnedAchievements []uuid.UUID `json:"pinned_achievements,omitempty"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// Friend request statuses. All transitions are one-way; everything except
// pending is terminal.
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestDeclined = "declined"
	RequestCanceled = "canceled"
)

// FriendRequest is one friend-request row. Only the recipient may accept
// or decline it; only the requester may cancel it.
type FriendRequest struct {
	ID          uuid.UUID `json:"id"`
	RequesterID uuid.UUID `json:"requester_id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Friendship is undirected in meaning but stored as one directed row per
// acceptance; membership tests treat (user, friend) and (friend, user) as
// equivalent.
type Friendship struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	FriendID  uuid.UUID `json:"friend_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Involves reports whether both ids are the two sides of this friendship,
// in either direction.
func (f Friendship) Involves(a, b uuid.UUID) bool {
	return (f.UserID == a && f.FriendID == b) || (f.UserID == b && f.FriendID == a)
}

// Friend is a friendship resolved against the friend's profile.
type Friend struct {
	Profile    FriendProfile `json:"profile"`
	FriendedAt time.Time     `json:"friended_at"`
}

// Activity categories, in dominance priority order.
const (
	CategoryProductive = "productive"
	CategoryNeutral    = "neutral"
	CategoryFrivolity  = "frivolity"
	CategoryIdle       = "idle"
)

// FriendSummary aggregates one friend's rollups over a window.
type FriendSummary struct {
	Profile           FriendProfile `json:"profile"`
	ProductiveSec     int64         `json:"productive_sec"`
	NeutralSec        int64         `json:"neutral_sec"`
	FrivolitySec      int64         `json:"frivolity_sec"`
	IdleSec           int64         `json:"idle_sec"`
	ProductivityScore int           `json:"productivity_score"` // round(productive/total*100)
	EmergencySessions int           `json:"emergency_sessions"`
}

// TimelineSlot is one one-hour bucket of a friend timeline, aligned to the
// window start.
type TimelineSlot struct {
	HourStart     time.Time `json:"hour_start"`
	ProductiveSec int64     `json:"productive_sec"`
	NeutralSec    int64     `json:"neutral_sec"`
	FrivolitySec  int64     `json:"frivolity_sec"`
	IdleSec       int64     `json:"idle_sec"`
	Dominant      string    `json:"dominant,omitempty"` // empty when the slot is silent
}

// Session is an authenticated remote-store session.
type Session struct {
	UserID       uuid.UUID `json:"user_id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid reports whether the access token is still usable at t.
func (s Session) Valid(t time.Time) bool {
	return s.AccessToken != "" && t.Before(s.ExpiresAt)
}

// Status is the coarse sync status surfaced to the host application.
type Status struct {
	Configured    bool       `json:"configured"`
	Authenticated bool       `json:"authenticated"`
	UserEmail     string     `json:"user_email,omitempty"`
	Device        *Device    `json:"device,omitempty"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// User is an account stored on the row-store service.
type User struct {
	ID        uuid.UUID
	Email     string
	PwdHash   []byte
	Salt      []byte
	CreatedAt time.Time
}

// AuthCode is a one-shot authorization code minted by the hosted sign-in
// page and exchanged once through the platform callback.
type AuthCode struct {
	CodeHash      []byte
	UserID        uuid.UUID
	RedirectURI   string
	CodeChallenge string // S256, base64url
	ExpiresAt     time.Time
	Consumed      bool
	CreatedAt     time.Time
}

// RefreshToken is a rotating long-lived token; only its hash is stored.
type RefreshToken struct {
	TokenHash []byte
	UserID    uuid.UUID
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}
