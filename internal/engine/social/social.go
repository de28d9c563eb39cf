// Package social operates the friend graph on top of the row store:
// profile lookup and creation, handle claims, the friend-request state
// machine and friendship listing. Read-oriented queries fail soft (empty
// results while offline or signed out); mutations fail loud with a typed
// error the IPC layer surfaces to the user.
package social

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/timewell/syncengine/internal/collections"
	"github.com/timewell/syncengine/internal/engine/settings"
	"github.com/timewell/syncengine/internal/errs"
	"github.com/timewell/syncengine/internal/model"
	"github.com/timewell/syncengine/internal/remote"
)

// friendCountKey caches the friend count in local settings for display.
const friendCountKey = "social.friend_count"

var handleRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{2,19}$`)

// Controller drives the social graph. Every state-mutating call re-derives
// the caller's identity from the live session immediately before checking
// ownership; a caller-supplied identity is never trusted.
type Controller struct {
	client   *remote.Client
	auth     *remote.Auth
	settings settings.Store
	log      *zap.Logger
}

// NewController constructs the social graph controller. client may be nil
// when sync is not configured; reads then return empty results and writes
// fail with ErrNotConfigured.
func NewController(client *remote.Client, auth *remote.Auth, st settings.Store, log *zap.Logger) *Controller {
	return &Controller{client: client, auth: auth, settings: st, log: log}
}

// writeSession resolves the live session for a mutating call.
func (c *Controller) writeSession(ctx context.Context) (model.Session, error) {
	if c.client == nil {
		return model.Session{}, errs.ErrNotConfigured
	}
	return c.auth.CurrentSession(ctx)
}

// readSession resolves the session for a read; ok=false means "behave as
// empty" (unconfigured, signed out, or the session could not be resolved
// right now). Reads never surface transport failures.
func (c *Controller) readSession(ctx context.Context) (model.Session, bool) {
	if c.client == nil {
		return model.Session{}, false
	}
	sess, err := c.auth.CurrentSession(ctx)
	if err != nil {
		if !errors.Is(err, errs.ErrNotAuthenticated) {
			c.softFail("session", err)
		}
		return model.Session{}, false
	}
	return sess, true
}

// softFail records a degraded read; the caller returns empty results so
// the host application keeps working offline.
func (c *Controller) softFail(op string, err error) {
	if c.log != nil {
		c.log.Warn("social read degraded", zap.String("op", op), zap.Error(err))
	}
}

// EnsureProfile returns the caller's profile, creating a bare one on first
// authenticated use.
func (c *Controller) EnsureProfile(ctx context.Context) (model.FriendProfile, error) {
	sess, err := c.writeSession(ctx)
	if err != nil {
		return model.FriendProfile{}, err
	}
	prof, err := c.profileByUser(ctx, sess, sess.UserID)
	if err == nil {
		return prof, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return model.FriendProfile{}, err
	}

	name := sess.Email
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	prof = model.FriendProfile{
		UserID:      sess.UserID,
		DisplayName: name,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := remote.Upsert(ctx, c.client, sess.AccessToken, collections.Profiles, []model.FriendProfile{prof}); err != nil {
		return model.FriendProfile{}, err
	}
	return prof, nil
}

func (c *Controller) profileByUser(ctx context.Context, sess model.Session, userID uuid.UUID) (model.FriendProfile, error) {
	rows, err := remote.Query[model.FriendProfile](ctx, c.client, sess.AccessToken, collections.Profiles,
		remote.RowQuery{Filters: []remote.Filter{remote.Eq("user_id", userID.String())}})
	if err != nil {
		return model.FriendProfile{}, err
	}
	if len(rows) == 0 {
		return model.FriendProfile{}, errs.ErrNotFound
	}
	return rows[0], nil
}

// NormalizeHandle lowercases and validates a handle candidate.
func NormalizeHandle(handle string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(handle))
	if !handleRe.MatchString(h) {
		return "", fmt.Errorf("handle must be 3-20 lowercase letters, digits or dashes: %w", errs.ErrConflict)
	}
	return h, nil
}

// ClaimHandle sets the caller's unique handle. Uniqueness is pre-checked
// and additionally enforced by the store's unique constraint; either
// failure surfaces as "handle already taken".
func (c *Controller) ClaimHandle(ctx context.Context, handle string) error {
	sess, err := c.writeSession(ctx)
	if err != nil {
		return err
	}
	h, err := NormalizeHandle(handle)
	if err != nil {
		return err
	}

	existing, err := c.ResolveHandle(ctx, h)
	if err == nil && existing.UserID != sess.UserID {
		return fmt.Errorf("handle %q already taken: %w", h, errs.ErrConflict)
	}
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}

	prof, err := c.EnsureProfile(ctx)
	if err != nil {
		return err
	}
	prof.Handle = h
	prof.UpdatedAt = time.Now().UTC()
	err = remote.Upsert(ctx, c.client, sess.AccessToken, collections.Profiles, []model.FriendProfile{prof})
	if errors.Is(err, errs.ErrConflict) {
		// Lost the race between pre-check and insert.
		return fmt.Errorf("handle %q already taken: %w", h, errs.ErrConflict)
	}
	return err
}

// UpdateProfile sets display name, color token and pinned achievements.
func (c *Controller) UpdateProfile(ctx context.Context, displayName, colorToken string, pinned []uuid.UUID) error {
	sess, err := c.writeSession(ctx)
	if err != nil {
		return err
	}
	prof, err := c.EnsureProfile(ctx)
	if err != nil {
		return err
	}
	if displayName != "" {
		prof.DisplayName = displayName
	}
	if colorToken != "" {
		prof.ColorToken = colorToken
	}
	if pinned != nil {
		prof.PinnedAchievements = pinned
	}
	prof.UpdatedAt = time.Now().UTC()
	return remote.Upsert(ctx, c.client, sess.AccessToken, collections.Profiles, []model.FriendProfile{prof})
}

// ResolveHandle finds the profile owning a handle.
func (c *Controller) ResolveHandle(ctx context.Context, handle string) (model.FriendProfile, error) {
	sess, err := c.writeSession(ctx)
	if err != nil {
		return model.FriendProfile{}, err
	}
	rows, err := remote.Query[model.FriendProfile](ctx, c.client, sess.AccessToken, collections.Profiles,
		remote.RowQuery{Filters: []remote.Filter{remote.Eq("handle", strings.ToLower(handle))}})
	if err != nil {
		return model.FriendProfile{}, err
	}
	if len(rows) == 0 {
		return model.FriendProfile{}, fmt.Errorf("no user with handle %q: %w", handle, errs.ErrNotFound)
	}
	return rows[0], nil
}

// myFriendships lists every friendship row involving the caller. The
// store's participant policy already scopes rows to the caller.
func (c *Controller) myFriendships(ctx context.Context, sess model.Session) ([]model.Friendship, error) {
	return remote.Query[model.Friendship](ctx, c.client, sess.AccessToken, collections.Friendships, remote.RowQuery{})
}

// RequestFriend sends a friend request to the user owning handle.
// Rejected when the target is the caller, when a friendship already exists
// in either direction, or when a pending request already exists between
// the pair in either direction.
func (c *Controller) RequestFriend(ctx context.Context, handle string) (model.FriendRequest, error) {
	sess, err := c.writeSession(ctx)
	if err != nil {
		return model.FriendRequest{}, err
	}
	target, err := c.ResolveHandle(ctx, handle)
	if err != nil {
		return model.FriendRequest{}, err
	}
	if target.UserID == sess.UserID {
		return model.FriendRequest{}, fmt.Errorf("cannot send a friend request to yourself: %w", errs.ErrConflict)
	}

	friendships, err := c.myFriendships(ctx, sess)
	if err != nil {
		return model.FriendRequest{}, err
	}
	for _, f := range friendships {
		if f.Involves(sess.UserID, target.UserID) {
			return model.FriendRequest{}, fmt.Errorf("already friends with @%s: %w", handle, errs.ErrConflict)
		}
	}

	pending, err := remote.Query[model.FriendRequest](ctx, c.client, sess.AccessToken, collections.FriendRequests,
		remote.RowQuery{Filters: []remote.Filter{remote.Eq("status", model.RequestPending)}})
	if err != nil {
		return model.FriendRequest{}, err
	}
	for _, r := range pending {
		if (r.RequesterID == sess.UserID && r.RecipientID == target.UserID) ||
			(r.RequesterID == target.UserID && r.RecipientID == sess.UserID) {
			return model.FriendRequest{}, fmt.Errorf("a pending request already exists with @%s: %w", handle, errs.ErrConflict)
		}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return model.FriendRequest{}, err
	}
	now := time.Now().UTC()
	req := model.FriendRequest{
		ID:          id,
		RequesterID: sess.UserID,
		RecipientID: target.UserID,
		Status:      model.RequestPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := remote.Upsert(ctx, c.client, sess.AccessToken, collections.FriendRequests, []model.FriendRequest{req}); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return model.FriendRequest{}, fmt.Errorf("a pending request already exists with @%s: %w", handle, errs.ErrConflict)
		}
		return model.FriendRequest{}, err
	}
	return req, nil
}

func (c *Controller) requestByID(ctx context.Context, sess model.Session, id uuid.UUID) (model.FriendRequest, error) {
	rows, err := remote.Query[model.FriendRequest](ctx, c.client, sess.AccessToken, collections.FriendRequests,
		remote.RowQuery{Filters: []remote.Filter{remote.Eq("id", id.String())}})
	if err != nil {
		return model.FriendRequest{}, err
	}
	if len(rows) == 0 {
		return model.FriendRequest{}, fmt.Errorf("friend request not found: %w", errs.ErrNotFound)
	}
	return rows[0], nil
}

// AcceptRequest accepts a pending request addressed to the caller and
// creates the friendship. Accepting an already-terminal request is a
// no-op, never a duplicate friendship.
func (c *Controller) AcceptRequest(ctx context.Context, id uuid.UUID) error {
	sess, err := c.writeSession(ctx)
	if err != nil {
		return err
	}
	req, err := c.requestByID(ctx, sess, id)
	if err != nil {
		return err
	}
	if req.RecipientID != sess.UserID {
		return fmt.Errorf("only the recipient may accept a friend request: %w", errs.ErrForbidden)
	}
	if req.Status != model.RequestPending {
		return nil
	}

	req.Status = model.RequestAccepted
	req.UpdatedAt = time.Now().UTC()
	if err := remote.Upsert(ctx, c.client, sess.AccessToken, collections.FriendRequests, []model.FriendRequest{req}); err != nil {
		return err
	}

	fid, err := uuid.NewV4()
	if err != nil {
		return err
	}
	friendship := model.Friendship{
		ID:        fid,
		UserID:    req.RecipientID,
		FriendID:  req.RequesterID,
		CreatedAt: time.Now().UTC(),
	}
	return remote.Upsert(ctx, c.client, sess.AccessToken, collections.Friendships, []model.Friendship{friendship})
}

// DeclineRequest declines a pending request addressed to the caller.
func (c *Controller) DeclineRequest(ctx context.Context, id uuid.UUID) error {
	return c.terminate(ctx, id, model.RequestDeclined)
}

// CancelRequest cancels a pending request the caller sent.
func (c *Controller) CancelRequest(ctx context.Context, id uuid.UUID) error {
	return c.terminate(ctx, id, model.RequestCanceled)
}

func (c *Controller) terminate(ctx context.Context, id uuid.UUID, status string) error {
	sess, err := c.writeSession(ctx)
	if err != nil {
		return err
	}
	req, err := c.requestByID(ctx, sess, id)
	if err != nil {
		return err
	}
	switch status {
	case model.RequestDeclined:
		if req.RecipientID != sess.UserID {
			return fmt.Errorf("only the recipient may decline a friend request: %w", errs.ErrForbidden)
		}
	case model.RequestCanceled:
		if req.RequesterID != sess.UserID {
			return fmt.Errorf("only the requester may cancel a friend request: %w", errs.ErrForbidden)
		}
	}
	if req.Status != model.RequestPending {
		return nil
	}
	req.Status = status
	req.UpdatedAt = time.Now().UTC()
	return remote.Upsert(ctx, c.client, sess.AccessToken, collections.FriendRequests, []model.FriendRequest{req})
}

// ListRequests returns the caller's pending requests split by direction.
// Fails soft: empty while offline or signed out.
func (c *Controller) ListRequests(ctx context.Context) (incoming, outgoing []model.FriendRequest, err error) {
	sess, ok := c.readSession(ctx)
	if !ok {
		return nil, nil, nil
	}
	rows, err := remote.Query[model.FriendRequest](ctx, c.client, sess.AccessToken, collections.FriendRequests,
		remote.RowQuery{Filters: []remote.Filter{remote.Eq("status", model.RequestPending)}})
	if err != nil {
		c.softFail("list requests", err)
		return nil, nil, nil
	}
	for _, r := range rows {
		if r.RecipientID == sess.UserID {
			incoming = append(incoming, r)
		} else if r.RequesterID == sess.UserID {
			outgoing = append(outgoing, r)
		}
	}
	return incoming, outgoing, nil
}

// ListFriends returns the caller's friendships resolved against each
// friend's profile, and opportunistically records the friend count into
// local settings for display. Fails soft.
func (c *Controller) ListFriends(ctx context.Context) ([]model.Friend, error) {
	sess, ok := c.readSession(ctx)
	if !ok {
		return nil, nil
	}
	friendships, err := c.myFriendships(ctx, sess)
	if err != nil {
		c.softFail("list friends", err)
		return nil, nil
	}
	if len(friendships) == 0 {
		_ = c.settings.Set(friendCountKey, 0)
		return nil, nil
	}

	friendedAt := map[uuid.UUID]time.Time{}
	ids := make([]string, 0, len(friendships))
	for _, f := range friendships {
		other := f.FriendID
		if other == sess.UserID {
			other = f.UserID
		}
		if _, seen := friendedAt[other]; !seen {
			ids = append(ids, other.String())
		}
		friendedAt[other] = f.CreatedAt
	}

	profiles, err := remote.Query[model.FriendProfile](ctx, c.client, sess.AccessToken, collections.Profiles,
		remote.RowQuery{Filters: []remote.Filter{remote.In("user_id", ids...)}})
	if err != nil {
		c.softFail("list friends", err)
		return nil, nil
	}

	out := make([]model.Friend, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, model.Friend{Profile: p, FriendedAt: friendedAt[p.UserID]})
	}
	_ = c.settings.Set(friendCountKey, len(out))
	return out, nil
}
