package remote

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/timewell/syncengine/internal/engine/settings"
	"github.com/timewell/syncengine/internal/errs"
	"github.com/timewell/syncengine/internal/model"
)

// Settings keys owned by the auth client.
const (
	sessionKey  = "remote.session"
	verifierKey = "remote.pkce_verifier"
)

// refreshLeeway triggers a proactive refresh before the token actually
// expires, so a sync pass never starts with a token about to die.
const refreshLeeway = time.Minute

// Auth manages the remote session: cache in local settings, proactive
// refresh, browser sign-in URL and one-shot code exchange.
type Auth struct {
	c        *Client
	settings settings.Store

	mu sync.Mutex // serializes refreshes
}

// NewAuth constructs the auth client on top of a row-store client.
func NewAuth(c *Client, st settings.Store) *Auth {
	return &Auth{c: c, settings: st}
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         struct {
		ID    uuid.UUID `json:"id"`
		Email string    `json:"email"`
	} `json:"user"`
}

func (t tokenResponse) session() model.Session {
	return model.Session{
		UserID:       t.User.ID,
		Email:        t.User.Email,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.ExpiresAt,
	}
}

// Cached returns the cached session without refreshing it. Used for
// status reporting, which must never touch the network.
func (a *Auth) Cached() (model.Session, bool) {
	var sess model.Session
	ok, err := a.settings.Get(sessionKey, &sess)
	if err != nil || !ok || sess.RefreshToken == "" {
		return model.Session{}, false
	}
	return sess, true
}

// CurrentSession returns a usable session, refreshing it first when close
// to expiry. Returns ErrNotAuthenticated when no session is cached.
func (a *Auth) CurrentSession(ctx context.Context) (model.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var sess model.Session
	ok, err := a.settings.Get(sessionKey, &sess)
	if err != nil {
		return model.Session{}, fmt.Errorf("session cache: %w", err)
	}
	if !ok || sess.RefreshToken == "" {
		return model.Session{}, errs.ErrNotAuthenticated
	}
	if sess.Valid(time.Now().Add(refreshLeeway)) {
		return sess, nil
	}

	refreshed, err := a.refresh(ctx, sess)
	if err != nil {
		// A dead refresh token means the session is gone for good; drop
		// it so status reports unauthenticated instead of failing forever.
		if isAuthFailure(err) {
			_ = a.settings.Remove(sessionKey)
			return model.Session{}, errs.ErrNotAuthenticated
		}
		return model.Session{}, err
	}
	return refreshed, nil
}

func isAuthFailure(err error) bool {
	return errors.Is(err, errs.ErrUnauthorized) || errors.Is(err, errs.ErrExpired)
}

func (a *Auth) refresh(ctx context.Context, sess model.Session) (model.Session, error) {
	var tr tokenResponse
	body := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": sess.RefreshToken,
	}
	if err := a.c.do(ctx, http.MethodPost, "/v1/auth/token", nil, "", body, &tr); err != nil {
		return model.Session{}, err
	}
	out := tr.session()
	if err := a.settings.Set(sessionKey, out); err != nil {
		return model.Session{}, err
	}
	return out, nil
}

// SignInURL builds the hosted sign-in URL the host application must open
// in an external browser. A fresh PKCE verifier is generated per call and
// stashed locally until the matching code comes back.
func (a *Auth) SignInURL() (string, error) {
	verifier, err := randToken(32)
	if err != nil {
		return "", err
	}
	if err := a.settings.Set(verifierKey, verifier); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	u := *a.c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/auth/authorize"
	q := url.Values{}
	q.Set("redirect_uri", a.c.callbackURL)
	q.Set("code_challenge", challenge)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ExchangeCode consumes a one-shot authorization code delivered via the
// platform callback URL and caches the resulting session.
func (a *Auth) ExchangeCode(ctx context.Context, code string) (model.Session, error) {
	var verifier string
	ok, err := a.settings.Get(verifierKey, &verifier)
	if err != nil {
		return model.Session{}, err
	}
	if !ok {
		return model.Session{}, fmt.Errorf("no sign-in in progress: %w", errs.ErrNotAuthenticated)
	}

	var tr tokenResponse
	body := map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"code_verifier": verifier,
		"redirect_uri":  a.c.callbackURL,
	}
	if err := a.c.do(ctx, http.MethodPost, "/v1/auth/token", nil, "", body, &tr); err != nil {
		return model.Session{}, err
	}
	_ = a.settings.Remove(verifierKey)

	sess := tr.session()
	if err := a.settings.Set(sessionKey, sess); err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

// SignOut revokes the refresh token best-effort and clears the cached
// session either way.
func (a *Auth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var sess model.Session
	ok, err := a.settings.Get(sessionKey, &sess)
	if err != nil {
		return err
	}
	if ok && sess.RefreshToken != "" {
		body := map[string]string{"refresh_token": sess.RefreshToken}
		_ = a.c.do(ctx, http.MethodPost, "/v1/auth/logout", nil, sess.AccessToken, body, nil)
	}
	return a.settings.Remove(sessionKey)
}

func randToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
