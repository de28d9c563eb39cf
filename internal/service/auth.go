// Package service contains application services for authentication and
// synced row access.
package service

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/timewell/syncengine/internal/crypto"
	"github.com/timewell/syncengine/internal/errs"
	"github.com/timewell/syncengine/internal/limiter"
	"github.com/timewell/syncengine/internal/model"
	"github.com/timewell/syncengine/internal/repository"
)

const (
	authCodeTTL    = 5 * time.Minute
	refreshTTL     = 30 * 24 * time.Hour
	authCodeBytes  = 32
	refreshBytes   = 48
	minPasswordLen = 8
)

// AuthService defines the platform sign-in flow: account registration, the
// hosted authorize step that mints one-shot codes, the PKCE code exchange,
// refresh rotation and logout.
type AuthService interface {
	// Register creates a new account.
	Register(ctx context.Context, email, password string) (userID string, err error)
	// Authorize authenticates credentials and mints a one-shot
	// authorization code bound to the redirect URI and PKCE challenge.
	Authorize(ctx context.Context, email, password, ip, redirectURI, challenge string) (code string, err error)
	// Exchange consumes an authorization code, verifies the PKCE verifier
	// and redirect URI, and issues a session.
	Exchange(ctx context.Context, code, verifier, redirectURI string) (model.Session, error)
	// Refresh rotates the refresh token and issues a new access token.
	Refresh(ctx context.Context, refreshToken string) (model.Session, error)
	// Logout revokes the refresh token.
	Logout(ctx context.Context, refreshToken string) error
	// GetUser loads the account behind an authenticated request.
	GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error)
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	tokens    repository.TokenRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(
	users repository.UserRepository,
	tokens repository.TokenRepository,
	signKey []byte,
	accessTTL time.Duration,
	lim limiter.Limiter,
) *AuthServiceImpl {
	return &AuthServiceImpl{users: users, tokens: tokens, signKey: signKey, accessTTL: accessTTL, lim: lim}
}

// Register creates a new account with a per-user salt.
func (s *AuthServiceImpl) Register(ctx context.Context, email, password string) (string, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%w: invalid email", errs.ErrInvalid)
	}
	if len(password) < minPasswordLen {
		return "", fmt.Errorf("%w: password must be at least %d characters", errs.ErrInvalid, minPasswordLen)
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	salt, err := pkgcrypto.NewSalt()
	if err != nil {
		return "", err
	}
	u := &model.User{
		ID:      uid,
		Email:   email,
		PwdHash: pkgcrypto.HashPassword([]byte(password), salt),
		Salt:    salt,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return "", err
	}
	return uid.String(), nil
}

// Authorize authenticates credentials with rate limiting by (email, ip) and
// mints a one-shot authorization code.
func (s *AuthServiceImpl) Authorize(
	ctx context.Context, email, password, ip, redirectURI, challenge string,
) (string, error) {
	if redirectURI == "" || challenge == "" {
		return "", fmt.Errorf("%w: redirect_uri and code_challenge are required", errs.ErrInvalid)
	}
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", errs.ErrRateLimited
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), u.Salt, u.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			return "", errs.ErrRateLimited
		}
		// hide account existence on wrong password
		return "", errs.ErrUnauthorized
	}
	_ = s.lim.Success(ctx, email, ipHash)

	code, err := pkgcrypto.RandToken(authCodeBytes)
	if err != nil {
		return "", err
	}
	rec := &model.AuthCode{
		CodeHash:      pkgcrypto.HashToken(code),
		UserID:        u.ID,
		RedirectURI:   redirectURI,
		CodeChallenge: challenge,
		ExpiresAt:     time.Now().Add(authCodeTTL),
	}
	if err := s.tokens.CreateAuthCode(ctx, rec); err != nil {
		return "", err
	}
	return code, nil
}

// Exchange consumes an authorization code exactly once. A replayed code,
// a verifier that does not match the challenge, or a redirect URI mismatch
// all fail without issuing tokens.
func (s *AuthServiceImpl) Exchange(
	ctx context.Context, code, verifier, redirectURI string,
) (model.Session, error) {
	rec, err := s.tokens.ConsumeAuthCode(ctx, pkgcrypto.HashToken(code), time.Now())
	if err != nil {
		return model.Session{}, err
	}
	if rec.RedirectURI != redirectURI {
		return model.Session{}, errs.ErrUnauthorized
	}
	if !pkgcrypto.VerifyChallenge(verifier, rec.CodeChallenge) {
		return model.Session{}, errs.ErrUnauthorized
	}
	u, err := s.users.GetByID(ctx, rec.UserID)
	if err != nil {
		return model.Session{}, err
	}

	refresh, err := pkgcrypto.RandToken(refreshBytes)
	if err != nil {
		return model.Session{}, err
	}
	rt := &model.RefreshToken{
		TokenHash: pkgcrypto.HashToken(refresh),
		UserID:    u.ID,
		ExpiresAt: time.Now().Add(refreshTTL),
	}
	if err := s.tokens.CreateRefreshToken(ctx, rt); err != nil {
		return model.Session{}, err
	}
	return s.session(u, refresh)
}

// Refresh rotates the presented refresh token and issues a new access token.
// A revoked, expired or unknown token fails with ErrNotAuthenticated.
func (s *AuthServiceImpl) Refresh(ctx context.Context, refreshToken string) (model.Session, error) {
	next, err := pkgcrypto.RandToken(refreshBytes)
	if err != nil {
		return model.Session{}, err
	}
	rt := &model.RefreshToken{
		TokenHash: pkgcrypto.HashToken(next),
		ExpiresAt: time.Now().Add(refreshTTL),
	}
	userID, err := s.tokens.Rotate(ctx, pkgcrypto.HashToken(refreshToken), time.Now(), rt)
	if err != nil {
		return model.Session{}, err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return model.Session{}, err
	}
	return s.session(u, next)
}

// Logout revokes the refresh token. Unknown tokens are ignored.
func (s *AuthServiceImpl) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.Revoke(ctx, pkgcrypto.HashToken(refreshToken), time.Now())
}

// GetUser loads the account behind an authenticated request.
func (s *AuthServiceImpl) GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *AuthServiceImpl) session(u *model.User, refresh string) (model.Session, error) {
	access, exp, err := s.issueAccessToken(u.ID)
	if err != nil {
		return model.Session{}, err
	}
	return model.Session{
		UserID:       u.ID,
		Email:        u.Email,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    exp,
	}, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) issueAccessToken(userID uuid.UUID) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}
