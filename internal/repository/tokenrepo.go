package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/timewell/syncengine/internal/model"
)

// TokenRepository stores one-shot authorization codes and rotating refresh
// tokens. Both are persisted as hashes only.
type TokenRepository interface {
	// CreateAuthCode stores a freshly minted authorization code.
	CreateAuthCode(ctx context.Context, code *model.AuthCode) error
	// ConsumeAuthCode atomically marks the code consumed and returns it.
	// A missing, already consumed or expired code fails with ErrExpired.
	ConsumeAuthCode(ctx context.Context, codeHash []byte, now time.Time) (*model.AuthCode, error)

	// CreateRefreshToken stores a refresh token.
	CreateRefreshToken(ctx context.Context, rt *model.RefreshToken) error
	// Rotate revokes the old token and stores its replacement in one
	// transaction, returning the owning user. A missing, revoked or
	// expired old token fails with ErrNotAuthenticated.
	Rotate(ctx context.Context, oldHash []byte, now time.Time, next *model.RefreshToken) (uuid.UUID, error)
	// Revoke marks a refresh token revoked; revoking an unknown token is
	// a no-op.
	Revoke(ctx context.Context, tokenHash []byte, now time.Time) error
	// PurgeExpired deletes expired codes and tokens, returning the count.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
