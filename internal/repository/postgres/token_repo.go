package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/timewell/syncengine/internal/errs"
	"github.com/timewell/syncengine/internal/model"
)

// TokenRepo implements TokenRepository using PostgreSQL.
type TokenRepo struct{ db *DB }

// NewTokenRepo constructs a token repository.
func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

// CreateAuthCode stores a freshly minted authorization code.
func (r *TokenRepo) CreateAuthCode(ctx context.Context, code *model.AuthCode) error {
	const q = `
INSERT INTO auth_codes (code_hash, user_id, redirect_uri, code_challenge, expires_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, q,
		code.CodeHash, code.UserID, code.RedirectURI, code.CodeChallenge, code.ExpiresAt)
	return err
}

// ConsumeAuthCode marks the code consumed and returns it in one statement,
// so a replayed code can never pass twice.
func (r *TokenRepo) ConsumeAuthCode(ctx context.Context, codeHash []byte, now time.Time) (*model.AuthCode, error) {
	const q = `
UPDATE auth_codes
SET consumed = true
WHERE code_hash = $1 AND consumed = false AND expires_at > $2
RETURNING user_id, redirect_uri, code_challenge, expires_at, created_at`
	var code model.AuthCode
	code.CodeHash = codeHash
	code.Consumed = true
	err := r.db.Pool.QueryRow(ctx, q, codeHash, now).Scan(
		&code.UserID, &code.RedirectURI, &code.CodeChallenge, &code.ExpiresAt, &code.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrExpired
		}
		return nil, err
	}
	return &code, nil
}

// CreateRefreshToken stores a refresh token hash.
func (r *TokenRepo) CreateRefreshToken(ctx context.Context, rt *model.RefreshToken) error {
	const q = `
INSERT INTO refresh_tokens (token_hash, user_id, expires_at)
VALUES ($1, $2, $3)`
	_, err := r.db.Pool.Exec(ctx, q, rt.TokenHash, rt.UserID, rt.ExpiresAt)
	return err
}

// Rotate revokes the presented token and stores its replacement in one
// transaction.
func (r *TokenRepo) Rotate(
	ctx context.Context, oldHash []byte, now time.Time, next *model.RefreshToken,
) (userID uuid.UUID, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return uuid.Nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const revoke = `
UPDATE refresh_tokens
SET revoked_at = $2
WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
RETURNING user_id`
	if err = tx.QueryRow(ctx, revoke, oldHash, now).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, errs.ErrNotAuthenticated
		}
		return uuid.Nil, err
	}

	// The replacement inherits the revoked token's user.
	next.UserID = userID
	const ins = `
INSERT INTO refresh_tokens (token_hash, user_id, expires_at)
VALUES ($1, $2, $3)`
	if _, err = tx.Exec(ctx, ins, next.TokenHash, next.UserID, next.ExpiresAt); err != nil {
		return uuid.Nil, err
	}
	return userID, nil
}

// Revoke marks a refresh token revoked. Unknown tokens are ignored so
// logout stays idempotent.
func (r *TokenRepo) Revoke(ctx context.Context, tokenHash []byte, now time.Time) error {
	const q = `
UPDATE refresh_tokens
SET revoked_at = $2
WHERE token_hash = $1 AND revoked_at IS NULL`
	_, err := r.db.Pool.Exec(ctx, q, tokenHash, now)
	return err
}

// PurgeExpired deletes dead codes and tokens.
func (r *TokenRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	const codes = `DELETE FROM auth_codes WHERE expires_at < $1 OR consumed = true`
	const tokens = `DELETE FROM refresh_tokens WHERE expires_at < $1 OR revoked_at IS NOT NULL AND revoked_at < $1 - interval '30 days'`

	var total int64
	tag, err := r.db.Pool.Exec(ctx, codes, now)
	if err != nil {
		return 0, err
	}
	total += tag.RowsAffected()
	tag, err = r.db.Pool.Exec(ctx, tokens, now)
	if err != nil {
		return total, err
	}
	return total + tag.RowsAffected(), nil
}
