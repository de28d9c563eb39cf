// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across engine/repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotConfigured indicates remote sync has not been configured at all.
	ErrNotConfigured = errors.New("sync not configured")

	// ErrNotAuthenticated indicates no valid session is available.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrUnauthorized indicates failed authentication (bad credentials or token).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller is not the required party for an action.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates a uniqueness or state conflict (handle taken,
	// duplicate pending request, already friends).
	ErrConflict = errors.New("conflict")

	// ErrExpired indicates an expired token or one-shot authorization code.
	ErrExpired = errors.New("expired")

	// ErrRateLimited indicates temporarily blocked sign-in attempts.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalid indicates a request that failed validation.
	ErrInvalid = errors.New("invalid request")
)
