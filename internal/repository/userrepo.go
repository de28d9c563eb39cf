package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/timewell/syncengine/internal/model"
)

// UserRepository provides CRUD access to accounts.
type UserRepository interface {
	// Create inserts a new user.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByEmail loads a user by email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}
