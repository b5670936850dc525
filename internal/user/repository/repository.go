package repository

import (
	"context"

	"lms-bridge/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// SetExternalIdentity writes the triplet only if the user has none yet. ok is false when
	// another writer got there first (or the user does not exist); nothing is changed then.
	SetExternalIdentity(ctx context.Context, userID string, ident *domain.ExternalIdentity) (ok bool, err error)
	// LockProvisioning holds the cross-process provisioning lock for userID until release is called.
	LockProvisioning(ctx context.Context, userID string) (release func(), err error)
}
