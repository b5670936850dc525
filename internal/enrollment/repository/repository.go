package repository

import (
	"context"

	"lms-bridge/internal/enrollment/domain"
)

// Repository defines read access to enrollments plus the insert used by seeding.
type Repository interface {
	Get(ctx context.Context, userID, courseID string) (*domain.Enrollment, error)
	Exists(ctx context.Context, userID, courseID string) (bool, error)
	// HasAny reports whether the user is enrolled in at least one course.
	HasAny(ctx context.Context, userID string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Enrollment, error)
	Create(ctx context.Context, e *domain.Enrollment) error
}
