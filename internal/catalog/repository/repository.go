package repository

import (
	"context"

	"lms-bridge/internal/catalog/domain"
)

// Repository defines persistence for mirrored categories and courses.
type Repository interface {
	ListCategories(ctx context.Context) ([]*domain.Category, error)
	GetCategoryBySlug(ctx context.Context, slug string) (*domain.Category, error)
	CreateCategory(ctx context.Context, c *domain.Category) error
	// UpdateCategory writes the source-owned display fields (and slug) of the row with c.ID.
	UpdateCategory(ctx context.Context, c *domain.Category) error

	ListCourses(ctx context.Context) ([]*domain.Course, error)
	GetCourseBySlug(ctx context.Context, slug string) (*domain.Course, error)
	// CreateCourse inserts a course including its locally-owned fields.
	CreateCourse(ctx context.Context, c *domain.Course) error
	// UpdateCourseSource writes only the source-owned fields and slug of the row with c.ID.
	// Locally-owned fields are never touched.
	UpdateCourseSource(ctx context.Context, c *domain.Course) error
}
