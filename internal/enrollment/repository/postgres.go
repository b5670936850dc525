package repository

import (
	"context"
	"database/sql"
	"errors"

	"lms-bridge/internal/enrollment/domain"
)

const enrollmentColumns = `user_id, course_id, status, progress, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an enrollment repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the enrollment for the user and course, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Get(ctx context.Context, userID, courseID string) (*domain.Enrollment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id = $1 AND course_id = $2`, userID, courseID)
	e, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// Exists reports whether the user is enrolled in the course, whatever the status.
func (r *PostgresRepository) Exists(ctx context.Context, userID, courseID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM enrollments WHERE user_id = $1 AND course_id = $2)`, userID, courseID).Scan(&ok)
	return ok, err
}

// HasAny reports whether the user has any enrollment, whatever the status.
func (r *PostgresRepository) HasAny(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM enrollments WHERE user_id = $1)`, userID).Scan(&ok)
	return ok, err
}

// ListByUser returns the user's enrollments, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Create inserts e, leaving an existing enrollment for the same pair untouched.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Enrollment) error {
	if e.Status == "" {
		e.Status = domain.StatusPending
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO enrollments (`+enrollmentColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, course_id) DO NOTHING`,
		e.UserID, e.CourseID, string(e.Status), e.Progress, e.CreatedAt, e.UpdatedAt)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEnrollment(s scanner) (*domain.Enrollment, error) {
	var e domain.Enrollment
	if err := s.Scan(&e.UserID, &e.CourseID, &e.Status, &e.Progress, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}
