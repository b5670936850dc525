package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"lms-bridge/internal/catalog/domain"
)

const (
	categoryColumns = `id, slug, external_category_id, name, description, parent_external_id,
		sort_order, depth, course_count, visible, created_at, updated_at`
	courseColumns = `id, external_course_id, slug, title, summary, COALESCE(category_id, ''), visible,
		external_image_url, custom_image_url, price_minor, currency, instructor, tags, created_at, updated_at`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a catalog repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ListCategories returns every stored category ordered by slug.
func (r *PostgresRepository) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCategoryBySlug returns the category for slug, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetCategoryBySlug(ctx context.Context, slug string) (*domain.Category, error) {
	c, err := scanCategory(r.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE slug = $1`, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// CreateCategory inserts c. c.ID must be set.
func (r *PostgresRepository) CreateCategory(ctx context.Context, c *domain.Category) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (id, slug, external_category_id, name, description, parent_external_id,
			sort_order, depth, course_count, visible, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.Slug, c.ExternalCategoryID, c.Name, c.Description, c.ParentExternalID,
		c.SortOrder, c.Depth, c.CourseCount, c.Visible, c.CreatedAt, c.UpdatedAt)
	return err
}

// UpdateCategory overwrites the display fields of the row with c.ID.
func (r *PostgresRepository) UpdateCategory(ctx context.Context, c *domain.Category) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE categories SET slug = $2, external_category_id = $3, name = $4, description = $5,
			parent_external_id = $6, sort_order = $7, depth = $8, course_count = $9, visible = $10, updated_at = $11
		 WHERE id = $1`,
		c.ID, c.Slug, c.ExternalCategoryID, c.Name, c.Description, c.ParentExternalID,
		c.SortOrder, c.Depth, c.CourseCount, c.Visible, c.UpdatedAt)
	return err
}

// ListCourses returns every stored course ordered by external id.
func (r *PostgresRepository) ListCourses(ctx context.Context) ([]*domain.Course, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+courseColumns+` FROM courses ORDER BY external_course_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCourseBySlug returns the course for slug, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetCourseBySlug(ctx context.Context, slug string) (*domain.Course, error) {
	c, err := scanCourse(r.db.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE slug = $1`, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// CreateCourse inserts c with its locally-owned fields. c.ID must be set.
func (r *PostgresRepository) CreateCourse(ctx context.Context, c *domain.Course) error {
	tags, err := encodeTags(c.Tags)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO courses (id, external_course_id, slug, title, summary, category_id, visible,
			external_image_url, custom_image_url, price_minor, currency, instructor, tags, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14, $15)`,
		c.ID, c.ExternalCourseID, c.Slug, c.Title, c.Summary, nullString(c.CategoryID), c.Visible,
		c.ExternalImageURL, c.CustomImageURL, c.PriceMinor, c.Currency, c.Instructor, tags, c.CreatedAt, c.UpdatedAt)
	return err
}

// UpdateCourseSource overwrites the source-owned columns of the row with c.ID. custom_image_url,
// price_minor, currency, instructor and tags are not in the statement.
func (r *PostgresRepository) UpdateCourseSource(ctx context.Context, c *domain.Course) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE courses SET slug = $2, title = $3, summary = $4, category_id = $5, visible = $6,
			external_image_url = $7, updated_at = $8
		 WHERE id = $1`,
		c.ID, c.Slug, c.Title, c.Summary, nullString(c.CategoryID), c.Visible, c.ExternalImageURL, c.UpdatedAt)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCategory(s scanner) (*domain.Category, error) {
	var c domain.Category
	err := s.Scan(&c.ID, &c.Slug, &c.ExternalCategoryID, &c.Name, &c.Description, &c.ParentExternalID,
		&c.SortOrder, &c.Depth, &c.CourseCount, &c.Visible, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCourse(s scanner) (*domain.Course, error) {
	var (
		c    domain.Course
		tags []byte
	)
	err := s.Scan(&c.ID, &c.ExternalCourseID, &c.Slug, &c.Title, &c.Summary, &c.CategoryID, &c.Visible,
		&c.ExternalImageURL, &c.CustomImageURL, &c.PriceMinor, &c.Currency, &c.Instructor, &tags,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &c.Tags); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
