package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-bridge/internal/catalog/domain"
)

var courseCols = []string{"id", "external_course_id", "slug", "title", "summary", "category_id", "visible",
	"external_image_url", "custom_image_url", "price_minor", "currency", "instructor", "tags", "created_at", "updated_at"}

func newMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func TestListCourses_DecodesTagsAndNullCategory(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM courses ORDER BY external_course_id`)).
		WillReturnRows(sqlmock.NewRows(courseCols).
			AddRow("c-1", int64(7), "intro", "Introduction", "", "", true, "", "https://cdn/x.png", int64(4900), "EUR", "Ada", []byte(`["go","beginner"]`), now, now))

	list, err := repo.ListCourses(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	c := list[0]
	assert.Equal(t, int64(7), c.ExternalCourseID)
	assert.Equal(t, "", c.CategoryID)
	assert.Equal(t, []string{"go", "beginner"}, c.Tags)
	assert.Equal(t, int64(4900), c.PriceMinor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCourseBySlug_NotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM courses WHERE slug = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(courseCols))

	c, err := repo.GetCourseBySlug(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestCreateCourse_WritesLocalDefaults(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO courses`)).
		WithArgs("c-1", int64(7), "intro", "Introduction", "", nil, true, "", "", int64(0), "USD", "", "[]", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateCourse(context.Background(), &domain.Course{
		ID: "c-1", ExternalCourseID: 7, Slug: "intro", Title: "Introduction", Visible: true,
		Currency: "USD", CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCourseSource_LeavesLocalColumnsOut(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()
	// The statement must not mention any locally-owned column.
	mock.ExpectExec(`^UPDATE courses SET slug = \$2, title = \$3, summary = \$4, category_id = \$5, visible = \$6,\s+external_image_url = \$7, updated_at = \$8\s+WHERE id = \$1$`).
		WithArgs("c-1", "intro", "Intro v2", "s", "cat-1", false, "https://lms/img.png", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateCourseSource(context.Background(), &domain.Course{
		ID: "c-1", Slug: "intro", Title: "Intro v2", Summary: "s", CategoryID: "cat-1",
		ExternalImageURL: "https://lms/img.png", UpdatedAt: now,
		PriceMinor: 999, Instructor: "ignored",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCategories_CreateAndList(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()
	cat := &domain.Category{
		ID: "cat-1", Slug: "programming", ExternalCategoryID: 2, Name: "Programming",
		SortOrder: 10000, Depth: 1, CourseCount: 3, Visible: true, CreatedAt: now, UpdatedAt: now,
	}
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO categories`)).
		WithArgs("cat-1", "programming", int64(2), "Programming", "", int64(0), 10000, 1, 3, true, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM categories ORDER BY slug`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "external_category_id", "name", "description",
			"parent_external_id", "sort_order", "depth", "course_count", "visible", "created_at", "updated_at"}).
			AddRow("cat-1", "programming", int64(2), "Programming", "", int64(0), 10000, 1, 3, true, now, now))

	require.NoError(t, repo.CreateCategory(context.Background(), cat))
	list, err := repo.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, *cat, *list[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}
