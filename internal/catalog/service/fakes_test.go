package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"lms-bridge/internal/catalog/domain"
	"lms-bridge/internal/lms"
)

// memRepo is an in-memory catalog repository enforcing the same unique keys as the schema.
type memRepo struct {
	mu         sync.Mutex
	categories map[string]*domain.Category // by id
	courses    map[string]*domain.Course   // by id
	writes     int
	failCourse map[int64]error // external id -> error for Create/Update
}

func newMemRepo() *memRepo {
	return &memRepo{
		categories: map[string]*domain.Category{},
		courses:    map[string]*domain.Course{},
		failCourse: map[int64]error{},
	}
}

func (m *memRepo) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Category, 0, len(m.categories))
	for _, c := range m.categories {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *memRepo) GetCategoryBySlug(ctx context.Context, slug string) (*domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.categories {
		if c.Slug == slug {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRepo) putCategory(c *domain.Category) error {
	for id, o := range m.categories {
		if id != c.ID && (o.Slug == c.Slug || o.ExternalCategoryID == c.ExternalCategoryID) {
			return fmt.Errorf("duplicate key for category %q", c.Slug)
		}
	}
	cp := *c
	m.categories[c.ID] = &cp
	m.writes++
	return nil
}

func (m *memRepo) CreateCategory(ctx context.Context, c *domain.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[c.ID]; ok {
		return errors.New("duplicate id")
	}
	return m.putCategory(c)
}

func (m *memRepo) UpdateCategory(ctx context.Context, c *domain.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[c.ID]; !ok {
		return errors.New("no such category")
	}
	return m.putCategory(c)
}

func (m *memRepo) ListCourses(ctx context.Context) ([]*domain.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Course, 0, len(m.courses))
	for _, c := range m.courses {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalCourseID < out[j].ExternalCourseID })
	return out, nil
}

func (m *memRepo) GetCourseBySlug(ctx context.Context, slug string) (*domain.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.courses {
		if c.Slug == slug {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRepo) checkCourse(c *domain.Course) error {
	if err := m.failCourse[c.ExternalCourseID]; err != nil {
		return err
	}
	for id, o := range m.courses {
		if id != c.ID && (o.Slug == c.Slug || o.ExternalCourseID == c.ExternalCourseID) {
			return fmt.Errorf("duplicate key for course %q", c.Slug)
		}
	}
	return nil
}

func (m *memRepo) CreateCourse(ctx context.Context, c *domain.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkCourse(c); err != nil {
		return err
	}
	cp := *c
	m.courses[c.ID] = &cp
	m.writes++
	return nil
}

func (m *memRepo) UpdateCourseSource(ctx context.Context, c *domain.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.courses[c.ID]
	if !ok {
		return errors.New("no such course")
	}
	if err := m.checkCourse(c); err != nil {
		return err
	}
	// Mirror the SQL statement: only source-owned columns change.
	cur.Slug = c.Slug
	cur.Title = c.Title
	cur.Summary = c.Summary
	cur.CategoryID = c.CategoryID
	cur.Visible = c.Visible
	cur.ExternalImageURL = c.ExternalImageURL
	cur.UpdatedAt = c.UpdatedAt
	m.writes++
	return nil
}

func (m *memRepo) courseByExt(ext int64) *domain.Course {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.courses {
		if c.ExternalCourseID == ext {
			cp := *c
			return &cp
		}
	}
	return nil
}

func (m *memRepo) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// fakeSource serves fixed external listings.
type fakeSource struct {
	mu            sync.Mutex
	categories    []lms.Category
	courses       []lms.Course
	categoriesErr error
	coursesErr    error
}

func (f *fakeSource) ListCategories(ctx context.Context) ([]lms.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.categoriesErr != nil {
		return nil, f.categoriesErr
	}
	return append([]lms.Category(nil), f.categories...), nil
}

func (f *fakeSource) ListCourses(ctx context.Context) ([]lms.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.coursesErr != nil {
		return nil, f.coursesErr
	}
	return append([]lms.Course(nil), f.courses...), nil
}

func category(id int64, name string) lms.Category {
	return lms.Category{ID: lms.Int(id), Name: name, Depth: 1, CourseCount: 1}
}

func course(id int64, shortName, fullName string, categoryID int64) lms.Course {
	return lms.Course{ID: lms.Int(id), ShortName: shortName, FullName: fullName, CategoryID: lms.Int(categoryID), Format: "topics"}
}
