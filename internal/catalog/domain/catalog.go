package domain

import (
	"errors"
	"time"
)

// Category is a locally mirrored external course category. Slug is its natural key.
type Category struct {
	ID                 string
	Slug               string
	ExternalCategoryID int64
	Name               string
	Description        string
	ParentExternalID   int64
	SortOrder          int
	Depth              int
	CourseCount        int
	Visible            bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Validate checks the fields an upsert needs.
func (c *Category) Validate() error {
	if c.Slug == "" {
		return errors.New("slug is required")
	}
	if c.ExternalCategoryID <= 0 {
		return errors.New("external category id is required")
	}
	if c.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

// SameDisplay reports whether the source-owned display fields of c and o are equal.
func (c *Category) SameDisplay(o *Category) bool {
	return c.Name == o.Name &&
		c.Description == o.Description &&
		c.ParentExternalID == o.ParentExternalID &&
		c.SortOrder == o.SortOrder &&
		c.Depth == o.Depth &&
		c.CourseCount == o.CourseCount &&
		c.Visible == o.Visible &&
		c.ExternalCategoryID == o.ExternalCategoryID
}

// Course is a locally mirrored external course. ExternalCourseID is its natural key.
//
// Title, Summary, CategoryID, Visible and ExternalImageURL are owned by the external platform and
// overwritten on every sync. CustomImageURL, PriceMinor, Currency, Instructor and Tags are owned
// locally and only defaulted on insert.
type Course struct {
	ID               string
	ExternalCourseID int64
	Slug             string
	Title            string
	Summary          string
	CategoryID       string // local category id; empty when uncategorized
	Visible          bool
	ExternalImageURL string

	CustomImageURL string
	PriceMinor     int64
	Currency       string
	Instructor     string
	Tags           []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the fields an upsert needs.
func (c *Course) Validate() error {
	if c.ExternalCourseID <= 0 {
		return errors.New("external course id is required")
	}
	if c.Slug == "" {
		return errors.New("slug is required")
	}
	if c.Title == "" {
		return errors.New("title is required")
	}
	return nil
}

// SameSource reports whether the source-owned fields (and slug) of c and o are equal.
func (c *Course) SameSource(o *Course) bool {
	return c.Slug == o.Slug &&
		c.Title == o.Title &&
		c.Summary == o.Summary &&
		c.CategoryID == o.CategoryID &&
		c.Visible == o.Visible &&
		c.ExternalImageURL == o.ExternalImageURL
}

// ImageURL prefers the locally uploaded image over the external one.
func (c *Course) ImageURL() string {
	if c.CustomImageURL != "" {
		return c.CustomImageURL
	}
	return c.ExternalImageURL
}
