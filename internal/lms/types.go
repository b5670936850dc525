package lms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Int decodes a JSON number, a numeric string, a boolean or null into an int64.
// The platform is inconsistent about quoting numeric fields across versions.
type Int int64

func (i *Int) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0, bytes.Equal(b, []byte("null")):
		*i = 0
		return nil
	case bytes.Equal(b, []byte("true")):
		*i = 1
		return nil
	case bytes.Equal(b, []byte("false")):
		*i = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*i = 0
			return nil
		}
		b = []byte(s)
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(b), 64)
		if ferr != nil {
			return fmt.Errorf("lms: %q is not numeric", string(b))
		}
		n = int64(f)
	}
	*i = Int(n)
	return nil
}

// Category is an external course category.
type Category struct {
	ID          Int    `json:"id"`
	Name        string `json:"name"`
	IDNumber    string `json:"idnumber"`
	Description string `json:"description"`
	Parent      Int    `json:"parent"`
	SortOrder   Int    `json:"sortorder"`
	CourseCount Int    `json:"coursecount"`
	Visible     *Int   `json:"visible"`
	Depth       Int    `json:"depth"`
	Path        string `json:"path"`
	// DecodeErr is set when this entry did not match the expected shape; only ID is then reliable.
	DecodeErr error `json:"-"`
}

// IsVisible treats an absent visible flag as visible.
func (c Category) IsVisible() bool {
	return c.Visible == nil || *c.Visible != 0
}

// File is an attachment reference (course overview images).
type File struct {
	FileName string `json:"filename"`
	FileURL  string `json:"fileurl"`
	MimeType string `json:"mimetype"`
}

// Course is an external course.
type Course struct {
	ID            Int    `json:"id"`
	ShortName     string `json:"shortname"`
	FullName      string `json:"fullname"`
	DisplayName   string `json:"displayname"`
	IDNumber      string `json:"idnumber"`
	Summary       string `json:"summary"`
	CategoryID    Int    `json:"categoryid"`
	Visible       *Int   `json:"visible"`
	Format        string `json:"format"`
	CourseImage   string `json:"courseimage"`
	OverviewFiles []File `json:"overviewfiles"`
	StartDate     Int    `json:"startdate"`
	EndDate       Int    `json:"enddate"`
	// DecodeErr is set when this entry did not match the expected shape; only ID is then reliable.
	DecodeErr error `json:"-"`
}

// IsVisible treats an absent visible flag as visible.
func (c Course) IsVisible() bool {
	return c.Visible == nil || *c.Visible != 0
}

// Title prefers the full name, then the display name, then the short name.
func (c Course) Title() string {
	for _, s := range []string{c.FullName, c.DisplayName, c.ShortName} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// ImageURL returns the course image reference, or "" when the course has none.
// Generated placeholder images (data: URIs) are ignored.
func (c Course) ImageURL() string {
	if c.CourseImage != "" && !strings.HasPrefix(c.CourseImage, "data:") {
		return c.CourseImage
	}
	for _, f := range c.OverviewFiles {
		if f.FileURL == "" {
			continue
		}
		if f.MimeType == "" || strings.HasPrefix(f.MimeType, "image/") {
			return f.FileURL
		}
	}
	return ""
}

// User is an external account.
type User struct {
	ID        Int    `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	FullName  string `json:"fullname"`
	Email     string `json:"email"`
	Auth      string `json:"auth"`
	Suspended bool   `json:"suspended"`
}

// UserProfile is the input to CreateUser.
type UserProfile struct {
	Username  string
	Password  string
	FirstName string
	LastName  string
	Email     string
	// Auth is the authentication plugin (e.g. manual). Empty uses the platform default.
	Auth string
}

// SiteFunction is a web-service function enabled for the token.
type SiteFunction struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SiteInfo describes the platform and the token's user.
type SiteInfo struct {
	SiteName  string         `json:"sitename"`
	SiteURL   string         `json:"siteurl"`
	Username  string         `json:"username"`
	UserID    Int            `json:"userid"`
	Release   string         `json:"release"`
	Version   string         `json:"version"`
	Functions []SiteFunction `json:"functions"`
}

// HasFunction reports whether name is enabled for the token.
func (s *SiteInfo) HasFunction(name string) bool {
	if s == nil {
		return false
	}
	for _, f := range s.Functions {
		if f.Name == name {
			return true
		}
	}
	return false
}

// exception is the platform's error envelope, delivered with HTTP 200.
type exception struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

type coursesResponse struct {
	Courses []json.RawMessage `json:"courses"`
}

// peekID extracts "id" from an entry that failed to decode as a whole.
func peekID(raw json.RawMessage) Int {
	var v struct {
		ID Int `json:"id"`
	}
	_ = json.Unmarshal(raw, &v)
	return v.ID
}

type createdUser struct {
	ID       Int    `json:"id"`
	Username string `json:"username"`
}
