// Package lms is a typed client for the external learning platform's REST web-service API.
// Each method is one round trip: no retries and no caching.
package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lms-bridge/internal/metrics"
)

const (
	defaultTimeout = 15 * time.Second
	restPath       = "/webservice/rest/server.php"
	snippetLen     = 256
)

// Web-service functions called by the client.
const (
	FuncGetCategories    = "core_course_get_categories"
	FuncGetCoursesBy     = "core_course_get_courses_by_field"
	FuncGetUsersByField  = "core_user_get_users_by_field"
	FuncCreateUsers      = "core_user_create_users"
	FuncGetSiteInfo      = "core_webservice_get_site_info"
	siteCourseFormatName = "site"
)

// ErrNotConfigured is returned by NewClient when the base URL or token is missing.
var ErrNotConfigured = errors.New("lms: base URL and web-service token are required")

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	// Timeout bounds each request; zero means 15s.
	Timeout time.Duration
	// Transport overrides the base round tripper (tests). It is always wrapped with otelhttp.
	Transport http.RoundTripper
	Logger    logrus.FieldLogger
	Metrics   *metrics.Metrics
}

// Client calls the platform's web-service endpoint. Safe for concurrent use.
type Client struct {
	http    *resty.Client
	token   string
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewClient returns a client for the platform at opts.BaseURL.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimSuffix(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" || opts.Token == "" {
		return nil, ErrNotConfigured
	}
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("lms: invalid base URL %q", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rt := opts.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	hc := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetTransport(otelhttp.NewTransport(rt)).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &Client{
		http:    hc,
		token:   opts.Token,
		log:     logger.WithField("component", "lms"),
		metrics: opts.Metrics,
	}, nil
}

// ListCategories returns every category visible to the token.
func (c *Client) ListCategories(ctx context.Context) ([]Category, error) {
	args := url.Values{}
	args.Set("addsubcategories", "1")
	var raws []json.RawMessage
	if err := c.call(ctx, FuncGetCategories, args, &raws); err != nil {
		return nil, err
	}
	out := make([]Category, 0, len(raws))
	for _, raw := range raws {
		var cat Category
		if err := json.Unmarshal(raw, &cat); err != nil {
			cat = Category{ID: peekID(raw), DecodeErr: c.itemDecodeError(FuncGetCategories, raw, err)}
		}
		out = append(out, cat)
	}
	return out, nil
}

// ListCourses returns every course except the site front page.
func (c *Client) ListCourses(ctx context.Context) ([]Course, error) {
	var resp coursesResponse
	if err := c.call(ctx, FuncGetCoursesBy, url.Values{}, &resp); err != nil {
		return nil, err
	}
	out := make([]Course, 0, len(resp.Courses))
	for _, raw := range resp.Courses {
		var course Course
		if err := json.Unmarshal(raw, &course); err != nil {
			course = Course{ID: peekID(raw), DecodeErr: c.itemDecodeError(FuncGetCoursesBy, raw, err)}
		}
		if course.Format == siteCourseFormatName {
			continue
		}
		out = append(out, course)
	}
	return out, nil
}

func (c *Client) itemDecodeError(function string, raw json.RawMessage, err error) error {
	c.log.WithFields(logrus.Fields{"function": function, "item": snippet(raw), "error": err}).Warn("lms item did not decode")
	return &Error{Kind: KindDecode, Function: function, Message: err.Error(), Err: err}
}

// FindUserByEmail returns the account registered with email, or (nil, nil) if none exists.
// Returned accounts whose email does not match case-insensitively are ignored.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	args := url.Values{}
	args.Set("field", "email")
	args.Set("values[0]", email)
	var users []User
	if err := c.call(ctx, FuncGetUsersByField, args, &users); err != nil {
		return nil, err
	}
	for i := range users {
		if strings.EqualFold(users[i].Email, email) {
			return &users[i], nil
		}
	}
	return nil, nil
}

// CreateUser creates one account and returns it with the assigned id.
// The password is sent to the platform and never logged.
func (c *Client) CreateUser(ctx context.Context, p UserProfile) (*User, error) {
	args := url.Values{}
	args.Set("users[0][username]", p.Username)
	args.Set("users[0][password]", p.Password)
	args.Set("users[0][firstname]", p.FirstName)
	args.Set("users[0][lastname]", p.LastName)
	args.Set("users[0][email]", p.Email)
	if p.Auth != "" {
		args.Set("users[0][auth]", p.Auth)
	}
	var created []createdUser
	if err := c.call(ctx, FuncCreateUsers, args, &created); err != nil {
		return nil, err
	}
	if len(created) == 0 || created[0].ID <= 0 {
		return nil, &Error{Kind: KindDecode, Function: FuncCreateUsers, Message: "no user id in response"}
	}
	username := created[0].Username
	if username == "" {
		username = p.Username
	}
	return &User{
		ID:        created[0].ID,
		Username:  username,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
		Auth:      p.Auth,
	}, nil
}

// GetSiteInfo returns platform metadata for the configured token.
func (c *Client) GetSiteInfo(ctx context.Context) (*SiteInfo, error) {
	var info SiteInfo
	if err := c.call(ctx, FuncGetSiteInfo, url.Values{}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// TestConnection reports whether the platform answers an authenticated call.
// The error explains a false result.
func (c *Client) TestConnection(ctx context.Context) (bool, error) {
	if _, err := c.GetSiteInfo(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) call(ctx context.Context, function string, args url.Values, out any) (err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveExternalCall(function, time.Since(start), err) }()

	form := url.Values{}
	for k, vs := range args {
		form[k] = vs
	}
	form.Set("wstoken", c.token)
	form.Set("wsfunction", function)
	form.Set("moodlewsrestformat", "json")

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		Post(restPath)
	if err != nil {
		c.log.WithFields(logrus.Fields{"function": function, "error": err}).Warn("lms call failed")
		return &Error{Kind: KindConnectivity, Function: function, Err: err}
	}

	body := bytes.TrimSpace(resp.Body())
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return &Error{Kind: KindStatus, Function: function, StatusCode: resp.StatusCode(), Message: snippet(body)}
	}
	if len(body) > 0 && body[0] == '{' {
		var ex exception
		if jerr := json.Unmarshal(body, &ex); jerr == nil && (ex.Exception != "" || ex.ErrorCode != "") {
			return &Error{Kind: KindRemote, Function: function, StatusCode: resp.StatusCode(), Code: ex.ErrorCode, Message: ex.Message}
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.log.WithFields(logrus.Fields{"function": function, "body": snippet(body)}).Warn("lms response did not decode")
		return &Error{Kind: KindDecode, Function: function, StatusCode: resp.StatusCode(), Message: snippet(body), Err: err}
	}
	c.log.WithFields(logrus.Fields{"function": function, "duration_ms": time.Since(start).Milliseconds()}).Debug("lms call")
	return nil
}

func snippet(b []byte) string {
	if len(b) > snippetLen {
		return string(b[:snippetLen]) + "..."
	}
	return string(b)
}

// CourseURL returns the platform's course page path for an external course id.
func CourseURL(externalCourseID int64) string {
	return "/course/view.php?id=" + strconv.FormatInt(externalCourseID, 10)
}
