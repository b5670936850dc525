// Package bridge is the upstream trigger surface: it authorizes each request against the access
// policy and delegates to the catalog, identity and SSO components.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	auditdomain "lms-bridge/internal/audit/domain"
	catalogdomain "lms-bridge/internal/catalog/domain"
	"lms-bridge/internal/lms"
	"lms-bridge/internal/policy/engine"
	userdomain "lms-bridge/internal/user/domain"
)

var (
	// ErrPermissionDenied wraps every policy denial; the wrapped message carries the reason.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound is returned when the subject user or the requested course does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned for missing or malformed request fields.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Catalog runs sync passes. *catalog/service.Orchestrator implements it.
type Catalog interface {
	SyncCategories(ctx context.Context) (*catalogdomain.SyncResult, error)
	SyncCourses(ctx context.Context) (*catalogdomain.SyncResult, error)
	FullSync(ctx context.Context) (*catalogdomain.FullSyncResult, error)
}

// Platform is the diagnostic part of the external client. *lms.Client implements it.
type Platform interface {
	TestConnection(ctx context.Context) (bool, error)
	GetSiteInfo(ctx context.Context) (*lms.SiteInfo, error)
}

// Provisioner ensures external identities. *identity/service.Provisioner implements it.
type Provisioner interface {
	Provision(ctx context.Context, userID string) (*userdomain.ExternalIdentity, error)
}

// Minter builds SSO login URLs. *sso.Minter implements it.
type Minter interface {
	Mint(ctx context.Context, u *userdomain.User, redirect string) (string, error)
}

// Users loads local users. user/repository.Repository implements it.
type Users interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Courses looks up mirrored courses. catalog/repository.Repository implements it.
type Courses interface {
	GetCourseBySlug(ctx context.Context, slug string) (*catalogdomain.Course, error)
}

// Enrollments answers enrollment existence. enrollment/repository.Repository implements it.
type Enrollments interface {
	Exists(ctx context.Context, userID, courseID string) (bool, error)
	HasAny(ctx context.Context, userID string) (bool, error)
}

// AuditLogs reads the audit trail. audit/repository.Repository implements it.
type AuditLogs interface {
	List(ctx context.Context, action string, limit, offset int32) ([]*auditdomain.AuditLog, error)
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// Deps holds the collaborators of a Service. AuditLogs is optional; the rest are required.
type Deps struct {
	Catalog     Catalog
	Platform    Platform
	Provisioner Provisioner
	Minter      Minter
	Users       Users
	Courses     Courses
	Enrollments Enrollments
	AuditLogs   AuditLogs
	Policy      engine.Evaluator
	Logger      logrus.FieldLogger
}

// Service implements the bridge operations.
type Service struct {
	Deps
	log logrus.FieldLogger
}

// NewService returns a Service over deps.
func NewService(deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{Deps: deps, log: log.WithField("component", "bridge")}
}

func (s *Service) authorize(ctx context.Context, in engine.Input) error {
	d, err := s.Policy.Authorize(ctx, in)
	if err != nil {
		s.log.WithError(err).WithField("operation", in.Operation).Error("policy evaluation failed")
		return fmt.Errorf("%w: policy unavailable", ErrPermissionDenied)
	}
	if !d.Allow {
		s.log.WithFields(logrus.Fields{
			"operation": in.Operation,
			"caller":    in.Caller.ID,
			"subject":   in.Subject,
			"reason":    d.Reason,
		}).Info("request denied")
		return fmt.Errorf("%w: %s", ErrPermissionDenied, d.Reason)
	}
	return nil
}

// SyncCategories runs a category pass. Admin only.
func (s *Service) SyncCategories(ctx context.Context, caller engine.Caller) (*catalogdomain.SyncResult, error) {
	if err := s.authorize(ctx, engine.Input{Operation: engine.OpSyncCategories, Caller: caller}); err != nil {
		return nil, err
	}
	return s.Catalog.SyncCategories(ctx)
}

// SyncCourses runs a course pass. Admin only.
func (s *Service) SyncCourses(ctx context.Context, caller engine.Caller) (*catalogdomain.SyncResult, error) {
	if err := s.authorize(ctx, engine.Input{Operation: engine.OpSyncCourses, Caller: caller}); err != nil {
		return nil, err
	}
	return s.Catalog.SyncCourses(ctx)
}

// FullSync runs categories then courses. Admin only.
func (s *Service) FullSync(ctx context.Context, caller engine.Caller) (*catalogdomain.FullSyncResult, error) {
	if err := s.authorize(ctx, engine.Input{Operation: engine.OpFullSync, Caller: caller}); err != nil {
		return nil, err
	}
	return s.Catalog.FullSync(ctx)
}

// TestConnection reports whether the external platform answers with the configured token. Admin only.
func (s *Service) TestConnection(ctx context.Context, caller engine.Caller) (bool, error) {
	if err := s.authorize(ctx, engine.Input{Operation: engine.OpTestConnection, Caller: caller}); err != nil {
		return false, err
	}
	return s.Platform.TestConnection(ctx)
}

// SiteInfo returns the external platform's self-description. Admin only.
func (s *Service) SiteInfo(ctx context.Context, caller engine.Caller) (*lms.SiteInfo, error) {
	if err := s.authorize(ctx, engine.Input{Operation: engine.OpSiteInfo, Caller: caller}); err != nil {
		return nil, err
	}
	return s.Platform.GetSiteInfo(ctx)
}

// Provision ensures userID has an external identity. Users may provision themselves once they
// hold an enrollment; admins may provision anyone.
func (s *Service) Provision(ctx context.Context, caller engine.Caller, userID string) (*userdomain.ExternalIdentity, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	in, err := s.enrollmentInput(ctx, engine.OpProvision, caller, userID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, in); err != nil {
		return nil, err
	}
	return s.Provisioner.Provision(ctx, userID)
}

// MintSSOURL provisions the caller if needed and returns a login URL. Self only, and the caller
// must hold an enrollment unless they are an admin.
func (s *Service) MintSSOURL(ctx context.Context, caller engine.Caller, userID, redirect string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	in, err := s.enrollmentInput(ctx, engine.OpMintSSOURL, caller, userID)
	if err != nil {
		return "", err
	}
	if err := s.authorize(ctx, in); err != nil {
		return "", err
	}
	return s.mint(ctx, userID, redirect)
}

// enrollmentInput builds the policy input for operations gated on holding any enrollment. The
// lookup only runs for self requests; the policy denies every other non-admin caller anyway.
func (s *Service) enrollmentInput(ctx context.Context, op string, caller engine.Caller, userID string) (engine.Input, error) {
	in := engine.Input{Operation: op, Caller: caller, Subject: userID}
	if caller.ID != userID {
		return in, nil
	}
	enrolled, err := s.Enrollments.HasAny(ctx, userID)
	if err != nil {
		return in, fmt.Errorf("bridge: check enrollments: %w", err)
	}
	in.Enrolled = enrolled
	return in, nil
}

// CourseAccessURL returns a login URL that lands on the course page. The caller must be the user
// and enrolled in the course; admins need no enrollment.
func (s *Service) CourseAccessURL(ctx context.Context, caller engine.Caller, userID, courseSlug string) (string, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(courseSlug) == "" {
		return "", fmt.Errorf("%w: user id and course slug are required", ErrInvalidArgument)
	}
	if caller.ID != userID {
		// Decided before any lookup so the answer does not reveal whether the course exists.
		if err := s.authorize(ctx, engine.Input{Operation: engine.OpCourseAccessURL, Caller: caller, Subject: userID}); err != nil {
			return "", err
		}
	}
	course, err := s.Courses.GetCourseBySlug(ctx, courseSlug)
	if err != nil {
		return "", fmt.Errorf("bridge: load course: %w", err)
	}
	if course == nil {
		return "", fmt.Errorf("%w: course %q", ErrNotFound, courseSlug)
	}
	enrolled, err := s.Enrollments.Exists(ctx, userID, course.ID)
	if err != nil {
		return "", fmt.Errorf("bridge: check enrollment: %w", err)
	}
	in := engine.Input{Operation: engine.OpCourseAccessURL, Caller: caller, Subject: userID, Enrolled: enrolled}
	if err := s.authorize(ctx, in); err != nil {
		return "", err
	}
	return s.mint(ctx, userID, lms.CourseURL(course.ExternalCourseID))
}

// ListAuditLogs returns audit entries newest first, optionally filtered by action. Admin only.
// limit defaults to 50 and is capped at 500.
func (s *Service) ListAuditLogs(ctx context.Context, caller engine.Caller, action string, limit, offset int32) ([]*auditdomain.AuditLog, error) {
	if err := s.authorize(ctx, engine.Input{Operation: engine.OpListAuditLogs, Caller: caller}); err != nil {
		return nil, err
	}
	if s.AuditLogs == nil {
		return nil, nil
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", ErrInvalidArgument)
	}
	switch {
	case limit <= 0:
		limit = defaultAuditLimit
	case limit > maxAuditLimit:
		limit = maxAuditLimit
	}
	return s.AuditLogs.List(ctx, strings.TrimSpace(action), limit, offset)
}

func (s *Service) mint(ctx context.Context, userID, redirect string) (string, error) {
	u, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("bridge: load user: %w", err)
	}
	if u == nil {
		return "", fmt.Errorf("%w: user %q", ErrNotFound, userID)
	}
	if !u.Provisioned() {
		ident, err := s.Provisioner.Provision(ctx, userID)
		if err != nil {
			return "", err
		}
		u.ExternalIdentity = ident
	}
	return s.Minter.Mint(ctx, u, redirect)
}
