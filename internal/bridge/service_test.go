package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"

	auditdomain "lms-bridge/internal/audit/domain"
	catalogdomain "lms-bridge/internal/catalog/domain"
	"lms-bridge/internal/lms"
	"lms-bridge/internal/policy/engine"
	userdomain "lms-bridge/internal/user/domain"
)

type fakeCatalog struct{ calls []string }

func (f *fakeCatalog) SyncCategories(context.Context) (*catalogdomain.SyncResult, error) {
	f.calls = append(f.calls, "categories")
	return &catalogdomain.SyncResult{Kind: catalogdomain.SyncKindCategories}, nil
}

func (f *fakeCatalog) SyncCourses(context.Context) (*catalogdomain.SyncResult, error) {
	f.calls = append(f.calls, "courses")
	return &catalogdomain.SyncResult{Kind: catalogdomain.SyncKindCourses}, nil
}

func (f *fakeCatalog) FullSync(context.Context) (*catalogdomain.FullSyncResult, error) {
	f.calls = append(f.calls, "full")
	return &catalogdomain.FullSyncResult{}, nil
}

type fakePlatform struct{}

func (fakePlatform) TestConnection(context.Context) (bool, error) { return true, nil }

func (fakePlatform) GetSiteInfo(context.Context) (*lms.SiteInfo, error) {
	return &lms.SiteInfo{SiteName: "Academy"}, nil
}

type fakeProvisioner struct {
	users *fakeUsers
	calls int
}

func (f *fakeProvisioner) Provision(_ context.Context, userID string) (*userdomain.ExternalIdentity, error) {
	f.calls++
	u := f.users.byID[userID]
	if u == nil {
		return nil, errors.New("no user")
	}
	if u.ExternalIdentity == nil {
		u.ExternalIdentity = &userdomain.ExternalIdentity{UserID: 500, Username: userID + ".ext", PasswordSealed: "s"}
	}
	return u.ExternalIdentity, nil
}

type fakeMinter struct{ redirect string }

func (f *fakeMinter) Mint(_ context.Context, u *userdomain.User, redirect string) (string, error) {
	if !u.Provisioned() {
		return "", errors.New("not provisioned")
	}
	f.redirect = redirect
	return "https://lms.example.com/auth/jwt/login.php?token=t-" + u.ExternalIdentity.Username, nil
}

type fakeUsers struct{ byID map[string]*userdomain.User }

func (f *fakeUsers) GetByID(_ context.Context, id string) (*userdomain.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

type fakeCourses struct{}

func (fakeCourses) GetCourseBySlug(_ context.Context, slug string) (*catalogdomain.Course, error) {
	if slug != "intro" {
		return nil, nil
	}
	return &catalogdomain.Course{ID: "c-intro", Slug: "intro", ExternalCourseID: 42}, nil
}

type fakeEnrollments struct{ pairs map[string]bool }

func (f fakeEnrollments) Exists(_ context.Context, userID, courseID string) (bool, error) {
	return f.pairs[userID+"/"+courseID], nil
}

func (f fakeEnrollments) HasAny(_ context.Context, userID string) (bool, error) {
	for pair, ok := range f.pairs {
		if ok && strings.HasPrefix(pair, userID+"/") {
			return true, nil
		}
	}
	return false, nil
}

type fakeAuditLogs struct {
	action        string
	limit, offset int32
}

func (f *fakeAuditLogs) List(_ context.Context, action string, limit, offset int32) ([]*auditdomain.AuditLog, error) {
	f.action, f.limit, f.offset = action, limit, offset
	return []*auditdomain.AuditLog{{ID: "a-1", Action: action}}, nil
}

type fixture struct {
	svc         *Service
	catalog     *fakeCatalog
	provisioner *fakeProvisioner
	minter      *fakeMinter
	audit       *fakeAuditLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	policy, err := engine.NewOPAEvaluator(context.Background(), "")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	users := &fakeUsers{byID: map[string]*userdomain.User{
		"u-jane":  {ID: "u-jane", Email: "jane@example.com", Role: userdomain.RoleUser},
		"u-bob":   {ID: "u-bob", Email: "bob@example.com", Role: userdomain.RoleUser},
		"u-carol": {ID: "u-carol", Email: "carol@example.com", Role: userdomain.RoleUser},
		"admin-1": {ID: "admin-1", Email: "admin@example.com", Role: userdomain.RoleAdmin},
	}}
	f := &fixture{
		catalog:     &fakeCatalog{},
		provisioner: &fakeProvisioner{users: users},
		minter:      &fakeMinter{},
		audit:       &fakeAuditLogs{},
	}
	f.svc = NewService(Deps{
		Catalog:     f.catalog,
		Platform:    fakePlatform{},
		Provisioner: f.provisioner,
		Minter:      f.minter,
		Users:       users,
		Courses:     fakeCourses{},
		Enrollments: fakeEnrollments{pairs: map[string]bool{"u-jane/c-intro": true, "u-bob/c-other": true, "ghost/c-other": true}},
		AuditLogs:   f.audit,
		Policy:      policy,
	})
	return f
}

var (
	admin = engine.Caller{ID: "admin-1", Role: "admin"}
	jane  = engine.Caller{ID: "u-jane", Role: "user"}
	bob   = engine.Caller{ID: "u-bob", Role: "user"}
)

func TestService_AdminOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.FullSync(ctx, jane); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("FullSync as user: err = %v, want ErrPermissionDenied", err)
	}
	if len(f.catalog.calls) != 0 {
		t.Fatalf("catalog called on denied request: %v", f.catalog.calls)
	}
	if _, err := f.svc.SyncCategories(ctx, admin); err != nil {
		t.Fatalf("SyncCategories: %v", err)
	}
	if _, err := f.svc.SyncCourses(ctx, admin); err != nil {
		t.Fatalf("SyncCourses: %v", err)
	}
	if _, err := f.svc.FullSync(ctx, admin); err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	if got := strings.Join(f.catalog.calls, ","); got != "categories,courses,full" {
		t.Errorf("catalog calls = %s", got)
	}
	if ok, err := f.svc.TestConnection(ctx, admin); err != nil || !ok {
		t.Errorf("TestConnection = %v, %v", ok, err)
	}
	if info, err := f.svc.SiteInfo(ctx, admin); err != nil || info.SiteName != "Academy" {
		t.Errorf("SiteInfo = %+v, %v", info, err)
	}
	if _, err := f.svc.SiteInfo(ctx, bob); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("SiteInfo as user: err = %v", err)
	}
}

func TestService_Provision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Provision(ctx, bob, "u-jane"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Provision other as user: err = %v", err)
	}
	ident, err := f.svc.Provision(ctx, jane, "u-jane")
	if err != nil {
		t.Fatalf("Provision self: %v", err)
	}
	if ident.Username != "u-jane.ext" {
		t.Errorf("identity = %+v", ident)
	}
	if _, err := f.svc.Provision(ctx, admin, "u-bob"); err != nil {
		t.Errorf("Provision as admin: %v", err)
	}
	if _, err := f.svc.Provision(ctx, jane, " "); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Provision empty id: err = %v", err)
	}
}

func TestService_MintSSOURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.MintSSOURL(ctx, admin, "u-jane", ""); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("MintSSOURL for other: err = %v", err)
	}
	got, err := f.svc.MintSSOURL(ctx, jane, "u-jane", "/my/")
	if err != nil {
		t.Fatalf("MintSSOURL: %v", err)
	}
	if !strings.HasSuffix(got, "token=t-u-jane.ext") || f.minter.redirect != "/my/" {
		t.Errorf("url = %s redirect = %q", got, f.minter.redirect)
	}
	if f.provisioner.calls != 1 {
		t.Errorf("provision calls = %d, want 1", f.provisioner.calls)
	}
	if _, err := f.svc.MintSSOURL(ctx, jane, "u-jane", ""); err != nil {
		t.Fatalf("second MintSSOURL: %v", err)
	}
	if f.provisioner.calls != 1 {
		t.Errorf("provision calls after second mint = %d, want 1", f.provisioner.calls)
	}
}

func TestService_EnrollmentRequiredToProvision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carol := engine.Caller{ID: "u-carol", Role: "user"}

	if _, err := f.svc.Provision(ctx, carol, "u-carol"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Provision without enrollment: err = %v, want ErrPermissionDenied", err)
	}
	if _, err := f.svc.MintSSOURL(ctx, carol, "u-carol", ""); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("MintSSOURL without enrollment: err = %v, want ErrPermissionDenied", err)
	}
	if f.provisioner.calls != 0 {
		t.Errorf("provision calls = %d, want 0", f.provisioner.calls)
	}
	if _, err := f.svc.Provision(ctx, admin, "u-carol"); err != nil {
		t.Errorf("admin Provision of unenrolled user: %v", err)
	}
	if _, err := f.svc.MintSSOURL(ctx, admin, "admin-1", ""); err != nil {
		t.Errorf("admin self MintSSOURL: %v", err)
	}
}

func TestService_MintSSOURL_UnknownUser(t *testing.T) {
	f := newFixture(t)
	ghost := engine.Caller{ID: "ghost", Role: "user"}
	if _, err := f.svc.MintSSOURL(context.Background(), ghost, "ghost", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestService_CourseAccessURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CourseAccessURL(ctx, jane, "u-jane", "intro"); err != nil {
		t.Fatalf("CourseAccessURL enrolled: %v", err)
	}
	if f.minter.redirect != "/course/view.php?id=42" {
		t.Errorf("redirect = %q", f.minter.redirect)
	}
	if _, err := f.svc.CourseAccessURL(ctx, bob, "u-bob", "intro"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("not enrolled: err = %v, want ErrPermissionDenied", err)
	}
	if _, err := f.svc.CourseAccessURL(ctx, bob, "u-jane", "intro"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("other user: err = %v, want ErrPermissionDenied", err)
	}
	if _, err := f.svc.CourseAccessURL(ctx, bob, "u-jane", "missing"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("other user, missing course: err = %v, want ErrPermissionDenied", err)
	}
	if _, err := f.svc.CourseAccessURL(ctx, admin, "admin-1", "intro"); err != nil {
		t.Errorf("admin without enrollment: %v", err)
	}
	if _, err := f.svc.CourseAccessURL(ctx, jane, "u-jane", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing course: err = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.CourseAccessURL(ctx, jane, "u-jane", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty slug: err = %v, want ErrInvalidArgument", err)
	}
}

func TestService_ListAuditLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ListAuditLogs(ctx, jane, "", 0, 0); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("as user: err = %v, want ErrPermissionDenied", err)
	}
	entries, err := f.svc.ListAuditLogs(ctx, admin, " sso_minted ", 0, 10)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if len(entries) != 1 || f.audit.action != "sso_minted" || f.audit.limit != 50 || f.audit.offset != 10 {
		t.Errorf("entries = %d, list args = %+v", len(entries), f.audit)
	}
	if _, err := f.svc.ListAuditLogs(ctx, admin, "", 10000, 0); err != nil || f.audit.limit != 500 {
		t.Errorf("limit = %d, err = %v", f.audit.limit, err)
	}
	if _, err := f.svc.ListAuditLogs(ctx, admin, "", 10, -1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("negative offset: err = %v", err)
	}
}
