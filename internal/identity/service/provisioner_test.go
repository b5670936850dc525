package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"filippo.io/age"

	"lms-bridge/internal/lms"
	"lms-bridge/internal/security"
	"lms-bridge/internal/sso"
	"lms-bridge/internal/user/domain"
)

// memUsers is an in-memory user repository with per-user locks standing in for advisory locks.
type memUsers struct {
	mu        sync.Mutex
	users     map[string]*domain.User
	locks     map[string]*sync.Mutex
	beforeSet func(userID string)
}

func newMemUsers(users ...*domain.User) *memUsers {
	r := &memUsers{users: map[string]*domain.User{}, locks: map[string]*sync.Mutex{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	if u.ExternalIdentity != nil {
		ident := *u.ExternalIdentity
		cp.ExternalIdentity = &ident
	}
	return &cp, nil
}

func (r *memUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memUsers) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
	return nil
}

func (r *memUsers) SetExternalIdentity(_ context.Context, userID string, ident *domain.ExternalIdentity) (bool, error) {
	if r.beforeSet != nil {
		r.beforeSet(userID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok || u.ExternalIdentity != nil {
		return false, nil
	}
	cp := *ident
	u.ExternalIdentity = &cp
	return true, nil
}

func (r *memUsers) LockProvisioning(_ context.Context, userID string) (func(), error) {
	r.mu.Lock()
	l, ok := r.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[userID] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock, nil
}

// fakeDirectory is an in-memory external account registry keyed by lower-cased email.
type fakeDirectory struct {
	mu        sync.Mutex
	byEmail   map[string]*lms.User
	nextID    int64
	creates   atomic.Int32
	lookups   atomic.Int32
	createErr error
	last      lms.UserProfile
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{byEmail: map[string]*lms.User{}, nextID: 100}
}

func (d *fakeDirectory) FindUserByEmail(_ context.Context, email string) (*lms.User, error) {
	d.lookups.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.byEmail[strings.ToLower(email)]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (d *fakeDirectory) CreateUser(_ context.Context, p lms.UserProfile) (*lms.User, error) {
	d.creates.Add(1)
	if d.createErr != nil {
		return nil, d.createErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	u := &lms.User{ID: lms.Int(d.nextID), Username: p.Username, Email: p.Email, FirstName: p.FirstName, LastName: p.LastName}
	d.byEmail[strings.ToLower(p.Email)] = u
	d.last = p
	return u, nil
}

func (d *fakeDirectory) add(id int64, username, email string) {
	d.byEmail[strings.ToLower(email)] = &lms.User{ID: lms.Int(id), Username: username, Email: email}
}

type fakeSealer struct{ canOpen bool }

func (s fakeSealer) Seal(p string) (string, error) { return "sealed:" + p, nil }

func (s fakeSealer) Open(v string) (string, error) {
	if !s.canOpen {
		return "", security.ErrSecretStoreSealed
	}
	return strings.TrimPrefix(v, "sealed:"), nil
}

func jane() *domain.User {
	return &domain.User{ID: "u-jane", Email: "jane.doe@example.com", Role: domain.RoleUser, FirstName: "Jane", LastName: "Doe"}
}

func hash8(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:8]
}

func TestDeriveUsername(t *testing.T) {
	testCases := []struct {
		name  string
		user  *domain.User
		want  string
		check func(t *testing.T, got string)
	}{
		{name: "plain", user: jane(), want: "jane.doe." + hash8("u-jane")},
		{name: "plus and unicode", user: &domain.User{ID: "u-2", Email: "Jöhn+Tag@example.com"}, want: "jhn-tag." + hash8("u-2")},
		{name: "nothing usable", user: &domain.User{ID: "u-3", Email: "!!!@example.com"}, want: "user." + hash8("u-3")},
		{name: "long", user: &domain.User{ID: "u-4", Email: strings.Repeat("a", 150) + "@example.com"}, check: func(t *testing.T, got string) {
			if len(got) != 100 || !strings.HasSuffix(got, "."+hash8("u-4")) {
				t.Errorf("len = %d, got %q", len(got), got)
			}
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveUsername(tc.user)
			if tc.check != nil {
				tc.check(t, got)
				return
			}
			if got != tc.want {
				t.Errorf("DeriveUsername = %q, want %q", got, tc.want)
			}
			if got != DeriveUsername(tc.user) {
				t.Error("DeriveUsername is not deterministic")
			}
		})
	}
}

func TestDerivePassword(t *testing.T) {
	p := NewProvisioner(newMemUsers(), newFakeDirectory(), fakeSealer{}, Options{})
	if got := p.DerivePassword(jane()); got != "Lms#jane.doe!2024" {
		t.Errorf("DerivePassword = %q", got)
	}
	p = NewProvisioner(newMemUsers(), newFakeDirectory(), fakeSealer{}, Options{PasswordPrefix: "X-", PasswordSuffix: "-9"})
	if got := p.DerivePassword(jane()); got != "X-jane.doe-9" {
		t.Errorf("DerivePassword = %q", got)
	}
}

func TestProvision_CreatesAndStores(t *testing.T) {
	users, dir := newMemUsers(jane()), newFakeDirectory()
	p := NewProvisioner(users, dir, fakeSealer{}, Options{AuthMethod: "manual"})

	ident, err := p.Provision(context.Background(), "u-jane")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if dir.creates.Load() != 1 {
		t.Fatalf("creates = %d, want 1", dir.creates.Load())
	}
	if ident.UserID != 101 || ident.Username != DeriveUsername(jane()) {
		t.Errorf("identity = %+v", ident)
	}
	if ident.PasswordSealed != "sealed:Lms#jane.doe!2024" {
		t.Errorf("PasswordSealed = %q", ident.PasswordSealed)
	}
	if dir.last.Email != "jane.doe@example.com" || dir.last.Auth != "manual" || dir.last.Password != "Lms#jane.doe!2024" {
		t.Errorf("create profile = %+v", dir.last)
	}
	if ident.Email != "jane.doe@example.com" {
		t.Errorf("Email = %q", ident.Email)
	}
	stored, _ := users.GetByID(context.Background(), "u-jane")
	if !stored.Provisioned() || stored.ExternalIdentity.UserID != 101 {
		t.Errorf("stored = %+v", stored.ExternalIdentity)
	}
}

func TestProvision_AlreadyProvisionedMakesNoExternalCalls(t *testing.T) {
	u := jane()
	u.ExternalIdentity = &domain.ExternalIdentity{UserID: 7, Username: "jane.doe.x", PasswordSealed: "s"}
	dir := newFakeDirectory()
	p := NewProvisioner(newMemUsers(u), dir, fakeSealer{}, Options{})

	ident, err := p.Provision(context.Background(), "u-jane")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if ident.UserID != 7 {
		t.Errorf("UserID = %d, want 7", ident.UserID)
	}
	if dir.creates.Load() != 0 || dir.lookups.Load() != 0 {
		t.Errorf("external calls: creates=%d lookups=%d", dir.creates.Load(), dir.lookups.Load())
	}
}

func TestProvision_ConcurrentCallsCreateOnce(t *testing.T) {
	users, dir := newMemUsers(jane()), newFakeDirectory()
	// Two provisioners over one store stand in for two processes.
	a := NewProvisioner(users, dir, fakeSealer{}, Options{})
	b := NewProvisioner(users, dir, fakeSealer{}, Options{})

	const n = 20
	var wg sync.WaitGroup
	ids := make([]int64, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := a
			if i%2 == 1 {
				p = b
			}
			ident, err := p.Provision(context.Background(), "u-jane")
			errs[i] = err
			if ident != nil {
				ids[i] = ident.UserID
			}
		}(i)
	}
	wg.Wait()

	if dir.creates.Load() != 1 {
		t.Fatalf("creates = %d, want 1", dir.creates.Load())
	}
	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("call %d saw external id %d, want %d", i, ids[i], ids[0])
		}
	}
}

func TestProvision_CreateFailureChangesNothing(t *testing.T) {
	users, dir := newMemUsers(jane()), newFakeDirectory()
	dir.createErr = &lms.Error{Kind: lms.KindConnectivity, Function: lms.FuncCreateUsers, Message: "timeout"}
	p := NewProvisioner(users, dir, fakeSealer{}, Options{})

	_, err := p.Provision(context.Background(), "u-jane")
	if !lms.IsConnectivity(err) {
		t.Fatalf("Provision err = %v, want connectivity", err)
	}
	stored, _ := users.GetByID(context.Background(), "u-jane")
	if stored.Provisioned() {
		t.Error("identity stored after failed create")
	}
}

func TestProvision_EmailTakenSynthesizesAlternative(t *testing.T) {
	users, dir := newMemUsers(jane()), newFakeDirectory()
	dir.add(5, "someone.else", "jane.doe@example.com")
	p := NewProvisioner(users, dir, fakeSealer{}, Options{})

	if _, err := p.Provision(context.Background(), "u-jane"); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	want := "jane.doe+" + hash8("u-jane") + "@example.com"
	if dir.last.Email != want {
		t.Errorf("created with email %q, want %q", dir.last.Email, want)
	}
	stored, _ := users.GetByID(context.Background(), "u-jane")
	if stored.ExternalIdentity.Email != want || stored.ExternalEmail() != want {
		t.Errorf("stored external email = %q, want %q", stored.ExternalIdentity.Email, want)
	}
}

func TestProvision_AdoptsOwnAccount(t *testing.T) {
	users, dir := newMemUsers(jane()), newFakeDirectory()
	dir.add(55, DeriveUsername(jane()), "jane.doe@example.com")
	p := NewProvisioner(users, dir, fakeSealer{}, Options{})

	ident, err := p.Provision(context.Background(), "u-jane")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if dir.creates.Load() != 0 {
		t.Errorf("creates = %d, want 0", dir.creates.Load())
	}
	if ident.UserID != 55 || ident.PasswordSealed != "sealed:Lms#jane.doe!2024" {
		t.Errorf("identity = %+v", ident)
	}
}

func TestProvision_AdoptsOwnAccountUnderSyntheticEmail(t *testing.T) {
	users, dir := newMemUsers(jane()), newFakeDirectory()
	dir.add(5, "someone.else", "jane.doe@example.com")
	dir.add(56, DeriveUsername(jane()), SyntheticEmail(jane()))
	p := NewProvisioner(users, dir, fakeSealer{}, Options{})

	ident, err := p.Provision(context.Background(), "u-jane")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if ident.UserID != 56 || dir.creates.Load() != 0 {
		t.Errorf("identity = %+v, creates = %d", ident, dir.creates.Load())
	}
	if ident.Email != SyntheticEmail(jane()) {
		t.Errorf("Email = %q, want %q", ident.Email, SyntheticEmail(jane()))
	}
}

func TestProvision_EmailConflict(t *testing.T) {
	users, dir := newMemUsers(jane()), newFakeDirectory()
	dir.add(5, "someone.else", "jane.doe@example.com")
	dir.add(6, "another", SyntheticEmail(jane()))
	p := NewProvisioner(users, dir, fakeSealer{}, Options{})

	if _, err := p.Provision(context.Background(), "u-jane"); !errors.Is(err, ErrEmailConflict) {
		t.Fatalf("Provision err = %v, want ErrEmailConflict", err)
	}
	if dir.creates.Load() != 0 {
		t.Errorf("creates = %d, want 0", dir.creates.Load())
	}
}

func TestProvision_LostConditionalWriteReturnsWinner(t *testing.T) {
	users, dir := newMemUsers(jane()), newFakeDirectory()
	users.beforeSet = func(userID string) {
		users.mu.Lock()
		users.users[userID].ExternalIdentity = &domain.ExternalIdentity{UserID: 999, Username: "winner", PasswordSealed: "w"}
		users.mu.Unlock()
	}
	p := NewProvisioner(users, dir, fakeSealer{}, Options{})

	ident, err := p.Provision(context.Background(), "u-jane")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if ident.UserID != 999 {
		t.Errorf("UserID = %d, want the stored winner 999", ident.UserID)
	}
}

func TestProvision_UnknownUser(t *testing.T) {
	p := NewProvisioner(newMemUsers(), newFakeDirectory(), fakeSealer{}, Options{})
	if _, err := p.Provision(context.Background(), "nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
}

func TestRecoverPassword(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}
	serving, err := security.NewSealer(id.Recipient().String(), "")
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	users, dir := newMemUsers(jane()), newFakeDirectory()
	p := NewProvisioner(users, dir, serving, Options{})
	if _, err := p.Provision(context.Background(), "u-jane"); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	stored, _ := users.GetByID(context.Background(), "u-jane")
	if strings.Contains(stored.ExternalIdentity.PasswordSealed, "jane.doe") {
		t.Fatal("password stored in plaintext")
	}

	if _, err := p.RecoverPassword(context.Background(), "u-jane"); !errors.Is(err, ErrSecretStoreSealed) {
		t.Errorf("RecoverPassword without identity: err = %v, want ErrSecretStoreSealed", err)
	}

	diag, err := security.NewSealer("", id.String())
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	got, err := NewProvisioner(users, dir, diag, Options{}).RecoverPassword(context.Background(), "u-jane")
	if err != nil {
		t.Fatalf("RecoverPassword: %v", err)
	}
	if got != "Lms#jane.doe!2024" {
		t.Errorf("RecoverPassword = %q", got)
	}
}

func TestProvision_BlankNamesUseFallbacks(t *testing.T) {
	u := &domain.User{ID: "u-anon", Email: "anon@example.com", Role: domain.RoleUser}
	users, dir := newMemUsers(u), newFakeDirectory()
	p := NewProvisioner(users, dir, fakeSealer{}, Options{})

	if _, err := p.Provision(context.Background(), "u-anon"); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if dir.last.FirstName != "anon" || dir.last.LastName != domain.DefaultLastName {
		t.Errorf("names = %q %q", dir.last.FirstName, dir.last.LastName)
	}
}

func TestProvisionThenMint_TokenNamesSyntheticAccount(t *testing.T) {
	u := jane()
	u.FirstName, u.LastName = "", ""
	users, dir := newMemUsers(u), newFakeDirectory()
	dir.add(7, "someone.else", "jane.doe@example.com")
	p := NewProvisioner(users, dir, fakeSealer{}, Options{})
	m, err := sso.NewMinter(sso.Options{LoginURL: "https://lms.example.com/auth/jwt/login.php", Secret: "shared"})
	if err != nil {
		t.Fatalf("NewMinter: %v", err)
	}

	ctx := context.Background()
	if _, err := p.Provision(ctx, "u-jane"); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	stored, _ := users.GetByID(ctx, "u-jane")
	raw, err := m.Mint(ctx, stored, "")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	parsed, _ := url.Parse(raw)
	claims, err := m.Signer().Verify(parsed.Query().Get("token"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	created := dir.last
	if claims.Email != created.Email || claims.Email == "jane.doe@example.com" {
		t.Errorf("email claim = %q, account email = %q", claims.Email, created.Email)
	}
	if claims.FirstName != created.FirstName || claims.LastName != created.LastName {
		t.Errorf("name claims = %q %q, account = %q %q", claims.FirstName, claims.LastName, created.FirstName, created.LastName)
	}
	if claims.Username != created.Username {
		t.Errorf("username claim = %q, account = %q", claims.Username, created.Username)
	}
}
