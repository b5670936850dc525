// Package service provisions shadow accounts on the external platform for local users.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"lms-bridge/internal/audit"
	auditdomain "lms-bridge/internal/audit/domain"
	"lms-bridge/internal/lms"
	"lms-bridge/internal/metrics"
	"lms-bridge/internal/security"
	"lms-bridge/internal/telemetry"
	teldomain "lms-bridge/internal/telemetry/domain"
	"lms-bridge/internal/user/domain"
	"lms-bridge/internal/user/repository"
)

const (
	maxUsernameLen = 100
	hashLen        = 8
	eventSource    = "identity"

	defaultPasswordPrefix = "Lms#"
	defaultPasswordSuffix = "!2024"
)

var (
	// ErrUserNotFound is returned when the local user does not exist.
	ErrUserNotFound = errors.New("identity: user not found")
	// ErrEmailConflict is returned when both the user's email and its synthesized alternative are
	// registered externally to accounts that are not ours.
	ErrEmailConflict = errors.New("identity: external email taken by another account")
	// ErrSecretStoreSealed is returned by RecoverPassword when no age identity is configured.
	ErrSecretStoreSealed = security.ErrSecretStoreSealed
)

var tracer = otel.Tracer("lms-bridge/identity")

// Directory is the external account API. *lms.Client implements it.
type Directory interface {
	FindUserByEmail(ctx context.Context, email string) (*lms.User, error)
	CreateUser(ctx context.Context, p lms.UserProfile) (*lms.User, error)
}

// Sealer protects the external password at rest. *security.Sealer implements it.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Options configures a Provisioner.
type Options struct {
	// PasswordPrefix and PasswordSuffix wrap the email local part (defaults Lms# and !2024).
	PasswordPrefix string
	PasswordSuffix string
	// AuthMethod is set on created accounts; empty leaves the platform default.
	AuthMethod string
	Logger     logrus.FieldLogger
	Metrics    *metrics.Metrics
	Audit      audit.AuditLogger
	Events     telemetry.EventEmitter
}

// Provisioner creates each user's external account at most once and records the link.
type Provisioner struct {
	users   repository.Repository
	dir     Directory
	sealer  Sealer
	prefix  string
	suffix  string
	auth    string
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	audit   audit.AuditLogger
	events  telemetry.EventEmitter
	group   singleflight.Group
}

// NewProvisioner returns a Provisioner over the given user store, external directory and sealer.
func NewProvisioner(users repository.Repository, dir Directory, sealer Sealer, opts Options) *Provisioner {
	p := &Provisioner{
		users:   users,
		dir:     dir,
		sealer:  sealer,
		prefix:  opts.PasswordPrefix,
		suffix:  opts.PasswordSuffix,
		auth:    opts.AuthMethod,
		log:     opts.Logger,
		metrics: opts.Metrics,
		audit:   opts.Audit,
		events:  opts.Events,
	}
	if p.prefix == "" && p.suffix == "" {
		p.prefix, p.suffix = defaultPasswordPrefix, defaultPasswordSuffix
	}
	if p.log == nil {
		p.log = logrus.StandardLogger()
	}
	p.log = p.log.WithField("component", "identity")
	return p
}

// DeriveUsername is the one username policy: the sanitized email local part, a dot, and the first
// eight hex digits of sha256(user id). At most 100 characters from [a-z0-9._-].
func DeriveUsername(u *domain.User) string {
	suffix := "." + userHash(u.ID)
	base := sanitizeUsername(u.LocalPart())
	if base == "" {
		base = "user"
	}
	if limit := maxUsernameLen - len(suffix); len(base) > limit {
		base = strings.TrimRight(base[:limit], "._-")
	}
	return base + suffix
}

// DerivePassword returns prefix + local part + suffix. Reproducible, and therefore predictable
// by anyone who knows the affixes.
func (p *Provisioner) DerivePassword(u *domain.User) string {
	return p.prefix + u.LocalPart() + p.suffix
}

// SyntheticEmail returns the alternative address used when the user's own email is registered
// externally to someone else: local+<hash8>@domain.
func SyntheticEmail(u *domain.User) string {
	local, dom := domain.SplitEmail(u.Email)
	return local + "+" + userHash(u.ID) + "@" + dom
}

func userHash(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:hashLen]
}

func sanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		case r == '+' || r == ' ':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "._-")
}

// Provision ensures the user has an external account and returns the stored identity. An already
// provisioned user costs no external calls. Concurrent calls for one user share a single attempt
// in-process and serialize on an advisory lock across processes.
func (p *Provisioner) Provision(ctx context.Context, userID string) (*domain.ExternalIdentity, error) {
	u, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("identity: load user: %w", err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	if u.Provisioned() {
		p.metrics.IncProvision("existing")
		return u.ExternalIdentity, nil
	}
	v, err, _ := p.group.Do(userID, func() (any, error) {
		return p.provisionLocked(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.ExternalIdentity), nil
}

func (p *Provisioner) provisionLocked(ctx context.Context, userID string) (ident *domain.ExternalIdentity, err error) {
	ctx, span := tracer.Start(ctx, "identity.Provision")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))
	log := p.log.WithField("user_id", userID)

	outcome := "failed"
	defer func() {
		p.metrics.IncProvision(outcome)
		span.SetAttributes(attribute.String("identity.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "provision")
			log.WithError(err).Warn("provisioning failed")
		}
	}()

	release, err := p.users.LockProvisioning(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("identity: lock: %w", err)
	}
	defer release()

	u, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("identity: load user: %w", err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	if u.Provisioned() {
		outcome = "existing"
		return u.ExternalIdentity, nil
	}

	username := DeriveUsername(u)
	password := p.DerivePassword(u)
	email, existing, err := p.resolveEmail(ctx, u, username)
	if err != nil {
		return nil, err
	}

	var externalID int64
	action, eventType := auditdomain.ActionIdentityProvisioned, teldomain.EventIdentityProvision
	if existing != nil {
		externalID = int64(existing.ID)
		outcome = "adopted"
		action, eventType = auditdomain.ActionIdentityAdopted, teldomain.EventIdentityAdopted
	} else {
		created, err := p.dir.CreateUser(ctx, lms.UserProfile{
			Username:  username,
			Password:  password,
			FirstName: u.ExternalFirstName(),
			LastName:  u.ExternalLastName(),
			Email:     email,
			Auth:      p.auth,
		})
		if err != nil {
			return nil, fmt.Errorf("identity: create external account: %w", err)
		}
		externalID = int64(created.ID)
		outcome = "created"
	}

	sealed, err := p.sealer.Seal(password)
	if err != nil {
		return nil, fmt.Errorf("identity: seal password: %w", err)
	}
	ident = &domain.ExternalIdentity{UserID: externalID, Username: username, PasswordSealed: sealed, Email: email}
	ok, err := p.users.SetExternalIdentity(ctx, userID, ident)
	if err != nil {
		return nil, fmt.Errorf("identity: store external identity: %w", err)
	}
	if !ok {
		stored, err := p.users.GetByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("identity: reload user: %w", err)
		}
		if !stored.Provisioned() {
			return nil, ErrUserNotFound
		}
		outcome = "lost_race"
		return stored.ExternalIdentity, nil
	}

	meta := map[string]any{
		"external_user_id": externalID,
		"username":         username,
		"email":            email,
	}
	log.WithFields(logrus.Fields{"external_user_id": externalID, "username": username, "outcome": outcome}).
		Info("external identity provisioned")
	if p.audit != nil {
		p.audit.LogEvent(ctx, userID, action, "identity", meta)
	}
	telemetry.EmitAsync(p.events, teldomain.NewEvent(eventType, eventSource, userID, meta))
	return ident, nil
}

// resolveEmail picks the email for the external account. existing is non-nil when an account
// with our derived username already holds the address, left by an earlier interrupted attempt.
func (p *Provisioner) resolveEmail(ctx context.Context, u *domain.User, username string) (email string, existing *lms.User, err error) {
	for _, candidate := range []string{u.Email, SyntheticEmail(u)} {
		found, err := p.dir.FindUserByEmail(ctx, candidate)
		if err != nil {
			return "", nil, fmt.Errorf("identity: look up external email: %w", err)
		}
		if found == nil {
			return candidate, nil, nil
		}
		if strings.EqualFold(found.Username, username) {
			return candidate, found, nil
		}
		p.log.WithFields(logrus.Fields{"user_id": u.ID, "external_user_id": int64(found.ID)}).
			Info("external email registered to another account")
	}
	return "", nil, ErrEmailConflict
}

// RecoverPassword opens the stored external password. Diagnostic tooling only; it fails with
// ErrSecretStoreSealed unless the sealer holds the age identity.
func (p *Provisioner) RecoverPassword(ctx context.Context, userID string) (string, error) {
	u, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("identity: load user: %w", err)
	}
	if u == nil || !u.Provisioned() {
		return "", ErrUserNotFound
	}
	plain, err := p.sealer.Open(u.ExternalIdentity.PasswordSealed)
	if err != nil {
		if errors.Is(err, security.ErrSecretStoreSealed) {
			return "", ErrSecretStoreSealed
		}
		return "", fmt.Errorf("identity: open password: %w", err)
	}
	p.log.WithField("user_id", userID).Warn("external password recovered")
	return plain, nil
}
