// Package sso builds login URLs that sign a local user straight into the external platform.
package sso

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"lms-bridge/internal/audit"
	auditdomain "lms-bridge/internal/audit/domain"
	"lms-bridge/internal/metrics"
	"lms-bridge/internal/security"
	"lms-bridge/internal/telemetry"
	teldomain "lms-bridge/internal/telemetry/domain"
	"lms-bridge/internal/user/domain"
)

const (
	// MaxTTL bounds the token lifetime. Tokens are not recorded, so expiry is their only limit.
	MaxTTL = time.Hour

	defaultTokenParam    = "token"
	defaultRedirectParam = "wantsurl"
	eventSource          = "sso"
)

var (
	// ErrInvalidRedirect is returned for a redirect target off the external platform.
	ErrInvalidRedirect = errors.New("sso: redirect must be a relative path or a URL on the platform host")
	// ErrNotProvisioned is returned when the user has no external identity yet.
	ErrNotProvisioned = errors.New("sso: user has no external identity")
)

// Options configures a Minter.
type Options struct {
	// LoginURL is the external JWT login endpoint.
	LoginURL string
	// Secret is the HMAC key shared with the external verifier.
	Secret string
	// TTL defaults to MaxTTL and may not exceed it.
	TTL time.Duration
	// TokenParam and RedirectParam name the query parameters (defaults token and wantsurl).
	TokenParam    string
	RedirectParam string
	Logger        logrus.FieldLogger
	Metrics       *metrics.Metrics
	Audit         audit.AuditLogger
	Events        telemetry.EventEmitter
}

// Minter signs short-lived SSO tokens and places them on the login URL.
type Minter struct {
	login         *url.URL
	signer        *security.SSOSigner
	tokenParam    string
	redirectParam string
	log           logrus.FieldLogger
	metrics       *metrics.Metrics
	audit         audit.AuditLogger
	events        telemetry.EventEmitter
}

// NewMinter validates opts and returns a Minter.
func NewMinter(opts Options) (*Minter, error) {
	login, err := url.Parse(opts.LoginURL)
	if err != nil || login.Scheme == "" || login.Host == "" {
		return nil, errors.New("sso: login URL must be absolute")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = MaxTTL
	}
	if ttl > MaxTTL {
		return nil, fmt.Errorf("sso: ttl %s exceeds %s", ttl, MaxTTL)
	}
	signer, err := security.NewSSOSigner(opts.Secret, ttl)
	if err != nil {
		return nil, err
	}
	m := &Minter{
		login:         login,
		signer:        signer,
		tokenParam:    opts.TokenParam,
		redirectParam: opts.RedirectParam,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		audit:         opts.Audit,
		events:        opts.Events,
	}
	if m.tokenParam == "" {
		m.tokenParam = defaultTokenParam
	}
	if m.redirectParam == "" {
		m.redirectParam = defaultRedirectParam
	}
	if m.log == nil {
		m.log = logrus.StandardLogger()
	}
	m.log = m.log.WithField("component", "sso")
	return m, nil
}

// Signer exposes the token signer for verification in diagnostics and tests.
func (m *Minter) Signer() *security.SSOSigner { return m.signer }

// Mint returns the login URL for u carrying a fresh token and, if redirect is non-empty, the
// post-login target. u must already be provisioned.
func (m *Minter) Mint(ctx context.Context, u *domain.User, redirect string) (string, error) {
	if !u.Provisioned() {
		m.metrics.IncSSOMint("not_provisioned")
		return "", ErrNotProvisioned
	}
	target, err := m.checkRedirect(redirect)
	if err != nil {
		m.metrics.IncSSOMint("invalid_redirect")
		return "", err
	}
	// Claims describe the shadow account as it was created, not the local profile.
	token, expiresAt, err := m.signer.Issue(u.ExternalIdentity.Username, u.ExternalEmail(), u.ExternalFirstName(), u.ExternalLastName())
	if err != nil {
		m.metrics.IncSSOMint("failed")
		return "", fmt.Errorf("sso: sign token: %w", err)
	}

	out := *m.login
	q := out.Query()
	q.Set(m.tokenParam, token)
	if target != "" {
		q.Set(m.redirectParam, target)
	}
	out.RawQuery = q.Encode()

	m.metrics.IncSSOMint("ok")
	meta := map[string]any{
		"external_username": u.ExternalIdentity.Username,
		"redirect":          target,
		"expires_at":        expiresAt.Format(time.RFC3339),
	}
	m.log.WithFields(logrus.Fields{"user_id": u.ID, "redirect": target}).Debug("sso url minted")
	if m.audit != nil {
		m.audit.LogEvent(ctx, u.ID, auditdomain.ActionSSOMinted, "sso", meta)
	}
	telemetry.EmitAsync(m.events, teldomain.NewEvent(teldomain.EventSSOMinted, eventSource, u.ID, meta))
	return out.String(), nil
}

// checkRedirect accepts "", a relative reference, or an http(s) URL on the login host.
func (m *Minter) checkRedirect(redirect string) (string, error) {
	redirect = strings.TrimSpace(redirect)
	if redirect == "" {
		return "", nil
	}
	if strings.ContainsAny(redirect, "\\\r\n\t") {
		return "", ErrInvalidRedirect
	}
	u, err := url.Parse(redirect)
	if err != nil {
		return "", ErrInvalidRedirect
	}
	if u.Scheme == "" && u.Host == "" && !strings.HasPrefix(redirect, "//") {
		return redirect, nil
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.User != nil || !strings.EqualFold(u.Hostname(), m.login.Hostname()) {
		return "", ErrInvalidRedirect
	}
	return u.String(), nil
}
