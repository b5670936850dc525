// Package audit records who triggered what: RPC calls, sync runs, slug collisions, provisioning
// outcomes and SSO mints. Tokens and passwords are never written.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lms-bridge/internal/audit/domain"
	auditrepo "lms-bridge/internal/audit/repository"
)

// IPExtractor returns the client IP from the request context (e.g. gRPC metadata or peer).
type IPExtractor func(context.Context) string

// ActorExtractor returns the authenticated user id from the request context, or "".
type ActorExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource string, metadata any)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	actor       ActorExtractor
	log         logrus.FieldLogger
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, log logrus.FieldLogger) *Logger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, log: log.WithField("component", "audit")}
}

// WithActor sets the extractor used when LogEvent is called without a user id
// (components that only see a context, such as catalog sync).
func (l *Logger) WithActor(actor ActorExtractor) *Logger {
	l.actor = actor
	return l
}

// LogEvent writes one audit log entry. metadata is marshaled to JSON; a string is stored as-is.
// Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource string, metadata any) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	if userID == "" && l.actor != nil {
		userID = l.actor(ctx)
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  encodeMetadata(metadata),
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.WithFields(logrus.Fields{"action": action, "resource": resource, "error": err}).Warn("failed to write audit entry")
	}
}

func encodeMetadata(metadata any) string {
	switch m := metadata.(type) {
	case nil:
		return ""
	case string:
		return m
	case []byte:
		return string(m)
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return ""
	}
	return string(b)
}
