package domain

import "time"

// AuditLog represents an audit event. Metadata is a JSON object or empty.
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}

// Audit actions written by the bridge outside the RPC interceptor.
const (
	ActionSyncCompleted       = "sync_completed"
	ActionSyncFailed          = "sync_failed"
	ActionSlugCollision       = "slug_collision"
	ActionIdentityProvisioned = "identity_provisioned"
	ActionIdentityAdopted     = "identity_adopted"
	ActionSSOMinted           = "sso_minted"
)
