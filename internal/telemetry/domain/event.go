package domain

import (
	"encoding/json"
	"time"
)

// Event types published by the bridge.
const (
	EventSyncCompleted     = "catalog.sync_completed"
	EventSyncFailed        = "catalog.sync_failed"
	EventSlugCollision     = "catalog.slug_collision"
	EventIdentityProvision = "identity.provisioned"
	EventIdentityAdopted   = "identity.adopted"
	EventSSOMinted         = "sso.minted"
	EventRPC               = "rpc.call"
)

// Event is a best-effort bridge event. It never carries tokens, passwords or sealed values.
type Event struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	Source    string          `json:"source"`
	UserID    string          `json:"userId,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewEvent builds an event with metadata marshaled from meta (nil for none).
// Marshal failures drop the metadata rather than the event.
func NewEvent(eventType, source, userID string, meta any) *Event {
	e := &Event{
		EventType: eventType,
		Source:    source,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			e.Metadata = b
		}
	}
	return e
}
