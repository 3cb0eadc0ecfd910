package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEntry запись журнала аудита. Журнал только дополняется.
type AuditEntry struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Entity      string          `db:"entity" json:"entity"`
	EntityID    uuid.UUID       `db:"entity_id" json:"entity_id"`
	Action      string          `db:"action" json:"action"`
	ActorUserID *uuid.UUID      `db:"actor_user_id" json:"actor_user_id,omitempty"`
	Metadata    json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// NewAuditEntry формирует запись. Пустой actor означает системное действие.
func NewAuditEntry(entity string, entityID uuid.UUID, action string, actor *Actor, metadata map[string]any) *AuditEntry {
	entry := &AuditEntry{
		ID:       uuid.New(),
		Entity:   entity,
		EntityID: entityID,
		Action:   action,
	}
	if actor != nil {
		id := actor.UserID
		entry.ActorUserID = &id
	}
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = raw
		}
	}
	return entry
}
