package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/repository/common"
)

// AuditRepository журнал изменений. Только вставка и чтение.
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, e *models.AuditEntry) error {
	var metadata interface{}
	if len(e.Metadata) > 0 {
		metadata = []byte(e.Metadata)
	}
	query := `
		INSERT INTO audit_log (id, entity, entity_id, action, actor_user_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, query,
		e.ID, e.Entity, e.EntityID, e.Action, e.ActorUserID, metadata,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit repository: append: %w", err)
	}
	return nil
}

func (r *AuditRepository) ListByEntity(ctx context.Context, entity string, entityID uuid.UUID) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := common.Conn(ctx, r.db).SelectContext(ctx, &entries, `
		SELECT * FROM audit_log
		WHERE entity = $1 AND entity_id = $2
		ORDER BY created_at, id
	`, entity, entityID)
	if err != nil {
		return nil, fmt.Errorf("audit repository: list: %w", err)
	}
	return entries, nil
}
