package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/pkg/apperror"
	"github.com/ignatzorin/consult-backend/internal/repository/common"
)

type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create открывает спор. Второй открытый спор упирается в частичный уникальный индекс.
func (r *DisputeRepository) Create(ctx context.Context, d *models.Dispute) error {
	query := `
		INSERT INTO disputes (id, booking_id, initiator_id, reason, description, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, query,
		d.ID, d.BookingID, d.InitiatorID, d.Reason, d.Description, d.Status,
	).Scan(&d.CreatedAt)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return apperror.ErrDisputeExists
		}
		return fmt.Errorf("dispute repository: create: %w", err)
	}
	return nil
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return common.GetByID[models.Dispute](ctx, common.Conn(ctx, r.db), "disputes", id, apperror.ErrDisputeNotFound)
}

func (r *DisputeRepository) GetOpenByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := common.Conn(ctx, r.db).GetContext(ctx, &d, `
		SELECT * FROM disputes WHERE booking_id = $1 AND status = 'open'
	`, bookingID)
	if err != nil {
		return nil, notFoundOr(err, apperror.ErrDisputeNotFound, "dispute repository: get open")
	}
	return &d, nil
}

// Resolve закрывает открытый спор.
func (r *DisputeRepository) Resolve(ctx context.Context, d *models.Dispute) error {
	res, err := common.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE disputes
		SET status = 'resolved', resolution_kind = $2, resolution = $3, resolved_by_id = $4,
		    refund_cents = $5, resolved_at = $6
		WHERE id = $1 AND status = 'open'
	`, d.ID, d.ResolutionKind, d.Resolution, d.ResolvedByID, d.RefundCents, d.ResolvedAt)
	if err != nil {
		return fmt.Errorf("dispute repository: resolve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("dispute repository: resolve: %w", err)
	}
	if n == 0 {
		return apperror.ErrStaleStatus
	}
	d.Status = models.DisputeStatusResolved
	return nil
}

func (r *DisputeRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := common.Conn(ctx, r.db).SelectContext(ctx, &disputes, `
		SELECT * FROM disputes WHERE booking_id = $1 ORDER BY created_at DESC
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: list: %w", err)
	}
	return disputes, nil
}
