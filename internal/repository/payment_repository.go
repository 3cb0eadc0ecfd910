package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/pkg/apperror"
	"github.com/ignatzorin/consult-backend/internal/repository/common"
)

type PaymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (id, booking_id, external_ref, status, amount_gross, refunded_cents, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, query,
		p.ID, p.BookingID, p.ExternalRef, p.Status, p.AmountGross, p.RefundedCents, p.Currency,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("payment repository: create: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	return common.GetByField[models.Payment](ctx, common.Conn(ctx, r.db), "payments", "booking_id", bookingID, apperror.ErrPaymentNotFound)
}

func (r *PaymentRepository) GetByRef(ctx context.Context, ref string) (*models.Payment, error) {
	return common.GetByField[models.Payment](ctx, common.Conn(ctx, r.db), "payments", "external_ref", ref, apperror.ErrPaymentNotFound)
}

// UpdateStatus меняет статус только из ожидаемого.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.PaymentStatus) (*models.Payment, error) {
	var p models.Payment
	err := common.Conn(ctx, r.db).GetContext(ctx, &p, `
		UPDATE payments SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING *
	`, id, from, to)
	if err != nil {
		return nil, notFoundOr(err, apperror.ErrStaleStatus, "payment repository: update status")
	}
	return &p, nil
}

// MarkCaptured отмечает списание авторизации. Повторное списание запрещено.
func (r *PaymentRepository) MarkCaptured(ctx context.Context, id uuid.UUID, at time.Time) (*models.Payment, error) {
	var p models.Payment
	err := common.Conn(ctx, r.db).GetContext(ctx, &p, `
		UPDATE payments SET captured_at = $2, updated_at = NOW()
		WHERE id = $1 AND captured_at IS NULL AND status IN ('authorized', 'held')
		RETURNING *
	`, id, at)
	if err != nil {
		return nil, notFoundOr(err, apperror.ErrStaleStatus, "payment repository: mark captured")
	}
	return &p, nil
}

// AddRefund увеличивает сумму возврата, не превышая сумму брутто.
func (r *PaymentRepository) AddRefund(ctx context.Context, id uuid.UUID, amountCents int64) (*models.Payment, error) {
	var p models.Payment
	err := common.Conn(ctx, r.db).GetContext(ctx, &p, `
		UPDATE payments SET refunded_cents = refunded_cents + $2, updated_at = NOW()
		WHERE id = $1 AND refunded_cents + $2 <= amount_gross
		RETURNING *
	`, id, amountCents)
	if err != nil {
		return nil, notFoundOr(err, apperror.ErrAmountExceeds, "payment repository: add refund")
	}
	return &p, nil
}
