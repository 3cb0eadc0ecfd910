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

type PayoutRepository struct {
	db *sqlx.DB
}

func NewPayoutRepository(db *sqlx.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// Upsert создаёт выплату или обновляет существующую по бронированию.
// Проведённую выплату не трогает и возвращает ErrPayoutPaid.
func (r *PayoutRepository) Upsert(ctx context.Context, p *models.Payout) error {
	query := `
		INSERT INTO payouts (id, booking_id, professional_id, status, amount_gross, platform_fee_cents, amount_net, blocked_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (booking_id) DO UPDATE SET
			status = EXCLUDED.status,
			amount_gross = EXCLUDED.amount_gross,
			platform_fee_cents = EXCLUDED.platform_fee_cents,
			amount_net = EXCLUDED.amount_net,
			blocked_reason = EXCLUDED.blocked_reason,
			updated_at = NOW()
		WHERE payouts.status <> 'paid'
		RETURNING *
	`
	err := common.Conn(ctx, r.db).GetContext(ctx, p, query,
		p.ID, p.BookingID, p.ProfessionalID, p.Status, p.AmountGross, p.PlatformFeeCents, p.AmountNet, p.BlockedReason,
	)
	if err != nil {
		return notFoundOr(err, apperror.ErrPayoutPaid, "payout repository: upsert")
	}
	return nil
}

func (r *PayoutRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payout, error) {
	return common.GetByField[models.Payout](ctx, common.Conn(ctx, r.db), "payouts", "booking_id", bookingID, apperror.ErrPayoutNotFound)
}

// Block блокирует ожидающую выплату. Возвращает false, если блокировать нечего.
func (r *PayoutRepository) Block(ctx context.Context, bookingID uuid.UUID, reason string) (bool, error) {
	res, err := common.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE payouts SET status = 'blocked', blocked_reason = $2, updated_at = NOW()
		WHERE booking_id = $1 AND status IN ('pending', 'blocked')
	`, bookingID, reason)
	if err != nil {
		return false, fmt.Errorf("payout repository: block: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("payout repository: block: %w", err)
	}
	return n > 0, nil
}

func (r *PayoutRepository) MarkPaid(ctx context.Context, bookingID uuid.UUID, at time.Time) (*models.Payout, error) {
	var p models.Payout
	err := common.Conn(ctx, r.db).GetContext(ctx, &p, `
		UPDATE payouts SET status = 'paid', paid_at = $2, updated_at = NOW()
		WHERE booking_id = $1 AND status = 'pending'
		RETURNING *
	`, bookingID, at)
	if err != nil {
		return nil, notFoundOr(err, apperror.ErrStaleStatus, "payout repository: mark paid")
	}
	return &p, nil
}
