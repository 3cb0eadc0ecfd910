package models

import (
	"time"

	"github.com/google/uuid"
)

// PlatformFeePercent комиссия платформы в процентах от суммы брутто.
const PlatformFeePercent = 20

// PayoutStatus статус выплаты специалисту.
type PayoutStatus string

// Статусы выплаты
const (
	PayoutStatusPending PayoutStatus = "pending"
	PayoutStatusBlocked PayoutStatus = "blocked"
	PayoutStatusPaid    PayoutStatus = "paid"
)

// Причины блокировки выплаты
const (
	PayoutBlockedDispute = "dispute_open"
	PayoutBlockedRefund  = "refunded"
)

// Payout выплата специалисту по бронированию.
type Payout struct {
	ID               uuid.UUID    `db:"id" json:"id"`
	BookingID        uuid.UUID    `db:"booking_id" json:"booking_id"`
	ProfessionalID   uuid.UUID    `db:"professional_id" json:"professional_id"`
	Status           PayoutStatus `db:"status" json:"status"`
	AmountGross      int64        `db:"amount_gross" json:"amount_gross"`
	PlatformFeeCents int64        `db:"platform_fee_cents" json:"platform_fee_cents"`
	AmountNet        int64        `db:"amount_net" json:"amount_net"`
	BlockedReason    *string      `db:"blocked_reason" json:"blocked_reason,omitempty"`
	PaidAt           *time.Time   `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updated_at"`
}

// CalculatePlatformFee комиссия с округлением вниз до цента.
func CalculatePlatformFee(amountCents int64) int64 {
	return amountCents * PlatformFeePercent / 100
}

// NewPayout рассчитывает выплату по сумме брутто.
func NewPayout(bookingID, professionalID uuid.UUID, grossCents int64, status PayoutStatus) *Payout {
	fee := CalculatePlatformFee(grossCents)
	return &Payout{
		ID:               uuid.New(),
		BookingID:        bookingID,
		ProfessionalID:   professionalID,
		Status:           status,
		AmountGross:      grossCents,
		PlatformFeeCents: fee,
		AmountNet:        grossCents - fee,
	}
}
