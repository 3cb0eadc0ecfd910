package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus статус авторизации платежа.
type PaymentStatus string

// Статусы платежа
const (
	PaymentStatusAuthorized    PaymentStatus = "authorized"
	PaymentStatusHeld          PaymentStatus = "held"
	PaymentStatusCaptureFailed PaymentStatus = "capture_failed"
	PaymentStatusCancelled     PaymentStatus = "cancelled"
)

// rank порядок статусов: переходы допустимы только вперёд.
func (s PaymentStatus) rank() int {
	switch s {
	case PaymentStatusAuthorized:
		return 1
	case PaymentStatusHeld:
		return 2
	case PaymentStatusCaptureFailed, PaymentStatusCancelled:
		return 3
	}
	return 0
}

// CanAdvanceTo проверяет, что переход не откатывает статус назад.
func (s PaymentStatus) CanAdvanceTo(next PaymentStatus) bool {
	return next.rank() > s.rank()
}

// IsFinal сообщает, что авторизация больше не может быть списана.
func (s PaymentStatus) IsFinal() bool {
	return s == PaymentStatusCaptureFailed || s == PaymentStatusCancelled
}

// Payment авторизация (холд) средств кандидата по бронированию.
type Payment struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	BookingID     uuid.UUID     `db:"booking_id" json:"booking_id"`
	ExternalRef   string        `db:"external_ref" json:"external_ref"`
	Status        PaymentStatus `db:"status" json:"status"`
	AmountGross   int64         `db:"amount_gross" json:"amount_gross"`
	RefundedCents int64         `db:"refunded_cents" json:"refunded_cents"`
	Currency      string        `db:"currency" json:"currency"`
	CapturedAt    *time.Time    `db:"captured_at" json:"captured_at,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// IsCaptured сообщает, что средства уже списаны.
func (p *Payment) IsCaptured() bool {
	return p.CapturedAt != nil
}

// RefundableCents остаток, доступный к возврату.
func (p *Payment) RefundableCents() int64 {
	return p.AmountGross - p.RefundedCents
}
