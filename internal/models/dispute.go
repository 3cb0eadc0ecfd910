package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы спора
const (
	DisputeStatusOpen     = "open"
	DisputeStatusResolved = "resolved"
)

// Причина спора, открытого системой по итогам посещаемости.
const DisputeReasonNoShow = "no_show"

// DisputeResolution вариант решения спора.
type DisputeResolution string

const (
	ResolutionFullRefund    DisputeResolution = "full_refund"
	ResolutionPartialRefund DisputeResolution = "partial_refund"
	ResolutionDismiss       DisputeResolution = "dismiss"
)

// IsValid проверяет вариант решения.
func (r DisputeResolution) IsValid() bool {
	switch r {
	case ResolutionFullRefund, ResolutionPartialRefund, ResolutionDismiss:
		return true
	}
	return false
}

// Dispute представляет спор по бронированию.
type Dispute struct {
	ID             uuid.UUID          `db:"id" json:"id"`
	BookingID      uuid.UUID          `db:"booking_id" json:"booking_id"`
	InitiatorID    *uuid.UUID         `db:"initiator_id" json:"initiator_id,omitempty"`
	Reason         string             `db:"reason" json:"reason"`
	Description    *string            `db:"description" json:"description,omitempty"`
	Status         string             `db:"status" json:"status"`
	ResolutionKind *DisputeResolution `db:"resolution_kind" json:"resolution_kind,omitempty"`
	Resolution     *string            `db:"resolution" json:"resolution,omitempty"`
	ResolvedByID   *uuid.UUID         `db:"resolved_by_id" json:"resolved_by_id,omitempty"`
	RefundCents    *int64             `db:"refund_cents" json:"refund_cents,omitempty"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
	ResolvedAt     *time.Time         `db:"resolved_at" json:"resolved_at,omitempty"`
}

// IsOpen сообщает, что спор ещё не разрешён.
func (d *Dispute) IsOpen() bool {
	return d.Status == DisputeStatusOpen
}
