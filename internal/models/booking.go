package models

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus статус бронирования.
type BookingStatus string

// Статусы бронирования
const (
	BookingStatusRequested                BookingStatus = "requested"
	BookingStatusAccepted                 BookingStatus = "accepted"
	BookingStatusDeclined                 BookingStatus = "declined"
	BookingStatusExpired                  BookingStatus = "expired"
	BookingStatusCancelled                BookingStatus = "cancelled"
	BookingStatusReschedulePending        BookingStatus = "reschedule_pending"
	BookingStatusCompletedPendingFeedback BookingStatus = "completed_pending_feedback"
	BookingStatusCompleted                BookingStatus = "completed"
	BookingStatusDisputePending           BookingStatus = "dispute_pending"
	BookingStatusRefunded                 BookingStatus = "refunded"
)

// ValidBookingStatuses список валидных статусов бронирования
var ValidBookingStatuses = map[BookingStatus]struct{}{
	BookingStatusRequested:                {},
	BookingStatusAccepted:                 {},
	BookingStatusDeclined:                 {},
	BookingStatusExpired:                  {},
	BookingStatusCancelled:                {},
	BookingStatusReschedulePending:        {},
	BookingStatusCompletedPendingFeedback: {},
	BookingStatusCompleted:                {},
	BookingStatusDisputePending:           {},
	BookingStatusRefunded:                 {},
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusDeclined, BookingStatusExpired, BookingStatusCancelled, BookingStatusRefunded:
		return true
	}
	return false
}

// AttendanceOutcome итог проверки посещаемости.
type AttendanceOutcome string

const (
	AttendanceBothJoined         AttendanceOutcome = "both_joined"
	AttendanceNeitherJoined      AttendanceOutcome = "neither_joined"
	AttendanceCandidateNoShow    AttendanceOutcome = "candidate_no_show"
	AttendanceProfessionalNoShow AttendanceOutcome = "professional_no_show"
)

// Booking бронирование консультации.
type Booking struct {
	ID                   uuid.UUID          `db:"id" json:"id"`
	CandidateID          uuid.UUID          `db:"candidate_id" json:"candidate_id"`
	ProfessionalID       uuid.UUID          `db:"professional_id" json:"professional_id"`
	Status               BookingStatus      `db:"status" json:"status"`
	StartAt              *time.Time         `db:"start_at" json:"start_at,omitempty"`
	EndAt                *time.Time         `db:"end_at" json:"end_at,omitempty"`
	ProposedStartAt      *time.Time         `db:"proposed_start_at" json:"proposed_start_at,omitempty"`
	ProposedEndAt        *time.Time         `db:"proposed_end_at" json:"proposed_end_at,omitempty"`
	ExpiresAt            time.Time          `db:"expires_at" json:"expires_at"`
	Timezone             string             `db:"timezone" json:"timezone"`
	PriceCents           int64              `db:"price_cents" json:"price_cents"`
	ZoomMeetingID        *string            `db:"zoom_meeting_id" json:"zoom_meeting_id,omitempty"`
	CandidateJoinURL     *string            `db:"candidate_join_url" json:"candidate_join_url,omitempty"`
	ProfessionalJoinURL  *string            `db:"professional_join_url" json:"professional_join_url,omitempty"`
	CandidateJoinedAt    *time.Time         `db:"candidate_joined_at" json:"candidate_joined_at,omitempty"`
	ProfessionalJoinedAt *time.Time         `db:"professional_joined_at" json:"professional_joined_at,omitempty"`
	AttendanceOutcome    *AttendanceOutcome `db:"attendance_outcome" json:"attendance_outcome,omitempty"`
	CancelledAt          *time.Time         `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelledByID        *uuid.UUID         `db:"cancelled_by_id" json:"cancelled_by_id,omitempty"`
	LateCancellation     bool               `db:"late_cancellation" json:"late_cancellation"`
	DeclineReason        *string            `db:"decline_reason" json:"decline_reason,omitempty"`
	CreatedAt            time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time          `db:"updated_at" json:"updated_at"`
}

// RoleOf возвращает роль пользователя в бронировании.
func (b *Booking) RoleOf(userID uuid.UUID) (Role, bool) {
	switch userID {
	case b.CandidateID:
		return RoleCandidate, true
	case b.ProfessionalID:
		return RoleProfessional, true
	}
	return "", false
}

// IsParticipant проверяет, что пользователь участник бронирования.
func (b *Booking) IsParticipant(userID uuid.UUID) bool {
	_, ok := b.RoleOf(userID)
	return ok
}

// Duration длительность подтверждённого слота.
func (b *Booking) Duration() time.Duration {
	if b.StartAt == nil || b.EndAt == nil {
		return 0
	}
	return b.EndAt.Sub(*b.StartAt)
}

// ClassifyAttendance определяет итог встречи по отметкам входа.
func (b *Booking) ClassifyAttendance() AttendanceOutcome {
	candidate := b.CandidateJoinedAt != nil
	professional := b.ProfessionalJoinedAt != nil
	switch {
	case candidate && professional:
		return AttendanceBothJoined
	case !candidate && !professional:
		return AttendanceNeitherJoined
	case professional:
		return AttendanceCandidateNoShow
	default:
		return AttendanceProfessionalNoShow
	}
}

// IsLateCancellation: отмена ближе чем за window до начала слота.
// Бронирование без слота поздней отменой не считается.
func IsLateCancellation(cancelledAt time.Time, startAt *time.Time, window time.Duration) bool {
	if startAt == nil {
		return false
	}
	return startAt.Sub(cancelledAt) < window
}

// LifecycleEvent доменное событие для уведомления участников.
type LifecycleEvent struct {
	Type           string        `json:"type"`
	BookingID      uuid.UUID     `json:"booking_id"`
	CandidateID    uuid.UUID     `json:"candidate_id"`
	ProfessionalID uuid.UUID     `json:"professional_id"`
	Status         BookingStatus `json:"status"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// NewLifecycleEvent собирает событие по бронированию.
func NewLifecycleEvent(b *Booking, eventType string, at time.Time) LifecycleEvent {
	return LifecycleEvent{
		Type:           eventType,
		BookingID:      b.ID,
		CandidateID:    b.CandidateID,
		ProfessionalID: b.ProfessionalID,
		Status:         b.Status,
		OccurredAt:     at,
	}
}
