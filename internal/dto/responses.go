package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/consult-backend/internal/models"
)

// BookingResponse бронирование для участника. Ссылка на встречу отдаётся только своя.
type BookingResponse struct {
	ID                uuid.UUID                 `json:"id"`
	CandidateID       uuid.UUID                 `json:"candidate_id"`
	ProfessionalID    uuid.UUID                 `json:"professional_id"`
	Status            models.BookingStatus      `json:"status"`
	StartAt           *time.Time                `json:"start_at,omitempty"`
	EndAt             *time.Time                `json:"end_at,omitempty"`
	ProposedStartAt   *time.Time                `json:"proposed_start_at,omitempty"`
	ProposedEndAt     *time.Time                `json:"proposed_end_at,omitempty"`
	ExpiresAt         time.Time                 `json:"expires_at"`
	Timezone          string                    `json:"timezone"`
	PriceCents        int64                     `json:"price_cents"`
	JoinURL           *string                   `json:"join_url,omitempty"`
	AttendanceOutcome *models.AttendanceOutcome `json:"attendance_outcome,omitempty"`
	LateCancellation  bool                      `json:"late_cancellation"`
	DeclineReason     *string                   `json:"decline_reason,omitempty"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

// NewBookingResponse собирает ответ для пользователя viewer.
func NewBookingResponse(b *models.Booking, viewer uuid.UUID) BookingResponse {
	resp := BookingResponse{
		ID:                b.ID,
		CandidateID:       b.CandidateID,
		ProfessionalID:    b.ProfessionalID,
		Status:            b.Status,
		StartAt:           b.StartAt,
		EndAt:             b.EndAt,
		ProposedStartAt:   b.ProposedStartAt,
		ProposedEndAt:     b.ProposedEndAt,
		ExpiresAt:         b.ExpiresAt,
		Timezone:          b.Timezone,
		PriceCents:        b.PriceCents,
		AttendanceOutcome: b.AttendanceOutcome,
		LateCancellation:  b.LateCancellation,
		DeclineReason:     b.DeclineReason,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
	switch viewer {
	case b.CandidateID:
		resp.JoinURL = b.CandidateJoinURL
	case b.ProfessionalID:
		resp.JoinURL = b.ProfessionalJoinURL
	}
	return resp
}

// NewBookingList собирает список бронирований.
func NewBookingList(items []models.Booking, viewer uuid.UUID) []BookingResponse {
	out := make([]BookingResponse, 0, len(items))
	for i := range items {
		out = append(out, NewBookingResponse(&items[i], viewer))
	}
	return out
}

// QCResponse итог ручной перепроверки.
type QCResponse struct {
	BookingID uuid.UUID `json:"booking_id"`
	Queued    bool      `json:"queued"`
}

// WebhookAck ответ на вебхук.
type WebhookAck struct {
	Received bool   `json:"received"`
	Note     string `json:"note,omitempty"`
}

// URLValidationResponse ответ на проверку адреса вебхука сервисом видеосвязи.
type URLValidationResponse struct {
	PlainToken     string `json:"plainToken"`
	EncryptedToken string `json:"encryptedToken"`
}
