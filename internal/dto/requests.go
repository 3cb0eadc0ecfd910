package dto

import (
	"time"

	"github.com/google/uuid"
)

// CreateBookingRequest заявка кандидата на консультацию.
type CreateBookingRequest struct {
	ProfessionalID uuid.UUID `json:"professional_id" binding:"required"`
	PriceCents     int64     `json:"price_cents" binding:"required,gt=0"`
	Timezone       string    `json:"timezone"`
	PaymentSource  string    `json:"payment_source" binding:"required"`
}

// SlotRequest слот встречи.
type SlotRequest struct {
	StartAt time.Time `json:"start_at" binding:"required"`
	EndAt   time.Time `json:"end_at" binding:"required"`
}

// DeclineBookingRequest отклонение заявки специалистом.
type DeclineBookingRequest struct {
	Reason string `json:"reason"`
}

// SubmitFeedbackRequest отзыв специалиста по итогам встречи.
type SubmitFeedbackRequest struct {
	Text                string   `json:"text" binding:"required"`
	Actions             []string `json:"actions" binding:"required"`
	RatingPreparation   int      `json:"rating_preparation" binding:"required,min=1,max=5"`
	RatingCommunication int      `json:"rating_communication" binding:"required,min=1,max=5"`
	RatingPotential     int      `json:"rating_potential" binding:"required,min=1,max=5"`
}

// OpenDisputeRequest открытие спора участником.
type OpenDisputeRequest struct {
	Reason      string `json:"reason" binding:"required"`
	Description string `json:"description"`
}

// ResolveDisputeRequest решение администратора по спору.
type ResolveDisputeRequest struct {
	Resolution  string `json:"resolution" binding:"required,oneof=full_refund partial_refund dismiss"`
	AmountCents *int64 `json:"amount_cents" binding:"omitempty,gt=0"`
	Note        string `json:"note"`
}

// PaymentWebhook событие платёжного шлюза.
type PaymentWebhook struct {
	Key  string `json:"key"`
	Data struct {
		Object string `json:"object"`
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// MeetingWebhook событие сервиса видеосвязи.
type MeetingWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		PlainToken string `json:"plainToken"`
		Object     struct {
			ID          string `json:"id"`
			Participant struct {
				CustomerKey string    `json:"customer_key"`
				JoinTime    time.Time `json:"join_time"`
				LeaveTime   time.Time `json:"leave_time"`
			} `json:"participant"`
		} `json:"object"`
	} `json:"payload"`
}
