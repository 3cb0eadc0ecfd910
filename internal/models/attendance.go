package models

import (
	"time"

	"github.com/google/uuid"
)

// Виды событий посещаемости
const (
	AttendanceKindJoined = "joined"
	AttendanceKindLeft   = "left"
)

// AttendanceEvent событие входа или выхода участника встречи.
type AttendanceEvent struct {
	ID         uuid.UUID `db:"id" json:"id"`
	BookingID  uuid.UUID `db:"booking_id" json:"booking_id"`
	UserID     uuid.UUID `db:"user_id" json:"user_id"`
	Role       Role      `db:"role" json:"role"`
	Kind       string    `db:"kind" json:"kind"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
