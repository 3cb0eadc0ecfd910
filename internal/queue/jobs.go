package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Имена задач
const (
	JobConfirmBooking      = "confirm-booking"
	JobRescheduleBooking   = "reschedule-booking"
	JobProcessPayout       = "process-payout"
	JobProcessQC           = "process-qc"
	JobQCTimeout           = "qc-timeout"
	JobExpiryCheck         = "expiry-check"
	JobNoShowCheck         = "no-show-check"
	JobAttendanceRetention = "attendance-retention"
)

// Очереди по типу нагрузки
const (
	QueueBookings = "bookings"
	QueuePayouts  = "payouts"
	QueueQC       = "qc"
	QueueSweeps   = "sweeps"
)

var jobQueues = map[string]string{
	JobConfirmBooking:      QueueBookings,
	JobRescheduleBooking:   QueueBookings,
	JobProcessPayout:       QueuePayouts,
	JobProcessQC:           QueueQC,
	JobQCTimeout:           QueueQC,
	JobExpiryCheck:         QueueSweeps,
	JobNoShowCheck:         QueueSweeps,
	JobAttendanceRetention: QueueSweeps,
}

// QueueFor возвращает очередь, обслуживающую задачу.
func QueueFor(job string) (string, bool) {
	q, ok := jobQueues[job]
	return q, ok
}

// BookingPayload полезная нагрузка задач по одному бронированию.
type BookingPayload struct {
	BookingID uuid.UUID `json:"bookingId"`
}

// ReschedulePayload нагрузка reschedule-booking.
type ReschedulePayload struct {
	BookingID    uuid.UUID `json:"bookingId"`
	OldMeetingID *string   `json:"oldMeetingId,omitempty"`
}

// Job задача, полученная из очереди.
type Job struct {
	ID         string
	Name       string
	Queue      string
	Payload    json.RawMessage
	Attempt    int
	EnqueuedAt time.Time
}

// Decode разбирает полезную нагрузку задачи.
func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(j.Payload, v)
}

// Handler обработчик задачи. Ошибка классифицируется apperror.IsRetryable.
type Handler func(ctx context.Context, job *Job) error

// Enqueuer постановка задач в очередь.
type Enqueuer interface {
	Enqueue(ctx context.Context, job string, payload any) error
	EnqueueIn(ctx context.Context, job string, payload any, delay time.Duration) error
}

// Queues возвращает все очереди нагрузок.
func Queues() []string {
	return []string{QueueBookings, QueuePayouts, QueueQC, QueueSweeps}
}
