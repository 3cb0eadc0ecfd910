package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/consult-backend/internal/logger"
	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/queue"
	"github.com/ignatzorin/consult-backend/internal/service"
)

type MeetingScheduler interface {
	AttachMeeting(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	RecreateMeeting(ctx context.Context, bookingID uuid.UUID, oldMeetingID *string) (*models.Booking, error)
}

type FeedbackChecker interface {
	Process(ctx context.Context, bookingID uuid.UUID) (service.QCResult, error)
	TimeoutCheck(ctx context.Context, bookingID uuid.UUID) error
}

type PayoutProcessor interface {
	Process(ctx context.Context, bookingID uuid.UUID) (*models.Payout, error)
}

type Sweeper interface {
	ExpireRequests(ctx context.Context) (service.SweepResult, error)
	ResolveNoShows(ctx context.Context) (service.SweepResult, error)
	PurgeAttendance(ctx context.Context) (int64, error)
}

// Handlers связывает задачи очереди с сервисами.
type Handlers struct {
	meetings MeetingScheduler
	qc       FeedbackChecker
	payouts  PayoutProcessor
	sweeps   Sweeper
}

func NewHandlers(meetings MeetingScheduler, qc FeedbackChecker, payouts PayoutProcessor, sweeps Sweeper) *Handlers {
	return &Handlers{meetings: meetings, qc: qc, payouts: payouts, sweeps: sweeps}
}

// Register регистрирует все обработчики в воркере.
func (h *Handlers) Register(w *queue.Worker) {
	w.Handle(queue.JobConfirmBooking, h.ConfirmBooking)
	w.Handle(queue.JobRescheduleBooking, h.RescheduleBooking)
	w.Handle(queue.JobProcessQC, h.ProcessQC)
	w.Handle(queue.JobQCTimeout, h.QCTimeout)
	w.Handle(queue.JobProcessPayout, h.ProcessPayout)
	w.Handle(queue.JobExpiryCheck, h.ExpiryCheck)
	w.Handle(queue.JobNoShowCheck, h.NoShowCheck)
	w.Handle(queue.JobAttendanceRetention, h.AttendanceRetention)
}

func bookingID(job *queue.Job) (uuid.UUID, error) {
	var p queue.BookingPayload
	if err := job.Decode(&p); err != nil {
		return uuid.Nil, fmt.Errorf("jobs: %s: некорректная нагрузка: %w", job.Name, err)
	}
	if p.BookingID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("jobs: %s: bookingId не задан", job.Name)
	}
	return p.BookingID, nil
}

// ConfirmBooking создаёт видеовстречу для принятого бронирования.
func (h *Handlers) ConfirmBooking(ctx context.Context, job *queue.Job) error {
	id, err := bookingID(job)
	if err != nil {
		return dropInvalid(ctx, err)
	}
	_, err = h.meetings.AttachMeeting(ctx, id)
	return err
}

// RescheduleBooking пересоздаёт встречу на новое время.
func (h *Handlers) RescheduleBooking(ctx context.Context, job *queue.Job) error {
	var p queue.ReschedulePayload
	if err := job.Decode(&p); err != nil || p.BookingID == uuid.Nil {
		return dropInvalid(ctx, fmt.Errorf("jobs: %s: некорректная нагрузка: %v", job.Name, err))
	}
	_, err := h.meetings.RecreateMeeting(ctx, p.BookingID, p.OldMeetingID)
	return err
}

func (h *Handlers) ProcessQC(ctx context.Context, job *queue.Job) error {
	id, err := bookingID(job)
	if err != nil {
		return dropInvalid(ctx, err)
	}
	result, err := h.qc.Process(ctx, id)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).WithFields(logrus.Fields{
		"booking_id": id,
		"passed":     result.Passed,
	}).Info("jobs: проверка отзыва обработана")
	return nil
}

func (h *Handlers) QCTimeout(ctx context.Context, job *queue.Job) error {
	id, err := bookingID(job)
	if err != nil {
		return dropInvalid(ctx, err)
	}
	return h.qc.TimeoutCheck(ctx, id)
}

func (h *Handlers) ProcessPayout(ctx context.Context, job *queue.Job) error {
	id, err := bookingID(job)
	if err != nil {
		return dropInvalid(ctx, err)
	}
	_, err = h.payouts.Process(ctx, id)
	return err
}

func (h *Handlers) ExpiryCheck(ctx context.Context, _ *queue.Job) error {
	_, err := h.sweeps.ExpireRequests(ctx)
	return err
}

func (h *Handlers) NoShowCheck(ctx context.Context, _ *queue.Job) error {
	_, err := h.sweeps.ResolveNoShows(ctx)
	return err
}

func (h *Handlers) AttendanceRetention(ctx context.Context, _ *queue.Job) error {
	_, err := h.sweeps.PurgeAttendance(ctx)
	return err
}

// dropInvalid логирует задачу с битой нагрузкой и подтверждает её: повтор не поможет.
func dropInvalid(ctx context.Context, err error) error {
	logger.FromContext(ctx).WithError(err).Error("jobs: задача отброшена")
	return nil
}
