package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/consult-backend/internal/logger"
	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/pkg/apperror"
	"github.com/ignatzorin/consult-backend/internal/queue"
	"github.com/ignatzorin/consult-backend/internal/validation"
)

// BookingConfig параметры жизненного цикла бронирования.
type BookingConfig struct {
	RequestTTL       time.Duration
	LateCancelWindow time.Duration
	MaxPriceCents    int64
}

// DefaultBookingConfig значения по умолчанию.
func DefaultBookingConfig() BookingConfig {
	return BookingConfig{
		RequestTTL:       48 * time.Hour,
		LateCancelWindow: 6 * time.Hour,
		MaxPriceCents:    10_000_000,
	}
}

// BookingService конечный автомат бронирования. Каждый переход выполняется
// в транзакции: перечитать, проверить роль и статус, выполнить побочный
// эффект, записать статус с проверкой прежнего значения и запись аудита.
type BookingService struct {
	tx         TxManager
	bookings   BookingRepository
	disputes   DisputeRepository
	attendance AttendanceRepository
	audit      AuditRepository
	payments   *PaymentService
	meetings   MeetingProvider
	queue      JobQueue
	notifier   Notifier
	cfg        BookingConfig
	now        func() time.Time
}

func NewBookingService(
	tx TxManager,
	bookings BookingRepository,
	disputes DisputeRepository,
	attendance AttendanceRepository,
	audit AuditRepository,
	payments *PaymentService,
	meetings MeetingProvider,
	jobs JobQueue,
	notifier Notifier,
	cfg BookingConfig,
) *BookingService {
	return &BookingService{
		tx:         tx,
		bookings:   bookings,
		disputes:   disputes,
		attendance: attendance,
		audit:      audit,
		payments:   payments,
		meetings:   meetings,
		queue:      jobs,
		notifier:   notifier,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Slot интервал консультации.
type Slot struct {
	StartAt time.Time
	EndAt   time.Time
}

func (s *BookingService) validateSlot(slot Slot) error {
	if !slot.EndAt.After(slot.StartAt) {
		return apperror.Validation("время окончания должно быть позже времени начала")
	}
	if !slot.StartAt.After(s.now()) {
		return apperror.Validation("слот должен начинаться в будущем")
	}
	return nil
}

// RequestBookingInput данные заявки кандидата.
type RequestBookingInput struct {
	ProfessionalID uuid.UUID
	PriceCents     int64
	Timezone       string
	PaymentSource  string
}

// RequestBooking создаёт заявку и ставит холд на сумму консультации.
func (s *BookingService) RequestBooking(ctx context.Context, actor *models.Actor, in RequestBookingInput) (*models.Booking, error) {
	if actor == nil || actor.Role != models.RoleCandidate {
		return nil, apperror.ErrForbidden
	}
	if in.ProfessionalID == uuid.Nil || in.ProfessionalID == actor.UserID {
		return nil, apperror.Validation("некорректный специалист")
	}
	if in.PriceCents <= 0 || (s.cfg.MaxPriceCents > 0 && in.PriceCents > s.cfg.MaxPriceCents) {
		return nil, apperror.Validation("некорректная стоимость консультации")
	}
	if strings.TrimSpace(in.PaymentSource) == "" {
		return nil, apperror.Validation("не указан источник оплаты")
	}
	tz := in.Timezone
	if tz == "" {
		tz = models.DefaultTimezone
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, apperror.Validation("неизвестный часовой пояс")
	}

	now := s.now()
	b := &models.Booking{
		ID:             uuid.New(),
		CandidateID:    actor.UserID,
		ProfessionalID: in.ProfessionalID,
		Status:         models.BookingStatusRequested,
		ExpiresAt:      now.Add(s.cfg.RequestTTL),
		Timezone:       tz,
		PriceCents:     in.PriceCents,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.bookings.Create(ctx, b); err != nil {
			return err
		}
		if _, err := s.payments.Authorize(ctx, b, in.PaymentSource); err != nil {
			return err
		}
		return s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityBooking, b.ID, "request", actor, map[string]any{
			"to":          b.Status,
			"price_cents": b.PriceCents,
		}))
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, b, "booking.requested")
	return b, nil
}

// sideEffect побочный эффект перехода. Может менять поля бронирования,
// кроме статуса, и возвращает метаданные для аудита.
type sideEffect func(ctx context.Context, b *models.Booking) (map[string]any, error)

// transition выполняет переход внутри транзакции и возвращает обновлённое бронирование.
// Уведомления и постановка задач остаются вызывающему после коммита.
func (s *BookingService) transition(ctx context.Context, bookingID uuid.UUID, actor *models.Actor, event models.BookingEvent, effect sideEffect) (*models.Booking, error) {
	var updated *models.Booking
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if !models.CanPerform(b, actor, event) {
			if actor == nil && !models.IsSystemEvent(event) {
				return apperror.ErrUnauthorized
			}
			return apperror.ErrForbidden
		}

		next, ok := models.NextStatus(b.Status, event)
		if !ok {
			return apperror.Conflict(fmt.Sprintf("переход %s невозможен из статуса %s", event, b.Status))
		}

		from := b.Status
		meta := map[string]any{}
		if effect != nil {
			extra, err := effect(ctx, b)
			if err != nil {
				return err
			}
			for k, v := range extra {
				meta[k] = v
			}
		}
		meta["from"] = from
		meta["to"] = next

		b.Status = next
		if err := s.bookings.UpdateGuarded(ctx, b, from); err != nil {
			return err
		}
		if err := s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityBooking, b.ID, string(event), actor, meta)); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		entry := logger.FromContext(ctx).WithFields(logrus.Fields{
			"booking_id": bookingID,
			"event":      event,
		})
		if apperror.IsConflict(err) {
			entry.WithError(err).Info("booking: переход отклонён")
		} else if !apperror.IsForbidden(err) && !apperror.IsValidation(err) && !apperror.IsNotFound(err) {
			entry.WithError(err).Error("booking: ошибка перехода")
		}
		return nil, err
	}
	return updated, nil
}

// Accept подтверждает заявку специалистом и назначает слот.
func (s *BookingService) Accept(ctx context.Context, actor *models.Actor, bookingID uuid.UUID, slot Slot) (*models.Booking, error) {
	if err := s.validateSlot(slot); err != nil {
		return nil, err
	}

	b, err := s.transition(ctx, bookingID, actor, models.EventAccept, func(ctx context.Context, b *models.Booking) (map[string]any, error) {
		payment, err := s.payments.GetByBooking(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		if payment.Status.IsFinal() {
			return nil, apperror.Validation("платёж по заявке не прошёл, подтверждение невозможно")
		}
		start, end := slot.StartAt, slot.EndAt
		b.StartAt, b.EndAt = &start, &end
		return map[string]any{"start_at": start, "end_at": end}, nil
	})
	if err != nil {
		return nil, err
	}

	s.enqueue(ctx, queue.JobConfirmBooking, queue.BookingPayload{BookingID: b.ID})
	s.notify(ctx, b, "booking.accepted")
	return b, nil
}

// Decline отклоняет заявку и снимает холд.
func (s *BookingService) Decline(ctx context.Context, actor *models.Actor, bookingID uuid.UUID, reason string) (*models.Booking, error) {
	if err := validation.ValidateOptionalText("причина отказа", reason, validation.MaxDeclineReasonLength); err != nil {
		return nil, apperror.Validation(err.Error())
	}
	b, err := s.transition(ctx, bookingID, actor, models.EventDecline, func(ctx context.Context, b *models.Booking) (map[string]any, error) {
		if _, err := s.payments.Void(ctx, b.ID); err != nil {
			return nil, err
		}
		if reason = strings.TrimSpace(reason); reason != "" {
			b.DeclineReason = &reason
		}
		return map[string]any{"reason": reason}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, b, "booking.declined")
	return b, nil
}

// Expire закрывает просроченную заявку. Вызывается только планировщиком.
func (s *BookingService) Expire(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	b, err := s.transition(ctx, bookingID, nil, models.EventExpire, func(ctx context.Context, b *models.Booking) (map[string]any, error) {
		if !s.now().After(b.ExpiresAt) {
			return nil, apperror.Conflict("срок ответа на заявку ещё не истёк")
		}
		if _, err := s.payments.Void(ctx, b.ID); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, b, "booking.expired")
	return b, nil
}

// Cancel отменяет бронирование. Поздняя отмена кандидатом списывает холд в пользу специалиста.
func (s *BookingService) Cancel(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) (*models.Booking, error) {
	b, err := s.transition(ctx, bookingID, actor, models.EventCancel, func(ctx context.Context, b *models.Booking) (map[string]any, error) {
		now := s.now()
		late := models.IsLateCancellation(now, b.StartAt, s.cfg.LateCancelWindow)
		byCandidate := actor.UserID == b.CandidateID

		b.CancelledAt = &now
		cancelledBy := actor.UserID
		b.CancelledByID = &cancelledBy
		b.LateCancellation = late

		meta := map[string]any{"late": late, "forfeited": false}
		if late && byCandidate {
			payout, err := s.payments.Forfeit(ctx, b)
			if err != nil {
				return nil, err
			}
			if payout != nil {
				meta["forfeited"] = true
				return meta, nil
			}
		}
		// ранняя отмена или холд, который уже нечего списывать
		p, err := s.payments.Void(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		meta["payment_status"] = p.Status
		return meta, nil
	})
	if err != nil {
		return nil, err
	}

	if b.ZoomMeetingID != nil {
		s.deleteMeeting(ctx, *b.ZoomMeetingID)
	}
	s.notify(ctx, b, "booking.cancelled")
	return b, nil
}

// RequestReschedule предлагает новый слот.
func (s *BookingService) RequestReschedule(ctx context.Context, actor *models.Actor, bookingID uuid.UUID, slot Slot) (*models.Booking, error) {
	if err := s.validateSlot(slot); err != nil {
		return nil, err
	}

	b, err := s.transition(ctx, bookingID, actor, models.EventRequestReschedule, func(ctx context.Context, b *models.Booking) (map[string]any, error) {
		start, end := slot.StartAt, slot.EndAt
		b.ProposedStartAt, b.ProposedEndAt = &start, &end
		return map[string]any{"proposed_start_at": start, "proposed_end_at": end}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, b, "booking.reschedule_requested")
	return b, nil
}

// ConfirmReschedule принимает предложенный слот и пересоздаёт встречу.
func (s *BookingService) ConfirmReschedule(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) (*models.Booking, error) {
	var oldMeetingID *string
	b, err := s.transition(ctx, bookingID, actor, models.EventConfirmReschedule, func(ctx context.Context, b *models.Booking) (map[string]any, error) {
		if b.ProposedStartAt == nil || b.ProposedEndAt == nil {
			return nil, apperror.Validation("нет предложенного слота")
		}
		if !b.ProposedStartAt.After(s.now()) {
			return nil, apperror.Validation("предложенный слот уже в прошлом")
		}
		oldMeetingID = b.ZoomMeetingID

		b.StartAt, b.EndAt = b.ProposedStartAt, b.ProposedEndAt
		b.ProposedStartAt, b.ProposedEndAt = nil, nil
		b.ZoomMeetingID, b.CandidateJoinURL, b.ProfessionalJoinURL = nil, nil, nil
		return map[string]any{"start_at": *b.StartAt, "end_at": *b.EndAt}, nil
	})
	if err != nil {
		return nil, err
	}

	s.enqueue(ctx, queue.JobRescheduleBooking, queue.ReschedulePayload{BookingID: b.ID, OldMeetingID: oldMeetingID})
	s.notify(ctx, b, "booking.rescheduled")
	return b, nil
}

// RejectReschedule отклоняет предложенный слот, прежний остаётся в силе.
func (s *BookingService) RejectReschedule(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) (*models.Booking, error) {
	b, err := s.transition(ctx, bookingID, actor, models.EventRejectReschedule, func(ctx context.Context, b *models.Booking) (map[string]any, error) {
		b.ProposedStartAt, b.ProposedEndAt = nil, nil
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, b, "booking.reschedule_rejected")
	return b, nil
}

// ResolveAttendance переводит завершившуюся встречу по итогам посещаемости.
func (s *BookingService) ResolveAttendance(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	current, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	outcome := current.ClassifyAttendance()

	var event models.BookingEvent
	switch outcome {
	case models.AttendanceBothJoined:
		event = models.EventAttendanceConfirmed
	case models.AttendanceCandidateNoShow:
		event = models.EventNoShowDispute
	default:
		event = models.EventNoShowCancel
	}

	b, err := s.transition(ctx, bookingID, nil, event, func(ctx context.Context, b *models.Booking) (map[string]any, error) {
		if b.EndAt == nil || !s.now().After(*b.EndAt) {
			return nil, apperror.Conflict("встреча ещё не завершилась")
		}
		// отметки входа могли измениться после первого чтения
		if b.ClassifyAttendance() != outcome {
			return nil, apperror.ErrStaleStatus
		}
		o := outcome
		b.AttendanceOutcome = &o

		meta := map[string]any{"outcome": outcome}
		switch event {
		case models.EventNoShowCancel:
			now := s.now()
			b.CancelledAt = &now
			if _, err := s.payments.Void(ctx, b.ID); err != nil {
				return nil, err
			}
		case models.EventNoShowDispute:
			d := &models.Dispute{
				ID:        uuid.New(),
				BookingID: b.ID,
				Reason:    models.DisputeReasonNoShow,
				Status:    models.DisputeStatusOpen,
			}
			if err := s.disputes.Create(ctx, d); err != nil {
				return nil, err
			}
			if err := s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityDispute, d.ID, "opened", nil, map[string]any{
				"booking_id": b.ID,
				"reason":     d.Reason,
			})); err != nil {
				return nil, err
			}
			meta["dispute_id"] = d.ID
		}
		return meta, nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, b, "booking."+string(event))
	return b, nil
}

// CompleteAfterQC завершает бронирование после прохождения QC.
func (s *BookingService) CompleteAfterQC(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	return s.transition(ctx, bookingID, nil, models.EventQCPassed, nil)
}

// AttachMeeting создаёт видеовстречу для подтверждённого слота. Повторный вызов ничего не делает.
func (s *BookingService) AttachMeeting(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.ZoomMeetingID != nil {
		return b, nil
	}
	if b.Status != models.BookingStatusAccepted && b.Status != models.BookingStatusReschedulePending {
		logger.FromContext(ctx).WithFields(logrus.Fields{
			"booking_id": b.ID,
			"status":     b.Status,
		}).Info("booking: встреча не нужна, бронирование не активно")
		return b, nil
	}
	if b.StartAt == nil {
		return nil, apperror.Conflict("у бронирования нет подтверждённого слота")
	}

	meeting, err := s.meetings.CreateMeeting(ctx, MeetingRequest{
		Topic:    fmt.Sprintf("Консультация %s", b.ID),
		StartAt:  *b.StartAt,
		Duration: b.Duration(),
		Timezone: b.Timezone,
	})
	if err != nil {
		return nil, apperror.Upstream(err, "не удалось создать встречу")
	}

	var attached bool
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		attached, err = s.bookings.AttachMeeting(ctx, b.ID, meeting.ID, meeting.JoinURL, meeting.HostURL)
		if err != nil || !attached {
			return err
		}
		return s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityBooking, b.ID, "meeting_attached", nil, map[string]any{
			"meeting_id": meeting.ID,
		}))
	})
	if err != nil {
		s.deleteMeeting(ctx, meeting.ID)
		return nil, err
	}
	if !attached {
		// параллельная задача успела привязать свою встречу
		s.deleteMeeting(ctx, meeting.ID)
		return s.bookings.GetByID(ctx, b.ID)
	}

	b.ZoomMeetingID = &meeting.ID
	b.CandidateJoinURL = &meeting.JoinURL
	b.ProfessionalJoinURL = &meeting.HostURL
	s.notify(ctx, b, "booking.confirmed")
	return b, nil
}

// RecreateMeeting удаляет встречу прежнего слота и создаёт новую.
func (s *BookingService) RecreateMeeting(ctx context.Context, bookingID uuid.UUID, oldMeetingID *string) (*models.Booking, error) {
	if oldMeetingID != nil && *oldMeetingID != "" {
		if err := s.meetings.DeleteMeeting(ctx, *oldMeetingID); err != nil {
			return nil, apperror.Upstream(err, "не удалось удалить прежнюю встречу")
		}
	}
	return s.AttachMeeting(ctx, bookingID)
}

// RecordAttendance фиксирует вход или выход участника по событию видеосервиса.
func (s *BookingService) RecordAttendance(ctx context.Context, bookingID, userID uuid.UUID, kind string, at time.Time) error {
	if kind != models.AttendanceKindJoined && kind != models.AttendanceKindLeft {
		return apperror.Validation("неизвестный тип события посещаемости")
	}
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	role, ok := b.RoleOf(userID)
	if !ok {
		return apperror.ErrForbidden
	}

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		event := &models.AttendanceEvent{
			ID:         uuid.New(),
			BookingID:  b.ID,
			UserID:     userID,
			Role:       role,
			Kind:       kind,
			OccurredAt: at,
		}
		if err := s.attendance.Record(ctx, event); err != nil {
			return err
		}
		if kind != models.AttendanceKindJoined {
			return nil
		}
		if err := s.bookings.MarkJoined(ctx, b.ID, role, at); err != nil {
			return err
		}
		return s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityBooking, b.ID, "attendance_joined", nil, map[string]any{
			"role": role,
			"at":   at,
		}))
	})
}

// RecordMeetingAttendance то же, что RecordAttendance, но бронирование ищется по id встречи.
func (s *BookingService) RecordMeetingAttendance(ctx context.Context, meetingID string, userID uuid.UUID, kind string, at time.Time) error {
	b, err := s.bookings.GetByMeetingID(ctx, meetingID)
	if err != nil {
		return err
	}
	return s.RecordAttendance(ctx, b.ID, userID, kind, at)
}

// Get возвращает бронирование участнику или администратору.
func (s *BookingService) Get(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) (*models.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := authorizeView(b, actor); err != nil {
		return nil, err
	}
	return b, nil
}

// List возвращает бронирования пользователя.
func (s *BookingService) List(ctx context.Context, actor *models.Actor, limit, offset int) ([]models.Booking, error) {
	if actor == nil {
		return nil, apperror.ErrUnauthorized
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.bookings.ListByParticipant(ctx, actor.UserID, limit, offset)
}

// History возвращает журнал изменений бронирования.
func (s *BookingService) History(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) ([]models.AuditEntry, error) {
	if _, err := s.Get(ctx, actor, bookingID); err != nil {
		return nil, err
	}
	return s.audit.ListByEntity(ctx, models.AuditEntityBooking, bookingID)
}

func authorizeView(b *models.Booking, actor *models.Actor) error {
	if actor == nil {
		return apperror.ErrUnauthorized
	}
	if actor.IsAdmin() || b.IsParticipant(actor.UserID) {
		return nil
	}
	return apperror.ErrForbidden
}

// enqueue ставит задачу после коммита. Ошибка не откатывает переход, только логируется.
func (s *BookingService) enqueue(ctx context.Context, job string, payload any) {
	if err := s.queue.Enqueue(ctx, job, payload); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("job", job).Error("booking: не удалось поставить задачу")
	}
}

func (s *BookingService) deleteMeeting(ctx context.Context, meetingID string) {
	if err := s.meetings.DeleteMeeting(ctx, meetingID); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("meeting_id", meetingID).Warn("booking: не удалось удалить встречу")
	}
}

func (s *BookingService) notify(ctx context.Context, b *models.Booking, eventType string) {
	if s.notifier == nil || b == nil {
		return
	}
	if err := s.notifier.Publish(ctx, models.NewLifecycleEvent(b, eventType, s.now())); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("event", eventType).Warn("booking: не удалось опубликовать событие")
	}
}
