package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/consult-backend/internal/ai"
	"github.com/ignatzorin/consult-backend/internal/logger"
	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/pkg/apperror"
	"github.com/ignatzorin/consult-backend/internal/queue"
	"github.com/ignatzorin/consult-backend/internal/validation"
)

// QCConfig правила проверки отзыва.
type QCConfig struct {
	MinWords        int
	RequiredActions int
	AuditTimeout    time.Duration
	TimeoutDelay    time.Duration
}

func DefaultQCConfig() QCConfig {
	return QCConfig{
		MinWords:        200,
		RequiredActions: 3,
		AuditTimeout:    30 * time.Second,
		TimeoutDelay:    24 * time.Hour,
	}
}

// QCResult итог проверки.
type QCResult struct {
	Passed  bool
	Reasons []string
}

// QCService проверяет отзыв специалиста и открывает выплату.
type QCService struct {
	tx       TxManager
	feedback FeedbackRepository
	bookings BookingRepository
	machine  *BookingService
	audit    AuditRepository
	auditor  Auditor
	queue    JobQueue
	cfg      QCConfig
	now      func() time.Time
}

// NewQCService создаёт сервис. auditor может быть nil, тогда проверяются только правила.
func NewQCService(tx TxManager, feedback FeedbackRepository, bookings BookingRepository, machine *BookingService, audit AuditRepository, auditor Auditor, jobs JobQueue, cfg QCConfig) *QCService {
	return &QCService{
		tx:       tx,
		feedback: feedback,
		bookings: bookings,
		machine:  machine,
		audit:    audit,
		auditor:  auditor,
		queue:    jobs,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Evaluate применяет правила: минимум слов и точное число непустых действий.
func (s *QCService) Evaluate(f *models.CallFeedback) QCResult {
	var reasons []string

	words := models.CountWords(f.Text)
	if words < s.cfg.MinWords {
		reasons = append(reasons, fmt.Sprintf("отзыв должен содержать не менее %d слов, сейчас %d", s.cfg.MinWords, words))
	}
	if len(f.Actions) != s.cfg.RequiredActions {
		reasons = append(reasons, fmt.Sprintf("нужно ровно %d действия, сейчас %d", s.cfg.RequiredActions, len(f.Actions)))
	}
	for i, action := range f.Actions {
		if strings.TrimSpace(action) == "" {
			reasons = append(reasons, fmt.Sprintf("действие %d пустое", i+1))
		}
	}

	return QCResult{Passed: len(reasons) == 0, Reasons: reasons}
}

// FeedbackInput отзыв специалиста.
type FeedbackInput struct {
	Text                string
	Actions             []string
	RatingPreparation   int
	RatingCommunication int
	RatingPotential     int
}

func validateRatings(ratings ...int) error {
	for _, r := range ratings {
		if r < 1 || r > 5 {
			return apperror.Validation("оценка должна быть от 1 до 5")
		}
	}
	return nil
}

// Submit сохраняет отзыв и ставит его на проверку. Повторная отправка
// сбрасывает статус QC и увеличивает версию.
func (s *QCService) Submit(ctx context.Context, actor *models.Actor, bookingID uuid.UUID, in FeedbackInput) (*models.CallFeedback, error) {
	if actor == nil {
		return nil, apperror.ErrUnauthorized
	}
	if err := validation.ValidateFeedbackText(in.Text); err != nil {
		return nil, apperror.Validation(err.Error())
	}
	if err := validation.ValidateActions(in.Actions); err != nil {
		return nil, apperror.Validation(err.Error())
	}
	if err := validateRatings(in.RatingPreparation, in.RatingCommunication, in.RatingPotential); err != nil {
		return nil, err
	}

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != b.ProfessionalID {
		return nil, apperror.ErrForbidden
	}
	if b.Status != models.BookingStatusCompletedPendingFeedback {
		return nil, apperror.Conflict("отзыв принимается только после состоявшейся встречи")
	}

	actions := make([]string, len(in.Actions))
	for i, a := range in.Actions {
		actions[i] = strings.TrimSpace(a)
	}

	f := &models.CallFeedback{
		BookingID:           b.ID,
		CandidateID:         b.CandidateID,
		ProfessionalID:      b.ProfessionalID,
		Text:                in.Text,
		Actions:             actions,
		RatingPreparation:   in.RatingPreparation,
		RatingCommunication: in.RatingCommunication,
		RatingPotential:     in.RatingPotential,
		WordCount:           models.CountWords(in.Text),
		QCStatus:            models.QCStatusMissing,
		SubmittedAt:         s.now(),
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.feedback.Upsert(ctx, f); err != nil {
			return err
		}
		return s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityFeedback, b.ID, "submitted", actor, map[string]any{
			"version":    f.Version,
			"word_count": f.WordCount,
		}))
	})
	if err != nil {
		return nil, err
	}

	payload := queue.BookingPayload{BookingID: b.ID}
	if err := s.queue.Enqueue(ctx, queue.JobProcessQC, payload); err != nil {
		logger.FromContext(ctx).WithError(err).Error("qc: не удалось поставить проверку")
	}
	if err := s.queue.EnqueueIn(ctx, queue.JobQCTimeout, payload, s.cfg.TimeoutDelay); err != nil {
		logger.FromContext(ctx).WithError(err).Error("qc: не удалось поставить таймаут проверки")
	}
	return f, nil
}

// Process проверяет текущую версию отзыва. Повторный вызов безопасен.
func (s *QCService) Process(ctx context.Context, bookingID uuid.UUID) (QCResult, error) {
	f, err := s.feedback.GetByBookingID(ctx, bookingID)
	if err != nil {
		return QCResult{}, err
	}

	switch f.QCStatus {
	case models.QCStatusPassed:
		// проверка уже пройдена, досылаем пропущенные шаги
		if err := s.completeBooking(ctx, bookingID); err != nil {
			return QCResult{}, err
		}
		s.enqueuePayout(ctx, bookingID)
		return QCResult{Passed: true}, nil
	case models.QCStatusRevise:
		return QCResult{Passed: false, Reasons: f.QCReasons}, nil
	}

	result := s.Evaluate(f)
	if result.Passed && s.auditor != nil {
		verdict, err := s.runAuditor(ctx, f)
		if err != nil {
			return QCResult{}, err
		}
		if !verdict.Approved {
			result.Passed = false
			result.Reasons = append(result.Reasons, verdict.Reasons...)
			if len(result.Reasons) == 0 {
				result.Reasons = []string{"отзыв не прошёл автоматическую проверку качества"}
			}
		}
	}

	status := models.QCStatusRevise
	action := "qc_revise"
	if result.Passed {
		status = models.QCStatusPassed
		action = "qc_passed"
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.feedback.UpdateQC(ctx, bookingID, f.Version, status, result.Reasons, s.now()); err != nil {
			return err
		}
		if err := s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityFeedback, bookingID, action, nil, map[string]any{
			"version": f.Version,
			"reasons": result.Reasons,
		})); err != nil {
			return err
		}
		if !result.Passed {
			return nil
		}
		return s.completeBooking(ctx, bookingID)
	})
	if err != nil {
		return QCResult{}, err
	}

	logger.FromContext(ctx).WithFields(logrus.Fields{
		"booking_id": bookingID,
		"version":    f.Version,
		"passed":     result.Passed,
	}).Info("qc: проверка завершена")

	if result.Passed {
		s.enqueuePayout(ctx, bookingID)
	}
	return result, nil
}

// completeBooking переводит бронирование в completed, если оно ещё ждёт отзыва.
func (s *QCService) completeBooking(ctx context.Context, bookingID uuid.UUID) error {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.Status != models.BookingStatusCompletedPendingFeedback {
		return nil
	}
	_, err = s.machine.CompleteAfterQC(ctx, bookingID)
	return err
}

func (s *QCService) enqueuePayout(ctx context.Context, bookingID uuid.UUID) {
	if err := s.queue.Enqueue(ctx, queue.JobProcessPayout, queue.BookingPayload{BookingID: bookingID}); err != nil {
		logger.FromContext(ctx).WithError(err).Error("qc: не удалось поставить выплату")
	}
}

// runAuditor ограничивает проверку таймаутом. Любой сбой возвращается как
// Upstream, чтобы очередь повторила задачу.
func (s *QCService) runAuditor(ctx context.Context, f *models.CallFeedback) (*ai.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AuditTimeout)
	defer cancel()

	type outcome struct {
		verdict *ai.Verdict
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := s.auditor.AuditFeedback(ctx, f.Text, f.Actions)
		done <- outcome{verdict: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, apperror.Upstream(res.err, "ошибка автоматической проверки отзыва")
		}
		if res.verdict == nil {
			return nil, apperror.Upstream(nil, "пустой ответ автоматической проверки")
		}
		return res.verdict, nil
	case <-ctx.Done():
		return nil, apperror.Upstream(ctx.Err(), "превышено время автоматической проверки")
	}
}

// TimeoutCheck повторяет проверку, если отзыв так и остался без результата.
func (s *QCService) TimeoutCheck(ctx context.Context, bookingID uuid.UUID) error {
	f, err := s.feedback.GetByBookingID(ctx, bookingID)
	if apperror.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if f.QCStatus != models.QCStatusMissing {
		return nil
	}
	_, err = s.Process(ctx, bookingID)
	return err
}

// Recheck ручная перепроверка администратором.
func (s *QCService) Recheck(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) error {
	if !actor.IsAdmin() {
		return apperror.ErrForbidden
	}

	f, err := s.feedback.GetByBookingID(ctx, bookingID)
	if err != nil {
		return err
	}
	if f.QCStatus == models.QCStatusRevise {
		err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
			if _, err := s.feedback.ResetQC(ctx, bookingID); err != nil {
				return err
			}
			return s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityFeedback, bookingID, "qc_recheck", actor, map[string]any{
				"version": f.Version,
			}))
		})
		if err != nil {
			return err
		}
	}

	return s.queue.Enqueue(ctx, queue.JobProcessQC, queue.BookingPayload{BookingID: bookingID})
}

// Get возвращает отзыв участнику или администратору.
func (s *QCService) Get(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) (*models.CallFeedback, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := authorizeView(b, actor); err != nil {
		return nil, err
	}
	return s.feedback.GetByBookingID(ctx, bookingID)
}
