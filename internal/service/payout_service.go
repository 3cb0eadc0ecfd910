package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/consult-backend/internal/logger"
	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/pkg/apperror"
)

// PayoutService открывает или блокирует выплату специалисту.
type PayoutService struct {
	tx       TxManager
	bookings BookingRepository
	feedback FeedbackRepository
	disputes DisputeRepository
	payouts  PayoutRepository
	payments *PaymentService
	audit    AuditRepository
	now      func() time.Time
}

func NewPayoutService(tx TxManager, bookings BookingRepository, feedback FeedbackRepository, disputes DisputeRepository, payouts PayoutRepository, payments *PaymentService, audit AuditRepository) *PayoutService {
	return &PayoutService{
		tx:       tx,
		bookings: bookings,
		feedback: feedback,
		disputes: disputes,
		payouts:  payouts,
		payments: payments,
		audit:    audit,
		now:      time.Now,
	}
}

// Process выпускает выплату для завершённого бронирования с принятым отзывом.
// При открытом споре выплата блокируется, в остальных случаях ничего не меняется.
// Возвращает nil без ошибки, если выплачивать пока нечего.
func (s *PayoutService) Process(ctx context.Context, bookingID uuid.UUID) (*models.Payout, error) {
	var payout *models.Payout
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}

		disputed, err := s.hasOpenDispute(ctx, b)
		if err != nil {
			return err
		}
		if disputed {
			payout, err = s.block(ctx, b, models.PayoutBlockedDispute)
			return err
		}

		if b.Status != models.BookingStatusCompleted {
			logger.FromContext(ctx).WithFields(logrus.Fields{
				"booking_id": b.ID,
				"status":     b.Status,
			}).Info("payout: бронирование не готово к выплате")
			return nil
		}

		f, err := s.feedback.GetByBookingID(ctx, b.ID)
		if apperror.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if f.QCStatus != models.QCStatusPassed {
			return nil
		}

		payout, err = s.payments.Release(ctx, b)
		return err
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

func (s *PayoutService) hasOpenDispute(ctx context.Context, b *models.Booking) (bool, error) {
	if b.Status == models.BookingStatusDisputePending {
		return true, nil
	}
	_, err := s.disputes.GetOpenByBookingID(ctx, b.ID)
	if apperror.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Block блокирует выплату по бронированию.
func (s *PayoutService) Block(ctx context.Context, bookingID uuid.UUID, reason string) (*models.Payout, error) {
	var payout *models.Payout
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		payout, err = s.block(ctx, b, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

// block переводит выплату в blocked, создавая её при необходимости.
// У уже заблокированной обновляется причина, проведённая остаётся как есть.
func (s *PayoutService) block(ctx context.Context, b *models.Booking, reason string) (*models.Payout, error) {
	existing, err := s.payouts.GetByBookingID(ctx, b.ID)
	switch {
	case err == nil:
		if existing.Status == models.PayoutStatusPaid {
			return existing, nil
		}
		if existing.Status == models.PayoutStatusBlocked && existing.BlockedReason != nil && *existing.BlockedReason == reason {
			return existing, nil
		}
		if _, err := s.payouts.Block(ctx, b.ID, reason); err != nil {
			return nil, err
		}
		existing.Status = models.PayoutStatusBlocked
		existing.BlockedReason = &reason
	case apperror.IsNotFound(err):
		existing = models.NewPayout(b.ID, b.ProfessionalID, b.PriceCents, models.PayoutStatusBlocked)
		existing.BlockedReason = &reason
		if err := s.payouts.Upsert(ctx, existing); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if err := s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityPayout, existing.ID, "blocked", nil, map[string]any{
		"booking_id": b.ID,
		"reason":     reason,
	})); err != nil {
		return nil, err
	}
	return existing, nil
}

// MarkPaid отмечает выплату проведённой вне системы.
func (s *PayoutService) MarkPaid(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) (*models.Payout, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}

	var payout *models.Payout
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		payout, err = s.payouts.MarkPaid(ctx, bookingID, s.now())
		if err != nil {
			return err
		}
		return s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityPayout, payout.ID, "paid", actor, map[string]any{
			"booking_id": bookingID,
			"net":        payout.AmountNet,
		}))
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

// Get возвращает выплату участнику или администратору.
func (s *PayoutService) Get(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) (*models.Payout, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := authorizeView(b, actor); err != nil {
		return nil, err
	}
	return s.payouts.GetByBookingID(ctx, bookingID)
}
