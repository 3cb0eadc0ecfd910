package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/consult-backend/internal/logger"
	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/pkg/apperror"
)

// PaymentService управляет холдом средств кандидата: авторизация, списание,
// возврат и расчёт выплаты специалисту.
type PaymentService struct {
	tx       TxManager
	payments PaymentRepository
	payouts  PayoutRepository
	audit    AuditRepository
	gateway  PaymentGateway
	currency string
	now      func() time.Time
}

func NewPaymentService(tx TxManager, payments PaymentRepository, payouts PayoutRepository, audit AuditRepository, gateway PaymentGateway, currency string) *PaymentService {
	return &PaymentService{
		tx:       tx,
		payments: payments,
		payouts:  payouts,
		audit:    audit,
		gateway:  gateway,
		currency: currency,
		now:      time.Now,
	}
}

// PlatformFee комиссия платформы с суммы брутто.
func (s *PaymentService) PlatformFee(amountCents int64) int64 {
	return models.CalculatePlatformFee(amountCents)
}

// Authorize ставит холд на сумму бронирования. Повторный вызов возвращает существующий платёж.
func (s *PaymentService) Authorize(ctx context.Context, b *models.Booking, source string) (*models.Payment, error) {
	existing, err := s.payments.GetByBookingID(ctx, b.ID)
	if err == nil {
		return existing, nil
	}
	if !apperror.IsNotFound(err) {
		return nil, err
	}

	ref, err := s.gateway.Authorize(ctx, AuthorizeRequest{
		BookingID:   b.ID,
		AmountCents: b.PriceCents,
		Currency:    s.currency,
		Source:      source,
		Description: fmt.Sprintf("booking %s", b.ID),
	})
	if err != nil {
		return nil, apperror.Upstream(err, "не удалось авторизовать платёж")
	}

	payment := &models.Payment{
		ID:          uuid.New(),
		BookingID:   b.ID,
		ExternalRef: ref,
		Status:      models.PaymentStatusAuthorized,
		AmountGross: b.PriceCents,
		Currency:    s.currency,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.payments.Create(ctx, payment); err != nil {
			return err
		}
		return s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityPayment, payment.ID, "authorized", nil, map[string]any{
			"booking_id": b.ID,
			"amount":     payment.AmountGross,
		}))
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// Confirm переводит платёж в held по вебхуку процессора. Повторная доставка ничего не меняет.
func (s *PaymentService) Confirm(ctx context.Context, ref string) (*models.Payment, error) {
	return s.advance(ctx, ref, models.PaymentStatusHeld, "held")
}

// Fail отмечает неуспешную авторизацию.
func (s *PaymentService) Fail(ctx context.Context, ref string) (*models.Payment, error) {
	return s.advance(ctx, ref, models.PaymentStatusCaptureFailed, "capture_failed")
}

func (s *PaymentService) advance(ctx context.Context, ref string, to models.PaymentStatus, action string) (*models.Payment, error) {
	var result *models.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetByRef(ctx, ref)
		if err != nil {
			return err
		}
		if !p.Status.CanAdvanceTo(to) {
			result = p
			return nil
		}

		updated, err := s.payments.UpdateStatus(ctx, p.ID, p.Status, to)
		if apperror.IsConflict(err) {
			// конкурентная доставка того же события успела раньше
			result, err = s.payments.GetByRef(ctx, ref)
			return err
		}
		if err != nil {
			return err
		}
		result = updated
		return s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityPayment, p.ID, action, nil, map[string]any{
			"from": p.Status,
			"to":   to,
		}))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Void снимает холд без списания (отклонение, истечение, ранняя отмена).
func (s *PaymentService) Void(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	var result *models.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetByBookingID(ctx, bookingID)
		if err != nil {
			return err
		}
		if p.Status.IsFinal() {
			result = p
			return nil
		}
		if p.IsCaptured() {
			return apperror.Conflict("средства уже списаны, снять холд нельзя")
		}

		if err := s.gateway.Reverse(ctx, p.ExternalRef); err != nil {
			return apperror.Upstream(err, "не удалось снять холд")
		}

		updated, err := s.payments.UpdateStatus(ctx, p.ID, p.Status, models.PaymentStatusCancelled)
		if err != nil {
			return err
		}
		result = updated
		return s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityPayment, p.ID, "voided", nil, map[string]any{
			"booking_id": bookingID,
		}))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Release списывает холд и создаёт выплату специалисту в статусе pending.
// Если холд уже снят или не прошёл, списывать нечего: возвращает nil без ошибки.
func (s *PaymentService) Release(ctx context.Context, b *models.Booking) (*models.Payout, error) {
	return s.captureWithPayout(ctx, b, "released")
}

// Forfeit списывает холд при поздней отмене кандидатом.
func (s *PaymentService) Forfeit(ctx context.Context, b *models.Booking) (*models.Payout, error) {
	return s.captureWithPayout(ctx, b, "forfeited")
}

func (s *PaymentService) captureWithPayout(ctx context.Context, b *models.Booking, action string) (*models.Payout, error) {
	var payout *models.Payout
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetByBookingID(ctx, b.ID)
		if err != nil {
			return err
		}
		if !p.IsCaptured() && p.Status.IsFinal() {
			logger.FromContext(ctx).WithFields(logrus.Fields{
				"booking_id": b.ID,
				"status":     p.Status,
			}).Warn("payment: холд недоступен, списывать нечего")
			return nil
		}

		p, err = s.capture(ctx, b.ID)
		if err != nil {
			return err
		}

		payout = models.NewPayout(b.ID, b.ProfessionalID, p.AmountGross, models.PayoutStatusPending)
		if err := s.payouts.Upsert(ctx, payout); err != nil {
			if errors.Is(err, apperror.ErrPayoutPaid) {
				payout, err = s.payouts.GetByBookingID(ctx, b.ID)
			}
			return err
		}
		return s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityPayout, payout.ID, action, nil, map[string]any{
			"booking_id": b.ID,
			"gross":      payout.AmountGross,
			"fee":        payout.PlatformFeeCents,
			"net":        payout.AmountNet,
		}))
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

// capture списывает холд, если это ещё не сделано.
func (s *PaymentService) capture(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	p, err := s.payments.GetByBookingID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if p.IsCaptured() {
		return p, nil
	}
	if p.Status.IsFinal() {
		return nil, apperror.Validation("платёж не может быть списан в статусе " + string(p.Status))
	}

	if err := s.gateway.Capture(ctx, p.ExternalRef); err != nil {
		return nil, apperror.Upstream(err, "не удалось списать средства")
	}

	captured, err := s.payments.MarkCaptured(ctx, p.ID, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityPayment, p.ID, "captured", nil, map[string]any{
		"amount": p.AmountGross,
	})); err != nil {
		return nil, err
	}
	return captured, nil
}

// CalculateRefundAmount сумма возврата по решению спора.
func (s *PaymentService) CalculateRefundAmount(p *models.Payment, kind models.DisputeResolution, explicit *int64) (int64, error) {
	switch kind {
	case models.ResolutionFullRefund:
		return p.RefundableCents(), nil
	case models.ResolutionPartialRefund:
		if explicit == nil {
			return 0, apperror.ErrPartialRefund
		}
		return *explicit, nil
	case models.ResolutionDismiss:
		return 0, nil
	}
	return 0, apperror.Validation("неизвестный вариант решения спора")
}

// Refund возвращает кандидату amountCents, nil означает весь остаток.
// Несписанный холд при полном возврате просто снимается.
func (s *PaymentService) Refund(ctx context.Context, bookingID uuid.UUID, amountCents *int64) (*models.Payment, error) {
	var result *models.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetByBookingID(ctx, bookingID)
		if err != nil {
			return err
		}

		refundable := p.RefundableCents()
		amount := refundable
		if amountCents != nil {
			amount = *amountCents
			if amount <= 0 {
				return apperror.Validation("сумма возврата должна быть положительной")
			}
			if amount > refundable {
				return apperror.ErrAmountExceeds
			}
		}
		if amount == 0 {
			result = p
			return nil
		}

		switch {
		case !p.IsCaptured() && amount == p.AmountGross:
			if !p.Status.IsFinal() {
				if err := s.gateway.Reverse(ctx, p.ExternalRef); err != nil {
					return apperror.Upstream(err, "не удалось снять холд")
				}
				if _, err := s.payments.UpdateStatus(ctx, p.ID, p.Status, models.PaymentStatusCancelled); err != nil {
					return err
				}
			}
		default:
			if !p.IsCaptured() {
				if p, err = s.capture(ctx, bookingID); err != nil {
					return err
				}
			}
			if err := s.gateway.Refund(ctx, p.ExternalRef, amount, RefundKey(p.ExternalRef, p.RefundedCents, amount)); err != nil {
				return apperror.Upstream(err, "не удалось вернуть средства")
			}
		}

		updated, err := s.payments.AddRefund(ctx, p.ID, amount)
		if err != nil {
			return err
		}
		result = updated

		logger.FromContext(ctx).WithFields(logrus.Fields{
			"booking_id": bookingID,
			"amount":     amount,
		}).Info("payment: возврат зафиксирован")
		return s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityPayment, p.ID, "refunded", nil, map[string]any{
			"amount":         amount,
			"refunded_total": updated.RefundedCents,
		}))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RefundKey ключ идемпотентности возврата. Зависит от уже возвращённой суммы,
// поэтому повтор после несохранённого возврата получает тот же ключ.
func RefundKey(ref string, refundedCents, amountCents int64) string {
	return fmt.Sprintf("refund-%s-%d-%d", ref, refundedCents, amountCents)
}

// GetByBooking возвращает платёж бронирования.
func (s *PaymentService) GetByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	return s.payments.GetByBookingID(ctx, bookingID)
}
