package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/pkg/apperror"
	"github.com/ignatzorin/consult-backend/internal/validation"
)

// DisputeService открывает и разрешает споры по бронированиям.
type DisputeService struct {
	tx       TxManager
	disputes DisputeRepository
	machine  *BookingService
	payments *PaymentService
	payouts  *PayoutService
	audit    AuditRepository
	now      func() time.Time
}

func NewDisputeService(tx TxManager, disputes DisputeRepository, machine *BookingService, payments *PaymentService, payouts *PayoutService, audit AuditRepository) *DisputeService {
	return &DisputeService{
		tx:       tx,
		disputes: disputes,
		machine:  machine,
		payments: payments,
		payouts:  payouts,
		audit:    audit,
		now:      time.Now,
	}
}

// Open открывает спор участником. Выплата блокируется до решения.
func (s *DisputeService) Open(ctx context.Context, actor *models.Actor, bookingID uuid.UUID, reason, description string) (*models.Dispute, error) {
	if err := validation.ValidateDisputeReason(reason); err != nil {
		return nil, apperror.Validation(err.Error())
	}
	if err := validation.ValidateOptionalText("описание спора", description, validation.MaxDisputeDescriptionLength); err != nil {
		return nil, apperror.Validation(err.Error())
	}
	reason = strings.TrimSpace(reason)

	var dispute *models.Dispute
	b, err := s.machine.transition(ctx, bookingID, actor, models.EventOpenDispute, func(ctx context.Context, b *models.Booking) (map[string]any, error) {
		initiator := actor.UserID
		d := &models.Dispute{
			ID:          uuid.New(),
			BookingID:   b.ID,
			InitiatorID: &initiator,
			Reason:      reason,
			Status:      models.DisputeStatusOpen,
		}
		if description = strings.TrimSpace(description); description != "" {
			d.Description = &description
		}
		if err := s.disputes.Create(ctx, d); err != nil {
			return nil, err
		}
		if err := s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityDispute, d.ID, "opened", actor, map[string]any{
			"booking_id": b.ID,
			"reason":     reason,
		})); err != nil {
			return nil, err
		}
		if _, err := s.payouts.block(ctx, b, models.PayoutBlockedDispute); err != nil {
			return nil, err
		}
		dispute = d
		return map[string]any{"dispute_id": d.ID}, nil
	})
	if err != nil {
		return nil, err
	}

	s.machine.notify(ctx, b, "booking.dispute_opened")
	return dispute, nil
}

// ResolveInput решение администратора.
type ResolveInput struct {
	Resolution  models.DisputeResolution
	AmountCents *int64
	Note        string
}

// Resolve разрешает спор: возврат (полный или частичный) или отклонение с выплатой специалисту.
func (s *DisputeService) Resolve(ctx context.Context, actor *models.Actor, disputeID uuid.UUID, in ResolveInput) (*models.Dispute, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	if !in.Resolution.IsValid() {
		return nil, apperror.Validation("неизвестный вариант решения спора")
	}
	if err := validation.ValidateOptionalText("комментарий к решению", in.Note, validation.MaxResolutionNoteLength); err != nil {
		return nil, apperror.Validation(err.Error())
	}

	var (
		dispute *models.Dispute
		booking *models.Booking
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.disputes.GetByID(ctx, disputeID)
		if err != nil {
			return err
		}
		if !d.IsOpen() {
			return apperror.Conflict("спор уже разрешён")
		}

		var refunded *int64
		switch in.Resolution {
		case models.ResolutionFullRefund, models.ResolutionPartialRefund:
			booking, err = s.machine.transition(ctx, d.BookingID, actor, models.EventResolveRefund, func(ctx context.Context, b *models.Booking) (map[string]any, error) {
				p, err := s.payments.GetByBooking(ctx, b.ID)
				if err != nil {
					return nil, err
				}
				amount, err := s.payments.CalculateRefundAmount(p, in.Resolution, in.AmountCents)
				if err != nil {
					return nil, err
				}
				var explicit *int64
				if in.Resolution == models.ResolutionPartialRefund {
					explicit = &amount
				}
				if _, err := s.payments.Refund(ctx, b.ID, explicit); err != nil {
					return nil, err
				}
				if _, err := s.payouts.block(ctx, b, models.PayoutBlockedRefund); err != nil {
					return nil, err
				}
				refunded = &amount
				return map[string]any{"dispute_id": d.ID, "refund_cents": amount}, nil
			})
		case models.ResolutionDismiss:
			booking, err = s.machine.transition(ctx, d.BookingID, actor, models.EventResolveDismiss, func(ctx context.Context, b *models.Booking) (map[string]any, error) {
				payout, err := s.payments.Release(ctx, b)
				if err != nil {
					return nil, err
				}
				return map[string]any{"dispute_id": d.ID, "released": payout != nil}, nil
			})
		}
		if err != nil {
			return err
		}

		now := s.now()
		kind := in.Resolution
		resolvedBy := actor.UserID
		d.ResolutionKind = &kind
		d.ResolvedByID = &resolvedBy
		d.ResolvedAt = &now
		d.RefundCents = refunded
		if note := strings.TrimSpace(in.Note); note != "" {
			d.Resolution = &note
		}
		if err := s.disputes.Resolve(ctx, d); err != nil {
			return err
		}
		dispute = d
		return s.audit.Append(ctx, models.NewAuditEntry(models.AuditEntityDispute, d.ID, "resolved", actor, map[string]any{
			"resolution":   kind,
			"refund_cents": refunded,
		}))
	})
	if err != nil {
		return nil, err
	}

	s.machine.notify(ctx, booking, "booking.dispute_resolved")
	return dispute, nil
}

// Get возвращает спор участнику бронирования или администратору.
func (s *DisputeService) Get(ctx context.Context, actor *models.Actor, disputeID uuid.UUID) (*models.Dispute, error) {
	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if _, err := s.machine.Get(ctx, actor, d.BookingID); err != nil {
		return nil, err
	}
	return d, nil
}

// ListByBooking возвращает споры бронирования.
func (s *DisputeService) ListByBooking(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) ([]models.Dispute, error) {
	if _, err := s.machine.Get(ctx, actor, bookingID); err != nil {
		return nil, err
	}
	return s.disputes.ListByBooking(ctx, bookingID)
}
