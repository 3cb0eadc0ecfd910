package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/pkg/apperror"
)

func TestPlatformFee(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		gross int64
		fee   int64
		net   int64
	}{
		{gross: 10000, fee: 2000, net: 8000},
		{gross: 12345, fee: 2469, net: 9876},
		{gross: 1001, fee: 200, net: 801},
		{gross: 1, fee: 0, net: 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.fee, h.paymentSvc.PlatformFee(tt.gross), "gross %d", tt.gross)

		payout := models.NewPayout(h.candidate.UserID, h.professional.UserID, tt.gross, models.PayoutStatusPending)
		assert.Equal(t, tt.net, payout.AmountNet)
		assert.Equal(t, tt.gross, payout.PlatformFeeCents+payout.AmountNet)
	}
}

func TestAuthorize_ReturnsExistingPayment(t *testing.T) {
	h := newHarness(t, nil)
	b := h.request(t)

	again, err := h.paymentSvc.Authorize(context.Background(), b, "tokn_other")
	require.NoError(t, err)

	assert.Equal(t, h.payment(t, b.ID).ID, again.ID)
	assert.Len(t, h.gateway.authorized, 1)
}

func TestConfirm_Idempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	b := h.request(t)
	ref := h.payment(t, b.ID).ExternalRef

	first, err := h.paymentSvc.Confirm(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusHeld, first.Status)

	second, err := h.paymentSvc.Confirm(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusHeld, second.Status)
	assert.Equal(t, 1, h.audit.count("held"))
}

func TestConfirm_DoesNotReviveVoidedPayment(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	b := h.request(t)
	ref := h.payment(t, b.ID).ExternalRef

	_, err := h.machine.Decline(ctx, h.professional, b.ID, "")
	require.NoError(t, err)

	p, err := h.paymentSvc.Confirm(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, p.Status)
}

func TestConfirm_UnknownRef(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.paymentSvc.Confirm(context.Background(), "chrg_missing")
	assert.True(t, apperror.IsNotFound(err))
}

func TestVoid_AfterCaptureIsConflict(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	b := h.accepted(t, 24*time.Hour)

	_, err := h.paymentSvc.Release(ctx, b)
	require.NoError(t, err)

	_, err = h.paymentSvc.Void(ctx, b.ID)
	assert.True(t, apperror.IsConflict(err))
	assert.Empty(t, h.gateway.reversed)
}

func TestVoid_GatewayFailure(t *testing.T) {
	h := newHarness(t, nil)
	b := h.request(t)
	h.gateway.reverseErr = errors.New("omise: timeout")

	_, err := h.paymentSvc.Void(context.Background(), b.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsUpstream(err))
	assert.Equal(t, models.PaymentStatusAuthorized, h.payment(t, b.ID).Status)
}

func TestRelease_Idempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	b := h.accepted(t, 24*time.Hour)

	first, err := h.paymentSvc.Release(ctx, b)
	require.NoError(t, err)
	second, err := h.paymentSvc.Release(ctx, b)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, h.gateway.captured, 1)
	assert.Equal(t, int64(2000), second.PlatformFeeCents)
	assert.Equal(t, int64(8000), second.AmountNet)
}

func TestRefund(t *testing.T) {
	amount := func(v int64) *int64 { return &v }

	t.Run("full refund of uncaptured hold reverses it", func(t *testing.T) {
		h := newHarness(t, nil)
		b := h.request(t)

		p, err := h.paymentSvc.Refund(context.Background(), b.ID, nil)
		require.NoError(t, err)

		assert.Equal(t, int64(testPriceCents), p.RefundedCents)
		assert.Equal(t, models.PaymentStatusCancelled, h.payment(t, b.ID).Status)
		assert.Len(t, h.gateway.reversed, 1)
		assert.Empty(t, h.gateway.refunded)
	})

	t.Run("partial refund captures first", func(t *testing.T) {
		h := newHarness(t, nil)
		b := h.request(t)

		p, err := h.paymentSvc.Refund(context.Background(), b.ID, amount(3000))
		require.NoError(t, err)

		assert.True(t, p.IsCaptured())
		assert.Equal(t, int64(3000), p.RefundedCents)
		assert.Equal(t, int64(7000), p.RefundableCents())
		assert.Equal(t, int64(3000), h.gateway.refunded[p.ExternalRef])
	})

	t.Run("retry after failed write refunds once", func(t *testing.T) {
		h := newHarness(t, nil)
		ctx := context.Background()
		b := h.request(t)
		h.payments.addRefundErr = errors.New("db: connection reset")

		_, err := h.paymentSvc.Refund(ctx, b.ID, amount(3000))
		require.Error(t, err)
		assert.Zero(t, h.payment(t, b.ID).RefundedCents)

		p, err := h.paymentSvc.Refund(ctx, b.ID, amount(3000))
		require.NoError(t, err)
		assert.Equal(t, int64(3000), p.RefundedCents)
		assert.Equal(t, int64(3000), h.gateway.refunded[p.ExternalRef])
		assert.Len(t, h.gateway.refundKeys, 1)

		// следующий возврат уже другой операцией
		_, err = h.paymentSvc.Refund(ctx, b.ID, amount(3000))
		require.NoError(t, err)
		assert.Equal(t, int64(6000), h.gateway.refunded[p.ExternalRef])
	})

	t.Run("amount exceeds refundable", func(t *testing.T) {
		h := newHarness(t, nil)
		b := h.request(t)

		_, err := h.paymentSvc.Refund(context.Background(), b.ID, amount(testPriceCents+1))
		assert.ErrorIs(t, err, apperror.ErrAmountExceeds)
		assert.Empty(t, h.gateway.captured)
	})

	t.Run("non positive amount", func(t *testing.T) {
		h := newHarness(t, nil)
		b := h.request(t)

		_, err := h.paymentSvc.Refund(context.Background(), b.ID, amount(0))
		assert.True(t, apperror.IsValidation(err))
	})
}

func TestCalculateRefundAmount(t *testing.T) {
	h := newHarness(t, nil)
	p := &models.Payment{AmountGross: 10000, RefundedCents: 2500}
	explicit := int64(1200)

	full, err := h.paymentSvc.CalculateRefundAmount(p, models.ResolutionFullRefund, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7500), full)

	partial, err := h.paymentSvc.CalculateRefundAmount(p, models.ResolutionPartialRefund, &explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, partial)

	_, err = h.paymentSvc.CalculateRefundAmount(p, models.ResolutionPartialRefund, nil)
	assert.Equal(t, apperror.ErrCodePolicyUnimplemented, apperror.CodeOf(err))

	dismiss, err := h.paymentSvc.CalculateRefundAmount(p, models.ResolutionDismiss, nil)
	require.NoError(t, err)
	assert.Zero(t, dismiss)
}
