package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/pkg/apperror"
	"github.com/ignatzorin/consult-backend/internal/queue"
)

func TestRequestBooking_HoldsFunds(t *testing.T) {
	h := newHarness(t, nil)

	b := h.request(t)

	assert.Equal(t, models.BookingStatusRequested, b.Status)
	assert.Equal(t, h.now.Add(48*time.Hour), b.ExpiresAt)
	assert.Equal(t, models.DefaultTimezone, b.Timezone)

	p := h.payment(t, b.ID)
	assert.Equal(t, models.PaymentStatusAuthorized, p.Status)
	assert.Equal(t, int64(testPriceCents), p.AmountGross)
	require.Len(t, h.gateway.authorized, 1)
	assert.Equal(t, "tokn_test", h.gateway.authorized[0].Source)

	assert.Equal(t, []string{"request"}, h.audit.actions(models.AuditEntityBooking, b.ID))
	assert.Equal(t, []string{"booking.requested"}, h.notifier.types())
}

func TestRequestBooking_Validation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		actor *models.Actor
		in    RequestBookingInput
		code  apperror.ErrorCode
	}{
		{
			name:  "professional cannot request",
			actor: h.professional,
			in:    RequestBookingInput{ProfessionalID: uuid.New(), PriceCents: 100, PaymentSource: "tokn"},
			code:  apperror.ErrCodeForbidden,
		},
		{
			name:  "self booking",
			actor: h.candidate,
			in:    RequestBookingInput{ProfessionalID: h.candidate.UserID, PriceCents: 100, PaymentSource: "tokn"},
			code:  apperror.ErrCodeValidation,
		},
		{
			name:  "zero price",
			actor: h.candidate,
			in:    RequestBookingInput{ProfessionalID: h.professional.UserID, PaymentSource: "tokn"},
			code:  apperror.ErrCodeValidation,
		},
		{
			name:  "missing source",
			actor: h.candidate,
			in:    RequestBookingInput{ProfessionalID: h.professional.UserID, PriceCents: 100},
			code:  apperror.ErrCodeValidation,
		},
		{
			name:  "unknown timezone",
			actor: h.candidate,
			in:    RequestBookingInput{ProfessionalID: h.professional.UserID, PriceCents: 100, PaymentSource: "tokn", Timezone: "Mars/Olympus"},
			code:  apperror.ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.machine.RequestBooking(ctx, tt.actor, tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperror.CodeOf(err))
		})
	}
	assert.Empty(t, h.gateway.authorized)
}

func TestRequestBooking_GatewayFailureIsRetryable(t *testing.T) {
	h := newHarness(t, nil)
	h.gateway.authErr = errors.New("omise: 503")

	_, err := h.machine.RequestBooking(context.Background(), h.candidate, RequestBookingInput{
		ProfessionalID: h.professional.UserID,
		PriceCents:     testPriceCents,
		PaymentSource:  "tokn_test",
	})

	require.Error(t, err)
	assert.True(t, apperror.IsUpstream(err))
	assert.True(t, apperror.IsRetryable(err))
	assert.Empty(t, h.notifier.events)
}

func TestAccept(t *testing.T) {
	h := newHarness(t, nil)
	b := h.request(t)
	slot := h.slotIn(24 * time.Hour)

	accepted, err := h.machine.Accept(context.Background(), h.professional, b.ID, slot)
	require.NoError(t, err)

	assert.Equal(t, models.BookingStatusAccepted, accepted.Status)
	require.NotNil(t, accepted.StartAt)
	assert.True(t, accepted.StartAt.Equal(slot.StartAt))
	assert.Equal(t, time.Hour, accepted.Duration())

	require.Len(t, h.queue.jobs, 1)
	assert.Equal(t, queue.JobConfirmBooking, h.queue.jobs[0].name)
	assert.Equal(t, queue.BookingPayload{BookingID: b.ID}, h.queue.jobs[0].payload)
	assert.Contains(t, h.notifier.types(), "booking.accepted")
}

func TestAccept_Rejections(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	b := h.request(t)
	stranger := &models.Actor{UserID: uuid.New(), Role: models.RoleProfessional}

	_, err := h.machine.Accept(ctx, h.candidate, b.ID, h.slotIn(time.Hour))
	assert.True(t, apperror.IsForbidden(err))

	_, err = h.machine.Accept(ctx, stranger, b.ID, h.slotIn(time.Hour))
	assert.True(t, apperror.IsForbidden(err))

	_, err = h.machine.Accept(ctx, h.professional, b.ID, Slot{StartAt: h.now.Add(-time.Hour), EndAt: h.now})
	assert.True(t, apperror.IsValidation(err))

	_, err = h.machine.Accept(ctx, nil, b.ID, h.slotIn(time.Hour))
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	_, err = h.machine.Accept(ctx, h.professional, uuid.New(), h.slotIn(time.Hour))
	assert.True(t, apperror.IsNotFound(err))

	assert.Equal(t, models.BookingStatusRequested, h.booking(t, b.ID).Status)
	assert.Empty(t, h.queue.jobs)
}

func TestAccept_AfterFailedPayment(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	b := h.request(t)

	_, err := h.paymentSvc.Fail(ctx, h.payment(t, b.ID).ExternalRef)
	require.NoError(t, err)

	_, err = h.machine.Accept(ctx, h.professional, b.ID, h.slotIn(24*time.Hour))
	assert.True(t, apperror.IsValidation(err))
	assert.Equal(t, models.BookingStatusRequested, h.booking(t, b.ID).Status)
}

func TestDecline_VoidsHold(t *testing.T) {
	h := newHarness(t, nil)
	b := h.request(t)

	declined, err := h.machine.Decline(context.Background(), h.professional, b.ID, "  нет свободного времени ")
	require.NoError(t, err)

	assert.Equal(t, models.BookingStatusDeclined, declined.Status)
	require.NotNil(t, declined.DeclineReason)
	assert.Equal(t, "нет свободного времени", *declined.DeclineReason)
	assert.Equal(t, models.PaymentStatusCancelled, h.payment(t, b.ID).Status)
	assert.Len(t, h.gateway.reversed, 1)

	_, err = h.machine.Accept(context.Background(), h.professional, b.ID, h.slotIn(time.Hour))
	assert.True(t, apperror.IsConflict(err))
}

func TestCancel_LateCancellation(t *testing.T) {
	tests := []struct {
		name        string
		startIn     time.Duration
		byCandidate bool
		late        bool
		forfeited   bool
	}{
		{name: "candidate 3h before start", startIn: 3 * time.Hour, byCandidate: true, late: true, forfeited: true},
		{name: "candidate 10h before start", startIn: 10 * time.Hour, byCandidate: true},
		{name: "professional 3h before start", startIn: 3 * time.Hour, late: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			b := h.accepted(t, tt.startIn)
			actor := h.professional
			if tt.byCandidate {
				actor = h.candidate
			}

			cancelled, err := h.machine.Cancel(context.Background(), actor, b.ID)
			require.NoError(t, err)

			assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)
			assert.Equal(t, tt.late, cancelled.LateCancellation)
			require.NotNil(t, cancelled.CancelledByID)
			assert.Equal(t, actor.UserID, *cancelled.CancelledByID)

			p := h.payment(t, b.ID)
			if tt.forfeited {
				assert.True(t, p.IsCaptured())
				assert.Len(t, h.gateway.captured, 1)
				payout, err := h.payouts.GetByBookingID(context.Background(), b.ID)
				require.NoError(t, err)
				assert.Equal(t, models.PayoutStatusPending, payout.Status)
				assert.Equal(t, int64(8000), payout.AmountNet)
				return
			}
			assert.Equal(t, models.PaymentStatusCancelled, p.Status)
			assert.Len(t, h.gateway.reversed, 1)
			_, err = h.payouts.GetByBookingID(context.Background(), b.ID)
			assert.True(t, apperror.IsNotFound(err))
		})
	}
}

func TestCancel_LateWithFailedHold(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	b := h.accepted(t, 10*time.Hour)
	_, err := h.paymentSvc.Fail(ctx, h.payment(t, b.ID).ExternalRef)
	require.NoError(t, err)
	h.advance(7 * time.Hour)

	cancelled, err := h.machine.Cancel(ctx, h.candidate, b.ID)
	require.NoError(t, err)

	assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)
	assert.True(t, cancelled.LateCancellation)
	assert.Empty(t, h.gateway.captured)
	assert.Empty(t, h.gateway.reversed)
	_, err = h.payouts.GetByBookingID(ctx, b.ID)
	assert.True(t, apperror.IsNotFound(err))

	entries, err := h.audit.ListByEntity(ctx, models.AuditEntityBooking, b.ID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, string(models.EventCancel), last.Action)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(last.Metadata, &meta))
	assert.Equal(t, true, meta["late"])
	assert.Equal(t, false, meta["forfeited"])
	assert.Equal(t, string(models.PaymentStatusCaptureFailed), meta["payment_status"])
}

func TestCancel_DeletesMeeting(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	b := h.accepted(t, 24*time.Hour)

	h.meetings.On("CreateMeeting", mock.Anything, mock.AnythingOfType("service.MeetingRequest")).
		Return(&Meeting{ID: "zm-1", JoinURL: "https://zoom.test/j/1", HostURL: "https://zoom.test/s/1"}, nil).Once()
	h.meetings.On("DeleteMeeting", mock.Anything, "zm-1").Return(errors.New("zoom down")).Once()

	_, err := h.machine.AttachMeeting(ctx, b.ID)
	require.NoError(t, err)

	// сбой удаления встречи не откатывает отмену
	cancelled, err := h.machine.Cancel(ctx, h.candidate, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)
}

func TestExpire(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	b := h.request(t)

	_, err := h.machine.Expire(ctx, b.ID)
	assert.True(t, apperror.IsConflict(err), "срок ещё не истёк")

	h.advance(49 * time.Hour)
	expired, err := h.machine.Expire(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusExpired, expired.Status)
	assert.Equal(t, models.PaymentStatusCancelled, h.payment(t, b.ID).Status)

	_, err = h.machine.Expire(ctx, b.ID)
	assert.True(t, apperror.IsConflict(err))
}

func TestReschedule(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	b := h.accepted(t, 24*time.Hour)
	h.queue.jobs = nil

	proposed := h.slotIn(72 * time.Hour)
	pending, err := h.machine.RequestReschedule(ctx, h.candidate, b.ID, proposed)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusReschedulePending, pending.Status)
	require.NotNil(t, pending.ProposedStartAt)

	_, err = h.machine.ConfirmReschedule(ctx, h.candidate, b.ID)
	assert.True(t, apperror.IsForbidden(err), "подтверждает только специалист")

	confirmed, err := h.machine.ConfirmReschedule(ctx, h.professional, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusAccepted, confirmed.Status)
	assert.True(t, confirmed.StartAt.Equal(proposed.StartAt))
	assert.Nil(t, confirmed.ProposedStartAt)

	require.Len(t, h.queue.jobs, 1)
	assert.Equal(t, queue.JobRescheduleBooking, h.queue.jobs[0].name)
}

func TestRejectReschedule_KeepsSlot(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	b := h.accepted(t, 24*time.Hour)

	_, err := h.machine.RequestReschedule(ctx, h.professional, b.ID, h.slotIn(48*time.Hour))
	require.NoError(t, err)

	rejected, err := h.machine.RejectReschedule(ctx, h.professional, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusAccepted, rejected.Status)
	assert.True(t, rejected.StartAt.Equal(*b.StartAt))
	assert.Nil(t, rejected.ProposedStartAt)
}

func TestAttachMeeting_Idempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	b := h.accepted(t, 24*time.Hour)

	h.meetings.On("CreateMeeting", mock.Anything, mock.MatchedBy(func(req MeetingRequest) bool {
		return req.Duration == time.Hour && req.StartAt.Equal(*b.StartAt)
	})).Return(&Meeting{ID: "zm-1", JoinURL: "https://zoom.test/j/1", HostURL: "https://zoom.test/s/1"}, nil).Once()

	first, err := h.machine.AttachMeeting(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, first.ZoomMeetingID)
	assert.Equal(t, "zm-1", *first.ZoomMeetingID)

	second, err := h.machine.AttachMeeting(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "zm-1", *second.ZoomMeetingID)
	assert.Equal(t, 1, h.audit.count("meeting_attached"))
}

func TestAttachMeeting_ProviderFailureIsRetryable(t *testing.T) {
	h := newHarness(t, nil)
	b := h.accepted(t, 24*time.Hour)
	h.meetings.On("CreateMeeting", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()

	_, err := h.machine.AttachMeeting(context.Background(), b.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsRetryable(err))
	assert.Nil(t, h.booking(t, b.ID).ZoomMeetingID)
}

func TestRecordAttendance(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	b := h.accepted(t, time.Hour)
	joinedAt := h.now.Add(time.Hour)

	require.NoError(t, h.machine.RecordAttendance(ctx, b.ID, h.candidate.UserID, models.AttendanceKindJoined, joinedAt))
	require.NoError(t, h.machine.RecordAttendance(ctx, b.ID, h.candidate.UserID, models.AttendanceKindJoined, joinedAt.Add(time.Minute)))
	require.NoError(t, h.machine.RecordAttendance(ctx, b.ID, h.candidate.UserID, models.AttendanceKindLeft, joinedAt.Add(2*time.Minute)))

	got := h.booking(t, b.ID)
	require.NotNil(t, got.CandidateJoinedAt)
	assert.True(t, got.CandidateJoinedAt.Equal(joinedAt))
	assert.Nil(t, got.ProfessionalJoinedAt)
	assert.Len(t, h.attendance.events, 3)

	err := h.machine.RecordAttendance(ctx, b.ID, uuid.New(), models.AttendanceKindJoined, joinedAt)
	assert.True(t, apperror.IsForbidden(err))

	err = h.machine.RecordAttendance(ctx, b.ID, h.candidate.UserID, "waved", joinedAt)
	assert.True(t, apperror.IsValidation(err))
}

func TestResolveAttendance(t *testing.T) {
	tests := []struct {
		name         string
		candidate    bool
		professional bool
		want         models.BookingStatus
		outcome      models.AttendanceOutcome
	}{
		{name: "both joined", candidate: true, professional: true, want: models.BookingStatusCompletedPendingFeedback, outcome: models.AttendanceBothJoined},
		{name: "candidate absent", professional: true, want: models.BookingStatusDisputePending, outcome: models.AttendanceCandidateNoShow},
		{name: "professional absent", candidate: true, want: models.BookingStatusCancelled, outcome: models.AttendanceProfessionalNoShow},
		{name: "nobody joined", want: models.BookingStatusCancelled, outcome: models.AttendanceNeitherJoined},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			ctx := context.Background()
			b := h.accepted(t, time.Hour)

			h.advance(time.Hour + time.Minute)
			if tt.candidate {
				require.NoError(t, h.machine.RecordAttendance(ctx, b.ID, h.candidate.UserID, models.AttendanceKindJoined, h.now))
			}
			if tt.professional {
				require.NoError(t, h.machine.RecordAttendance(ctx, b.ID, h.professional.UserID, models.AttendanceKindJoined, h.now))
			}

			_, err := h.machine.ResolveAttendance(ctx, b.ID)
			assert.True(t, apperror.IsConflict(err), "встреча ещё идёт")

			h.advance(time.Hour)
			got, err := h.machine.ResolveAttendance(ctx, b.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			require.NotNil(t, got.AttendanceOutcome)
			assert.Equal(t, tt.outcome, *got.AttendanceOutcome)

			switch tt.want {
			case models.BookingStatusCancelled:
				assert.Equal(t, models.PaymentStatusCancelled, h.payment(t, b.ID).Status)
			case models.BookingStatusDisputePending:
				d := h.disputes.only(t, b.ID)
				assert.Equal(t, models.DisputeReasonNoShow, d.Reason)
				assert.Nil(t, d.InitiatorID)
				assert.False(t, h.payment(t, b.ID).IsCaptured())
			}
		})
	}
}

func TestHistoryAndVisibility(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	b := h.accepted(t, 24*time.Hour)
	stranger := &models.Actor{UserID: uuid.New(), Role: models.RoleCandidate}

	entries, err := h.machine.History(ctx, h.candidate, b.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "request", entries[0].Action)
	assert.Equal(t, "accept", entries[1].Action)
	require.NotNil(t, entries[1].ActorUserID)
	assert.Equal(t, h.professional.UserID, *entries[1].ActorUserID)

	_, err = h.machine.Get(ctx, stranger, b.ID)
	assert.True(t, apperror.IsForbidden(err))

	_, err = h.machine.Get(ctx, h.admin, b.ID)
	assert.NoError(t, err)

	list, err := h.machine.List(ctx, h.professional, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
