package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/consult-backend/internal/models"
)

func TestExpireRequests_SecondPassIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	stale := h.request(t)
	h.advance(24 * time.Hour)
	fresh := h.request(t)
	h.advance(25 * time.Hour)

	first, err := h.sweeps.ExpireRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Processed: 1}, first)

	second, err := h.sweeps.ExpireRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, second)

	assert.Equal(t, models.BookingStatusExpired, h.booking(t, stale.ID).Status)
	assert.Equal(t, models.BookingStatusRequested, h.booking(t, fresh.ID).Status)
	assert.Len(t, h.gateway.reversed, 1)
	assert.Equal(t, 1, h.audit.count(string(models.EventExpire)))
}

func TestExpireRequests_ConcurrentSweepsExpireOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	b := h.request(t)
	h.advance(72 * time.Hour)

	// второй проход стартует, пока первый держит устаревший снимок
	var inner SweepResult
	var innerErr error
	h.bookings.beforeUpdate = func() {
		inner, innerErr = h.sweeps.ExpireRequests(ctx)
	}

	outer, err := h.sweeps.ExpireRequests(ctx)
	require.NoError(t, err)
	require.NoError(t, innerErr)

	assert.Equal(t, SweepResult{Processed: 1}, inner)
	assert.Equal(t, SweepResult{Skipped: 1}, outer)
	assert.Equal(t, models.BookingStatusExpired, h.booking(t, b.ID).Status)
	assert.Equal(t, 1, h.audit.count(string(models.EventExpire)))
	assert.Len(t, h.gateway.reversed, 1)
	assert.Equal(t, []string{"booking.requested", "booking.expired"}, h.notifier.types())
}

func TestResolveNoShows(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	attended := h.accepted(t, time.Hour)
	missed := h.accepted(t, time.Hour)
	upcoming := h.accepted(t, 48*time.Hour)

	h.advance(time.Hour)
	require.NoError(t, h.machine.RecordAttendance(ctx, attended.ID, h.candidate.UserID, models.AttendanceKindJoined, h.now))
	require.NoError(t, h.machine.RecordAttendance(ctx, attended.ID, h.professional.UserID, models.AttendanceKindJoined, h.now))
	h.advance(2 * time.Hour)

	result, err := h.sweeps.ResolveNoShows(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Processed: 2}, result)

	assert.Equal(t, models.BookingStatusCompletedPendingFeedback, h.booking(t, attended.ID).Status)
	assert.Equal(t, models.BookingStatusCancelled, h.booking(t, missed.ID).Status)
	assert.Equal(t, models.BookingStatusAccepted, h.booking(t, upcoming.ID).Status)

	again, err := h.sweeps.ResolveNoShows(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, again)
}

func TestResolveNoShows_PolicyDisabled(t *testing.T) {
	h := newHarness(t, nil)
	h.sweeps.cfg.AttendancePolicy = AttendancePolicyDisabled
	b := h.accepted(t, time.Hour)
	h.advance(3 * time.Hour)

	result, err := h.sweeps.ResolveNoShows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Skipped: 1}, result)
	assert.Equal(t, models.BookingStatusAccepted, h.booking(t, b.ID).Status)
}

func TestPurgeAttendance(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	booking := uuid.New()
	h.attendance.events = []models.AttendanceEvent{
		{ID: uuid.New(), BookingID: booking, OccurredAt: h.now.Add(-100 * 24 * time.Hour)},
		{ID: uuid.New(), BookingID: booking, OccurredAt: h.now.Add(-10 * 24 * time.Hour)},
	}

	n, err := h.sweeps.PurgeAttendance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, h.attendance.events, 1)
}
