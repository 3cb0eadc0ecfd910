package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/consult-backend/internal/http/middleware"
	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/service"
)

func asActor(userID uuid.UUID, role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, userID)
		c.Set(middleware.ContextRoleKey, string(role))
		c.Next()
	}
}

type mockBookings struct{ mock.Mock }

func (m *mockBookings) booking(args mock.Arguments) (*models.Booking, error) {
	b, _ := args.Get(0).(*models.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) RequestBooking(ctx context.Context, actor *models.Actor, in service.RequestBookingInput) (*models.Booking, error) {
	return m.booking(m.Called(ctx, actor, in))
}

func (m *mockBookings) Accept(ctx context.Context, actor *models.Actor, id uuid.UUID, slot service.Slot) (*models.Booking, error) {
	return m.booking(m.Called(ctx, actor, id, slot))
}

func (m *mockBookings) Decline(ctx context.Context, actor *models.Actor, id uuid.UUID, reason string) (*models.Booking, error) {
	return m.booking(m.Called(ctx, actor, id, reason))
}

func (m *mockBookings) Cancel(ctx context.Context, actor *models.Actor, id uuid.UUID) (*models.Booking, error) {
	return m.booking(m.Called(ctx, actor, id))
}

func (m *mockBookings) RequestReschedule(ctx context.Context, actor *models.Actor, id uuid.UUID, slot service.Slot) (*models.Booking, error) {
	return m.booking(m.Called(ctx, actor, id, slot))
}

func (m *mockBookings) ConfirmReschedule(ctx context.Context, actor *models.Actor, id uuid.UUID) (*models.Booking, error) {
	return m.booking(m.Called(ctx, actor, id))
}

func (m *mockBookings) RejectReschedule(ctx context.Context, actor *models.Actor, id uuid.UUID) (*models.Booking, error) {
	return m.booking(m.Called(ctx, actor, id))
}

func (m *mockBookings) Get(ctx context.Context, actor *models.Actor, id uuid.UUID) (*models.Booking, error) {
	return m.booking(m.Called(ctx, actor, id))
}

func (m *mockBookings) List(ctx context.Context, actor *models.Actor, limit, offset int) ([]models.Booking, error) {
	args := m.Called(ctx, actor, limit, offset)
	items, _ := args.Get(0).([]models.Booking)
	return items, args.Error(1)
}

func (m *mockBookings) History(ctx context.Context, actor *models.Actor, id uuid.UUID) ([]models.AuditEntry, error) {
	args := m.Called(ctx, actor, id)
	items, _ := args.Get(0).([]models.AuditEntry)
	return items, args.Error(1)
}

type mockAdmin struct{ mock.Mock }

func (m *mockAdmin) Resolve(ctx context.Context, actor *models.Actor, id uuid.UUID, in service.ResolveInput) (*models.Dispute, error) {
	args := m.Called(ctx, actor, id, in)
	d, _ := args.Get(0).(*models.Dispute)
	return d, args.Error(1)
}

func (m *mockAdmin) Recheck(ctx context.Context, actor *models.Actor, id uuid.UUID) error {
	return m.Called(ctx, actor, id).Error(0)
}

func (m *mockAdmin) MarkPaid(ctx context.Context, actor *models.Actor, id uuid.UUID) (*models.Payout, error) {
	args := m.Called(ctx, actor, id)
	p, _ := args.Get(0).(*models.Payout)
	return p, args.Error(1)
}

type mockWebhookTargets struct{ mock.Mock }

func (m *mockWebhookTargets) Confirm(ctx context.Context, ref string) (*models.Payment, error) {
	args := m.Called(ctx, ref)
	p, _ := args.Get(0).(*models.Payment)
	return p, args.Error(1)
}

func (m *mockWebhookTargets) Fail(ctx context.Context, ref string) (*models.Payment, error) {
	args := m.Called(ctx, ref)
	p, _ := args.Get(0).(*models.Payment)
	return p, args.Error(1)
}

func (m *mockWebhookTargets) RecordMeetingAttendance(ctx context.Context, meetingID string, userID uuid.UUID, kind string, at time.Time) error {
	return m.Called(ctx, meetingID, userID, kind, at).Error(0)
}
