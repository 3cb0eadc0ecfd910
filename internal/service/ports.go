package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/consult-backend/internal/ai"
	"github.com/ignatzorin/consult-backend/internal/models"
)

// TxManager выполняет fn в транзакции. Вложенные вызовы присоединяются к внешней.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type BookingRepository interface {
	Create(ctx context.Context, b *models.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetByMeetingID(ctx context.Context, meetingID string) (*models.Booking, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	UpdateGuarded(ctx context.Context, b *models.Booking, expected models.BookingStatus) error
	AttachMeeting(ctx context.Context, id uuid.UUID, meetingID, candidateURL, professionalURL string) (bool, error)
	MarkJoined(ctx context.Context, id uuid.UUID, role models.Role, at time.Time) error
	ListExpiredRequests(ctx context.Context, now time.Time, limit int) ([]models.Booking, error)
	ListEndedAccepted(ctx context.Context, now time.Time, limit int) ([]models.Booking, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error)
	GetByRef(ctx context.Context, ref string) (*models.Payment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.PaymentStatus) (*models.Payment, error)
	MarkCaptured(ctx context.Context, id uuid.UUID, at time.Time) (*models.Payment, error)
	AddRefund(ctx context.Context, id uuid.UUID, amountCents int64) (*models.Payment, error)
}

type PayoutRepository interface {
	Upsert(ctx context.Context, p *models.Payout) error
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payout, error)
	Block(ctx context.Context, bookingID uuid.UUID, reason string) (bool, error)
	MarkPaid(ctx context.Context, bookingID uuid.UUID, at time.Time) (*models.Payout, error)
}

type FeedbackRepository interface {
	Upsert(ctx context.Context, f *models.CallFeedback) error
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.CallFeedback, error)
	UpdateQC(ctx context.Context, bookingID uuid.UUID, version int, status models.QCStatus, reasons []string, at time.Time) error
	ResetQC(ctx context.Context, bookingID uuid.UUID) (*models.CallFeedback, error)
}

type DisputeRepository interface {
	Create(ctx context.Context, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetOpenByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Dispute, error)
	Resolve(ctx context.Context, d *models.Dispute) error
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.Dispute, error)
}

type AuditRepository interface {
	Append(ctx context.Context, e *models.AuditEntry) error
	ListByEntity(ctx context.Context, entity string, entityID uuid.UUID) ([]models.AuditEntry, error)
}

type AttendanceRepository interface {
	Record(ctx context.Context, e *models.AttendanceEvent) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuthorizeRequest параметры холда средств.
type AuthorizeRequest struct {
	BookingID   uuid.UUID
	AmountCents int64
	Currency    string
	Source      string
	Description string
}

// PaymentGateway платёжный процессор с поддержкой авторизации без списания.
// Capture и Reverse идемпотентны по ссылке на charge, Refund по ключу idempotencyKey.
type PaymentGateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (string, error)
	Capture(ctx context.Context, ref string) error
	Reverse(ctx context.Context, ref string) error
	Refund(ctx context.Context, ref string, amountCents int64, idempotencyKey string) error
}

// MeetingRequest параметры создаваемой видеовстречи.
type MeetingRequest struct {
	Topic    string
	StartAt  time.Time
	Duration time.Duration
	Timezone string
}

// Meeting созданная видеовстреча.
type Meeting struct {
	ID      string
	JoinURL string
	HostURL string
}

type MeetingProvider interface {
	CreateMeeting(ctx context.Context, req MeetingRequest) (*Meeting, error)
	DeleteMeeting(ctx context.Context, meetingID string) error
}

// JobQueue постановка фоновых задач.
type JobQueue interface {
	Enqueue(ctx context.Context, job string, payload any) error
	EnqueueIn(ctx context.Context, job string, payload any, delay time.Duration) error
}

// Notifier публикует доменные события после коммита.
type Notifier interface {
	Publish(ctx context.Context, evt models.LifecycleEvent) error
}

// Auditor дополнительная проверка отзыва языковой моделью.
type Auditor interface {
	AuditFeedback(ctx context.Context, text string, actions []string) (*ai.Verdict, error)
}
