package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/pkg/apperror"
	"github.com/ignatzorin/consult-backend/internal/repository/common"
)

type BookingRepository struct {
	db *sqlx.DB
}

func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) error {
	query := `
		INSERT INTO bookings (id, candidate_id, professional_id, status, expires_at, timezone, price_cents)
		VALUES (:id, :candidate_id, :professional_id, :status, :expires_at, :timezone, :price_cents)
	`
	if _, err := sqlx.NamedExecContext(ctx, common.Conn(ctx, r.db), query, b); err != nil {
		return fmt.Errorf("booking repository: create: %w", err)
	}
	return nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return common.GetByID[models.Booking](ctx, common.Conn(ctx, r.db), "bookings", id, apperror.ErrBookingNotFound)
}

// GetByMeetingID ищет бронирование по id видеовстречи.
func (r *BookingRepository) GetByMeetingID(ctx context.Context, meetingID string) (*models.Booking, error) {
	return common.GetByField[models.Booking](ctx, common.Conn(ctx, r.db), "bookings", "zoom_meeting_id", meetingID, apperror.ErrBookingNotFound)
}

// GetForUpdate читает бронирование с блокировкой строки до конца транзакции.
func (r *BookingRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	if !common.InTransaction(ctx) {
		return r.GetByID(ctx, id)
	}
	var b models.Booking
	if err := common.Conn(ctx, r.db).GetContext(ctx, &b, `SELECT * FROM bookings WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, notFoundOr(err, apperror.ErrBookingNotFound, "booking repository: get for update")
	}
	return &b, nil
}

// UpdateGuarded сохраняет бронирование, только если статус в базе равен expected.
// Ноль затронутых строк означает, что конкурент успел раньше.
func (r *BookingRepository) UpdateGuarded(ctx context.Context, b *models.Booking, expected models.BookingStatus) error {
	query := `
		UPDATE bookings SET
			status = $3,
			start_at = $4,
			end_at = $5,
			proposed_start_at = $6,
			proposed_end_at = $7,
			zoom_meeting_id = $8,
			candidate_join_url = $9,
			professional_join_url = $10,
			attendance_outcome = $11,
			cancelled_at = $12,
			cancelled_by_id = $13,
			late_cancellation = $14,
			decline_reason = $15,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING updated_at
	`
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, query,
		b.ID, expected, b.Status,
		b.StartAt, b.EndAt, b.ProposedStartAt, b.ProposedEndAt,
		b.ZoomMeetingID, b.CandidateJoinURL, b.ProfessionalJoinURL,
		b.AttendanceOutcome, b.CancelledAt, b.CancelledByID, b.LateCancellation, b.DeclineReason,
	).Scan(&b.UpdatedAt)
	if err != nil {
		return notFoundOr(err, apperror.ErrStaleStatus, "booking repository: update guarded")
	}
	return nil
}

// AttachMeeting записывает встречу, если она ещё не привязана.
func (r *BookingRepository) AttachMeeting(ctx context.Context, id uuid.UUID, meetingID, candidateURL, professionalURL string) (bool, error) {
	res, err := common.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE bookings
		SET zoom_meeting_id = $2, candidate_join_url = $3, professional_join_url = $4, updated_at = NOW()
		WHERE id = $1 AND zoom_meeting_id IS NULL
	`, id, meetingID, candidateURL, professionalURL)
	if err != nil {
		return false, fmt.Errorf("booking repository: attach meeting: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("booking repository: attach meeting: %w", err)
	}
	return n > 0, nil
}

// MarkJoined фиксирует первый вход участника. Повторные входы не перезаписывают время.
func (r *BookingRepository) MarkJoined(ctx context.Context, id uuid.UUID, role models.Role, at time.Time) error {
	var query string
	switch role {
	case models.RoleCandidate:
		query = `UPDATE bookings SET candidate_joined_at = COALESCE(candidate_joined_at, $2), updated_at = NOW() WHERE id = $1`
	case models.RoleProfessional:
		query = `UPDATE bookings SET professional_joined_at = COALESCE(professional_joined_at, $2), updated_at = NOW() WHERE id = $1`
	default:
		return fmt.Errorf("booking repository: mark joined: unsupported role %q", role)
	}
	if _, err := common.Conn(ctx, r.db).ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("booking repository: mark joined: %w", err)
	}
	return nil
}

// ListExpiredRequests возвращает заявки, срок ответа по которым истёк.
func (r *BookingRepository) ListExpiredRequests(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	err := common.Conn(ctx, r.db).SelectContext(ctx, &bookings, `
		SELECT * FROM bookings
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3
	`, models.BookingStatusRequested, now, limit)
	if err != nil {
		return nil, fmt.Errorf("booking repository: list expired: %w", err)
	}
	return bookings, nil
}

// ListEndedAccepted возвращает подтверждённые встречи, время которых прошло.
func (r *BookingRepository) ListEndedAccepted(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	err := common.Conn(ctx, r.db).SelectContext(ctx, &bookings, `
		SELECT * FROM bookings
		WHERE status = $1 AND end_at < $2
		ORDER BY end_at
		LIMIT $3
	`, models.BookingStatusAccepted, now, limit)
	if err != nil {
		return nil, fmt.Errorf("booking repository: list ended: %w", err)
	}
	return bookings, nil
}

func (r *BookingRepository) ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error) {
	var bookings []models.Booking
	err := common.Conn(ctx, r.db).SelectContext(ctx, &bookings, `
		SELECT * FROM bookings
		WHERE candidate_id = $1 OR professional_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("booking repository: list by participant: %w", err)
	}
	return bookings, nil
}
