package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/pkg/apperror"
	"github.com/ignatzorin/consult-backend/internal/repository/common"
)

type feedbackRow struct {
	models.CallFeedback
	Actions   pq.StringArray `db:"actions"`
	QCReasons pq.StringArray `db:"qc_reasons"`
}

func (row *feedbackRow) toModel() *models.CallFeedback {
	f := row.CallFeedback
	f.Actions = []string(row.Actions)
	f.QCReasons = []string(row.QCReasons)
	return &f
}

type FeedbackRepository struct {
	db *sqlx.DB
}

func NewFeedbackRepository(db *sqlx.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// Upsert сохраняет отзыв, сбрасывает QC и увеличивает версию.
// Отзыв, прошедший QC, не перезаписывается.
func (r *FeedbackRepository) Upsert(ctx context.Context, f *models.CallFeedback) error {
	query := `
		INSERT INTO call_feedback (
			booking_id, candidate_id, professional_id, text, actions,
			rating_preparation, rating_communication, rating_potential,
			word_count, qc_status, qc_reasons, version, submitted_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'missing', '{}', 1, $10)
		ON CONFLICT (booking_id) DO UPDATE SET
			text = EXCLUDED.text,
			actions = EXCLUDED.actions,
			rating_preparation = EXCLUDED.rating_preparation,
			rating_communication = EXCLUDED.rating_communication,
			rating_potential = EXCLUDED.rating_potential,
			word_count = EXCLUDED.word_count,
			qc_status = 'missing',
			qc_reasons = '{}',
			qc_checked_at = NULL,
			version = call_feedback.version + 1,
			submitted_at = EXCLUDED.submitted_at
		WHERE call_feedback.qc_status <> 'passed'
		RETURNING version, qc_status
	`
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, query,
		f.BookingID, f.CandidateID, f.ProfessionalID, f.Text, pq.Array(f.Actions),
		f.RatingPreparation, f.RatingCommunication, f.RatingPotential,
		f.WordCount, f.SubmittedAt,
	).Scan(&f.Version, &f.QCStatus)
	if err != nil {
		return notFoundOr(err, apperror.ErrFeedbackLocked, "feedback repository: upsert")
	}
	f.QCReasons = nil
	f.QCCheckedAt = nil
	return nil
}

func (r *FeedbackRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.CallFeedback, error) {
	var row feedbackRow
	if err := common.Conn(ctx, r.db).GetContext(ctx, &row, `SELECT * FROM call_feedback WHERE booking_id = $1`, bookingID); err != nil {
		return nil, notFoundOr(err, apperror.ErrFeedbackNotFound, "feedback repository: get")
	}
	return row.toModel(), nil
}

// UpdateQC записывает результат проверки для конкретной версии отзыва.
// Если отзыв успели переотправить, запись отклоняется.
func (r *FeedbackRepository) UpdateQC(ctx context.Context, bookingID uuid.UUID, version int, status models.QCStatus, reasons []string, at time.Time) error {
	var updated uuid.UUID
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, `
		UPDATE call_feedback SET qc_status = $3, qc_reasons = $4, qc_checked_at = $5
		WHERE booking_id = $1 AND version = $2 AND qc_status = 'missing'
		RETURNING booking_id
	`, bookingID, version, status, pq.Array(reasons), at).Scan(&updated)
	if err != nil {
		return notFoundOr(err, apperror.ErrStaleStatus, "feedback repository: update qc")
	}
	return nil
}

// ResetQC возвращает отзыв со статусом revise на повторную проверку.
func (r *FeedbackRepository) ResetQC(ctx context.Context, bookingID uuid.UUID) (*models.CallFeedback, error) {
	var row feedbackRow
	err := common.Conn(ctx, r.db).GetContext(ctx, &row, `
		UPDATE call_feedback SET qc_status = 'missing', qc_reasons = '{}', qc_checked_at = NULL
		WHERE booking_id = $1 AND qc_status = 'revise'
		RETURNING *
	`, bookingID)
	if err != nil {
		return nil, notFoundOr(err, apperror.ErrStaleStatus, "feedback repository: reset qc")
	}
	return row.toModel(), nil
}
