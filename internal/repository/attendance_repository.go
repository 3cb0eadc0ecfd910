package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/repository/common"
)

type AttendanceRepository struct {
	db *sqlx.DB
}

func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

func (r *AttendanceRepository) Record(ctx context.Context, e *models.AttendanceEvent) error {
	err := common.Conn(ctx, r.db).QueryRowxContext(ctx, `
		INSERT INTO attendance_events (id, booking_id, user_id, role, kind, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, e.ID, e.BookingID, e.UserID, e.Role, e.Kind, e.OccurredAt).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("attendance repository: record: %w", err)
	}
	return nil
}

// DeleteOlderThan удаляет события старше cutoff и возвращает их число.
func (r *AttendanceRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := common.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM attendance_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("attendance repository: purge: %w", err)
	}
	return res.RowsAffected()
}
