package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/consult-backend/internal/logger"
	"github.com/ignatzorin/consult-backend/internal/pkg/apperror"
)

// Режимы политики посещаемости
const (
	AttendancePolicyEnforce  = "enforce"
	AttendancePolicyDisabled = "disabled"
)

// SweepConfig параметры периодических проверок.
type SweepConfig struct {
	BatchSize           int
	AttendancePolicy    string
	AttendanceRetention time.Duration
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		BatchSize:           100,
		AttendancePolicy:    AttendancePolicyEnforce,
		AttendanceRetention: 90 * 24 * time.Hour,
	}
}

// SweepResult итог прохода.
type SweepResult struct {
	Processed int
	Skipped   int
	Failed    int
}

// SweepService периодические проверки: истечение заявок, неявки, очистка событий.
type SweepService struct {
	bookings   BookingRepository
	attendance AttendanceRepository
	machine    *BookingService
	cfg        SweepConfig
	now        func() time.Time
}

func NewSweepService(bookings BookingRepository, attendance AttendanceRepository, machine *BookingService, cfg SweepConfig) *SweepService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &SweepService{
		bookings:   bookings,
		attendance: attendance,
		machine:    machine,
		cfg:        cfg,
		now:        time.Now,
	}
}

// ExpireRequests закрывает просроченные заявки. Повторный проход ничего не меняет:
// уже закрытые заявки не попадают в выборку, а гонки дают Conflict и пропускаются.
func (s *SweepService) ExpireRequests(ctx context.Context) (SweepResult, error) {
	candidates, err := s.bookings.ListExpiredRequests(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, err
	}

	var result SweepResult
	var lastErr error
	for _, b := range candidates {
		_, err := s.machine.Expire(ctx, b.ID)
		switch {
		case err == nil:
			result.Processed++
		case apperror.IsConflict(err):
			result.Skipped++
		default:
			result.Failed++
			lastErr = err
		}
	}

	s.log(ctx, "expiry", result)
	if lastErr != nil {
		return result, fmt.Errorf("expiry sweep: %d failed: %w", result.Failed, lastErr)
	}
	return result, nil
}

// ResolveNoShows разбирает завершившиеся встречи по отметкам входа.
// В режиме disabled только логирует итог без переходов.
func (s *SweepService) ResolveNoShows(ctx context.Context) (SweepResult, error) {
	candidates, err := s.bookings.ListEndedAccepted(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, err
	}

	var result SweepResult
	var lastErr error
	for _, b := range candidates {
		if s.cfg.AttendancePolicy == AttendancePolicyDisabled {
			logger.FromContext(ctx).WithFields(logrus.Fields{
				"booking_id": b.ID,
				"outcome":    b.ClassifyAttendance(),
			}).Info("sweep: политика посещаемости отключена, переход пропущен")
			result.Skipped++
			continue
		}

		_, err := s.machine.ResolveAttendance(ctx, b.ID)
		switch {
		case err == nil:
			result.Processed++
		case apperror.IsConflict(err):
			result.Skipped++
		default:
			result.Failed++
			lastErr = err
		}
	}

	s.log(ctx, "no-show", result)
	if lastErr != nil {
		return result, fmt.Errorf("no-show sweep: %d failed: %w", result.Failed, lastErr)
	}
	return result, nil
}

// PurgeAttendance удаляет события посещаемости старше окна хранения.
func (s *SweepService) PurgeAttendance(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.AttendanceRetention)
	n, err := s.attendance.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	logger.FromContext(ctx).WithFields(logrus.Fields{
		"deleted": n,
		"cutoff":  cutoff,
	}).Info("sweep: события посещаемости очищены")
	return n, nil
}

func (s *SweepService) log(ctx context.Context, sweep string, r SweepResult) {
	logger.FromContext(ctx).WithFields(logrus.Fields{
		"sweep":     sweep,
		"processed": r.Processed,
		"skipped":   r.Skipped,
		"failed":    r.Failed,
	}).Info("sweep: проход завершён")
}
