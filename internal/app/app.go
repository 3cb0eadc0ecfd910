// Package app собирает зависимости процессов: API, воркера и утилиты bookingctl.
package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/consult-backend/internal/ai"
	"github.com/ignatzorin/consult-backend/internal/config"
	"github.com/ignatzorin/consult-backend/internal/db"
	"github.com/ignatzorin/consult-backend/internal/events"
	"github.com/ignatzorin/consult-backend/internal/infrastructure/meeting"
	"github.com/ignatzorin/consult-backend/internal/infrastructure/payment"
	"github.com/ignatzorin/consult-backend/internal/logger"
	"github.com/ignatzorin/consult-backend/internal/queue"
	"github.com/ignatzorin/consult-backend/internal/repository"
	"github.com/ignatzorin/consult-backend/internal/repository/common"
	"github.com/ignatzorin/consult-backend/internal/service"
	"github.com/ignatzorin/consult-backend/migrations"
)

// Services сервисы предметной области.
type Services struct {
	Bookings *service.BookingService
	Payments *service.PaymentService
	Payouts  *service.PayoutService
	Disputes *service.DisputeService
	QC       *service.QCService
	Sweeps   *service.SweepService
	Tokens   *service.TokenManager
}

// Container внешние подключения и сервисы одного процесса.
type Container struct {
	Config   *config.Config
	DB       *sqlx.DB
	Redis    redis.UniversalClient
	Broker   *queue.Broker
	Producer *events.Producer
	Services Services

	closers []func() error
}

// Options что именно подключать. Нотификатор по умолчанию пишет в Kafka,
// если брокеры заданы, иначе события теряются с предупреждением.
type Options struct {
	Migrate  bool
	Notifier events.Publisher
}

// InitLogger настраивает логгер по окружению.
func InitLogger(cfg *config.Config) {
	logger.Init(cfg.LogLevel)
	if cfg.Env == "development" {
		logger.SetTextFormatter()
	}
}

// Build подключает базу, Redis, RabbitMQ и собирает сервисы.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Container, error) {
	c := &Container{Config: cfg}

	conn, err := db.NewPostgres(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	c.DB = conn
	c.closers = append(c.closers, conn.Close)

	if opts.Migrate {
		if err := db.RunMigrations(ctx, conn, migrations.FS); err != nil {
			_ = c.Close()
			return nil, err
		}
	}

	c.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	c.closers = append(c.closers, c.Redis.Close)

	broker, err := queue.Open(queue.Config{
		URL:         cfg.RabbitURL,
		Prefix:      cfg.Queue.Prefix,
		MaxAttempts: cfg.Queue.MaxAttempts,
		BaseBackoff: cfg.Queue.BaseBackoff,
		MaxBackoff:  cfg.Queue.MaxBackoff,
		JobTimeout:  cfg.Queue.JobTimeout,
	})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Broker = broker
	c.closers = append(c.closers, broker.Close)

	notifier := opts.Notifier
	if len(cfg.KafkaBroker) > 0 {
		c.Producer = events.NewProducer(cfg.KafkaBroker, cfg.KafkaTopic)
		c.closers = append(c.closers, c.Producer.Close)
		if notifier == nil {
			notifier = c.Producer
		}
	}
	if notifier == nil {
		logger.Log.Warn("app: KAFKA_BROKERS не задан, события жизненного цикла не публикуются")
		notifier = events.Nop{}
	}

	gateway, err := payment.NewOmiseGateway(cfg.OmisePublicKey, cfg.OmiseSecretKey, cfg.OmiseTimeout)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	c.Services = newServices(cfg, conn, gateway, meeting.NewZoomClient(cfg.ZoomBaseURL, cfg.ZoomToken, cfg.ZoomUserID), broker, notifier)

	logger.Log.WithFields(logrus.Fields{
		"env":      cfg.Env,
		"kafka":    len(cfg.KafkaBroker) > 0,
		"qc_llm":   cfg.QCLLMEnabled,
		"currency": cfg.Currency,
	}).Info("app: зависимости подключены")
	return c, nil
}

func newServices(cfg *config.Config, conn *sqlx.DB, gateway service.PaymentGateway, meetings service.MeetingProvider, jobs service.JobQueue, notifier service.Notifier) Services {
	tx := common.NewTransactor(conn)
	bookingRepo := repository.NewBookingRepository(conn)
	paymentRepo := repository.NewPaymentRepository(conn)
	payoutRepo := repository.NewPayoutRepository(conn)
	feedbackRepo := repository.NewFeedbackRepository(conn)
	disputeRepo := repository.NewDisputeRepository(conn)
	auditRepo := repository.NewAuditRepository(conn)
	attendanceRepo := repository.NewAttendanceRepository(conn)

	var auditor service.Auditor
	if cfg.QCLLMEnabled {
		auditor = ai.NewClient(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel)
	}

	payments := service.NewPaymentService(tx, paymentRepo, payoutRepo, auditRepo, gateway, cfg.Currency)
	bookings := service.NewBookingService(tx, bookingRepo, disputeRepo, attendanceRepo, auditRepo, payments, meetings, jobs, notifier, service.BookingConfig{
		RequestTTL:       cfg.Booking.RequestTTL,
		LateCancelWindow: cfg.Booking.LateCancelWindow,
		MaxPriceCents:    cfg.Booking.MaxPriceCents,
	})
	payouts := service.NewPayoutService(tx, bookingRepo, feedbackRepo, disputeRepo, payoutRepo, payments, auditRepo)

	qcCfg := service.DefaultQCConfig()
	qcCfg.TimeoutDelay = cfg.Booking.QCTimeoutDelay
	qcCfg.AuditTimeout = cfg.Booking.QCAuditTimeout

	sweepCfg := service.DefaultSweepConfig()
	sweepCfg.AttendancePolicy = cfg.Booking.AttendancePolicy
	sweepCfg.AttendanceRetention = cfg.Booking.AttendanceRetention

	return Services{
		Bookings: bookings,
		Payments: payments,
		Payouts:  payouts,
		Disputes: service.NewDisputeService(tx, disputeRepo, bookings, payments, payouts, auditRepo),
		QC:       service.NewQCService(tx, feedbackRepo, bookingRepo, bookings, auditRepo, auditor, jobs, qcCfg),
		Sweeps:   service.NewSweepService(bookingRepo, attendanceRepo, bookings, sweepCfg),
		Tokens:   service.NewTokenManager(cfg.JWTSecret),
	}
}

// Close закрывает подключения в обратном порядке.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("app: close: %w", errors.Join(errs...))
	}
	return nil
}

// WebhookSecret декодирует секрет, выданный в base64. Строка, не являющаяся
// base64, используется как есть.
func WebhookSecret(raw string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) > 0 {
		return decoded
	}
	return []byte(raw)
}
