package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/consult-backend/internal/app"
	"github.com/ignatzorin/consult-backend/internal/config"
	"github.com/ignatzorin/consult-backend/internal/goroutine"
	"github.com/ignatzorin/consult-backend/internal/jobs"
	"github.com/ignatzorin/consult-backend/internal/logger"
	"github.com/ignatzorin/consult-backend/internal/obs"
	"github.com/ignatzorin/consult-backend/internal/queue"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("worker: ошибка загрузки конфигурации: %v", err)
	}
	app.InitLogger(cfg)

	shutdownTracer, err := obs.InitTracer(ctx, "consult-worker", version, cfg.Env, cfg.OTLPAddr)
	if err != nil {
		logger.Log.WithError(err).Fatal("worker: ошибка инициализации трассировки")
	}

	container, err := app.Build(ctx, cfg, app.Options{})
	if err != nil {
		logger.Log.WithError(err).Fatal("worker: ошибка подключения зависимостей")
	}
	svc := container.Services

	worker := queue.NewWorker()
	jobs.NewHandlers(svc.Bookings, svc.QC, svc.Payouts, svc.Sweeps).Register(worker)

	// Периодические проверки ставятся всеми репликами, Redis оставляет одну постановку на такт.
	scheduler := queue.NewScheduler(container.Broker, queue.NewRedisLocker(container.Redis), 0)
	scheduler.Register("expiry", queue.JobExpiryCheck, cfg.Queue.ExpiryEvery, nil)
	scheduler.Register("no-show", queue.JobNoShowCheck, cfg.Queue.NoShowEvery, nil)
	scheduler.Register("attendance-retention", queue.JobAttendanceRetention, cfg.Queue.RetentionEvery, nil)
	goroutine.SafeGo(func() {
		if err := scheduler.Run(ctx); err != nil {
			logger.Log.WithError(err).Error("worker: планировщик остановлен")
		}
	})

	logger.Log.WithFields(logrus.Fields{
		"concurrency": cfg.Queue.Concurrency(),
		"prefix":      cfg.Queue.Prefix,
	}).Info("worker: запущен")

	if err := worker.Run(ctx, container.Broker, cfg.Queue.Concurrency()); err != nil {
		logger.Log.WithError(err).Error("worker: ошибка подписки на очереди")
		stop()
	}
	<-ctx.Done()

	// текущие задачи доводятся до конца, поэтому ждём не меньше их таймаута
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.JobTimeout+10*time.Second)
	defer cancel()
	if err := container.Broker.Drain(drainCtx); err != nil {
		logger.Log.WithError(err).Warn("worker: задачи не завершились до таймаута")
	}
	if err := container.Close(); err != nil {
		logger.Log.WithError(err).Warn("worker: ошибка закрытия зависимостей")
	}
	if err := shutdownTracer(drainCtx); err != nil {
		logger.Log.WithError(err).Warn("worker: ошибка остановки трассировки")
	}
	logger.Log.Info("worker: остановлен")
}
