package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignatzorin/consult-backend/internal/app"
	"github.com/ignatzorin/consult-backend/internal/config"
	"github.com/ignatzorin/consult-backend/internal/events"
	"github.com/ignatzorin/consult-backend/internal/goroutine"
	httpHandlers "github.com/ignatzorin/consult-backend/internal/http/handlers"
	"github.com/ignatzorin/consult-backend/internal/http/middleware"
	httpRouter "github.com/ignatzorin/consult-backend/internal/http/router"
	"github.com/ignatzorin/consult-backend/internal/logger"
	"github.com/ignatzorin/consult-backend/internal/obs"
	"github.com/ignatzorin/consult-backend/internal/ws"
)

var version = "dev"

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}
	app.InitLogger(cfg)

	shutdownTracer, err := obs.InitTracer(ctx, "consult-api", version, cfg.Env, cfg.OTLPAddr)
	if err != nil {
		logger.Log.WithError(err).Fatal("main: ошибка инициализации трассировки")
	}

	// Вебсокеты.
	hub := ws.NewHub()
	goroutine.SafeGoWithContext(ctx, hub.Run)

	// Без Kafka события уходят напрямую в hub этого процесса.
	opts := app.Options{Migrate: true}
	if len(cfg.KafkaBroker) == 0 {
		opts.Notifier = hub
	}

	container, err := app.Build(ctx, cfg, opts)
	if err != nil {
		logger.Log.WithError(err).Fatal("main: ошибка подключения зависимостей")
	}

	var consumer *events.Consumer
	if len(cfg.KafkaBroker) > 0 {
		consumer = events.NewConsumer(cfg.KafkaBroker, cfg.KafkaGroup, cfg.KafkaTopic)
		goroutine.SafeGo(func() {
			if err := consumer.Consume(ctx, hub); err != nil {
				logger.Log.WithError(err).Error("main: чтение событий остановлено")
			}
		})
	}

	limits, err := middleware.NewLimiterStore(container.Redis, "consult:ratelimit")
	if err != nil {
		logger.Log.WithError(err).Fatal("main: ошибка инициализации лимитера")
	}

	svc := container.Services
	engine := httpRouter.SetupRouter(cfg, httpRouter.Handlers{
		Booking:  httpHandlers.NewBookingHandler(svc.Bookings),
		Feedback: httpHandlers.NewFeedbackHandler(svc.QC, svc.Payouts),
		Dispute:  httpHandlers.NewDisputeHandler(svc.Disputes),
		Admin:    httpHandlers.NewAdminHandler(svc.Disputes, svc.QC, svc.Payouts),
		Webhook: httpHandlers.NewWebhookHandler(svc.Payments, svc.Bookings, httpHandlers.WebhookConfig{
			PaymentSecret: app.WebhookSecret(cfg.PaymentWebhookSecret),
			MeetingSecret: []byte(cfg.MeetingWebhookSecret),
			Tolerance:     cfg.WebhookTolerance,
		}),
		Health: httpHandlers.NewHealthHandler(container.DB, map[string]httpHandlers.Checker{
			"redis": func(ctx context.Context) error { return container.Redis.Ping(ctx).Err() },
		}),
		WS: httpHandlers.NewWSHandler(hub, svc.Tokens, cfg.AllowedOrigins),
	}, svc.Tokens, limits)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.WithError(err).Error("main: ошибка остановки http сервера")
		}
	}()

	logger.Log.WithField("port", cfg.HTTPPort).Info("main: HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.WithError(err).Error("main: сервер завершился с ошибкой")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Log.WithError(err).Warn("main: ошибка закрытия consumer")
		}
	}
	if err := container.Close(); err != nil {
		logger.Log.WithError(err).Warn("main: ошибка закрытия зависимостей")
	}
	if err := shutdownTracer(flushCtx); err != nil {
		logger.Log.WithError(err).Warn("main: ошибка остановки трассировки")
	}
}
