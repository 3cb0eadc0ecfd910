package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ignatzorin/consult-backend/internal/logger"
)

// Consumer источник задач, обычно *Broker.
type Consumer interface {
	Consume(ctx context.Context, queue string, concurrency int, handle Handler) error
}

// Worker сопоставляет имена задач с обработчиками.
type Worker struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	tracer   trace.Tracer
}

func NewWorker() *Worker {
	return &Worker{
		handlers: make(map[string]Handler),
		tracer:   otel.Tracer("consult-backend/queue"),
	}
}

// Handle регистрирует обработчик задачи.
func (w *Worker) Handle(job string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[job] = h
}

// Dispatch выполняет задачу зарегистрированным обработчиком.
// Неизвестная задача подтверждается без повтора.
func (w *Worker) Dispatch(ctx context.Context, job *Job) error {
	w.mu.RLock()
	h, ok := w.handlers[job.Name]
	w.mu.RUnlock()

	ctx = logger.WithFields(ctx, logrus.Fields{
		"job":     job.Name,
		"job_id":  job.ID,
		"attempt": job.Attempt,
	})
	if !ok {
		logger.FromContext(ctx).Warn("queue: обработчик задачи не зарегистрирован")
		return nil
	}

	ctx, span := w.tracer.Start(ctx, "job "+job.Name, trace.WithAttributes(
		attribute.String("job.name", job.Name),
		attribute.String("job.id", job.ID),
		attribute.String("job.queue", job.Queue),
		attribute.Int("job.attempt", job.Attempt),
	))
	defer span.End()

	started := time.Now()
	err := w.safeCall(ctx, h, job)
	entry := logger.FromContext(ctx).WithField("duration", time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		entry.WithError(err).Warn("queue: задача завершилась с ошибкой")
		return err
	}
	entry.Info("queue: задача выполнена")
	return nil
}

// safeCall превращает panic обработчика в ошибку, чтобы задача ушла на повтор.
func (w *Worker) safeCall(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: panic в обработчике %s: %v", job.Name, r)
		}
	}()
	return h(ctx, job)
}

// Run подписывает воркер на очереди с заданной параллельностью.
func (w *Worker) Run(ctx context.Context, c Consumer, concurrency map[string]int) error {
	for _, q := range Queues() {
		n := concurrency[q]
		if n <= 0 {
			continue
		}
		if err := c.Consume(ctx, q, n, w.Dispatch); err != nil {
			return err
		}
		logger.FromContext(ctx).WithFields(logrus.Fields{
			"queue":       q,
			"concurrency": n,
		}).Info("queue: обработчики запущены")
	}
	return nil
}
