package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/consult-backend/internal/goroutine"
	"github.com/ignatzorin/consult-backend/internal/logger"
)

const (
	headerAttempt = "x-attempt"
	headerError   = "x-error"
)

// Config параметры подключения к RabbitMQ и политики повторов.
type Config struct {
	URL         string
	Prefix      string
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// JobTimeout ограничивает одну попытку. Остановка воркера её не прерывает.
	JobTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "consult"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 5 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
}

// Broker публикует и потребляет задачи. У каждой очереди есть основная очередь,
// очереди ожидания для отложенных задач и очередь мёртвых сообщений.
type Broker struct {
	cfg  Config
	conn *amqp.Connection

	mu  sync.Mutex
	pub *amqp.Channel

	consumersMu sync.Mutex
	consumers   []*consumer
	wg          sync.WaitGroup
}

type consumer struct {
	ch  *amqp.Channel
	tag string
}

// Open подключается к брокеру и объявляет очереди всех нагрузок.
func Open(cfg Config) (*Broker, error) {
	cfg.applyDefaults()

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	b := &Broker{cfg: cfg, conn: conn, pub: ch}
	for _, q := range Queues() {
		if err := b.declare(ch, q); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *Broker) queueName(q string) string { return b.cfg.Prefix + "." + q }
func (b *Broker) deadName(q string) string  { return b.queueName(q) + ".dead" }
func (b *Broker) waitName(q string, delay time.Duration) string {
	return b.queueName(q) + ".wait." + strconv.FormatInt(delay.Milliseconds(), 10)
}

func (b *Broker) declare(ch *amqp.Channel, q string) error {
	if _, err := ch.QueueDeclare(b.queueName(q), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", q, err)
	}
	if _, err := ch.QueueDeclare(b.deadName(q), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead queue %s: %w", q, err)
	}
	return nil
}

// declareWait объявляет очередь ожидания с фиксированным TTL. Истёкшие сообщения
// возвращаются в основную очередь, неиспользуемая очередь удаляется сама.
func (b *Broker) declareWait(ch *amqp.Channel, q string, delay time.Duration) (string, error) {
	name := b.waitName(q, delay)
	ttl := delay.Milliseconds()
	_, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-message-ttl":             ttl,
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": b.queueName(q),
		"x-expires":                 ttl + time.Minute.Milliseconds(),
	})
	if err != nil {
		return "", fmt.Errorf("declare wait queue %s: %w", name, err)
	}
	return name, nil
}

// Enqueue ставит задачу на немедленное выполнение.
func (b *Broker) Enqueue(ctx context.Context, job string, payload any) error {
	return b.EnqueueIn(ctx, job, payload, 0)
}

// EnqueueIn ставит задачу с задержкой.
func (b *Broker) EnqueueIn(ctx context.Context, job string, payload any, delay time.Duration) error {
	q, ok := QueueFor(job)
	if !ok {
		return fmt.Errorf("queue: неизвестная задача %q", job)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: marshal payload: %w", err)
	}
	return b.publish(ctx, &Job{
		ID:         uuid.NewString(),
		Name:       job,
		Queue:      q,
		Payload:    body,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}, delay)
}

func (b *Broker) publish(ctx context.Context, job *Job, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	target := b.queueName(job.Queue)
	if delay > 0 {
		name, err := b.declareWait(b.pub, job.Queue, delay)
		if err != nil {
			return err
		}
		target = name
	}

	return b.pub.PublishWithContext(ctx, "", target, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Type:         job.Name,
		Timestamp:    job.EnqueuedAt,
		Headers:      amqp.Table{headerAttempt: int32(job.Attempt)},
		Body:         job.Payload,
	})
}

func (b *Broker) publishDead(ctx context.Context, job *Job, cause error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.pub.PublishWithContext(ctx, "", b.deadName(job.Queue), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Type:         job.Name,
		Timestamp:    job.EnqueuedAt,
		Headers: amqp.Table{
			headerAttempt: int32(job.Attempt),
			headerError:   cause.Error(),
		},
		Body: job.Payload,
	})
}

// Consume запускает concurrency обработчиков очереди q. Возвращает управление сразу,
// обработчики работают до Drain или отмены ctx.
func (b *Broker) Consume(ctx context.Context, q string, concurrency int, handle Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	tag := fmt.Sprintf("%s-%s", q, uuid.NewString()[:8])
	deliveries, err := ch.ConsumeWithContext(ctx, b.queueName(q), tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume %s: %w", q, err)
	}

	b.consumersMu.Lock()
	b.consumers = append(b.consumers, &consumer{ch: ch, tag: tag})
	b.consumersMu.Unlock()

	for i := 0; i < concurrency; i++ {
		b.wg.Add(1)
		goroutine.SafeGo(func() {
			defer b.wg.Done()
			for d := range deliveries {
				b.handleDelivery(ctx, q, d, handle)
			}
		})
	}
	return nil
}

func jobFromDelivery(q string, d amqp.Delivery) *Job {
	attempt := 1
	switch v := d.Headers[headerAttempt].(type) {
	case int32:
		attempt = int(v)
	case int64:
		attempt = int(v)
	case int:
		attempt = v
	}
	if attempt < 1 {
		attempt = 1
	}
	return &Job{
		ID:         d.MessageId,
		Name:       d.Type,
		Queue:      q,
		Payload:    json.RawMessage(d.Body),
		Attempt:    attempt,
		EnqueuedAt: d.Timestamp,
	}
}

// jobContext отвязывает задачу от отмены ctx: начатое списание или возврат
// доводится до записи в БД, Drain дожидается именно этого.
func (b *Broker) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), b.cfg.JobTimeout)
}

func (b *Broker) handleDelivery(ctx context.Context, q string, d amqp.Delivery, handle Handler) {
	job := jobFromDelivery(q, d)
	jobCtx, cancel := b.jobContext(ctx)
	err := handle(jobCtx, job)
	cancel()

	log := logger.FromContext(ctx).WithFields(logrus.Fields{
		"job":     job.Name,
		"job_id":  job.ID,
		"queue":   q,
		"attempt": job.Attempt,
	})

	switch decide(err, job.Attempt, b.cfg.MaxAttempts) {
	case outcomeAck:
		if err != nil {
			log.WithError(err).Warn("queue: задача отброшена без повтора")
		}
		_ = d.Ack(false)
	case outcomeRetry:
		delay := backoff(b.cfg.BaseBackoff, b.cfg.MaxBackoff, job.Attempt)
		next := *job
		next.Attempt++
		if perr := b.publish(context.Background(), &next, delay); perr != nil {
			log.WithError(perr).Error("queue: не удалось запланировать повтор")
			_ = d.Nack(false, true)
			return
		}
		log.WithError(err).WithField("delay", delay).Warn("queue: задача будет повторена")
		_ = d.Ack(false)
	case outcomeDead:
		if perr := b.publishDead(context.Background(), job, err); perr != nil {
			log.WithError(perr).Error("queue: не удалось переложить задачу в dead очередь")
			_ = d.Nack(false, true)
			return
		}
		log.WithError(err).Error("queue: попытки исчерпаны, задача перемещена в dead очередь")
		_ = d.Ack(false)
	}
}

// Drain останавливает получение новых задач и ждёт завершения текущих.
func (b *Broker) Drain(ctx context.Context) error {
	b.consumersMu.Lock()
	for _, c := range b.consumers {
		_ = c.ch.Cancel(c.tag, false)
	}
	b.consumersMu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close закрывает каналы и соединение.
func (b *Broker) Close() error {
	b.consumersMu.Lock()
	for _, c := range b.consumers {
		_ = c.ch.Close()
	}
	b.consumers = nil
	b.consumersMu.Unlock()

	var errs []error
	if b.pub != nil {
		if err := b.pub.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
