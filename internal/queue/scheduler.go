package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/consult-backend/internal/logger"
)

// Locker захватывает ключ тика, чтобы несколько планировщиков не ставили задачу дважды.
type Locker interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisLocker реализует Locker через SETNX.
type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, "1", ttl).Result()
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	return l.client.Del(ctx, key).Err()
}

type repeatable struct {
	id       string
	job      string
	every    time.Duration
	payload  any
	lastTick int64
}

// Scheduler ставит повторяющиеся задачи по расписанию.
type Scheduler struct {
	enqueuer   Enqueuer
	locker     Locker
	resolution time.Duration
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*repeatable
	order   []string
}

// NewScheduler создаёт планировщик. resolution задаёт, как часто проверяются тики.
func NewScheduler(enqueuer Enqueuer, locker Locker, resolution time.Duration) *Scheduler {
	if resolution <= 0 {
		resolution = 15 * time.Second
	}
	return &Scheduler{
		enqueuer:   enqueuer,
		locker:     locker,
		resolution: resolution,
		now:        time.Now,
		entries:    make(map[string]*repeatable),
	}
}

// Register добавляет повторяющуюся задачу. Повторная регистрация того же id
// ничего не меняет и возвращает false.
func (s *Scheduler) Register(id, job string, every time.Duration, payload any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; exists {
		return false
	}
	s.entries[id] = &repeatable{id: id, job: job, every: every, payload: payload, lastTick: -1}
	s.order = append(s.order, id)
	return true
}

// Run проверяет тики до отмены ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	s.fire(ctx)

	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

// fire ставит задачи, у которых начался новый тик.
func (s *Scheduler) fire(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	type dueEntry struct {
		e    *repeatable
		tick int64
	}
	due := make([]dueEntry, 0, len(s.order))
	for _, id := range s.order {
		e := s.entries[id]
		tick := now.UnixNano() / int64(e.every)
		if tick == e.lastTick {
			continue
		}
		due = append(due, dueEntry{e: e, tick: tick})
	}
	s.mu.Unlock()

	for _, d := range due {
		if !s.fireOne(ctx, d.e, d.tick) {
			// тик остаётся открытым, следующая проверка попробует снова
			continue
		}
		s.mu.Lock()
		d.e.lastTick = d.tick
		s.mu.Unlock()
	}
}

// fireOne сообщает, обработан ли тик: задача поставлена здесь или другим процессом.
func (s *Scheduler) fireOne(ctx context.Context, e *repeatable, tick int64) bool {
	log := logger.FromContext(ctx).WithFields(logrus.Fields{
		"repeat_id": e.id,
		"job":       e.job,
		"tick":      tick,
	})

	key := fmt.Sprintf("repeat:%s:%d", e.id, tick)
	ok, err := s.locker.Claim(ctx, key, 2*e.every)
	if err != nil {
		log.WithError(err).Error("scheduler: не удалось захватить тик")
		return false
	}
	if !ok {
		log.Debug("scheduler: тик уже занят другим процессом")
		return true
	}
	if err := s.enqueuer.Enqueue(ctx, e.job, e.payload); err != nil {
		log.WithError(err).Error("scheduler: не удалось поставить задачу")
		if rerr := s.locker.Release(ctx, key); rerr != nil {
			log.WithError(rerr).Warn("scheduler: не удалось освободить тик")
		}
		return false
	}
	log.Info("scheduler: повторяющаяся задача поставлена")
	return true
}
