package queue

import (
	"time"

	"github.com/ignatzorin/consult-backend/internal/pkg/apperror"
)

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomeDead
)

// decide определяет судьбу задачи после обработчика. Неповторяемые ошибки
// (конфликт, валидация, не найдено) подтверждаются и отбрасываются.
func decide(err error, attempt, maxAttempts int) outcome {
	if err == nil || !apperror.IsRetryable(err) {
		return outcomeAck
	}
	if attempt >= maxAttempts {
		return outcomeDead
	}
	return outcomeRetry
}

// backoff экспоненциальная задержка base*2^(attempt-1), не больше max.
func backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
