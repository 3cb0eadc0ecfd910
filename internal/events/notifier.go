package events

import (
	"context"
	"errors"

	"github.com/ignatzorin/consult-backend/internal/models"
)

// Nop отбрасывает события. Используется, когда Kafka не настроена и некому доставлять.
type Nop struct{}

func (Nop) Publish(context.Context, models.LifecycleEvent) error { return nil }

type Publisher interface {
	Publish(ctx context.Context, evt models.LifecycleEvent) error
}

// Fanout публикует событие во все получатели и собирает ошибки.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evt models.LifecycleEvent) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
