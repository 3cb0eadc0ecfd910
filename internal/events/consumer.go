package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ignatzorin/consult-backend/internal/logger"
	"github.com/ignatzorin/consult-backend/internal/models"
)

// Consumer читает события бронирований и передаёт их получателю (обычно ws.Hub).
type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, groupID, topic string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:           brokers,
			GroupID:           groupID,
			Topic:             topic,
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    30 * time.Second,
		}),
	}
}

// Consume читает сообщения до отмены ctx. Битые сообщения пропускаются.
func (c *Consumer) Consume(ctx context.Context, sink Publisher) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		handleMessage(ctx, msg, sink)
	}
}

func handleMessage(ctx context.Context, msg kafka.Message, sink Publisher) {
	var evt models.LifecycleEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("offset", msg.Offset).Warn("events: не удалось разобрать событие")
		return
	}
	if err := sink.Publish(ctx, evt); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("booking_id", evt.BookingID).Warn("events: не удалось доставить событие")
	}
}

func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
