package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/consult-backend/internal/models"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type recordingSink struct {
	events []models.LifecycleEvent
	err    error
}

func (s *recordingSink) Publish(ctx context.Context, evt models.LifecycleEvent) error {
	s.events = append(s.events, evt)
	return s.err
}

func sampleEvent() models.LifecycleEvent {
	return models.LifecycleEvent{
		Type:           "booking.accepted",
		BookingID:      uuid.New(),
		CandidateID:    uuid.New(),
		ProfessionalID: uuid.New(),
		Status:         models.BookingStatusAccepted,
		OccurredAt:     time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestProducer_KeysByBooking(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, topic: "booking-events"}
	evt := sampleEvent()

	require.NoError(t, p.Publish(context.Background(), evt))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, evt.BookingID.String(), string(w.msgs[0].Key))
	assert.Equal(t, "booking.accepted", string(w.msgs[0].Headers[0].Value))

	var decoded models.LifecycleEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, evt.BookingID, decoded.BookingID)
	assert.Equal(t, evt.Status, decoded.Status)
}

func TestProducer_WriteError(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("broker down")}, topic: "t"}
	assert.Error(t, p.Publish(context.Background(), sampleEvent()))
}

func TestHandleMessage_SkipsMalformed(t *testing.T) {
	sink := &recordingSink{}
	handleMessage(context.Background(), kafka.Message{Value: []byte("{")}, sink)
	assert.Empty(t, sink.events)

	raw, err := json.Marshal(sampleEvent())
	require.NoError(t, err)
	handleMessage(context.Background(), kafka.Message{Value: raw}, sink)
	assert.Len(t, sink.events, 1)
}

func TestFanout_CollectsErrors(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("down")}

	err := Fanout{ok, failing, Nop{}}.Publish(context.Background(), sampleEvent())
	assert.Error(t, err)
	assert.Len(t, ok.events, 1)
	assert.Len(t, failing.events, 1)
}
