package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/consult-backend/internal/models"
)

func receive(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case raw := <-c.send:
		var msg map[string]any
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
		return nil
	}
}

func TestHub_PublishReachesBothParticipants(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	candidate := &Client{hub: hub, userID: uuid.New(), send: make(chan []byte, 4)}
	professional := &Client{hub: hub, userID: uuid.New(), send: make(chan []byte, 4)}
	hub.Register(candidate)
	hub.Register(professional)

	evt := models.LifecycleEvent{
		Type:           "booking.accepted",
		BookingID:      uuid.New(),
		CandidateID:    candidate.userID,
		ProfessionalID: professional.userID,
		Status:         models.BookingStatusAccepted,
		OccurredAt:     time.Now(),
	}
	require.NoError(t, hub.Publish(ctx, evt))

	for _, c := range []*Client{candidate, professional} {
		msg := receive(t, c)
		assert.Equal(t, "booking.accepted", msg["type"])
		data := msg["data"].(map[string]any)
		assert.Equal(t, evt.BookingID.String(), data["booking_id"])
	}
}

func TestHub_UnregisterRemovesClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	c := &Client{hub: hub, userID: uuid.New(), send: make(chan []byte, 1)}
	hub.Register(c)
	assert.Eventually(t, func() bool { return hub.Connected(c.userID) == 1 }, time.Second, 10*time.Millisecond)

	hub.Unregister(c)
	assert.Eventually(t, func() bool { return hub.Connected(c.userID) == 0 }, time.Second, 10*time.Millisecond)
}
