package signature

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOmiseScheme(t *testing.T) {
	secret := []byte("whsec")
	body := []byte(`{"key":"charge.complete"}`)
	now := time.Unix(1_760_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)

	sig := Omise.Sign(secret, ts, body)
	assert.NoError(t, Omise.Verify(secret, ts, sig, body, 5*time.Minute, now))
	assert.NoError(t, Omise.Verify(secret, ts, "deadbeef, "+sig, body, 5*time.Minute, now), "rotated secrets send several signatures")

	assert.ErrorIs(t, Omise.Verify(secret, ts, sig, []byte(`{}`), 5*time.Minute, now), ErrInvalid)
	assert.ErrorIs(t, Omise.Verify([]byte("other"), ts, sig, body, 5*time.Minute, now), ErrInvalid)
	assert.ErrorIs(t, Omise.Verify(secret, ts, sig, body, 5*time.Minute, now.Add(10*time.Minute)), ErrExpired)
	assert.ErrorIs(t, Omise.Verify(secret, "", sig, body, 0, now), ErrMissing)
}

func TestZoomScheme(t *testing.T) {
	secret := []byte("zoom")
	body := []byte(`{"event":"meeting.participant_joined"}`)
	now := time.Unix(1_760_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)

	sig := Zoom.Sign(secret, ts, body)
	assert.Contains(t, sig, "v0=")
	assert.NoError(t, Zoom.Verify(secret, ts, sig, body, time.Minute, now))
	assert.ErrorIs(t, Zoom.Verify(secret, ts, sig[3:], body, time.Minute, now), ErrInvalid)
}

func TestToken(t *testing.T) {
	a := Token([]byte("zoom"), "plain")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Token([]byte("zoom"), "plain"))
	assert.NotEqual(t, a, Token([]byte("other"), "plain"))
}
